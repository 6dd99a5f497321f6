// Package testutil provides fixtures shared by service tests
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pavitra93/go-shelter-platform/shared/apperrors"
	"github.com/pavitra93/go-shelter-platform/shared/config"
	"github.com/pavitra93/go-shelter-platform/shared/identity"
	"github.com/pavitra93/go-shelter-platform/shared/models"
	"github.com/pavitra93/go-shelter-platform/shared/utils"
)

// Tokens is an identity.Provider that knows a fixed set of bearer tokens
type Tokens map[string]*models.Identity

var _ identity.Provider = Tokens(nil)

func (t Tokens) VerifyToken(_ context.Context, token string) (*models.Identity, error) {
	if id, ok := t[token]; ok {
		return id, nil
	}
	return nil, apperrors.New(apperrors.KindAuth, "invalid token")
}

func (t Tokens) OnIdentityChange(identity.ChangeFunc) func() { return func() {} }

// OpenDB returns a migrated in-memory sqlite database closed with the test
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// one connection keeps every statement on the same in-memory database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, config.Migrate(db))
	return db
}

// Seed inserts every value, failing the test on the first error
func Seed(t *testing.T, db *gorm.DB, values ...interface{}) {
	t.Helper()
	for _, v := range values {
		require.NoError(t, db.Create(v).Error)
	}
}

// Do sends a JSON request with an optional bearer token
func Do(router *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// Decode reads the response envelope, unmarshalling its data into data
func Decode(t *testing.T, w *httptest.ResponseRecorder, data interface{}) utils.APIResponse {
	t.Helper()
	resp := utils.APIResponse{Data: data}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}
