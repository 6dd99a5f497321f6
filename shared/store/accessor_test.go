package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pavitra93/go-shelter-platform/shared/access"
	"github.com/pavitra93/go-shelter-platform/shared/apperrors"
	"github.com/pavitra93/go-shelter-platform/shared/config"
	"github.com/pavitra93/go-shelter-platform/shared/models"
	"github.com/pavitra93/go-shelter-platform/shared/telemetry"
	"github.com/pavitra93/go-shelter-platform/shared/utils"
)

var (
	shelterAdmin = &models.Identity{ID: "admin-s1", Role: models.RoleAdmin, TenantID: "T1", ShelterID: "S1"}
	tenantAdmin  = &models.Identity{ID: "admin-t1", Role: models.RoleAdmin, TenantID: "T1"}
	superAdmin   = &models.Identity{ID: "root", Role: models.RoleSuperAdmin}
	unboundDonor = &models.Identity{ID: "donor-1", Role: models.RoleDonor}
)

func donation(id, tenant, shelter, participant string, total int64) *models.DonationRecord {
	return &models.DonationRecord{
		ID:            id,
		TenantID:      tenant,
		ShelterID:     shelter,
		ParticipantID: participant,
		Amount:        models.Amount{Total: decimal.NewFromInt(total), Currency: "USD"},
		Status:        models.DonationCompleted,
	}
}

func setupSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, config.Migrate(db))

	require.NoError(t, db.Create([]models.Tenant{
		{ID: "T1", Name: "Harbor House", Status: models.StatusActive},
		{ID: "T2", Name: "North Shelter Group", Status: models.StatusActive},
	}).Error)
	require.NoError(t, db.Create([]models.Shelter{
		{ID: "S1", TenantID: "T1", Name: "Harbor East", Status: models.StatusActive},
		{ID: "S2", TenantID: "T1", Name: "Harbor West", Status: models.StatusActive},
		{ID: "S3", TenantID: "T2", Name: "North One", Status: models.StatusActive},
	}).Error)
	for _, d := range []*models.DonationRecord{
		donation("d1", "T1", "S1", "P1", 40),
		donation("d2", "T1", "S2", "P2", 60),
		donation("d3", "T2", "S3", "P3", 10),
	} {
		require.NoError(t, db.Create(d).Error)
	}
	require.NoError(t, db.Create([]models.LegacyDonation{
		{ID: "l1", ShelterID: "S1", ParticipantID: "P1", Amount: `25`, Status: "completed"},
		{ID: "l2", ShelterID: "S3", ParticipantID: "P3", Amount: `{"total":5}`, Status: "completed"},
	}).Error)
	return db
}

func ids(records []models.DonationRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func TestQuery_ConfinesCallersToTheirScope(t *testing.T) {
	a := NewAccessor(setupSQLite(t), nil, telemetry.Noop(), nil)
	ctx := context.Background()

	t.Run("shelter admin sees own shelter", func(t *testing.T) {
		var got []models.DonationRecord
		require.NoError(t, a.Query(ctx, shelterAdmin, Donations, access.Scope{}, &got))
		assert.Equal(t, []string{"d1"}, ids(got))
	})

	t.Run("tenant admin sees every shelter of the tenant", func(t *testing.T) {
		var got []models.DonationRecord
		require.NoError(t, a.Query(ctx, tenantAdmin, Donations, access.Scope{}, &got, OrderBy("id")))
		assert.Equal(t, []string{"d1", "d2"}, ids(got))
	})

	t.Run("foreign shelter through own tenant yields nothing", func(t *testing.T) {
		var got []models.DonationRecord
		require.NoError(t, a.Query(ctx, tenantAdmin, Donations, access.ForShelter("S3"), &got))
		assert.Empty(t, got)
	})

	t.Run("super admin sees the platform", func(t *testing.T) {
		var got []models.DonationRecord
		require.NoError(t, a.Query(ctx, superAdmin, Donations, access.Scope{}, &got, OrderBy("id")))
		assert.Equal(t, []string{"d1", "d2", "d3"}, ids(got))

		got = nil
		require.NoError(t, a.Query(ctx, superAdmin, Donations, access.ForTenant("T2"), &got))
		assert.Equal(t, []string{"d3"}, ids(got))
	})

	t.Run("predicates narrow inside the scope", func(t *testing.T) {
		var got []models.DonationRecord
		require.NoError(t, a.Query(ctx, tenantAdmin, Donations, access.Scope{}, &got, Where("participant_id = ?", "P3")))
		assert.Empty(t, got)
	})
}

func TestQuery_LegacyCollectionScopedThroughShelters(t *testing.T) {
	a := NewAccessor(setupSQLite(t), nil, telemetry.Noop(), nil)

	var got []models.LegacyDonation
	require.NoError(t, a.Query(context.Background(), tenantAdmin, LegacyDonations, access.Scope{}, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "l1", got[0].ID)
}

func TestQuery_ShelterAliasesFollowTheCanonicalShelter(t *testing.T) {
	db := setupSQLite(t)
	require.NoError(t, db.Create(&models.EntityAlias{Kind: models.AliasShelter, Alias: "old-S1", CanonicalID: "S1"}).Error)
	require.NoError(t, db.Create(&models.LegacyDonation{ID: "lx", ShelterID: "old-S1", ParticipantID: "P1", Amount: `40`, Status: "completed"}).Error)
	a := NewAccessor(db, nil, telemetry.Noop(), nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		caller *models.Identity
		scope  access.Scope
		want   []string
	}{
		{"shelter admin", shelterAdmin, access.Scope{}, []string{"l1", "lx"}},
		{"tenant admin", tenantAdmin, access.Scope{}, []string{"l1", "lx"}},
		{"super on the shelter", superAdmin, access.ForShelter("S1"), []string{"l1", "lx"}},
		{"sibling shelter", superAdmin, access.ForShelter("S2"), nil},
		{"other tenant", superAdmin, access.ForTenant("T2"), []string{"l2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []models.LegacyDonation
			require.NoError(t, a.Query(ctx, tt.caller, LegacyDonations, tt.scope, &got, OrderBy("id")))
			var gotIDs []string
			for _, d := range got {
				gotIDs = append(gotIDs, d.ID)
			}
			assert.Equal(t, tt.want, gotIDs)
		})
	}
}

func TestQuery_TenantsVisibleFromShelterScope(t *testing.T) {
	a := NewAccessor(setupSQLite(t), nil, telemetry.Noop(), nil)

	var got []models.Tenant
	require.NoError(t, a.Query(context.Background(), shelterAdmin, Tenants, access.Scope{}, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "T1", got[0].ID)
}

func TestQuery_RejectsOutOfScopeRequests(t *testing.T) {
	m := telemetry.Noop()
	a := NewAccessor(setupSQLite(t), nil, m, nil)
	ctx := context.Background()
	var got []models.DonationRecord

	err := a.Query(ctx, shelterAdmin, Donations, access.ForShelter("S2"), &got)
	assert.ErrorIs(t, err, apperrors.ErrScopeViolation)

	err = a.Query(ctx, shelterAdmin, Donations, access.Platform(), &got)
	assert.ErrorIs(t, err, apperrors.ErrScopeViolation)

	err = a.Query(ctx, unboundDonor, Donations, access.Scope{}, &got)
	assert.ErrorIs(t, err, apperrors.ErrScopeViolation)

	err = a.Query(ctx, &models.Identity{ID: "x", Role: "janitor", TenantID: "T1"}, Donations, access.Scope{}, &got)
	assert.ErrorIs(t, err, apperrors.ErrUnknownRole)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.ScopeViolations.WithLabelValues("donations", "query")))
}

func TestGet_OutOfScopeRecordIsNotFound(t *testing.T) {
	a := NewAccessor(setupSQLite(t), nil, telemetry.Noop(), nil)
	ctx := context.Background()

	var d models.DonationRecord
	err := a.Get(ctx, shelterAdmin, Donations, access.Scope{}, "d3", &d)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	require.NoError(t, a.Get(ctx, shelterAdmin, Donations, access.Scope{}, "d1", &d))
	assert.True(t, d.Amount.Total.Equal(decimal.NewFromInt(40)))
}

func TestCreate(t *testing.T) {
	db := setupSQLite(t)
	a := NewAccessor(db, nil, telemetry.Noop(), nil)
	ctx := context.Background()

	err := a.Create(ctx, shelterAdmin, Donations, donation("d9", "T2", "S3", "P3", 5))
	assert.ErrorIs(t, err, apperrors.ErrScopeViolation)

	err = a.Create(ctx, tenantAdmin, Donations, donation("d9", "T1", "S3", "P3", 5))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput, "shelter of another tenant")

	require.NoError(t, a.Create(ctx, shelterAdmin, Donations, donation("d9", "T1", "S1", "P1", 5)))

	var n int64
	require.NoError(t, db.Model(&models.DonationRecord{}).Where("id = ?", "d9").Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestSave_CannotOverwriteForeignRecord(t *testing.T) {
	db := setupSQLite(t)
	a := NewAccessor(db, nil, telemetry.Noop(), nil)
	ctx := context.Background()

	hijack := donation("d3", "T1", "S1", "P1", 1)
	err := a.Save(ctx, shelterAdmin, Donations, "d3", hijack)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	var stored models.DonationRecord
	require.NoError(t, db.First(&stored, "id = ?", "d3").Error)
	assert.Equal(t, "T2", stored.TenantID)

	own := donation("d1", "T1", "S1", "P1", 45)
	own.Status = models.DonationFailed
	require.NoError(t, a.Save(ctx, shelterAdmin, Donations, "d1", own))
	require.NoError(t, db.First(&stored, "id = ?", "d1").Error)
	assert.Equal(t, models.DonationFailed, stored.Status)
}

func TestDeleteAndCount(t *testing.T) {
	db := setupSQLite(t)
	a := NewAccessor(db, nil, telemetry.Noop(), nil)
	ctx := context.Background()

	n, err := a.Count(ctx, superAdmin, Shelters, access.ForTenant("T1"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	err = a.Delete(ctx, tenantAdmin, Shelters, "S3", &models.Shelter{})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	require.NoError(t, a.Delete(ctx, tenantAdmin, Shelters, "S2", &models.Shelter{}))
	n, err = a.Count(ctx, tenantAdmin, Shelters, access.Scope{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestAliasRepository(t *testing.T) {
	db := setupSQLite(t)
	repo := NewAliasRepository(NewAccessor(db, nil, telemetry.Noop(), nil))
	ctx := context.Background()

	err := repo.Put(ctx, tenantAdmin, models.AliasParticipant, "legacy-P1", "P1")
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	require.NoError(t, repo.Put(ctx, superAdmin, models.AliasParticipant, "legacy-P1", "P1"))
	require.NoError(t, repo.Put(ctx, superAdmin, models.AliasParticipant, "legacy-P1", "P1"))
	require.NoError(t, repo.Put(ctx, superAdmin, models.AliasShelter, "old-S1", "S1"))

	table, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "P1", table.Resolve(models.AliasParticipant, "legacy-P1"))
	assert.Equal(t, "S1", table.Resolve(models.AliasShelter, "old-S1"))

	err = repo.Put(ctx, superAdmin, models.AliasShelter, "S1", "old-S1")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestAliasRepository_CollapsesChains(t *testing.T) {
	db := setupSQLite(t)
	repo := NewAliasRepository(NewAccessor(db, nil, telemetry.Noop(), nil))
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, superAdmin, models.AliasShelter, "older-S1", "old-S1"))
	require.NoError(t, repo.Put(ctx, superAdmin, models.AliasShelter, "old-S1", "S1"))
	require.NoError(t, repo.Put(ctx, superAdmin, models.AliasShelter, "oldest-S1", "older-S1"))

	var rows []models.EntityAlias
	require.NoError(t, db.Order("alias").Find(&rows).Error)
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.Equal(t, "S1", row.CanonicalID, row.Alias)
	}
}

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})
	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return gormDB, mock, mockDB
}

func TestRejectedOperationsSendNoStatements(t *testing.T) {
	db, mock, mockDB := setupMockDB(t)
	defer mockDB.Close()
	m := telemetry.Noop()
	a := NewAccessor(db, nil, m, nil)
	ctx := context.Background()

	err := a.Create(ctx, shelterAdmin, Donations, donation("x", "T2", "S3", "P", 1))
	assert.ErrorIs(t, err, apperrors.ErrScopeViolation)

	err = a.Save(ctx, shelterAdmin, Donations, "x", donation("x", "T1", "S2", "P", 1))
	assert.ErrorIs(t, err, apperrors.ErrScopeViolation)

	var got []models.DonationRecord
	err = a.Query(ctx, shelterAdmin, Donations, access.ForTenant("T2"), &got)
	assert.ErrorIs(t, err, apperrors.ErrScopeViolation)

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScopeViolations.WithLabelValues("donations", "create")))
}

func TestQuery_StatementShape(t *testing.T) {
	db, mock, mockDB := setupMockDB(t)
	defer mockDB.Close()
	a := NewAccessor(db, nil, telemetry.Noop(), nil)

	mock.ExpectQuery(`SELECT \* FROM "demo_donations" WHERE \(shelter_id IN \(SELECT id FROM shelters WHERE tenant_id = \$1\) OR shelter_id IN \(SELECT alias FROM entity_aliases WHERE kind = \$2 AND canonical_id IN \(SELECT id FROM shelters WHERE tenant_id = \$3\)\)\)`).
		WithArgs("T1", "shelter", "T1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "shelter_id", "participant_id", "amount", "status", "created_at"}))

	var got []models.LegacyDonation
	require.NoError(t, a.Query(context.Background(), tenantAdmin, LegacyDonations, access.Scope{}, &got))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnreachableStoreFailsOnceWithoutRetry(t *testing.T) {
	db, mock, mockDB := setupMockDB(t)
	defer mockDB.Close()
	m := telemetry.Noop()
	breaker := utils.NewCircuitBreaker("store-test", 1, time.Minute)
	a := NewAccessor(db, breaker, m, nil)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT \* FROM "donations" WHERE tenant_id = \$1`).
		WithArgs("T1").
		WillReturnError(errors.New("dial tcp 10.0.0.5:5432: connect: connection refused"))

	var got []models.DonationRecord
	err := a.Query(ctx, tenantAdmin, Donations, access.Scope{}, &got)
	assert.ErrorIs(t, err, apperrors.ErrStorageUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, utils.StateOpen, breaker.GetState())

	err = a.Query(ctx, tenantAdmin, Donations, access.Scope{}, &got)
	assert.ErrorIs(t, err, apperrors.ErrStorageUnavailable)
	assert.True(t, errors.Is(err, utils.ErrCircuitOpen))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.StorageFailures.WithLabelValues("donations")))
}

func TestNotFoundDoesNotTripBreaker(t *testing.T) {
	breaker := utils.NewCircuitBreaker("store-test", 1, time.Minute)
	a := NewAccessor(setupSQLite(t), breaker, telemetry.Noop(), nil)

	var d models.DonationRecord
	err := a.Get(context.Background(), superAdmin, Donations, access.Scope{}, "missing", &d)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, utils.StateClosed, breaker.GetState())
}
