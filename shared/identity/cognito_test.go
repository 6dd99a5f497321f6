package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go/service/cognitoidentityprovider/cognitoidentityprovideriface"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pavitra93/go-shelter-platform/shared/apperrors"
	"github.com/pavitra93/go-shelter-platform/shared/cache"
	"github.com/pavitra93/go-shelter-platform/shared/models"
	"github.com/pavitra93/go-shelter-platform/shared/telemetry"
)

type mockCognito struct {
	cognitoidentityprovideriface.CognitoIdentityProviderAPI
	mock.Mock
}

func (m *mockCognito) AdminGetUserWithContext(ctx aws.Context, in *cognitoidentityprovider.AdminGetUserInput, _ ...request.Option) (*cognitoidentityprovider.AdminGetUserOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*cognitoidentityprovider.AdminGetUserOutput)
	return out, args.Error(1)
}

func (m *mockCognito) AdminUpdateUserAttributesWithContext(ctx aws.Context, in *cognitoidentityprovider.AdminUpdateUserAttributesInput, _ ...request.Option) (*cognitoidentityprovider.AdminUpdateUserAttributesOutput, error) {
	args := m.Called(ctx, in)
	return &cognitoidentityprovider.AdminUpdateUserAttributesOutput{}, args.Error(0)
}

func (m *mockCognito) AdminDeleteUserAttributesWithContext(ctx aws.Context, in *cognitoidentityprovider.AdminDeleteUserAttributesInput, _ ...request.Option) (*cognitoidentityprovider.AdminDeleteUserAttributesOutput, error) {
	args := m.Called(ctx, in)
	return &cognitoidentityprovider.AdminDeleteUserAttributesOutput{}, args.Error(0)
}

type keyServer struct {
	key     *rsa.PrivateKey
	kid     string
	fetches int32
	server  *httptest.Server
}

func newKeyServer(t *testing.T) *keyServer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ks := &keyServer{key: key, kid: "test-key"}
	ks.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&ks.fetches, 1)
		_ = json.NewEncoder(w).Encode(JWKS{Keys: []JWK{{
			Kid: ks.kid,
			Kty: "RSA",
			Alg: "RS256",
			Use: "sig",
			N:   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		}}})
	}))
	t.Cleanup(ks.server.Close)
	return ks
}

func (ks *keyServer) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = ks.kid
	s, err := token.SignedString(ks.key)
	require.NoError(t, err)
	return s
}

func baseClaims(sub string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":       sub,
		"email":     sub + "@example.org",
		"token_use": "id",
		"exp":       time.Now().Add(30 * time.Minute).Unix(),
	}
}

func newProvider(ks *keyServer, client cognitoidentityprovideriface.CognitoIdentityProviderAPI, c cache.Cache) *CognitoProvider {
	return NewCognitoProvider(CognitoConfig{UserPoolID: "pool", JWKSURL: ks.server.URL}, nil, client, c, nil, telemetry.Noop(), nil)
}

func TestVerifyToken_ReadsRoleAndScopeClaims(t *testing.T) {
	ks := newKeyServer(t)
	p := newProvider(ks, nil, nil)

	claims := baseClaims("u-1")
	claims["custom:role"] = "admin"
	claims["custom:tenant_id"] = "T1"
	claims["custom:shelter_id"] = "S1"

	id, err := p.VerifyToken(context.Background(), ks.sign(t, claims))
	require.NoError(t, err)
	assert.Equal(t, &models.Identity{ID: "u-1", Email: "u-1@example.org", Role: models.RoleAdmin, TenantID: "T1", ShelterID: "S1"}, id)

	plain := baseClaims("u-2")
	plain["role"] = "donor"
	plain["tenant_id"] = "T9"
	id, err = p.VerifyToken(context.Background(), ks.sign(t, plain))
	require.NoError(t, err)
	assert.Equal(t, models.RoleDonor, id.Role)
	assert.Equal(t, "T9", id.TenantID)
}

func TestVerifyToken_Rejects(t *testing.T) {
	ks := newKeyServer(t)
	p := newProvider(ks, nil, nil)
	ctx := context.Background()

	expired := baseClaims("u-1")
	expired["custom:role"] = "admin"
	expired["exp"] = time.Now().Add(-time.Minute).Unix()

	noExp := baseClaims("u-1")
	noExp["custom:role"] = "admin"
	delete(noExp, "exp")

	wrongUse := baseClaims("u-1")
	wrongUse["custom:role"] = "admin"
	wrongUse["token_use"] = "refresh"

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	forged := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "u-1", "custom:role": "super_admin", "exp": time.Now().Add(time.Hour).Unix()})
	forged.Header["kid"] = ks.kid
	forgedToken, err := forged.SignedString(otherKey)
	require.NoError(t, err)

	hmac := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u-1", "custom:role": "super_admin", "exp": time.Now().Add(time.Hour).Unix()})
	hmac.Header["kid"] = ks.kid
	hmacToken, err := hmac.SignedString([]byte("secret"))
	require.NoError(t, err)

	cases := map[string]string{
		"empty":          "",
		"garbage":        "not-a-jwt",
		"expired":        ks.sign(t, expired),
		"no expiry":      ks.sign(t, noExp),
		"refresh token":  ks.sign(t, wrongUse),
		"wrong key":      forgedToken,
		"hmac algorithm": hmacToken,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := p.VerifyToken(ctx, token)
			assert.ErrorIs(t, err, apperrors.ErrAuth)
		})
	}
}

func TestVerifyToken_FillsMissingClaimsFromUserPool(t *testing.T) {
	ks := newKeyServer(t)
	client := &mockCognito{}
	client.On("AdminGetUserWithContext", mock.Anything, mock.MatchedBy(func(in *cognitoidentityprovider.AdminGetUserInput) bool {
		return aws.StringValue(in.Username) == "alice" && aws.StringValue(in.UserPoolId) == "pool"
	})).Return(&cognitoidentityprovider.AdminGetUserOutput{
		UserAttributes: []*cognitoidentityprovider.AttributeType{
			{Name: aws.String("custom:role"), Value: aws.String("participant")},
			{Name: aws.String("custom:shelter_id"), Value: aws.String("S4")},
			{Name: aws.String("custom:tenant_id"), Value: aws.String("T2")},
		},
	}, nil).Once()
	p := newProvider(ks, client, nil)

	claims := baseClaims("u-3")
	claims["token_use"] = "access"
	claims["cognito:username"] = "alice"

	id, err := p.VerifyToken(context.Background(), ks.sign(t, claims))
	require.NoError(t, err)
	assert.Equal(t, models.RoleParticipant, id.Role)
	assert.Equal(t, "S4", id.ShelterID)
	assert.Equal(t, "T2", id.TenantID)
	client.AssertExpectations(t)
}

func TestVerifyToken_NeverAssumesARole(t *testing.T) {
	ks := newKeyServer(t)
	client := &mockCognito{}
	client.On("AdminGetUserWithContext", mock.Anything, mock.Anything).
		Return(&cognitoidentityprovider.AdminGetUserOutput{}, nil)
	p := newProvider(ks, client, nil)

	_, err := p.VerifyToken(context.Background(), ks.sign(t, baseClaims("u-4")))
	assert.ErrorIs(t, err, apperrors.ErrAuth)

	client = &mockCognito{}
	client.On("AdminGetUserWithContext", mock.Anything, mock.Anything).
		Return(nil, errors.New("RequestError: send request failed"))
	p = newProvider(ks, client, nil)

	_, err = p.VerifyToken(context.Background(), ks.sign(t, baseClaims("u-4")))
	assert.ErrorIs(t, err, apperrors.ErrAuth)
}

func TestVerifyToken_SuperRoleNeedsNoScopeLookup(t *testing.T) {
	ks := newKeyServer(t)
	client := &mockCognito{}
	p := newProvider(ks, client, nil)

	claims := baseClaims("root")
	claims["custom:role"] = "super_admin"
	id, err := p.VerifyToken(context.Background(), ks.sign(t, claims))
	require.NoError(t, err)
	assert.Equal(t, models.RoleSuperAdmin, id.Role)
	client.AssertNotCalled(t, "AdminGetUserWithContext", mock.Anything, mock.Anything)
}

func TestVerifyToken_CachesUntilExpiry(t *testing.T) {
	ks := newKeyServer(t)
	now := time.Now()
	c := cache.NewMemory(time.Hour, cache.WithClock(func() time.Time { return now }))
	p := newProvider(ks, nil, c)

	claims := baseClaims("u-5")
	claims["custom:role"] = "donor"
	claims["custom:tenant_id"] = "T1"
	claims["exp"] = now.Add(10 * time.Minute).Unix()
	token := ks.sign(t, claims)

	_, err := p.VerifyToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())

	// a cached identity is served without touching the key server again
	ks.server.Close()
	id, err := p.VerifyToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u-5", id.ID)

	now = now.Add(11 * time.Minute)
	var cached models.Identity
	ok, err := c.Get(context.Background(), cache.HashKey("identity", token), &cached)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeySet_RefreshesOnUnknownKid(t *testing.T) {
	ks := newKeyServer(t)
	keys := NewKeySet(ks.server.URL, nil)
	ctx := context.Background()

	_, err := keys.Key(ctx, ks.kid)
	require.NoError(t, err)
	_, err = keys.Key(ctx, ks.kid)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ks.fetches))

	_, err = keys.Key(ctx, "rotated")
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ks.fetches), "refresh is rate limited")

	current := time.Now().Add(2 * time.Minute)
	keys.now = func() time.Time { return current }
	_, err = keys.Key(ctx, "rotated")
	assert.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&ks.fetches))
}

func TestOnIdentityChange(t *testing.T) {
	ks := newKeyServer(t)
	client := &mockCognito{}
	client.On("AdminUpdateUserAttributesWithContext", mock.Anything, mock.MatchedBy(func(in *cognitoidentityprovider.AdminUpdateUserAttributesInput) bool {
		return aws.StringValue(in.Username) == "u-6" && len(in.UserAttributes) == 2
	})).Return(nil).Once()
	client.On("AdminDeleteUserAttributesWithContext", mock.Anything, mock.MatchedBy(func(in *cognitoidentityprovider.AdminDeleteUserAttributesInput) bool {
		return len(in.UserAttributeNames) == 1 && aws.StringValue(in.UserAttributeNames[0]) == "custom:shelter_id"
	})).Return(nil).Once()

	c := cache.NewMemory(time.Hour)
	p := newProvider(ks, client, c)

	var changes [][2]*models.Identity
	unsubscribe := p.OnIdentityChange(func(prev, cur *models.Identity) {
		changes = append(changes, [2]*models.Identity{prev, cur})
	})

	claims := baseClaims("u-6")
	claims["custom:role"] = "participant"
	claims["custom:tenant_id"] = "T1"
	claims["custom:shelter_id"] = "S1"
	token := ks.sign(t, claims)

	_, err := p.VerifyToken(context.Background(), token)
	require.NoError(t, err)
	_, err = p.VerifyToken(context.Background(), token)
	require.NoError(t, err)
	assert.Empty(t, changes, "first sighting and repeats are not changes")

	require.NoError(t, p.UpdateAttributes(context.Background(), "u-6", models.RoleAdmin, "T1", ""))
	require.Len(t, changes, 1)
	assert.Equal(t, models.RoleParticipant, changes[0][0].Role)
	assert.Equal(t, models.RoleAdmin, changes[0][1].Role)
	assert.Equal(t, 0, c.Len(), "identity cache dropped after a grant change")

	claims["custom:role"] = "admin"
	delete(claims, "custom:shelter_id")
	_, err = p.VerifyToken(context.Background(), ks.sign(t, claims))
	require.NoError(t, err)
	assert.Len(t, changes, 1, "verifying the pushed grant is not a new change")

	unsubscribe()
	unsubscribe()
	claims["custom:role"] = "donor"
	_, err = p.VerifyToken(context.Background(), ks.sign(t, claims))
	require.NoError(t, err)
	assert.Len(t, changes, 1)
	client.AssertExpectations(t)
}

func TestUpdateAttributes_Errors(t *testing.T) {
	ks := newKeyServer(t)
	client := &mockCognito{}
	client.On("AdminUpdateUserAttributesWithContext", mock.Anything, mock.Anything).Return(errors.New("throttled"))
	p := newProvider(ks, client, nil)

	err := p.UpdateAttributes(context.Background(), "u-7", "janitor", "", "")
	assert.ErrorIs(t, err, apperrors.ErrUnknownRole)

	err = p.UpdateAttributes(context.Background(), "u-7", models.RoleDonor, "T1", "S1")
	assert.ErrorIs(t, err, apperrors.ErrStorageUnavailable)
}

func TestObservers_BoundedBySubjects(t *testing.T) {
	o := newObservers(2)
	var changes int
	o.subscribe(func(prev, cur *models.Identity) { changes++ })

	participant := func(id string, role models.Role) *models.Identity {
		return &models.Identity{ID: id, Role: role, TenantID: "T1"}
	}
	o.observe(participant("u-1", models.RoleParticipant), false)
	o.observe(participant("u-2", models.RoleParticipant), false)
	o.observe(participant("u-3", models.RoleParticipant), false)
	assert.Equal(t, 2, o.last.Len())

	assert.False(t, o.observe(participant("u-1", models.RoleAdmin), false), "evicted subject counts as unseen")
	assert.True(t, o.observe(participant("u-3", models.RoleAdmin), false))
	assert.Equal(t, 1, changes)
	assert.Equal(t, 2, o.last.Len())
}
