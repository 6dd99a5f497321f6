package identity

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go/service/cognitoidentityprovider/cognitoidentityprovideriface"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-shelter-platform/shared/access"
	"github.com/pavitra93/go-shelter-platform/shared/apperrors"
	"github.com/pavitra93/go-shelter-platform/shared/cache"
	"github.com/pavitra93/go-shelter-platform/shared/models"
	"github.com/pavitra93/go-shelter-platform/shared/telemetry"
	"github.com/pavitra93/go-shelter-platform/shared/utils"
)

const (
	attrRole     = "custom:role"
	attrTenant   = "custom:tenant_id"
	attrShelter  = "custom:shelter_id"
	attrEmail    = "email"
	maxCacheTime = time.Hour
)

// CognitoConfig configures token verification for one user pool
type CognitoConfig struct {
	UserPoolID string
	JWKSURL    string
	// Issuer is checked when set
	Issuer string
}

// CognitoProvider verifies Cognito-issued JWTs against the pool's JWKS.
// Role and scope claims missing from the token are read from the user
// record through AdminGetUser; a role is never assumed.
type CognitoProvider struct {
	cfg     CognitoConfig
	keys    *KeySet
	client  cognitoidentityprovideriface.CognitoIdentityProviderAPI
	cache   cache.Cache
	breaker *utils.CircuitBreaker
	metrics *telemetry.Metrics
	log     logrus.FieldLogger
	now     func() time.Time

	observers *observers
}

// NewCognitoClient creates the Cognito admin API client
func NewCognitoClient(region string) (cognitoidentityprovideriface.CognitoIdentityProviderAPI, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, err
	}
	return cognitoidentityprovider.New(sess), nil
}

// NewCognitoProvider builds a provider. keys defaults to a KeySet on
// cfg.JWKSURL; a nil cache disables identity caching.
func NewCognitoProvider(cfg CognitoConfig, keys *KeySet, client cognitoidentityprovideriface.CognitoIdentityProviderAPI,
	c cache.Cache, breaker *utils.CircuitBreaker, m *telemetry.Metrics, log logrus.FieldLogger) *CognitoProvider {
	if keys == nil {
		keys = NewKeySet(cfg.JWKSURL, nil)
	}
	if breaker == nil {
		breaker = utils.NewCircuitBreaker("identity", 5, 30*time.Second)
	}
	if m == nil {
		m = telemetry.Noop()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &CognitoProvider{
		cfg:       cfg,
		keys:      keys,
		client:    client,
		cache:     c,
		breaker:   breaker,
		metrics:   m,
		log:       log,
		now:       time.Now,
		observers: newObservers(maxTrackedSubjects),
	}
}

// VerifyToken validates the signature and expiry of token and returns the
// identity it carries
func (p *CognitoProvider) VerifyToken(ctx context.Context, token string) (*models.Identity, error) {
	if token == "" {
		return nil, apperrors.New(apperrors.KindAuth, "authorization token required")
	}

	key := cache.HashKey("identity", token)
	if p.cache != nil {
		var cached models.Identity
		if ok, err := p.cache.Get(ctx, key, &cached); err == nil && ok {
			p.metrics.CacheLookups.WithLabelValues("hit").Inc()
			return &cached, nil
		}
		p.metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	var opts []jwt.ParserOption
	if p.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.cfg.Issuer))
	}
	claims, err := p.keys.Parse(ctx, token, opts...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindAuth, "invalid token")
	}

	if use := claimString(claims, "token_use"); use != "" && use != "id" && use != "access" {
		return nil, apperrors.New(apperrors.KindAuth, "invalid token use %q", use)
	}

	identity := &models.Identity{
		ID:        claimString(claims, "sub"),
		Email:     claimString(claims, attrEmail),
		Role:      models.Role(firstClaim(claims, attrRole, "role")),
		TenantID:  firstClaim(claims, attrTenant, "tenant_id"),
		ShelterID: firstClaim(claims, attrShelter, "shelter_id"),
	}
	if identity.ID == "" {
		return nil, apperrors.New(apperrors.KindAuth, "token has no subject")
	}

	if identity.Role == "" || (!access.IsSuper(identity.Role) && identity.TenantID == "" && identity.ShelterID == "") {
		username := firstClaim(claims, "cognito:username", "username")
		if username == "" {
			username = identity.ID
		}
		if err := p.fillFromUserPool(ctx, username, identity); err != nil {
			return nil, err
		}
	}
	if identity.Role == "" {
		return nil, apperrors.New(apperrors.KindAuth, "no role assigned to %s", identity.ID)
	}

	if p.cache != nil {
		if ttl := p.cacheTTL(claims); ttl > 0 {
			if err := p.cache.SetWithTTL(ctx, key, identity, ttl); err != nil {
				p.log.WithError(err).Warn("Failed to cache verified identity")
			}
		}
	}

	if p.observers.observe(identity, false) {
		p.metrics.IdentityChanges.Inc()
	}
	return identity, nil
}

// OnIdentityChange registers fn for grant changes
func (p *CognitoProvider) OnIdentityChange(fn ChangeFunc) func() {
	return p.observers.subscribe(fn)
}

// UpdateAttributes writes a subject's role and scope to the user pool.
// Empty tenant or shelter ids remove the attribute. Cached identities are
// dropped so the next verification reads the new grant.
func (p *CognitoProvider) UpdateAttributes(ctx context.Context, subject string, role models.Role, tenantID, shelterID string) error {
	if !role.Valid() {
		return apperrors.New(apperrors.KindUnknownRole, "unrecognised role %q", role)
	}
	if p.client == nil {
		return apperrors.New(apperrors.KindStorageUnavailable, "identity admin API not configured")
	}

	set := []*cognitoidentityprovider.AttributeType{
		{Name: aws.String(attrRole), Value: aws.String(string(role))},
	}
	var remove []*string
	for name, value := range map[string]string{attrTenant: tenantID, attrShelter: shelterID} {
		if value == "" {
			remove = append(remove, aws.String(name))
			continue
		}
		set = append(set, &cognitoidentityprovider.AttributeType{Name: aws.String(name), Value: aws.String(value)})
	}

	err := p.breaker.Call(func() error {
		if _, err := p.client.AdminUpdateUserAttributesWithContext(ctx, &cognitoidentityprovider.AdminUpdateUserAttributesInput{
			UserPoolId:     aws.String(p.cfg.UserPoolID),
			Username:       aws.String(subject),
			UserAttributes: set,
		}); err != nil {
			return err
		}
		if len(remove) == 0 {
			return nil
		}
		_, err := p.client.AdminDeleteUserAttributesWithContext(ctx, &cognitoidentityprovider.AdminDeleteUserAttributesInput{
			UserPoolId:         aws.String(p.cfg.UserPoolID),
			Username:           aws.String(subject),
			UserAttributeNames: remove,
		})
		return err
	})
	if err != nil {
		p.log.WithError(err).WithField("subject", subject).Error("Failed to update identity attributes")
		return apperrors.Wrap(err, apperrors.KindStorageUnavailable, "identity provider unavailable")
	}

	if p.cache != nil {
		if err := p.cache.InvalidateAll(ctx); err != nil {
			p.log.WithError(err).Warn("Failed to invalidate identity cache")
		}
	}
	if p.observers.observe(&models.Identity{ID: subject, Role: role, TenantID: tenantID, ShelterID: shelterID}, true) {
		p.metrics.IdentityChanges.Inc()
	}
	return nil
}

// fillFromUserPool copies attributes missing from the token out of the
// user record
func (p *CognitoProvider) fillFromUserPool(ctx context.Context, username string, identity *models.Identity) error {
	if p.client == nil {
		return nil
	}
	var out *cognitoidentityprovider.AdminGetUserOutput
	err := p.breaker.Call(func() error {
		var err error
		out, err = p.client.AdminGetUserWithContext(ctx, &cognitoidentityprovider.AdminGetUserInput{
			UserPoolId: aws.String(p.cfg.UserPoolID),
			Username:   aws.String(username),
		})
		return err
	})
	if err != nil {
		p.log.WithError(err).WithField("user_id", identity.ID).Warn("Failed to read user attributes")
		return apperrors.Wrap(err, apperrors.KindAuth, "failed to get user from identity provider")
	}

	for _, attr := range out.UserAttributes {
		if attr == nil || attr.Name == nil || attr.Value == nil {
			continue
		}
		switch *attr.Name {
		case attrRole:
			if identity.Role == "" {
				identity.Role = models.Role(*attr.Value)
			}
		case attrTenant:
			if identity.TenantID == "" {
				identity.TenantID = *attr.Value
			}
		case attrShelter:
			if identity.ShelterID == "" {
				identity.ShelterID = *attr.Value
			}
		case attrEmail:
			if identity.Email == "" {
				identity.Email = *attr.Value
			}
		}
	}
	return nil
}

// cacheTTL is the time left on the token, capped at an hour
func (p *CognitoProvider) cacheTTL(claims jwt.MapClaims) time.Duration {
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0
	}
	ttl := exp.Sub(p.now())
	if ttl > maxCacheTime {
		ttl = maxCacheTime
	}
	return ttl
}

func claimString(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

func firstClaim(claims jwt.MapClaims, keys ...string) string {
	for _, k := range keys {
		if v := claimString(claims, k); v != "" {
			return v
		}
	}
	return ""
}
