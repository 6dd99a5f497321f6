package config

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-shelter-platform/shared/identity"
	"github.com/pavitra93/go-shelter-platform/shared/telemetry"
	"github.com/pavitra93/go-shelter-platform/shared/utils"
)

// NewBreaker creates a circuit breaker with the configured limits
func (c *Config) NewBreaker(name string) *utils.CircuitBreaker {
	return utils.NewCircuitBreaker(name, c.BreakerMaxFailures, c.BreakerReset)
}

// NewIdentityProvider builds the Cognito token verifier with its identity
// cache. The returned function releases the cache.
func (c *Config) NewIdentityProvider(ctx context.Context, m *telemetry.Metrics) (*identity.CognitoProvider, func() error, error) {
	client, err := identity.NewCognitoClient(c.AWSRegion)
	if err != nil {
		return nil, nil, err
	}
	if c.JWKSURL == "" {
		logrus.Warn("No JWKS_URL or COGNITO_USER_POOL_ID configured, every token will be rejected")
	}

	cognitoCfg := identity.CognitoConfig{
		UserPoolID: c.CognitoUserPoolID,
		JWKSURL:    c.JWKSURL,
	}
	if c.CognitoUserPoolID != "" {
		cognitoCfg.Issuer = fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", c.AWSRegion, c.CognitoUserPoolID)
	}

	idCache, closeCache := c.NewCache(ctx, "identity")
	provider := identity.NewCognitoProvider(cognitoCfg, nil, client, idCache, c.NewBreaker("identity"), m, logrus.WithField("component", "identity"))
	return provider, closeCache, nil
}
