package config

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavitra93/go-shelter-platform/shared/cache"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CACHE_TTL", "")
	t.Setenv("COGNITO_USER_POOL_ID", "us-east-1_pool")
	t.Setenv("AWS_REGION", "us-east-1")
	t.Setenv("JWKS_URL", "")

	cfg := Load()

	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 5, cfg.BreakerMaxFailures)
	assert.Equal(t, 30*time.Second, cfg.BreakerReset)
	assert.Equal(t, "https://cognito-idp.us-east-1.amazonaws.com/us-east-1_pool/.well-known/jwks.json", cfg.JWKSURL)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CACHE_TTL", "90s")
	t.Setenv("BREAKER_MAX_FAILURES", "not-a-number")
	t.Setenv("JWKS_URL", "http://keys.local/jwks.json")
	t.Setenv("DB_NAME", "shelters_test")

	cfg := Load()

	assert.Equal(t, 90*time.Second, cfg.CacheTTL)
	assert.Equal(t, 5, cfg.BreakerMaxFailures)
	assert.Equal(t, "http://keys.local/jwks.json", cfg.JWKSURL)
	assert.Contains(t, cfg.Database.GetDSN(), "dbname=shelters_test")
}

func TestSetupLogging(t *testing.T) {
	defer logrus.SetLevel(logrus.GetLevel())
	defer logrus.SetFormatter(logrus.StandardLogger().Formatter)

	cfg := &Config{LogLevel: "debug", LogFormat: "json"}
	cfg.SetupLogging()

	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	_, isJSON := logrus.StandardLogger().Formatter.(*logrus.JSONFormatter)
	assert.True(t, isJSON)
}

func TestNewCache(t *testing.T) {
	mr := miniredis.RunT(t)
	host, port, err := net.SplitHostPort(mr.Addr())
	require.NoError(t, err)

	cfg := &Config{CacheBackend: "redis", CacheTTL: time.Minute, Redis: RedisConfig{Host: host, Port: port}}
	c, closeFn := cfg.NewCache(context.Background(), "analytics")
	defer closeFn()
	_, isRedis := c.(*cache.Redis)
	require.True(t, isRedis)

	cfg = &Config{CacheBackend: "redis", CacheTTL: time.Minute, Redis: RedisConfig{Host: "127.0.0.1", Port: "1"}}
	c, closeFn = cfg.NewCache(context.Background(), "analytics")
	defer closeFn()
	_, isMemory := c.(*cache.Memory)
	assert.True(t, isMemory)
}
