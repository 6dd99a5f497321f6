package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-shelter-platform/shared/identity"
)

// Config holds the settings shared by every service
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig

	KafkaBroker string
	KafkaTopic  string

	AWSRegion         string
	CognitoUserPoolID string
	JWKSURL           string

	CacheBackend string
	CacheTTL     time.Duration

	BreakerMaxFailures int
	BreakerReset       time.Duration

	LogLevel  string
	LogFormat string
}

// Load reads .env when present and then the process environment
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using environment variables")
	}

	cfg := &Config{
		Database:           GetDatabaseConfig(),
		Redis:              GetRedisConfig(),
		KafkaBroker:        getEnv("KAFKA_BROKER", "localhost:9092"),
		KafkaTopic:         getEnv("KAFKA_DONATION_TOPIC", "donation-events"),
		AWSRegion:          getEnv("AWS_REGION", "us-east-1"),
		CognitoUserPoolID:  getEnv("COGNITO_USER_POOL_ID", ""),
		CacheBackend:       getEnv("CACHE_BACKEND", "memory"),
		CacheTTL:           getDuration("CACHE_TTL", 5*time.Minute),
		BreakerMaxFailures: getInt("BREAKER_MAX_FAILURES", 5),
		BreakerReset:       getDuration("BREAKER_RESET", 30*time.Second),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "text"),
	}
	cfg.JWKSURL = getEnv("JWKS_URL", cognitoJWKSURL(cfg.AWSRegion, cfg.CognitoUserPoolID))
	return cfg
}

// SetupLogging applies the configured level and formatter to the standard logger
func (c *Config) SetupLogging() {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		logrus.Warnf("Unknown LOG_LEVEL %q, using info", c.LogLevel)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if c.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
}

// Port returns the listen port for a service
func Port(key, defaultPort string) string {
	return getEnv(key, defaultPort)
}

// Env exposes getEnv to services that need extra settings
func Env(key, defaultValue string) string {
	return getEnv(key, defaultValue)
}

func cognitoJWKSURL(region, userPoolID string) string {
	if userPoolID == "" {
		return ""
	}
	return identity.CognitoJWKSURL(region, userPoolID)
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		logrus.Warnf("Invalid %s=%q, using %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		logrus.Warnf("Invalid %s=%q, using %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}
