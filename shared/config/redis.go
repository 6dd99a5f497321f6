package config

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-shelter-platform/shared/cache"
)

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// GetRedisConfig returns Redis configuration from environment variables
func GetRedisConfig() RedisConfig {
	return RedisConfig{
		Host:     getEnv("REDIS_HOST", "localhost"),
		Port:     getEnv("REDIS_PORT", "6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getInt("REDIS_DB", 0),
	}
}

// Addr returns host:port
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// ConnectRedis creates a client and pings it
func ConnectRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr(), err)
	}

	logrus.Infof("Connected to Redis at %s", cfg.Addr())
	return client, nil
}

// NewCache builds the cache backend selected by CACHE_BACKEND. A Redis
// connection failure falls back to the in-process cache; the returned
// closer releases whatever was opened.
func (c *Config) NewCache(ctx context.Context, namespace string) (cache.Cache, func() error) {
	if c.CacheBackend == "redis" {
		client, err := ConnectRedis(ctx, c.Redis)
		if err == nil {
			return cache.NewRedis(client, namespace, c.CacheTTL), client.Close
		}
		logrus.WithError(err).Warn("Redis unavailable, using in-memory cache")
	}
	return cache.NewMemory(c.CacheTTL), func() error { return nil }
}
