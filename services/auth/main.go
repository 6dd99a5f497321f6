package main

import (
	"context"
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-shelter-platform/shared/config"
	"github.com/pavitra93/go-shelter-platform/shared/middleware"
	"github.com/pavitra93/go-shelter-platform/shared/store"
	"github.com/pavitra93/go-shelter-platform/shared/telemetry"
)

func main() {
	cfg := config.Load()
	cfg.SetupLogging()
	ctx := context.Background()
	m := telemetry.New(prometheus.DefaultRegisterer)

	// Initialize database
	db, err := config.ConnectDatabase(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	provider, closeCache, err := cfg.NewIdentityProvider(ctx, m)
	if err != nil {
		log.Fatal("Failed to initialize identity provider:", err)
	}
	defer closeCache()

	logger := logrus.WithField("service", "auth")
	unsubscribe := provider.OnIdentityChange(logIdentityChanges(logger))
	defer unsubscribe()

	accessor := store.NewAccessor(db, cfg.NewBreaker("store"), m, logger)
	router := setupRouter(middleware.NewAuthMiddleware(provider, logger), accessor, provider, logger)

	port := config.Port("AUTH_SERVICE_PORT", "8001")
	logger.Infof("Auth service starting on port %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Failed to start auth service:", err)
	}
}
