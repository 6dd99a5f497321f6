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
	m := telemetry.New(prometheus.DefaultRegisterer)

	// Initialize database
	db, err := config.ConnectDatabase(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	provider, closeCache, err := cfg.NewIdentityProvider(context.Background(), m)
	if err != nil {
		log.Fatal("Failed to initialize identity provider:", err)
	}
	defer closeCache()

	logger := logrus.WithField("service", "tenant")
	accessor := store.NewAccessor(db, cfg.NewBreaker("store"), m, logger)
	router := setupRouter(middleware.NewAuthMiddleware(provider, logger), accessor, logger)

	port := config.Port("TENANT_SERVICE_PORT", "8002")
	logger.Infof("Tenant service starting on port %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Failed to start tenant service:", err)
	}
}
