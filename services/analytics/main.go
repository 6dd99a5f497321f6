package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-shelter-platform/shared/analytics"
	"github.com/pavitra93/go-shelter-platform/shared/config"
	"github.com/pavitra93/go-shelter-platform/shared/events"
	"github.com/pavitra93/go-shelter-platform/shared/middleware"
	"github.com/pavitra93/go-shelter-platform/shared/store"
	"github.com/pavitra93/go-shelter-platform/shared/telemetry"
)

func main() {
	cfg := config.Load()
	cfg.SetupLogging()
	m := telemetry.New(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := config.ConnectDatabase(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	provider, closeIdentityCache, err := cfg.NewIdentityProvider(ctx, m)
	if err != nil {
		log.Fatal("Failed to initialize identity provider:", err)
	}
	defer closeIdentityCache()

	logger := logrus.WithField("service", "analytics")

	summaries, closeSummaries := cfg.NewCache(ctx, "analytics")
	defer closeSummaries()

	accessor := store.NewAccessor(db, cfg.NewBreaker("store"), m, logger)
	svc := analytics.NewService(accessor, store.NewAliasRepository(accessor), summaries, m, logger)

	// Start Kafka consumer for cache invalidation
	invalidator := NewInvalidator(svc, logger)
	consumer := events.NewKafkaConsumer(cfg.KafkaBroker, cfg.KafkaTopic, config.Env("KAFKA_GROUP_ID", "analytics-service"), logger)
	defer consumer.Close()
	go func() {
		if err := consumer.Run(ctx, invalidator.Handle); err != nil {
			logger.WithError(err).Error("Donation event consumer stopped")
		}
	}()

	router := setupRouter(middleware.NewAuthMiddleware(provider, logger), svc, invalidator, logger)

	port := config.Port("ANALYTICS_SERVICE_PORT", "8004")
	logger.Infof("Analytics service starting on port %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Failed to start analytics service:", err)
	}
}
