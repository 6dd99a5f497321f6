package main

import (
	"context"
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

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

	logger := logrus.WithField("service", "donation")

	// Initialize Kafka producer
	producer := events.NewKafkaProducer(cfg.KafkaBroker, cfg.KafkaTopic, m, logger)
	defer producer.Close()

	accessor := store.NewAccessor(db, cfg.NewBreaker("store"), m, logger)
	router := setupRouter(middleware.NewAuthMiddleware(provider, logger), accessor, producer, logger)

	port := config.Port("DONATION_SERVICE_PORT", "8003")
	logger.Infof("Donation service starting on port %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Failed to start donation service:", err)
	}
}
