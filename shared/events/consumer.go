package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Reader is the part of *kafka.Reader the consumer uses
type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Handler processes one donation event
type Handler func(ctx context.Context, event DonationEvent) error

// Consumer reads donation events for one consumer group
type Consumer struct {
	reader  Reader
	log     logrus.FieldLogger
	backoff time.Duration
}

// NewKafkaConsumer creates a consumer in groupID reading topic from broker
func NewKafkaConsumer(broker, topic, groupID string, log logrus.FieldLogger) *Consumer {
	if topic == "" {
		topic = DefaultTopic
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        []string{broker},
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
	})
	return NewConsumer(reader, log)
}

// NewConsumer wraps an existing reader
func NewConsumer(r Reader, log logrus.FieldLogger) *Consumer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Consumer{
		reader:  r,
		log:     log.WithField("component", "donation-consumer"),
		backoff: time.Second,
	}
}

// Run reads events and passes them to handle until ctx is cancelled or the
// reader is closed. Undecodable messages and handler failures are logged
// and skipped.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	c.log.Info("Starting donation events consumer")
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			c.log.WithError(err).Error("Error reading donation event")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		var event DonationEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			c.log.WithError(err).WithField("offset", msg.Offset).Warn("Skipping undecodable donation event")
			continue
		}

		if err := handle(ctx, event); err != nil {
			c.log.WithError(err).WithFields(logrus.Fields{
				"donation_id": event.DonationID,
				"event_type":  event.EventType,
			}).Error("Donation event handler failed")
			continue
		}
		c.log.WithFields(logrus.Fields{
			"donation_id": event.DonationID,
			"event_type":  event.EventType,
			"tenant_id":   event.TenantID,
		}).Debug("Processed donation event")
	}
}

// Close closes the reader
func (c *Consumer) Close() error {
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("failed to close donation event reader: %w", err)
	}
	return nil
}
