package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-shelter-platform/shared/telemetry"
)

// ErrQueueFull is returned when the producer cannot accept another event
var ErrQueueFull = errors.New("donation event queue full, event dropped")

// ErrProducerClosed is returned by Publish after Close
var ErrProducerClosed = errors.New("donation event producer closed")

// Writer is the part of *kafka.Writer the producer uses
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ProducerOption customises a Producer
type ProducerOption func(*Producer)

// WithWorkers sets the number of sending goroutines
func WithWorkers(n int) ProducerOption {
	return func(p *Producer) {
		if n > 0 {
			p.workerCount = n
		}
	}
}

// WithQueueSize sets how many events may wait for a worker
func WithQueueSize(n int) ProducerOption {
	return func(p *Producer) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// Producer publishes donation events through a worker pool. Publish never
// blocks the request path; a full queue drops the event and says so.
type Producer struct {
	writer       Writer
	topic        string
	workerCount  int
	queueSize    int
	writeTimeout time.Duration
	metrics      *telemetry.Metrics
	log          logrus.FieldLogger

	mu     sync.RWMutex
	closed bool
	queue  chan DonationEvent
	wg     sync.WaitGroup
}

// NewKafkaProducer creates a producer writing to broker
func NewKafkaProducer(broker, topic string, m *telemetry.Metrics, log logrus.FieldLogger, opts ...ProducerOption) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(broker),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	}
	return NewProducer(writer, topic, m, log, opts...)
}

// NewProducer starts a producer on an existing writer
func NewProducer(w Writer, topic string, m *telemetry.Metrics, log logrus.FieldLogger, opts ...ProducerOption) *Producer {
	if topic == "" {
		topic = DefaultTopic
	}
	if m == nil {
		m = telemetry.Noop()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	p := &Producer{
		writer:       w,
		topic:        topic,
		workerCount:  4,
		queueSize:    1000,
		writeTimeout: 5 * time.Second,
		metrics:      m,
		log:          log.WithField("component", "donation-producer"),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.queue = make(chan DonationEvent, p.queueSize)
	p.startWorkers()
	return p
}

func (p *Producer) startWorkers() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.log.WithField("workers", p.workerCount).Info("Started donation event workers")
}

// worker sends queued events until the queue is closed and drained
func (p *Producer) worker(id int) {
	defer p.wg.Done()
	for event := range p.queue {
		if err := p.send(event); err != nil {
			p.metrics.PublishedEvents.WithLabelValues("failed").Inc()
			p.log.WithError(err).WithFields(logrus.Fields{
				"worker":      id,
				"donation_id": event.DonationID,
				"event_type":  event.EventType,
			}).Error("Failed to send donation event")
			continue
		}
		p.metrics.PublishedEvents.WithLabelValues("sent").Inc()
	}
}

// Publish queues event for asynchronous delivery
func (p *Producer) Publish(event DonationEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}
	select {
	case p.queue <- event:
		return nil
	default:
		p.metrics.PublishedEvents.WithLabelValues("dropped").Inc()
		return ErrQueueFull
	}
}

func (p *Producer) send(event DonationEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal donation event: %w", err)
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.TenantID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "tenant_id", Value: []byte(event.TenantID)},
			{Key: "shelter_id", Value: []byte(event.ShelterID)},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write donation event to Kafka: %w", err)
	}
	return nil
}

// Close stops accepting events, waits for queued ones to be sent and
// closes the writer
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka writer: %w", err)
	}
	p.log.Info("Donation event producer stopped")
	return nil
}
