package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavitra93/go-shelter-platform/shared/models"
	"github.com/pavitra93/go-shelter-platform/shared/telemetry"
)

type recordingWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	started  chan struct{}
	release  chan struct{}
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.started != nil {
		w.started <- struct{}{}
	}
	if w.release != nil {
		<-w.release
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func donation() *models.DonationRecord {
	return &models.DonationRecord{
		ID:            "d1",
		TenantID:      "T1",
		ShelterID:     "S1",
		ParticipantID: "P1",
		Amount:        models.Amount{Total: decimal.RequireFromString("42.50"), Currency: "USD"},
		Status:        models.DonationCompleted,
	}
}

func TestProducer_PublishesAndDrainsOnClose(t *testing.T) {
	w := &recordingWriter{}
	m := telemetry.Noop()
	p := NewProducer(w, "", m, nil, WithWorkers(2))

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Publish(NewDonationEvent(TypeDonationCompleted, donation(), "admin-1")))
	}
	require.NoError(t, p.Close())

	assert.True(t, w.closed)
	require.Len(t, w.messages, 5)
	msg := w.messages[0]
	assert.Equal(t, DefaultTopic, msg.Topic)
	assert.Equal(t, "T1", string(msg.Key))
	assert.Contains(t, msg.Headers, kafka.Header{Key: "event_type", Value: []byte(TypeDonationCompleted)})

	var got DonationEvent
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, "d1", got.DonationID)
	assert.Equal(t, models.DonationCompleted, got.Status)
	assert.True(t, decimal.RequireFromString("42.5").Equal(got.Amount))
	assert.NotEmpty(t, got.ID)

	assert.Equal(t, 5.0, testutil.ToFloat64(m.PublishedEvents.WithLabelValues("sent")))
	assert.ErrorIs(t, p.Publish(got), ErrProducerClosed)
	assert.NoError(t, p.Close())
}

func TestProducer_DropsWhenQueueFull(t *testing.T) {
	w := &recordingWriter{started: make(chan struct{}, 1), release: make(chan struct{})}
	m := telemetry.Noop()
	p := NewProducer(w, "donations", m, nil, WithWorkers(1), WithQueueSize(1))
	ev := NewDonationEvent(TypeDonationCompleted, donation(), "")

	require.NoError(t, p.Publish(ev))
	select {
	case <-w.started:
	case <-time.After(time.Second):
		t.Fatal("worker never picked up the event")
	}
	require.NoError(t, p.Publish(ev))
	assert.ErrorIs(t, p.Publish(ev), ErrQueueFull)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishedEvents.WithLabelValues("dropped")))

	close(w.release)
	require.NoError(t, p.Close())
	assert.Len(t, w.messages, 2)
}

func TestProducer_CountsFailedWrites(t *testing.T) {
	w := &recordingWriter{err: errors.New("broker down")}
	m := telemetry.Noop()
	p := NewProducer(w, "", m, nil, WithWorkers(1))

	require.NoError(t, p.Publish(NewDonationEvent(TypeDonationFailed, donation(), "")))
	require.NoError(t, p.Close())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishedEvents.WithLabelValues("failed")))
	assert.Empty(t, w.messages)
}

type queuedReader struct {
	msgs chan kafka.Message
	errs chan error
}

func (r *queuedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m, ok := <-r.msgs:
		if !ok {
			return kafka.Message{}, io.EOF
		}
		return m, nil
	case err := <-r.errs:
		return kafka.Message{}, err
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *queuedReader) Close() error { return nil }

func encode(t *testing.T, ev DonationEvent) kafka.Message {
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return kafka.Message{Value: b}
}

func TestConsumer_HandlesEventsAndSkipsBadOnes(t *testing.T) {
	r := &queuedReader{msgs: make(chan kafka.Message, 4), errs: make(chan error)}
	ok := NewDonationEvent(TypeDonationCompleted, donation(), "")
	r.msgs <- kafka.Message{Value: []byte("not json")}
	r.msgs <- encode(t, ok)
	r.msgs <- encode(t, NewDonationEvent(TypeDonationFailed, donation(), ""))
	close(r.msgs)

	var handled []string
	c := NewConsumer(r, nil)
	err := c.Run(context.Background(), func(_ context.Context, ev DonationEvent) error {
		handled = append(handled, ev.EventType)
		if ev.EventType == TypeDonationFailed {
			return errors.New("handler refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{TypeDonationCompleted, TypeDonationFailed}, handled)
	assert.NoError(t, c.Close())
}

func TestConsumer_StopsOnCancel(t *testing.T) {
	r := &queuedReader{msgs: make(chan kafka.Message), errs: make(chan error, 1)}
	r.errs <- errors.New("leader not available")
	c := NewConsumer(r, nil)
	c.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, func(context.Context, DonationEvent) error { return nil })
	}()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestTypeForStatus(t *testing.T) {
	assert.Equal(t, TypeDonationCompleted, TypeForStatus(models.DonationCompleted))
	assert.Equal(t, TypeDonationFailed, TypeForStatus(models.DonationFailed))
	assert.Equal(t, TypeDonationCreated, TypeForStatus(models.DonationPending))
}
