package main

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-shelter-platform/shared/events"
)

// refresher drops cached summaries
type refresher interface {
	Refresh(ctx context.Context) error
}

// Invalidator clears the summary cache whenever a donation event arrives
type Invalidator struct {
	target refresher
	log    logrus.FieldLogger

	mutex       sync.RWMutex
	received    int64
	lastEvent   time.Time
	lastType    string
	lastError   error
	lastErrorAt time.Time
}

// InvalidatorStatus is what /analytics/events reports
type InvalidatorStatus struct {
	Received    int64     `json:"received"`
	LastEvent   time.Time `json:"last_event,omitempty"`
	LastType    string    `json:"last_type,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	LastErrorAt time.Time `json:"last_error_at,omitempty"`
}

func NewInvalidator(target refresher, log logrus.FieldLogger) *Invalidator {
	return &Invalidator{target: target, log: log}
}

// Handle is an events.Handler
func (i *Invalidator) Handle(ctx context.Context, event events.DonationEvent) error {
	err := i.target.Refresh(ctx)

	i.mutex.Lock()
	i.received++
	i.lastEvent = time.Now().UTC()
	i.lastType = event.EventType
	if err != nil {
		i.lastError = err
		i.lastErrorAt = i.lastEvent
	}
	i.mutex.Unlock()

	if err != nil {
		return err
	}
	i.log.WithFields(logrus.Fields{
		"event_type":  event.EventType,
		"donation_id": event.DonationID,
		"tenant_id":   event.TenantID,
	}).Debug("Summary cache invalidated")
	return nil
}

// Status returns a snapshot of what the invalidator has seen
func (i *Invalidator) Status() InvalidatorStatus {
	i.mutex.RLock()
	defer i.mutex.RUnlock()

	status := InvalidatorStatus{
		Received:    i.received,
		LastEvent:   i.lastEvent,
		LastType:    i.lastType,
		LastErrorAt: i.lastErrorAt,
	}
	if i.lastError != nil {
		status.LastError = i.lastError.Error()
	}
	return status
}
