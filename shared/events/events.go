// Package events carries donation status changes over Kafka. The donation
// service publishes them; the analytics service consumes them to drop
// stale summaries.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pavitra93/go-shelter-platform/shared/models"
)

const (
	// DefaultTopic is used when KAFKA_DONATION_TOPIC is not set
	DefaultTopic = "donation-events"

	TypeDonationCreated   = "donation_created"
	TypeDonationCompleted = "donation_completed"
	TypeDonationFailed    = "donation_failed"
	TypeDonationCorrected = "donation_corrected"
)

// DonationEvent represents a donation lifecycle event
type DonationEvent struct {
	ID            string                `json:"id"`
	EventType     string                `json:"event_type"`
	DonationID    string                `json:"donation_id"`
	TenantID      string                `json:"tenant_id"`
	ShelterID     string                `json:"shelter_id"`
	ParticipantID string                `json:"participant_id"`
	Status        models.DonationStatus `json:"status"`
	Amount        decimal.Decimal       `json:"amount"`
	Currency      string                `json:"currency"`
	ActorID       string                `json:"actor_id,omitempty"`
	Timestamp     time.Time             `json:"timestamp"`
}

// NewDonationEvent builds an event of eventType for d
func NewDonationEvent(eventType string, d *models.DonationRecord, actorID string) DonationEvent {
	return DonationEvent{
		ID:            uuid.NewString(),
		EventType:     eventType,
		DonationID:    d.ID,
		TenantID:      d.TenantID,
		ShelterID:     d.ShelterID,
		ParticipantID: d.ParticipantID,
		Status:        d.Status,
		Amount:        d.Amount.Total,
		Currency:      d.Amount.Currency,
		ActorID:       actorID,
		Timestamp:     time.Now().UTC(),
	}
}

// TypeForStatus returns the event type announcing a move to status
func TypeForStatus(status models.DonationStatus) string {
	switch status {
	case models.DonationCompleted:
		return TypeDonationCompleted
	case models.DonationFailed:
		return TypeDonationFailed
	}
	return TypeDonationCreated
}
