package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DonationStatus represents the status of a donation
type DonationStatus string

const (
	DonationPending   DonationStatus = "pending"
	DonationCompleted DonationStatus = "completed"
	DonationFailed    DonationStatus = "failed"
)

// Valid reports whether s is a known donation status
func (s DonationStatus) Valid() bool {
	switch s {
	case DonationPending, DonationCompleted, DonationFailed:
		return true
	}
	return false
}

// Amount is the structured donation value
type Amount struct {
	Total    decimal.Decimal `json:"total" gorm:"type:numeric(14,2);not null"`
	Currency string          `json:"currency" gorm:"type:varchar(3);not null;default:'USD'"`
}

// DonorInfo describes who gave
type DonorInfo struct {
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	Anonymous bool   `json:"anonymous"`
}

// DonationRecord is a donation to a participant at a shelter
type DonationRecord struct {
	ID            string         `json:"id" gorm:"type:varchar(64);primaryKey"`
	TenantID      string         `json:"tenant_id" gorm:"type:varchar(64);not null;index"`
	ShelterID     string         `json:"shelter_id" gorm:"type:varchar(64);not null;index"`
	ParticipantID string         `json:"participant_id" gorm:"type:varchar(255);not null;index"`
	Amount        Amount         `json:"amount" gorm:"embedded;embeddedPrefix:amount_"`
	DonorInfo     DonorInfo      `json:"donor_info" gorm:"embedded;embeddedPrefix:donor_"`
	Status        DonationStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending'"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (DonationRecord) TableName() string {
	return "donations"
}

func (d *DonationRecord) Ownership() (string, string) {
	return d.TenantID, d.ShelterID
}

// IsFinal reports whether the record may only change through corrective action
func (d *DonationRecord) IsFinal() bool {
	return d.Status == DonationCompleted
}

// LegacyDonation is a record from the pre-migration collection. Its amount
// was stored as free-form JSON: a bare number, a numeric string or an object
// with a total or amount field.
type LegacyDonation struct {
	ID            string    `json:"id" gorm:"type:varchar(64);primaryKey"`
	ShelterID     string    `json:"shelter_id" gorm:"type:varchar(64);index"`
	ParticipantID string    `json:"participant_id" gorm:"type:varchar(255);index"`
	Amount        string    `json:"amount" gorm:"type:text"`
	Status        string    `json:"status" gorm:"type:varchar(20)"`
	CreatedAt     time.Time `json:"created_at"`
}

func (LegacyDonation) TableName() string {
	return "demo_donations"
}

func (d *LegacyDonation) Ownership() (string, string) {
	return "", d.ShelterID
}

// AliasKind names the entity family an alias belongs to
type AliasKind string

const (
	AliasParticipant AliasKind = "participant"
	AliasShelter     AliasKind = "shelter"
)

// EntityAlias maps a historical identifier to the canonical one
type EntityAlias struct {
	Kind        AliasKind `json:"kind" gorm:"type:varchar(20);primaryKey"`
	Alias       string    `json:"alias" gorm:"type:varchar(255);primaryKey"`
	CanonicalID string    `json:"canonical_id" gorm:"type:varchar(255);not null;index"`
}

func (EntityAlias) TableName() string {
	return "entity_aliases"
}
