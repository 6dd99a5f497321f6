package models

import (
	"time"
)

// Status is the lifecycle flag of tenants and shelters
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusDeleted  Status = "deleted"
)

// Tenant represents a tenant in the multi-tenant system
type Tenant struct {
	ID        string    `json:"id" gorm:"type:varchar(64);primaryKey"`
	Name      string    `json:"name" gorm:"not null"`
	Status    Status    `json:"status" gorm:"type:varchar(20);not null;default:'active'"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Shelters []Shelter `json:"shelters,omitempty" gorm:"foreignKey:TenantID"`
}

// TableName returns the table name for the Tenant model
func (Tenant) TableName() string {
	return "tenants"
}

// Ownership returns the tenant itself as owner
func (t *Tenant) Ownership() (string, string) {
	return t.ID, ""
}

// Shelter is an operational site owned by exactly one tenant
type Shelter struct {
	ID        string    `json:"id" gorm:"type:varchar(64);primaryKey"`
	TenantID  string    `json:"tenant_id" gorm:"type:varchar(64);not null;index"`
	Name      string    `json:"name" gorm:"not null"`
	Address   string    `json:"address"`
	Capacity  int       `json:"capacity"`
	Status    Status    `json:"status" gorm:"type:varchar(20);not null;default:'active'"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Shelter) TableName() string {
	return "shelters"
}

func (s *Shelter) Ownership() (string, string) {
	return s.TenantID, s.ID
}
