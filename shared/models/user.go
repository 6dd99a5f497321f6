package models

import (
	"time"
)

// Role is the single role an identity holds
type Role string

const (
	RoleSuperAdmin    Role = "super_admin"
	RolePlatformAdmin Role = "platform_admin"
	RoleAdmin         Role = "admin"
	RoleParticipant   Role = "participant"
	RoleDonor         Role = "donor"
)

// Roles lists every recognised role
var Roles = []Role{RoleSuperAdmin, RolePlatformAdmin, RoleAdmin, RoleParticipant, RoleDonor}

// Valid reports whether r is a recognised role
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// User is the stored identity record
type User struct {
	ID          string     `json:"id" gorm:"type:varchar(255);primaryKey"`
	Email       string     `json:"email" gorm:"type:varchar(255);index"`
	Role        Role       `json:"role" gorm:"type:varchar(32);not null"`
	TenantID    string     `json:"tenant_id,omitempty" gorm:"type:varchar(64);index"`
	ShelterID   string     `json:"shelter_id,omitempty" gorm:"type:varchar(64);index"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

func (User) TableName() string {
	return "users"
}

// Ownership returns the tenant and shelter the user belongs to
func (u *User) Ownership() (string, string) {
	return u.TenantID, u.ShelterID
}

// Identity returns the verified view of the user
func (u *User) Identity() *Identity {
	return &Identity{
		ID:        u.ID,
		Email:     u.Email,
		Role:      u.Role,
		TenantID:  u.TenantID,
		ShelterID: u.ShelterID,
	}
}

// Identity represents a verified caller, built from token claims
type Identity struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	TenantID  string `json:"tenant_id,omitempty"`
	ShelterID string `json:"shelter_id,omitempty"`
}

// SameGrant reports whether two identities carry the same role and scope
func (i *Identity) SameGrant(other *Identity) bool {
	if i == nil || other == nil {
		return i == other
	}
	return i.Role == other.Role && i.TenantID == other.TenantID && i.ShelterID == other.ShelterID
}
