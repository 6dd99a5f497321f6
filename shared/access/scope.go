package access

import (
	"fmt"

	"github.com/pavitra93/go-shelter-platform/shared/apperrors"
	"github.com/pavitra93/go-shelter-platform/shared/models"
)

// Level is the breadth of a scope
type Level string

const (
	LevelPlatform Level = "platform"
	LevelTenant   Level = "tenant"
	LevelShelter  Level = "shelter"
)

// Scope bounds the records an operation may touch
type Scope struct {
	Level     Level  `json:"level"`
	TenantID  string `json:"tenant_id,omitempty"`
	ShelterID string `json:"shelter_id,omitempty"`
}

// Platform is the unbounded scope reserved for super roles
func Platform() Scope {
	return Scope{Level: LevelPlatform}
}

// ForTenant scopes to one tenant
func ForTenant(tenantID string) Scope {
	return Scope{Level: LevelTenant, TenantID: tenantID}
}

// ForShelter scopes to one shelter
func ForShelter(shelterID string) Scope {
	return Scope{Level: LevelShelter, ShelterID: shelterID}
}

// IsZero reports whether no scope was requested
func (s Scope) IsZero() bool {
	return s == Scope{}
}

// Key is a stable cache key fragment
func (s Scope) Key() string {
	return fmt.Sprintf("%s:%s:%s", s.Level, s.TenantID, s.ShelterID)
}

// Own returns the narrowest scope the identity is bound to
func Own(identity *models.Identity) (Scope, error) {
	if identity == nil || !identity.Role.Valid() {
		return Scope{}, unknownRole(identity)
	}
	switch {
	case IsSuper(identity.Role):
		return Platform(), nil
	case identity.ShelterID != "":
		return Scope{Level: LevelShelter, TenantID: identity.TenantID, ShelterID: identity.ShelterID}, nil
	case identity.TenantID != "":
		return ForTenant(identity.TenantID), nil
	}
	return Scope{}, apperrors.New(apperrors.KindScopeViolation,
		"identity %s has no tenant or shelter binding", identity.ID)
}

// Authorize turns a requested scope into the effective one for identity.
// A zero request means the identity's own scope. Super roles get any
// well-formed scope; every other role is confined to its own binding.
func Authorize(identity *models.Identity, requested Scope) (Scope, error) {
	own, err := Own(identity)
	if err != nil {
		return Scope{}, err
	}
	if requested.IsZero() {
		return own, nil
	}
	if err := validate(requested); err != nil {
		return Scope{}, err
	}
	if IsSuper(identity.Role) {
		return requested, nil
	}

	switch requested.Level {
	case LevelShelter:
		if identity.ShelterID != "" {
			if requested.ShelterID != identity.ShelterID {
				return Scope{}, violation(identity, requested)
			}
			return own, nil
		}
		// tenant-bound identities reach shelters only through their tenant
		if requested.TenantID != "" && requested.TenantID != identity.TenantID {
			return Scope{}, violation(identity, requested)
		}
		return Scope{Level: LevelShelter, TenantID: identity.TenantID, ShelterID: requested.ShelterID}, nil
	case LevelTenant:
		if identity.ShelterID == "" && requested.TenantID == identity.TenantID {
			return own, nil
		}
	}
	return Scope{}, violation(identity, requested)
}

// CheckWrite verifies that a record owned by tenantID/shelterID lies inside
// the identity's scope. It never touches the store.
func CheckWrite(identity *models.Identity, tenantID, shelterID string) error {
	own, err := Own(identity)
	if err != nil {
		return err
	}
	if own.Level == LevelPlatform {
		return nil
	}
	if own.Level == LevelShelter {
		if shelterID != identity.ShelterID {
			return writeViolation(identity, tenantID, shelterID)
		}
		if identity.TenantID != "" && tenantID != "" && tenantID != identity.TenantID {
			return writeViolation(identity, tenantID, shelterID)
		}
		return nil
	}
	// tenant-bound callers need the tenant field to prove ownership
	if tenantID != identity.TenantID {
		return writeViolation(identity, tenantID, shelterID)
	}
	return nil
}

func validate(s Scope) error {
	switch s.Level {
	case LevelPlatform:
		return nil
	case LevelTenant:
		if s.TenantID != "" {
			return nil
		}
	case LevelShelter:
		if s.ShelterID != "" {
			return nil
		}
	}
	return apperrors.New(apperrors.KindInvalidInput, "malformed scope %+v", s)
}

func unknownRole(identity *models.Identity) error {
	if identity == nil {
		return apperrors.New(apperrors.KindUnknownRole, "no identity")
	}
	return apperrors.New(apperrors.KindUnknownRole, "unrecognised role %q", identity.Role)
}

func violation(identity *models.Identity, requested Scope) error {
	return apperrors.New(apperrors.KindScopeViolation,
		"%s %s may not access %s scope %s", identity.Role, identity.ID, requested.Level, requested.Key())
}

func writeViolation(identity *models.Identity, tenantID, shelterID string) error {
	return apperrors.New(apperrors.KindScopeViolation,
		"%s %s may not write records of tenant %q shelter %q", identity.Role, identity.ID, tenantID, shelterID)
}
