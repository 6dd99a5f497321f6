// Package store is the tenant-scoped data accessor. Every read and write
// passes through a scope derived from the caller's identity, so handlers
// cannot reach records outside the caller's tenant or shelter even when
// they forget to filter.
package store

import (
	"gorm.io/gorm"

	"github.com/pavitra93/go-shelter-platform/shared/access"
	"github.com/pavitra93/go-shelter-platform/shared/apperrors"
	"github.com/pavitra93/go-shelter-platform/shared/models"
)

// Collection describes how a table is bound to tenants and shelters. An
// empty column means the table has no such field.
type Collection struct {
	Name          string
	TenantColumn  string
	ShelterColumn string
	// ShelterAliases makes rows filed under a historical shelter id count
	// for the canonical shelter
	ShelterAliases bool
}

var (
	Users           = Collection{Name: "users", TenantColumn: "tenant_id", ShelterColumn: "shelter_id"}
	Donations       = Collection{Name: "donations", TenantColumn: "tenant_id", ShelterColumn: "shelter_id", ShelterAliases: true}
	LegacyDonations = Collection{Name: "demo_donations", ShelterColumn: "shelter_id", ShelterAliases: true}
	Shelters        = Collection{Name: "shelters", TenantColumn: "tenant_id", ShelterColumn: "id"}
	Tenants         = Collection{Name: "tenants", TenantColumn: "id"}
)

// Predicate narrows a query inside the scope; it can never widen it
type Predicate func(*gorm.DB) *gorm.DB

// Where adds a condition
func Where(query interface{}, args ...interface{}) Predicate {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(query, args...)
	}
}

// OrderBy sorts the result
func OrderBy(value string) Predicate {
	return func(db *gorm.DB) *gorm.DB {
		return db.Order(value)
	}
}

// Limit caps the number of rows
func Limit(n int) Predicate {
	return func(db *gorm.DB) *gorm.DB {
		return db.Limit(n)
	}
}

// ScopeFilter returns the gorm scope enforcing s on c
func ScopeFilter(c Collection, s access.Scope) (func(*gorm.DB) *gorm.DB, error) {
	switch s.Level {
	case access.LevelPlatform:
		return func(db *gorm.DB) *gorm.DB { return db }, nil

	case access.LevelTenant:
		if t := tenantFilter(c, s.TenantID); t != nil {
			return t, nil
		}

	case access.LevelShelter:
		var byShelter func(*gorm.DB) *gorm.DB
		switch {
		case c.ShelterColumn != "" && c.ShelterAliases:
			byShelter = func(db *gorm.DB) *gorm.DB {
				return db.Where("("+c.ShelterColumn+" = ? OR "+c.ShelterColumn+" IN (SELECT alias FROM entity_aliases WHERE kind = ? AND canonical_id = ?))",
					s.ShelterID, string(models.AliasShelter), s.ShelterID)
			}
		case c.ShelterColumn != "":
			byShelter = func(db *gorm.DB) *gorm.DB {
				return db.Where(c.ShelterColumn+" = ?", s.ShelterID)
			}
		case c.TenantColumn != "":
			byShelter = func(db *gorm.DB) *gorm.DB {
				return db.Where(c.TenantColumn+" IN (SELECT tenant_id FROM shelters WHERE id = ?)", s.ShelterID)
			}
		}
		if byShelter == nil {
			break
		}
		if s.TenantID == "" {
			return byShelter, nil
		}
		byTenant := tenantFilter(c, s.TenantID)
		return func(db *gorm.DB) *gorm.DB {
			return byTenant(byShelter(db))
		}, nil
	}
	return nil, apperrors.New(apperrors.KindInvalidInput,
		"collection %s cannot be filtered by %s scope", c.Name, s.Level)
}

// tenantFilter restricts c to tenantID, going through the shelters table
// for collections that only carry a shelter reference. Aliases are one hop
// since AliasRepository.Put keeps the table flat.
func tenantFilter(c Collection, tenantID string) func(*gorm.DB) *gorm.DB {
	switch {
	case c.TenantColumn != "":
		return func(db *gorm.DB) *gorm.DB {
			return db.Where(c.TenantColumn+" = ?", tenantID)
		}
	case c.ShelterColumn != "" && c.ShelterAliases:
		return func(db *gorm.DB) *gorm.DB {
			return db.Where("("+c.ShelterColumn+" IN (SELECT id FROM shelters WHERE tenant_id = ?) OR "+
				c.ShelterColumn+" IN (SELECT alias FROM entity_aliases WHERE kind = ? AND canonical_id IN (SELECT id FROM shelters WHERE tenant_id = ?)))",
				tenantID, string(models.AliasShelter), tenantID)
		}
	case c.ShelterColumn != "":
		return func(db *gorm.DB) *gorm.DB {
			return db.Where(c.ShelterColumn+" IN (SELECT id FROM shelters WHERE tenant_id = ?)", tenantID)
		}
	}
	return nil
}
