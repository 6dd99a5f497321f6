package store

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pavitra93/go-shelter-platform/shared/access"
	"github.com/pavitra93/go-shelter-platform/shared/apperrors"
	"github.com/pavitra93/go-shelter-platform/shared/metrics"
	"github.com/pavitra93/go-shelter-platform/shared/models"
)

// AliasRepository reads the global alias table. Aliases hold no tenant data
// so they are not scoped.
type AliasRepository struct {
	accessor *Accessor
}

func NewAliasRepository(a *Accessor) *AliasRepository {
	return &AliasRepository{accessor: a}
}

var aliasCollection = Collection{Name: models.EntityAlias{}.TableName()}

// Load reads every alias into a resolved table
func (r *AliasRepository) Load(ctx context.Context) (*metrics.AliasTable, error) {
	var rows []models.EntityAlias
	err := r.accessor.run(ctx, aliasCollection, func(tx *gorm.DB) error {
		return tx.Order("kind, alias").Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return metrics.NewAliasTable(rows...), nil
}

// Put records that alias refers to canonical. Only super roles may change
// the mapping since it affects every tenant's totals. Chains are collapsed
// on write.
func (r *AliasRepository) Put(ctx context.Context, caller *models.Identity, kind models.AliasKind, alias, canonical string) error {
	if caller == nil || !caller.Role.Valid() {
		return apperrors.New(apperrors.KindUnknownRole, "no valid identity")
	}
	if !access.IsSuper(caller.Role) {
		return apperrors.New(apperrors.KindForbidden, "only platform administrators may edit aliases")
	}
	if kind != models.AliasParticipant && kind != models.AliasShelter {
		return apperrors.New(apperrors.KindInvalidInput, "unknown alias kind %q", kind)
	}
	if alias == "" || canonical == "" || alias == canonical {
		return apperrors.New(apperrors.KindInvalidInput, "alias and canonical id must be distinct and non-empty")
	}
	return r.accessor.run(ctx, aliasCollection, func(tx *gorm.DB) error {
		return tx.Transaction(func(tx *gorm.DB) error {
			// every stored row points at a canonical id, never at another alias
			var target models.EntityAlias
			err := tx.Where("kind = ? AND alias = ?", kind, canonical).Limit(1).Find(&target).Error
			if err != nil {
				return err
			}
			if target.CanonicalID != "" {
				canonical = target.CanonicalID
			}
			if canonical == alias {
				return apperrors.New(apperrors.KindInvalidInput, "alias %s would point at itself", alias)
			}
			err = tx.Model(&models.EntityAlias{}).
				Where("kind = ? AND canonical_id = ?", kind, alias).
				Update("canonical_id", canonical).Error
			if err != nil {
				return err
			}
			row := models.EntityAlias{Kind: kind, Alias: alias, CanonicalID: canonical}
			return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
		})
	})
}
