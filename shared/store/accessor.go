package store

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/pavitra93/go-shelter-platform/shared/access"
	"github.com/pavitra93/go-shelter-platform/shared/apperrors"
	"github.com/pavitra93/go-shelter-platform/shared/models"
	"github.com/pavitra93/go-shelter-platform/shared/telemetry"
	"github.com/pavitra93/go-shelter-platform/shared/utils"
)

// Owned is a record that names the tenant and shelter it belongs to
type Owned interface {
	Ownership() (tenantID, shelterID string)
}

// Accessor runs scoped reads and writes. Failures are reported once and
// never retried here.
type Accessor struct {
	db      *gorm.DB
	breaker *utils.CircuitBreaker
	metrics *telemetry.Metrics
	log     logrus.FieldLogger
}

// NewAccessor wraps db. A nil breaker or metrics gets a default.
func NewAccessor(db *gorm.DB, breaker *utils.CircuitBreaker, m *telemetry.Metrics, log logrus.FieldLogger) *Accessor {
	if breaker == nil {
		breaker = utils.NewCircuitBreaker("store", 5, 30*time.Second)
	}
	breaker.WithFailureFilter(countsAsStorageFailure)
	if m == nil {
		m = telemetry.Noop()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Accessor{db: db, breaker: breaker, metrics: m, log: log}
}

// Query loads every record of coll inside scope into dest. The scope is
// authorised against caller first; predicates only narrow the result.
func (a *Accessor) Query(ctx context.Context, caller *models.Identity, coll Collection, scope access.Scope, dest interface{}, preds ...Predicate) error {
	filter, err := a.authorize(caller, coll, scope, "query")
	if err != nil {
		return err
	}
	return a.run(ctx, coll, func(tx *gorm.DB) error {
		return apply(tx.Table(coll.Name).Scopes(filter), preds).Find(dest).Error
	})
}

// Get loads one record by id inside scope
func (a *Accessor) Get(ctx context.Context, caller *models.Identity, coll Collection, scope access.Scope, id string, dest interface{}) error {
	filter, err := a.authorize(caller, coll, scope, "get")
	if err != nil {
		return err
	}
	return a.run(ctx, coll, func(tx *gorm.DB) error {
		return tx.Table(coll.Name).Scopes(filter).Where("id = ?", id).First(dest).Error
	})
}

// Count returns the number of records inside scope
func (a *Accessor) Count(ctx context.Context, caller *models.Identity, coll Collection, scope access.Scope, preds ...Predicate) (int64, error) {
	filter, err := a.authorize(caller, coll, scope, "count")
	if err != nil {
		return 0, err
	}
	var n int64
	err = a.run(ctx, coll, func(tx *gorm.DB) error {
		return apply(tx.Table(coll.Name).Scopes(filter), preds).Count(&n).Error
	})
	return n, err
}

// Create inserts record after checking that its ownership lies inside the
// caller's scope. A rejected write never reaches the database.
func (a *Accessor) Create(ctx context.Context, caller *models.Identity, coll Collection, record Owned) error {
	if err := a.checkWrite(caller, coll, record, "create"); err != nil {
		return err
	}
	return a.run(ctx, coll, func(tx *gorm.DB) error {
		if err := a.checkShelterTenant(tx, coll, record); err != nil {
			return err
		}
		return tx.Table(coll.Name).Create(record).Error
	})
}

// Save overwrites the stored record with id. Both the stored and the new
// ownership must be inside the caller's scope. Last write wins.
func (a *Accessor) Save(ctx context.Context, caller *models.Identity, coll Collection, id string, record Owned) error {
	if err := a.checkWrite(caller, coll, record, "save"); err != nil {
		return err
	}
	own, err := access.Own(caller)
	if err != nil {
		return err
	}
	filter, err := ScopeFilter(coll, own)
	if err != nil {
		return err
	}
	return a.run(ctx, coll, func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Table(coll.Name).Scopes(filter).Where("id = ?", id).Count(&existing).Error; err != nil {
			return err
		}
		if existing == 0 {
			return gorm.ErrRecordNotFound
		}
		if err := a.checkShelterTenant(tx, coll, record); err != nil {
			return err
		}
		return tx.Table(coll.Name).Save(record).Error
	})
}

// Delete removes the record with id inside the caller's own scope
func (a *Accessor) Delete(ctx context.Context, caller *models.Identity, coll Collection, id string, model interface{}) error {
	own, err := access.Own(caller)
	if err != nil {
		return err
	}
	filter, err := ScopeFilter(coll, own)
	if err != nil {
		return err
	}
	return a.run(ctx, coll, func(tx *gorm.DB) error {
		res := tx.Table(coll.Name).Scopes(filter).Where("id = ?", id).Delete(model)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

func (a *Accessor) authorize(caller *models.Identity, coll Collection, scope access.Scope, op string) (func(*gorm.DB) *gorm.DB, error) {
	effective, err := access.Authorize(caller, scope)
	if err != nil {
		a.denied(caller, coll, op, err)
		return nil, err
	}
	return ScopeFilter(coll, effective)
}

func (a *Accessor) checkWrite(caller *models.Identity, coll Collection, record Owned, op string) error {
	tenantID, shelterID := record.Ownership()
	if err := access.CheckWrite(caller, tenantID, shelterID); err != nil {
		a.denied(caller, coll, op, err)
		return err
	}
	return nil
}

// checkShelterTenant rejects records whose shelter belongs to a different
// tenant than the one they name
func (a *Accessor) checkShelterTenant(tx *gorm.DB, coll Collection, record Owned) error {
	if coll.Name == Shelters.Name || coll.TenantColumn == "" || coll.ShelterColumn == "" {
		return nil
	}
	tenantID, shelterID := record.Ownership()
	if tenantID == "" || shelterID == "" {
		return nil
	}
	var n int64
	if err := tx.Table(Shelters.Name).Where("id = ? AND tenant_id = ?", shelterID, tenantID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return apperrors.New(apperrors.KindInvalidInput, "shelter %s does not belong to tenant %s", shelterID, tenantID)
	}
	return nil
}

func (a *Accessor) denied(caller *models.Identity, coll Collection, op string, err error) {
	if !errors.Is(err, apperrors.ErrScopeViolation) {
		return
	}
	a.metrics.ScopeViolations.WithLabelValues(coll.Name, op).Inc()
	fields := logrus.Fields{"collection": coll.Name, "operation": op}
	if caller != nil {
		fields["user_id"] = caller.ID
		fields["role"] = caller.Role
	}
	a.log.WithFields(fields).Warn("Scope violation")
}

// run executes fn through the circuit breaker and categorises the outcome
func (a *Accessor) run(ctx context.Context, coll Collection, fn func(tx *gorm.DB) error) error {
	err := a.breaker.Call(func() error {
		return fn(a.db.WithContext(ctx))
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperrors.Wrap(err, apperrors.KindNotFound, coll.Name+" record not found")
	case apperrors.KindOf(err) != "":
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	}

	a.metrics.StorageFailures.WithLabelValues(coll.Name).Inc()
	a.log.WithError(err).WithField("collection", coll.Name).Error("Store unavailable")
	return apperrors.Wrap(err, apperrors.KindStorageUnavailable, "store unavailable")
}

func countsAsStorageFailure(err error) bool {
	return !errors.Is(err, gorm.ErrRecordNotFound) &&
		apperrors.KindOf(err) == "" &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func apply(db *gorm.DB, preds []Predicate) *gorm.DB {
	for _, p := range preds {
		db = p(db)
	}
	return db
}
