// Package identity adapts the managed identity service. It verifies bearer
// tokens, exposes the caller's role and tenant/shelter claims, and notifies
// subscribers when a subject's grant changes. Token issuance stays with the
// identity service.
package identity

import (
	"context"
	"sync"

	"github.com/golang/groupcache/lru"

	"github.com/pavitra93/go-shelter-platform/shared/models"
)

// Provider verifies tokens issued by the identity service
type Provider interface {
	// VerifyToken returns the identity carried by token or an AuthError
	VerifyToken(ctx context.Context, token string) (*models.Identity, error)
	// OnIdentityChange registers fn and returns a function removing it
	OnIdentityChange(fn ChangeFunc) (unsubscribe func())
}

// ChangeFunc receives the previous and current grant of a subject.
// previous is nil when the subject had not been seen by this process.
type ChangeFunc func(previous, current *models.Identity)

// maxTrackedSubjects bounds the grants remembered for change detection. An
// evicted subject is treated as not seen before.
const maxTrackedSubjects = 10000

// observers tracks the last grant seen per subject and fans out changes
type observers struct {
	mu   sync.Mutex
	next int
	fns  map[int]ChangeFunc
	last *lru.Cache
}

func newObservers(maxSubjects int) *observers {
	return &observers{
		fns:  make(map[int]ChangeFunc),
		last: lru.New(maxSubjects),
	}
}

func (o *observers) subscribe(fn ChangeFunc) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.next
	o.next++
	o.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.fns, id)
			o.mu.Unlock()
		})
	}
}

// observe records current and notifies subscribers when it differs from
// the grant last seen for the same subject. A pushed change also notifies
// for a subject not seen before, with a nil previous grant. Callbacks run
// outside the lock.
func (o *observers) observe(current *models.Identity, pushed bool) bool {
	o.mu.Lock()
	var prev models.Identity
	cached, seen := o.last.Get(current.ID)
	if seen {
		prev = cached.(models.Identity)
	}
	o.last.Add(current.ID, *current)
	changed := seen && !prev.SameGrant(current)
	if !changed && !(pushed && !seen) {
		o.mu.Unlock()
		return false
	}
	fns := make([]ChangeFunc, 0, len(o.fns))
	for _, fn := range o.fns {
		fns = append(fns, fn)
	}
	o.mu.Unlock()

	var before *models.Identity
	if seen {
		before = &prev
	}
	for _, fn := range fns {
		after := *current
		fn(before, &after)
	}
	return true
}
