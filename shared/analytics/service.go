// Package analytics answers metrics requests: it fetches the records inside
// the caller's scope, folds them with the aggregator and caches the result
// for a few minutes. Results always say whether they are live, cached or
// empty; there is no fallback data.
package analytics

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pavitra93/go-shelter-platform/shared/access"
	"github.com/pavitra93/go-shelter-platform/shared/apperrors"
	"github.com/pavitra93/go-shelter-platform/shared/cache"
	"github.com/pavitra93/go-shelter-platform/shared/metrics"
	"github.com/pavitra93/go-shelter-platform/shared/models"
	"github.com/pavitra93/go-shelter-platform/shared/store"
	"github.com/pavitra93/go-shelter-platform/shared/telemetry"
)

// Source tells the caller where a result came from
type Source string

const (
	SourceLive   Source = "live"
	SourceCached Source = "cached"
	SourceEmpty  Source = "empty"
)

// Request selects what to aggregate
type Request struct {
	// Scope is the requested scope; zero means the caller's own
	Scope access.Scope
	// ParticipantID restricts the summary to one participant
	ParticipantID string
	// Statuses limits counted records; empty counts every status
	Statuses []models.DonationStatus
	From     time.Time
	To       time.Time
}

// Result is an aggregation answer
type Result struct {
	Scope         access.Scope    `json:"scope"`
	ParticipantID string          `json:"participant_id,omitempty"`
	Source        Source          `json:"source"`
	Summary       metrics.Summary `json:"summary"`
	GeneratedAt   time.Time       `json:"generated_at"`
}

// Service computes summaries
type Service struct {
	accessor   *store.Accessor
	aliases    *store.AliasRepository
	aggregator *metrics.Aggregator
	cache      cache.Cache
	metrics    *telemetry.Metrics
	log        logrus.FieldLogger
	now        func() time.Time
}

// NewService wires the service. A nil cache disables caching.
func NewService(accessor *store.Accessor, aliases *store.AliasRepository, c cache.Cache, m *telemetry.Metrics, log logrus.FieldLogger) *Service {
	if m == nil {
		m = telemetry.Noop()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		accessor:   accessor,
		aliases:    aliases,
		aggregator: metrics.NewAggregator(log, m),
		cache:      c,
		metrics:    m,
		log:        log,
		now:        time.Now,
	}
}

// Summary aggregates every donation inside the requested scope, or the
// donations of one participant when req.ParticipantID is set
func (s *Service) Summary(ctx context.Context, caller *models.Identity, req Request) (*Result, error) {
	scope, err := access.Authorize(caller, req.Scope)
	if err != nil {
		return nil, err
	}
	if req.ParticipantID != "" && caller.Role == models.RoleParticipant && req.ParticipantID != caller.ID {
		if err := s.checkOwnParticipant(ctx, caller, req.ParticipantID); err != nil {
			return nil, err
		}
	}

	key := cacheKey(scope, req)
	if s.cache != nil {
		var cached Result
		ok, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			s.log.WithError(err).Warn("Metrics cache read failed")
		}
		if ok {
			s.metrics.CacheLookups.WithLabelValues("hit").Inc()
			cached.Source = SourceCached
			return &cached, nil
		}
		s.metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	entries, dims, err := s.load(ctx, caller, scope, req)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Scope:         scope,
		ParticipantID: req.ParticipantID,
		Source:        SourceLive,
		Summary:       s.aggregator.Aggregate(entries, dims),
		GeneratedAt:   s.now().UTC(),
	}
	if len(entries) == 0 {
		result.Source = SourceEmpty
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, result); err != nil {
			s.log.WithError(err).Warn("Metrics cache write failed")
		}
	}
	return result, nil
}

// Refresh drops every cached summary
func (s *Service) Refresh(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.InvalidateAll(ctx)
}

// PutAlias maps a historical id onto a canonical one. Cached summaries are
// dropped since any of them may change.
func (s *Service) PutAlias(ctx context.Context, caller *models.Identity, kind models.AliasKind, alias, canonical string) error {
	if err := s.aliases.Put(ctx, caller, kind, alias, canonical); err != nil {
		return err
	}
	if err := s.Refresh(ctx); err != nil {
		s.log.WithError(err).Warn("Summary cache not cleared after alias change")
	}
	return nil
}

// load reads aliases first, then every record path concurrently. Any
// failure cancels the other reads and fails the request.
func (s *Service) load(ctx context.Context, caller *models.Identity, scope access.Scope, req Request) ([]metrics.Entry, metrics.Dimensions, error) {
	dims := metrics.Dimensions{Statuses: req.Statuses, From: req.From, To: req.To}

	aliases, err := s.aliases.Load(ctx)
	if err != nil {
		return nil, dims, err
	}
	dims.Aliases = aliases

	var participant, shelterID string
	if req.ParticipantID != "" {
		participant = aliases.Resolve(models.AliasParticipant, req.ParticipantID)
		var user models.User
		err := s.accessor.Get(ctx, caller, store.Users, scope, participant, &user)
		switch {
		case err == nil:
			shelterID = user.ShelterID
		case !errors.Is(err, apperrors.ErrNotFound):
			return nil, dims, err
		}
	}

	var (
		current  []models.DonationRecord
		legacy   []models.LegacyDonation
		byPart   []models.DonationRecord
		legacyBP []models.LegacyDonation
		shelters []models.Shelter
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.accessor.Query(gctx, caller, store.Shelters, scope, &shelters)
	})
	if participant == "" {
		g.Go(func() error {
			return s.accessor.Query(gctx, caller, store.Donations, scope, &current)
		})
		g.Go(func() error {
			return s.accessor.Query(gctx, caller, store.LegacyDonations, scope, &legacy)
		})
	} else {
		ids := aliases.Aliases(models.AliasParticipant, participant)
		byParticipant := store.Where("participant_id IN ?", ids)
		g.Go(func() error {
			return s.accessor.Query(gctx, caller, store.Donations, scope, &byPart, byParticipant)
		})
		g.Go(func() error {
			return s.accessor.Query(gctx, caller, store.LegacyDonations, scope, &legacyBP, byParticipant)
		})
		if shelterID != "" {
			shelterScope := access.Scope{Level: access.LevelShelter, TenantID: scope.TenantID, ShelterID: shelterID}
			g.Go(func() error {
				return s.accessor.Query(gctx, caller, store.Donations, shelterScope, &current)
			})
			g.Go(func() error {
				return s.accessor.Query(gctx, caller, store.LegacyDonations, shelterScope, &legacy)
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, dims, err
	}

	dims.ShelterTenants = make(map[string]string, len(shelters))
	for _, sh := range shelters {
		dims.ShelterTenants[aliases.Resolve(models.AliasShelter, sh.ID)] = sh.TenantID
	}

	entries := make([]metrics.Entry, 0, len(current)+len(legacy)+len(byPart)+len(legacyBP))
	for _, d := range byPart {
		entries = append(entries, metrics.FromDonation(d))
	}
	for _, d := range legacyBP {
		entries = append(entries, metrics.FromLegacy(d))
	}
	for _, d := range current {
		entries = append(entries, metrics.FromDonation(d))
	}
	for _, d := range legacy {
		entries = append(entries, metrics.FromLegacy(d))
	}

	if participant != "" {
		kept := entries[:0]
		for _, e := range entries {
			if aliases.Resolve(models.AliasParticipant, e.ParticipantID) == participant {
				kept = append(kept, e)
			}
		}
		entries = kept
	}
	return entries, dims, nil
}

// checkOwnParticipant allows a participant to ask for one of their own
// historical ids
func (s *Service) checkOwnParticipant(ctx context.Context, caller *models.Identity, requested string) error {
	aliases, err := s.aliases.Load(ctx)
	if err != nil {
		return err
	}
	if aliases.Resolve(models.AliasParticipant, requested) != aliases.Resolve(models.AliasParticipant, caller.ID) {
		return apperrors.New(apperrors.KindForbidden, "participants may only view their own summary")
	}
	return nil
}

func cacheKey(scope access.Scope, req Request) string {
	statuses := make([]string, 0, len(req.Statuses))
	for _, st := range req.Statuses {
		statuses = append(statuses, string(st))
	}
	sort.Strings(statuses)
	return cache.Key("summary", scope.Key(), req.ParticipantID, strings.Join(statuses, ","),
		formatBound(req.From), formatBound(req.To))
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
