package telemetry

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters shared by the core components
type Metrics struct {
	ScopeViolations   *prometheus.CounterVec
	StorageFailures   *prometheus.CounterVec
	SkippedRecords    *prometheus.CounterVec
	AggregatedRecords prometheus.Counter
	CacheLookups      *prometheus.CounterVec
	IdentityChanges   prometheus.Counter
	PublishedEvents   *prometheus.CounterVec
}

// New registers the counters on reg. Tests pass a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ScopeViolations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shelter_scope_violations_total",
			Help: "Operations denied because they left the caller's scope",
		}, []string{"collection", "operation"}),
		StorageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shelter_storage_unavailable_total",
			Help: "Store operations that failed as unavailable",
		}, []string{"collection"}),
		SkippedRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shelter_aggregation_skipped_records_total",
			Help: "Records skipped during aggregation by reason",
		}, []string{"reason"}),
		AggregatedRecords: factory.NewCounter(prometheus.CounterOpts{
			Name: "shelter_aggregation_records_total",
			Help: "Records contributing to aggregated totals",
		}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shelter_cache_lookups_total",
			Help: "Cache lookups by result",
		}, []string{"result"}),
		IdentityChanges: factory.NewCounter(prometheus.CounterOpts{
			Name: "shelter_identity_changes_total",
			Help: "Verified identities whose role or scope changed",
		}),
		PublishedEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shelter_donation_events_total",
			Help: "Donation events by outcome",
		}, []string{"outcome"}),
	}
}

// Noop returns metrics bound to a throwaway registry
func Noop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler exposes the default registry for gin
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
