// Package metrics folds donation records into display summaries.
//
// Records may name the same participant or shelter under several historical
// identifiers and may reach the aggregator through more than one query
// path. Aggregation canonicalises identifiers through an AliasTable, counts
// each record id once and skips records it cannot read instead of failing.
package metrics

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-shelter-platform/shared/models"
	"github.com/pavitra93/go-shelter-platform/shared/telemetry"
)

// Entry is one donation-like record in the shape aggregation needs
type Entry struct {
	ID            string
	TenantID      string
	ShelterID     string
	ParticipantID string
	Status        models.DonationStatus
	Amount        json.RawMessage
	CreatedAt     time.Time
}

// FromDonation adapts a current donation record
func FromDonation(d models.DonationRecord) Entry {
	currency := d.Amount.Currency
	return Entry{
		ID:            d.ID,
		TenantID:      d.TenantID,
		ShelterID:     d.ShelterID,
		ParticipantID: d.ParticipantID,
		Status:        d.Status,
		Amount:        json.RawMessage(fmt.Sprintf(`{"total":%s,"currency":%q}`, d.Amount.Total.String(), currency)),
		CreatedAt:     d.CreatedAt,
	}
}

// FromLegacy adapts a pre-migration record with a free-form amount
func FromLegacy(d models.LegacyDonation) Entry {
	return Entry{
		ID:            d.ID,
		ShelterID:     d.ShelterID,
		ParticipantID: d.ParticipantID,
		Status:        models.DonationStatus(d.Status),
		Amount:        json.RawMessage(d.Amount),
		CreatedAt:     d.CreatedAt,
	}
}

// Dimensions controls canonicalisation, filtering and roll-up
type Dimensions struct {
	Aliases *AliasTable
	// ShelterTenants maps canonical shelter ids to their tenant
	ShelterTenants map[string]string
	// Statuses limits which records count; empty means all
	Statuses []models.DonationStatus
	// From and To bound CreatedAt as [From, To); zero values are open
	From time.Time
	To   time.Time
}

// Bucket is the total, count and average of one entity
type Bucket struct {
	Total   decimal.Decimal `json:"total"`
	Count   int             `json:"count"`
	Average decimal.Decimal `json:"average"`
}

func (b *Bucket) add(v decimal.Decimal) {
	b.Total = b.Total.Add(v)
	b.Count++
}

func (b *Bucket) finish() {
	if b.Count == 0 {
		b.Average = decimal.Zero
		return
	}
	b.Average = b.Total.Div(decimal.NewFromInt(int64(b.Count)))
}

// AverageFloat is the average rounded to cents for display
func (b Bucket) AverageFloat() float64 {
	return b.Average.Round(2).InexactFloat64()
}

// Diagnostic notes a record that did not contribute
type Diagnostic struct {
	RecordID string `json:"record_id"`
	Reason   string `json:"reason"`
}

// Summary is the derived, never persisted result of an aggregation
type Summary struct {
	Total         decimal.Decimal   `json:"total"`
	Count         int               `json:"count"`
	Average       decimal.Decimal   `json:"average"`
	ByParticipant map[string]Bucket `json:"by_participant"`
	ByShelter     map[string]Bucket `json:"by_shelter"`
	ByTenant      map[string]Bucket `json:"by_tenant"`
	// Skipped counts malformed records
	Skipped int `json:"skipped"`
	// Excluded counts readable records with a non-positive amount
	Excluded    int          `json:"excluded"`
	Duplicates  int          `json:"duplicates"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

// Aggregate folds entries into a Summary. It never fails: unreadable
// records are skipped and noted in Diagnostics. The first entry seen for a
// record id is the one that counts.
func Aggregate(entries []Entry, dims Dimensions) Summary {
	summary := Summary{
		Total:         decimal.Zero,
		Average:       decimal.Zero,
		ByParticipant: make(map[string]Bucket),
		ByShelter:     make(map[string]Bucket),
		ByTenant:      make(map[string]Bucket),
	}
	statuses := make(map[models.DonationStatus]bool, len(dims.Statuses))
	for _, s := range dims.Statuses {
		statuses[s] = true
	}

	platform := Bucket{Total: decimal.Zero}
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			summary.Skipped++
			summary.Diagnostics = append(summary.Diagnostics, Diagnostic{Reason: "record has no id"})
			continue
		}
		if seen[e.ID] {
			summary.Duplicates++
			continue
		}
		seen[e.ID] = true

		if len(statuses) > 0 && !statuses[e.Status] {
			continue
		}
		if !inWindow(e.CreatedAt, dims.From, dims.To) {
			continue
		}

		amount, err := ParseAmount(e.Amount)
		if err != nil {
			summary.Skipped++
			summary.Diagnostics = append(summary.Diagnostics, Diagnostic{RecordID: e.ID, Reason: err.Error()})
			continue
		}
		if !amount.IsPositive() {
			summary.Excluded++
			continue
		}

		platform.add(amount)

		participant := dims.Aliases.Resolve(models.AliasParticipant, e.ParticipantID)
		shelter := dims.Aliases.Resolve(models.AliasShelter, e.ShelterID)
		tenant := dims.ShelterTenants[shelter]
		if tenant == "" {
			tenant = e.TenantID
		}
		addTo(summary.ByParticipant, participant, amount)
		addTo(summary.ByShelter, shelter, amount)
		addTo(summary.ByTenant, tenant, amount)
	}

	platform.finish()
	summary.Total, summary.Count, summary.Average = platform.Total, platform.Count, platform.Average
	for _, m := range []map[string]Bucket{summary.ByParticipant, summary.ByShelter, summary.ByTenant} {
		for k, b := range m {
			b.finish()
			m[k] = b
		}
	}
	return summary
}

func addTo(m map[string]Bucket, key string, amount decimal.Decimal) {
	if key == "" {
		return
	}
	b, ok := m[key]
	if !ok {
		b.Total = decimal.Zero
	}
	b.add(amount)
	m[key] = b
}

func inWindow(at, from, to time.Time) bool {
	if from.IsZero() && to.IsZero() {
		return true
	}
	if at.IsZero() {
		return false
	}
	if !from.IsZero() && at.Before(from) {
		return false
	}
	if !to.IsZero() && !at.Before(to) {
		return false
	}
	return true
}

// Aggregator runs Aggregate and reports what it skipped
type Aggregator struct {
	log     logrus.FieldLogger
	metrics *telemetry.Metrics
}

// NewAggregator creates an aggregator reporting to log and m
func NewAggregator(log logrus.FieldLogger, m *telemetry.Metrics) *Aggregator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if m == nil {
		m = telemetry.Noop()
	}
	return &Aggregator{log: log, metrics: m}
}

// Aggregate folds entries and records diagnostics as debug output
func (a *Aggregator) Aggregate(entries []Entry, dims Dimensions) Summary {
	summary := Aggregate(entries, dims)
	for _, d := range summary.Diagnostics {
		a.log.WithFields(logrus.Fields{
			"record_id": d.RecordID,
			"reason":    d.Reason,
		}).Debug("Skipped malformed donation record")
	}
	a.metrics.SkippedRecords.WithLabelValues("malformed").Add(float64(summary.Skipped))
	a.metrics.SkippedRecords.WithLabelValues("non_positive").Add(float64(summary.Excluded))
	a.metrics.SkippedRecords.WithLabelValues("duplicate").Add(float64(summary.Duplicates))
	a.metrics.AggregatedRecords.Add(float64(summary.Count))
	return summary
}
