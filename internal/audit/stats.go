package audit

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/compliacert/extract-cli/internal/model"
	"github.com/compliacert/extract-cli/internal/store"
)

// TierStats aggregates attempts for one tier within the lookback window.
type TierStats struct {
	Tier          model.Tier `json:"tier"`
	TierName      string     `json:"tier_name"`
	Attempts      int        `json:"attempts"`
	Successes     int        `json:"successes"`
	LowConfidence int        `json:"low_confidence"`
	Failures      int        `json:"failures"`
	Skipped       int        `json:"skipped"`
	AvgConfidence float64    `json:"avg_confidence"`
	AvgDurationMs int64      `json:"avg_duration_ms"`
	TotalCostUSD  float64    `json:"total_cost_usd"`
}

// StatsSnapshot holds a point-in-time view of extraction health.
type StatsSnapshot struct {
	Runs          int         `json:"runs"`
	Accepted      int         `json:"accepted"`
	ManualReview  int         `json:"manual_review"`
	AcceptRate    float64     `json:"accept_rate"`
	TotalCostUSD  float64     `json:"total_cost_usd"`
	AvgCostPerRun float64     `json:"avg_cost_per_run"`
	PerTier       []TierStats `json:"per_tier"`
	LookbackHours int         `json:"lookback_hours"`
	CollectedAt   time.Time   `json:"collected_at"`
}

// Collector aggregates audit records from the store.
type Collector struct {
	st store.Store
}

// NewCollector creates a stats collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{st: st}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*StatsSnapshot, error) {
	snap := &StatsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)
	recs, err := c.st.ListAuditRecords(ctx, store.AuditFilter{
		CreatedAfter: cutoff,
		Limit:        100000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "audit: list records")
	}

	type tierAgg struct {
		stats         TierStats
		confidenceSum float64
		durationSum   int64
		measured      int
	}
	perTier := map[model.Tier]*tierAgg{}
	runAccepted := map[string]bool{}

	for _, rec := range recs {
		agg, ok := perTier[rec.Tier]
		if !ok {
			agg = &tierAgg{stats: TierStats{Tier: rec.Tier, TierName: rec.Tier.String()}}
			perTier[rec.Tier] = agg
		}
		agg.stats.Attempts++
		agg.stats.TotalCostUSD += rec.CostUSD
		snap.TotalCostUSD += rec.CostUSD

		switch rec.Status {
		case model.AttemptSuccess:
			agg.stats.Successes++
			runAccepted[rec.RunID] = true
		case model.AttemptLowConfidence:
			agg.stats.LowConfidence++
		case model.AttemptFailed:
			agg.stats.Failures++
		case model.AttemptSkipped:
			agg.stats.Skipped++
		}
		if _, seen := runAccepted[rec.RunID]; !seen {
			runAccepted[rec.RunID] = false
		}

		if rec.Status == model.AttemptSuccess || rec.Status == model.AttemptLowConfidence {
			agg.confidenceSum += rec.Confidence
			agg.durationSum += rec.DurationMs
			agg.measured++
		}
	}

	for _, tier := range append(append([]model.Tier{}, model.AllTiers...), model.TierManualReview) {
		agg, ok := perTier[tier]
		if !ok {
			continue
		}
		if agg.measured > 0 {
			agg.stats.AvgConfidence = agg.confidenceSum / float64(agg.measured)
			agg.stats.AvgDurationMs = agg.durationSum / int64(agg.measured)
		}
		snap.PerTier = append(snap.PerTier, agg.stats)
	}

	snap.Runs = len(runAccepted)
	for _, accepted := range runAccepted {
		if accepted {
			snap.Accepted++
		}
	}
	snap.ManualReview = snap.Runs - snap.Accepted
	if snap.Runs > 0 {
		snap.AcceptRate = float64(snap.Accepted) / float64(snap.Runs)
		snap.AvgCostPerRun = snap.TotalCostUSD / float64(snap.Runs)
	}

	return snap, nil
}
