// Package orchestrator runs the tiered extraction escalation for a single
// document: cheapest tier first, escalating only while confidence stays
// under the effective threshold and the cost budget allows.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/compliacert/extract-cli/internal/extractor"
	"github.com/compliacert/extract-cli/internal/format"
	"github.com/compliacert/extract-cli/internal/mapping"
	"github.com/compliacert/extract-cli/internal/model"
	"github.com/compliacert/extract-cli/internal/resilience"
	"github.com/compliacert/extract-cli/internal/settings"
)

// AuditSink receives one record per attempted tier. Submission must not
// block the extraction path.
type AuditSink interface {
	Submit(rec model.AuditRecord)
}

// Orchestrator coordinates tier traversal, resilience, settings and audit.
type Orchestrator struct {
	registry *extractor.Registry
	breakers *resilience.Pool
	guard    resilience.GuardConfig
	settings *settings.Cache
	audit    AuditSink

	nowFunc func() time.Time
	newID   func() string
}

// New creates an orchestrator. The audit sink may be nil, in which case
// attempts are only logged.
func New(registry *extractor.Registry, breakers *resilience.Pool, settingsCache *settings.Cache, audit AuditSink) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		breakers: breakers,
		guard:    resilience.DefaultGuardConfig(),
		settings: settingsCache,
		audit:    audit,
		nowFunc:  time.Now,
		newID:    uuid.NewString,
	}
}

// WithGuardConfig overrides the per-attempt timeout and retry policy.
func (o *Orchestrator) WithGuardConfig(cfg resilience.GuardConfig) *Orchestrator {
	o.guard = cfg
	return o
}

// Run extracts certificate data from one document. Per-tier failures are
// recorded and escalate to the next tier; Run itself only returns an
// error when the caller's context ends.
func (o *Orchestrator) Run(ctx context.Context, doc model.Document) (*model.ExtractionResult, error) {
	runStart := o.nowFunc()
	runID := o.newID()
	snap := o.settings.Snapshot(ctx)
	analysis := format.Analyse(doc.Data, doc.MimeType, doc.Filename)
	if (analysis.DetectedType == "" || analysis.DetectedType == model.CertTypeUnknown) &&
		doc.DeclaredType != "" && doc.DeclaredType != model.CertTypeUnknown {
		analysis.DetectedType = doc.DeclaredType
	}

	log := zap.L().With(
		zap.String("run_id", runID),
		zap.String("document_id", doc.ID),
		zap.String("classification", analysis.Classification),
	)
	log.Info("extraction run started",
		zap.String("detected_type", string(analysis.DetectedType)),
		zap.Float64("max_cost_usd", snap.MaxCostPerDocument))

	in := &extractor.Input{Document: doc, Analysis: &analysis, Settings: snap}

	result := &model.ExtractionResult{
		RunID:       runID,
		TierReached: model.TierManualReview,
		Status:      model.AttemptFailed,
	}
	var best *model.TierAttempt

	for _, tier := range model.AllTiers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if skip, reason := o.shouldSkip(tier, snap, analysis, result.TotalCost); skip {
			attempt := model.TierAttempt{
				Tier:             tier,
				Status:           model.AttemptSkipped,
				EscalationReason: reason,
			}
			result.Attempts = append(result.Attempts, attempt)
			o.record(doc, runID, analysis.DetectedType, attempt)
			log.Debug("tier skipped", zap.Stringer("tier", tier), zap.String("reason", reason))
			continue
		}

		attempt := o.attemptTier(ctx, tier, in, snap)
		result.Attempts = append(result.Attempts, attempt)
		result.TotalCost += attempt.CostUSD
		o.record(doc, runID, certificateType(attempt.Data, analysis), attempt)

		switch attempt.Status {
		case model.AttemptSuccess:
			result.Data = attempt.Data
			result.Confidence = attempt.Confidence
			result.TierReached = tier
			result.Status = model.AttemptSuccess
			result.Duration = o.nowFunc().Sub(runStart)
			log.Info("extraction run accepted",
				zap.Stringer("tier", tier),
				zap.Float64("confidence", attempt.Confidence),
				zap.Float64("total_cost_usd", result.TotalCost))
			return result, nil
		case model.AttemptLowConfidence:
			if best == nil || attempt.Confidence > best.Confidence {
				a := attempt
				best = &a
			}
		case model.AttemptFailed:
			if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ctx.Err()
			}
		}
	}

	// No tier met its threshold. Hand the best partial result to manual
	// review rather than discarding it.
	if best != nil {
		result.Data = best.Data
		result.Confidence = best.Confidence
		result.Status = model.AttemptLowConfidence
	}
	result.Duration = o.nowFunc().Sub(runStart)
	log.Warn("extraction run routed to manual review",
		zap.Float64("best_confidence", result.Confidence),
		zap.Float64("total_cost_usd", result.TotalCost))
	return result, nil
}

// shouldSkip decides whether a tier is attempted at all: the extractor
// must exist and be configured, local tiers need parseable input, AI
// tiers require the global AI switch, and the projected spend must stay
// inside the per-document budget.
func (o *Orchestrator) shouldSkip(tier model.Tier, snap settings.Settings, analysis format.Analysis, spentUSD float64) (bool, string) {
	ext := o.registry.Get(tier)
	if ext == nil || !ext.Configured() {
		return true, "tier not configured"
	}
	// An unparseable document has nothing the local tiers can read; go
	// straight to the tiers that can see pixels.
	if analysis.Classification == format.ClassUnreadable && tier < model.TierAIText {
		return true, "document unreadable locally"
	}
	if tier >= model.TierAIText && !snap.AIEnabled {
		return true, "ai extraction disabled"
	}
	if snap.MaxCostPerDocument > 0 && spentUSD+tier.EstimatedCostUSD() > snap.MaxCostPerDocument {
		return true, fmt.Sprintf("cost budget exhausted: spent $%.3f, tier estimate $%.3f, budget $%.2f",
			spentUSD, tier.EstimatedCostUSD(), snap.MaxCostPerDocument)
	}
	return false, ""
}

// attemptTier executes one tier behind its circuit breaker, maps the raw
// fields and scores confidence against the effective threshold.
func (o *Orchestrator) attemptTier(ctx context.Context, tier model.Tier, in *extractor.Input, snap settings.Settings) model.TierAttempt {
	ext := o.registry.Get(tier)
	start := o.nowFunc()

	out, err := resilience.Guarded(ctx, o.breakers.Get(ext.Name()), o.guard, func(ctx context.Context) (*extractor.Output, error) {
		return ext.Extract(ctx, in)
	})

	attempt := model.TierAttempt{
		Tier:     tier,
		Duration: o.nowFunc().Sub(start),
	}

	if err != nil {
		attempt.Status = model.AttemptFailed
		attempt.EscalationReason = failureReason(err)
		zap.L().Warn("tier attempt failed",
			zap.Stringer("tier", tier),
			zap.String("extractor", ext.Name()),
			zap.Error(err))
		return attempt
	}

	data := mapping.MapToCertificateData(out.Fields)
	confidence := mapping.CalculateConfidence(data)
	// A provider that doubts its own read caps the completeness score: a
	// full field map extracted from a murky scan still escalates.
	if out.Confidence > 0 && out.Confidence < confidence {
		confidence = out.Confidence
	}
	threshold := snap.EffectiveThreshold(tier, certificateType(data, *in.Analysis))

	attempt.Data = data
	attempt.Confidence = confidence
	attempt.FieldCount = mapping.FieldCount(data)
	attempt.CostUSD = out.CostUSD
	attempt.RawResponse = out.Raw

	if confidence >= threshold {
		attempt.Status = model.AttemptSuccess
	} else {
		attempt.Status = model.AttemptLowConfidence
		attempt.EscalationReason = fmt.Sprintf("confidence %.2f below threshold %.2f", confidence, threshold)
	}
	return attempt
}

func (o *Orchestrator) record(doc model.Document, runID string, ctype model.CertificateType, attempt model.TierAttempt) {
	if o.audit == nil {
		return
	}
	o.audit.Submit(model.AuditRecord{
		ID:               o.newID(),
		RunID:            runID,
		DocumentID:       doc.ID,
		CertificateType:  ctype,
		Tier:             attempt.Tier,
		Status:           attempt.Status,
		Confidence:       attempt.Confidence,
		DurationMs:       attempt.Duration.Milliseconds(),
		FieldCount:       attempt.FieldCount,
		CostUSD:          attempt.CostUSD,
		EscalationReason: attempt.EscalationReason,
		RawResponse:      attempt.RawResponse,
		CreatedAt:        o.nowFunc(),
	})
}

// certificateType prefers the type the attempt itself extracted, falling
// back to the format analyzer's keyword detection.
func certificateType(data *model.CertificateData, analysis format.Analysis) model.CertificateType {
	if data != nil && data.CertificateType != model.CertTypeUnknown && data.CertificateType != "" {
		return data.CertificateType
	}
	return analysis.DetectedType
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit open"
	case errors.Is(err, resilience.ErrTimeout):
		return "timeout"
	default:
		msg := err.Error()
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return msg
	}
}
