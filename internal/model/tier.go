package model

// Tier is one extraction strategy at a fixed position in the cost-ascending
// escalation order. The ordinal values define the traversal sequence; never
// reorder them.
type Tier int

const (
	// TierQR reads QR payloads and embedded document metadata. Free.
	TierQR Tier = iota
	// TierTemplate matches regex/template patterns against extracted text. Free.
	TierTemplate
	// TierAIText sends the text layer to a cheap text model.
	TierAIText
	// TierDocIntel sends the document to a managed document-intelligence service.
	TierDocIntel
	// TierVision sends page images to a vision-capable model.
	TierVision
	// TierManualReview is the terminal state: no automated tier produced an
	// acceptable result and a human must review the document.
	TierManualReview
)

// AllTiers lists the automated tiers in traversal order. TierManualReview is
// excluded: it is a destination, not an attempt.
var AllTiers = []Tier{TierQR, TierTemplate, TierAIText, TierDocIntel, TierVision}

func (t Tier) String() string {
	switch t {
	case TierQR:
		return "qr_metadata"
	case TierTemplate:
		return "template"
	case TierAIText:
		return "ai_text"
	case TierDocIntel:
		return "doc_intelligence"
	case TierVision:
		return "ai_vision"
	case TierManualReview:
		return "manual_review"
	default:
		return "unknown"
	}
}

// ParseTier maps a tier label back to its ordinal. Accepts the String()
// forms used in audit records and API filters.
func ParseTier(s string) (Tier, bool) {
	for _, t := range append(AllTiers, TierManualReview) {
		if t.String() == s {
			return t, true
		}
	}
	return 0, false
}

// tierCosts is the static per-tier cost table in USD. The budget check
// projects against these estimates, not measured billing; actual cost per
// attempt is recorded separately in the audit trail.
var tierCosts = map[Tier]float64{
	TierQR:           0,
	TierTemplate:     0,
	TierAIText:       0.01,
	TierDocIntel:     0.015,
	TierVision:       0.05,
	TierManualReview: 0,
}

// EstimatedCostUSD returns the static cost estimate for attempting this tier.
func (t Tier) EstimatedCostUSD() float64 {
	return tierCosts[t]
}

// AttemptStatus is the recorded outcome of one tier attempt.
type AttemptStatus string

const (
	AttemptSuccess       AttemptStatus = "SUCCESS"
	AttemptLowConfidence AttemptStatus = "LOW_CONFIDENCE"
	AttemptFailed        AttemptStatus = "FAILED"
	AttemptSkipped       AttemptStatus = "SKIPPED"
)
