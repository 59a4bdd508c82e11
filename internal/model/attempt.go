package model

import "time"

// TierAttempt captures one tier's outcome within a run.
type TierAttempt struct {
	Tier             Tier             `json:"tier"`
	Status           AttemptStatus    `json:"status"`
	Confidence       float64          `json:"confidence"`
	Duration         time.Duration    `json:"duration"`
	FieldCount       int              `json:"field_count"`
	CostUSD          float64          `json:"cost_usd"`
	EscalationReason string           `json:"escalation_reason,omitempty"`
	Data             *CertificateData `json:"data,omitempty"`
	RawResponse      string           `json:"-"` // audit only, never returned to callers
}

// ExtractionResult is the final output of one orchestrated run.
type ExtractionResult struct {
	RunID       string           `json:"run_id"`
	Data        *CertificateData `json:"data"`
	Confidence  float64          `json:"confidence"`
	TierReached Tier             `json:"tier_reached"`
	Status      AttemptStatus    `json:"status"`
	Attempts    []TierAttempt    `json:"attempts"`
	TotalCost   float64          `json:"total_cost_usd"`
	Duration    time.Duration    `json:"duration"`
}

// RequiresManualReview reports whether the run ended at the terminal tier
// without an accepted automated result.
func (r *ExtractionResult) RequiresManualReview() bool {
	return r.TierReached == TierManualReview
}

// AuditRecord is the persisted, write-once record of one tier attempt.
// One row per attempted tier per run; rows for a single run preserve
// tier-ascending order.
type AuditRecord struct {
	ID               string          `json:"id"`
	RunID            string          `json:"run_id"`
	DocumentID       string          `json:"document_id"`
	CertificateType  CertificateType `json:"certificate_type"`
	Tier             Tier            `json:"tier"`
	Status           AttemptStatus   `json:"status"`
	Confidence       float64         `json:"confidence"`
	DurationMs       int64           `json:"duration_ms"`
	FieldCount       int             `json:"field_count"`
	CostUSD          float64         `json:"cost_usd"`
	EscalationReason string          `json:"escalation_reason,omitempty"`
	RawResponse      string          `json:"raw_response,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}
