package mapping

import "github.com/compliacert/extract-cli/internal/model"

// Confidence bounds for the completeness score. Never exactly 0 or 1:
// completeness is a heuristic, not a certainty.
const (
	confidenceFloor   = 0.10
	confidenceCeiling = 0.95
)

// loadBearingFieldCount is the size of the fixed field set the score is
// computed over: type, number, address, inspection date, expiry date,
// outcome, and engineer-or-contractor name.
const loadBearingFieldCount = 7

// CalculateConfidence scores field completeness over the load-bearing field
// set, scaled linearly into [0.10, 0.95]. This is the post-hoc completeness
// score, distinct from any confidence the provider itself reports.
func CalculateConfidence(data *model.CertificateData) float64 {
	if data == nil {
		return confidenceFloor
	}

	filled := 0
	if data.CertificateType != model.CertTypeUnknown {
		filled++
	}
	if data.CertificateNumber != "" {
		filled++
	}
	if data.PropertyAddress != "" {
		filled++
	}
	if data.InspectionDate != "" {
		filled++
	}
	if data.ExpiryDate != "" {
		filled++
	}
	if data.Outcome != nil {
		filled++
	}
	if data.EngineerName != "" || data.ContractorName != "" {
		filled++
	}

	return confidenceFloor + (confidenceCeiling-confidenceFloor)*float64(filled)/loadBearingFieldCount
}
