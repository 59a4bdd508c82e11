// Package model defines the core data shapes shared across the extraction
// pipeline: certificates, tiers, attempt results, and audit records.
package model

import (
	"strings"
	"time"
)

// CertificateType identifies the kind of compliance certificate a document
// claims to be. The set is closed; unknown inputs normalize to
// CertTypeUnknown rather than passing through free text.
type CertificateType string

const (
	CertTypeGasSafety  CertificateType = "GAS_SAFETY"
	CertTypeEICR       CertificateType = "EICR"
	CertTypeFireRisk   CertificateType = "FIRE_RISK"
	CertTypeEPC        CertificateType = "EPC"
	CertTypeLegionella CertificateType = "LEGIONELLA"
	CertTypeAsbestos   CertificateType = "ASBESTOS"
	CertTypeLift       CertificateType = "LIFT_LOLER"
	CertTypeUnknown    CertificateType = "UNKNOWN"
)

// certificateTypes is the closed set used for defensive normalization.
var certificateTypes = map[CertificateType]bool{
	CertTypeGasSafety:  true,
	CertTypeEICR:       true,
	CertTypeFireRisk:   true,
	CertTypeEPC:        true,
	CertTypeLegionella: true,
	CertTypeAsbestos:   true,
	CertTypeLift:       true,
	CertTypeUnknown:    true,
}

// ParseCertificateType normalizes a raw type code. Unrecognized values map to
// CertTypeUnknown.
func ParseCertificateType(raw string) CertificateType {
	ct := CertificateType(strings.ToUpper(strings.TrimSpace(raw)))
	if certificateTypes[ct] {
		return ct
	}
	// Common aliases seen on scanned certificates.
	switch ct {
	case "CP12", "GAS", "LGSR":
		return CertTypeGasSafety
	case "ELECTRICAL", "EIC":
		return CertTypeEICR
	case "FRA", "FIRE":
		return CertTypeFireRisk
	case "LOLER":
		return CertTypeLift
	}
	return CertTypeUnknown
}

// Outcome is the overall result recorded on a certificate.
type Outcome string

const (
	OutcomePass           Outcome = "PASS"
	OutcomeFail           Outcome = "FAIL"
	OutcomeSatisfactory   Outcome = "SATISFACTORY"
	OutcomeUnsatisfactory Outcome = "UNSATISFACTORY"
	OutcomeNotApplicable  Outcome = "N/A"
)

// validOutcomes is the closed set accepted by the mapping layer.
var validOutcomes = map[Outcome]bool{
	OutcomePass:           true,
	OutcomeFail:           true,
	OutcomeSatisfactory:   true,
	OutcomeUnsatisfactory: true,
	OutcomeNotApplicable:  true,
}

// ParseOutcome validates a raw outcome string against the closed set.
// Returns nil for anything it does not recognize — the mapping layer never
// guesses an outcome.
func ParseOutcome(raw string) *Outcome {
	o := Outcome(strings.ToUpper(strings.TrimSpace(raw)))
	if o == "NA" || o == "N.A." || o == "NOT APPLICABLE" {
		o = OutcomeNotApplicable
	}
	if validOutcomes[o] {
		return &o
	}
	return nil
}

// Appliance is a single inspected appliance on a gas or electrical certificate.
type Appliance struct {
	Type     string `json:"type"`
	Location string `json:"location"`
	Make     string `json:"make"`
	Model    string `json:"model"`
	Result   string `json:"result"`
}

// Defect is a single fault or observation recorded on a certificate.
type Defect struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Remedied    bool   `json:"remedied"`
}

// CertificateData is the canonical extracted field set. Absent scalar fields
// hold empty strings or nil pointers, never missing keys: downstream
// consumers rely on key presence in the serialized form, so no field uses
// omitempty.
type CertificateData struct {
	CertificateType    CertificateType   `json:"certificate_type"`
	CertificateNumber  string            `json:"certificate_number"`
	PropertyAddress    string            `json:"property_address"`
	UPRN               string            `json:"uprn"`
	InspectionDate     string            `json:"inspection_date"`
	ExpiryDate         string            `json:"expiry_date"`
	NextInspectionDate string            `json:"next_inspection_date"`
	Outcome            *Outcome          `json:"outcome"`
	EngineerName       string            `json:"engineer_name"`
	EngineerReg        string            `json:"engineer_registration"`
	ContractorName     string            `json:"contractor_name"`
	Appliances         []Appliance       `json:"appliances"`
	Defects            []Defect          `json:"defects"`
	AdditionalFields   map[string]string `json:"additional_fields"`
}

// NewCertificateData returns a CertificateData with all collection fields
// initialized so the serialized form always carries every key.
func NewCertificateData() *CertificateData {
	return &CertificateData{
		CertificateType:  CertTypeUnknown,
		Appliances:       []Appliance{},
		Defects:          []Defect{},
		AdditionalFields: map[string]string{},
	}
}

// Document is the input to one extraction run.
type Document struct {
	ID           string          `json:"id"`
	Filename     string          `json:"filename"`
	MimeType     string          `json:"mime_type"`
	Data         []byte          `json:"-"`
	DeclaredType CertificateType `json:"declared_type"`
	UploadedAt   time.Time       `json:"uploaded_at,omitempty"`
}
