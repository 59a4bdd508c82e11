package extractor

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/compliacert/extract-cli/internal/format"
	"github.com/compliacert/extract-cli/internal/model"
	"github.com/compliacert/extract-cli/pkg/docintel"
)

// docPagePriceUSD is the online processing price per page.
const docPagePriceUSD = 0.0015

// entityFields maps Document AI entity types to canonical field names.
// Covers both custom-processor schemas and the generic form parser.
var entityFields = map[string]string{
	"certificate_number":  "certificate_number",
	"certificate_id":      "certificate_number",
	"document_id":         "certificate_number",
	"property_address":    "property_address",
	"address":             "property_address",
	"receiver_address":    "property_address",
	"uprn":                "uprn",
	"inspection_date":     "inspection_date",
	"issue_date":          "inspection_date",
	"invoice_date":        "inspection_date",
	"expiry_date":         "expiry_date",
	"due_date":            "expiry_date",
	"next_inspection":     "next_inspection_date",
	"engineer_name":       "engineer_name",
	"inspector_name":      "engineer_name",
	"engineer_reg":        "engineer_registration",
	"registration_number": "engineer_registration",
	"contractor_name":     "contractor_name",
	"supplier_name":       "contractor_name",
	"outcome":             "outcome",
	"result":              "outcome",
}

// formLabels maps normalized form-field labels to canonical field names.
var formLabels = map[string]string{
	"certificate number":  "certificate_number",
	"certificate no":      "certificate_number",
	"record number":       "certificate_number",
	"property address":    "property_address",
	"site address":        "property_address",
	"uprn":                "uprn",
	"inspection date":     "inspection_date",
	"date of inspection":  "inspection_date",
	"issue date":          "inspection_date",
	"expiry date":         "expiry_date",
	"valid until":         "expiry_date",
	"next inspection":     "next_inspection_date",
	"next inspection due": "next_inspection_date",
	"engineer name":       "engineer_name",
	"engineer":            "engineer_name",
	"inspector":           "engineer_name",
	"gas safe number":     "engineer_registration",
	"registration number": "engineer_registration",
	"contractor":          "contractor_name",
	"company":             "contractor_name",
	"outcome":             "outcome",
	"result":              "outcome",
	"overall assessment":  "outcome",
}

// DocIntel is the tier-3 extractor. It runs the document through a
// layout-aware OCR processor and maps recognized entities and form
// fields into certificate fields.
type DocIntel struct {
	client docintel.Client
}

// NewDocIntel creates the document-intelligence extractor. A nil client
// leaves the tier unconfigured.
func NewDocIntel(client docintel.Client) *DocIntel {
	return &DocIntel{client: client}
}

func (d *DocIntel) Tier() model.Tier { return model.TierDocIntel }
func (d *DocIntel) Name() string     { return "doc_intelligence" }
func (d *DocIntel) Configured() bool { return d.client != nil }

func (d *DocIntel) Extract(ctx context.Context, in *Input) (*Output, error) {
	mime := in.Document.MimeType
	if mime == "" && in.Analysis != nil && in.Analysis.Format == "pdf" {
		mime = "application/pdf"
	}

	res, err := d.client.ProcessBytes(ctx, docintel.ProcessRequest{
		MimeType: mime,
		Data:     in.Document.Data,
	})
	if err != nil {
		return nil, eris.Wrap(err, "doc_intelligence: process")
	}

	fields := map[string]any{}

	for _, e := range res.Entities {
		key, ok := entityFields[strings.ToLower(strings.TrimSpace(e.Type))]
		if !ok {
			continue
		}
		setIfAbsent(fields, key, e.Value)
	}

	for label, value := range res.Fields {
		key, ok := formLabels[normalizeLabel(label)]
		if !ok {
			continue
		}
		if v := strings.TrimSpace(value); v != "" {
			setIfAbsent(fields, key, v)
		}
	}

	if _, ok := fields["certificate_type"]; !ok && res.Text != "" {
		if ctype := format.DetectCertificateType(res.Text); ctype != model.CertTypeUnknown {
			fields["certificate_type"] = string(ctype)
		}
	}

	pages := res.Pages
	if pages < 1 {
		pages = 1
	}

	return &Output{
		Fields:     fields,
		Confidence: res.MeanConfidence(),
		CostUSD:    float64(pages) * docPagePriceUSD,
		Raw:        res.Text,
	}, nil
}

func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, ":.*")
	return strings.Join(strings.Fields(strings.ReplaceAll(s, "_", " ")), " ")
}
