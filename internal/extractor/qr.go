package extractor

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/compliacert/extract-cli/internal/model"
)

// QRMetadata is the tier-0 extractor. It reads structured payloads that
// issuing software embeds directly in the document: JSON blobs in PDF
// metadata fields and QR-style key/value payloads in the text layer.
// It is free and fully local.
type QRMetadata struct{}

func NewQRMetadata() *QRMetadata {
	return &QRMetadata{}
}

func (q *QRMetadata) Tier() model.Tier { return model.TierQR }
func (q *QRMetadata) Name() string     { return "qr_metadata" }
func (q *QRMetadata) Configured() bool { return true }

var (
	// PDF Info dictionary string entries, e.g. /Keywords (…) or /Subject <…>.
	pdfInfoRe = regexp.MustCompile(`/(Title|Subject|Keywords|Author|Custom)\s*\(((?:\\.|[^\\)])*)\)`)

	// Pipe-delimited payloads as printed next to QR codes by common
	// certificate software: CERT|GAS_SAFETY|12345|2026-01-15|...
	qrPipeRe = regexp.MustCompile(`(?m)CERT\|([A-Z_]+)\|([^|\s]+)\|(\d{4}-\d{2}-\d{2})(?:\|(\d{4}-\d{2}-\d{2}))?`)

	// key=value payloads, e.g. cert_no=GSR-12345;type=GAS_SAFETY;issued=2025-01-10
	qrKVRe = regexp.MustCompile(`(?m)\b(cert_no|cert_type|issued|expires|address|engineer|outcome)\s*=\s*([^;&\n]+)`)
)

func (q *QRMetadata) Extract(ctx context.Context, in *Input) (*Output, error) {
	fields := map[string]any{}

	if in.Analysis != nil && in.Analysis.Format == "pdf" {
		q.scanInfoDict(in.Document.Data, fields)
	}

	text := ""
	if in.Analysis != nil {
		text = in.Analysis.TextContent
	}
	if text != "" {
		q.scanPayloads(text, fields)
	}

	return &Output{Fields: fields, CostUSD: 0}, nil
}

// scanInfoDict pulls string entries out of the PDF Info dictionary and
// unpacks any JSON payload found there.
func (q *QRMetadata) scanInfoDict(data []byte, fields map[string]any) {
	for _, m := range pdfInfoRe.FindAllSubmatch(data, -1) {
		value := unescapePDFLiteral(string(m[2]))
		if value == "" {
			continue
		}
		if payload := tryJSONPayload(value); payload != nil {
			mergePayload(payload, fields)
			continue
		}
		switch string(m[1]) {
		case "Keywords", "Subject":
			// Some issuers put the certificate number here verbatim.
			if looksLikeCertNumber(value) {
				setIfAbsent(fields, "certificate_number", value)
			}
		}
	}
}

// scanPayloads looks for QR-style structured payloads in extracted text.
func (q *QRMetadata) scanPayloads(text string, fields map[string]any) {
	if m := qrPipeRe.FindStringSubmatch(text); m != nil {
		setIfAbsent(fields, "certificate_type", m[1])
		setIfAbsent(fields, "certificate_number", m[2])
		setIfAbsent(fields, "inspection_date", m[3])
		if m[4] != "" {
			setIfAbsent(fields, "expiry_date", m[4])
		}
	}

	for _, m := range qrKVRe.FindAllStringSubmatch(text, -1) {
		value := strings.TrimSpace(m[2])
		if value == "" {
			continue
		}
		switch m[1] {
		case "cert_no":
			setIfAbsent(fields, "certificate_number", value)
		case "cert_type":
			setIfAbsent(fields, "certificate_type", value)
		case "issued":
			setIfAbsent(fields, "inspection_date", value)
		case "expires":
			setIfAbsent(fields, "expiry_date", value)
		case "address":
			setIfAbsent(fields, "property_address", value)
		case "engineer":
			setIfAbsent(fields, "engineer_name", value)
		case "outcome":
			setIfAbsent(fields, "outcome", value)
		}
	}

	if embedded := extractEmbeddedJSON(text); embedded != nil {
		mergePayload(embedded, fields)
	}
}

// payloadKeys maps issuer payload key spellings to canonical field names.
var payloadKeys = map[string]string{
	"certificate_number": "certificate_number",
	"cert_no":            "certificate_number",
	"certificate_type":   "certificate_type",
	"cert_type":          "certificate_type",
	"type":               "certificate_type",
	"property_address":   "property_address",
	"address":            "property_address",
	"uprn":               "uprn",
	"inspection_date":    "inspection_date",
	"issued":             "inspection_date",
	"expiry_date":        "expiry_date",
	"expires":            "expiry_date",
	"engineer_name":      "engineer_name",
	"engineer":           "engineer_name",
	"engineer_reg":       "engineer_registration",
	"contractor":         "contractor_name",
	"contractor_name":    "contractor_name",
	"outcome":            "outcome",
	"result":             "outcome",
}

func mergePayload(payload map[string]any, fields map[string]any) {
	for k, v := range payload {
		canonical, ok := payloadKeys[strings.ToLower(strings.TrimSpace(k))]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok || strings.TrimSpace(s) == "" {
			continue
		}
		setIfAbsent(fields, canonical, strings.TrimSpace(s))
	}
}

func tryJSONPayload(s string) map[string]any {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

// extractEmbeddedJSON finds the first JSON object in free text that
// carries at least one recognized payload key.
func extractEmbeddedJSON(text string) map[string]any {
	start := strings.Index(text, "{")
	for start >= 0 {
		end := strings.Index(text[start:], "}")
		if end < 0 {
			return nil
		}
		candidate := text[start : start+end+1]
		if payload := tryJSONPayload(candidate); payload != nil {
			for k := range payload {
				if _, ok := payloadKeys[strings.ToLower(k)]; ok {
					return payload
				}
			}
		}
		next := strings.Index(text[start+1:], "{")
		if next < 0 {
			return nil
		}
		start = start + 1 + next
	}
	return nil
}

var certNumberRe = regexp.MustCompile(`^[A-Z]{2,5}[-/]?\d{4,}$`)

func looksLikeCertNumber(s string) bool {
	return certNumberRe.MatchString(strings.TrimSpace(s))
}

func setIfAbsent(fields map[string]any, key, value string) {
	if _, ok := fields[key]; !ok {
		fields[key] = value
	}
}

func unescapePDFLiteral(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			switch s[i] {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(s[i])
			}
			continue
		}
		b.WriteByte(s[i])
	}
	return strings.TrimSpace(b.String())
}
