// Package mapping normalizes raw adapter output into the canonical
// certificate shape and scores field completeness. Everything here is
// defensive: adapters return arbitrary JSON-shaped maps, and nothing in this
// package trusts their types.
package mapping

import (
	"fmt"
	"sort"
	"strings"

	"github.com/compliacert/extract-cli/internal/model"
)

// scalarFields maps raw keys to setters on the canonical shape. Keys not in
// this table (and not appliances/defects/outcome) land in AdditionalFields.
var scalarFields = map[string]func(*model.CertificateData, string){
	"certificate_number":    func(d *model.CertificateData, v string) { d.CertificateNumber = v },
	"property_address":      func(d *model.CertificateData, v string) { d.PropertyAddress = v },
	"uprn":                  func(d *model.CertificateData, v string) { d.UPRN = v },
	"inspection_date":       func(d *model.CertificateData, v string) { d.InspectionDate = v },
	"expiry_date":           func(d *model.CertificateData, v string) { d.ExpiryDate = v },
	"next_inspection_date":  func(d *model.CertificateData, v string) { d.NextInspectionDate = v },
	"engineer_name":         func(d *model.CertificateData, v string) { d.EngineerName = v },
	"engineer_registration": func(d *model.CertificateData, v string) { d.EngineerReg = v },
	"contractor_name":       func(d *model.CertificateData, v string) { d.ContractorName = v },
}

// MapToCertificateData converts a raw field map into the canonical shape.
// Invalid enum values become nil rather than a guess, non-array collections
// become empty arrays, and non-string scalars are stringified into the
// additional-fields map. Never returns nil and never panics on hostile input.
func MapToCertificateData(raw map[string]any) *model.CertificateData {
	data := model.NewCertificateData()
	if raw == nil {
		return data
	}

	for key, value := range raw {
		if value == nil {
			continue
		}
		switch key {
		case "certificate_type":
			data.CertificateType = model.ParseCertificateType(stringify(value))
		case "outcome":
			data.Outcome = model.ParseOutcome(stringify(value))
		case "appliances":
			data.Appliances = coerceAppliances(value)
		case "defects":
			data.Defects = coerceDefects(value)
		default:
			if set, ok := scalarFields[key]; ok {
				set(data, strings.TrimSpace(stringify(value)))
			} else {
				data.AdditionalFields[key] = stringify(value)
			}
		}
	}

	return data
}

// coerceAppliances accepts only a slice of objects; anything else collapses
// to an empty slice.
func coerceAppliances(value any) []model.Appliance {
	items, ok := value.([]any)
	if !ok {
		return []model.Appliance{}
	}
	out := make([]model.Appliance, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, model.Appliance{
			Type:     stringify(m["type"]),
			Location: stringify(m["location"]),
			Make:     stringify(m["make"]),
			Model:    stringify(m["model"]),
			Result:   stringify(m["result"]),
		})
	}
	return out
}

func coerceDefects(value any) []model.Defect {
	items, ok := value.([]any)
	if !ok {
		return []model.Defect{}
	}
	out := make([]model.Defect, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		remedied, _ := m["remedied"].(bool)
		out = append(out, model.Defect{
			Code:        stringify(m["code"]),
			Description: stringify(m["description"]),
			Severity:    stringify(m["severity"]),
			Remedied:    remedied,
		})
	}
	return out
}

// stringify renders any scalar as a string. Maps and slices serialize as a
// stable best-effort representation; nil becomes the empty string.
func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		// JSON numbers arrive as float64; render integers without decimals.
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+stringify(v[k]))
		}
		return strings.Join(parts, "; ")
	default:
		return fmt.Sprintf("%v", v)
	}
}

// FieldCount returns how many canonical fields carry a value, used for audit
// records and adapter result sizing.
func FieldCount(data *model.CertificateData) int {
	if data == nil {
		return 0
	}
	count := 0
	if data.CertificateType != model.CertTypeUnknown {
		count++
	}
	for _, v := range []string{
		data.CertificateNumber, data.PropertyAddress, data.UPRN,
		data.InspectionDate, data.ExpiryDate, data.NextInspectionDate,
		data.EngineerName, data.EngineerReg, data.ContractorName,
	} {
		if strings.TrimSpace(v) != "" {
			count++
		}
	}
	if data.Outcome != nil {
		count++
	}
	count += len(data.Appliances)
	count += len(data.Defects)
	count += len(data.AdditionalFields)
	return count
}
