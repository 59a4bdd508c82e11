package mapping

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// extractionSchema constrains what AI adapters are allowed to hand the
// mapping layer: a JSON object whose known fields, when present, carry the
// right shape. Unknown properties are allowed — they flow into the
// additional-fields map.
const extractionSchema = `{
	"type": "object",
	"properties": {
		"certificate_type":      {"type": ["string", "null"]},
		"certificate_number":    {"type": ["string", "number", "null"]},
		"property_address":      {"type": ["string", "null"]},
		"uprn":                  {"type": ["string", "number", "null"]},
		"inspection_date":       {"type": ["string", "null"]},
		"expiry_date":           {"type": ["string", "null"]},
		"next_inspection_date":  {"type": ["string", "null"]},
		"outcome":               {"type": ["string", "null"]},
		"engineer_name":         {"type": ["string", "null"]},
		"engineer_registration": {"type": ["string", "number", "null"]},
		"contractor_name":       {"type": ["string", "null"]},
		"appliances":            {"type": ["array", "null"]},
		"defects":               {"type": ["array", "null"]}
	}
}`

var compiledSchema = jsonschema.MustCompileString("extraction.json", extractionSchema)

// ErrMalformedResponse marks provider output that could not be parsed as an
// extraction object. Adapters convert it into an empty zero-confidence
// output so the run escalates to the next tier instead of counting a
// circuit failure against a healthy provider.
var ErrMalformedResponse = eris.New("malformed provider response")

// ParseExtractionJSON parses and validates a provider's JSON output,
// stripping markdown fences first. Returns ErrMalformedResponse (wrapped)
// when the output is not a valid extraction object.
func ParseExtractionJSON(text string) (map[string]any, error) {
	cleaned := CleanJSON(text)
	if cleaned == "" {
		return nil, eris.Wrap(ErrMalformedResponse, "empty response")
	}

	var v any
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		return nil, eris.Wrapf(ErrMalformedResponse, "parse: %v", err)
	}
	if err := compiledSchema.Validate(v); err != nil {
		return nil, eris.Wrapf(ErrMalformedResponse, "schema: %v", err)
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, eris.Wrap(ErrMalformedResponse, "not a JSON object")
	}
	return obj, nil
}

// CleanJSON strips markdown code fences and surrounding prose, keeping the
// outermost JSON object. Models wrap their output more often than not.
func CleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
