// Package settings supplies extraction thresholds, feature flags, and custom
// patterns from a key/value settings store, cached with a short TTL. One
// immutable snapshot is taken per extraction run and never mutated mid-run.
package settings

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/compliacert/extract-cli/internal/model"
)

// Setting keys in the settings store.
const (
	KeyAIEnabled          = "AI_EXTRACTION_ENABLED"
	KeyTier1Threshold     = "TIER1_CONFIDENCE_THRESHOLD"
	KeyTier2Threshold     = "TIER2_CONFIDENCE_THRESHOLD"
	KeyTier3Threshold     = "TIER3_CONFIDENCE_THRESHOLD"
	KeyMaxCostPerDocument = "MAX_COST_PER_DOCUMENT"
	KeyDocTypeThresholds  = "DOCUMENT_TYPE_THRESHOLDS"  // JSON object: type -> threshold
	KeyCustomPatterns     = "CUSTOM_EXTRACTION_PATTERNS" // JSON object: type -> []{field,pattern}
)

// KnownKey reports whether a key is one of the recognized settings, so
// writers can reject typos before they land in the store.
func KnownKey(key string) bool {
	switch key {
	case KeyAIEnabled, KeyTier1Threshold, KeyTier2Threshold, KeyTier3Threshold,
		KeyMaxCostPerDocument, KeyDocTypeThresholds, KeyCustomPatterns:
		return true
	default:
		return false
	}
}

// Pattern is one custom extraction pattern for a certificate type.
type Pattern struct {
	Field   string `json:"field"`
	Pattern string `json:"pattern"`
}

// Settings is an immutable per-run snapshot of extraction configuration.
type Settings struct {
	AIEnabled          bool
	TierThresholds     map[model.Tier]float64
	DocTypeThresholds  map[model.CertificateType]float64
	MaxCostPerDocument float64
	CustomPatterns     map[model.CertificateType][]Pattern
}

// Default returns the built-in configuration used when the settings store
// has no overrides.
func Default() Settings {
	return Settings{
		AIEnabled: true,
		TierThresholds: map[model.Tier]float64{
			model.TierQR:       0.80,
			model.TierTemplate: 0.80,
			model.TierAIText:   0.75,
			model.TierDocIntel: 0.75,
			model.TierVision:   0.65,
		},
		DocTypeThresholds:  map[model.CertificateType]float64{},
		MaxCostPerDocument: 0.10,
		CustomPatterns:     map[model.CertificateType][]Pattern{},
	}
}

// EffectiveThreshold returns the confidence bar for a tier attempt:
// the per-document-type override when one exists, otherwise the tier's own
// threshold. Document-type thresholds are plain overrides, not a second
// budget dimension.
func (s Settings) EffectiveThreshold(tier model.Tier, ctype model.CertificateType) float64 {
	if t, ok := s.DocTypeThresholds[ctype]; ok {
		return t
	}
	if t, ok := s.TierThresholds[tier]; ok {
		return t
	}
	return 0.80
}

// FromValues builds a snapshot from raw store values, falling back to
// defaults for missing or malformed entries. Malformed JSON never fails the
// run; it just loses the override.
func FromValues(values map[string]string) Settings {
	s := Default()

	if v, ok := values[KeyAIEnabled]; ok {
		s.AIEnabled = parseBool(v, s.AIEnabled)
	}
	if v, ok := values[KeyTier1Threshold]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			s.TierThresholds[model.TierQR] = f
			s.TierThresholds[model.TierTemplate] = f
		}
	}
	if v, ok := values[KeyTier2Threshold]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			s.TierThresholds[model.TierAIText] = f
			s.TierThresholds[model.TierDocIntel] = f
		}
	}
	if v, ok := values[KeyTier3Threshold]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			s.TierThresholds[model.TierVision] = f
		}
	}
	if v, ok := values[KeyMaxCostPerDocument]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			s.MaxCostPerDocument = f
		}
	}
	if v, ok := values[KeyDocTypeThresholds]; ok && v != "" {
		var raw map[string]float64
		if err := json.Unmarshal([]byte(v), &raw); err == nil {
			for typ, threshold := range raw {
				s.DocTypeThresholds[model.ParseCertificateType(typ)] = threshold
			}
		}
	}
	if v, ok := values[KeyCustomPatterns]; ok && v != "" {
		var raw map[string][]Pattern
		if err := json.Unmarshal([]byte(v), &raw); err == nil {
			for typ, patterns := range raw {
				s.CustomPatterns[model.ParseCertificateType(typ)] = patterns
			}
		}
	}

	return s
}

func parseBool(v string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return fallback
	}
}

// DefaultTTL is how long a cached snapshot stays fresh.
const DefaultTTL = 60 * time.Second
