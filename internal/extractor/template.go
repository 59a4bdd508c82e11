package extractor

import (
	"context"
	_ "embed"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/compliacert/extract-cli/internal/format"
	"github.com/compliacert/extract-cli/internal/model"
	"github.com/compliacert/extract-cli/internal/settings"
)

//go:embed patterns.yaml
var builtinPatternsYAML []byte

type patternDef struct {
	Field   string `yaml:"field"`
	Pattern string `yaml:"pattern"`
}

type compiledPattern struct {
	field string
	re    *regexp.Regexp
}

// Template is the tier-1 extractor. It runs a library of per-type regex
// patterns over the document's text layer. Custom patterns from admin
// settings run before the built-in library so operators can override it.
type Template struct {
	builtin map[string][]compiledPattern
}

// NewTemplate loads the built-in pattern library.
func NewTemplate() (*Template, error) {
	var raw map[string][]patternDef
	if err := yaml.Unmarshal(builtinPatternsYAML, &raw); err != nil {
		return nil, eris.Wrap(err, "template: parse pattern library")
	}

	builtin := make(map[string][]compiledPattern, len(raw))
	for ctype, defs := range raw {
		for _, def := range defs {
			re, err := regexp.Compile(def.Pattern)
			if err != nil {
				return nil, eris.Wrapf(err, "template: pattern %s/%s", ctype, def.Field)
			}
			builtin[ctype] = append(builtin[ctype], compiledPattern{field: def.Field, re: re})
		}
	}

	return &Template{builtin: builtin}, nil
}

func (t *Template) Tier() model.Tier { return model.TierTemplate }
func (t *Template) Name() string     { return "template" }
func (t *Template) Configured() bool { return true }

func (t *Template) Extract(ctx context.Context, in *Input) (*Output, error) {
	text := ""
	if in.Analysis != nil {
		text = in.Analysis.TextContent
	}
	if strings.TrimSpace(text) == "" {
		return nil, eris.New("template: document has no text layer")
	}

	ctype := model.CertTypeUnknown
	if in.Analysis != nil {
		ctype = in.Analysis.DetectedType
	}
	if ctype == model.CertTypeUnknown {
		ctype = format.DetectCertificateType(text)
	}

	fields := map[string]any{}
	if ctype != model.CertTypeUnknown {
		fields["certificate_type"] = string(ctype)
	}

	for _, p := range t.customPatterns(in.Settings, ctype) {
		applyPattern(p, text, fields)
	}
	for _, p := range t.patternsFor(ctype) {
		applyPattern(p, text, fields)
	}

	return &Output{Fields: fields, CostUSD: 0}, nil
}

// patternsFor returns type-specific patterns followed by the common set.
func (t *Template) patternsFor(ctype model.CertificateType) []compiledPattern {
	var out []compiledPattern
	if ctype != model.CertTypeUnknown {
		out = append(out, t.builtin[strings.ToLower(string(ctype))]...)
	}
	return append(out, t.builtin["common"]...)
}

// customPatterns compiles operator-supplied patterns for the detected
// type. Invalid expressions are logged and skipped rather than failing
// the attempt.
func (t *Template) customPatterns(s settings.Settings, ctype model.CertificateType) []compiledPattern {
	defs := s.CustomPatterns[ctype]
	if len(defs) == 0 {
		return nil
	}
	out := make([]compiledPattern, 0, len(defs))
	for _, def := range defs {
		re, err := regexp.Compile(def.Pattern)
		if err != nil {
			zap.L().Warn("skipping invalid custom pattern",
				zap.String("certificate_type", string(ctype)),
				zap.String("field", def.Field),
				zap.Error(err))
			continue
		}
		out = append(out, compiledPattern{field: def.Field, re: re})
	}
	return out
}

func applyPattern(p compiledPattern, text string, fields map[string]any) {
	if _, ok := fields[p.field]; ok {
		return
	}
	m := p.re.FindStringSubmatch(text)
	if m == nil {
		return
	}
	value := m[0]
	if len(m) > 1 {
		value = m[1]
	}
	value = strings.TrimSpace(value)
	if value != "" {
		fields[p.field] = value
	}
}
