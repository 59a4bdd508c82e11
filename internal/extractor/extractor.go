// Package extractor defines the interface and implementations for the
// tiered certificate extraction methods.
package extractor

import (
	"context"
	"sync"

	"github.com/compliacert/extract-cli/internal/format"
	"github.com/compliacert/extract-cli/internal/model"
	"github.com/compliacert/extract-cli/internal/settings"
)

// Input is the document plus preprocessing state handed to each tier.
type Input struct {
	Document model.Document
	Analysis *format.Analysis
	Settings settings.Settings
}

// Output is the raw field map produced by a tier attempt. Mapping into
// CertificateData and completeness scoring happen in the orchestrator.
type Output struct {
	Fields map[string]any
	// Confidence is the provider's own read confidence in [0,1], distinct
	// from the post-hoc completeness score. Zero means the tier does not
	// report one.
	Confidence float64
	CostUSD    float64
	Raw        string
}

// Extractor is a single tier's extraction method.
type Extractor interface {
	// Tier returns the escalation tier this extractor serves.
	Tier() model.Tier
	// Name returns the extractor identifier used for circuit breakers and audit.
	Name() string
	// Configured reports whether required credentials and clients are present.
	Configured() bool
	// Extract attempts to pull certificate fields from the document.
	Extract(ctx context.Context, in *Input) (*Output, error)
}

// Registry manages the available extractors keyed by tier.
type Registry struct {
	mu         sync.RWMutex
	extractors map[model.Tier]Extractor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		extractors: make(map[model.Tier]Extractor),
	}
}

// Register adds an extractor. A later registration for the same tier
// replaces the earlier one.
func (r *Registry) Register(e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[e.Tier()] = e
}

// Get returns the extractor for a tier, or nil if none is registered.
func (r *Registry) Get(tier model.Tier) Extractor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.extractors[tier]
}

// List returns the names of all registered extractors.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.extractors))
	for _, e := range r.extractors {
		names = append(names, e.Name())
	}
	return names
}
