package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compliacert/extract-cli/internal/extractor"
	"github.com/compliacert/extract-cli/internal/model"
	"github.com/compliacert/extract-cli/internal/resilience"
	"github.com/compliacert/extract-cli/internal/settings"
	"github.com/compliacert/extract-cli/pkg/claude"
)

// fakeExtractor is a scriptable tier for orchestration tests.
type fakeExtractor struct {
	tier       model.Tier
	name       string
	configured bool
	fields     map[string]any
	confidence float64
	cost       float64
	err        error
	calls      int
}

func (f *fakeExtractor) Tier() model.Tier { return f.tier }
func (f *fakeExtractor) Name() string     { return f.name }
func (f *fakeExtractor) Configured() bool { return f.configured }

func (f *fakeExtractor) Extract(context.Context, *extractor.Input) (*extractor.Output, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &extractor.Output{Fields: f.fields, Confidence: f.confidence, CostUSD: f.cost}, nil
}

// fakeSettingsStore backs the settings cache in tests.
type fakeSettingsStore struct {
	values map[string]string
}

func (f *fakeSettingsStore) GetSettings(context.Context) (map[string]string, error) {
	return f.values, nil
}

func (f *fakeSettingsStore) SetSetting(_ context.Context, key, value string) error {
	f.values[key] = value
	return nil
}

// memSink collects audit records synchronously.
type memSink struct {
	mu      sync.Mutex
	records []model.AuditRecord
}

func (m *memSink) Submit(rec model.AuditRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
}

func (m *memSink) byTier(tier model.Tier) *model.AuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].Tier == tier {
			return &m.records[i]
		}
	}
	return nil
}

// nFields returns a field map with n of the load-bearing fields filled,
// giving a completeness confidence of 0.10 + 0.85*n/7.
func nFields(n int) map[string]any {
	keys := [][2]string{
		{"certificate_type", "GAS_SAFETY"},
		{"certificate_number", "LGSR-1001"},
		{"property_address", "1 Test Street"},
		{"inspection_date", "2025-01-10"},
		{"expiry_date", "2026-01-10"},
		{"outcome", "PASS"},
		{"engineer_name", "A Tester"},
	}
	out := map[string]any{}
	for i := 0; i < n && i < len(keys); i++ {
		out[keys[i][0]] = keys[i][1]
	}
	return out
}

func fastGuard() resilience.GuardConfig {
	return resilience.GuardConfig{
		Timeout: 500 * time.Millisecond,
		Retry:   resilience.RetryConfig{MaxAttempts: 1},
	}
}

func newTestOrchestrator(sink AuditSink, values map[string]string, exts ...extractor.Extractor) *Orchestrator {
	reg := extractor.NewRegistry()
	for _, e := range exts {
		reg.Register(e)
	}
	cache := settings.NewCache(&fakeSettingsStore{values: values}, time.Minute)
	o := New(reg, resilience.NewPool(resilience.DefaultCircuitConfig()), cache, sink)
	return o.WithGuardConfig(fastGuard())
}

func testDoc() model.Document {
	return model.Document{ID: "doc-1", Filename: "cert.txt", MimeType: "text/plain", Data: []byte("certificate body")}
}

func TestRun_AcceptsFirstTierOverThreshold(t *testing.T) {
	qr := &fakeExtractor{tier: model.TierQR, name: "qr_metadata", configured: true, fields: nFields(7)}
	tpl := &fakeExtractor{tier: model.TierTemplate, name: "template", configured: true, fields: nFields(7)}
	o := newTestOrchestrator(nil, nil, qr, tpl)

	res, err := o.Run(context.Background(), testDoc())
	require.NoError(t, err)

	assert.Equal(t, model.TierQR, res.TierReached)
	assert.Equal(t, model.AttemptSuccess, res.Status)
	assert.InDelta(t, 0.95, res.Confidence, 1e-9)
	assert.False(t, res.RequiresManualReview())
	assert.Equal(t, 0, tpl.calls, "accepted result must stop escalation")
	assert.Len(t, res.Attempts, 1)
}

func TestRun_EscalatesOnLowConfidence(t *testing.T) {
	sink := &memSink{}
	// 5 of 7 fields: confidence ~0.71, under the 0.80 template threshold.
	tpl := &fakeExtractor{tier: model.TierTemplate, name: "template", configured: true, fields: nFields(5)}
	ai := &fakeExtractor{tier: model.TierAIText, name: "ai_text", configured: true, fields: nFields(7), cost: 0.008}
	o := newTestOrchestrator(sink, nil, tpl, ai)

	res, err := o.Run(context.Background(), testDoc())
	require.NoError(t, err)

	assert.Equal(t, model.TierAIText, res.TierReached)
	assert.Equal(t, model.AttemptSuccess, res.Status)
	assert.InDelta(t, 0.008, res.TotalCost, 1e-9)

	tplRec := sink.byTier(model.TierTemplate)
	require.NotNil(t, tplRec)
	assert.Equal(t, model.AttemptLowConfidence, tplRec.Status)
	assert.Contains(t, tplRec.EscalationReason, "below threshold")

	aiRec := sink.byTier(model.TierAIText)
	require.NotNil(t, aiRec)
	assert.Equal(t, model.AttemptSuccess, aiRec.Status)
}

func TestRun_DocTypeThresholdOverride(t *testing.T) {
	// 6 of 7 fields: confidence ~0.83, enough for the default 0.80 but not
	// for the stricter gas-safety override.
	values := map[string]string{
		settings.KeyDocTypeThresholds: `{"GAS_SAFETY": 0.90}`,
	}
	tpl := &fakeExtractor{tier: model.TierTemplate, name: "template", configured: true, fields: nFields(6)}
	ai := &fakeExtractor{tier: model.TierAIText, name: "ai_text", configured: true, fields: nFields(7)}
	o := newTestOrchestrator(nil, values, tpl, ai)

	res, err := o.Run(context.Background(), testDoc())
	require.NoError(t, err)

	assert.Equal(t, model.TierAIText, res.TierReached)
	assert.InDelta(t, 0.95, res.Confidence, 1e-9)
	assert.Equal(t, 1, tpl.calls)
	assert.Equal(t, 1, ai.calls)
}

func TestRun_SkipsUnconfiguredTier(t *testing.T) {
	sink := &memSink{}
	ai := &fakeExtractor{tier: model.TierAIText, name: "ai_text", configured: false}
	vision := &fakeExtractor{tier: model.TierVision, name: "ai_vision", configured: true, fields: nFields(7)}
	o := newTestOrchestrator(sink, nil, ai, vision)

	res, err := o.Run(context.Background(), testDoc())
	require.NoError(t, err)

	assert.Equal(t, model.TierVision, res.TierReached)
	assert.Equal(t, 0, ai.calls)

	rec := sink.byTier(model.TierAIText)
	require.NotNil(t, rec)
	assert.Equal(t, model.AttemptSkipped, rec.Status)
	assert.Equal(t, "tier not configured", rec.EscalationReason)
}

func TestRun_UnreadableDocumentSkipsLocalTiers(t *testing.T) {
	sink := &memSink{}
	qr := &fakeExtractor{tier: model.TierQR, name: "qr_metadata", configured: true, fields: nFields(7)}
	tpl := &fakeExtractor{tier: model.TierTemplate, name: "template", configured: true, fields: nFields(7)}
	vision := &fakeExtractor{tier: model.TierVision, name: "ai_vision", configured: true, fields: nFields(7), cost: 0.042}
	o := newTestOrchestrator(sink, nil, qr, tpl, vision)

	doc := model.Document{ID: "doc-2", Filename: "cert.pdf", MimeType: "application/pdf", Data: []byte{0x00, 0x01, 0xDE, 0xAD, 0xBE, 0xEF}}
	res, err := o.Run(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, model.TierVision, res.TierReached)
	assert.Equal(t, model.AttemptSuccess, res.Status)
	assert.Equal(t, 0, qr.calls)
	assert.Equal(t, 0, tpl.calls)

	rec := sink.byTier(model.TierQR)
	require.NotNil(t, rec)
	assert.Equal(t, model.AttemptSkipped, rec.Status)
	assert.Equal(t, "document unreadable locally", rec.EscalationReason)
}

func TestRun_AIDisabledSkipsPaidTiers(t *testing.T) {
	values := map[string]string{settings.KeyAIEnabled: "false"}
	tpl := &fakeExtractor{tier: model.TierTemplate, name: "template", configured: true, fields: nFields(4)}
	ai := &fakeExtractor{tier: model.TierAIText, name: "ai_text", configured: true, fields: nFields(7)}
	o := newTestOrchestrator(nil, values, tpl, ai)

	res, err := o.Run(context.Background(), testDoc())
	require.NoError(t, err)

	assert.True(t, res.RequiresManualReview())
	assert.Equal(t, model.AttemptLowConfidence, res.Status)
	assert.Equal(t, 0, ai.calls)
	// Best partial result survives to manual review.
	require.NotNil(t, res.Data)
	assert.Equal(t, "LGSR-1001", res.Data.CertificateNumber)
}

func TestRun_BudgetStopsEscalation(t *testing.T) {
	sink := &memSink{}
	values := map[string]string{settings.KeyMaxCostPerDocument: "0.02"}
	tpl := &fakeExtractor{tier: model.TierTemplate, name: "template", configured: true, fields: nFields(3)}
	ai := &fakeExtractor{tier: model.TierAIText, name: "ai_text", configured: true, fields: nFields(4), cost: 0.012}
	vision := &fakeExtractor{tier: model.TierVision, name: "ai_vision", configured: true, fields: nFields(7)}
	o := newTestOrchestrator(sink, values, tpl, ai, vision)

	res, err := o.Run(context.Background(), testDoc())
	require.NoError(t, err)

	// ai_text spent $0.012; the vision estimate of $0.05 would blow the
	// $0.02 budget, so it is never attempted.
	assert.True(t, res.RequiresManualReview())
	assert.Equal(t, 0, vision.calls)

	rec := sink.byTier(model.TierVision)
	require.NotNil(t, rec)
	assert.Equal(t, model.AttemptSkipped, rec.Status)
	assert.Contains(t, rec.EscalationReason, "cost budget exhausted")
}

func TestRun_ProviderConfidenceForcesEscalation(t *testing.T) {
	sink := &memSink{}
	// Every field filled, but the provider reports a doubtful read. The
	// completeness score of 0.95 must not mask it.
	docIntel := &fakeExtractor{tier: model.TierDocIntel, name: "doc_intelligence", configured: true, fields: nFields(7), confidence: 0.30}
	vision := &fakeExtractor{tier: model.TierVision, name: "ai_vision", configured: true, fields: nFields(7)}
	o := newTestOrchestrator(sink, nil, docIntel, vision)

	res, err := o.Run(context.Background(), testDoc())
	require.NoError(t, err)

	assert.Equal(t, model.TierVision, res.TierReached)
	assert.Equal(t, 1, vision.calls)

	rec := sink.byTier(model.TierDocIntel)
	require.NotNil(t, rec)
	assert.Equal(t, model.AttemptLowConfidence, rec.Status)
	assert.InDelta(t, 0.30, rec.Confidence, 1e-9)
	assert.Contains(t, rec.EscalationReason, "below threshold")
}

func TestRun_MalformedModelOutputDoesNotOpenCircuit(t *testing.T) {
	sink := &memSink{}
	ai := extractor.NewAIText(proseClaude{}, "claude-haiku-4-5-20251001", nil)

	reg := extractor.NewRegistry()
	reg.Register(ai)
	pool := resilience.NewPool(resilience.DefaultCircuitConfig())
	cache := settings.NewCache(&fakeSettingsStore{values: nil}, time.Minute)
	o := New(reg, pool, cache, sink).WithGuardConfig(fastGuard())

	// Well past the failure threshold: nonsense replies are a model
	// problem, not a provider outage, and must not trip the breaker.
	for i := 0; i < 6; i++ {
		res, err := o.Run(context.Background(), testDoc())
		require.NoError(t, err)
		assert.True(t, res.RequiresManualReview())
	}
	assert.Equal(t, resilience.CircuitClosed, pool.Get("ai_text").State())

	rec := sink.byTier(model.TierAIText)
	require.NotNil(t, rec)
	assert.Equal(t, model.AttemptLowConfidence, rec.Status)
	assert.NotEqual(t, "circuit open", rec.EscalationReason)
}

// proseClaude answers every request with unparseable prose.
type proseClaude struct{}

func (proseClaude) CreateMessage(context.Context, claude.MessageRequest) (*claude.MessageResponse, error) {
	return &claude.MessageResponse{Text: "I'm sorry, this scan is illegible."}, nil
}

func TestRun_TierFailureEscalates(t *testing.T) {
	sink := &memSink{}
	tpl := &fakeExtractor{tier: model.TierTemplate, name: "template", configured: true, err: eris.New("template blew up")}
	ai := &fakeExtractor{tier: model.TierAIText, name: "ai_text", configured: true, fields: nFields(7)}
	o := newTestOrchestrator(sink, nil, tpl, ai)

	res, err := o.Run(context.Background(), testDoc())
	require.NoError(t, err, "tier errors must not propagate")

	assert.Equal(t, model.TierAIText, res.TierReached)
	rec := sink.byTier(model.TierTemplate)
	require.NotNil(t, rec)
	assert.Equal(t, model.AttemptFailed, rec.Status)
	assert.Contains(t, rec.EscalationReason, "template blew up")
}

func TestRun_OpenCircuitFailsFastToManualReview(t *testing.T) {
	sink := &memSink{}
	tpl := &fakeExtractor{tier: model.TierTemplate, name: "template", configured: true, fields: nFields(5)}
	vision := &fakeExtractor{tier: model.TierVision, name: "ai_vision", configured: true, fields: nFields(7)}

	reg := extractor.NewRegistry()
	reg.Register(tpl)
	reg.Register(vision)
	pool := resilience.NewPool(resilience.DefaultCircuitConfig())
	cache := settings.NewCache(&fakeSettingsStore{values: nil}, time.Minute)
	o := New(reg, pool, cache, sink).WithGuardConfig(fastGuard())

	// Trip the vision breaker before the run.
	breaker := pool.Get("ai_vision")
	for i := 0; i < 5; i++ {
		_ = breaker.Execute(context.Background(), func(context.Context) error {
			return eris.New("provider down")
		})
	}
	require.Equal(t, resilience.CircuitOpen, breaker.State())

	res, err := o.Run(context.Background(), testDoc())
	require.NoError(t, err)

	assert.True(t, res.RequiresManualReview())
	assert.Equal(t, 0, vision.calls, "open circuit must not invoke the extractor")

	rec := sink.byTier(model.TierVision)
	require.NotNil(t, rec)
	assert.Equal(t, model.AttemptFailed, rec.Status)
	assert.Equal(t, "circuit open", rec.EscalationReason)

	// Best-so-far template data still reaches manual review.
	require.NotNil(t, res.Data)
	assert.InDelta(t, 0.10+0.85*5/7, res.Confidence, 1e-9)
}

func TestRun_AllTiersExhaustedKeepsBest(t *testing.T) {
	tpl := &fakeExtractor{tier: model.TierTemplate, name: "template", configured: true, fields: nFields(2)}
	ai := &fakeExtractor{tier: model.TierAIText, name: "ai_text", configured: true, fields: nFields(4)}
	o := newTestOrchestrator(nil, map[string]string{
		settings.KeyTier1Threshold: "0.99",
		settings.KeyTier2Threshold: "0.99",
	}, tpl, ai)

	res, err := o.Run(context.Background(), testDoc())
	require.NoError(t, err)

	assert.True(t, res.RequiresManualReview())
	assert.Equal(t, model.AttemptLowConfidence, res.Status)
	// The higher-confidence ai_text partial wins.
	assert.InDelta(t, 0.10+0.85*4/7, res.Confidence, 1e-9)
	require.NotNil(t, res.Data)
	assert.Equal(t, "2025-01-10", res.Data.InspectionDate)
}

func TestRun_ContextCancelled(t *testing.T) {
	tpl := &fakeExtractor{tier: model.TierTemplate, name: "template", configured: true, fields: nFields(7)}
	o := newTestOrchestrator(nil, nil, tpl)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Run(ctx, testDoc())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_AttemptsRecordedInTierOrder(t *testing.T) {
	sink := &memSink{}
	tpl := &fakeExtractor{tier: model.TierTemplate, name: "template", configured: true, fields: nFields(3)}
	ai := &fakeExtractor{tier: model.TierAIText, name: "ai_text", configured: true, fields: nFields(7)}
	o := newTestOrchestrator(sink, nil, tpl, ai)

	_, err := o.Run(context.Background(), testDoc())
	require.NoError(t, err)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.GreaterOrEqual(t, len(sink.records), 2)
	for i := 1; i < len(sink.records); i++ {
		assert.GreaterOrEqual(t, int(sink.records[i].Tier), int(sink.records[i-1].Tier))
	}
	runID := sink.records[0].RunID
	for _, rec := range sink.records {
		assert.Equal(t, runID, rec.RunID)
		assert.Equal(t, "doc-1", rec.DocumentID)
	}
}
