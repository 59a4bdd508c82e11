package extractor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/compliacert/extract-cli/internal/mapping"
	"github.com/compliacert/extract-cli/internal/model"
	"github.com/compliacert/extract-cli/pkg/claude"
)

const textSystemPrompt = `You are a compliance analyst extracting structured data from property compliance certificates (gas safety records, electrical installation condition reports, fire risk assessments and similar documents).

Extract only what the document states. Never guess values. Omit any field the document does not contain. Dates must be returned as YYYY-MM-DD.`

const textExtractionPrompt = `Certificate text:
%s

Extract the certificate data. Return a valid JSON object with any of these fields that appear in the document:
{"certificate_type": "GAS_SAFETY|EICR|FIRE_RISK|EPC|LEGIONELLA|ASBESTOS|LIFT_LOLER", "certificate_number": "...", "property_address": "...", "uprn": "...", "inspection_date": "YYYY-MM-DD", "expiry_date": "YYYY-MM-DD", "next_inspection_date": "YYYY-MM-DD", "engineer_name": "...", "engineer_registration": "...", "contractor_name": "...", "outcome": "PASS|FAIL|SATISFACTORY|UNSATISFACTORY|N/A", "appliances": [{"type": "...", "location": "...", "make": "...", "model": "...", "result": "..."}], "defects": [{"description": "...", "severity": "...", "action_required": "..."}]}`

// maxPromptChars caps how much document text goes into one request.
const maxPromptChars = 60000

// textModelConfidence is the read confidence attributed to parsed text-model
// output. The API does not self-score, so this is a fixed per-modality value.
const textModelConfidence = 0.85

// AIText is the tier-2 extractor. It sends the document's text layer to
// a fast model and parses the structured response.
type AIText struct {
	client  claude.Client
	model   string
	limiter *rate.Limiter
}

// NewAIText creates the text-model extractor. A nil client leaves the
// tier unconfigured.
func NewAIText(client claude.Client, modelID string, limiter *rate.Limiter) *AIText {
	return &AIText{client: client, model: modelID, limiter: limiter}
}

func (a *AIText) Tier() model.Tier { return model.TierAIText }
func (a *AIText) Name() string     { return "ai_text" }
func (a *AIText) Configured() bool { return a.client != nil }

func (a *AIText) Extract(ctx context.Context, in *Input) (*Output, error) {
	text := ""
	if in.Analysis != nil {
		text = strings.TrimSpace(in.Analysis.TextContent)
	}
	if text == "" {
		return nil, eris.New("ai_text: document has no text layer")
	}
	if len(text) > maxPromptChars {
		text = text[:maxPromptChars]
	}

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "ai_text: rate limit wait")
		}
	}

	resp, err := a.client.CreateMessage(ctx, claude.MessageRequest{
		Model:     a.model,
		MaxTokens: 2048,
		System:    textSystemPrompt,
		Messages: []claude.Message{
			claude.TextMessage("user", fmt.Sprintf(textExtractionPrompt, text)),
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "ai_text: create message")
	}
	resp.Usage.LogCost(a.model, a.Name())

	fields, err := mapping.ParseExtractionJSON(resp.Text)
	if err != nil {
		if errors.Is(err, mapping.ErrMalformedResponse) {
			// Nothing usable from this tier, but the provider itself is
			// healthy: escalate without feeding the circuit breaker.
			zap.L().Warn("ai_text: unparseable model output", zap.Error(err))
			return &Output{CostUSD: resp.Usage.EstimateCost(a.model), Raw: resp.Text}, nil
		}
		return nil, eris.Wrap(err, "ai_text: parse response")
	}

	return &Output{
		Fields:     fields,
		Confidence: textModelConfidence,
		CostUSD:    resp.Usage.EstimateCost(a.model),
		Raw:        resp.Text,
	}, nil
}
