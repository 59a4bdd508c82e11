package extractor

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/compliacert/extract-cli/internal/mapping"
	"github.com/compliacert/extract-cli/internal/model"
	"github.com/compliacert/extract-cli/pkg/claude"
)

const visionPrompt = `This is a scan of a property compliance certificate. Read every visible field, including handwritten entries, stamps and checkboxes.

Extract the certificate data. Return a valid JSON object with any of these fields that appear in the document:
{"certificate_type": "GAS_SAFETY|EICR|FIRE_RISK|EPC|LEGIONELLA|ASBESTOS|LIFT_LOLER", "certificate_number": "...", "property_address": "...", "uprn": "...", "inspection_date": "YYYY-MM-DD", "expiry_date": "YYYY-MM-DD", "next_inspection_date": "YYYY-MM-DD", "engineer_name": "...", "engineer_registration": "...", "contractor_name": "...", "outcome": "PASS|FAIL|SATISFACTORY|UNSATISFACTORY|N/A", "appliances": [{"type": "...", "location": "...", "make": "...", "model": "...", "result": "..."}], "defects": [{"description": "...", "severity": "...", "action_required": "..."}]}`

// maxVisionBytes rejects documents too large for a single vision request.
const maxVisionBytes = 30 << 20

// visionModelConfidence is the read confidence attributed to parsed vision
// output. Scans are a harder read than a clean text layer, hence the lower
// fixed value.
const visionModelConfidence = 0.70

// Vision is the tier-4 extractor. It sends the document bytes to a
// vision-capable model, the last automated resort for scans too degraded
// for every cheaper tier.
type Vision struct {
	client  claude.Client
	model   string
	limiter *rate.Limiter
}

// NewVision creates the vision-model extractor. A nil client leaves the
// tier unconfigured.
func NewVision(client claude.Client, modelID string, limiter *rate.Limiter) *Vision {
	return &Vision{client: client, model: modelID, limiter: limiter}
}

func (v *Vision) Tier() model.Tier { return model.TierVision }
func (v *Vision) Name() string     { return "ai_vision" }
func (v *Vision) Configured() bool { return v.client != nil }

func (v *Vision) Extract(ctx context.Context, in *Input) (*Output, error) {
	data := in.Document.Data
	if len(data) == 0 {
		return nil, eris.New("ai_vision: empty document")
	}
	if len(data) > maxVisionBytes {
		return nil, eris.Errorf("ai_vision: document is %d bytes, over the %d limit", len(data), maxVisionBytes)
	}

	block, err := documentBlock(in)
	if err != nil {
		return nil, err
	}

	if v.limiter != nil {
		if err := v.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "ai_vision: rate limit wait")
		}
	}

	resp, err := v.client.CreateMessage(ctx, claude.MessageRequest{
		Model:     v.model,
		MaxTokens: 2048,
		System:    textSystemPrompt,
		Messages: []claude.Message{
			{Role: "user", Content: []claude.Block{
				block,
				{Type: "text", Text: visionPrompt},
			}},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "ai_vision: create message")
	}
	resp.Usage.LogCost(v.model, v.Name())

	fields, err := mapping.ParseExtractionJSON(resp.Text)
	if err != nil {
		if errors.Is(err, mapping.ErrMalformedResponse) {
			zap.L().Warn("ai_vision: unparseable model output", zap.Error(err))
			return &Output{CostUSD: resp.Usage.EstimateCost(v.model), Raw: resp.Text}, nil
		}
		return nil, eris.Wrap(err, "ai_vision: parse response")
	}

	return &Output{
		Fields:     fields,
		Confidence: visionModelConfidence,
		CostUSD:    resp.Usage.EstimateCost(v.model),
		Raw:        resp.Text,
	}, nil
}

// documentBlock picks the right vision content block for the document
// format: PDFs go as document blocks, rasters as image blocks.
func documentBlock(in *Input) (claude.Block, error) {
	mime := in.Document.MimeType
	if in.Analysis != nil {
		switch in.Analysis.Format {
		case "pdf":
			return claude.Block{Type: "pdf", Data: in.Document.Data}, nil
		case "image":
			if mime == "" {
				mime = "image/jpeg"
			}
			return claude.Block{Type: "image", MediaType: mime, Data: in.Document.Data}, nil
		}
	}
	switch mime {
	case "application/pdf":
		return claude.Block{Type: "pdf", Data: in.Document.Data}, nil
	case "image/jpeg", "image/png", "image/gif", "image/webp":
		return claude.Block{Type: "image", MediaType: mime, Data: in.Document.Data}, nil
	}
	return claude.Block{}, eris.Errorf("ai_vision: unsupported document format %q", mime)
}
