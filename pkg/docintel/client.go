// Package docintel wraps Google Cloud Document AI for layout-aware
// certificate processing.
package docintel

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Client defines the Document AI operations used by the extraction tiers.
type Client interface {
	ProcessBytes(ctx context.Context, req ProcessRequest) (*Result, error)
	Close() error
}

// ProcessRequest describes a single document to process.
type ProcessRequest struct {
	MimeType string
	Data     []byte
}

// Result holds the processed output: full text plus any structured
// entities and key-value form fields the processor recognized.
type Result struct {
	Processor string
	Text      string
	Pages     int
	Entities  []Entity
	Fields    map[string]string
}

// Entity is a single recognized entity with its processor confidence.
type Entity struct {
	Type       string
	Value      string
	Confidence float64
}

// MeanConfidence averages entity confidences, or returns 0 when the
// processor reported no entities.
func (r *Result) MeanConfidence() float64 {
	if len(r.Entities) == 0 {
		return 0
	}
	var sum float64
	for _, e := range r.Entities {
		sum += e.Confidence
	}
	return sum / float64(len(r.Entities))
}

type clientImpl struct {
	docClient   *documentai.DocumentProcessorClient
	processor   string
	callTimeout time.Duration
}

// Option configures the client.
type Option func(*clientImpl)

// WithCallTimeout overrides the per-call deadline (default 3 minutes).
func WithCallTimeout(d time.Duration) Option {
	return func(c *clientImpl) {
		c.callTimeout = d
	}
}

// NewClient creates a Document AI client from the environment:
// DOCUMENTAI_PROJECT_ID, DOCUMENTAI_PROCESSOR_ID and optionally
// DOCUMENTAI_LOCATION (default "us").
func NewClient(ctx context.Context, opts ...Option) (Client, error) {
	projectID := strings.TrimSpace(os.Getenv("DOCUMENTAI_PROJECT_ID"))
	processorID := strings.TrimSpace(os.Getenv("DOCUMENTAI_PROCESSOR_ID"))
	if projectID == "" || processorID == "" {
		return nil, eris.New("docintel: DOCUMENTAI_PROJECT_ID and DOCUMENTAI_PROCESSOR_ID must be set")
	}
	location := strings.TrimSpace(os.Getenv("DOCUMENTAI_LOCATION"))
	if location == "" {
		location = "us"
	}

	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", location)
	dc, err := documentai.NewDocumentProcessorClient(ctx, option.WithEndpoint(endpoint))
	if err != nil {
		return nil, eris.Wrap(err, "docintel: create client")
	}

	c := &clientImpl{
		docClient:   dc,
		processor:   fmt.Sprintf("projects/%s/locations/%s/processors/%s", projectID, location, processorID),
		callTimeout: 3 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}

	zap.L().Info("document AI initialized",
		zap.String("endpoint", endpoint),
		zap.String("processor", c.processor))

	return c, nil
}

func (c *clientImpl) Close() error {
	if c.docClient != nil {
		return c.docClient.Close()
	}
	return nil
}

func (c *clientImpl) ProcessBytes(ctx context.Context, req ProcessRequest) (*Result, error) {
	if len(req.Data) == 0 {
		return nil, eris.New("docintel: empty document")
	}
	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "application/pdf"
	}

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	resp, err := c.docClient.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name: c.processor,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  req.Data,
				MimeType: mimeType,
			},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "docintel: process document")
	}
	if resp == nil || resp.Document == nil {
		return &Result{Processor: c.processor}, nil
	}

	return buildResult(resp.Document, c.processor), nil
}

func buildResult(doc *documentaipb.Document, processor string) *Result {
	out := &Result{
		Processor: processor,
		Text:      strings.TrimSpace(doc.Text),
		Pages:     len(doc.Pages),
		Fields:    map[string]string{},
	}

	for _, e := range doc.Entities {
		if e == nil {
			continue
		}
		value := strings.TrimSpace(e.MentionText)
		if nv := e.GetNormalizedValue(); nv != nil && strings.TrimSpace(nv.GetText()) != "" {
			value = strings.TrimSpace(nv.GetText())
		}
		if value == "" {
			continue
		}
		out.Entities = append(out.Entities, Entity{
			Type:       e.Type,
			Value:      value,
			Confidence: float64(e.Confidence),
		})
	}

	for _, p := range doc.Pages {
		if p == nil {
			continue
		}
		for _, ff := range p.FormFields {
			if ff == nil {
				continue
			}
			k := anchorText(doc.Text, ff.FieldName)
			v := anchorText(doc.Text, ff.FieldValue)
			if k == "" || v == "" {
				continue
			}
			out.Fields[k] = v
		}
	}

	return out
}

func anchorText(full string, layout *documentaipb.Document_Page_Layout) string {
	if layout == nil || layout.TextAnchor == nil || full == "" {
		return ""
	}
	var b strings.Builder
	for _, seg := range layout.TextAnchor.TextSegments {
		if seg == nil {
			continue
		}
		start, end := int(seg.StartIndex), int(seg.EndIndex)
		if start < 0 {
			start = 0
		}
		if end > len(full) {
			end = len(full)
		}
		if start >= end {
			continue
		}
		b.WriteString(full[start:end])
	}
	return strings.TrimSpace(b.String())
}
