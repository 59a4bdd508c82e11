// Package format classifies incoming documents so the orchestrator knows
// which extraction tiers are worth attempting. Pure local analysis: no
// network calls, bounded time, and corrupt input degrades to an "unreadable"
// classification instead of an error.
package format

import (
	"bytes"
	"compress/zlib"
	"io"
	"regexp"
	"strings"
	"unicode"

	"github.com/compliacert/extract-cli/internal/model"
)

// Classification buckets for a document.
const (
	ClassNative     = "native"     // PDF with a usable text layer
	ClassScanned    = "scanned"    // raster content, no usable text layer
	ClassHybrid     = "hybrid"     // text layer plus significant raster content
	ClassImage      = "image"      // plain image file (JPEG/PNG/TIFF)
	ClassUnreadable = "unreadable" // could not be parsed at all
)

// Analysis is the outcome of classifying one document.
type Analysis struct {
	Format         string                `json:"format"` // "pdf", "image", "text", "unknown"
	Classification string                `json:"classification"`
	PageCount      int                   `json:"page_count"`
	HasTextLayer   bool                  `json:"has_text_layer"`
	IsScanned      bool                  `json:"is_scanned"`
	IsHybrid       bool                  `json:"is_hybrid"`
	TextQuality    float64               `json:"text_quality"` // [0,1]
	TextContent    string                `json:"-"`
	DetectedType   model.CertificateType `json:"detected_type"`
}

var (
	pdfPageRe   = regexp.MustCompile(`/Type\s*/Page[^s]`)
	pdfImageRe  = regexp.MustCompile(`/Subtype\s*/Image`)
	pdfFontRe   = regexp.MustCompile(`/Font`)
	pdfStreamRe = regexp.MustCompile(`(?s)stream\r?\n(.*?)endstream`)
	pdfTextOpRe = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)\s*T[jJ]`)
	pdfArrayRe  = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)`)
)

// Analyse classifies the document bytes. It never returns an error: anything
// it cannot make sense of comes back with TextQuality 0 and
// Classification "unreadable", which the orchestrator reads as "skip the
// cheap text tiers, go straight to vision".
func Analyse(data []byte, mimeType, filename string) Analysis {
	switch {
	case len(data) == 0:
		return Analysis{Format: "unknown", Classification: ClassUnreadable}
	case bytes.HasPrefix(data, []byte("%PDF-")):
		return analysePDF(data)
	case isImage(data, mimeType):
		return Analysis{
			Format:         "image",
			Classification: ClassImage,
			PageCount:      1,
			IsScanned:      true,
		}
	case looksLikeText(data):
		text := string(data)
		return Analysis{
			Format:         "text",
			Classification: ClassNative,
			PageCount:      1,
			HasTextLayer:   true,
			TextQuality:    textQuality(text),
			TextContent:    text,
			DetectedType:   DetectCertificateType(text),
		}
	default:
		return Analysis{Format: "unknown", Classification: ClassUnreadable}
	}
}

func analysePDF(data []byte) Analysis {
	a := Analysis{Format: "pdf"}

	a.PageCount = len(pdfPageRe.FindAll(data, -1))
	if a.PageCount == 0 {
		a.PageCount = 1
	}

	hasFonts := pdfFontRe.Match(data)
	imageCount := len(pdfImageRe.FindAll(data, -1))

	text := extractPDFText(data)
	a.TextContent = text
	a.TextQuality = textQuality(text)
	a.HasTextLayer = hasFonts && len(strings.TrimSpace(text)) > 40

	switch {
	case a.HasTextLayer && imageCount > a.PageCount:
		// More images than pages alongside a text layer: likely scanned
		// pages with an OCR overlay or mixed content.
		a.Classification = ClassHybrid
		a.IsHybrid = true
	case a.HasTextLayer:
		a.Classification = ClassNative
	case imageCount > 0:
		a.Classification = ClassScanned
		a.IsScanned = true
	default:
		a.Classification = ClassUnreadable
		a.TextQuality = 0
	}

	a.DetectedType = DetectCertificateType(text)
	return a
}

// extractPDFText pulls string operands of Tj/TJ text operators out of
// content streams, inflating FlateDecode streams where possible. Best-effort:
// a heuristic text layer is enough for tier gating and template matching;
// anything it misses escalates to the AI tiers.
func extractPDFText(data []byte) string {
	var sb strings.Builder

	scanOps := func(content []byte) {
		for _, m := range pdfTextOpRe.FindAllSubmatch(content, -1) {
			sb.WriteString(decodePDFString(m[1]))
			sb.WriteByte(' ')
		}
		// TJ arrays: [(Hel)(lo) -20 (World)] TJ
		for _, seg := range bytes.Split(content, []byte("]TJ")) {
			if idx := bytes.LastIndexByte(seg, '['); idx >= 0 {
				for _, m := range pdfArrayRe.FindAllSubmatch(seg[idx:], -1) {
					sb.WriteString(decodePDFString(m[1]))
				}
				sb.WriteByte(' ')
			}
		}
	}

	for _, m := range pdfStreamRe.FindAllSubmatch(data, -1) {
		raw := m[1]
		if inflated, err := inflate(raw); err == nil {
			scanOps(inflated)
		} else {
			scanOps(raw)
		}
	}

	return strings.Join(strings.Fields(sb.String()), " ")
}

func inflate(raw []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(bytes.TrimLeft(raw, "\r\n")))
	if err != nil {
		return nil, err
	}
	defer r.Close() //nolint:errcheck
	// Cap decompressed size so a malformed stream cannot balloon memory.
	return io.ReadAll(io.LimitReader(r, 8<<20))
}

func decodePDFString(s []byte) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			i++
			switch s[i] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r', 'b', 'f':
				sb.WriteByte(' ')
			default:
				sb.WriteByte(s[i])
			}
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

func isImage(data []byte, mimeType string) bool {
	switch {
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}): // JPEG
		return true
	case bytes.HasPrefix(data, []byte{0x89, 'P', 'N', 'G'}): // PNG
		return true
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")): // TIFF
		return true
	}
	return strings.HasPrefix(mimeType, "image/")
}

func looksLikeText(data []byte) bool {
	sample := data
	if len(sample) > 2048 {
		sample = sample[:2048]
	}
	printable := 0
	for _, r := range string(sample) {
		if r == unicode.ReplacementChar {
			return false
		}
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			printable++
		}
	}
	return float64(printable) >= 0.95*float64(len([]rune(string(sample))))
}

// textQuality scores extracted text in [0,1] from printable-character ratio
// and word structure. OCR noise and binary garbage score low; clean prose
// scores high.
func textQuality(text string) float64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}

	runes := []rune(text)
	var printable, letters int
	for _, r := range runes {
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			printable++
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			letters++
		}
	}
	printableRatio := float64(printable) / float64(len(runes))
	letterRatio := float64(letters) / float64(len(runes))

	words := strings.Fields(text)
	if len(words) == 0 {
		return 0
	}
	var sane int
	for _, w := range words {
		if n := len([]rune(w)); n >= 2 && n <= 24 {
			sane++
		}
	}
	wordRatio := float64(sane) / float64(len(words))

	q := 0.4*printableRatio + 0.3*letterRatio + 0.3*wordRatio
	// Very short text cannot justify a high score regardless of cleanliness.
	if len(words) < 10 {
		q *= float64(len(words)) / 10
	}
	if q > 1 {
		q = 1
	}
	if q < 0 {
		q = 0
	}
	return q
}

// typeKeywords maps text markers to certificate types, checked in order so
// the more specific phrases win.
var typeKeywords = []struct {
	marker string
	ctype  model.CertificateType
}{
	{"landlord gas safety record", model.CertTypeGasSafety},
	{"gas safety record", model.CertTypeGasSafety},
	{"gas safety certificate", model.CertTypeGasSafety},
	{"cp12", model.CertTypeGasSafety},
	{"electrical installation condition report", model.CertTypeEICR},
	{"eicr", model.CertTypeEICR},
	{"fire risk assessment", model.CertTypeFireRisk},
	{"energy performance certificate", model.CertTypeEPC},
	{"legionella risk assessment", model.CertTypeLegionella},
	{"asbestos survey", model.CertTypeAsbestos},
	{"asbestos management", model.CertTypeAsbestos},
	{"thorough examination", model.CertTypeLift},
	{"loler", model.CertTypeLift},
}

// DetectCertificateType guesses the certificate type from text markers.
// Returns CertTypeUnknown when nothing matches.
func DetectCertificateType(text string) model.CertificateType {
	lower := strings.ToLower(text)
	for _, kw := range typeKeywords {
		if strings.Contains(lower, kw.marker) {
			return kw.ctype
		}
	}
	return model.CertTypeUnknown
}
