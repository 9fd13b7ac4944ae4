package agents

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"labpipe/internal/domain"
	"labpipe/internal/jsonrepair"
	"labpipe/internal/kinderrors"
)

// ExtractionAgent implements C4: turn OCR'd raw text into a validated
// HealthDataExtraction.
type ExtractionAgent struct {
	llm    *LLMClient
	model  string
	logger *slog.Logger
}

func NewExtractionAgent(llm *LLMClient, model string, logger *slog.Logger) *ExtractionAgent {
	return &ExtractionAgent{llm: llm, model: model, logger: logger}
}

const extractionSystemPrompt = `You are a clinical data extractor. Given the raw OCR text of a lab report, return a single JSON object with exactly these keys:
{"markers": [{"marker": string, "value": string, "unit": string, "reference_range": string}], "document_type": string, "test_date": string}

Rules:
- Use only the "current results" column when a report prints both current and previous results side by side; never extract previous-result values as markers.
- Preserve reference_range exactly as printed; never invent or normalize it beyond fixing obvious OCR artifacts such as "<6 - 6.0" becoming "<6.0".
- Use plain-text units only: "mg/dL", "/uL", "10^3/mm^3". Never emit LaTeX or markdown for units.
- value must be a string, preserving sign and decimal places as printed.
- test_date should be the specimen or report date in YYYY-MM-DD form if determinable, else an empty string.
- document_type is a short human label, e.g. "Blood Test Report".
- Respond with JSON only, no commentary, no markdown fences.`

type rawExtraction struct {
	Markers      []map[string]any `json:"markers"`
	DocumentType string           `json:"document_type"`
	TestDate     string           `json:"test_date"`
}

// Extract sends rawText to the extraction model and returns a validated
// HealthDataExtraction. Individual malformed markers are dropped, not
// fatal; a schema failure on the envelope itself is ExtractionMalformed.
func (a *ExtractionAgent) Extract(ctx context.Context, rawText string) (domain.HealthDataExtraction, error) {
	content, err := a.llm.Complete(ctx, a.model, extractionSystemPrompt, rawText, true)
	if err != nil {
		return domain.HealthDataExtraction{}, err
	}

	var parsed rawExtraction
	if err := jsonrepair.Parse(content, &parsed); err != nil {
		return domain.HealthDataExtraction{}, kinderrors.New(kinderrors.ExtractionMalformed, "agents.ExtractionAgent.Extract", err)
	}

	if err := a.validateEnvelope(content); err != nil {
		return domain.HealthDataExtraction{}, kinderrors.New(kinderrors.ExtractionMalformed, "agents.ExtractionAgent.Extract", err)
	}

	markers := make([]domain.HealthMarker, 0, len(parsed.Markers))
	for _, raw := range parsed.Markers {
		m, ok := a.coerceMarker(raw)
		if !ok {
			a.logger.Warn("extraction: dropping malformed marker", "raw", raw)
			continue
		}
		markers = append(markers, m)
	}

	return domain.HealthDataExtraction{
		Markers:      markers,
		DocumentType: parsed.DocumentType,
		TestDate:     normalizeTestDate(parsed.TestDate),
	}, nil
}

// validateEnvelope re-decodes content into a generic map to run it through
// jsonrepair.Validate's required-key/coercion check independent of Go's own
// struct decoding, catching shapes json.Unmarshal tolerates silently (e.g. a
// missing "document_type" decoding to its zero value).
func (a *ExtractionAgent) validateEnvelope(content string) error {
	var generic map[string]any
	if err := jsonrepair.Parse(content, &generic); err != nil {
		return err
	}
	return jsonrepair.Validate(generic, []string{"markers", "document_type"}, nil)
}

func (a *ExtractionAgent) coerceMarker(raw map[string]any) (domain.HealthMarker, bool) {
	if err := jsonrepair.Validate(raw, []string{"marker", "value"}, []string{"value"}); err != nil {
		return domain.HealthMarker{}, false
	}

	marker, _ := raw["marker"].(string)
	value, _ := raw["value"].(string)
	if strings.TrimSpace(marker) == "" || strings.TrimSpace(value) == "" {
		return domain.HealthMarker{}, false
	}

	unit, _ := raw["unit"].(string)
	refRange, _ := raw["reference_range"].(string)

	return domain.HealthMarker{
		Marker:         marker,
		Value:          value,
		Unit:           unit,
		ReferenceRange: refRange,
	}, true
}

// normalizeTestDate best-effort parses a handful of common date layouts and
// returns an ISO-8601 date string, or nil if unparseable.
func normalizeTestDate(raw string) *string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	layouts := []string{
		"2006-01-02",
		"01/02/2006",
		"02/01/2006",
		"Jan 2, 2006",
		"January 2, 2006",
		"2-Jan-2006",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			s := t.Format("2006-01-02")
			return &s
		}
	}
	return nil
}
