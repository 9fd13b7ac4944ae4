package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"labpipe/internal/clinicalrange"
	"labpipe/internal/domain"
	"labpipe/internal/jsonrepair"
	"labpipe/internal/kinderrors"
)

// InsightAgent implements C5: turn a HealthDataExtraction into a validated
// HealthInsights report.
type InsightAgent struct {
	llm       *LLMClient
	model     string
	logger    *slog.Logger
	sanitizer *bluemonday.Policy
}

// NewInsightAgent builds an Insight Agent. UGCPolicy strips HTML/script
// fragments from the model's free-text output before it is ever persisted —
// a defense against markup riding back in summary/key_findings/recommendations
// if the upstream OCR text carried a prompt-injection attempt.
func NewInsightAgent(llm *LLMClient, model string, logger *slog.Logger) *InsightAgent {
	return &InsightAgent{llm: llm, model: model, logger: logger, sanitizer: bluemonday.UGCPolicy()}
}

const insightSystemPrompt = `You are a clinical insight generator. You are given a JSON payload describing lab markers already extracted from a report, each annotated with an "interpretation" of normal, borderline, abnormal, or not_interpretable. Analyze only what is present.

Return a single JSON object with exactly these keys:
{"summary": string, "key_findings": [string], "recommendations": [string], "disclaimer": string}

Rules:
- key_findings: one bullet per marker annotated abnormal or borderline; if none, a single bullet stating all values are normal or not interpretable.
- recommendations: general, non-prescriptive guidance paired with the findings above; never a prescription or dosage.
- disclaimer: must contain the phrase "professional medical advice".
- Do not invent markers or values beyond what is given.
- Respond with JSON only, no commentary, no markdown fences.`

type markerWithInterpretation struct {
	Marker          string `json:"marker"`
	Value           string `json:"value"`
	Unit            string `json:"unit"`
	ReferenceRange  string `json:"reference_range"`
	Interpretation  string `json:"interpretation"`
}

type rawInsights struct {
	Summary         string   `json:"summary"`
	KeyFindings     []string `json:"key_findings"`
	Recommendations []string `json:"recommendations"`
	Disclaimer      string   `json:"disclaimer"`
}

// Generate classifies each marker against its reference range, sends the
// annotated payload to the insight model, and reattaches the original
// extraction verbatim — the model's echo of "data" is never trusted.
func (a *InsightAgent) Generate(ctx context.Context, extraction domain.HealthDataExtraction) (domain.HealthInsights, error) {
	userPayload, err := a.buildUserPayload(extraction)
	if err != nil {
		return domain.HealthInsights{}, kinderrors.New(kinderrors.InsightMalformed, "agents.InsightAgent.Generate", err)
	}

	content, err := a.llm.Complete(ctx, a.model, insightSystemPrompt, userPayload, true)
	if err != nil {
		return domain.HealthInsights{}, err
	}

	var parsed rawInsights
	if err := jsonrepair.Parse(content, &parsed); err != nil {
		return domain.HealthInsights{}, kinderrors.New(kinderrors.InsightMalformed, "agents.InsightAgent.Generate", err)
	}

	var generic map[string]any
	if err := jsonrepair.Parse(content, &generic); err != nil {
		return domain.HealthInsights{}, kinderrors.New(kinderrors.InsightMalformed, "agents.InsightAgent.Generate", err)
	}
	if err := jsonrepair.Validate(generic, []string{"summary", "key_findings", "recommendations", "disclaimer"}, nil); err != nil {
		return domain.HealthInsights{}, kinderrors.New(kinderrors.InsightMalformed, "agents.InsightAgent.Generate", err)
	}

	if strings.TrimSpace(parsed.Summary) == "" {
		return domain.HealthInsights{}, kinderrors.New(kinderrors.InsightMalformed, "agents.InsightAgent.Generate", fmt.Errorf("empty summary"))
	}
	if !strings.Contains(strings.ToLower(parsed.Disclaimer), "professional medical advice") {
		return domain.HealthInsights{}, kinderrors.New(kinderrors.InsightMalformed, "agents.InsightAgent.Generate", fmt.Errorf("disclaimer missing required phrase"))
	}

	findings := make([]string, len(parsed.KeyFindings))
	for i, f := range parsed.KeyFindings {
		findings[i] = a.sanitizer.Sanitize(f)
	}
	recommendations := make([]string, len(parsed.Recommendations))
	for i, r := range parsed.Recommendations {
		recommendations[i] = a.sanitizer.Sanitize(r)
	}

	return domain.HealthInsights{
		Data:            extraction, // reattached, never the model's echo
		Summary:         a.sanitizer.Sanitize(parsed.Summary),
		KeyFindings:     findings,
		Recommendations: recommendations,
		Disclaimer:      a.sanitizer.Sanitize(parsed.Disclaimer),
	}, nil
}

// buildUserPayload classifies every marker against its reference range
// using clinicalrange and serializes the annotated list for the model.
func (a *InsightAgent) buildUserPayload(extraction domain.HealthDataExtraction) (string, error) {
	annotated := make([]markerWithInterpretation, 0, len(extraction.Markers))
	for _, m := range extraction.Markers {
		annotated = append(annotated, markerWithInterpretation{
			Marker:         m.Marker,
			Value:          m.Value,
			Unit:           m.Unit,
			ReferenceRange: m.ReferenceRange,
			Interpretation: interpretationLabel(m),
		})
	}

	payload := map[string]any{
		"document_type": extraction.DocumentType,
		"markers":       annotated,
	}
	if extraction.TestDate != nil {
		payload["test_date"] = *extraction.TestDate
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// interpretationLabel classifies a marker per §4.11: a missing or
// unparseable value/range yields "not_interpretable" rather than failing
// the whole document.
func interpretationLabel(m domain.HealthMarker) string {
	value, err := strconv.ParseFloat(strings.TrimSpace(m.Value), 64)
	if err != nil {
		return "not_interpretable"
	}

	r := clinicalrange.Parse(m.ReferenceRange)
	switch clinicalrange.Classify(value, r) {
	case clinicalrange.Normal:
		return "normal"
	case clinicalrange.Borderline:
		return "borderline"
	case clinicalrange.Abnormal:
		return "abnormal"
	default:
		return "not_interpretable"
	}
}
