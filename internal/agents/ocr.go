package agents

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"labpipe/internal/domain"
	"labpipe/internal/kinderrors"
)

// OCRAgent implements C3: given a fetch URL and MIME kind, return raw text.
type OCRAgent struct {
	llm        *LLMClient
	httpClient *http.Client
	model      string
}

// NewOCRAgent builds an OCR Agent that reuses llm's base URL and API key
// but sends its requests through its own HTTP client.
func NewOCRAgent(llm *LLMClient, model string) *OCRAgent {
	return &OCRAgent{
		llm: llm,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
		model: model,
	}
}

// ExtractText downloads the bytes at fetchURL itself (the agent cannot
// assume local file access) and submits them to a vision-capable model.
func (a *OCRAgent) ExtractText(ctx context.Context, fetchURL string, mimeKind domain.MimeKind) (string, error) {
	imgBytes, err := a.download(ctx, fetchURL)
	if err != nil {
		return "", err
	}

	mediaType := mimeTypeFor(mimeKind)
	dataURL := fmt.Sprintf("data:%s;base64,%s", mediaType, base64.StdEncoding.EncodeToString(imgBytes))

	text, err := a.visionComplete(ctx, dataURL)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(stripHTML(text)), nil
}

// stripHTML removes residual markup a vision model sometimes echoes back
// when transcribing a scanned form with a table-like layout (stray <br>,
// <table> fragments), keeping only the text nodes. Text with no tags at all
// passes through unchanged.
func stripHTML(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}

	var b strings.Builder
	tokenizer := html.NewTokenizer(strings.NewReader(s))
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(tokenizer.Text())
		}
	}
}

func (a *OCRAgent) download(ctx context.Context, fetchURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, kinderrors.New(kinderrors.OCRPermanent, "agents.OCRAgent.download", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, kinderrors.New(kinderrors.OCRTransient, "agents.OCRAgent.download", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, kinderrors.New(kinderrors.OCRTransient, "agents.OCRAgent.download", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, kinderrors.New(kinderrors.OCRPermanent, "agents.OCRAgent.download", fmt.Errorf("status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, kinderrors.New(kinderrors.OCRTransient, "agents.OCRAgent.download", err)
	}
	return body, nil
}

// visionContentPart mirrors the OpenAI-compatible multimodal content shape.
type visionContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *visionImageURL `json:"image_url,omitempty"`
}

type visionImageURL struct {
	URL string `json:"url"`
}

type visionMessage struct {
	Role    string               `json:"role"`
	Content []visionContentPart `json:"content"`
}

type visionRequest struct {
	Model    string          `json:"model"`
	Messages []visionMessage `json:"messages"`
}

const ocrSystemPrompt = "You transcribe medical laboratory report images into plain text. " +
	"Output only the raw text you can read, preserving line structure. Do not summarize, interpret, or add commentary."

func (a *OCRAgent) visionComplete(ctx context.Context, dataURL string) (string, error) {
	reqBody := visionRequest{
		Model: a.model,
		Messages: []visionMessage{
			{Role: "system", Content: []visionContentPart{{Type: "text", Text: ocrSystemPrompt}}},
			{Role: "user", Content: []visionContentPart{
				{Type: "text", Text: "Transcribe this lab report."},
				{Type: "image_url", ImageURL: &visionImageURL{URL: dataURL}},
			}},
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", kinderrors.New(kinderrors.LLMUnavailable, "agents.OCRAgent.visionComplete", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.llm.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", kinderrors.New(kinderrors.LLMUnavailable, "agents.OCRAgent.visionComplete", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.llm.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.llm.apiKey)
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return "", kinderrors.New(kinderrors.OCRTransient, "agents.OCRAgent.visionComplete", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode >= 500:
		return "", kinderrors.New(kinderrors.OCRTransient, "agents.OCRAgent.visionComplete",
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(respBody), 300)))
	case resp.StatusCode >= 400:
		return "", kinderrors.New(kinderrors.OCRPermanent, "agents.OCRAgent.visionComplete",
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(respBody), 300)))
	}

	var parsed vllmResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", kinderrors.New(kinderrors.OCRPermanent, "agents.OCRAgent.visionComplete", err)
	}
	if len(parsed.Choices) == 0 {
		return "", kinderrors.New(kinderrors.OCRPermanent, "agents.OCRAgent.visionComplete", fmt.Errorf("no choices in response"))
	}

	return strings.TrimSpace(thinkBlockRe.ReplaceAllString(parsed.Choices[0].Message.Content, "")), nil
}

func mimeTypeFor(kind domain.MimeKind) string {
	switch kind {
	case domain.MimePNG:
		return "image/png"
	case domain.MimeJPEG:
		return "image/jpeg"
	case domain.MimePDF:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
