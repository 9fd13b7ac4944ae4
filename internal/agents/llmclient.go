// Package agents implements the three LLM-backed collaborators: the OCR
// Agent (C3), the Extraction Agent (C4) and the Insight Agent (C5). All
// three share one OpenAI-compatible chat-completions client (spec.md §6).
package agents

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"labpipe/internal/kinderrors"
)

// LLMClient talks to an OpenAI-compatible chat-completions endpoint. Only
// the first choice's message content is consulted (spec.md §6); any
// non-2xx response is fatal for the call.
type LLMClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string

	inflightMu sync.Mutex
	inflight   map[string]*inflightCall
}

type inflightCall struct {
	done   chan struct{}
	result string
	err    error
}

// NewLLMClient builds a client against baseURL (e.g. "https://api.example.com/v1").
func NewLLMClient(baseURL, apiKey string) *LLMClient {
	return &LLMClient{
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
			Timeout: 2 * time.Minute,
		},
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		apiKey:   apiKey,
		inflight: make(map[string]*inflightCall),
	}
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// vllmResponse mirrors the OpenAI chat-completions response shape the
// teacher's GPU feeder parses from its own vLLM-backed jobs.
type vllmResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

var thinkBlockRe = regexp.MustCompile(`(?s)<think>.*?</think>\s*`)

// Complete sends a system+user prompt pair and returns the first choice's
// content with any <think>...</think> reasoning preamble stripped.
// Concurrent identical calls (same model, system prompt, user prompt and
// JSON mode) collapse onto one outbound request; the key carries no
// document id.
func (c *LLMClient) Complete(ctx context.Context, model, systemPrompt, userPrompt string, jsonMode bool) (string, error) {
	hash := promptHash(model, systemPrompt, userPrompt, jsonMode)

	c.inflightMu.Lock()
	if call, ok := c.inflight[hash]; ok {
		c.inflightMu.Unlock()
		<-call.done
		return call.result, call.err
	}
	call := &inflightCall{done: make(chan struct{})}
	c.inflight[hash] = call
	c.inflightMu.Unlock()

	call.result, call.err = c.complete(ctx, model, systemPrompt, userPrompt, jsonMode)

	c.inflightMu.Lock()
	delete(c.inflight, hash)
	c.inflightMu.Unlock()
	close(call.done)

	return call.result, call.err
}

func (c *LLMClient) complete(ctx context.Context, model, systemPrompt, userPrompt string, jsonMode bool) (string, error) {
	reqBody := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}
	if jsonMode {
		reqBody.ResponseFormat = map[string]any{"type": "json_object"}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", kinderrors.New(kinderrors.LLMUnavailable, "agents.LLMClient.Complete", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", kinderrors.New(kinderrors.LLMUnavailable, "agents.LLMClient.Complete", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", kinderrors.New(kinderrors.LLMUnavailable, "agents.LLMClient.Complete", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", kinderrors.New(kinderrors.LLMUnavailable, "agents.LLMClient.Complete",
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(respBody), 500)))
	}

	var parsed vllmResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", kinderrors.New(kinderrors.LLMUnavailable, "agents.LLMClient.Complete", err)
	}
	if len(parsed.Choices) == 0 {
		return "", kinderrors.New(kinderrors.LLMUnavailable, "agents.LLMClient.Complete", fmt.Errorf("no choices in response"))
	}

	content := thinkBlockRe.ReplaceAllString(parsed.Choices[0].Message.Content, "")
	return strings.TrimSpace(content), nil
}

func promptHash(model, systemPrompt, userPrompt string, jsonMode bool) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%s\x00%v", model, systemPrompt, userPrompt, jsonMode)))
	return fmt.Sprintf("%x", h)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
