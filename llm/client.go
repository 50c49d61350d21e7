// Package llm orchestrates agenda summarization against the Gemini API:
// model-tier routing, thinking budgets, JSON-schema-constrained item output
// and batch submission with polling.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Model tiers. The lite model handles ordinary agendas; the flagship model
// takes oversized packets and large item batches.
const (
	ModelLite     = "gemini-2.5-flash"
	ModelFlagship = "gemini-2.5-pro"
)

// ErrQuotaExhausted marks a 429/RESOURCE_EXHAUSTED response so callers can
// apply chunk-level backoff instead of failing outright.
var ErrQuotaExhausted = errors.New("quota exhausted")

// Client is a typed HTTP client for the Gemini generateContent and batch
// endpoints.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient builds a client. An empty API key produces a client whose
// Available reports false; the pipeline then degrades to read-only.
func NewClient(apiKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		logger:     logger,
	}
}

// Available returns true if the API key is configured.
func (c *Client) Available() bool { return c.apiKey != "" }

// Content is one conversation turn.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is a text fragment of a turn.
type Part struct {
	Text string `json:"text"`
}

// ThinkingConfig sets the model-side reasoning budget. Zero disables
// thinking; -1 lets the model decide dynamically.
type ThinkingConfig struct {
	ThinkingBudget int `json:"thinkingBudget"`
}

// GenerationConfig tunes one generation.
type GenerationConfig struct {
	MaxOutputTokens  int             `json:"maxOutputTokens,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
	ResponseMIMEType string          `json:"responseMimeType,omitempty"`
	ResponseSchema   json.RawMessage `json:"responseSchema,omitempty"`
	ThinkingConfig   *ThinkingConfig `json:"thinkingConfig,omitempty"`
}

// GenerateRequest is the generateContent request body.
type GenerateRequest struct {
	Contents          []Content         `json:"contents"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
}

// UserPrompt wraps a single user turn.
func UserPrompt(text string) []Content {
	return []Content{{Role: "user", Parts: []Part{{Text: text}}}}
}

// Candidate is one generation result.
type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

// UsageMetadata reports token accounting.
type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// GenerateResponse is the generateContent response body.
type GenerateResponse struct {
	Candidates    []Candidate   `json:"candidates"`
	UsageMetadata UsageMetadata `json:"usageMetadata"`
}

// Text returns the first candidate's text, or "".
func (r *GenerateResponse) Text() string {
	if len(r.Candidates) == 0 || len(r.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	return r.Candidates[0].Content.Parts[0].Text
}

// FinishReason returns the first candidate's finish reason, or "".
func (r *GenerateResponse) FinishReason() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	return r.Candidates[0].FinishReason
}

// GenerateContent runs one synchronous generation.
func (c *Client) GenerateContent(ctx context.Context, model string, req *GenerateRequest) (*GenerateResponse, error) {
	if !c.Available() {
		return nil, fmt.Errorf("llm client not configured")
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)
	body, err := c.post(ctx, url, req)
	if err != nil {
		return nil, err
	}

	var resp GenerateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, url string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || strings.Contains(string(respBody), "RESOURCE_EXHAUSTED") {
		return nil, fmt.Errorf("gemini api status %d: %w", resp.StatusCode, ErrQuotaExhausted)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gemini api error (status %d): %s", resp.StatusCode, truncate(string(respBody), 500))
	}
	return respBody, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gemini api error (status %d): %s", resp.StatusCode, truncate(string(respBody), 500))
	}
	return respBody, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// --- batch endpoints ---

// Batch job states. Polling stops on any terminal state.
const (
	BatchStatePending   = "BATCH_STATE_PENDING"
	BatchStateRunning   = "BATCH_STATE_RUNNING"
	BatchStateSucceeded = "BATCH_STATE_SUCCEEDED"
	BatchStateFailed    = "BATCH_STATE_FAILED"
	BatchStateCancelled = "BATCH_STATE_CANCELLED"
	BatchStateExpired   = "BATCH_STATE_EXPIRED"
)

// TerminalBatchState reports whether polling can stop.
func TerminalBatchState(state string) bool {
	switch state {
	case BatchStateSucceeded, BatchStateFailed, BatchStateCancelled, BatchStateExpired:
		return true
	}
	return false
}

// InlineRequest is one request inside a batch job; Key survives into the
// response so results map back to their items.
type InlineRequest struct {
	Request  *GenerateRequest  `json:"request"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type batchCreatePayload struct {
	Batch struct {
		DisplayName string `json:"displayName"`
		InputConfig struct {
			Requests struct {
				Requests []InlineRequest `json:"requests"`
			} `json:"requests"`
		} `json:"inputConfig"`
	} `json:"batch"`
}

// BatchOperation is a long-running batch job handle.
type BatchOperation struct {
	Name     string `json:"name"`
	Done     bool   `json:"done"`
	Metadata struct {
		State string `json:"state"`
	} `json:"metadata"`
	Response *struct {
		InlinedResponses struct {
			InlinedResponses []InlineResponse `json:"inlinedResponses"`
		} `json:"inlinedResponses"`
	} `json:"response"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// InlineResponse is one per-request batch result.
type InlineResponse struct {
	Metadata map[string]string `json:"metadata,omitempty"`
	Response *GenerateResponse `json:"response,omitempty"`
	Error    *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// CreateBatch submits an inline-request batch job for a model.
func (c *Client) CreateBatch(ctx context.Context, model, displayName string, requests []InlineRequest) (*BatchOperation, error) {
	if !c.Available() {
		return nil, fmt.Errorf("llm client not configured")
	}

	var payload batchCreatePayload
	payload.Batch.DisplayName = displayName
	payload.Batch.InputConfig.Requests.Requests = requests

	url := fmt.Sprintf("%s/models/%s:batchGenerateContent?key=%s", c.baseURL, model, c.apiKey)
	body, err := c.post(ctx, url, payload)
	if err != nil {
		return nil, err
	}

	var op BatchOperation
	if err := json.Unmarshal(body, &op); err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch operation: %w", err)
	}
	return &op, nil
}

// GetBatch polls a batch operation by name.
func (c *Client) GetBatch(ctx context.Context, name string) (*BatchOperation, error) {
	url := fmt.Sprintf("%s/%s?key=%s", c.baseURL, name, c.apiKey)
	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	var op BatchOperation
	if err := json.Unmarshal(body, &op); err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch operation: %w", err)
	}
	return &op, nil
}
