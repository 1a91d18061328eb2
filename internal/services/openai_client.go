package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/compasshq/compass-backend/internal/logger"
	"github.com/compasshq/compass-backend/internal/pkg/httpx"
)

// OpenAIClient is the single outbound LLM surface. Single-shot generation
// goes through the Responses API; the milestone and nudge assistants are
// externally managed resources driven through the thread/run endpoints.
type OpenAIClient interface {
	// GenerateJSON produces a structured object via json_schema output.
	// temperature <= 0 uses the client default.
	GenerateJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any, temperature float64) (map[string]any, error)
	GenerateText(ctx context.Context, system string, user string) (string, error)

	// Model reports the configured completion model, for call logging.
	Model() string

	CreateThread(ctx context.Context) (string, error)
	AddMessage(ctx context.Context, threadID string, content string) error
	StartRun(ctx context.Context, threadID string, assistantID string) (string, error)
	GetRun(ctx context.Context, threadID string, runID string) (*AssistantRun, error)
	LatestAssistantMessage(ctx context.Context, threadID string) (string, error)
}

// AssistantRun mirrors the run resource fields the pollers care about.
type AssistantRun struct {
	ID     string `json:"id"`
	Status string `json:"status"` // queued|in_progress|completed|failed|cancelled|expired
	Model  string `json:"model"`
}

func (r *AssistantRun) Terminal() bool {
	if r == nil {
		return false
	}
	switch r.Status {
	case "completed", "failed", "cancelled", "expired":
		return true
	default:
		return false
	}
}

type openAIClient struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	defaultTmp float64
	httpClient *http.Client

	maxRetries int
}

func NewOpenAIClient(log *logger.Logger) (OpenAIClient, error) {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	baseURL := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	if model == "" {
		model = "gpt-4o"
	}

	timeoutSec := 120
	if v := os.Getenv("OPENAI_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	maxRetries := 4
	if v := os.Getenv("OPENAI_MAX_RETRIES"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	return &openAIClient{
		log:        log.With("service", "OpenAIClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		defaultTmp: 0.2,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: maxRetries,
	}, nil
}

type openAIHTTPError struct {
	StatusCode int
	Body       string
}

func (e *openAIHTTPError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func (e *openAIHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (c *openAIClient) doOnce(ctx context.Context, method, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if strings.HasPrefix(path, "/v1/threads") {
		req.Header.Set("OpenAI-Beta", "assistants=v2")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &openAIHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *openAIClient) do(ctx context.Context, method, path string, body any, out any) error {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("openai decode error: %w; raw=%s", uErr, string(raw))
			}
			return nil
		}

		if !httpx.IsRetryableError(err) {
			return err
		}
		if attempt == c.maxRetries {
			return err
		}

		sleepFor := httpx.RetryAfterDuration(resp, backoff, 10*time.Second)
		sleepFor = httpx.JitterSleep(sleepFor)

		c.log.Warn("OpenAI request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		time.Sleep(sleepFor)
		backoff *= 2
	}

	return fmt.Errorf("unreachable retry loop")
}

// -------------------- Responses API --------------------

type responsesRequest struct {
	Model string `json:"model"`
	Input []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"input"`
	Text struct {
		Format map[string]any `json:"format,omitempty"`
	} `json:"text,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Refusal string `json:"refusal,omitempty"`
}

func extractOutputText(resp responsesResponse) string {
	var out strings.Builder
	for _, item := range resp.Output {
		if item.Type == "message" && item.Role == "assistant" {
			for _, ct := range item.Content {
				if ct.Type == "output_text" && ct.Text != "" {
					out.WriteString(ct.Text)
				}
			}
		}
	}
	return out.String()
}

// StripCodeFences removes a leading/trailing markdown code fence so fenced
// model output still parses as JSON.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func (c *openAIClient) GenerateJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any, temperature float64) (map[string]any, error) {
	if schemaName == "" {
		return nil, errors.New("schemaName required")
	}
	if schema == nil {
		return nil, errors.New("schema required")
	}
	if temperature <= 0 {
		temperature = c.defaultTmp
	}

	req := responsesRequest{
		Model: c.model,
		Input: []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: temperature,
	}
	req.Text.Format = map[string]any{
		"type":   "json_schema",
		"name":   schemaName,
		"schema": schema,
		"strict": true,
	}

	var resp responsesResponse
	if err := c.do(ctx, "POST", "/v1/responses", req, &resp); err != nil {
		return nil, err
	}
	if resp.Refusal != "" {
		return nil, fmt.Errorf("model refused: %s", resp.Refusal)
	}

	jsonText := StripCodeFences(extractOutputText(resp))
	if jsonText == "" {
		return nil, fmt.Errorf("no output_text found in response")
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(jsonText), &obj); err != nil {
		return nil, fmt.Errorf("failed to parse model JSON: %w; text=%s", err, jsonText)
	}
	return obj, nil
}

func (c *openAIClient) Model() string {
	return c.model
}

func (c *openAIClient) GenerateText(ctx context.Context, system string, user string) (string, error) {
	req := responsesRequest{
		Model: c.model,
		Input: []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: c.defaultTmp,
	}

	var resp responsesResponse
	if err := c.do(ctx, "POST", "/v1/responses", req, &resp); err != nil {
		return "", err
	}
	if resp.Refusal != "" {
		return "", fmt.Errorf("model refused: %s", resp.Refusal)
	}

	text := extractOutputText(resp)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("no output_text found in response")
	}
	return text, nil
}

// -------------------- Assistants API (threads + runs) --------------------

type threadResponse struct {
	ID string `json:"id"`
}

func (c *openAIClient) CreateThread(ctx context.Context) (string, error) {
	var resp threadResponse
	if err := c.do(ctx, "POST", "/v1/threads", map[string]any{}, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.ID) == "" {
		return "", errors.New("thread create missing id")
	}
	return resp.ID, nil
}

func (c *openAIClient) AddMessage(ctx context.Context, threadID string, content string) error {
	if strings.TrimSpace(threadID) == "" {
		return errors.New("threadID required")
	}
	body := map[string]any{
		"role":    "user",
		"content": content,
	}
	return c.do(ctx, "POST", "/v1/threads/"+threadID+"/messages", body, nil)
}

func (c *openAIClient) StartRun(ctx context.Context, threadID string, assistantID string) (string, error) {
	if strings.TrimSpace(threadID) == "" {
		return "", errors.New("threadID required")
	}
	if strings.TrimSpace(assistantID) == "" {
		return "", errors.New("assistantID required")
	}
	var resp AssistantRun
	body := map[string]any{"assistant_id": assistantID}
	if err := c.do(ctx, "POST", "/v1/threads/"+threadID+"/runs", body, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.ID) == "" {
		return "", errors.New("run create missing id")
	}
	return resp.ID, nil
}

func (c *openAIClient) GetRun(ctx context.Context, threadID string, runID string) (*AssistantRun, error) {
	if strings.TrimSpace(threadID) == "" || strings.TrimSpace(runID) == "" {
		return nil, errors.New("threadID and runID required")
	}
	var resp AssistantRun
	if err := c.do(ctx, "GET", "/v1/threads/"+threadID+"/runs/"+runID, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type threadMessagesResponse struct {
	Data []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"data"`
}

func (c *openAIClient) LatestAssistantMessage(ctx context.Context, threadID string) (string, error) {
	if strings.TrimSpace(threadID) == "" {
		return "", errors.New("threadID required")
	}
	var resp threadMessagesResponse
	if err := c.do(ctx, "GET", "/v1/threads/"+threadID+"/messages?order=desc&limit=10", nil, &resp); err != nil {
		return "", err
	}
	for _, msg := range resp.Data {
		if msg.Role != "assistant" {
			continue
		}
		var out strings.Builder
		for _, ct := range msg.Content {
			if ct.Type == "text" && ct.Text.Value != "" {
				out.WriteString(ct.Text.Value)
			}
		}
		if out.Len() > 0 {
			return out.String(), nil
		}
	}
	return "", errors.New("no assistant message found in thread")
}
