package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/jjenkins/lovforslag/internal/config"
)

const llmRequestTimeout = 2 * time.Minute

// ErrLLMDisabled is returned when no API key is configured
var ErrLLMDisabled = errors.New("no OpenAI API key configured (set OPENAI_API_KEY)")

// ChatMessage is one message of a chat completion request
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLMClient talks to an OpenAI-compatible chat completions endpoint
type LLMClient struct {
	apiKey     string
	baseURL    string
	model      string
	jsonMode   bool
	httpClient *http.Client
}

// NewLLMClient creates a client from configuration
func NewLLMClient(cfg config.Config) *LLMClient {
	return &LLMClient{
		apiKey:   cfg.OpenAIAPIKey,
		baseURL:  strings.TrimRight(cfg.OpenAIBaseURL, "/"),
		model:    cfg.OpenAIModel,
		jsonMode: cfg.LLMJSONMode,
		httpClient: &http.Client{
			Timeout: llmRequestTimeout,
		},
	}
}

// Enabled reports whether the client has credentials
func (c *LLMClient) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Model returns the configured model name
func (c *LLMClient) Model() string {
	return c.model
}

// ChatJSON sends a chat completion and parses a JSON object out of the reply.
// With JSON mode on, a provider-side JSON validation failure is retried once
// without response_format.
func (c *LLMClient) ChatJSON(ctx context.Context, messages []ChatMessage, temperature float64, maxTokens int) (map[string]any, error) {
	if !c.Enabled() {
		return nil, ErrLLMDisabled
	}

	content, err := c.complete(ctx, messages, temperature, maxTokens, c.jsonMode)
	if err != nil && c.jsonMode && isJSONValidationError(err) {
		content, err = c.complete(ctx, messages, temperature, maxTokens, false)
	}
	if err != nil {
		return nil, err
	}

	return ExtractFirstJSONObject(content)
}

func (c *LLMClient) complete(ctx context.Context, messages []ChatMessage, temperature float64, maxTokens int, jsonMode bool) (string, error) {
	payload := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"temperature": temperature,
		"top_p":       1,
	}
	if maxTokens > 0 {
		payload["max_tokens"] = maxTokens
	}
	if jsonMode {
		payload["response_format"] = map[string]string{"type": "json_object"}
	}

	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		return "", fmt.Errorf("encode chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", buf)
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", decodeLLMError(resp)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("chat response contained no choices")
	}

	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

// LLMError is an error response from the chat endpoint
type LLMError struct {
	StatusCode int
	Message    string
}

func (e *LLMError) Error() string {
	return fmt.Sprintf("openai error (%d): %s", e.StatusCode, e.Message)
}

func decodeLLMError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var payload struct {
		Error struct {
			Message string `json:"message"`
			Code    any    `json:"code"`
		} `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		msg = payload.Error.Message
		if code, ok := payload.Error.Code.(string); ok && code != "" {
			msg = code + ": " + msg
		}
	}
	return &LLMError{StatusCode: resp.StatusCode, Message: msg}
}

func isJSONValidationError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "json_validate_failed") || strings.Contains(msg, "Failed to validate JSON")
}

var jsonObjectPattern = regexp.MustCompile(`\{[\s\S]*\}`)

// ExtractFirstJSONObject parses a JSON object from a model reply, either the
// whole reply or the outermost {...} span inside surrounding prose.
func ExtractFirstJSONObject(text string) (map[string]any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty model response")
	}

	var whole map[string]any
	if err := json.Unmarshal([]byte(text), &whole); err == nil && whole != nil {
		return whole, nil
	}

	match := jsonObjectPattern.FindString(text)
	if match == "" {
		return nil, errors.New("no JSON object found in response")
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(match), &obj); err != nil {
		return nil, fmt.Errorf("parse JSON object from response: %w", err)
	}
	if obj == nil {
		return nil, errors.New("parsed JSON was not an object")
	}
	return obj, nil
}
