package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const anthropicDefaultModel = "claude-3-5-sonnet-20240620"

// AnthropicClient calls the Anthropic Messages API
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	*usageTracker
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float32            `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewAnthropicClient creates a client. baseURL may be empty.
func NewAnthropicClient(apiKey, baseURL string) *AnthropicClient {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1/messages"
	}
	return &AnthropicClient{
		apiKey:       normalizeAPIKey(apiKey),
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: 120 * time.Second},
		usageTracker: newUsageTracker(ProviderAnthropic),
	}
}

// Generate implements Client
func (c *AnthropicClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	startTime := time.Now()

	model := req.Model
	if model == "" {
		model = anthropicDefaultModel
	}
	prompt := req.Prompt
	system := req.System
	if req.JSON {
		// no native JSON mode; ask for it and prefill the opening brace
		system = strings.TrimSpace(system + "\n\nRespond with a single JSON object and nothing else.")
	}
	messages := []anthropicMessage{{Role: "user", Content: prompt}}
	if req.JSON {
		messages = append(messages, anthropicMessage{Role: "assistant", Content: "{"})
	}

	resp, err := c.makeRequest(ctx, &anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokensFor(req, model),
		Messages:    messages,
		Temperature: req.Temperature,
		System:      system,
	})
	if err != nil {
		c.recordError()
		return nil, err
	}

	cost := estimateCost(model, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	c.record(resp.Usage.InputTokens+resp.Usage.OutputTokens, cost, time.Since(startTime))

	var content strings.Builder
	if req.JSON {
		content.WriteString("{")
	}
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return &Response{
		ID:       req.ID,
		Provider: ProviderAnthropic,
		Model:    model,
		Content:  content.String(),
		Usage: &Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
			Cost:             cost,
		},
		Duration:  time.Since(startTime),
		CreatedAt: time.Now(),
	}, nil
}

func (c *AnthropicClient) makeRequest(ctx context.Context, req *anthropicRequest) (*anthropicResponse, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError(ProviderAnthropic, resp.StatusCode, body)
	}

	var out anthropicResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if out.Error != nil {
		return nil, &APIError{Provider: ProviderAnthropic, Code: CodeAPIError, Status: resp.StatusCode, Message: out.Error.Message}
	}
	return &out, nil
}

// Provider implements Client
func (c *AnthropicClient) Provider() Provider { return ProviderAnthropic }

// Health sends a minimal request
func (c *AnthropicClient) Health(ctx context.Context) error {
	_, err := c.makeRequest(ctx, &anthropicRequest{
		Model:     "claude-3-5-haiku-20241022",
		MaxTokens: 5,
		Messages:  []anthropicMessage{{Role: "user", Content: "Hello"}},
	})
	return err
}

// Usage implements Client
func (c *AnthropicClient) Usage() *ProviderUsage { return c.snapshot() }

// maxTokensFor applies the request override, capped by the catalogue
func maxTokensFor(req *Request, model string) int {
	limit := 4096
	if info, ok := LookupModel(model); ok && info.MaxOutput > 0 {
		limit = info.MaxOutput
	}
	if req.MaxTokens > 0 && req.MaxTokens < limit {
		return req.MaxTokens
	}
	if req.MaxTokens > 0 {
		return limit
	}
	if limit > 4096 {
		return 4096
	}
	return limit
}
