package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const openAIDefaultModel = "gpt-4o"

// OpenAIClient calls the OpenAI Chat Completions API
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	*usageTracker
}

type openAIRequest struct {
	Model               string                `json:"model"`
	Messages            []openAIMessage       `json:"messages"`
	MaxTokens           int                   `json:"max_tokens,omitempty"`
	MaxCompletionTokens int                   `json:"max_completion_tokens,omitempty"`
	Temperature         *float32              `json:"temperature,omitempty"`
	ResponseFormat      *openAIResponseFormat `json:"response_format,omitempty"`
	Stream              bool                  `json:"stream"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// NewOpenAIClient creates a client. baseURL may be empty.
func NewOpenAIClient(apiKey, baseURL string) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1/chat/completions"
	}
	return &OpenAIClient{
		apiKey:       normalizeAPIKey(apiKey),
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: 120 * time.Second},
		usageTracker: newUsageTracker(ProviderOpenAI),
	}
}

// Generate implements Client
func (o *OpenAIClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	startTime := time.Now()

	model := req.Model
	if model == "" {
		model = openAIDefaultModel
	}

	var messages []openAIMessage
	if req.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: req.Prompt})

	body := &openAIRequest{Model: model, Messages: messages}
	if reasoningModel(model) {
		body.MaxCompletionTokens = maxTokensFor(req, model)
	} else {
		body.MaxTokens = maxTokensFor(req, model)
		if req.Temperature > 0 {
			t := req.Temperature
			body.Temperature = &t
		}
	}
	if req.JSON {
		body.ResponseFormat = &openAIResponseFormat{Type: "json_object"}
	}

	resp, err := o.makeRequest(ctx, body)
	if err != nil {
		o.recordError()
		return nil, err
	}

	cost := estimateCost(model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	o.record(resp.Usage.TotalTokens, cost, time.Since(startTime))

	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	return &Response{
		ID:       req.ID,
		Provider: ProviderOpenAI,
		Model:    model,
		Content:  content,
		Usage: &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
			Cost:             cost,
		},
		Duration:  time.Since(startTime),
		CreatedAt: time.Now(),
	}, nil
}

func (o *OpenAIClient) makeRequest(ctx context.Context, req *openAIRequest) (*openAIResponse, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError(ProviderOpenAI, resp.StatusCode, body)
	}

	var out openAIResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if out.Error != nil {
		return nil, &APIError{Provider: ProviderOpenAI, Code: CodeAPIError, Status: resp.StatusCode, Message: out.Error.Message}
	}
	return &out, nil
}

// Provider implements Client
func (o *OpenAIClient) Provider() Provider { return ProviderOpenAI }

// Health sends a minimal request
func (o *OpenAIClient) Health(ctx context.Context) error {
	_, err := o.makeRequest(ctx, &openAIRequest{
		Model:     "gpt-4o-mini",
		Messages:  []openAIMessage{{Role: "user", Content: "Hello"}},
		MaxTokens: 5,
	})
	return err
}

// Usage implements Client
func (o *OpenAIClient) Usage() *ProviderUsage { return o.snapshot() }
