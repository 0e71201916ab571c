package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/genai"
)

const geminiDefaultModel = "gemini-1.5-pro"

// GeminiClient calls Google Gemini through the genai SDK
type GeminiClient struct {
	client *genai.Client
	*usageTracker
}

// NewGeminiClient creates a client. baseURL may be empty.
func NewGeminiClient(ctx context.Context, apiKey, baseURL string) (*GeminiClient, error) {
	cfg := &genai.ClientConfig{
		APIKey:     normalizeAPIKey(apiKey),
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: 120 * time.Second},
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiClient{client: client, usageTracker: newUsageTracker(ProviderGemini)}, nil
}

// Generate implements Client
func (g *GeminiClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	startTime := time.Now()

	model := req.Model
	if model == "" {
		model = geminiDefaultModel
	}
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokensFor(req, model)),
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Temperature > 0 {
		t := req.Temperature
		config.Temperature = &t
	}
	if req.JSON {
		config.ResponseMIMEType = "application/json"
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), config)
	if err != nil {
		g.recordError()
		return nil, convertGeminiError(err)
	}

	var in, out int
	if resp.UsageMetadata != nil {
		in = int(resp.UsageMetadata.PromptTokenCount)
		out = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	cost := estimateCost(model, in, out)
	g.record(in+out, cost, time.Since(startTime))

	return &Response{
		ID:       req.ID,
		Provider: ProviderGemini,
		Model:    model,
		Content:  resp.Text(),
		Usage: &Usage{
			PromptTokens:     in,
			CompletionTokens: out,
			TotalTokens:      in + out,
			Cost:             cost,
		},
		Duration:  time.Since(startTime),
		CreatedAt: time.Now(),
	}, nil
}

// convertGeminiError maps SDK errors onto the shared taxonomy
func convertGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Provider: ProviderGemini, Code: classifyStatus(apiErr.Code), Status: apiErr.Code, Message: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &APIError{Provider: ProviderGemini, Code: classifyStatus(apiErrPtr.Code), Status: apiErrPtr.Code, Message: apiErrPtr.Message}
	}
	return fmt.Errorf("gemini request failed: %w", err)
}

// Provider implements Client
func (g *GeminiClient) Provider() Provider { return ProviderGemini }

// Health sends a minimal request
func (g *GeminiClient) Health(ctx context.Context) error {
	_, err := g.client.Models.GenerateContent(ctx, "gemini-1.5-flash", genai.Text("Hello"),
		&genai.GenerateContentConfig{MaxOutputTokens: 5})
	if err != nil {
		return convertGeminiError(err)
	}
	return nil
}

// Usage implements Client
func (g *GeminiClient) Usage() *ProviderUsage { return g.snapshot() }
