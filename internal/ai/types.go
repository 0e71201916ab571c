// Package ai provides the LLM provider clients used by the pipeline agents and
// a router that picks a client by model name.
package ai

import (
	"context"
	"time"
)

// Provider identifies an LLM vendor
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGemini    Provider = "gemini"
)

// Request is a single prompt sent to a provider
type Request struct {
	ID          string  `json:"id"`
	Model       string  `json:"model,omitempty"`
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
	// JSON asks the provider for a JSON object response where supported
	JSON bool `json:"json,omitempty"`
	// Schema names the object being requested, for logs and metrics
	Schema string `json:"schema,omitempty"`
}

// Response is a provider reply
type Response struct {
	ID        string        `json:"id"`
	Provider  Provider      `json:"provider"`
	Model     string        `json:"model"`
	Content   string        `json:"content"`
	Usage     *Usage        `json:"usage,omitempty"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// Cost returns the cost of the response based on usage
func (r *Response) Cost() float64 {
	if r != nil && r.Usage != nil {
		return r.Usage.Cost
	}
	return 0.0
}

// Usage represents token/cost usage for a request
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost"`
}

// Client is implemented by every provider
type Client interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
	Provider() Provider
	Health(ctx context.Context) error
	Usage() *ProviderUsage
}

// ObjectGenerator produces schema-checked JSON objects. Agents depend on this
// rather than on the router directly.
type ObjectGenerator interface {
	GenerateObject(ctx context.Context, req *Request, dest any) (*Response, error)
}

// ProviderUsage tracks usage statistics for a provider
type ProviderUsage struct {
	Provider     Provider  `json:"provider"`
	RequestCount int64     `json:"request_count"`
	TotalTokens  int64     `json:"total_tokens"`
	TotalCost    float64   `json:"total_cost"`
	AvgLatency   float64   `json:"avg_latency"`
	ErrorCount   int64     `json:"error_count"`
	LastUsed     time.Time `json:"last_used"`
}
