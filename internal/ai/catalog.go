package ai

import (
	"fmt"
	"strings"
)

// ModelInfo describes a known model
type ModelInfo struct {
	ID       string   `json:"id"`
	Provider Provider `json:"provider"`
	// USD per 1K tokens
	InputCost  float64 `json:"input_cost"`
	OutputCost float64 `json:"output_cost"`
	MaxOutput  int     `json:"max_output"`
}

// Catalog lists models with known pricing. Unlisted models still route by
// prefix and are priced with their provider's default.
var Catalog = []ModelInfo{
	{ID: "gpt-4o", Provider: ProviderOpenAI, InputCost: 0.0025, OutputCost: 0.01, MaxOutput: 16384},
	{ID: "gpt-4o-mini", Provider: ProviderOpenAI, InputCost: 0.00015, OutputCost: 0.0006, MaxOutput: 16384},
	{ID: "gpt-4.1", Provider: ProviderOpenAI, InputCost: 0.002, OutputCost: 0.008, MaxOutput: 32768},
	{ID: "gpt-4.1-mini", Provider: ProviderOpenAI, InputCost: 0.0004, OutputCost: 0.0016, MaxOutput: 32768},
	{ID: "o3-mini", Provider: ProviderOpenAI, InputCost: 0.0011, OutputCost: 0.0044, MaxOutput: 100000},
	{ID: "o4-mini", Provider: ProviderOpenAI, InputCost: 0.0011, OutputCost: 0.0044, MaxOutput: 100000},
	{ID: "claude-3-5-sonnet-20240620", Provider: ProviderAnthropic, InputCost: 0.003, OutputCost: 0.015, MaxOutput: 8192},
	{ID: "claude-3-5-sonnet-20241022", Provider: ProviderAnthropic, InputCost: 0.003, OutputCost: 0.015, MaxOutput: 8192},
	{ID: "claude-3-5-haiku-20241022", Provider: ProviderAnthropic, InputCost: 0.0008, OutputCost: 0.004, MaxOutput: 8192},
	{ID: "claude-3-7-sonnet-20250219", Provider: ProviderAnthropic, InputCost: 0.003, OutputCost: 0.015, MaxOutput: 8192},
	{ID: "claude-sonnet-4-20250514", Provider: ProviderAnthropic, InputCost: 0.003, OutputCost: 0.015, MaxOutput: 16000},
	{ID: "gemini-1.5-pro", Provider: ProviderGemini, InputCost: 0.00125, OutputCost: 0.005, MaxOutput: 8192},
	{ID: "gemini-1.5-flash", Provider: ProviderGemini, InputCost: 0.000075, OutputCost: 0.0003, MaxOutput: 8192},
	{ID: "gemini-2.0-flash", Provider: ProviderGemini, InputCost: 0.0001, OutputCost: 0.0004, MaxOutput: 8192},
	{ID: "gemini-2.5-pro", Provider: ProviderGemini, InputCost: 0.00125, OutputCost: 0.01, MaxOutput: 65536},
}

var defaultPricing = map[Provider]ModelInfo{
	ProviderOpenAI:    {InputCost: 0.0025, OutputCost: 0.01, MaxOutput: 4096},
	ProviderAnthropic: {InputCost: 0.003, OutputCost: 0.015, MaxOutput: 4096},
	ProviderGemini:    {InputCost: 0.00125, OutputCost: 0.005, MaxOutput: 4096},
}

// ProviderForModel resolves which vendor serves a model id.
func ProviderForModel(model string) (Provider, error) {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case m == "":
		return "", fmt.Errorf("empty model: %w", ErrNoProvider)
	case strings.HasPrefix(m, "claude-"):
		return ProviderAnthropic, nil
	case strings.HasPrefix(m, "gpt-"), strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return ProviderOpenAI, nil
	case strings.HasPrefix(m, "gemini-"):
		return ProviderGemini, nil
	}
	return "", fmt.Errorf("%s: %w", model, ErrNoProvider)
}

// LookupModel returns catalogue data for a model, falling back to provider
// defaults for unlisted ids.
func LookupModel(model string) (ModelInfo, bool) {
	for _, m := range Catalog {
		if m.ID == model {
			return m, true
		}
	}
	p, err := ProviderForModel(model)
	if err != nil {
		return ModelInfo{}, false
	}
	info := defaultPricing[p]
	info.ID = model
	info.Provider = p
	return info, true
}

func estimateCost(model string, inputTokens, outputTokens int) float64 {
	info, ok := LookupModel(model)
	if !ok {
		return 0
	}
	return float64(inputTokens)/1000.0*info.InputCost + float64(outputTokens)/1000.0*info.OutputCost
}

// reasoningModel reports whether an OpenAI model rejects temperature and
// max_tokens in favour of max_completion_tokens.
func reasoningModel(model string) bool {
	m := strings.ToLower(model)
	return strings.HasPrefix(m, "o1") || strings.HasPrefix(m, "o3") || strings.HasPrefix(m, "o4")
}
