package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultModel         = "gpt-4o"
	DefaultFallbackModel = "claude-3-5-sonnet-20240620"
)

// RateLimit is a token bucket for one provider.
type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// AgentModels maps pipeline agents to models. It is loaded from the YAML file
// named by AGENT_MODELS_FILE:
//
//	default: gpt-4o
//	fallback: claude-3-5-sonnet-20240620
//	agents:
//	  function-planner: gpt-4o-mini
//	rateLimits:
//	  openai: {rps: 2, burst: 4}
type AgentModels struct {
	Default    string               `yaml:"default"`
	Fallback   string               `yaml:"fallback"`
	Agents     map[string]string    `yaml:"agents"`
	RateLimits map[string]RateLimit `yaml:"rateLimits"`
}

// DefaultAgentModels is used when no file is configured.
func DefaultAgentModels() AgentModels {
	return AgentModels{
		Default:  DefaultModel,
		Fallback: DefaultFallbackModel,
		Agents:   map[string]string{},
	}
}

// LoadAgentModels reads and merges a YAML model map over the defaults. An empty
// path returns the defaults.
func LoadAgentModels(path string) (AgentModels, error) {
	models := DefaultAgentModels()
	if path == "" {
		return models, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return models, fmt.Errorf("failed to read agent models file: %w", err)
	}
	return ParseAgentModels(data)
}

// ParseAgentModels decodes a YAML model map over the defaults.
func ParseAgentModels(data []byte) (AgentModels, error) {
	models := DefaultAgentModels()
	var parsed AgentModels
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return models, fmt.Errorf("failed to parse agent models: %w", err)
	}
	if parsed.Default != "" {
		models.Default = parsed.Default
	}
	if parsed.Fallback != "" {
		models.Fallback = parsed.Fallback
	}
	for agent, model := range parsed.Agents {
		if model != "" {
			models.Agents[agent] = model
		}
	}
	models.RateLimits = parsed.RateLimits
	for provider, rl := range models.RateLimits {
		if rl.RPS <= 0 {
			return models, fmt.Errorf("rate limit for %s must be positive", provider)
		}
	}
	return models, nil
}

// ModelFor returns the configured model for an agent, or the default.
func (m AgentModels) ModelFor(agent string) string {
	if model, ok := m.Agents[agent]; ok {
		return model
	}
	return m.Default
}
