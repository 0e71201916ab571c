package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"keyvex/internal/ai"
	"keyvex/internal/logging"
	"keyvex/internal/tcc"

	"go.uber.org/zap"
)

// ModelGenerator is the part of the ai router the agents use
type ModelGenerator = ai.ObjectGenerator

const (
	agentTemperature = 0.2
	agentMaxTokens   = 4096
)

// llmAgent holds what every model-backed agent shares
type llmAgent struct {
	name string
	step tcc.Step
	gen  ModelGenerator
}

func (a llmAgent) Name() string   { return a.name }
func (a llmAgent) Step() tcc.Step { return a.step }

// generate asks the model for an object matching dest, using the model the
// context assigns to this agent
func (a llmAgent) generate(ctx context.Context, t *tcc.Context, schema, system, prompt string, dest any) error {
	log := logging.ForJob(t.JobID, a.name)
	model := t.ModelFor(a.name)
	start := time.Now()

	resp, err := a.gen.GenerateObject(ctx, &ai.Request{
		Model:       model,
		System:      system,
		Prompt:      prompt,
		MaxTokens:   agentMaxTokens,
		Temperature: agentTemperature,
		Schema:      schema,
	}, dest)
	if err != nil {
		log.Error("model call failed", zap.String("model", model), zap.Error(err))
		return fmt.Errorf("%s: %w", a.name, err)
	}
	log.Info("model call succeeded",
		zap.String("model", resp.Model),
		zap.String("provider", string(resp.Provider)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// section renders a context section for inclusion in a prompt
func section(title string, v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		data = []byte(fmt.Sprintf("%v", v))
	}
	return fmt.Sprintf("## %s\n```json\n%s\n```\n", title, data)
}
