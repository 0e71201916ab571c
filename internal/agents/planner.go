package agents

import (
	"context"
	"strings"

	"keyvex/internal/tcc"
)

type functionPlan struct {
	Signatures []tcc.FunctionSignature `json:"signatures" validate:"required,min=1,dive"`
}

// FunctionPlanner decides which functions the component needs
type FunctionPlanner struct{ llmAgent }

func NewFunctionPlanner(gen ModelGenerator) *FunctionPlanner {
	return &FunctionPlanner{llmAgent{name: NameFunctionPlanner, step: tcc.StepPlanFunctions, gen: gen}}
}

func (a *FunctionPlanner) Run(ctx context.Context, t *tcc.Context) (*tcc.Context, error) {
	if strings.TrimSpace(t.UserInput.Description) == "" {
		return nil, missing("userInput.description")
	}
	var plan functionPlan
	if err := a.generate(ctx, t, "functionPlan", functionPlannerSystem, describeRequest(t.UserInput), &plan); err != nil {
		return nil, err
	}
	out := t.Clone()
	out.DefinedFunctionSignatures = plan.Signatures
	return out, nil
}
