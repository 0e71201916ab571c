package agents

import (
	"context"

	"keyvex/internal/tcc"
)

// StateDesign turns the planned functions into hooks and handlers
type StateDesign struct{ llmAgent }

func NewStateDesign(gen ModelGenerator) *StateDesign {
	return &StateDesign{llmAgent{name: NameStateDesign, step: tcc.StepDesignState, gen: gen}}
}

func (a *StateDesign) Run(ctx context.Context, t *tcc.Context) (*tcc.Context, error) {
	if len(t.DefinedFunctionSignatures) == 0 {
		return nil, missing("definedFunctionSignatures")
	}
	prompt := describeRequest(t.UserInput) + section("Function signatures", t.DefinedFunctionSignatures)

	var logic tcc.StateLogic
	if err := a.generate(ctx, t, "stateLogic", stateDesignSystem, prompt, &logic); err != nil {
		return nil, err
	}
	out := t.Clone()
	out.StateLogic = &logic
	return out, nil
}

// JSXLayout designs the unstyled element tree. It runs alongside StateDesign.
type JSXLayout struct{ llmAgent }

func NewJSXLayout(gen ModelGenerator) *JSXLayout {
	return &JSXLayout{llmAgent{name: NameJSXLayout, step: tcc.StepDesignLayout, gen: gen}}
}

func (a *JSXLayout) Run(ctx context.Context, t *tcc.Context) (*tcc.Context, error) {
	if len(t.DefinedFunctionSignatures) == 0 {
		return nil, missing("definedFunctionSignatures")
	}
	prompt := describeRequest(t.UserInput) + section("Function signatures", t.DefinedFunctionSignatures)

	var layout tcc.JSXLayout
	if err := a.generate(ctx, t, "jsxLayout", jsxLayoutSystem, prompt, &layout); err != nil {
		return nil, err
	}
	out := t.Clone()
	out.JSXLayout = &layout
	return out, nil
}

// TailwindStyling applies utility classes to the layout
type TailwindStyling struct{ llmAgent }

func NewTailwindStyling(gen ModelGenerator) *TailwindStyling {
	return &TailwindStyling{llmAgent{name: NameTailwindStyling, step: tcc.StepApplyStyling, gen: gen}}
}

func (a *TailwindStyling) Run(ctx context.Context, t *tcc.Context) (*tcc.Context, error) {
	if t.JSXLayout == nil {
		return nil, missing("jsxLayout")
	}
	prompt := describeRequest(t.UserInput) + section("JSX layout", t.JSXLayout)

	var styling tcc.Styling
	if err := a.generate(ctx, t, "styling", tailwindStylingSystem, prompt, &styling); err != nil {
		return nil, err
	}
	if styling.StyleMap == nil {
		styling.StyleMap = map[string]string{}
	}
	out := t.Clone()
	out.Styling = &styling
	return out, nil
}
