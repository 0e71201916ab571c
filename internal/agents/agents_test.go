package agents

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"keyvex/internal/ai"
	"keyvex/internal/tcc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGenerator answers by schema name with canned JSON
type fakeGenerator struct {
	mu       sync.Mutex
	replies  map[string]string
	failures map[string]error
	requests []*ai.Request
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{replies: map[string]string{}, failures: map[string]error{}}
}

func (f *fakeGenerator) GenerateObject(_ context.Context, req *ai.Request, dest any) (*ai.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if err := f.failures[req.Schema]; err != nil {
		return nil, err
	}
	reply, ok := f.replies[req.Schema]
	if !ok {
		return nil, errors.New("no reply for " + req.Schema)
	}
	if err := json.Unmarshal([]byte(reply), dest); err != nil {
		return nil, err
	}
	return &ai.Response{Model: req.Model, Provider: ai.ProviderOpenAI, Content: reply}, nil
}

func (f *fakeGenerator) lastRequest() *ai.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type fakeChecker struct{ result tcc.ValidationResult }

func (f fakeChecker) Validate(context.Context, string) tcc.ValidationResult { return f.result }

type recordingArchive struct {
	saved []*tcc.ToolDefinition
	err   error
}

func (r *recordingArchive) SaveTool(_ context.Context, def *tcc.ToolDefinition) error {
	r.saved = append(r.saved, def)
	return r.err
}

func newContext() *tcc.Context {
	return tcc.New("job-1234567890", "user-1", tcc.UserInput{
		Description:    "ROI calculator for marketing campaigns",
		ToolType:       "calculator",
		TargetAudience: "marketing managers",
	})
}

func TestFunctionPlanner(t *testing.T) {
	gen := newFakeGenerator()
	gen.replies["functionPlan"] = `{"signatures":[{"name":"calculateROI","description":"Computes ROI"}]}`
	in := newContext()
	in.AgentModelMapping = map[string]string{NameFunctionPlanner: "claude-3-5-haiku-20241022"}

	out, err := NewFunctionPlanner(gen).Run(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, out.DefinedFunctionSignatures, 1)
	assert.Equal(t, "calculateROI", out.DefinedFunctionSignatures[0].Name)
	assert.Empty(t, in.DefinedFunctionSignatures, "input must not be mutated")
	assert.Equal(t, "claude-3-5-haiku-20241022", gen.lastRequest().Model)
	assert.Contains(t, gen.lastRequest().Prompt, "marketing managers")
}

func TestAgentsRequirePrerequisites(t *testing.T) {
	gen := newFakeGenerator()
	tests := []Agent{
		NewStateDesign(gen),
		NewJSXLayout(gen),
		NewTailwindStyling(gen),
		NewComponentAssembler(gen),
		NewValidator(fakeChecker{}),
		NewToolFinalizer(gen, nil),
	}
	for _, a := range tests {
		t.Run(a.Name(), func(t *testing.T) {
			_, err := a.Run(context.Background(), newContext())
			assert.ErrorIs(t, err, ErrMissingInput)
		})
	}

	empty := newContext()
	empty.UserInput.Description = "  "
	_, err := NewFunctionPlanner(gen).Run(context.Background(), empty)
	assert.ErrorIs(t, err, ErrMissingInput)
	assert.Empty(t, gen.requests, "no model call without prerequisites")
}

func TestDesignAgents(t *testing.T) {
	gen := newFakeGenerator()
	gen.replies["stateLogic"] = `{"stateVariables":[{"name":"spend","type":"number","initialValue":0}],"functions":[{"name":"calculateROI","body":"return revenue/spend"}]}`
	gen.replies["jsxLayout"] = `{"componentStructure":"<div data-element-id=\"root\"></div>","elementMap":[{"elementId":"root","type":"div"}]}`
	gen.replies["styling"] = `{"styledComponentCode":"<div className=\"p-4\"></div>","colorScheme":{"primary":"#2563eb"}}`

	in := newContext()
	in.DefinedFunctionSignatures = []tcc.FunctionSignature{{Name: "calculateROI", Description: "Computes ROI"}}

	state, err := NewStateDesign(gen).Run(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, state.StateLogic)
	assert.Equal(t, "spend", state.StateLogic.StateVariables[0].Name)

	layout, err := NewJSXLayout(gen).Run(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, layout.JSXLayout)
	assert.Nil(t, layout.StateLogic, "branches are independent")

	styled, err := NewTailwindStyling(gen).Run(context.Background(), layout)
	require.NoError(t, err)
	require.NotNil(t, styled.Styling)
	assert.NotNil(t, styled.Styling.StyleMap)
	assert.Equal(t, "#2563eb", styled.Styling.ColorScheme.Primary)
}

func TestComponentAssemblerCleansCode(t *testing.T) {
	gen := newFakeGenerator()
	gen.replies["assembly"] = `{"finalComponentCode":"` + "```jsx\\nimport React, { useState } from 'react';\\nfunction ToolComponent() {\\n  return <div/>;\\n}\\n```" + `"}`

	in := newContext()
	in.StateLogic = &tcc.StateLogic{StateVariables: []tcc.StateVariable{{Name: "a", Type: "number"}}}
	in.Styling = &tcc.Styling{StyledComponentCode: "<div/>"}

	out, err := NewComponentAssembler(gen).Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "function ToolComponent() {\n  return <div/>;\n}\n", out.AssembledComponentCode)
}

func TestValidatorAgent(t *testing.T) {
	checker := fakeChecker{result: tcc.ValidationResult{IsValid: false, Method: "fallback", SyntaxErrors: []string{"1:1 unexpected"}}}
	in := newContext()
	in.AssembledComponentCode = "function ToolComponent() {"

	out, err := NewValidator(checker).Run(context.Background(), in)
	require.NoError(t, err, "invalid code is reported, not failed")
	require.NotNil(t, out.ValidationResult)
	assert.False(t, out.ValidationResult.IsValid)
	assert.Equal(t, "fallback", out.ValidationResult.Method)
}

func TestToolFinalizer(t *testing.T) {
	gen := newFakeGenerator()
	gen.replies["toolMetadata"] = `{"title":"Campaign ROI Calculator","description":"Estimate campaign returns"}`
	archive := &recordingArchive{}

	in := newContext()
	in.AssembledComponentCode = "function ToolComponent() { return null; }\n"
	in.ValidationResult = &tcc.ValidationResult{IsValid: true, Method: "transpiler"}
	in.Styling = &tcc.Styling{StyledComponentCode: "<div/>", StyleMap: map[string]string{"root": "p-4"}}

	out, err := NewToolFinalizer(gen, archive).Run(context.Background(), in)
	require.NoError(t, err)

	def := out.FinalProduct
	require.NotNil(t, def)
	assert.Equal(t, "Campaign ROI Calculator", def.Metadata.Title)
	assert.Equal(t, "campaign-roi-calculator-job-1234", def.Slug)
	assert.Equal(t, []string{"react"}, def.Metadata.Dependencies)
	assert.Equal(t, "p-4", def.StyleMap["root"])
	assert.NotEmpty(t, def.ID)
	require.Len(t, archive.saved, 1)
	assert.Equal(t, def.ID, archive.saved[0].ID)
}

func TestToolFinalizerFallsBackToDerivedMetadata(t *testing.T) {
	gen := newFakeGenerator()
	gen.failures["toolMetadata"] = ai.ErrInvalidObject
	archive := &recordingArchive{err: errors.New("disk full")}

	in := newContext()
	in.AssembledComponentCode = "function ToolComponent() { return null; }\n"
	in.ValidationResult = &tcc.ValidationResult{IsValid: true}

	out, err := NewToolFinalizer(gen, archive).Run(context.Background(), in)
	require.NoError(t, err)

	meta := out.FinalProduct.Metadata
	assert.Equal(t, "ROI calculator for marketing campaigns", meta.Title)
	assert.Equal(t, "calculator", meta.Category)
	assert.True(t, strings.HasPrefix(out.FinalProduct.Slug, "roi-calculator-for-marketing-campaigns-"))
	assert.NoError(t, tcc.Validator().Struct(out.FinalProduct))
}

func TestDerivedMetadataTitle(t *testing.T) {
	tests := []struct {
		name        string
		description string
		title       string
	}{
		{name: "first sentence", description: "loan checker. Shows rates", title: "Loan checker"},
		{name: "non-ascii first letter", description: "ñandú tracker", title: "Ñandú tracker"},
		{
			name:        "long non-ascii",
			description: "über-Rechner für Zinseszinsen mit monatlicher Einzahlung und Steuerabzug für Österreich",
			title:       "Über-Rechner für Zinseszinsen mit monatlicher Einzahlung und",
		},
		{name: "empty", description: "", title: "Generated calculator"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := derivedMetadata(tcc.UserInput{Description: tt.description, ToolType: "calculator"})
			assert.Equal(t, tt.title, meta.Title)
			assert.True(t, utf8.ValidString(meta.Title))
		})
	}
}

func TestDefaultRegistry(t *testing.T) {
	reg := Default(newFakeGenerator(), fakeChecker{}, nil)
	assert.Equal(t, []string{
		NameComponentAssembler, NameFunctionPlanner, NameJSXLayout, NameStateDesign,
		NameTailwindStyling, NameToolFinalizer, NameValidator,
	}, reg.Names())

	a, ok := reg.Get(NameJSXLayout)
	require.True(t, ok)
	assert.Equal(t, tcc.StepDesignLayout, a.Step())

	_, ok = reg.Get("brand-analyzer")
	assert.False(t, ok)
}

func TestSlugFor(t *testing.T) {
	assert.Equal(t, "tool-abc", slugFor("!!!", "abc"))
	assert.Equal(t, "quiz-time-12345678", slugFor("  Quiz -- Time ", "1234567890"))
}
