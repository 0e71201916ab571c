package agents

import (
	"context"
	"regexp"
	"strings"

	"keyvex/internal/tcc"
)

type assembly struct {
	FinalComponentCode string `json:"finalComponentCode" validate:"required"`
}

var (
	codeFence  = regexp.MustCompile("(?m)^```[a-zA-Z]*\\s*$")
	importLine = regexp.MustCompile(`(?m)^\s*import\s[^\n]*\n?`)
)

// ComponentAssembler merges state logic and styled JSX into one component
type ComponentAssembler struct{ llmAgent }

func NewComponentAssembler(gen ModelGenerator) *ComponentAssembler {
	return &ComponentAssembler{llmAgent{name: NameComponentAssembler, step: tcc.StepAssembleComponent, gen: gen}}
}

func (a *ComponentAssembler) Run(ctx context.Context, t *tcc.Context) (*tcc.Context, error) {
	if t.StateLogic == nil {
		return nil, missing("stateLogic")
	}
	if t.Styling == nil {
		return nil, missing("styling")
	}
	prompt := describeRequest(t.UserInput) +
		section("State logic", t.StateLogic) +
		section("Styled JSX", t.Styling.StyledComponentCode)

	var result assembly
	if err := a.generate(ctx, t, "assembly", componentAssemblerSystem, prompt, &result); err != nil {
		return nil, err
	}
	out := t.Clone()
	out.AssembledComponentCode = cleanComponentCode(result.FinalComponentCode)
	return out, nil
}

// cleanComponentCode strips markdown fences and import lines; React is
// injected as a global where the tool runs.
func cleanComponentCode(code string) string {
	code = codeFence.ReplaceAllString(code, "")
	code = importLine.ReplaceAllString(code, "")
	return strings.TrimSpace(code) + "\n"
}
