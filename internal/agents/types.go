// Package agents implements the stages of the tool generation pipeline. Each
// agent reads the sections it needs from the Tool Construction Context, asks a
// model for one new section and returns the updated context.
package agents

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"keyvex/internal/tcc"
)

// Agent names, as used in routes and model mappings
const (
	NameFunctionPlanner    = "function-planner"
	NameStateDesign        = "state-design"
	NameJSXLayout          = "jsx-layout"
	NameTailwindStyling    = "tailwind-styling"
	NameComponentAssembler = "component-assembler"
	NameValidator          = "validator"
	NameToolFinalizer      = "tool-finalizer"
)

// ErrMissingInput is returned when a prerequisite section of the context has
// not been produced yet
var ErrMissingInput = errors.New("missing required input")

// Agent is one pipeline stage. Run must not touch the store; it returns a new
// context and leaves the argument unchanged.
type Agent interface {
	Name() string
	Step() tcc.Step
	Run(ctx context.Context, t *tcc.Context) (*tcc.Context, error)
}

// CodeValidator checks generated component source
type CodeValidator interface {
	Validate(ctx context.Context, code string) tcc.ValidationResult
}

// ToolArchiver persists finalized tools
type ToolArchiver interface {
	SaveTool(ctx context.Context, def *tcc.ToolDefinition) error
}

// Registry maps agent names to agents
type Registry struct {
	agents map[string]Agent
}

// NewRegistry builds a registry from the given agents
func NewRegistry(agents ...Agent) *Registry {
	r := &Registry{agents: make(map[string]Agent, len(agents))}
	for _, a := range agents {
		r.agents[a.Name()] = a
	}
	return r
}

// Get returns the named agent
func (r *Registry) Get(name string) (Agent, bool) {
	a, ok := r.agents[name]
	return a, ok
}

// Names returns the registered agent names in sorted order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.agents))
	for n := range r.agents {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Default wires the seven pipeline agents. archive may be nil.
func Default(gen ModelGenerator, validator CodeValidator, archive ToolArchiver) *Registry {
	return NewRegistry(
		NewFunctionPlanner(gen),
		NewStateDesign(gen),
		NewJSXLayout(gen),
		NewTailwindStyling(gen),
		NewComponentAssembler(gen),
		NewValidator(validator),
		NewToolFinalizer(gen, archive),
	)
}

func missing(what string) error {
	return fmt.Errorf("%s: %w", what, ErrMissingInput)
}
