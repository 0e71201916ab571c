package orchestrator

import (
	"keyvex/internal/agents"
	"keyvex/internal/tcc"
)

// Stage is a group of agents that run together. Agents in the same stage
// run in parallel and write disjoint sections of the context.
type Stage struct {
	Agents []string
}

// Pipeline is the fixed generation sequence.
var Pipeline = []Stage{
	{Agents: []string{agents.NameFunctionPlanner}},
	{Agents: []string{agents.NameStateDesign, agents.NameJSXLayout}},
	{Agents: []string{agents.NameTailwindStyling}},
	{Agents: []string{agents.NameComponentAssembler}},
	{Agents: []string{agents.NameValidator}},
	{Agents: []string{agents.NameToolFinalizer}},
}

var agentSteps = map[string]tcc.Step{
	agents.NameFunctionPlanner:    tcc.StepPlanFunctions,
	agents.NameStateDesign:        tcc.StepDesignState,
	agents.NameJSXLayout:          tcc.StepDesignLayout,
	agents.NameTailwindStyling:    tcc.StepApplyStyling,
	agents.NameComponentAssembler: tcc.StepAssembleComponent,
	agents.NameValidator:          tcc.StepValidateCode,
	agents.NameToolFinalizer:      tcc.StepFinalizeTool,
}

// StepFor returns the orchestration step an agent completes
func StepFor(agent string) (tcc.Step, bool) {
	s, ok := agentSteps[agent]
	return s, ok
}

// nextStage returns the index of the first stage with an unfinished agent,
// or -1 when every stage is done.
func nextStage(t *tcc.Context) int {
	for i, stage := range Pipeline {
		for _, name := range stage.Agents {
			st, ok := t.Steps[agentSteps[name]]
			if !ok || st.Status != tcc.StepDone {
				return i
			}
		}
	}
	return -1
}

// pendingAgents returns the agents of a stage that still have to run, so a
// retried stage does not redo a finished parallel branch.
func pendingAgents(t *tcc.Context, stage Stage) []string {
	var out []string
	for _, name := range stage.Agents {
		if st, ok := t.Steps[agentSteps[name]]; ok && st.Status == tcc.StepDone {
			continue
		}
		out = append(out, name)
	}
	return out
}
