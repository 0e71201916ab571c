package tcc

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// maxProgressLog bounds the progress log kept inside the context.
const maxProgressLog = 200

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared struct validator. Field names in errors use the
// json tag.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// New creates a pending context at the initialization step.
func New(jobID, userID string, input UserInput) *Context {
	now := time.Now().UTC()
	steps := make(map[Step]*StepState, len(Steps))
	for _, s := range Steps {
		steps[s] = &StepState{Status: StepPending}
	}
	return &Context{
		JobID:                    jobID,
		UserID:                   userID,
		Status:                   StatusPending,
		CurrentOrchestrationStep: StepInitialization,
		UserInput:                input,
		Steps:                    steps,
		ProgressLog:              []LogEntry{},
		CreatedAt:                now,
		UpdatedAt:                now,
	}
}

// Validate runs the schema check applied on every store write.
func (c *Context) Validate() error {
	if c == nil {
		return fmt.Errorf("tcc: nil context")
	}
	if err := Validator().Struct(c); err != nil {
		return fmt.Errorf("tcc %s failed schema validation: %w", c.JobID, err)
	}
	if !IsKnownStep(c.CurrentOrchestrationStep) {
		return fmt.Errorf("tcc %s: unknown orchestration step %q", c.JobID, c.CurrentOrchestrationStep)
	}
	return nil
}

// Clone returns a deep copy of the context.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		panic(fmt.Sprintf("tcc: clone marshal: %v", err))
	}
	var out Context
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("tcc: clone unmarshal: %v", err))
	}
	return &out
}

// MarkStep records a step transition and keeps the job status in sync.
func (c *Context) MarkStep(step Step, status StepStatus, stepErr error) {
	if c.Steps == nil {
		c.Steps = make(map[Step]*StepState)
	}
	st, ok := c.Steps[step]
	if !ok {
		st = &StepState{}
		c.Steps[step] = st
	}
	now := time.Now().UTC()
	st.Status = status
	switch status {
	case StepInProgress:
		st.StartedAt = &now
		st.CompletedAt = nil
		st.Error = ""
		c.CurrentOrchestrationStep = step
		c.Status = StatusInProgress
	case StepDone:
		st.CompletedAt = &now
		st.Error = ""
	case StepFailed:
		st.CompletedAt = &now
		if stepErr != nil {
			st.Error = stepErr.Error()
			c.LastError = stepErr.Error()
		}
		c.CurrentOrchestrationStep = step
		c.Status = StatusError
	}
}

// AppendLog adds a progress log line, trimming the oldest entries.
func (c *Context) AppendLog(agent, status, message string) {
	c.ProgressLog = append(c.ProgressLog, LogEntry{
		Timestamp: time.Now().UTC(),
		Agent:     agent,
		Status:    status,
		Message:   message,
	})
	if n := len(c.ProgressLog); n > maxProgressLog {
		c.ProgressLog = append([]LogEntry(nil), c.ProgressLog[n-maxProgressLog:]...)
	}
}

// ModelFor resolves the model an agent should use. An empty result means the
// router default.
func (c *Context) ModelFor(agent string) string {
	if m, ok := c.AgentModelMapping[agent]; ok && m != "" {
		return m
	}
	return c.SelectedModel
}

// Progress returns the percentage of pipeline steps completed. The
// initialization and completed markers are not counted.
func (c *Context) Progress() int {
	if c.Status == StatusCompleted {
		return 100
	}
	work := Steps[1 : len(Steps)-1]
	done := 0
	for _, s := range work {
		if st, ok := c.Steps[s]; ok && st.Status == StepDone {
			done++
		}
	}
	return done * 100 / len(work)
}

// Complete marks the whole job finished.
func (c *Context) Complete() {
	c.MarkStep(StepCompleted, StepDone, nil)
	c.CurrentOrchestrationStep = StepCompleted
	c.Status = StatusCompleted
	c.LastError = ""
}

// Summarize returns the list view of the context.
func (c *Context) Summarize() Summary {
	return Summary{
		JobID:     c.JobID,
		Status:    c.Status,
		Step:      c.CurrentOrchestrationStep,
		Progress:  c.Progress(),
		Version:   c.TCCVersion,
		UpdatedAt: c.UpdatedAt,
	}
}

// IsKnownStep reports whether s is part of the orchestration sequence.
func IsKnownStep(s Step) bool {
	for _, known := range Steps {
		if s == known {
			return true
		}
	}
	return false
}
