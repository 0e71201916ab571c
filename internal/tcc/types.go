// Package tcc defines the Tool Construction Context, the shared record threaded
// through every stage of the tool generation pipeline.
package tcc

import (
	"time"
)

// Status is the overall state of a generation job
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Step identifies a position in the orchestration sequence
type Step string

const (
	StepInitialization    Step = "initialization"
	StepPlanFunctions     Step = "planning_function_signatures"
	StepDesignState       Step = "designing_state_logic"
	StepDesignLayout      Step = "designing_jsx_layout"
	StepApplyStyling      Step = "applying_tailwind_styling"
	StepAssembleComponent Step = "assembling_component"
	StepValidateCode      Step = "validating_code"
	StepFinalizeTool      Step = "finalizing_tool"
	StepCompleted         Step = "completed"
)

// Steps lists every orchestration step in pipeline order.
var Steps = []Step{
	StepInitialization,
	StepPlanFunctions,
	StepDesignState,
	StepDesignLayout,
	StepApplyStyling,
	StepAssembleComponent,
	StepValidateCode,
	StepFinalizeTool,
	StepCompleted,
}

// StepStatus is the state of a single step
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepDone       StepStatus = "completed"
	StepFailed     StepStatus = "error"
)

// UserInput is the natural language request that started the job
type UserInput struct {
	Description    string   `json:"description" validate:"required,min=3"`
	TargetAudience string   `json:"targetAudience,omitempty"`
	Industry       string   `json:"industry,omitempty"`
	ToolType       string   `json:"toolType,omitempty" validate:"omitempty,oneof=calculator quiz assessment comparison planner other"`
	Features       []string `json:"features,omitempty"`
}

// FunctionSignature is a handler the planner decided the component needs
type FunctionSignature struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description" validate:"required"`
}

// StateVariable is a single useState declaration
type StateVariable struct {
	Name         string `json:"name" validate:"required"`
	Type         string `json:"type" validate:"required"`
	InitialValue any    `json:"initialValue"`
	Description  string `json:"description,omitempty"`
}

// StateFunction is the implementation of a planned function
type StateFunction struct {
	Name         string   `json:"name" validate:"required"`
	Body         string   `json:"body" validate:"required"`
	Dependencies []string `json:"dependencies,omitempty"`
	Description  string   `json:"description,omitempty"`
}

// StateLogic is the output of the state-design agent
type StateLogic struct {
	StateVariables []StateVariable `json:"stateVariables" validate:"required,min=1,dive"`
	Functions      []StateFunction `json:"functions" validate:"dive"`
	Imports        []string        `json:"imports,omitempty"`
}

// LayoutElement describes one element of the JSX layout
type LayoutElement struct {
	ElementID          string `json:"elementId" validate:"required"`
	Type               string `json:"type" validate:"required"`
	Purpose            string `json:"purpose,omitempty"`
	PlaceholderClasses string `json:"placeholderClasses,omitempty"`
}

// JSXLayout is the output of the jsx-layout agent
type JSXLayout struct {
	ComponentStructure    string          `json:"componentStructure" validate:"required"`
	ElementMap            []LayoutElement `json:"elementMap" validate:"dive"`
	AccessibilityFeatures []string        `json:"accessibilityFeatures,omitempty"`
	ResponsiveBreakpoints []string        `json:"responsiveBreakpoints,omitempty"`
}

// ColorScheme is the palette chosen by the styling agent
type ColorScheme struct {
	Primary    string `json:"primary,omitempty"`
	Secondary  string `json:"secondary,omitempty"`
	Background string `json:"background,omitempty"`
	Text       string `json:"text,omitempty"`
	Accent     string `json:"accent,omitempty"`
}

// Styling is the output of the tailwind-styling agent
type Styling struct {
	StyledComponentCode string            `json:"styledComponentCode" validate:"required"`
	StyleMap            map[string]string `json:"styleMap"`
	ColorScheme         ColorScheme       `json:"colorScheme"`
	DesignTokens        map[string]any    `json:"designTokens,omitempty"`
}

// ValidationResult is the output of the validator agent
type ValidationResult struct {
	IsValid      bool      `json:"isValid"`
	Method       string    `json:"method"`
	SyntaxErrors []string  `json:"syntaxErrors"`
	TypeErrors   []string  `json:"typeErrors"`
	Warnings     []string  `json:"warnings"`
	Suggestions  []string  `json:"suggestions"`
	CheckedAt    time.Time `json:"checkedAt"`
}

// ToolMetadata describes a finalized tool to end users
type ToolMetadata struct {
	Title            string   `json:"title" validate:"required"`
	Description      string   `json:"description" validate:"required"`
	UserInstructions string   `json:"userInstructions,omitempty"`
	DeveloperNotes   string   `json:"developerNotes,omitempty"`
	Category         string   `json:"category,omitempty"`
	Dependencies     []string `json:"dependencies,omitempty"`
}

// ToolDefinition is the finished product of a generation job
type ToolDefinition struct {
	ID            string            `json:"id" validate:"required"`
	Slug          string            `json:"slug" validate:"required"`
	JobID         string            `json:"jobId" validate:"required"`
	Metadata      ToolMetadata      `json:"metadata"`
	ComponentCode string            `json:"componentCode" validate:"required"`
	StyleMap      map[string]string `json:"styleMap,omitempty"`
	ColorScheme   ColorScheme       `json:"colorScheme"`
	Validation    *ValidationResult `json:"validation,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
}

// StepState tracks one step's lifecycle
type StepState struct {
	Status      StepStatus `json:"status"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// LogEntry is a single line of the per-job progress log
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Agent     string    `json:"agent,omitempty"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
}

// Context is the Tool Construction Context (TCC).
type Context struct {
	JobID                     string              `json:"jobId" validate:"required"`
	UserID                    string              `json:"userId,omitempty"`
	Status                    Status              `json:"status" validate:"required,oneof=pending in_progress completed error"`
	CurrentOrchestrationStep  Step                `json:"currentOrchestrationStep" validate:"required"`
	UserInput                 UserInput           `json:"userInput"`
	SelectedModel             string              `json:"selectedModel,omitempty"`
	AgentModelMapping         map[string]string   `json:"agentModelMapping,omitempty"`
	DefinedFunctionSignatures []FunctionSignature `json:"definedFunctionSignatures,omitempty" validate:"dive"`
	StateLogic                *StateLogic         `json:"stateLogic,omitempty"`
	JSXLayout                 *JSXLayout          `json:"jsxLayout,omitempty"`
	Styling                   *Styling            `json:"styling,omitempty"`
	AssembledComponentCode    string              `json:"assembledComponentCode,omitempty"`
	ValidationResult          *ValidationResult   `json:"validationResult,omitempty"`
	FinalProduct              *ToolDefinition     `json:"finalProduct,omitempty"`
	Steps                     map[Step]*StepState `json:"steps"`
	ProgressLog               []LogEntry          `json:"progressLog"`
	LastError                 string              `json:"lastError,omitempty"`
	TCCVersion                int                 `json:"tccVersion"`
	CreatedAt                 time.Time           `json:"createdAt"`
	UpdatedAt                 time.Time           `json:"updatedAt"`
}

// Summary is the list view of a context
type Summary struct {
	JobID     string    `json:"jobId"`
	Status    Status    `json:"status"`
	Step      Step      `json:"currentOrchestrationStep"`
	Progress  int       `json:"progress"`
	Version   int       `json:"tccVersion"`
	UpdatedAt time.Time `json:"updatedAt"`
}
