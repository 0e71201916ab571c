package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"keyvex/internal/agents"
	"keyvex/internal/logging"
	"keyvex/internal/store"
	"keyvex/internal/tcc"

	"go.uber.org/zap"
)

// ErrUnknownAgent is returned for agent names outside the registry
var ErrUnknownAgent = errors.New("unknown agent")

// Dispatcher runs one agent against a stored job
type Dispatcher interface {
	Dispatch(ctx context.Context, agent, jobID string) error
}

// RunAgent loads the job, runs the agent and merges the section it produced
// into the stored context. The agent's step is marked completed in the same
// write.
func RunAgent(ctx context.Context, registry *agents.Registry, st store.ContextStore, name, jobID string) (*tcc.Context, error) {
	return RunAgentWithModel(ctx, registry, st, name, jobID, "")
}

// RunAgentWithModel is RunAgent with a model override for this one call. The
// override is not stored.
func RunAgentWithModel(ctx context.Context, registry *agents.Registry, st store.ContextStore, name, jobID, model string) (*tcc.Context, error) {
	agent, ok := registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownAgent)
	}
	current, err := st.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if model != "" {
		if current.AgentModelMapping == nil {
			current.AgentModelMapping = make(map[string]string, 1)
		}
		current.AgentModelMapping[name] = model
	}

	out, err := agent.Run(ctx, current)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	return st.Update(ctx, jobID, func(t *tcc.Context) error {
		mergeSection(name, t, out)
		t.MarkStep(agent.Step(), tcc.StepDone, nil)
		t.AppendLog(name, "completed", completionMessage(name, t))
		return nil
	})
}

// RunAgentDetached runs an agent against a caller-supplied context without
// touching the store.
func RunAgentDetached(ctx context.Context, registry *agents.Registry, name string, t *tcc.Context) (*tcc.Context, error) {
	agent, ok := registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownAgent)
	}
	out, err := agent.Run(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	out.MarkStep(agent.Step(), tcc.StepDone, nil)
	return out, nil
}

// mergeSection copies only the section owned by the agent so that parallel
// agents do not overwrite each other.
func mergeSection(agent string, dst, src *tcc.Context) {
	switch agent {
	case agents.NameFunctionPlanner:
		dst.DefinedFunctionSignatures = src.DefinedFunctionSignatures
	case agents.NameStateDesign:
		dst.StateLogic = src.StateLogic
	case agents.NameJSXLayout:
		dst.JSXLayout = src.JSXLayout
	case agents.NameTailwindStyling:
		dst.Styling = src.Styling
	case agents.NameComponentAssembler:
		dst.AssembledComponentCode = src.AssembledComponentCode
	case agents.NameValidator:
		dst.ValidationResult = src.ValidationResult
	case agents.NameToolFinalizer:
		dst.FinalProduct = src.FinalProduct
	}
}

func completionMessage(agent string, t *tcc.Context) string {
	switch agent {
	case agents.NameFunctionPlanner:
		return fmt.Sprintf("planned %d function signatures", len(t.DefinedFunctionSignatures))
	case agents.NameStateDesign:
		if t.StateLogic != nil {
			return fmt.Sprintf("designed %d state variables and %d functions", len(t.StateLogic.StateVariables), len(t.StateLogic.Functions))
		}
	case agents.NameJSXLayout:
		if t.JSXLayout != nil {
			return fmt.Sprintf("laid out %d elements", len(t.JSXLayout.ElementMap))
		}
	case agents.NameTailwindStyling:
		if t.Styling != nil {
			return fmt.Sprintf("styled %d elements", len(t.Styling.StyleMap))
		}
	case agents.NameComponentAssembler:
		return fmt.Sprintf("assembled component (%d bytes)", len(t.AssembledComponentCode))
	case agents.NameValidator:
		if v := t.ValidationResult; v != nil {
			return fmt.Sprintf("validation via %s: valid=%t, %d syntax errors, %d type errors", v.Method, v.IsValid, len(v.SyntaxErrors), len(v.TypeErrors))
		}
	case agents.NameToolFinalizer:
		if t.FinalProduct != nil {
			return fmt.Sprintf("finalized tool %q", t.FinalProduct.Metadata.Title)
		}
	}
	return agent + " completed"
}

// DirectDispatcher runs agents in-process
type DirectDispatcher struct {
	registry *agents.Registry
	store    store.ContextStore
}

func NewDirectDispatcher(registry *agents.Registry, st store.ContextStore) *DirectDispatcher {
	return &DirectDispatcher{registry: registry, store: st}
}

func (d *DirectDispatcher) Dispatch(ctx context.Context, agent, jobID string) error {
	_, err := RunAgent(ctx, d.registry, d.store, agent, jobID)
	return err
}

// HTTPDispatcher posts {jobId} to the universal agent route of another
// instance: <baseURL>/api/ai/agents/<agent>.
type HTTPDispatcher struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPDispatcher creates a dispatcher. A nil client gets a 10 minute
// timeout, the longest an agent is expected to run.
func NewHTTPDispatcher(baseURL string, client *http.Client) *HTTPDispatcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	return &HTTPDispatcher{baseURL: strings.TrimRight(baseURL, "/"), httpClient: client}
}

// AgentError is a failure reported by a remote agent route
type AgentError struct {
	Agent  string
	Status int
	Code   string
	Msg    string
}

func (e *AgentError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("agent %s: %s (%s, status %d)", e.Agent, e.Msg, e.Code, e.Status)
	}
	return fmt.Sprintf("agent %s: %s (status %d)", e.Agent, e.Msg, e.Status)
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, agent, jobID string) error {
	body, err := json.Marshal(map[string]string{"jobId": jobID})
	if err != nil {
		return err
	}
	url := d.baseURL + "/api/ai/agents/" + agent
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create agent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("agent %s request failed: %w", agent, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Error == "" {
		payload.Error = strings.TrimSpace(string(raw))
	}
	logging.ForJob(jobID, agent).Warn("remote agent failed",
		zap.Int("status", resp.StatusCode), zap.String("code", payload.Code))
	return &AgentError{Agent: agent, Status: resp.StatusCode, Code: payload.Code, Msg: payload.Error}
}
