package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"keyvex/internal/agents"
	"keyvex/internal/artifacts"
	"keyvex/internal/orchestrator"
	"keyvex/internal/store"
	"keyvex/internal/tcc"
	"keyvex/internal/validation"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeAgent struct {
	name string
	run  func(ctx context.Context, t *tcc.Context) error
}

func (f *fakeAgent) Name() string { return f.name }

func (f *fakeAgent) Step() tcc.Step {
	step, _ := orchestrator.StepFor(f.name)
	return step
}

func (f *fakeAgent) Run(ctx context.Context, t *tcc.Context) (*tcc.Context, error) {
	out := t.Clone()
	if err := f.run(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

const counterComponent = `function Counter() {
  const [count, setCount] = useState(0);
  return <button className="p-4" onClick={() => setCount(count + 1)}>{count}</button>;
}`

type testEnv struct {
	router  *gin.Engine
	store   *store.Store
	orch    *orchestrator.Orchestrator
	archive *artifacts.Archive
	handler *Handler
}

// newTestEnv wires fake generation agents around the real validator agent.
func newTestEnv(t *testing.T, overrides map[string]func(context.Context, *tcc.Context) error) *testEnv {
	t.Helper()

	st := store.New()
	checker := validation.New(validation.Config{})
	t.Cleanup(checker.Close)

	local, err := artifacts.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	archive := artifacts.NewArchive(local)

	runs := map[string]func(context.Context, *tcc.Context) error{
		agents.NameFunctionPlanner: func(_ context.Context, t *tcc.Context) error {
			t.DefinedFunctionSignatures = []tcc.FunctionSignature{{Name: "increment", Description: "adds one"}}
			return nil
		},
		agents.NameStateDesign: func(_ context.Context, t *tcc.Context) error {
			t.StateLogic = &tcc.StateLogic{StateVariables: []tcc.StateVariable{{Name: "count", Type: "number", InitialValue: 0}}}
			return nil
		},
		agents.NameJSXLayout: func(_ context.Context, t *tcc.Context) error {
			t.JSXLayout = &tcc.JSXLayout{ComponentStructure: "<button />", ElementMap: []tcc.LayoutElement{{ElementID: "btn", Type: "button"}}}
			return nil
		},
		agents.NameTailwindStyling: func(_ context.Context, t *tcc.Context) error {
			t.Styling = &tcc.Styling{StyledComponentCode: "<button className=\"p-4\" />", StyleMap: map[string]string{"btn": "p-4"}}
			return nil
		},
		agents.NameComponentAssembler: func(_ context.Context, t *tcc.Context) error {
			t.AssembledComponentCode = counterComponent
			return nil
		},
		agents.NameToolFinalizer: func(ctx context.Context, t *tcc.Context) error {
			t.FinalProduct = &tcc.ToolDefinition{
				ID:            "tool-" + t.JobID,
				Slug:          "counter",
				JobID:         t.JobID,
				ComponentCode: t.AssembledComponentCode,
				Metadata:      tcc.ToolMetadata{Title: "Counter", Description: "Counts clicks"},
			}
			return nil
		},
	}
	for name, fn := range overrides {
		runs[name] = fn
	}
	list := []agents.Agent{agents.NewValidator(checker)}
	for name, fn := range runs {
		list = append(list, &fakeAgent{name: name, run: fn})
	}
	registry := agents.NewRegistry(list...)

	orch := orchestrator.New(st, orchestrator.NewDirectDispatcher(registry, st), nil, orchestrator.Config{JobTimeout: 10 * time.Second})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})

	h := &Handler{
		Store:        st,
		Agents:       registry,
		Orchestrator: orch,
		Validator:    checker,
		Archive:      archive,
	}
	router := gin.New()
	h.RegisterRoutes(router)

	return &testEnv{router: router, store: st, orch: orch, archive: archive, handler: h}
}

type apiResponse struct {
	Success    bool            `json:"success"`
	JobID      string          `json:"jobId"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error"`
	Code       string          `json:"code"`
	Pagination *PaginationInfo `json:"pagination"`
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (int, apiResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var resp apiResponse
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w.Code, resp
}

func (e *testEnv) createJob(t *testing.T) string {
	t.Helper()
	job, err := e.orch.Create(context.Background(), orchestrator.StartRequest{
		UserInput: tcc.UserInput{Description: "a click counter", ToolType: "other"},
	})
	require.NoError(t, err)
	return job.JobID
}

func TestStartRunsPipelineToCompletion(t *testing.T) {
	env := newTestEnv(t, nil)

	code, resp := env.do(t, http.MethodPost, "/api/ai/orchestrate/start", gin.H{
		"userInput":     gin.H{"description": "a click counter", "toolType": "other"},
		"selectedModel": "gpt-4o-mini",
	})
	require.Equal(t, http.StatusAccepted, code)
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.JobID)
	jobID := resp.JobID

	require.Eventually(t, func() bool {
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/ai/orchestrate/status/"+jobID, nil))
		if w.Code != http.StatusOK {
			return false
		}
		var body struct {
			Data orchestrator.StatusReport `json:"data"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			return false
		}
		return body.Data.Status == tcc.StatusCompleted && !body.Data.Running
	}, 5*time.Second, 20*time.Millisecond)

	code, resp = env.do(t, http.MethodGet, "/api/tcc/"+jobID, nil)
	require.Equal(t, http.StatusOK, code)
	var stored tcc.Context
	require.NoError(t, json.Unmarshal(resp.Data, &stored))
	assert.Equal(t, "gpt-4o-mini", stored.SelectedModel)
	require.NotNil(t, stored.ValidationResult)
	assert.True(t, stored.ValidationResult.IsValid, stored.ValidationResult.SyntaxErrors)
	assert.Equal(t, 100, stored.Progress())

	// not archived by the fake finalizer, so served from the context
	code, resp = env.do(t, http.MethodGet, "/api/tools/"+jobID, nil)
	require.Equal(t, http.StatusOK, code)
	var tool tcc.ToolDefinition
	require.NoError(t, json.Unmarshal(resp.Data, &tool))
	assert.Equal(t, "Counter", tool.Metadata.Title)
}

func TestStartRejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t, nil)

	code, resp := env.do(t, http.MethodPost, "/api/ai/orchestrate/start", gin.H{
		"userInput": gin.H{"description": ""},
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, resp.Success)
	assert.Equal(t, "VALIDATION_FAILED", resp.Code)

	code, resp = env.do(t, http.MethodPost, "/api/ai/orchestrate/start", "not an object")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_REQUEST", resp.Code)
}

func TestStepAdvancesOneStageAtATime(t *testing.T) {
	env := newTestEnv(t, nil)
	jobID := env.createJob(t)

	for i := 0; i < len(orchestrator.Pipeline); i++ {
		code, resp := env.do(t, http.MethodPost, "/api/ai/orchestrate/step", gin.H{"jobId": jobID})
		require.Equal(t, http.StatusOK, code, resp.Error)
		require.Equal(t, jobID, resp.JobID)
	}

	t1, err := env.store.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, tcc.StatusCompleted, t1.Status)

	code, resp := env.do(t, http.MethodPost, "/api/ai/orchestrate/step", gin.H{"jobId": jobID})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "JOB_COMPLETED", resp.Code)
}

func TestStepErrors(t *testing.T) {
	env := newTestEnv(t, map[string]func(context.Context, *tcc.Context) error{
		agents.NameFunctionPlanner: func(context.Context, *tcc.Context) error {
			return fmt.Errorf("model refused")
		},
	})

	code, resp := env.do(t, http.MethodPost, "/api/ai/orchestrate/step", gin.H{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_REQUEST", resp.Code)

	code, resp = env.do(t, http.MethodPost, "/api/ai/orchestrate/step", gin.H{"jobId": "missing"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", resp.Code)

	jobID := env.createJob(t)
	code, resp = env.do(t, http.MethodPost, "/api/ai/orchestrate/step", gin.H{"jobId": jobID})
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Contains(t, resp.Error, "model refused")

	stored, err := env.store.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, tcc.StatusError, stored.Status)
}

func TestResumeAfterFailure(t *testing.T) {
	var attempts atomic.Int32
	env := newTestEnv(t, map[string]func(context.Context, *tcc.Context) error{
		agents.NameFunctionPlanner: func(context.Context, *tcc.Context) error {
			if attempts.Add(1) == 1 {
				return fmt.Errorf("provider overloaded")
			}
			return nil
		},
	})
	jobID := env.createJob(t)

	code, _ := env.do(t, http.MethodPost, "/api/ai/orchestrate/step", gin.H{"jobId": jobID})
	require.Equal(t, http.StatusInternalServerError, code)

	code, resp := env.do(t, http.MethodPost, "/api/ai/orchestrate/resume", gin.H{"jobId": jobID})
	require.Equal(t, http.StatusAccepted, code, resp.Error)
	assert.Equal(t, jobID, resp.JobID)

	require.Eventually(t, func() bool {
		got, err := env.store.Get(context.Background(), jobID)
		return err == nil && got.Status == tcc.StatusCompleted && !env.orch.IsRunning(jobID)
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, int32(2), attempts.Load())

	code, resp = env.do(t, http.MethodPost, "/api/ai/orchestrate/resume", gin.H{"jobId": jobID})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "JOB_COMPLETED", resp.Code)

	code, resp = env.do(t, http.MethodPost, "/api/ai/orchestrate/resume", gin.H{"jobId": "missing"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", resp.Code)
}

func TestAgentRoute(t *testing.T) {
	env := newTestEnv(t, map[string]func(context.Context, *tcc.Context) error{
		agents.NameStateDesign: func(_ context.Context, t *tcc.Context) error {
			if len(t.DefinedFunctionSignatures) == 0 {
				return fmt.Errorf("function signatures: %w", agents.ErrMissingInput)
			}
			t.StateLogic = &tcc.StateLogic{StateVariables: []tcc.StateVariable{{Name: "count", Type: "number"}}}
			return nil
		},
	})

	t.Run("runs against the stored context", func(t *testing.T) {
		jobID := env.createJob(t)
		code, resp := env.do(t, http.MethodPost, "/api/ai/agents/"+agents.NameFunctionPlanner, gin.H{"jobId": jobID})
		require.Equal(t, http.StatusOK, code, resp.Error)

		stored, err := env.store.Get(context.Background(), jobID)
		require.NoError(t, err)
		require.Len(t, stored.DefinedFunctionSignatures, 1)
		assert.Equal(t, tcc.StepDone, stored.Steps[tcc.StepPlanFunctions].Status)
	})

	t.Run("model override is not stored", func(t *testing.T) {
		jobID := env.createJob(t)
		code, _ := env.do(t, http.MethodPost, "/api/ai/agents/"+agents.NameFunctionPlanner,
			gin.H{"jobId": jobID, "selectedModel": "claude-3-5-haiku"})
		require.Equal(t, http.StatusOK, code)

		stored, err := env.store.Get(context.Background(), jobID)
		require.NoError(t, err)
		assert.Empty(t, stored.AgentModelMapping)
	})

	t.Run("missing prerequisite is a bad request", func(t *testing.T) {
		jobID := env.createJob(t)
		code, resp := env.do(t, http.MethodPost, "/api/ai/agents/"+agents.NameStateDesign, gin.H{"jobId": jobID})
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "MISSING_INPUT", resp.Code)
	})

	t.Run("mock context is not stored", func(t *testing.T) {
		mock := tcc.New("mock-job", "", tcc.UserInput{Description: "a click counter"})
		code, resp := env.do(t, http.MethodPost, "/api/ai/agents/"+agents.NameFunctionPlanner, gin.H{"mockTcc": mock})
		require.Equal(t, http.StatusOK, code, resp.Error)

		var out tcc.Context
		require.NoError(t, json.Unmarshal(resp.Data, &out))
		assert.Len(t, out.DefinedFunctionSignatures, 1)

		_, err := env.store.Get(context.Background(), "mock-job")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("unknown agent", func(t *testing.T) {
		code, resp := env.do(t, http.MethodPost, "/api/ai/agents/poet", gin.H{"jobId": "x"})
		assert.Equal(t, http.StatusNotFound, code)
		assert.Equal(t, "UNKNOWN_AGENT", resp.Code)
	})

	t.Run("unknown job", func(t *testing.T) {
		code, resp := env.do(t, http.MethodPost, "/api/ai/agents/"+agents.NameFunctionPlanner, gin.H{"jobId": "nope"})
		assert.Equal(t, http.StatusNotFound, code)
		assert.Equal(t, "NOT_FOUND", resp.Code)
	})

	t.Run("job id required without mock", func(t *testing.T) {
		code, resp := env.do(t, http.MethodPost, "/api/ai/agents/"+agents.NameFunctionPlanner, gin.H{})
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "MISSING_JOB_ID", resp.Code)
	})
}

func TestCancelOrchestration(t *testing.T) {
	started := make(chan struct{})
	env := newTestEnv(t, map[string]func(context.Context, *tcc.Context) error{
		agents.NameFunctionPlanner: func(ctx context.Context, _ *tcc.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	})

	code, resp := env.do(t, http.MethodPost, "/api/ai/orchestrate/start", gin.H{
		"userInput": gin.H{"description": "a click counter"},
	})
	require.Equal(t, http.StatusAccepted, code)
	jobID := resp.JobID

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("planner never started")
	}

	code, resp = env.do(t, http.MethodDelete, "/api/ai/orchestrate/"+jobID, nil)
	require.Equal(t, http.StatusOK, code, resp.Error)
	assert.JSONEq(t, `{"cancelled":true}`, string(resp.Data))
	assert.False(t, env.orch.IsRunning(jobID))

	_, err := env.store.Get(context.Background(), jobID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	code, _ = env.do(t, http.MethodDelete, "/api/ai/orchestrate/"+jobID, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestTCCRoutes(t *testing.T) {
	env := newTestEnv(t, nil)
	first := env.createJob(t)
	second := env.createJob(t)

	code, resp := env.do(t, http.MethodGet, "/api/tcc?limit=1", nil)
	require.Equal(t, http.StatusOK, code)
	var page []tcc.Summary
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	require.Len(t, page, 1)
	require.NotNil(t, resp.Pagination)
	assert.EqualValues(t, 2, resp.Pagination.Total)
	assert.True(t, resp.Pagination.HasNext)

	code, _ = env.do(t, http.MethodGet, "/api/tcc/"+first, nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = env.do(t, http.MethodDelete, "/api/tcc/"+first, nil)
	assert.Equal(t, http.StatusOK, code)

	code, resp = env.do(t, http.MethodGet, "/api/tcc/"+first, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, resp.Success)

	code, _ = env.do(t, http.MethodDelete, "/api/tcc/"+first, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, resp = env.do(t, http.MethodGet, "/api/tcc", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	require.Len(t, page, 1)
	assert.Equal(t, second, page[0].JobID)
}

func TestToolRoutes(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	require.NoError(t, env.archive.SaveTool(ctx, &tcc.ToolDefinition{
		ID:            "tool-1",
		Slug:          "tip-calculator",
		JobID:         "job-archived",
		ComponentCode: "function TipCalculator() { return null; }",
		Metadata:      tcc.ToolMetadata{Title: "Tip Calculator", Description: "Splits a bill"},
	}))

	code, resp := env.do(t, http.MethodGet, "/api/tools/job-archived", nil)
	require.Equal(t, http.StatusOK, code)
	var tool tcc.ToolDefinition
	require.NoError(t, json.Unmarshal(resp.Data, &tool))
	assert.Equal(t, "tip-calculator", tool.Slug)

	code, resp = env.do(t, http.MethodGet, "/api/tools", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `["job-archived"]`, string(resp.Data))

	// a job that exists but has no product yet
	jobID := env.createJob(t)
	code, resp = env.do(t, http.MethodGet, "/api/tools/"+jobID, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", resp.Code)

	code, _ = env.do(t, http.MethodGet, "/api/tools/unknown", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestValidateRoute(t *testing.T) {
	env := newTestEnv(t, nil)

	code, resp := env.do(t, http.MethodPost, "/api/validate", gin.H{"code": counterComponent})
	require.Equal(t, http.StatusOK, code)
	var result tcc.ValidationResult
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.True(t, result.IsValid, result.SyntaxErrors)
	assert.Equal(t, validation.MethodFallback, result.Method)

	code, resp = env.do(t, http.MethodPost, "/api/validate", gin.H{"code": "function Broken( { return <div> }"})
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.False(t, result.IsValid)
	assert.NotEmpty(t, result.SyntaxErrors)

	code, resp = env.do(t, http.MethodPost, "/api/validate", gin.H{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_REQUEST", resp.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createJob(t)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "local", body["artifacts"])
	assert.Equal(t, map[string]interface{}{"pending": float64(1)}, body["jobs"])
}

func TestHealthDeepRunsChecks(t *testing.T) {
	env := newTestEnv(t, nil)
	env.handler.Checks = map[string]func(context.Context) error{
		"redis":    func(context.Context) error { return nil },
		"database": func(context.Context) error { return errors.New("connection refused") },
	}

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "dependencies")

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health?deep=true", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Dependencies map[string]string `json:"dependencies"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, map[string]string{"redis": "ok", "database": "connection refused"}, body.Dependencies)
}
