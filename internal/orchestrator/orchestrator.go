// Package orchestrator sequences the generation agents for a job, either as
// one asynchronous run or one stage at a time.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"keyvex/internal/logging"
	"keyvex/internal/metrics"
	"keyvex/internal/store"
	"keyvex/internal/tcc"
	"keyvex/internal/websocket"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrJobRunning is returned while another run or step owns the job
	ErrJobRunning = errors.New("job is already running")
	// ErrJobCompleted is returned by Step for a finished job
	ErrJobCompleted = errors.New("job already completed")
)

const orchestratorAgent = "orchestrator"

// StartRequest starts a generation job
type StartRequest struct {
	UserInput         tcc.UserInput     `json:"userInput"`
	SelectedModel     string            `json:"selectedModel,omitempty"`
	AgentModelMapping map[string]string `json:"agentModelMapping,omitempty"`
	UserID            string            `json:"userId,omitempty"`
}

// Config controls an Orchestrator
type Config struct {
	JobTimeout time.Duration
	// Mode labels finalization metrics, e.g. "direct" or "http"
	Mode string
	// AgentModels are per-agent defaults for jobs that select no model
	AgentModels map[string]string
}

// StageError identifies the agent that stopped a run
type StageError struct {
	Agent string
	Step  tcc.Step
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Agent, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// StatusReport is the view returned by Status
type StatusReport struct {
	JobID       string                      `json:"jobId"`
	Status      tcc.Status                  `json:"status"`
	CurrentStep tcc.Step                    `json:"currentStep"`
	Progress    int                         `json:"progress"`
	Running     bool                        `json:"running"`
	Steps       map[tcc.Step]*tcc.StepState `json:"steps"`
	LastError   string                      `json:"lastError,omitempty"`
	HasProduct  bool                        `json:"hasFinalProduct"`
	UpdatedAt   time.Time                   `json:"updatedAt"`
}

type activeRun struct {
	cancel context.CancelFunc
	stop   func() bool
	done   chan struct{}
}

// Orchestrator runs jobs against a store through a dispatcher
type Orchestrator struct {
	store      store.ContextStore
	dispatcher Dispatcher
	events     websocket.Publisher
	jobTimeout time.Duration
	mode       string
	models     map[string]string

	ctx    context.Context
	cancel context.CancelFunc
	runs   map[string]*activeRun
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// New creates an orchestrator. events may be nil.
func New(st store.ContextStore, dispatcher Dispatcher, events websocket.Publisher, cfg Config) *Orchestrator {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 15 * time.Minute
	}
	if cfg.Mode == "" {
		cfg.Mode = "direct"
	}
	if events == nil {
		events = websocket.Publishers{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:      st,
		dispatcher: dispatcher,
		events:     events,
		jobTimeout: cfg.JobTimeout,
		mode:       cfg.Mode,
		models:     cfg.AgentModels,
		ctx:        ctx,
		cancel:     cancel,
		runs:       make(map[string]*activeRun),
	}
}

// Create stores a new pending job without running it
func (o *Orchestrator) Create(ctx context.Context, req StartRequest) (*tcc.Context, error) {
	if err := tcc.Validator().Struct(req.UserInput); err != nil {
		return nil, fmt.Errorf("invalid userInput: %w", err)
	}
	t := tcc.New(uuid.New().String(), req.UserID, req.UserInput)
	t.SelectedModel = req.SelectedModel
	mapping := make(map[string]string, len(o.models)+len(req.AgentModelMapping))
	if req.SelectedModel == "" {
		for k, v := range o.models {
			mapping[k] = v
		}
	}
	for k, v := range req.AgentModelMapping {
		mapping[k] = v
	}
	if len(mapping) > 0 {
		t.AgentModelMapping = mapping
	}
	t.MarkStep(tcc.StepInitialization, tcc.StepDone, nil)
	t.AppendLog(orchestratorAgent, "pending", "job created")

	if err := o.store.Create(ctx, t); err != nil {
		return nil, err
	}
	logging.ForJob(t.JobID, "").Info("job created",
		zap.String("user_id", t.UserID), zap.String("model", t.SelectedModel))
	return t, nil
}

// Start creates the job and runs the whole pipeline in the background. The
// returned context is the initial, pending state.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (*tcc.Context, error) {
	t, err := o.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := o.launch(t.JobID); err != nil {
		return nil, err
	}
	return t, nil
}

// Resume runs the remaining stages of an existing job in the background
func (o *Orchestrator) Resume(ctx context.Context, jobID string) error {
	t, err := o.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if t.Status == tcc.StatusCompleted {
		return ErrJobCompleted
	}
	return o.launch(jobID)
}

func (o *Orchestrator) launch(jobID string) error {
	if o.ctx.Err() != nil {
		return fmt.Errorf("orchestrator is shut down")
	}
	timeoutCtx, cancelTimeout := context.WithTimeout(o.ctx, o.jobTimeout)
	runCtx, run, err := o.claim(timeoutCtx, jobID)
	if err != nil {
		cancelTimeout()
		return err
	}

	metrics.Get().JobsInFlight.Inc()
	go func() {
		defer func() {
			metrics.Get().JobsInFlight.Dec()
			cancelTimeout()
			o.release(jobID, run)
		}()
		if err := o.Run(runCtx, jobID); err != nil {
			logging.ForJob(jobID, "").Warn("job run ended with error", zap.Error(err))
		}
	}()
	return nil
}

// claim registers the caller as the only run of the job. The returned context
// is cancelled by Cancel, Cleanup and Shutdown; release must follow.
func (o *Orchestrator) claim(parent context.Context, jobID string) (context.Context, *activeRun, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, running := o.runs[jobID]; running {
		return nil, nil, ErrJobRunning
	}
	ctx, cancel := context.WithCancel(parent)
	run := &activeRun{
		cancel: cancel,
		stop:   context.AfterFunc(o.ctx, cancel),
		done:   make(chan struct{}),
	}
	o.runs[jobID] = run
	o.wg.Add(1)
	return ctx, run, nil
}

func (o *Orchestrator) release(jobID string, run *activeRun) {
	run.stop()
	run.cancel()
	o.mu.Lock()
	delete(o.runs, jobID)
	o.mu.Unlock()
	close(run.done)
	o.wg.Done()
}

// Run executes every remaining stage synchronously and stops at the first
// failure.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	last := -1
	for {
		t, err := o.store.Get(ctx, jobID)
		if err != nil {
			return err
		}
		idx := nextStage(t)
		if idx < 0 {
			return o.complete(jobID)
		}
		if idx == last {
			err := fmt.Errorf("stage %d did not record completion", idx)
			o.fail(jobID, err)
			return err
		}
		last = idx
		if err := o.runStage(ctx, t, idx); err != nil {
			o.fail(jobID, err)
			return err
		}
	}
}

// Step runs only the next pending stage and returns the updated context.
func (o *Orchestrator) Step(ctx context.Context, jobID string) (*tcc.Context, error) {
	ctx, run, err := o.claim(ctx, jobID)
	if err != nil {
		return nil, err
	}
	defer o.release(jobID, run)

	t, err := o.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if t.Status == tcc.StatusCompleted {
		return t, ErrJobCompleted
	}

	idx := nextStage(t)
	if idx >= 0 {
		if err := o.runStage(ctx, t, idx); err != nil {
			o.fail(jobID, err)
			updated, getErr := o.store.Get(context.Background(), jobID)
			if getErr != nil {
				return nil, err
			}
			return updated, err
		}
		if idx < len(Pipeline)-1 {
			return o.store.Get(ctx, jobID)
		}
	}
	if err := o.complete(jobID); err != nil {
		return nil, err
	}
	return o.store.Get(ctx, jobID)
}

// runStage runs the unfinished agents of a stage; more than one runs in
// parallel and the first failure cancels the rest.
func (o *Orchestrator) runStage(ctx context.Context, t *tcc.Context, idx int) error {
	names := pendingAgents(t, Pipeline[idx])
	if len(names) == 1 {
		return o.runAgent(ctx, t.JobID, names[0])
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		g.Go(func() error {
			return o.runAgent(gctx, t.JobID, name)
		})
	}
	return g.Wait()
}

func (o *Orchestrator) runAgent(ctx context.Context, jobID, agent string) error {
	step := agentSteps[agent]
	log := logging.ForJob(jobID, agent)

	t, err := o.store.Update(ctx, jobID, func(t *tcc.Context) error {
		t.MarkStep(step, tcc.StepInProgress, nil)
		t.AppendLog(agent, "in_progress", fmt.Sprintf("%s started", agent))
		return nil
	})
	if err != nil {
		return &StageError{Agent: agent, Step: step, Err: err}
	}
	o.publish(websocket.JobEvent{JobID: jobID, Type: websocket.EventStepStarted, Step: step, Agent: agent,
		Message: agent + " started", Progress: t.Progress()})
	log.Info("agent started", zap.String("step", string(step)))

	start := time.Now()
	err = o.dispatcher.Dispatch(ctx, agent, jobID)
	elapsed := time.Since(start)
	metrics.Get().RecordAgentRun(agent, elapsed, err)
	if err != nil {
		log.Warn("agent failed", zap.Duration("duration", elapsed), zap.Error(err))
		return &StageError{Agent: agent, Step: step, Err: err}
	}
	log.Info("agent completed", zap.Duration("duration", elapsed))

	progress := 0
	var logLine string
	if t, err := o.store.Get(ctx, jobID); err == nil {
		progress = t.Progress()
		if n := len(t.ProgressLog); n > 0 && t.ProgressLog[n-1].Agent == agent {
			logLine = t.ProgressLog[n-1].Message
		}
	}
	if logLine != "" {
		o.publish(websocket.JobEvent{JobID: jobID, Type: websocket.EventLog, Step: step, Agent: agent,
			Message: logLine, Progress: progress})
	}
	o.publish(websocket.JobEvent{JobID: jobID, Type: websocket.EventStepCompleted, Step: step, Agent: agent,
		Message: agent + " completed", Progress: progress})
	return nil
}

// fail records the failing stage. It uses its own context because the run's
// context may be the reason for the failure.
func (o *Orchestrator) fail(jobID string, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	agent, step := orchestratorAgent, tcc.Step("")
	var stageErr *StageError
	if errors.As(runErr, &stageErr) {
		agent, step = stageErr.Agent, stageErr.Step
	}
	msg := runErr.Error()
	switch {
	case errors.Is(runErr, context.Canceled):
		msg = fmt.Sprintf("%s cancelled", agent)
	case errors.Is(runErr, context.DeadlineExceeded):
		msg = fmt.Sprintf("%s timed out", agent)
	}

	t, err := o.store.Update(ctx, jobID, func(t *tcc.Context) error {
		if step != "" {
			t.MarkStep(step, tcc.StepFailed, errors.New(msg))
		} else {
			t.Status = tcc.StatusError
			t.LastError = msg
		}
		t.AppendLog(agent, "error", msg)
		return nil
	})
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logging.ForJob(jobID, agent).Error("failed to record job failure", zap.Error(err))
		}
		return
	}

	metrics.RecordJobFinalization(string(tcc.StatusError), string(step), o.mode)
	o.publish(websocket.JobEvent{JobID: jobID, Type: websocket.EventStepFailed, Step: step, Agent: agent,
		Message: msg, Progress: t.Progress()})
	o.publish(websocket.JobEvent{JobID: jobID, Type: websocket.EventJobFailed, Step: step, Agent: agent,
		Message: msg, Progress: t.Progress()})
}

func (o *Orchestrator) complete(jobID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	t, err := o.store.Update(ctx, jobID, func(t *tcc.Context) error {
		t.Complete()
		t.AppendLog(orchestratorAgent, "completed", "tool generation completed")
		return nil
	})
	if err != nil {
		return err
	}
	metrics.RecordJobFinalization(string(tcc.StatusCompleted), string(tcc.StepCompleted), o.mode)
	logging.ForJob(jobID, "").Info("job completed")
	msg := "tool generation completed"
	if t.FinalProduct != nil {
		msg = fmt.Sprintf("tool %q is ready", t.FinalProduct.Metadata.Title)
	}
	o.publish(websocket.JobEvent{JobID: jobID, Type: websocket.EventJobCompleted, Step: tcc.StepCompleted,
		Message: msg, Progress: 100})
	return nil
}

func (o *Orchestrator) publish(ev websocket.JobEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	o.events.Publish(ev)
}

// Status returns the job's progress view
func (o *Orchestrator) Status(ctx context.Context, jobID string) (*StatusReport, error) {
	t, err := o.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &StatusReport{
		JobID:       t.JobID,
		Status:      t.Status,
		CurrentStep: t.CurrentOrchestrationStep,
		Progress:    t.Progress(),
		Running:     o.IsRunning(jobID),
		Steps:       t.Steps,
		LastError:   t.LastError,
		HasProduct:  t.FinalProduct != nil,
		UpdatedAt:   t.UpdatedAt,
	}, nil
}

// IsRunning reports whether a run or step owns the job
func (o *Orchestrator) IsRunning(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.runs[jobID]
	return ok
}

// Cancel stops an in-flight run. It reports whether a run was found.
func (o *Orchestrator) Cancel(jobID string) bool {
	o.mu.Lock()
	run, ok := o.runs[jobID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	run.cancel()
	logging.ForJob(jobID, "").Info("job cancelled")
	return true
}

// Cleanup cancels the job, waits for its run to stop and deletes the context.
func (o *Orchestrator) Cleanup(ctx context.Context, jobID string) error {
	o.mu.Lock()
	run, ok := o.runs[jobID]
	o.mu.Unlock()
	if ok {
		run.cancel()
		select {
		case <-run.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return o.store.Delete(ctx, jobID)
}

// Shutdown cancels every run and waits for them to record their state.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancel()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
