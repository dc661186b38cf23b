package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/alfredcs/reasonflow/types"
)

// Status is the lifecycle state of a workflow or a single step.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Runner executes one step. deps maps each declared dependency id to the
// output that step produced.
type Runner func(ctx context.Context, deps map[string]any) (any, error)

// Config controls workflow execution.
type Config struct {
	// Name labels the workflow in logs.
	Name string
	// MaxRetries is the number of additional attempts after a step's
	// first failure.
	MaxRetries int
	// RetryBaseDelay is the backoff unit; attempt n waits 2^n times this.
	// Zero disables the wait, which tests rely on.
	RetryBaseDelay time.Duration
	// Timeout bounds the whole execution. Zero means no bound.
	Timeout time.Duration
}

// HistoryEntry records one step attempt.
type HistoryEntry struct {
	Step     string        `json:"step"`
	Status   Status        `json:"status"`
	Attempt  int           `json:"attempt"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Result is the outcome of one workflow execution.
type Result struct {
	WorkflowID string         `json:"workflow_id"`
	Status     Status         `json:"status"`
	Outputs    map[string]any `json:"outputs"`
	History    []HistoryEntry `json:"history"`
}

type step struct {
	id     string
	runner Runner
	deps   []string
}

// Workflow is a registry of dependent steps with a wave-based executor.
// AddStep calls must finish before Execute; a Workflow is not safe for
// concurrent mutation.
type Workflow struct {
	id     string
	cfg    Config
	steps  map[string]*step
	order  []string
	logger *zap.Logger

	mu      sync.Mutex
	history []HistoryEntry
}

// New creates an empty workflow.
func New(cfg Config, logger *zap.Logger) *Workflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &Workflow{
		id:    id,
		cfg:   cfg,
		steps: make(map[string]*step),
		logger: logger.With(
			zap.String("component", "workflow"),
			zap.String("workflow_id", id),
			zap.String("workflow", cfg.Name),
		),
	}
}

// ID returns the workflow's unique id.
func (w *Workflow) ID() string {
	return w.id
}

// AddStep registers a step with its dependencies. A duplicate id is an
// error; unknown dependencies are caught by Validate.
func (w *Workflow) AddStep(id string, runner Runner, deps ...string) error {
	if id == "" {
		return types.NewError(types.ErrWorkflowInvalid, "step id is empty")
	}
	if runner == nil {
		return types.NewErrorf(types.ErrWorkflowInvalid, "step %q has no runner", id)
	}
	if _, exists := w.steps[id]; exists {
		return types.NewErrorf(types.ErrWorkflowInvalid, "step %q already exists", id)
	}
	w.steps[id] = &step{id: id, runner: runner, deps: append([]string(nil), deps...)}
	w.order = append(w.order, id)
	w.logger.Debug("step added", zap.String("step", id), zap.Strings("deps", deps))
	return nil
}

// Validate checks the workflow structure: at least one step, every
// dependency registered, no dependency cycles.
func (w *Workflow) Validate() error {
	if len(w.steps) == 0 {
		return types.NewError(types.ErrWorkflowInvalid, "workflow has no steps")
	}
	for _, id := range w.order {
		for _, dep := range w.steps[id].deps {
			if _, ok := w.steps[dep]; !ok {
				return types.NewErrorf(types.ErrWorkflowInvalid,
					"step %q depends on unknown step %q", id, dep)
			}
		}
	}
	if _, err := w.Waves(); err != nil {
		return err
	}
	return nil
}

// Waves resolves the steps into execution waves: wave n holds every step
// whose dependencies all completed in waves before n. Steps keep their
// registration order within a wave. A cycle leaves steps unresolvable and
// returns a CIRCULAR_DEPS error.
func (w *Workflow) Waves() ([][]string, error) {
	completed := make(map[string]bool, len(w.steps))
	var waves [][]string

	for len(completed) < len(w.steps) {
		var ready []string
		for _, id := range w.order {
			if completed[id] {
				continue
			}
			ok := true
			for _, dep := range w.steps[id].deps {
				if !completed[dep] {
					ok = false
					break
				}
			}
			if ok {
				ready = append(ready, id)
			}
		}
		if len(ready) == 0 {
			return nil, types.NewErrorf(types.ErrCircularDeps,
				"dependency cycle among %d unresolved steps", len(w.steps)-len(completed))
		}
		for _, id := range ready {
			completed[id] = true
		}
		waves = append(waves, ready)
	}
	return waves, nil
}

// Execute validates the workflow and runs every step in dependency order,
// steps within a wave concurrently. The first step to exhaust its retries
// fails the whole workflow; in-flight steps of the same wave finish
// first. The returned Result carries every step output and the full
// attempt history even on failure.
func (w *Workflow) Execute(ctx context.Context) (*Result, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if w.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.Timeout)
		defer cancel()
	}

	waves, err := w.Waves()
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	w.history = nil
	w.mu.Unlock()

	w.logger.Info("workflow started",
		zap.Int("steps", len(w.steps)),
		zap.Int("waves", len(waves)),
	)

	outputs := make(map[string]any, len(w.steps))
	var outputsMu sync.Mutex

	for wi, wave := range waves {
		g, gctx := errgroup.WithContext(ctx)
		for _, id := range wave {
			st := w.steps[id]
			g.Go(func() error {
				out, err := w.runStep(gctx, st, outputs, &outputsMu)
				if err != nil {
					return err
				}
				outputsMu.Lock()
				outputs[st.id] = out
				outputsMu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			w.logger.Error("workflow failed",
				zap.Int("wave", wi),
				zap.Error(err),
			)
			return &Result{
				WorkflowID: w.id,
				Status:     StatusFailed,
				Outputs:    outputs,
				History:    w.History(),
			}, err
		}
	}

	w.logger.Info("workflow completed", zap.Int("steps", len(w.steps)))
	return &Result{
		WorkflowID: w.id,
		Status:     StatusCompleted,
		Outputs:    outputs,
		History:    w.History(),
	}, nil
}

// History returns a copy of the attempt history of the last execution.
func (w *Workflow) History() []HistoryEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]HistoryEntry(nil), w.history...)
}

func (w *Workflow) runStep(ctx context.Context, st *step, outputs map[string]any, outputsMu *sync.Mutex) (any, error) {
	deps := make(map[string]any, len(st.deps))
	outputsMu.Lock()
	for _, dep := range st.deps {
		deps[dep] = outputs[dep]
	}
	outputsMu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxRetries+1; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		out, err := st.runner(ctx, deps)
		duration := time.Since(start)

		if err == nil {
			w.record(HistoryEntry{
				Step:     st.id,
				Status:   StatusCompleted,
				Attempt:  attempt,
				Duration: duration,
			})
			w.logger.Debug("step completed",
				zap.String("step", st.id),
				zap.Int("attempt", attempt),
				zap.Duration("duration", duration),
			)
			return out, nil
		}

		lastErr = err
		w.record(HistoryEntry{
			Step:     st.id,
			Status:   StatusFailed,
			Attempt:  attempt,
			Duration: duration,
			Error:    err.Error(),
		})
		w.logger.Warn("step attempt failed",
			zap.String("step", st.id),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt <= w.cfg.MaxRetries && w.cfg.RetryBaseDelay > 0 {
			delay := w.cfg.RetryBaseDelay << attempt
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return nil, types.NewErrorf(types.ErrStepFailed,
		"step %q failed after %d attempts", st.id, w.cfg.MaxRetries+1).WithCause(lastErr)
}

func (w *Workflow) record(e HistoryEntry) {
	w.mu.Lock()
	w.history = append(w.history, e)
	w.mu.Unlock()
}
