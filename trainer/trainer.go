package trainer

import (
	"context"
	"errors"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/alfredcs/reasonflow/config"
	"github.com/alfredcs/reasonflow/gvpo"
	"github.com/alfredcs/reasonflow/internal/metrics"
	"github.com/alfredcs/reasonflow/internal/store"
	"github.com/alfredcs/reasonflow/types"
)

// RolloutSource supplies rollout batches. Next blocks until a batch is
// available, returns a BUFFER_EMPTY error when the underlying transport
// timed out without data, or io.EOF when the source is exhausted.
type RolloutSource interface {
	Next(ctx context.Context) (*types.RolloutBatch, error)
}

// PolicyUpdater applies one optimizer step from a processed batch. The
// batch carries the broadcast advantages; loss is the scalar GVPO loss.
// The updater must treat the advantages as constants when it
// differentiates through the current-policy log probabilities.
type PolicyUpdater interface {
	Apply(ctx context.Context, batch *types.RolloutBatch, loss float64) error
}

// Trainer drives the GVPO training step loop.
type Trainer struct {
	cfg       config.TrainerConfig
	adapter   *Adapter
	source    RolloutSource
	updater   PolicyUpdater
	logger    *zap.Logger
	collector *metrics.Collector
	history   *store.Store
	tracer    trace.Tracer
}

// Option customizes a Trainer.
type Option func(*Trainer)

// WithCollector attaches a Prometheus collector.
func WithCollector(c *metrics.Collector) Option {
	return func(t *Trainer) { t.collector = c }
}

// WithHistory attaches a run-history store.
func WithHistory(s *store.Store) Option {
	return func(t *Trainer) { t.history = s }
}

// New creates a Trainer. Source and updater are required; collector and
// history store are optional.
func New(cfg config.TrainerConfig, adapter *Adapter, source RolloutSource, updater PolicyUpdater, logger *zap.Logger, opts ...Option) (*Trainer, error) {
	if adapter == nil {
		return nil, types.NewError(types.ErrConfigInvalid, "adapter is required")
	}
	if source == nil {
		return nil, types.NewError(types.ErrConfigInvalid, "rollout source is required")
	}
	if updater == nil {
		return nil, types.NewError(types.ErrConfigInvalid, "policy updater is required")
	}

	t := &Trainer{
		cfg:     cfg,
		adapter: adapter,
		source:  source,
		updater: updater,
		logger:  logger.With(zap.String("component", "trainer")),
		tracer:  otel.Tracer("reasonflow/trainer"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Run executes the training loop until the context is cancelled, the
// source is exhausted, MaxSteps is reached, or a step fails. Step errors
// propagate to the caller unmodified; retrying a whole step is the
// caller's decision.
func (t *Trainer) Run(ctx context.Context) error {
	runID := t.startRun(ctx)

	t.logger.Info("training loop started",
		zap.String("run", t.cfg.RunName),
		zap.Int("max_steps", t.cfg.MaxSteps),
	)

	step := 0
	for {
		if err := ctx.Err(); err != nil {
			t.finishRun(runID, store.RunStatusCompleted)
			return err
		}

		batch, err := t.source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				t.logger.Info("rollout source exhausted", zap.Int("steps", step))
				t.finishRun(runID, store.RunStatusCompleted)
				return nil
			}
			if types.GetErrorCode(err) == types.ErrBufferEmpty {
				select {
				case <-ctx.Done():
					t.finishRun(runID, store.RunStatusCompleted)
					return ctx.Err()
				case <-time.After(t.cfg.PollInterval):
				}
				continue
			}
			t.finishRun(runID, store.RunStatusFailed)
			return err
		}

		step++
		if err := t.step(ctx, runID, step, batch); err != nil {
			t.finishRun(runID, store.RunStatusFailed)
			return err
		}

		if t.cfg.MaxSteps > 0 && step >= t.cfg.MaxSteps {
			t.logger.Info("max steps reached", zap.Int("steps", step))
			t.finishRun(runID, store.RunStatusCompleted)
			return nil
		}
	}
}

func (t *Trainer) step(ctx context.Context, runID string, step int, batch *types.RolloutBatch) error {
	ctx, span := t.tracer.Start(ctx, "trainer.step",
		trace.WithAttributes(
			attribute.Int("step", step),
			attribute.Int("samples", batch.Size()),
		),
	)
	defer span.End()

	start := time.Now()

	result, err := t.adapter.ComputeAdvantages(batch)
	if err != nil {
		t.recordStep("error", 0, 0, time.Since(start))
		t.logger.Error("advantage computation failed", zap.Int("step", step), zap.Error(err))
		return err
	}

	if err := t.updater.Apply(ctx, batch, result.Loss); err != nil {
		t.recordStep("error", batch.Size(), 0, time.Since(start))
		t.logger.Error("policy update failed", zap.Int("step", step), zap.Error(err))
		return types.NewError(types.ErrStepFailed, "policy update").WithCause(err)
	}

	duration := time.Since(start)
	t.recordStep("success", batch.Size(), result.Loss, duration)

	if t.history != nil && runID != "" {
		rec := store.StepRecord{
			RunID:      runID,
			Step:       step,
			Loss:       result.Loss,
			MeanReward: result.Metrics[gvpo.MetricMeanReward],
			NumGroups:  int(result.Metrics[gvpo.MetricNumGroups]),
			BatchSize:  batch.Size(),
		}
		if err := t.history.RecordStep(ctx, rec); err != nil {
			// History is observability, not training state.
			t.logger.Warn("failed to persist step record", zap.Error(err))
		}
	}

	t.logger.Info("step completed",
		zap.Int("step", step),
		zap.Int("samples", batch.Size()),
		zap.Float64("loss", result.Loss),
		zap.Float64("mean_reward", result.Metrics[gvpo.MetricMeanReward]),
		zap.Duration("duration", duration),
	)
	return nil
}

func (t *Trainer) recordStep(status string, samples int, loss float64, d time.Duration) {
	if t.collector != nil {
		t.collector.RecordStep(status, samples, loss, d)
	}
}

func (t *Trainer) startRun(ctx context.Context) string {
	if t.history == nil {
		return ""
	}
	runID, err := t.history.CreateRun(ctx, t.cfg.RunName, t.adapter.engine.Config().Beta)
	if err != nil {
		t.logger.Warn("failed to create run record", zap.Error(err))
		return ""
	}
	return runID
}

func (t *Trainer) finishRun(runID, status string) {
	if t.history == nil || runID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.history.FinishRun(ctx, runID, status); err != nil {
		t.logger.Warn("failed to finish run record", zap.Error(err))
	}
}
