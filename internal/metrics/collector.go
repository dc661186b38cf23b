package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector aggregates training metrics for Prometheus scraping. It also
// satisfies the gvpo Observer interface so the numerical core can report
// diagnostics without a logging dependency.
type Collector struct {
	stepsTotal       *prometheus.CounterVec
	stepDuration     prometheus.Histogram
	batchSamples     prometheus.Histogram
	lossValue        prometheus.Gauge
	gvpoDiagnostics  *prometheus.GaugeVec
	invariantsBroken prometheus.Counter
	bufferDepth      prometheus.Gauge

	logger *zap.Logger
}

// NewCollector creates a Collector registered against reg. Passing nil
// registers against the default Prometheus registry; tests pass their own
// registry to avoid duplicate registration.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.stepsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "training_steps_total",
			Help:      "Total number of training steps",
		},
		[]string{"status"},
	)

	c.stepDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "training_step_duration_seconds",
			Help:      "Training step duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)

	c.batchSamples = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "training_batch_samples",
			Help:      "Number of samples per training batch",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	c.lossValue = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "training_loss",
			Help:      "Most recent training loss",
		},
	)

	c.gvpoDiagnostics = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gvpo_diagnostic",
			Help:      "Most recent GVPO diagnostic metrics, keyed by name",
		},
		[]string{"name"},
	)

	c.invariantsBroken = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gvpo_invariant_violations_total",
			Help:      "Total zero-sum invariant violations observed",
		},
	)

	c.bufferDepth = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rollout_buffer_depth",
			Help:      "Rollout batches waiting in the buffer",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordStep records one training step outcome.
func (c *Collector) RecordStep(status string, samples int, loss float64, duration time.Duration) {
	c.stepsTotal.WithLabelValues(status).Inc()
	c.stepDuration.Observe(duration.Seconds())
	c.batchSamples.Observe(float64(samples))
	if status == "success" {
		c.lossValue.Set(loss)
	}
}

// RecordBufferDepth records the current rollout buffer depth.
func (c *Collector) RecordBufferDepth(depth int64) {
	c.bufferDepth.Set(float64(depth))
}

// ObserveMetrics mirrors GVPO diagnostic metrics into gauges.
// Implements the gvpo Observer interface.
func (c *Collector) ObserveMetrics(metrics map[string]float64) {
	for name, value := range metrics {
		c.gvpoDiagnostics.WithLabelValues(name).Set(value)
	}
}

// ObserveInvariantViolation counts a zero-sum tolerance breach and logs it
// at warn level; the computation itself proceeds.
// Implements the gvpo Observer interface.
func (c *Collector) ObserveInvariantViolation(group int, sum float64) {
	c.invariantsBroken.Inc()
	c.logger.Warn("zero-sum invariant violated",
		zap.Int("group", group),
		zap.Float64("weight_sum", sum),
	)
}
