// Copyright (c) ReasonFlow Authors.
// Licensed under the MIT License.

// reasonflow is the GVPO advantage service. It consumes rollout batches
// from a Redis queue, computes zero-sum advantages and the batch loss,
// and publishes the processed batches for the training process to apply.
//
// Usage:
//
//	reasonflow train                       # run the advantage loop
//	reasonflow train --config config.yaml  # with explicit config
//	reasonflow compare --samples 64        # GRPO vs GVPO on synthetic data
//	reasonflow runs --limit 5              # list recorded training runs
//	reasonflow version                     # show version information
//	reasonflow health                      # probe a running instance
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/alfredcs/reasonflow/config"
	"github.com/alfredcs/reasonflow/gvpo"
	"github.com/alfredcs/reasonflow/internal/buffer"
	"github.com/alfredcs/reasonflow/internal/metrics"
	"github.com/alfredcs/reasonflow/internal/store"
	"github.com/alfredcs/reasonflow/internal/telemetry"
	"github.com/alfredcs/reasonflow/trainer"
	"github.com/alfredcs/reasonflow/types"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "train":
		runTrain(os.Args[2:])
	case "compare":
		runCompare(os.Args[2:])
	case "runs":
		runListRuns(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runTrain(args []string) {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting reasonflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelProviders.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, prometheus.DefaultRegisterer, logger)
		go serveMetrics(cfg.Metrics.Addr, logger)
	}

	var history *store.Store
	if cfg.Database.Enabled {
		history, err = store.Open(cfg.Database.Path, logger)
		if err != nil {
			logger.Fatal("failed to open run history store", zap.Error(err))
		}
		defer history.Close()
	}

	source, err := buffer.New(cfg.Redis, logger)
	if err != nil {
		logger.Fatal("failed to connect rollout buffer", zap.Error(err))
	}
	defer source.Close()

	outCfg := cfg.Redis
	outCfg.Queue = cfg.Redis.Queue + ":processed"
	sink, err := buffer.New(outCfg, logger)
	if err != nil {
		logger.Fatal("failed to connect result buffer", zap.Error(err))
	}
	defer sink.Close()

	engine, err := gvpo.NewEngine(gvpo.Config{
		Beta:                cfg.Algorithm.Beta,
		UseBesselCorrection: cfg.Algorithm.UseBesselCorrection,
		ClipWeight:          cfg.Algorithm.ClipWeight,
		NormalizeWeights:    cfg.Algorithm.NormalizeWeights,
		StrictInvariants:    cfg.Algorithm.StrictInvariants,
	}, collectorObserver(collector))
	if err != nil {
		logger.Fatal("invalid algorithm config", zap.Error(err))
	}

	adapter := trainer.NewAdapter(engine, gvpo.Reduction(cfg.Algorithm.Reduction),
		trainer.WithUniformGroups(cfg.Algorithm.SamplesPerPrompt))

	opts := []trainer.Option{}
	if collector != nil {
		opts = append(opts, trainer.WithCollector(collector))
	}
	if history != nil {
		opts = append(opts, trainer.WithHistory(history))
	}

	tr, err := trainer.New(cfg.Trainer, adapter,
		&bufferSource{buf: source, wait: cfg.Trainer.PollInterval},
		&bufferSink{buf: sink},
		logger, opts...)
	if err != nil {
		logger.Fatal("failed to build trainer", zap.Error(err))
	}

	if err := tr.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal("training loop failed", zap.Error(err))
	}
	logger.Info("reasonflow stopped")
}

// bufferSource adapts the Redis rollout buffer to the trainer's source
// interface.
type bufferSource struct {
	buf  *buffer.Buffer
	wait time.Duration
}

func (s *bufferSource) Next(ctx context.Context) (*types.RolloutBatch, error) {
	return s.buf.Pop(ctx, s.wait)
}

// bufferSink publishes processed batches back to Redis. The external
// training process consumes them and applies the gradient step, so from
// this side the publish is the policy update.
type bufferSink struct {
	buf *buffer.Buffer
}

func (s *bufferSink) Apply(ctx context.Context, batch *types.RolloutBatch, loss float64) error {
	return s.buf.Push(ctx, batch)
}

func collectorObserver(c *metrics.Collector) gvpo.Observer {
	if c == nil {
		return nil
	}
	return c
}

func serveMetrics(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	logger.Info("metrics endpoint listening", zap.String("addr", addr))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics endpoint failed", zap.Error(err))
	}
}

func runCompare(args []string) {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	samples := fs.Int("samples", 64, "Number of synthetic samples")
	groupSize := fs.Int("group-size", 8, "Samples per prompt")
	beta := fs.Float64("beta", 0.1, "KL temperature")
	seed := fs.Int64("seed", 42, "Random seed")
	fs.Parse(args)

	if *samples%*groupSize != 0 {
		fmt.Fprintf(os.Stderr, "samples (%d) must be a multiple of group-size (%d)\n", *samples, *groupSize)
		os.Exit(1)
	}

	engine, err := gvpo.NewEngine(gvpo.Config{
		Beta:                *beta,
		UseBesselCorrection: true,
	}, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid parameters: %v\n", err)
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(*seed))
	rewards := make([]float64, *samples)
	logProbs := make([]float64, *samples)
	refLogProbs := make([]float64, *samples)
	for i := range rewards {
		rewards[i] = rng.NormFloat64()
		refLogProbs[i] = -40 + 5*rng.NormFloat64()
		logProbs[i] = refLogProbs[i] + 0.5*rng.NormFloat64()
	}

	groups, err := gvpo.GroupUniform(*samples, *groupSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Grouping failed: %v\n", err)
		os.Exit(1)
	}

	cmp, err := engine.CompareEstimators(rewards, logProbs, refLogProbs, groups)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Comparison failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("GRPO vs GVPO on %d samples (%d groups of %d, beta=%.3f)\n",
		*samples, groups.NumGroups(), *groupSize, *beta)
	fmt.Printf("  grpo advantage std:  %.6f\n", cmp.GRPOStd)
	fmt.Printf("  gvpo weight std:     %.6f\n", cmp.GVPOStd)
	fmt.Printf("  mean abs difference: %.6f\n", cmp.MeanAbsDiff)
	fmt.Printf("  correlation:         %.6f\n", cmp.Correlation)
}

func runListRuns(args []string) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	limit := fs.Int("limit", 10, "Number of runs to show")
	showSteps := fs.Bool("steps", false, "Show per-step records")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := zap.NewNop()
	history, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open run history: %v\n", err)
		os.Exit(1)
	}
	defer history.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	runs, err := history.ListRuns(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list runs: %v\n", err)
		os.Exit(1)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return
	}

	for _, run := range runs {
		fmt.Printf("%s  %-10s  %s  beta=%.3f  started %s\n",
			run.ID, run.Status, run.Name, run.Beta,
			run.StartedAt.Format(time.RFC3339))
		if !*showSteps {
			continue
		}
		steps, err := history.RunSteps(ctx, run.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load steps for %s: %v\n", run.ID, err)
			os.Exit(1)
		}
		for _, rec := range steps {
			fmt.Printf("  step %-5d loss=%-12.6f mean_reward=%-12.6f groups=%-4d samples=%d\n",
				rec.Step, rec.Loss, rec.MeanReward, rec.NumGroups, rec.BatchSize)
		}
	}
}

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:9090", "Metrics endpoint address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/healthz")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func printVersion() {
	fmt.Printf("ReasonFlow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`ReasonFlow - GVPO advantage service

Usage:
  reasonflow <command> [options]

Commands:
  train     Run the advantage computation loop
  compare   Compare GRPO and GVPO advantages on synthetic data
  runs      List recorded training runs
  version   Show version information
  health    Probe a running instance
  help      Show this help message

Options for 'train':
  --config <path>   Path to configuration file (YAML)

Options for 'compare':
  --samples <n>     Number of synthetic samples (default 64)
  --group-size <k>  Samples per prompt (default 8)
  --beta <v>        KL temperature (default 0.1)
  --seed <n>        Random seed (default 42)

Options for 'runs':
  --config <path>   Path to configuration file (YAML)
  --limit <n>       Number of runs to show (default 10)
  --steps           Show per-step records

Examples:
  reasonflow train --config /etc/reasonflow/config.yaml
  reasonflow compare --samples 128 --group-size 16
  reasonflow runs --limit 5 --steps
  reasonflow health --addr http://localhost:9090
  reasonflow version`)
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Development {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoding = "console"
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Development,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
