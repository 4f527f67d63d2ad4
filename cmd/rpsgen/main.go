package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/torosent/rpsgen/internal/config"
	"github.com/torosent/rpsgen/internal/dispatch"
	"github.com/torosent/rpsgen/internal/httpclient"
	"github.com/torosent/rpsgen/internal/logging"
	"github.com/torosent/rpsgen/internal/metrics"
	"github.com/torosent/rpsgen/internal/output"
	"github.com/torosent/rpsgen/internal/runner"
	"github.com/torosent/rpsgen/internal/timermux"
	"github.com/torosent/rpsgen/internal/tracing"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

const (
	progressInterval   = time.Second
	failureLogInterval = 100 * time.Millisecond
	shutdownTimeout    = 5 * time.Second
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := config.NewLoader().WithOutput(stdout).Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return exitOK
		}
		return reportConfigError(stdout, err)
	}
	if err := cfg.Validate(); err != nil {
		return reportConfigError(stdout, err)
	}

	logger := logging.New(stderr, cfg.Verbose)
	defer func() { _ = logger.Sync() }()
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return execute(ctx, cfg, stdout, stderr, logger)
}

func reportConfigError(w io.Writer, err error) int {
	var (
		usage   config.UsageError
		invalid config.ValidationError
	)
	switch {
	case errors.As(err, &usage):
		fmt.Fprintln(w, usage.Error())
	case errors.As(err, &invalid):
		fmt.Fprintln(w, "Invalid configuration:")
		for _, issue := range invalid.Issues() {
			fmt.Fprintf(w, "  - %s\n", issue)
		}
	default:
		fmt.Fprintf(w, "Error: %v\n", err)
	}
	fmt.Fprint(w, config.Usage())
	return exitUsage
}

// execute runs a validated configuration and prints its report. ctx is
// cancelled on interrupt.
func execute(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer, logger *zap.Logger) int {
	// Human-oriented lines move to stderr when stdout carries a structured report.
	console := stdout
	if cfg.OutputFormat != config.OutputText && cfg.OutputFormat != "" {
		console = stderr
	}

	runID := output.NewRunID()
	cfg.Tracing.RunID = runID
	tp, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		logger.Error("tracing setup failed", zap.Error(err))
		return exitFailure
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	targets := toDispatchTargets(cfg.Targets())
	client := httpclient.NewClient(httpclient.ClientOptions{
		Timeout:         cfg.Timeout,
		MaxConnsPerHost: cfg.MaxConnections,
	})
	defer client.CloseIdleConnections()

	httpDispatcher, err := dispatch.NewHTTP(dispatch.HTTPOptions{
		Client:    client,
		Headers:   cfg.Headers,
		ReadBody:  cfg.ReadResponseBody,
		Tracer:    tp.Tracer(),
		Propagate: tp.ShouldPropagate(),
	}, targets...)
	if err != nil {
		return reportConfigError(stdout, err)
	}
	var d dispatch.Dispatcher = httpDispatcher
	if cfg.LogErrors {
		d = dispatch.WithLogging(d, dispatch.NewZapFailureLogger(logger, failureLogInterval))
	}

	r, err := runner.New(runner.Options{
		Targets:        targets,
		Dispatcher:     d,
		Rate:           cfg.RequestsPerSecond,
		Duration:       cfg.Duration,
		GracePeriod:    cfg.EffectiveGracePeriod(),
		Stagger:        schedulerStagger(cfg.Stagger),
		NewMultiplexer: multiplexerFactory(cfg.TimerBackend, cfg.Granularity),
		Logger:         logger,
	})
	if err != nil {
		logger.Error("runner setup failed", zap.Error(err))
		return exitFailure
	}

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(metrics.NewPromCollector(r.Sources()...))
		srv, err := metrics.StartServer(cfg.MetricsAddr, reg, logger)
		if err != nil {
			logger.Error("metrics server failed to start", zap.Error(err))
			return exitFailure
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown failed", zap.Error(err))
			}
		}()
	}

	fmt.Fprintf(console, "Starting RPS generator with %d requests per second for %v seconds...\n",
		cfg.RequestsPerSecond, cfg.Duration.Seconds())

	var interrupted atomic.Bool
	runDone := make(chan struct{})
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		select {
		case <-ctx.Done():
			interrupted.Store(true)
			fmt.Fprintln(console, "Cancellation requested. Stopping...")
		case <-runDone:
		}
	}()

	var progress *output.ProgressReporter
	if cfg.Progress {
		progress = output.NewProgressReporter(r, progressInterval, stderr)
		progress.Start()
	}

	startedAt := time.Now()
	res := r.Run(ctx)
	if progress != nil {
		progress.Stop()
	}
	close(runDone)
	<-watchDone
	if interrupted.Load() {
		fmt.Fprintln(console, "Stopped!")
	}

	report := output.NewReport(output.RunInfo{
		RunID:       runID,
		StartedAt:   startedAt,
		Rate:        cfg.RequestsPerSecond,
		Duration:    cfg.Duration,
		Interrupted: interrupted.Load(),
	}, res)

	switch cfg.OutputFormat {
	case config.OutputJSON:
		err = output.PrintJSONReport(stdout, report)
	case config.OutputYAML:
		err = output.PrintYAMLReport(stdout, report)
	default:
		output.PrintReport(stdout, report)
	}
	if err != nil {
		logger.Error("writing report failed", zap.Error(err))
	}

	if cfg.HistoryFile != "" {
		if err := output.AppendHistory(cfg.HistoryFile, report); err != nil {
			logger.Warn("history append failed", zap.String("path", cfg.HistoryFile), zap.Error(err))
		}
	}

	if res.Failed() {
		return exitFailure
	}
	return exitOK
}

func toDispatchTargets(in []config.Target) []dispatch.Target {
	out := make([]dispatch.Target, 0, len(in))
	for _, t := range in {
		out = append(out, dispatch.Target{URL: t.URL, HostHeader: t.Host})
	}
	return out
}

// schedulerStagger maps the user-facing stagger, where zero disables
// staggering, onto the scheduler's convention where zero selects its default.
func schedulerStagger(d time.Duration) time.Duration {
	if d <= 0 {
		return -1
	}
	return d
}

func multiplexerFactory(backend string, granularity time.Duration) func() (timermux.Multiplexer, error) {
	return func() (timermux.Multiplexer, error) {
		return timermux.New(backend, timermux.Options{Granularity: granularity})
	}
}
