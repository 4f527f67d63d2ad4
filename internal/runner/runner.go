package runner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/torosent/rpsgen/internal/dispatch"
	"github.com/torosent/rpsgen/internal/metrics"
	"github.com/torosent/rpsgen/internal/scheduler"
)

// TargetResult is the outcome of one Target's schedule.
type TargetResult struct {
	Target   dispatch.Target
	Counters metrics.CountersSnapshot
	Latency  metrics.LatencyStats
	Schedule scheduler.Result
	Err      error // fatal scheduler error, nil on a clean run
}

// Result captures execution summary.
type Result struct {
	Targets      []TargetResult
	Totals       metrics.CountersSnapshot
	Latency      metrics.LatencyStats
	Elapsed      time.Duration
	EffectiveRPS float64
	Err          error // first fatal Target error
}

// Failed reports whether any Target stopped on a fatal error.
func (r Result) Failed() bool {
	return r.Err != nil
}

type targetState struct {
	name     string
	target   dispatch.Target
	counters *metrics.Counters
	latency  *metrics.LatencyRecorder
	sched    *scheduler.Scheduler
}

func (t *targetState) Name() string                       { return t.name }
func (t *targetState) Snapshot() metrics.CountersSnapshot { return t.counters.Snapshot() }
func (t *targetState) InFlight() int                      { return t.sched.InFlight() }

// Runner drives one independent scheduler per Target for a bounded duration.
type Runner struct {
	opt     Options
	targets []*targetState

	workCtx    context.Context
	cancelWork context.CancelFunc
}

func New(opt Options) (*Runner, error) {
	opt.normalize()
	if err := opt.validate(); err != nil {
		return nil, err
	}

	workCtx, cancelWork := context.WithCancel(context.Background())
	r := &Runner{opt: opt, workCtx: workCtx, cancelWork: cancelWork}

	names := make(map[string]int, len(opt.Targets))
	for _, target := range opt.Targets {
		ts := &targetState{
			name:     metricName(target, names),
			target:   target,
			counters: metrics.NewCounters(),
			latency:  metrics.NewLatencyRecorder(),
		}
		sched, err := scheduler.New(scheduler.Options{
			Target:         target,
			Rate:           opt.Rate,
			Dispatcher:     dispatch.WithCounters(opt.Dispatcher, ts.counters, ts.latency),
			Interval:       opt.Interval,
			Stagger:        opt.Stagger,
			NewMultiplexer: opt.NewMultiplexer,
			WorkContext:    workCtx,
			Logger:         opt.Logger,
		})
		if err != nil {
			cancelWork()
			return nil, fmt.Errorf("target %s: %w", target, err)
		}
		ts.sched = sched
		r.targets = append(r.targets, ts)
	}
	return r, nil
}

// metricName labels a Target for metrics export. Targets sharing a URL are
// told apart by Host header, then by position.
func metricName(t dispatch.Target, seen map[string]int) string {
	name := t.String()
	if t.Name == "" && t.HostHeader != "" {
		name += " (" + t.HostHeader + ")"
	}
	seen[name]++
	if n := seen[name]; n > 1 {
		name = fmt.Sprintf("%s #%d", name, n)
	}
	return name
}

// Run blocks until the duration elapses or ctx is cancelled, then waits for
// every in-flight dispatch and returns the aggregated result.
func (r *Runner) Run(ctx context.Context) Result {
	start := time.Now()
	defer r.cancelWork()

	schedCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if r.opt.Duration > 0 {
		deadlineCtx, deadlineCancel := context.WithTimeout(schedCtx, r.opt.Duration)
		schedCtx = deadlineCtx
		defer deadlineCancel()
	}

	finished := make(chan struct{})
	go r.enforceGrace(schedCtx, finished)

	results := make([]TargetResult, len(r.targets))
	var g errgroup.Group
	for i, ts := range r.targets {
		g.Go(func() error {
			res, err := ts.sched.Run(schedCtx)
			results[i].Schedule = res
			if err != nil {
				err = fmt.Errorf("target %s: %w", ts.target, err)
				results[i].Err = err
				r.opt.Logger.Error("target stopped", zap.String("target", ts.target.String()), zap.Error(err))
			}
			return err
		})
	}
	firstErr := g.Wait()
	close(finished)
	elapsed := time.Since(start)

	out := Result{Targets: results, Elapsed: elapsed, Err: firstErr}
	merged := metrics.NewLatencyRecorder()
	for i, ts := range r.targets {
		out.Targets[i].Target = ts.target
		out.Targets[i].Counters = ts.counters.Snapshot()
		out.Targets[i].Latency = ts.latency.Stats()
		out.Totals = out.Totals.Add(out.Targets[i].Counters)
		merged.Merge(ts.latency)
	}
	out.Latency = merged.Stats()
	if secs := elapsed.Seconds(); secs > 0 {
		out.EffectiveRPS = float64(out.Totals.Total) / secs
	}
	return out
}

// enforceGrace cancels the work context once the schedule has stopped and the
// grace period has passed without the run finishing.
func (r *Runner) enforceGrace(schedCtx context.Context, finished <-chan struct{}) {
	select {
	case <-schedCtx.Done():
	case <-finished:
		return
	}
	if r.opt.GracePeriod <= 0 {
		return
	}
	timer := time.NewTimer(r.opt.GracePeriod)
	defer timer.Stop()
	select {
	case <-timer.C:
		r.opt.Logger.Warn("grace period elapsed, cancelling in-flight requests",
			zap.Duration("grace_period", r.opt.GracePeriod),
			zap.Int("in_flight", r.InFlight()),
		)
		r.cancelWork()
	case <-finished:
	}
}

// Snapshot sums the live counters of every Target.
func (r *Runner) Snapshot() metrics.CountersSnapshot {
	var total metrics.CountersSnapshot
	for _, ts := range r.targets {
		total = total.Add(ts.counters.Snapshot())
	}
	return total
}

// InFlight reports dispatches currently executing across all Targets.
func (r *Runner) InFlight() int {
	n := 0
	for _, ts := range r.targets {
		n += ts.sched.InFlight()
	}
	return n
}

// Sources exposes per-Target live views for metrics export.
func (r *Runner) Sources() []metrics.Source {
	out := make([]metrics.Source, 0, len(r.targets))
	for _, ts := range r.targets {
		out = append(out, ts)
	}
	return out
}
