// Package runner provides the run controller for rpsgen.
//
// A [Runner] builds one scheduler.Scheduler per Target, all sharing a single
// dispatch.Dispatcher, and runs them concurrently for a fixed duration:
//
//	r, err := runner.New(runner.Options{
//		Targets:     targets,
//		Dispatcher:  httpDispatcher,
//		Rate:        100,
//		Duration:    30 * time.Second,
//		GracePeriod: 2 * time.Second,
//	})
//	if err != nil {
//		return err
//	}
//	result := r.Run(ctx)
//
// Every Target's schedule is independent: it gets the full Rate and a fatal
// timer error in one Target does not stop the others.
//
// # Shutdown
//
// When the duration elapses or ctx is cancelled, schedulers stop firing and
// drain. In-flight dispatches run under a separate work context so they
// complete normally; if they are still running once GracePeriod has passed,
// that context is cancelled and they resolve as cancelled.
//
// # Counting
//
// Each Target's dispatches are wrapped with dispatch.WithCounters, so
// [Result.Totals] always satisfies Total == Failed + 2xx + 3xx + 4xx + 5xx.
package runner
