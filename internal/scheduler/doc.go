// Package scheduler keeps a fixed number of request starts per interval
// running against one Target.
//
// A [Scheduler] owns Rate slots. Each slot is armed in a shared
// timermux.Multiplexer, fires one dispatch when its deadline elapses, and
// rearms one Interval after that dispatch completes. Initial deadlines are
// spread evenly over the stagger window so the first second does not burst.
//
// Slot lifecycle:
//
//	Idle -> Armed -> Firing -> Armed -> ... -> Draining -> Idle
//
// When the Run context is done the scheduler stops firing, cancels every
// armed deadline and waits for in-flight dispatches before returning.
package scheduler
