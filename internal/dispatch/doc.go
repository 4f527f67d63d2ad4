// Package dispatch issues single GET requests and classifies their outcome.
//
// A [Dispatcher] never returns a Go error: every outcome is a [Result] that
// either carries a status class (2..5) or a [FailureReason]. [NewHTTP] is the
// network implementation; [Func] adapts functions for tests.
//
// Middleware composes around any Dispatcher:
//
//	d := dispatch.WithCounters(
//		dispatch.WithLogging(httpDispatcher, dispatch.NewZapFailureLogger(logger, time.Second)),
//		counters, latency,
//	)
package dispatch
