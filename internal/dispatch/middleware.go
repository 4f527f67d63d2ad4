package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/torosent/rpsgen/internal/metrics"
)

// countingDispatcher records every outcome of inner.
type countingDispatcher struct {
	inner    Dispatcher
	counters *metrics.Counters
	latency  *metrics.LatencyRecorder
}

// WithCounters wraps d so that each call increments total exactly once and
// exactly one of failed or the matching status class. latency may be nil.
func WithCounters(d Dispatcher, counters *metrics.Counters, latency *metrics.LatencyRecorder) Dispatcher {
	if counters == nil {
		counters = metrics.NewCounters()
	}
	return &countingDispatcher{inner: d, counters: counters, latency: latency}
}

func (c *countingDispatcher) Dispatch(ctx context.Context, target Target) Result {
	start := time.Now()
	res := c.inner.Dispatch(ctx, target)
	if c.latency != nil {
		c.latency.Record(time.Since(start))
	}
	if res.Failed() {
		c.counters.RecordFailure(string(res.Reason))
	} else {
		c.counters.RecordClass(res.Class)
	}
	return res
}

// FailureLogger logs failed dispatches.
type FailureLogger interface {
	LogFailure(target Target, res Result)
}

// loggingDispatcher wraps a Dispatcher with failure logging.
type loggingDispatcher struct {
	inner  Dispatcher
	logger FailureLogger
}

// WithLogging wraps d to report failures to logger.
func WithLogging(d Dispatcher, logger FailureLogger) Dispatcher {
	if logger == nil {
		return d
	}
	return &loggingDispatcher{inner: d, logger: logger}
}

func (l *loggingDispatcher) Dispatch(ctx context.Context, target Target) Result {
	res := l.inner.Dispatch(ctx, target)
	if res.Failed() {
		l.logger.LogFailure(target, res)
	}
	return res
}

// ZapFailureLogger writes failures to a zap logger, at most once per Interval.
type ZapFailureLogger struct {
	logger    *zap.Logger
	sometimes *rate.Sometimes
}

// NewZapFailureLogger returns a throttled failure logger. A non-positive
// interval logs every failure.
func NewZapFailureLogger(logger *zap.Logger, interval time.Duration) *ZapFailureLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &rate.Sometimes{Interval: interval}
	if interval <= 0 {
		s = &rate.Sometimes{Every: 1}
	}
	return &ZapFailureLogger{logger: logger, sometimes: s}
}

func (z *ZapFailureLogger) LogFailure(target Target, res Result) {
	z.sometimes.Do(func() {
		z.logger.Warn("request failed",
			zap.String("target", target.String()),
			zap.String("reason", string(res.Reason)),
			zap.Int("status", res.StatusCode),
			zap.Error(res.Err),
		)
	})
}
