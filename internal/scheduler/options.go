package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/rpsgen/internal/dispatch"
	"github.com/torosent/rpsgen/internal/timermux"
)

const (
	DefaultInterval = time.Second
	DefaultStagger  = 500 * time.Millisecond
)

// Options configures one Target's scheduler.
type Options struct {
	Target     dispatch.Target
	Rate       int // slots, i.e. dispatch starts per Interval
	Dispatcher dispatch.Dispatcher

	Interval time.Duration // delay from a completion to the slot's next fire (0 means DefaultInterval)
	Stagger  time.Duration // window the initial arms are spread over (0 means DefaultStagger, <0 arms all at once)

	// NewMultiplexer builds the timer backend for one Run. Nil means a heap
	// with default options.
	NewMultiplexer func() (timermux.Multiplexer, error)

	// WorkContext is passed to every dispatch. Nil means the Run context
	// without its cancellation, so in-flight requests finish on their own.
	WorkContext context.Context

	Logger *zap.Logger
}

func (o *Options) normalize() {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	switch {
	case o.Stagger == 0:
		o.Stagger = DefaultStagger
	case o.Stagger < 0:
		o.Stagger = 0
	}
	if o.Stagger > o.Interval {
		o.Stagger = o.Interval
	}
	if o.NewMultiplexer == nil {
		o.NewMultiplexer = func() (timermux.Multiplexer, error) {
			return timermux.NewHeap(timermux.Options{}), nil
		}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

func (o Options) validate() error {
	if o.Rate < 1 {
		return errors.New("scheduler: rate must be at least 1")
	}
	if o.Dispatcher == nil {
		return errors.New("scheduler: dispatcher is required")
	}
	return nil
}
