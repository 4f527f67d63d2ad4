package runner

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/rpsgen/internal/dispatch"
	"github.com/torosent/rpsgen/internal/timermux"
)

// Options configure the Runner.
type Options struct {
	Targets    []dispatch.Target   // one scheduler each (required)
	Dispatcher dispatch.Dispatcher // shared by every Target (required)
	Rate       int                 // dispatch starts per second, per Target
	Duration   time.Duration       // overall time limit (0 means until ctx is cancelled)

	// GracePeriod bounds how long in-flight dispatches may run after the
	// schedule stops before their context is cancelled (0 means wait for them).
	GracePeriod time.Duration

	Interval time.Duration // slot rearm delay (0 means one second)
	Stagger  time.Duration // initial arming window (see scheduler.Options)

	// NewMultiplexer builds one timer backend per Target (nil means heap).
	NewMultiplexer func() (timermux.Multiplexer, error)

	Logger *zap.Logger
}

func (o *Options) normalize() {
	if o.Duration < 0 {
		o.Duration = 0
	}
	if o.GracePeriod < 0 {
		o.GracePeriod = 0
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

func (o Options) validate() error {
	if len(o.Targets) == 0 {
		return errors.New("runner: at least one target is required")
	}
	if o.Dispatcher == nil {
		return errors.New("runner: dispatcher is required")
	}
	if o.Rate < 1 {
		return errors.New("runner: rate must be at least 1")
	}
	return nil
}
