package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"

	"github.com/torosent/rpsgen/internal/metrics"
)

// Target is one (URL, Host header) pair. It is immutable for a run.
type Target struct {
	Name       string `json:"name" yaml:"name"`
	URL        string `json:"url" yaml:"url"`
	HostHeader string `json:"host" yaml:"host"`
}

func (t Target) String() string {
	if t.Name != "" {
		return t.Name
	}
	return t.URL
}

// FailureReason names why a dispatch produced no status class.
type FailureReason string

const (
	ReasonTimeout           FailureReason = "timeout"
	ReasonCancelled         FailureReason = "cancelled"
	ReasonConnectionRefused FailureReason = "connection_refused"
	ReasonBadStatus         FailureReason = metrics.ReasonBadStatus
	ReasonRequest           FailureReason = "request"
	ReasonTransport         FailureReason = "transport"
)

// Result is the outcome of one dispatch: a status class in 2..5, or a failure.
type Result struct {
	Class      int
	StatusCode int
	Reason     FailureReason
	Err        error
}

// Status classifies a completed exchange by its status code.
func Status(code int) Result {
	class := code / 100
	if class < 2 || class > 5 {
		return Result{
			StatusCode: code,
			Reason:     ReasonBadStatus,
			Err:        fmt.Errorf("unexpected status code %d", code),
		}
	}
	return Result{Class: class, StatusCode: code}
}

// Failure builds a failed result.
func Failure(reason FailureReason, err error) Result {
	return Result{Reason: reason, Err: err}
}

func (r Result) Failed() bool {
	return r.Class == 0
}

// Outcome is the class label ("2xx".."5xx") or the failure reason.
func (r Result) Outcome() string {
	if r.Failed() {
		return string(r.Reason)
	}
	return strconv.Itoa(r.Class) + "xx"
}

// Dispatcher issues one request against a Target. Failures are data, so
// Dispatch never returns an error and never panics on network faults.
type Dispatcher interface {
	Dispatch(ctx context.Context, target Target) Result
}

// Func adapts a plain function to a Dispatcher.
type Func func(ctx context.Context, target Target) Result

func (f Func) Dispatch(ctx context.Context, target Target) Result {
	return f(ctx, target)
}

// Classify maps a transport error to a FailureReason. Cancellation of ctx
// takes precedence over whatever the transport reported.
func Classify(ctx context.Context, err error) FailureReason {
	if ctx != nil && errors.Is(ctx.Err(), context.Canceled) {
		return ReasonCancelled
	}
	switch {
	case errors.Is(err, context.Canceled):
		return ReasonCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return ReasonConnectionRefused
	}
	return ReasonTransport
}
