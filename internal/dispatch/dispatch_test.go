package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"syscall"
	"testing"

	"github.com/torosent/rpsgen/internal/dispatch"
)

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		code      int
		wantClass int
		wantFail  bool
	}{
		{code: 200, wantClass: 2},
		{code: 204, wantClass: 2},
		{code: 301, wantClass: 3},
		{code: 404, wantClass: 4},
		{code: 503, wantClass: 5},
		{code: 101, wantFail: true},
		{code: 600, wantFail: true},
		{code: 0, wantFail: true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			res := dispatch.Status(tt.code)
			if res.Failed() != tt.wantFail {
				t.Fatalf("Failed() = %v, want %v", res.Failed(), tt.wantFail)
			}
			if tt.wantFail {
				if res.Reason != dispatch.ReasonBadStatus {
					t.Fatalf("reason = %q, want bad_status", res.Reason)
				}
				return
			}
			if res.Class != tt.wantClass {
				t.Fatalf("class = %d, want %d", res.Class, tt.wantClass)
			}
			if res.Outcome() != fmt.Sprintf("%dxx", tt.wantClass) {
				t.Fatalf("outcome = %q", res.Outcome())
			}
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	refused := &url.Error{Op: "Get", URL: "http://x", Err: &net.OpError{
		Op:  "dial",
		Net: "tcp",
		Err: os.NewSyscallError("connect", syscall.ECONNREFUSED),
	}}

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want dispatch.FailureReason
	}{
		{name: "deadline", ctx: context.Background(), err: context.DeadlineExceeded, want: dispatch.ReasonTimeout},
		{name: "net timeout", ctx: context.Background(), err: &url.Error{Op: "Get", URL: "http://x", Err: timeoutErr{}}, want: dispatch.ReasonTimeout},
		{name: "cancelled error", ctx: context.Background(), err: context.Canceled, want: dispatch.ReasonCancelled},
		{name: "cancelled context wins", ctx: cancelled, err: timeoutErr{}, want: dispatch.ReasonCancelled},
		{name: "connection refused", ctx: context.Background(), err: refused, want: dispatch.ReasonConnectionRefused},
		{name: "other", ctx: context.Background(), err: errors.New("tls: bad certificate"), want: dispatch.ReasonTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := dispatch.Classify(tt.ctx, tt.err); got != tt.want {
				t.Fatalf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTargetString(t *testing.T) {
	if got := (dispatch.Target{Name: "api", URL: "http://a"}).String(); got != "api" {
		t.Fatalf("String() = %q", got)
	}
	if got := (dispatch.Target{URL: "http://a"}).String(); got != "http://a" {
		t.Fatalf("String() = %q", got)
	}
}
