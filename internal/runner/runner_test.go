package runner_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/torosent/rpsgen/internal/dispatch"
	"github.com/torosent/rpsgen/internal/httpclient"
	"github.com/torosent/rpsgen/internal/runner"
	"github.com/torosent/rpsgen/internal/timermux"
)

func newRunner(t *testing.T, opts runner.Options) *runner.Runner {
	t.Helper()
	r, err := runner.New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func httpDispatcher(t *testing.T, timeout time.Duration, targets ...dispatch.Target) dispatch.Dispatcher {
	t.Helper()
	client := httpclient.NewClient(httpclient.ClientOptions{Timeout: timeout})
	t.Cleanup(client.CloseIdleConnections)
	d, err := dispatch.NewHTTP(dispatch.HTTPOptions{Client: client}, targets...)
	if err != nil {
		t.Fatalf("NewHTTP: %v", err)
	}
	return d
}

func TestNewValidates(t *testing.T) {
	ok := dispatch.Func(func(context.Context, dispatch.Target) dispatch.Result { return dispatch.Status(200) })
	tests := []struct {
		name string
		opts runner.Options
	}{
		{name: "no targets", opts: runner.Options{Dispatcher: ok, Rate: 1}},
		{name: "no dispatcher", opts: runner.Options{Targets: []dispatch.Target{{URL: "http://a"}}, Rate: 1}},
		{name: "zero rate", opts: runner.Options{Targets: []dispatch.Target{{URL: "http://a"}}, Dispatcher: ok}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := runner.New(tt.opts); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

// Ten requests per second for two seconds against an instant 200 stub.
func TestRunSuccessScenario(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	target := dispatch.Target{URL: server.URL, HostHeader: "stub.local"}
	r := newRunner(t, runner.Options{
		Targets:    []dispatch.Target{target},
		Dispatcher: httpDispatcher(t, time.Second, target),
		Rate:       10,
		Duration:   2 * time.Second,
	})
	res := r.Run(context.Background())

	if res.Totals.Total < 18 || res.Totals.Total > 22 {
		t.Fatalf("total = %d, want about 20", res.Totals.Total)
	}
	if res.Totals.C2xx != res.Totals.Total || res.Totals.Failed != 0 {
		t.Fatalf("unexpected counters %+v", res.Totals)
	}
	if res.Err != nil || res.Failed() {
		t.Fatalf("unexpected error %v", res.Err)
	}
	if res.EffectiveRPS < 8 || res.EffectiveRPS > 12 {
		t.Fatalf("effective rps = %.2f, want about 10", res.EffectiveRPS)
	}
	if res.Latency.Count != res.Totals.Total {
		t.Fatalf("latency count %d != total %d", res.Latency.Count, res.Totals.Total)
	}
}

// Same shape, but every request runs into the one second client timeout.
func TestRunTimeoutScenario(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	target := dispatch.Target{URL: server.URL}
	r := newRunner(t, runner.Options{
		Targets:    []dispatch.Target{target},
		Dispatcher: httpDispatcher(t, time.Second, target),
		Rate:       10,
		Duration:   2 * time.Second,
	})
	res := r.Run(context.Background())

	totals := res.Totals
	if totals.Total == 0 || totals.Failed != totals.Total {
		t.Fatalf("expected every request to fail, got %+v", totals)
	}
	if totals.C2xx+totals.C3xx+totals.C4xx+totals.C5xx != 0 {
		t.Fatalf("expected no status classes, got %+v", totals)
	}
	if totals.Reasons["timeout"] != totals.Total {
		t.Fatalf("expected timeout reasons, got %v", totals.Reasons)
	}
	for i, n := range res.Targets[0].Schedule.PerSlotFires {
		if n < 1 || n > 3 {
			t.Errorf("slot %d fired %d times, want 2±1", i, n)
		}
	}
}

func TestRunTargetsAreIsolated(t *testing.T) {
	targets := []dispatch.Target{{Name: "a", URL: "http://a.invalid"}, {Name: "b", URL: "http://b.invalid"}}
	var calls atomic.Int64
	d := dispatch.Func(func(context.Context, dispatch.Target) dispatch.Result {
		calls.Add(1)
		return dispatch.Status(200)
	})

	var built atomic.Int64
	r := newRunner(t, runner.Options{
		Targets:    targets,
		Dispatcher: d,
		Rate:       4,
		Duration:   300 * time.Millisecond,
		Interval:   50 * time.Millisecond,
		NewMultiplexer: func() (timermux.Multiplexer, error) {
			if built.Add(1) == 1 {
				return timermux.NewHeap(timermux.Options{Capacity: 1}), nil
			}
			return timermux.NewHeap(timermux.Options{}), nil
		},
	})
	res := r.Run(context.Background())

	if !errors.Is(res.Err, timermux.ErrCapacity) {
		t.Fatalf("expected capacity error, got %v", res.Err)
	}
	var failed, healthy int
	for _, tr := range res.Targets {
		if tr.Err != nil {
			failed++
			continue
		}
		healthy++
		if tr.Counters.Total < 10 {
			t.Fatalf("healthy target %s only sent %d", tr.Target, tr.Counters.Total)
		}
	}
	if failed != 1 || healthy != 1 {
		t.Fatalf("failed=%d healthy=%d, want 1 and 1", failed, healthy)
	}
	if res.Totals.Total != calls.Load() {
		t.Fatalf("totals %d != dispatcher calls %d", res.Totals.Total, calls.Load())
	}
}

func TestRunGracePeriodCancelsInFlight(t *testing.T) {
	target := dispatch.Target{URL: "http://stuck.invalid"}
	d := dispatch.Func(func(ctx context.Context, _ dispatch.Target) dispatch.Result {
		<-ctx.Done()
		return dispatch.Failure(dispatch.Classify(ctx, ctx.Err()), ctx.Err())
	})

	r := newRunner(t, runner.Options{
		Targets:     []dispatch.Target{target},
		Dispatcher:  d,
		Rate:        3,
		Duration:    50 * time.Millisecond,
		GracePeriod: 100 * time.Millisecond,
		Stagger:     -1,
	})

	start := time.Now()
	res := r.Run(context.Background())
	elapsed := time.Since(start)

	if elapsed < 150*time.Millisecond || elapsed > time.Second {
		t.Fatalf("run took %v, want about 150ms", elapsed)
	}
	if res.Totals.Total != 3 || res.Totals.Reasons["cancelled"] != 3 {
		t.Fatalf("expected three cancelled dispatches, got %+v", res.Totals)
	}
}

func TestRunExternalCancel(t *testing.T) {
	target := dispatch.Target{URL: "http://a.invalid"}
	d := dispatch.Func(func(context.Context, dispatch.Target) dispatch.Result { return dispatch.Status(200) })
	r := newRunner(t, runner.Options{
		Targets:    []dispatch.Target{target},
		Dispatcher: d,
		Rate:       5,
		Duration:   time.Hour,
		Stagger:    -1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	res := r.Run(ctx)
	if res.Elapsed > time.Second {
		t.Fatalf("run ignored cancellation, elapsed %v", res.Elapsed)
	}
	if res.Totals.Total != 5 {
		t.Fatalf("expected one fire per slot, got %d", res.Totals.Total)
	}
	if r.InFlight() != 0 {
		t.Fatalf("in flight after run: %d", r.InFlight())
	}
}

func TestSourcesReflectLiveCounters(t *testing.T) {
	targets := []dispatch.Target{{Name: "a", URL: "http://a.invalid"}, {Name: "b", URL: "http://b.invalid"}}
	d := dispatch.Func(func(context.Context, dispatch.Target) dispatch.Result { return dispatch.Status(503) })
	r := newRunner(t, runner.Options{
		Targets:    targets,
		Dispatcher: d,
		Rate:       2,
		Duration:   20 * time.Millisecond,
		Stagger:    -1,
	})

	sources := r.Sources()
	if len(sources) != 2 || sources[0].Name() != "a" || sources[1].Name() != "b" {
		t.Fatalf("unexpected sources %v", sources)
	}
	res := r.Run(context.Background())

	var sum int64
	for _, src := range sources {
		sum += src.Snapshot().C5xx
	}
	if sum != res.Totals.C5xx || sum != 4 {
		t.Fatalf("sources saw %d 5xx, result %d", sum, res.Totals.C5xx)
	}
	if snap := r.Snapshot(); !reflect.DeepEqual(snap, res.Totals) {
		t.Fatalf("live snapshot %+v != result %+v", snap, res.Totals)
	}
}

func TestSourceNamesAreUnique(t *testing.T) {
	targets := []dispatch.Target{
		{URL: "http://a.invalid"},
		{URL: "http://a.invalid", HostHeader: "one.example"},
		{URL: "http://a.invalid", HostHeader: "one.example"},
		{Name: "named", URL: "http://a.invalid", HostHeader: "two.example"},
	}
	d := dispatch.Func(func(context.Context, dispatch.Target) dispatch.Result { return dispatch.Status(200) })
	r := newRunner(t, runner.Options{Targets: targets, Dispatcher: d, Rate: 1})

	want := []string{"http://a.invalid", "http://a.invalid (one.example)", "http://a.invalid (one.example) #2", "named"}
	for i, src := range r.Sources() {
		if src.Name() != want[i] {
			t.Errorf("source %d name = %q, want %q", i, src.Name(), want[i])
		}
	}
}
