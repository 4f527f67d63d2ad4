package metrics_test

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/torosent/rpsgen/internal/metrics"
)

type fakeSource struct {
	name     string
	counters *metrics.Counters
	inFlight int
}

func (f fakeSource) Name() string                       { return f.name }
func (f fakeSource) Snapshot() metrics.CountersSnapshot { return f.counters.Snapshot() }
func (f fakeSource) InFlight() int                      { return f.inFlight }

func TestPromCollectorReadsLiveCounters(t *testing.T) {
	counters := metrics.NewCounters()
	src := fakeSource{name: "api", counters: counters, inFlight: 3}
	collector := metrics.NewPromCollector(src)

	counters.RecordClass(2)
	counters.RecordClass(2)
	counters.RecordFailure("timeout")

	expected := `
# HELP rpsgen_requests_total Dispatches completed, successful or not.
# TYPE rpsgen_requests_total counter
rpsgen_requests_total{target="api"} 3
# HELP rpsgen_in_flight Dispatches currently executing.
# TYPE rpsgen_in_flight gauge
rpsgen_in_flight{target="api"} 3
# HELP rpsgen_failures_total Failed dispatches by reason.
# TYPE rpsgen_failures_total counter
rpsgen_failures_total{reason="timeout",target="api"} 1
`
	if err := testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"rpsgen_requests_total", "rpsgen_in_flight", "rpsgen_failures_total"); err != nil {
		t.Fatal(err)
	}

	counters.RecordClass(4)
	expected = `
# HELP rpsgen_requests_failed_total Dispatches that produced no status class.
# TYPE rpsgen_requests_failed_total counter
rpsgen_requests_failed_total{target="api"} 1
# HELP rpsgen_requests_total Dispatches completed, successful or not.
# TYPE rpsgen_requests_total counter
rpsgen_requests_total{target="api"} 4
`
	if err := testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"rpsgen_requests_failed_total", "rpsgen_requests_total"); err != nil {
		t.Fatal(err)
	}
}

func TestStartServerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counters := metrics.NewCounters()
	counters.RecordClass(2)
	reg.MustRegister(metrics.NewPromCollector(fakeSource{name: "api", counters: counters}))

	srv, err := metrics.StartServer("127.0.0.1:0", reg, nil)
	if err != nil {
		t.Fatalf("StartServer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	}()

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `rpsgen_responses_total{class="2xx",target="api"} 1`) {
		t.Fatalf("scrape missing 2xx sample:\n%s", body)
	}
}

func TestStartServerBadAddress(t *testing.T) {
	if _, err := metrics.StartServer("256.0.0.1:bad", prometheus.NewRegistry(), nil); err == nil {
		t.Fatal("expected listen error")
	}
}
