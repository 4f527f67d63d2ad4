package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Source is one Target's live view as read by the Prometheus collector.
type Source interface {
	Name() string
	Snapshot() CountersSnapshot
	InFlight() int
}

// PromCollector exports Counters of every Source on scrape. It never caches,
// so a scrape always reflects the latest atomic values.
type PromCollector struct {
	sources []Source

	requests  *prometheus.Desc
	failed    *prometheus.Desc
	responses *prometheus.Desc
	reasons   *prometheus.Desc
	inFlight  *prometheus.Desc
}

func NewPromCollector(sources ...Source) *PromCollector {
	return &PromCollector{
		sources: sources,
		requests: prometheus.NewDesc("rpsgen_requests_total",
			"Dispatches completed, successful or not.", []string{"target"}, nil),
		failed: prometheus.NewDesc("rpsgen_requests_failed_total",
			"Dispatches that produced no status class.", []string{"target"}, nil),
		responses: prometheus.NewDesc("rpsgen_responses_total",
			"Completed exchanges by status class.", []string{"target", "class"}, nil),
		reasons: prometheus.NewDesc("rpsgen_failures_total",
			"Failed dispatches by reason.", []string{"target", "reason"}, nil),
		inFlight: prometheus.NewDesc("rpsgen_in_flight",
			"Dispatches currently executing.", []string{"target"}, nil),
	}
}

func (c *PromCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.failed
	ch <- c.responses
	ch <- c.reasons
	ch <- c.inFlight
}

func (c *PromCollector) Collect(ch chan<- prometheus.Metric) {
	for _, src := range c.sources {
		name := src.Name()
		snap := src.Snapshot()

		ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(snap.Total), name)
		ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(snap.Failed), name)
		for _, class := range []struct {
			label string
			value int64
		}{
			{"2xx", snap.C2xx},
			{"3xx", snap.C3xx},
			{"4xx", snap.C4xx},
			{"5xx", snap.C5xx},
		} {
			ch <- prometheus.MustNewConstMetric(c.responses, prometheus.CounterValue, float64(class.value), name, class.label)
		}
		for reason, n := range snap.Reasons {
			ch <- prometheus.MustNewConstMetric(c.reasons, prometheus.CounterValue, float64(n), name, reason)
		}
		ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, float64(src.InFlight()), name)
	}
}
