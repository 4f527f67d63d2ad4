package metrics

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// LatencyRecorder tracks dispatch latencies in an HDR histogram.
type LatencyRecorder struct {
	mu   sync.Mutex
	hist *hdrhistogram.Histogram
	sum  time.Duration
}

// LatencyStats summarizes a LatencyRecorder.
type LatencyStats struct {
	Count int64         `json:"count" yaml:"count"`
	Min   time.Duration `json:"-" yaml:"-"`
	Max   time.Duration `json:"-" yaml:"-"`
	Mean  time.Duration `json:"-" yaml:"-"`
	P50   time.Duration `json:"-" yaml:"-"`
	P90   time.Duration `json:"-" yaml:"-"`
	P99   time.Duration `json:"-" yaml:"-"`

	// JSON-friendly millisecond fields.
	MinMs  float64 `json:"min_ms" yaml:"min_ms"`
	MaxMs  float64 `json:"max_ms" yaml:"max_ms"`
	MeanMs float64 `json:"mean_ms" yaml:"mean_ms"`
	P50Ms  float64 `json:"p50_ms" yaml:"p50_ms"`
	P90Ms  float64 `json:"p90_ms" yaml:"p90_ms"`
	P99Ms  float64 `json:"p99_ms" yaml:"p99_ms"`
}

func NewLatencyRecorder() *LatencyRecorder {
	// Track latencies from 1µs up to 60s with 3 significant figures.
	return &LatencyRecorder{hist: hdrhistogram.New(1, 60_000_000, 3)}
}

// Record adds one observation. Values outside the trackable range are clamped.
func (l *LatencyRecorder) Record(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	us := d.Microseconds()
	if us < l.hist.LowestTrackableValue() {
		us = l.hist.LowestTrackableValue()
	}
	if us > l.hist.HighestTrackableValue() {
		us = l.hist.HighestTrackableValue()
	}
	_ = l.hist.RecordValue(us)
	l.sum += d
}

// Merge folds other's observations into l.
func (l *LatencyRecorder) Merge(other *LatencyRecorder) {
	if other == nil || other == l {
		return
	}
	other.mu.Lock()
	snap := other.hist.Export()
	sum := other.sum
	other.mu.Unlock()

	imported := hdrhistogram.Import(snap)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.hist.Merge(imported)
	l.sum += sum
}

func (l *LatencyRecorder) Stats() LatencyStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := l.hist.TotalCount()
	if count == 0 {
		return LatencyStats{}
	}
	stats := LatencyStats{
		Count: count,
		Min:   time.Duration(l.hist.Min()) * time.Microsecond,
		Max:   time.Duration(l.hist.Max()) * time.Microsecond,
		Mean:  l.sum / time.Duration(count),
		P50:   time.Duration(l.hist.ValueAtQuantile(50)) * time.Microsecond,
		P90:   time.Duration(l.hist.ValueAtQuantile(90)) * time.Microsecond,
		P99:   time.Duration(l.hist.ValueAtQuantile(99)) * time.Microsecond,
	}
	stats.MinMs = toMillis(stats.Min)
	stats.MaxMs = toMillis(stats.Max)
	stats.MeanMs = toMillis(stats.Mean)
	stats.P50Ms = toMillis(stats.P50)
	stats.P90Ms = toMillis(stats.P90)
	stats.P99Ms = toMillis(stats.P99)
	return stats
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
