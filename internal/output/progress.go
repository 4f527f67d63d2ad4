package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/rpsgen/internal/metrics"
)

// LiveSource is the running view a ProgressReporter polls.
type LiveSource interface {
	Snapshot() metrics.CountersSnapshot
	InFlight() int
}

// ProgressReporter displays real-time progress updates.
type ProgressReporter struct {
	source   LiveSource
	interval time.Duration
	done     chan struct{}
	finished chan struct{}
	writer   io.Writer
	active   int32
	printed  bool
	start    time.Time
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(source LiveSource, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &ProgressReporter{
		source:   source,
		interval: interval,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	p.start = time.Now()
	go p.run()
}

// Stop halts progress updates and ends the status line.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 2) {
		close(p.done)
		<-p.finished
		if p.printed {
			fmt.Fprintln(p.writer)
		}
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fmt.Fprint(p.writer, p.line(time.Since(p.start)))
			p.printed = true
		case <-p.done:
			return
		}
	}
}

func (p *ProgressReporter) line(elapsed time.Duration) string {
	snap := p.source.Snapshot()
	rps := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		rps = float64(snap.Total) / secs
	}
	return fmt.Sprintf("\rRequests: %d | Failures: %d | In-flight: %d | RPS: %.1f",
		snap.Total, snap.Failed, p.source.InFlight(), rps)
}
