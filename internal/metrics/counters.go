package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
)

// ReasonBadStatus is recorded for responses whose status falls outside 2xx-5xx.
const ReasonBadStatus = "bad_status"

// Counters holds the outcome tallies of one Target. Every method is safe for
// concurrent use and no counter ever decreases.
type Counters struct {
	total  atomic.Int64
	failed atomic.Int64
	c2xx   atomic.Int64
	c3xx   atomic.Int64
	c4xx   atomic.Int64
	c5xx   atomic.Int64

	mu      sync.Mutex
	reasons map[string]int64
}

// CountersSnapshot is a point-in-time copy of Counters.
type CountersSnapshot struct {
	Total   int64            `json:"total" yaml:"total"`
	Failed  int64            `json:"failed" yaml:"failed"`
	C2xx    int64            `json:"2xx" yaml:"2xx"`
	C3xx    int64            `json:"3xx" yaml:"3xx"`
	C4xx    int64            `json:"4xx" yaml:"4xx"`
	C5xx    int64            `json:"5xx" yaml:"5xx"`
	Reasons map[string]int64 `json:"failure_reasons,omitempty" yaml:"failure_reasons,omitempty"`
}

// ReasonCount is one row of the failure breakdown.
type ReasonCount struct {
	Reason string `json:"reason" yaml:"reason"`
	Count  int64  `json:"count" yaml:"count"`
}

func NewCounters() *Counters {
	return &Counters{reasons: make(map[string]int64)}
}

// RecordClass counts one completed exchange in status class 2..5. Any other
// class counts as a bad_status failure.
func (c *Counters) RecordClass(class int) {
	var bucket *atomic.Int64
	switch class {
	case 2:
		bucket = &c.c2xx
	case 3:
		bucket = &c.c3xx
	case 4:
		bucket = &c.c4xx
	case 5:
		bucket = &c.c5xx
	default:
		c.RecordFailure(ReasonBadStatus)
		return
	}
	c.total.Add(1)
	bucket.Add(1)
}

// RecordFailure counts one failed dispatch under reason.
func (c *Counters) RecordFailure(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	c.total.Add(1)
	c.failed.Add(1)

	c.mu.Lock()
	c.reasons[reason]++
	c.mu.Unlock()
}

// Total returns the number of recorded outcomes.
func (c *Counters) Total() int64 {
	return c.total.Load()
}

// Failed returns the number of recorded failures.
func (c *Counters) Failed() int64 {
	return c.failed.Load()
}

func (c *Counters) Snapshot() CountersSnapshot {
	snap := CountersSnapshot{
		Total:  c.total.Load(),
		Failed: c.failed.Load(),
		C2xx:   c.c2xx.Load(),
		C3xx:   c.c3xx.Load(),
		C4xx:   c.c4xx.Load(),
		C5xx:   c.c5xx.Load(),
	}

	c.mu.Lock()
	if len(c.reasons) > 0 {
		snap.Reasons = make(map[string]int64, len(c.reasons))
		for reason, n := range c.reasons {
			snap.Reasons[reason] = n
		}
	}
	c.mu.Unlock()
	return snap
}

// Add returns the element-wise sum of s and other.
func (s CountersSnapshot) Add(other CountersSnapshot) CountersSnapshot {
	out := CountersSnapshot{
		Total:  s.Total + other.Total,
		Failed: s.Failed + other.Failed,
		C2xx:   s.C2xx + other.C2xx,
		C3xx:   s.C3xx + other.C3xx,
		C4xx:   s.C4xx + other.C4xx,
		C5xx:   s.C5xx + other.C5xx,
	}
	if len(s.Reasons)+len(other.Reasons) > 0 {
		out.Reasons = make(map[string]int64, len(s.Reasons)+len(other.Reasons))
		for reason, n := range s.Reasons {
			out.Reasons[reason] += n
		}
		for reason, n := range other.Reasons {
			out.Reasons[reason] += n
		}
	}
	return out
}

// Outcomes returns failed plus every class counter. It equals Total once all
// recording has finished.
func (s CountersSnapshot) Outcomes() int64 {
	return s.Failed + s.C2xx + s.C3xx + s.C4xx + s.C5xx
}

// ReasonCounts flattens the failure breakdown into rows sorted by descending
// count, then by reason for stability.
func (s CountersSnapshot) ReasonCounts() []ReasonCount {
	if len(s.Reasons) == 0 {
		return nil
	}
	rows := make([]ReasonCount, 0, len(s.Reasons))
	for reason, n := range s.Reasons {
		rows = append(rows, ReasonCount{Reason: reason, Count: n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			return rows[i].Reason < rows[j].Reason
		}
		return rows[i].Count > rows[j].Count
	})
	return rows
}
