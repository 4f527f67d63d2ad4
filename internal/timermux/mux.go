package timermux

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	BackendHeap    = "heap"
	BackendTimerFD = "timerfd"

	// DefaultGranularity is the shortest sleep a wait cycle will take.
	DefaultGranularity = time.Millisecond
)

var (
	// ErrClosed is returned once CancelAll has been called.
	ErrClosed = errors.New("timermux: multiplexer closed")
	// ErrCapacity is wrapped by Arm when no further entry can be registered.
	ErrCapacity = errors.New("timermux: timer capacity exhausted")
	// ErrUnsupported is returned for a backend the platform cannot provide.
	ErrUnsupported = errors.New("timermux: backend not supported on this platform")
)

// Entry is one pending deadline. Handle is opaque to the multiplexer.
type Entry struct {
	FireAt time.Time
	Handle int

	seq uint64
}

// Multiplexer manages a set of pending deadlines and blocks until the next ones elapse.
type Multiplexer interface {
	// Arm schedules one expiry for handle at deadline.
	Arm(deadline time.Time, handle int) error
	// Wait blocks until at least one entry is due and returns all due entries
	// in deadline order, removing them from the pending set. A positive maxWait
	// bounds the wait; when it elapses with nothing due Wait returns (nil, nil).
	Wait(ctx context.Context, maxWait time.Duration) ([]Entry, error)
	// CancelAll disarms every pending entry and releases the backend.
	CancelAll()
	// Len reports the number of pending entries.
	Len() int
}

// Options tune a multiplexer.
type Options struct {
	Granularity time.Duration // minimum sleep per wait cycle, heap only (0 means DefaultGranularity)
	Capacity    int           // max pending entries (0 means unbounded)
}

func (o *Options) normalize() {
	if o.Granularity <= 0 {
		o.Granularity = DefaultGranularity
	}
	if o.Capacity < 0 {
		o.Capacity = 0
	}
}

// New returns a multiplexer for the named backend. An empty name selects the heap.
func New(backend string, opts Options) (Multiplexer, error) {
	opts.normalize()
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendHeap:
		return NewHeap(opts), nil
	case BackendTimerFD:
		return NewTimerFD(opts)
	default:
		return nil, fmt.Errorf("timermux: unknown backend %q", backend)
	}
}

// Backends lists the backend names accepted by New.
func Backends() []string {
	return []string{BackendHeap, BackendTimerFD}
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entryLess(entries[i], entries[j])
	})
}

func entryLess(a, b Entry) bool {
	if a.FireAt.Equal(b.FireAt) {
		return a.seq < b.seq
	}
	return a.FireAt.Before(b.FireAt)
}
