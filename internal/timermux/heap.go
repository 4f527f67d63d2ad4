package timermux

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"
)

// Heap is the portable Multiplexer: a min-heap of deadlines and one timer per wait cycle.
type Heap struct {
	opts Options

	mu      sync.Mutex
	pending entryHeap
	seq     uint64
	closed  bool

	wake chan struct{}
	done chan struct{}
}

// NewHeap creates an empty heap multiplexer.
func NewHeap(opts Options) *Heap {
	opts.normalize()
	return &Heap{
		opts: opts,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (h *Heap) Arm(deadline time.Time, handle int) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	if h.opts.Capacity > 0 && len(h.pending) >= h.opts.Capacity {
		n := len(h.pending)
		h.mu.Unlock()
		return fmt.Errorf("%w: %d entries pending", ErrCapacity, n)
	}
	h.seq++
	e := Entry{FireAt: deadline, Handle: handle, seq: h.seq}
	heap.Push(&h.pending, e)
	earliest := h.pending[0].seq == e.seq
	h.mu.Unlock()

	if earliest {
		select {
		case h.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

func (h *Heap) Wait(ctx context.Context, maxWait time.Duration) ([]Entry, error) {
	var hint <-chan time.Time
	if maxWait > 0 {
		hintTimer := time.NewTimer(maxWait)
		defer hintTimer.Stop()
		hint = hintTimer.C
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		due, sleep, err := h.collect(time.Now())
		if err != nil {
			return nil, err
		}
		if len(due) > 0 {
			return due, nil
		}

		var fire <-chan time.Time
		if sleep >= 0 {
			if timer == nil {
				timer = time.NewTimer(sleep)
			} else {
				timer.Reset(sleep)
			}
			fire = timer.C
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-h.done:
			return nil, ErrClosed
		case <-h.wake:
		case <-fire:
		case <-hint:
			return nil, nil
		}
	}
}

// collect pops every entry due at now. sleep is the floored time until the next
// deadline, or -1 when nothing is pending.
func (h *Heap) collect(now time.Time) (due []Entry, sleep time.Duration, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, 0, ErrClosed
	}
	for len(h.pending) > 0 && !h.pending[0].FireAt.After(now) {
		due = append(due, heap.Pop(&h.pending).(Entry))
	}
	if len(h.pending) == 0 {
		return due, -1, nil
	}
	sleep = h.pending[0].FireAt.Sub(now)
	if sleep < h.opts.Granularity {
		sleep = h.opts.Granularity
	}
	return due, sleep, nil
}

func (h *Heap) CancelAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.pending = nil
	close(h.done)
}

func (h *Heap) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

type entryHeap []Entry

func (q entryHeap) Len() int           { return len(q) }
func (q entryHeap) Less(i, j int) bool { return entryLess(q[i], q[j]) }
func (q entryHeap) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *entryHeap) Push(x any) {
	*q = append(*q, x.(Entry))
}

func (q *entryHeap) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	*q = old[:n-1]
	return e
}
