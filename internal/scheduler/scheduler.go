package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/rpsgen/internal/dispatch"
	"github.com/torosent/rpsgen/internal/timermux"
)

// SlotState is the lifecycle position of one slot.
type SlotState int

const (
	SlotIdle SlotState = iota
	SlotArmed
	SlotFiring
	SlotDraining
)

func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "idle"
	case SlotArmed:
		return "armed"
	case SlotFiring:
		return "firing"
	case SlotDraining:
		return "draining"
	default:
		return fmt.Sprintf("SlotState(%d)", int(s))
	}
}

// Slot is one unit of rate: it fires, waits for its dispatch to complete,
// then rearms one Interval later.
type Slot struct {
	ID           int
	NextDeadline time.Time
	State        SlotState
	Fires        int64
	Failures     int64
}

// SlotStats counts slots per state.
type SlotStats struct {
	Idle     int
	Armed    int
	Firing   int
	Draining int
}

// Result summarizes one Run.
type Result struct {
	Target       dispatch.Target
	Slots        int
	Fires        int64
	Failures     int64
	PerSlotFires []int64
}

// Scheduler keeps Rate dispatches per Interval running against one Target.
// Slot state is only changed under mu, so at any instant
// Armed+Firing equals Rate outside of start-up and drain.
type Scheduler struct {
	opts Options

	mu       sync.Mutex
	slots    []Slot
	mux      timermux.Multiplexer
	started  bool
	draining bool
	fatal    error
	stopLoop context.CancelFunc

	wg       sync.WaitGroup
	inFlight atomic.Int64
}

func New(opts Options) (*Scheduler, error) {
	opts.normalize()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	slots := make([]Slot, opts.Rate)
	for i := range slots {
		slots[i].ID = i
	}
	return &Scheduler{opts: opts, slots: slots}, nil
}

// Run drives the event loop until ctx is done or a fatal timer error occurs,
// then drains. It returns the fatal error, if any, with the partial result.
// A Scheduler runs once.
func (s *Scheduler) Run(ctx context.Context) (Result, error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return Result{}, errors.New("scheduler: already started")
	}
	s.started = true
	s.mu.Unlock()

	log := s.opts.Logger.With(zap.String("target", s.opts.Target.String()))

	mux, err := s.opts.NewMultiplexer()
	if err != nil {
		return s.result(), fmt.Errorf("create timer multiplexer: %w", err)
	}

	workCtx := s.opts.WorkContext
	if workCtx == nil {
		workCtx = context.WithoutCancel(ctx)
	}
	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()

	s.mu.Lock()
	s.mux = mux
	s.stopLoop = stopLoop
	s.armInitialLocked(time.Now())
	s.mu.Unlock()

	log.Debug("scheduler started",
		zap.Int("slots", s.opts.Rate),
		zap.Duration("interval", s.opts.Interval),
		zap.Duration("stagger", s.opts.Stagger),
	)

	for loopCtx.Err() == nil {
		due, err := mux.Wait(loopCtx, 0)
		if err != nil {
			if loopCtx.Err() == nil {
				s.fail(fmt.Errorf("timer wait: %w", err))
			}
			break
		}
		for _, e := range due {
			s.fire(loopCtx, workCtx, e.Handle)
		}
	}

	s.drain()

	s.mu.Lock()
	fatal := s.fatal
	s.mu.Unlock()
	return s.result(), fatal
}

// armInitialLocked spreads the first fires evenly over the stagger window.
func (s *Scheduler) armInitialLocked(now time.Time) {
	step := s.opts.Stagger / time.Duration(s.opts.Rate)
	for i := range s.slots {
		deadline := now.Add(time.Duration(i) * step)
		if err := s.mux.Arm(deadline, i); err != nil {
			s.failLocked(fmt.Errorf("arm slot %d: %w", i, err))
			return
		}
		s.slots[i].NextDeadline = deadline
		s.slots[i].State = SlotArmed
	}
}

func (s *Scheduler) fire(loopCtx, workCtx context.Context, id int) {
	s.mu.Lock()
	if id < 0 || id >= len(s.slots) {
		s.mu.Unlock()
		return
	}
	slot := &s.slots[id]
	if s.draining || loopCtx.Err() != nil {
		slot.State = SlotIdle
		s.mu.Unlock()
		return
	}
	slot.State = SlotFiring
	slot.Fires++
	s.wg.Add(1)
	s.inFlight.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		res := s.opts.Dispatcher.Dispatch(workCtx, s.opts.Target)
		s.inFlight.Add(-1)
		s.complete(id, res)
	}()
}

// complete rearms the slot relative to now, so a slow response delays only
// its own slot.
func (s *Scheduler) complete(id int, res dispatch.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := &s.slots[id]
	if res.Failed() {
		slot.Failures++
	}
	if s.draining {
		slot.State = SlotDraining
		return
	}

	next := time.Now().Add(s.opts.Interval)
	if err := s.mux.Arm(next, id); err != nil {
		if errors.Is(err, timermux.ErrClosed) {
			slot.State = SlotDraining
			return
		}
		slot.State = SlotIdle
		s.failLocked(fmt.Errorf("rearm slot %d: %w", id, err))
		return
	}
	slot.NextDeadline = next
	slot.State = SlotArmed
}

func (s *Scheduler) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLocked(err)
}

func (s *Scheduler) failLocked(err error) {
	if s.fatal == nil {
		s.fatal = err
	}
	if s.stopLoop != nil {
		s.stopLoop()
	}
}

func (s *Scheduler) drain() {
	s.mu.Lock()
	s.draining = true
	if s.mux != nil {
		s.mux.CancelAll()
	}
	for i := range s.slots {
		switch s.slots[i].State {
		case SlotArmed:
			s.slots[i].State = SlotIdle
		case SlotFiring:
			s.slots[i].State = SlotDraining
		}
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	for i := range s.slots {
		s.slots[i].State = SlotIdle
	}
	s.mu.Unlock()
}

func (s *Scheduler) result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := Result{
		Target:       s.opts.Target,
		Slots:        len(s.slots),
		PerSlotFires: make([]int64, len(s.slots)),
	}
	for i, slot := range s.slots {
		res.Fires += slot.Fires
		res.Failures += slot.Failures
		res.PerSlotFires[i] = slot.Fires
	}
	return res
}

// Snapshot counts slots per state.
func (s *Scheduler) Snapshot() SlotStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats SlotStats
	for _, slot := range s.slots {
		switch slot.State {
		case SlotIdle:
			stats.Idle++
		case SlotArmed:
			stats.Armed++
		case SlotFiring:
			stats.Firing++
		case SlotDraining:
			stats.Draining++
		}
	}
	return stats
}

// Slots returns a copy of every slot.
func (s *Scheduler) Slots() []Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Slot(nil), s.slots...)
}

// InFlight reports dispatches currently executing.
func (s *Scheduler) InFlight() int {
	return int(s.inFlight.Load())
}

// Target returns the Target this scheduler drives.
func (s *Scheduler) Target() dispatch.Target {
	return s.opts.Target
}
