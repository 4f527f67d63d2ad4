//go:build linux

package timermux

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// timerFD backs every handle with its own timerfd and polls them all through
// one epoll instance. An eventfd registered on the same epoll set interrupts a
// blocked wait for CancelAll and context cancellation.
//
// Wait must not be called concurrently with itself.
type timerFD struct {
	opts Options

	mu       sync.Mutex
	epfd     int
	wakefd   int
	fds      map[int]int // handle -> timerfd
	handles  map[int]int // timerfd -> handle
	armed    map[int]Entry
	seq      uint64
	closed   bool
	waiting  bool
	released bool
}

// NewTimerFD creates a Linux timerfd/epoll multiplexer.
func NewTimerFD(opts Options) (Multiplexer, error) {
	opts.normalize()

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("timermux: epoll_create1: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("timermux: eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("timermux: register eventfd: %w", err)
	}

	return &timerFD{
		opts:    opts,
		epfd:    epfd,
		wakefd:  wakefd,
		fds:     make(map[int]int),
		handles: make(map[int]int),
		armed:   make(map[int]Entry),
	}, nil
}

// Arm sets the handle's timer. Arming a handle that is already pending moves
// its deadline.
func (t *timerFD) Arm(deadline time.Time, handle int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if _, pending := t.armed[handle]; !pending && t.opts.Capacity > 0 && len(t.armed) >= t.opts.Capacity {
		return fmt.Errorf("%w: %d entries pending", ErrCapacity, len(t.armed))
	}

	fd, ok := t.fds[handle]
	if !ok {
		var err error
		fd, err = t.createLocked(handle)
		if err != nil {
			return err
		}
	}

	// A zero it_value disarms the timer, so overdue deadlines fire after 1ns.
	d := time.Until(deadline)
	if d < time.Nanosecond {
		d = time.Nanosecond
	}
	its := unix.ItimerSpec{Value: unix.NsecToTimespec(int64(d))}
	if err := unix.TimerfdSettime(fd, 0, &its, nil); err != nil {
		return fmt.Errorf("timermux: timerfd_settime handle %d: %w", handle, err)
	}

	t.seq++
	t.armed[handle] = Entry{FireAt: deadline, Handle: handle, seq: t.seq}
	return nil
}

func (t *timerFD) createLocked(handle int) (int, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		if errors.Is(err, unix.EMFILE) || errors.Is(err, unix.ENFILE) || errors.Is(err, unix.ENOMEM) {
			return -1, fmt.Errorf("%w: timerfd_create handle %d: %v", ErrCapacity, handle, err)
		}
		return -1, fmt.Errorf("timermux: timerfd_create handle %d: %w", handle, err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(t.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		_ = unix.Close(fd)
		if errors.Is(err, unix.ENOSPC) || errors.Is(err, unix.ENOMEM) {
			return -1, fmt.Errorf("%w: epoll_ctl handle %d: %v", ErrCapacity, handle, err)
		}
		return -1, fmt.Errorf("timermux: epoll_ctl handle %d: %w", handle, err)
	}
	t.fds[handle] = fd
	t.handles[fd] = handle
	return fd, nil
}

func (t *timerFD) Wait(ctx context.Context, maxWait time.Duration) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	t.waiting = true
	epfd := t.epfd
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.waiting = false
		if t.closed {
			t.releaseLocked()
		}
		t.mu.Unlock()
	}()

	stop := context.AfterFunc(ctx, t.wakeup)
	defer stop()

	var hintDeadline time.Time
	if maxWait > 0 {
		hintDeadline = time.Now().Add(maxWait)
	}

	var events []unix.EpollEvent
	for {
		t.mu.Lock()
		closed := t.closed
		size := len(t.fds) + 1
		t.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msec := -1
		if maxWait > 0 {
			remaining := time.Until(hintDeadline)
			if remaining <= 0 {
				return nil, nil
			}
			msec = int((remaining + time.Millisecond - 1) / time.Millisecond)
		}

		if cap(events) < size {
			events = make([]unix.EpollEvent, size)
		}
		n, err := unix.EpollWait(epfd, events[:size], msec)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return nil, fmt.Errorf("timermux: epoll_wait: %w", err)
		}
		if due := t.drain(events[:n]); len(due) > 0 {
			return due, nil
		}
	}
}

// drain acknowledges ready descriptors and collects the entries they belong to.
func (t *timerFD) drain(events []unix.EpollEvent) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var buf [8]byte
	var due []Entry
	for _, ev := range events {
		fd := int(ev.Fd)
		_, _ = unix.Read(fd, buf[:])
		if fd == t.wakefd {
			continue
		}
		handle, ok := t.handles[fd]
		if !ok {
			continue
		}
		if e, pending := t.armed[handle]; pending {
			delete(t.armed, handle)
			due = append(due, e)
		}
	}
	sortEntries(due)
	return due
}

func (t *timerFD) wakeup() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.wakeupLocked()
}

func (t *timerFD) wakeupLocked() {
	if t.released {
		return
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, _ = unix.Write(t.wakefd, buf[:])
}

func (t *timerFD) CancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.armed = map[int]Entry{}
	if t.waiting {
		// The blocked Wait releases descriptors on its way out.
		t.wakeupLocked()
		return
	}
	t.releaseLocked()
}

func (t *timerFD) releaseLocked() {
	if t.released {
		return
	}
	t.released = true
	for fd := range t.handles {
		_ = unix.Close(fd)
	}
	t.fds = map[int]int{}
	t.handles = map[int]int{}
	_ = unix.Close(t.wakefd)
	_ = unix.Close(t.epfd)
}

func (t *timerFD) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.armed)
}
