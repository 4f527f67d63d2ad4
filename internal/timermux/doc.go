// Package timermux multiplexes many pending "fire-at" deadlines behind a single
// blocking wait.
//
// A [Multiplexer] holds one entry per armed handle. [Multiplexer.Wait] sleeps
// until the earliest deadline, then returns every entry that has become due in
// that one wake-up, ordered by deadline:
//
//	mux, _ := timermux.New(timermux.BackendHeap, timermux.Options{})
//	_ = mux.Arm(time.Now().Add(10*time.Millisecond), 7)
//	due, err := mux.Wait(ctx, 0) // due[0].Handle == 7
//
// # Backends
//
//   - [BackendHeap]: a portable min-heap guarded by a mutex. One time.Timer is
//     used per wait cycle regardless of how many entries are pending.
//   - [BackendTimerFD]: Linux only. Each handle owns a timerfd and all of them
//     are polled through one epoll instance. The kernel wakes epoll exactly at
//     the earliest expiry, so [Options.Granularity] is ignored.
//
// Both backends return [ErrClosed] after [Multiplexer.CancelAll] and wrap
// [ErrCapacity] when no more entries can be registered.
package timermux
