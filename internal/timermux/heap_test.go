package timermux_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/torosent/rpsgen/internal/timermux"
)

func TestHeapBatchesCoincidentDeadlines(t *testing.T) {
	mux := timermux.NewHeap(timermux.Options{})
	defer mux.CancelAll()

	base := time.Now().Add(20 * time.Millisecond)
	arm(t, mux, base, 1)
	arm(t, mux, base, 2)
	arm(t, mux, base.Add(50*time.Millisecond), 3)
	arm(t, mux, base.Add(200*time.Millisecond), 4)

	ctx := context.Background()
	want := [][]int{{1, 2}, {3}, {4}}
	for i, handles := range want {
		due, err := mux.Wait(ctx, 0)
		if err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
		if got := handlesOf(due); !equalInts(got, handles) {
			t.Fatalf("wait %d returned %v, want %v", i, got, handles)
		}
		for _, e := range due {
			if time.Now().Before(e.FireAt) {
				t.Fatalf("entry %d returned before its deadline", e.Handle)
			}
		}
	}
	if mux.Len() != 0 {
		t.Fatalf("expected no pending entries, got %d", mux.Len())
	}
}

func TestHeapOverdueEntryReturnsImmediately(t *testing.T) {
	mux := timermux.NewHeap(timermux.Options{})
	defer mux.CancelAll()

	arm(t, mux, time.Now().Add(-time.Second), 9)

	start := time.Now()
	due, err := mux.Wait(context.Background(), 0)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(due) != 1 || due[0].Handle != 9 {
		t.Fatalf("unexpected entries %v", due)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("overdue entry took %v", elapsed)
	}
}

func TestHeapEarlierArmWakesWaiter(t *testing.T) {
	mux := timermux.NewHeap(timermux.Options{})
	defer mux.CancelAll()

	arm(t, mux, time.Now().Add(time.Hour), 1)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = mux.Arm(time.Now().Add(10*time.Millisecond), 2)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	due, err := mux.Wait(ctx, 0)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(due) != 1 || due[0].Handle != 2 {
		t.Fatalf("expected handle 2, got %v", handlesOf(due))
	}
	if mux.Len() != 1 {
		t.Fatalf("expected the later entry to stay pending, got %d", mux.Len())
	}
}

func TestHeapMaxWaitHint(t *testing.T) {
	mux := timermux.NewHeap(timermux.Options{})
	defer mux.CancelAll()

	arm(t, mux, time.Now().Add(time.Hour), 1)

	due, err := mux.Wait(context.Background(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if due != nil {
		t.Fatalf("expected no entries, got %v", due)
	}
}

func TestHeapContextCancel(t *testing.T) {
	mux := timermux.NewHeap(timermux.Options{})
	defer mux.CancelAll()

	arm(t, mux, time.Now().Add(time.Hour), 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if _, err := mux.Wait(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestHeapCancelAll(t *testing.T) {
	mux := timermux.NewHeap(timermux.Options{})

	arm(t, mux, time.Now().Add(time.Hour), 1)
	arm(t, mux, time.Now().Add(time.Hour), 2)

	errCh := make(chan error, 1)
	go func() {
		_, err := mux.Wait(context.Background(), 0)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	mux.CancelAll()
	mux.CancelAll()

	select {
	case err := <-errCh:
		if !errors.Is(err, timermux.ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("wait did not return after CancelAll")
	}

	if mux.Len() != 0 {
		t.Fatalf("expected empty multiplexer, got %d", mux.Len())
	}
	if err := mux.Arm(time.Now(), 3); !errors.Is(err, timermux.ErrClosed) {
		t.Fatalf("expected ErrClosed from Arm, got %v", err)
	}
}

func TestHeapCapacity(t *testing.T) {
	mux := timermux.NewHeap(timermux.Options{Capacity: 2})
	defer mux.CancelAll()

	arm(t, mux, time.Now().Add(time.Hour), 1)
	arm(t, mux, time.Now().Add(time.Hour), 2)
	if err := mux.Arm(time.Now().Add(time.Hour), 3); !errors.Is(err, timermux.ErrCapacity) {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}
}

func TestNewBackend(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		wantErr bool
	}{
		{name: "default", backend: ""},
		{name: "heap", backend: "heap"},
		{name: "case insensitive", backend: " HEAP "},
		{name: "unknown", backend: "wheel", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux, err := timermux.New(tt.backend, timermux.Options{})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			mux.CancelAll()
		})
	}
}

func arm(t *testing.T, mux timermux.Multiplexer, at time.Time, handle int) {
	t.Helper()
	if err := mux.Arm(at, handle); err != nil {
		t.Fatalf("arm %d: %v", handle, err)
	}
}

func handlesOf(entries []timermux.Entry) []int {
	out := make([]int, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Handle)
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
