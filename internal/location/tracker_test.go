package location

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// chanBackend delivers whatever is sent on fixes.
type chanBackend struct {
	fixes chan Location
}

func newChanBackend() *chanBackend {
	return &chanBackend{fixes: make(chan Location)}
}

func (b *chanBackend) Name() string { return "test" }

func (b *chanBackend) Run(ctx context.Context, onFix func(Location)) {
	for {
		select {
		case <-ctx.Done():
			return
		case loc := <-b.fixes:
			onFix(loc)
		}
	}
}

func staticSelector(b Backend) SelectorFunc {
	return func(ctx context.Context) Backend { return b }
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func waitState(t *testing.T, tr *Tracker, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for tr.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("State() = %v, want %v", tr.State(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTracker_StartsUninitialized(t *testing.T) {
	tr := NewTracker(nil)
	if tr.State() != StateUninitialized {
		t.Errorf("State() = %v, want uninitialized", tr.State())
	}
	if _, err := tr.LastKnown(nil); !errors.Is(err, ErrNotReadyYet) {
		t.Errorf("LastKnown() error = %v, want ErrNotReadyYet", err)
	}
}

func TestTracker_Init_Idempotent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var selects int32
	backend := newChanBackend()
	sel := SelectorFunc(func(ctx context.Context) Backend {
		atomic.AddInt32(&selects, 1)
		return backend
	})

	tr := NewTracker(nil)
	tr.Init(ctx, sel)
	tr.Init(ctx, sel)
	tr.Init(ctx, sel)

	if got := atomic.LoadInt32(&selects); got != 1 {
		t.Errorf("selector called %d times, want 1", got)
	}
	if tr.State() != StateInitializing {
		t.Errorf("State() = %v, want initializing", tr.State())
	}
	if tr.Backend() != "test" {
		t.Errorf("Backend() = %q, want test", tr.Backend())
	}
}

// TestTracker_NoBackend verifies the degraded mode: without a provider the tracker
// stays Initializing and never reports a location.
func TestTracker_NoBackend(t *testing.T) {
	tr := NewTracker(nil)
	tr.Init(context.Background(), staticSelector(nil))

	if tr.State() != StateInitializing {
		t.Errorf("State() = %v, want initializing", tr.State())
	}
	for i := 0; i < 3; i++ {
		if _, err := tr.LastKnown(func() {}); !errors.Is(err, ErrNotReadyYet) {
			t.Errorf("LastKnown() error = %v, want ErrNotReadyYet", err)
		}
	}
	if tr.Backend() != "" {
		t.Errorf("Backend() = %q, want empty", tr.Backend())
	}
}

func TestTracker_FirstFixMakesReady(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	backend := newChanBackend()
	tr := NewTracker(nil)
	tr.Init(ctx, staticSelector(backend))

	backend.fixes <- Location{Latitude: 45.46, Longitude: 9.19, Source: "test"}
	waitState(t, tr, StateReady)

	loc, err := tr.LastKnown(nil)
	if err != nil {
		t.Fatalf("LastKnown() error = %v", err)
	}
	if loc == nil || loc.Latitude != 45.46 || loc.Longitude != 9.19 {
		t.Errorf("LastKnown() = %+v", loc)
	}
}

// TestTracker_DeferredCallbackFiresOnce verifies that a callback stored while not ready
// runs exactly once, even when more fixes follow.
func TestTracker_DeferredCallbackFiresOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	backend := newChanBackend()
	tr := NewTracker(nil)
	tr.Init(ctx, staticSelector(backend))

	var calls int32
	fired := make(chan struct{}, 4)
	_, err := tr.LastKnown(func() {
		atomic.AddInt32(&calls, 1)
		fired <- struct{}{}
	})
	if !errors.Is(err, ErrNotReadyYet) {
		t.Fatalf("LastKnown() error = %v, want ErrNotReadyYet", err)
	}

	backend.fixes <- Location{Latitude: 1, Longitude: 1}
	waitFor(t, fired, "deferred callback")

	backend.fixes <- Location{Latitude: 2, Longitude: 2}
	backend.fixes <- Location{Latitude: 3, Longitude: 3}
	time.Sleep(50 * time.Millisecond)

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("callback ran %d times, want 1", got)
	}
}

// TestTracker_PendingCallbackOverwritten verifies that only the most recently stored
// callback runs.
func TestTracker_PendingCallbackOverwritten(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	backend := newChanBackend()
	tr := NewTracker(nil)
	tr.Init(ctx, staticSelector(backend))

	var first, second int32
	fired := make(chan struct{}, 2)
	_, _ = tr.LastKnown(func() { atomic.AddInt32(&first, 1); fired <- struct{}{} })
	_, _ = tr.LastKnown(func() { atomic.AddInt32(&second, 1); fired <- struct{}{} })

	backend.fixes <- Location{Latitude: 1, Longitude: 1}
	waitFor(t, fired, "callback")
	time.Sleep(50 * time.Millisecond)

	if atomic.LoadInt32(&first) != 0 {
		t.Error("overwritten callback ran")
	}
	if atomic.LoadInt32(&second) != 1 {
		t.Error("most recent callback did not run exactly once")
	}
}

func TestTracker_ReadyIgnoresCallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	backend := newChanBackend()
	tr := NewTracker(nil)
	tr.Init(ctx, staticSelector(backend))
	backend.fixes <- Location{Latitude: 1, Longitude: 1}
	waitState(t, tr, StateReady)

	called := make(chan struct{}, 1)
	if _, err := tr.LastKnown(func() { called <- struct{}{} }); err != nil {
		t.Fatalf("LastKnown() error = %v", err)
	}
	backend.fixes <- Location{Latitude: 2, Longitude: 2}
	select {
	case <-called:
		t.Error("callback passed while ready should never run")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTracker_LaterFixesUpdateLocation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	backend := newChanBackend()
	tr := NewTracker(nil)
	tr.Init(ctx, staticSelector(backend))

	backend.fixes <- Location{Latitude: 1, Longitude: 1}
	backend.fixes <- Location{Latitude: 2, Longitude: 2, City: "Bari"}
	// The unbuffered send returns once Run received it; a third send guarantees the
	// second onFix finished.
	backend.fixes <- Location{Latitude: 2, Longitude: 2, City: "Bari"}

	loc, err := tr.LastKnown(nil)
	if err != nil {
		t.Fatalf("LastKnown() error = %v", err)
	}
	if loc.City != "Bari" || loc.Latitude != 2 {
		t.Errorf("LastKnown() = %+v, want latest fix", loc)
	}
}

func TestTracker_LastKnownReturnsCopy(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	backend := newChanBackend()
	tr := NewTracker(nil)
	tr.Init(ctx, staticSelector(backend))
	backend.fixes <- Location{Latitude: 1, Longitude: 1}
	waitState(t, tr, StateReady)

	loc, _ := tr.LastKnown(nil)
	loc.Latitude = 99

	again, _ := tr.LastKnown(nil)
	if again.Latitude != 1 {
		t.Errorf("tracker state changed through returned pointer: %+v", again)
	}
}

func TestTracker_ConcurrentAccess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	backend := newChanBackend()
	tr := NewTracker(nil)
	tr.Init(ctx, staticSelector(backend))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = tr.LastKnown(func() {})
				_ = tr.State()
			}
		}()
	}
	for i := 0; i < 20; i++ {
		backend.fixes <- Location{Latitude: float64(i), Longitude: 1}
	}
	wg.Wait()

	if tr.State() != StateReady {
		t.Errorf("State() = %v, want ready", tr.State())
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateUninitialized: "uninitialized",
		StateInitializing:  "initializing",
		StateReady:         "ready",
		State(9):           "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
