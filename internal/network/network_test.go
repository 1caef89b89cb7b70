package network

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// scriptedChecker returns the scripted answers in order, then repeats the last one.
type scriptedChecker struct {
	mu      sync.Mutex
	answers []bool
}

func (c *scriptedChecker) Available(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := c.answers[0]
	if len(c.answers) > 1 {
		c.answers = c.answers[1:]
	}
	return a
}

func TestDialChecker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()

	if !NewDialChecker(addr, time.Second).Available(context.Background()) {
		t.Error("Available() = false with listener up")
	}
	ln.Close()
	if NewDialChecker(addr, 200*time.Millisecond).Available(context.Background()) {
		t.Error("Available() = true with listener closed")
	}
	if !NewDialChecker("", 0).Available(context.Background()) {
		t.Error("Available() = false with probing disabled")
	}
}

func TestWatcher_FiresOnceAfterRestore(t *testing.T) {
	checker := &scriptedChecker{answers: []bool{false, false, true}}
	w := NewWatcher(checker, 5*time.Millisecond, nil)

	var calls int32
	done := make(chan struct{}, 2)
	w.Register(context.Background(), func() {
		atomic.AddInt32(&calls, 1)
		done <- struct{}{}
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback did not run")
	}
	time.Sleep(30 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("callback ran %d times, want 1", got)
	}
	if w.Registered() {
		t.Error("Registered() = true after callback ran")
	}
}

func TestWatcher_AlreadyUpDoesNotFire(t *testing.T) {
	checker := &scriptedChecker{answers: []bool{true}}
	w := NewWatcher(checker, 5*time.Millisecond, nil)

	fired := make(chan struct{}, 1)
	w.Register(context.Background(), func() { fired <- struct{}{} })

	select {
	case <-fired:
		t.Error("callback ran without a connectivity loss")
	case <-time.After(50 * time.Millisecond):
	}
	w.Unregister()
}

func TestWatcher_UnregisterStops(t *testing.T) {
	checker := &scriptedChecker{answers: []bool{false}}
	w := NewWatcher(checker, 5*time.Millisecond, nil)

	fired := make(chan struct{}, 1)
	w.Register(context.Background(), func() { fired <- struct{}{} })
	if !w.Registered() {
		t.Fatal("Registered() = false after Register")
	}
	w.Unregister()
	if w.Registered() {
		t.Error("Registered() = true after Unregister")
	}

	checker.mu.Lock()
	checker.answers = []bool{true}
	checker.mu.Unlock()

	select {
	case <-fired:
		t.Error("callback ran after Unregister")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatcher_RegisterReplaces(t *testing.T) {
	checker := &scriptedChecker{answers: []bool{false, false, false, true}}
	w := NewWatcher(checker, 5*time.Millisecond, nil)

	var first, second int32
	done := make(chan struct{}, 2)
	w.Register(context.Background(), func() { atomic.AddInt32(&first, 1); done <- struct{}{} })
	w.Register(context.Background(), func() { atomic.AddInt32(&second, 1); done <- struct{}{} })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback did not run")
	}
	time.Sleep(30 * time.Millisecond)
	if atomic.LoadInt32(&first) != 0 || atomic.LoadInt32(&second) != 1 {
		t.Errorf("first = %d, second = %d; want 0, 1", first, second)
	}
}
