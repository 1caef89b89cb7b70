// Package network answers "is there connectivity" and notifies when it comes back.
package network

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Checker reports whether the network is usable right now.
type Checker interface {
	Available(ctx context.Context) bool
}

// DialChecker treats the network as available when a TCP connection to addr succeeds.
type DialChecker struct {
	addr    string
	timeout time.Duration
	dialer  net.Dialer
}

func NewDialChecker(addr string, timeout time.Duration) *DialChecker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &DialChecker{addr: addr, timeout: timeout}
}

func (c *DialChecker) Available(ctx context.Context) bool {
	if c.addr == "" {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Watcher samples a Checker and runs a callback the first time connectivity is seen
// coming back after being down. At most one registration is active.
type Watcher struct {
	checker  Checker
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	gen    uint64
}

func NewWatcher(checker Checker, interval time.Duration, logger *zap.Logger) *Watcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{checker: checker, interval: interval, logger: logger.Named("network")}
}

// Register replaces any active registration. onRestored runs once, on the watcher's
// goroutine, after an unavailable sample is followed by an available one.
func (w *Watcher) Register(ctx context.Context, onRestored func()) {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.gen++
	gen := w.gen
	w.mu.Unlock()

	w.logger.Debug("watching for connectivity")
	go w.watch(watchCtx, gen, onRestored)
}

// Unregister stops the active registration, if any.
func (w *Watcher) Unregister() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
}

// Registered reports whether a registration is active.
func (w *Watcher) Registered() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancel != nil
}

func (w *Watcher) watch(ctx context.Context, gen uint64, onRestored func()) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	wasDown := false
	for {
		up := w.checker.Available(ctx)
		if ctx.Err() != nil {
			return
		}
		if up && wasDown {
			if w.finish(gen) {
				w.logger.Info("connectivity restored")
				onRestored()
			}
			return
		}
		if !up {
			wasDown = true
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// finish clears the registration if it is still the one identified by gen.
func (w *Watcher) finish(gen uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.gen != gen || w.cancel == nil {
		return false
	}
	w.cancel()
	w.cancel = nil
	return true
}
