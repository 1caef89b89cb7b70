// Package location tracks the device position behind a single "last known location
// or not ready" query.
package location

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/fweather/internal/observability"
)

// ErrNotReadyYet is returned by LastKnown until the first fix has arrived.
var ErrNotReadyYet = errors.New("location not ready yet")

type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Location is one position fix.
type Location struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	City      string    `json:"city,omitempty"`
	Source    string    `json:"source"`
	Time      time.Time `json:"time"`
}

// Backend produces fixes. Run blocks until ctx is done and calls onFix for every fix.
type Backend interface {
	Name() string
	Run(ctx context.Context, onFix func(Location))
}

// Selector picks the backend at Init. It returns nil when no provider is available.
type Selector interface {
	Select(ctx context.Context) Backend
}

// SelectorFunc adapts a function to Selector.
type SelectorFunc func(ctx context.Context) Backend

func (f SelectorFunc) Select(ctx context.Context) Backend { return f(ctx) }

// Tracker is the location availability state machine. It is created once by the
// composition root and shared by reference. Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	state   State
	backend Backend
	last    *Location
	pending func()
	logger  *zap.Logger
}

func NewTracker(logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{logger: logger.Named("location")}
}

// Init selects a backend and starts it in the background. Only the first call has any
// effect. When the selector finds nothing the tracker stays Initializing for good.
func (t *Tracker) Init(ctx context.Context, selector Selector) {
	t.mu.Lock()
	if t.state != StateUninitialized {
		t.mu.Unlock()
		return
	}
	t.setStateLocked(StateInitializing)
	t.mu.Unlock()

	var backend Backend
	if selector != nil {
		backend = selector.Select(ctx)
	}
	if backend == nil {
		t.logger.Warn("no location provider available, location will never become ready")
		return
	}

	t.mu.Lock()
	t.backend = backend
	t.mu.Unlock()

	t.logger.Info("location backend selected", zap.String("backend", backend.Name()))
	go backend.Run(ctx, t.onFix)
}

// LastKnown returns a copy of the latest fix. Before the first fix it stores onReady,
// replacing any callback stored earlier, and returns ErrNotReadyYet. The stored
// callback runs once, on its own goroutine, when the tracker becomes ready.
func (t *Tracker) LastKnown(onReady func()) (*Location, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateReady {
		if onReady != nil {
			t.pending = onReady
		}
		return nil, ErrNotReadyYet
	}
	if t.last == nil {
		return nil, nil
	}
	loc := *t.last
	return &loc, nil
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Backend returns the name of the selected backend, or "" before selection.
func (t *Tracker) Backend() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.backend == nil {
		return ""
	}
	return t.backend.Name()
}

func (t *Tracker) onFix(loc Location) {
	t.mu.Lock()
	t.last = &loc
	observability.LocationFixesTotal.WithLabelValues(loc.Source).Inc()

	var callback func()
	if t.state != StateReady {
		t.setStateLocked(StateReady)
		callback = t.pending
		t.pending = nil
		t.logger.Info("location ready",
			zap.Float64("latitude", loc.Latitude),
			zap.Float64("longitude", loc.Longitude),
			zap.String("source", loc.Source),
		)
	}
	t.mu.Unlock()

	if callback != nil {
		go callback()
	}
}

func (t *Tracker) setStateLocked(s State) {
	t.state = s
	observability.LocationState.Set(float64(s))
}
