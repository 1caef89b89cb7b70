// Package updater serializes refresh requests onto a single worker that runs the
// weather pipeline and renders the result on the configured widgets.
package updater

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/kjstillabower/fweather/internal/lifecycle"
	"github.com/kjstillabower/fweather/internal/models"
	"github.com/kjstillabower/fweather/internal/observability"
	"github.com/kjstillabower/fweather/internal/service"
)

// Trigger kinds, used as the metrics label.
const (
	TriggerScheduled     = "scheduled"
	TriggerUser          = "user"
	TriggerSilent        = "silent"
	TriggerLocationReady = "location_ready"
	TriggerConnectivity  = "connectivity"
)

// ForceUpdateMessage is the notice shown when the user forces a refresh.
const ForceUpdateMessage = "Update requested, hold on..."

const defaultQueueSize = 16

var (
	// ErrShuttingDown is returned by Submit once the process is draining.
	ErrShuttingDown = errors.New("updater: shutting down")
	// ErrQueueFull is returned by SubmitAll when a refresh cannot be queued without blocking.
	ErrQueueFull = errors.New("updater: queue full")
)

// Request asks for one refresh of the given widgets.
type Request struct {
	Forced    bool
	Silent    bool
	WidgetIDs []int
	Trigger   string
}

// Fetcher is satisfied by *service.Pipeline.
type Fetcher interface {
	FetchWeather(ctx context.Context, forced bool) (models.WeatherSnapshot, error)
}

// Renderer draws a snapshot on the given widgets.
type Renderer interface {
	Render(widgetIDs []int, snapshot models.WeatherSnapshot)
}

// Notifier shows a short user-facing notice.
type Notifier interface {
	Notify(message string)
}

// Watcher fires a callback once connectivity comes back. Satisfied by *network.Watcher.
type Watcher interface {
	Register(ctx context.Context, onRestored func())
	Unregister()
}

type Options struct {
	Fetcher   Fetcher
	Renderer  Renderer
	Notifier  Notifier
	Watcher   Watcher
	WidgetIDs []int
	QueueSize int
	Logger    *zap.Logger
	// Accepting reports whether new requests are admitted. Defaults to the process phase.
	Accepting func() bool
}

type Updater struct {
	fetcher  Fetcher
	renderer Renderer
	notifier Notifier
	watcher  Watcher
	logger   *zap.Logger
	queue    chan Request
	accept   func() bool

	mu        sync.RWMutex
	widgetIDs []int
}

func New(opts Options) *Updater {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.Watcher == nil {
		opts.Watcher = nopWatcher{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Accepting == nil {
		opts.Accepting = func() bool { return !lifecycle.IsShuttingDown() }
	}
	return &Updater{
		fetcher:   opts.Fetcher,
		renderer:  opts.Renderer,
		notifier:  opts.Notifier,
		watcher:   opts.Watcher,
		logger:    opts.Logger.Named("updater"),
		queue:     make(chan Request, opts.QueueSize),
		accept:    opts.Accepting,
		widgetIDs: append([]int(nil), opts.WidgetIDs...),
	}
}

// WidgetIDs returns the configured widgets.
func (u *Updater) WidgetIDs() []int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return append([]int(nil), u.widgetIDs...)
}

// Submit queues req, blocking until there is room or ctx is done.
func (u *Updater) Submit(ctx context.Context, req Request) error {
	if !u.accept() {
		return ErrShuttingDown
	}
	select {
	case u.queue <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitAll queues a refresh of every configured widget without blocking.
func (u *Updater) SubmitAll(forced, silent bool, trigger string) error {
	if !u.accept() {
		return ErrShuttingDown
	}
	req := Request{Forced: forced, Silent: silent, WidgetIDs: u.WidgetIDs(), Trigger: trigger}
	select {
	case u.queue <- req:
		return nil
	default:
		u.logger.Warn("refresh dropped, queue full", zap.String("trigger", trigger))
		return ErrQueueFull
	}
}

// Run handles queued requests one at a time until ctx is done.
func (u *Updater) Run(ctx context.Context) {
	u.logger.Info("updater started")
	for {
		select {
		case <-ctx.Done():
			u.watcher.Unregister()
			u.logger.Info("updater stopped")
			return
		case req := <-u.queue:
			u.handle(ctx, req)
		}
	}
}

func (u *Updater) handle(ctx context.Context, req Request) {
	u.watcher.Unregister()

	if len(req.WidgetIDs) == 0 {
		u.logger.Debug("request with no widget ids, ignoring", zap.String("trigger", req.Trigger))
		return
	}
	trigger := req.Trigger
	if trigger == "" {
		trigger = TriggerScheduled
	}
	observability.UpdaterRequestsTotal.WithLabelValues(trigger).Inc()
	logger := u.logger.With(zap.String("trigger", trigger), zap.Ints("widgets", req.WidgetIDs))

	if req.Forced && !req.Silent {
		logger.Info("user requested a forced update")
		u.notifier.Notify(ForceUpdateMessage)
	}

	logger.Info("starting widgets update")
	snapshot, err := u.fetcher.FetchWeather(observability.WithLogger(ctx, logger), req.Forced)
	if errors.Is(err, service.ErrLocationNotReady) {
		logger.Debug("location not ready yet, leaving widgets unchanged")
		return
	}
	if err != nil {
		logger.Error("weather pipeline failed", zap.Error(err))
		return
	}

	if snapshot.ConditionCode == models.ConditionNoData || snapshot.ConditionCode == models.ConditionNoNetwork {
		logger.Debug("registering connectivity watcher")
		u.watcher.Register(ctx, func() {
			if err := u.SubmitAll(false, true, TriggerConnectivity); err != nil {
				u.logger.Warn("connectivity refresh not queued", zap.Error(err))
			}
		})
	}

	u.renderer.Render(req.WidgetIDs, snapshot)
	lifecycle.MarkRunning()
	logger.Info("all widgets updated")
}

type nopNotifier struct{}

func (nopNotifier) Notify(string) {}

type nopWatcher struct{}

func (nopWatcher) Register(context.Context, func()) {}
func (nopWatcher) Unregister() {}
