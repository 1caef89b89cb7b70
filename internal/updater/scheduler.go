package updater

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// DefaultSyncInterval applies when no interval is configured.
const DefaultSyncInterval = 30 * time.Minute

// Scheduler submits a silent refresh of every widget on a fixed interval.
// The first run happens as soon as it starts.
type Scheduler struct {
	scheduler *gocron.Scheduler
	updater   *Updater
	interval  time.Duration
	logger    *zap.Logger
}

func NewScheduler(u *Updater, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		updater:   u,
		interval:  interval,
		logger:    logger.Named("scheduler"),
	}
}

func (s *Scheduler) Interval() time.Duration { return s.interval }

// Start schedules the refresh job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	_, err := s.scheduler.Every(s.interval).SingletonMode().Do(func() {
		s.logger.Debug("scheduled refresh")
		if err := s.updater.SubmitAll(false, true, TriggerScheduled); err != nil {
			s.logger.Warn("scheduled refresh not queued", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule refresh every %s: %w", s.interval, err)
	}
	s.scheduler.StartAsync()
	s.logger.Info("refresh scheduled", zap.Duration("interval", s.interval))
	return nil
}

// Stop cancels future runs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
