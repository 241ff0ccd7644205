// Package jobs runs tally's background work on cron schedules.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tally/internal/pkg/geoip"
	"tally/internal/rollup"
)

const (
	JobRollup      = "rollup"
	JobGeoIPReload = "geoip_reload"

	// GeoIPReloadSchedule picks up databases refreshed on disk by geoipupdate.
	GeoIPReloadSchedule = "@daily"

	stopTimeout = 30 * time.Second
)

type SchedulerOptions struct {
	Logger *slog.Logger
	Rollup *rollup.Job
	// RollupSchedule is a standard cron spec or descriptor such as
	// "@hourly". Empty disables scheduled rollups.
	RollupSchedule string
	GeoIP          *geoip.Locator
}

// Scheduler runs background jobs. It implements cartridge's BackgroundWorker.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	rollup *rollup.Job
	geo    *geoip.Locator

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running map[string]bool
	started bool
}

func NewScheduler(opts SchedulerOptions) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:    cron.New(),
		logger:  opts.Logger,
		rollup:  opts.Rollup,
		geo:     opts.GeoIP,
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[string]bool),
	}

	if opts.RollupSchedule != "" && opts.Rollup != nil {
		if _, err := s.cron.AddFunc(opts.RollupSchedule, func() {
			s.executeJobSafely(JobRollup, s.runRollup)
		}); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid rollup schedule %q: %w", opts.RollupSchedule, err)
		}
	} else {
		s.logger.Info("Scheduled rollups disabled")
	}

	if opts.GeoIP.Enabled() {
		if _, err := s.cron.AddFunc(GeoIPReloadSchedule, func() {
			s.executeJobSafely(JobGeoIPReload, s.reloadGeoIP)
		}); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to schedule GeoIP reload: %w", err)
		}
	}

	return s, nil
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("Background jobs started", slog.Int("entries", len(s.cron.Entries())))
	return nil
}

// Stop halts the schedule and waits for in-flight jobs, up to a timeout.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background jobs...")
	s.cancel()
	done := s.cron.Stop()

	select {
	case <-done.Done():
	case <-time.After(stopTimeout):
		s.logger.Warn("Timed out waiting for background jobs to finish")
	}
	s.logger.Info("Background jobs stopped")
}

// Entries reports how many jobs are scheduled.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// executeJobSafely skips a tick while the previous run of the same job is
// still executing, and recovers panics so one bad run cannot stop the
// schedule.
func (s *Scheduler) executeJobSafely(jobName string, jobFunc func(context.Context) error) {
	s.mu.Lock()
	if s.running[jobName] {
		s.logger.Debug("Skipping job execution - previous run still in progress", slog.String("job", jobName))
		s.mu.Unlock()
		return
	}
	s.running[jobName] = true
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in background job",
				slog.String("job", jobName),
				slog.Any("panic", r))
		}

		s.mu.Lock()
		s.running[jobName] = false
		s.mu.Unlock()
	}()

	if err := jobFunc(s.ctx); err != nil {
		s.logger.Error("Error executing job", slog.String("job", jobName), slog.Any("error", err))
	}
}

func (s *Scheduler) runRollup(ctx context.Context) error {
	_, err := s.rollup.Run(ctx, rollup.Options{Trigger: rollup.TriggerSchedule})
	return err
}

func (s *Scheduler) reloadGeoIP(context.Context) error {
	s.geo.Reload()
	return nil
}
