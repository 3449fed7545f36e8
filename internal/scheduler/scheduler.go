// Package scheduler drives the time-of-day triggers: the daily history clear
// at a fixed hour and minute, and periodic sync passes the rest of the time.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Syncer runs one synchronization pass.
type Syncer interface {
	RunPass(ctx context.Context) error
}

// Clearer runs one history clear.
type Clearer interface {
	RunClear(ctx context.Context) error
}

// Config holds the schedule.
type Config struct {
	// ClearHour and ClearMinute select the daily clear slot, in UTC.
	ClearHour   int
	ClearMinute int
	// SyncInterval is the minimum time between sync passes.
	SyncInterval time.Duration
}

// Scheduler ticks once a minute and dispatches either a clear or a sync
// pass. The clear minute never runs a sync; everything else follows the
// sync interval.
type Scheduler struct {
	cfg     Config
	syncer  Syncer
	clearer Clearer
	log     zerolog.Logger

	lastSync time.Time
}

// New creates a Scheduler.
func New(cfg Config, syncer Syncer, clearer Clearer, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		syncer:  syncer,
		clearer: clearer,
		log:     log,
	}
}

// Run blocks until the context is cancelled, dispatching on minute
// boundaries. Failures are logged and the loop keeps going; a broken pass
// must not take the schedule down with it.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	s.log.Info().
		Int("clear_hour", s.cfg.ClearHour).
		Int("clear_minute", s.cfg.ClearMinute).
		Dur("sync_interval", s.cfg.SyncInterval).
		Msg("scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return
		case now := <-ticker.C:
			s.Tick(ctx, now.UTC())
		}
	}
}

// Tick dispatches for one instant. Exported so tests can drive the schedule
// without a real clock.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	if now.Hour() == s.cfg.ClearHour && now.Minute() == s.cfg.ClearMinute {
		s.log.Info().Msg("clear slot reached")
		if err := s.clearer.RunClear(ctx); err != nil {
			s.log.Error().Err(err).Msg("scheduled clear failed")
		}
		return
	}

	if !s.lastSync.IsZero() && now.Sub(s.lastSync) < s.cfg.SyncInterval {
		return
	}

	s.lastSync = now
	if err := s.syncer.RunPass(ctx); err != nil {
		s.log.Error().Err(err).Msg("scheduled sync pass failed")
	}
}
