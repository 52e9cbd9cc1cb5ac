package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
	"pcanalytics.shikanime.studio/internal/planningcenter"
)

// cronLogger routes cron's logging into slog.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, kv ...any) { c.l.Debug(msg, kv...) }

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error(msg, append(kv, "error", err)...)
}

// Scheduler runs SyncAll every sync interval while a session is authenticated.
type Scheduler struct {
	d    *Dashboard
	cron *cron.Cron

	mu       sync.Mutex
	entry    cron.EntryID
	interval int
}

// NewScheduler creates a stopped scheduler for d.
func NewScheduler(d *Dashboard) *Scheduler {
	l := cronLogger{l: slog.Default().With("component", "scheduler")}
	return &Scheduler{
		d: d,
		cron: cron.New(
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		),
	}
}

// Start registers the sync job at the stored interval and starts the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Reschedule(ctx); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Reschedule replaces the sync job after the interval preference changed.
func (s *Scheduler) Reschedule(ctx context.Context) error {
	minutes, err := s.d.prefs.SyncIntervalMinutes(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry != 0 && s.interval == minutes {
		return nil
	}
	id, err := s.cron.AddFunc(fmt.Sprintf("@every %dm", minutes), s.run)
	if err != nil {
		return fmt.Errorf("failed to schedule sync: %w", err)
	}
	if s.entry != 0 {
		s.cron.Remove(s.entry)
	}
	s.entry, s.interval = id, minutes
	slog.InfoContext(ctx, "Scheduled periodic sync", "interval_minutes", minutes)
	return nil
}

// Interval returns the scheduled interval in minutes, 0 before Start.
func (s *Scheduler) Interval() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Stop halts the scheduler and waits for a running sync to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.d.timeout)
	defer cancel()
	s.Run(ctx)
}

// Run performs one scheduled sync. It does nothing while unauthenticated.
func (s *Scheduler) Run(ctx context.Context) {
	if !s.d.tokens.Authenticated() {
		slog.DebugContext(ctx, "Skipping periodic sync, not authenticated")
		return
	}
	if err := s.d.SyncAll(ctx); err != nil && !errors.Is(err, planningcenter.ErrUnauthenticated) {
		slog.WarnContext(ctx, "Periodic sync failed", "error", err)
	}
}
