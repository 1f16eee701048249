// Package sweeper runs periodic maintenance: auto-submitting overdue
// attempts and removing expired auth records.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the attempt sweep every 30 seconds.
const DefaultSchedule = "@every 30s"

// CleanupSchedule runs the auth cleanup hourly.
const CleanupSchedule = "@hourly"

const jobTimeout = time.Minute

// AttemptSweeper finalizes overdue attempts.
type AttemptSweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// AuthCleaner removes expired auth sessions.
type AuthCleaner interface {
	CleanupExpiredSessions(ctx context.Context) (int, error)
}

// Sweeper schedules the maintenance jobs.
type Sweeper struct {
	cron *cron.Cron
}

// New registers both jobs. An overlapping run is skipped rather than queued.
func New(attempts AttemptSweeper, auth AuthCleaner, schedule string) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	if _, err := c.AddFunc(schedule, func() { RunSweep(attempts) }); err != nil {
		return nil, fmt.Errorf("schedule attempt sweep %q: %w", schedule, err)
	}
	if _, err := c.AddFunc(CleanupSchedule, func() { RunCleanup(auth) }); err != nil {
		return nil, fmt.Errorf("schedule auth cleanup: %w", err)
	}
	return &Sweeper{cron: c}, nil
}

// RunSweep executes one attempt sweep.
func RunSweep(attempts AttemptSweeper) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	n, err := attempts.Sweep(ctx)
	if err != nil {
		slog.Error("attempt sweep failed", "finalized", n, "error", err)
		return
	}
	if n > 0 {
		slog.Info("attempt sweep finalized overdue attempts", "count", n)
	}
}

// RunCleanup executes one auth cleanup.
func RunCleanup(auth AuthCleaner) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	n, err := auth.CleanupExpiredSessions(ctx)
	if err != nil {
		slog.Error("auth cleanup failed", "error", err)
		return
	}
	slog.Debug("auth cleanup done", "removed", n)
}

func (s *Sweeper) Start() {
	s.cron.Start()
	slog.Info("sweeper started", "jobs", len(s.cron.Entries()))
}

// Stop halts scheduling and waits for running jobs.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
