package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (c *countingSweeper) Sweep(context.Context) (int, error) {
	c.calls.Add(1)
	return 1, c.err
}

func (c *countingSweeper) CleanupExpiredSessions(context.Context) (int, error) {
	c.calls.Add(1)
	return 0, c.err
}

func TestNewRejectsBadSchedule(t *testing.T) {
	if _, err := New(&countingSweeper{}, &countingSweeper{}, "not a schedule"); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestSchedulerRunsSweep(t *testing.T) {
	attempts := &countingSweeper{}
	s, err := New(attempts, &countingSweeper{}, "@every 1s")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for attempts.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweep never ran")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestRunJobsToleratesErrors(t *testing.T) {
	c := &countingSweeper{err: errors.New("store down")}
	RunSweep(c)
	RunCleanup(c)
	if c.calls.Load() != 2 {
		t.Errorf("expected both jobs to run, got %d calls", c.calls.Load())
	}
}
