// Package events publishes exam activity to logs, a message broker and live
// monitoring clients.
package events

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Event types.
const (
	AttemptStarted   = "attempt.started"
	AttemptAnswers   = "attempt.answers_saved"
	AttemptViolation = "attempt.violation"
	AttemptSubmitted = "attempt.submitted"
	AttemptSuspended = "attempt.suspended"
	AttemptReviewed  = "attempt.reviewed"
	SessionStarted   = "session.started"
	SessionUpdated   = "session.updated"
)

// Event describes one state change.
type Event struct {
	Type      string         `json:"type"`
	ExamID    string         `json:"exam_id,omitempty"`
	AttemptID string         `json:"attempt_id,omitempty"`
	StudentID string         `json:"student_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	At        time.Time      `json:"at"`
}

// Publisher delivers events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Log writes events to slog.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Publish(ctx context.Context, e Event) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "event",
		"type", e.Type, "exam_id", e.ExamID, "attempt_id", e.AttemptID,
		"student_id", e.StudentID, "session_id", e.SessionID)
	return nil
}

// Multi fans an event out to several publishers and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
