package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/pavelanni/examportal/internal/apperr"
	"github.com/pavelanni/examportal/internal/model"
)

// ErrAttemptOpen is returned when the student already has an open attempt.
var ErrAttemptOpen = apperr.Conflict("an attempt is already in progress")

// AttemptFilter narrows ListAttempts. Empty fields match everything.
type AttemptFilter struct {
	ExamID    string
	StudentID string
	Status    model.AttemptStatus
}

func (f AttemptFilter) match(a model.Attempt) bool {
	return (f.ExamID == "" || a.ExamID == f.ExamID) &&
		(f.StudentID == "" || a.StudentID == f.StudentID) &&
		(f.Status == "" || a.Status == f.Status)
}

func openAttemptKey(examID, studentID string) string {
	return prefixOpenAttempt + examID + ":" + studentID
}

// CreateAttempt stores a new in-progress attempt. At most one open attempt
// exists per exam and student; a second one fails with ErrAttemptOpen.
func (s *Store) CreateAttempt(ctx context.Context, a *model.Attempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if err := s.claimOpenAttempt(ctx, a); err != nil {
		return err
	}
	version, err := putJSON(ctx, s.kv, prefixAttempt+a.ID, a, MustNotExist)
	if err != nil {
		_ = s.kv.Delete(ctx, openAttemptKey(a.ExamID, a.StudentID))
		return fmt.Errorf("create attempt: %w", err)
	}
	a.Version = version
	return nil
}

func (s *Store) claimOpenAttempt(ctx context.Context, a *model.Attempt) error {
	key := openAttemptKey(a.ExamID, a.StudentID)
	_, err := s.kv.Put(ctx, key, []byte(a.ID), MustNotExist)
	if !errors.Is(err, ErrConflict) {
		return err
	}

	// The index may be stale when a previous finalize could not release it.
	rec, err := s.kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return ErrAttemptOpen
	}
	if err != nil {
		return err
	}
	prev, _, err := getJSON[model.Attempt](ctx, s.kv, prefixAttempt+string(rec.Value))
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return err
	case !prev.Status.Terminal():
		return ErrAttemptOpen
	}
	slog.Warn("replacing stale open-attempt index", "exam_id", a.ExamID, "student_id", a.StudentID, "previous", string(rec.Value))
	if _, err := s.kv.Put(ctx, key, []byte(a.ID), rec.Version); err != nil {
		if errors.Is(err, ErrConflict) {
			return ErrAttemptOpen
		}
		return err
	}
	return nil
}

// GetAttempt returns an attempt with its store version.
func (s *Store) GetAttempt(ctx context.Context, id string) (*model.Attempt, error) {
	a, version, err := getJSON[model.Attempt](ctx, s.kv, prefixAttempt+id)
	if err != nil {
		return nil, fmt.Errorf("get attempt %s: %w", id, err)
	}
	a.Version = version
	return &a, nil
}

// SaveAttempt writes a only if the stored version still equals a.Version,
// returning ErrConflict otherwise. Terminal attempts release the open index.
func (s *Store) SaveAttempt(ctx context.Context, a *model.Attempt) error {
	if a.Version <= 0 {
		return fmt.Errorf("save attempt %s: missing version", a.ID)
	}
	version, err := putJSON(ctx, s.kv, prefixAttempt+a.ID, a, a.Version)
	if err != nil {
		return fmt.Errorf("save attempt %s: %w", a.ID, err)
	}
	a.Version = version
	if a.Status.Terminal() {
		s.releaseOpenAttempt(ctx, a)
	}
	return nil
}

func (s *Store) releaseOpenAttempt(ctx context.Context, a *model.Attempt) {
	key := openAttemptKey(a.ExamID, a.StudentID)
	rec, err := s.kv.Get(ctx, key)
	if err != nil || string(rec.Value) != a.ID {
		return
	}
	if err := s.kv.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		slog.Warn("failed to release open-attempt index", "attempt_id", a.ID, "error", err)
	}
}

// OpenAttempt returns the student's in-progress attempt for an exam, or
// ErrNotFound.
func (s *Store) OpenAttempt(ctx context.Context, examID, studentID string) (*model.Attempt, error) {
	rec, err := s.kv.Get(ctx, openAttemptKey(examID, studentID))
	if err != nil {
		return nil, err
	}
	a, err := s.GetAttempt(ctx, string(rec.Value))
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return nil, ErrNotFound
	}
	return a, nil
}

// ListAttempts returns attempts matching the filter, most recent first.
func (s *Store) ListAttempts(ctx context.Context, f AttemptFilter) ([]model.Attempt, error) {
	records, err := s.kv.Scan(ctx, prefixAttempt)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	var attempts []model.Attempt
	for _, rec := range records {
		var a model.Attempt
		if err := json.Unmarshal(rec.Value, &a); err != nil {
			return nil, fmt.Errorf("decode %s: %w", rec.Key, err)
		}
		if !f.match(a) {
			continue
		}
		a.Version = rec.Version
		attempts = append(attempts, a)
	}
	sort.SliceStable(attempts, func(i, j int) bool {
		if !attempts[i].StartTime.Equal(attempts[j].StartTime) {
			return attempts[i].StartTime.After(attempts[j].StartTime)
		}
		return attempts[i].ID < attempts[j].ID
	})
	return attempts, nil
}
