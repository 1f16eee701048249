package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/examportal/internal/model"
)

// CreateSession stores a monitoring session.
func (s *Store) CreateSession(ctx context.Context, sess *model.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := s.now().UTC()
	sess.CreatedAt, sess.UpdatedAt = now, now
	if sess.StartedAt.IsZero() {
		sess.StartedAt = now
	}
	if sess.Status == "" {
		sess.Status = model.SessionInProgress
	}
	if _, err := putJSON(ctx, s.kv, prefixSession+sess.ID, sess, MustNotExist); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession returns a monitoring session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*model.Session, error) {
	sess, _, err := getJSON[model.Session](ctx, s.kv, prefixSession+id)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return &sess, nil
}

// UpdateSession applies fn to the stored session and writes it back with a
// conditional write.
func (s *Store) UpdateSession(ctx context.Context, id string, fn func(*model.Session) error) (*model.Session, error) {
	sess, version, err := getJSON[model.Session](ctx, s.kv, prefixSession+id)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	if err := fn(&sess); err != nil {
		return nil, err
	}
	sess.UpdatedAt = s.now().UTC()
	if _, err := putJSON(ctx, s.kv, prefixSession+id, sess, version); err != nil {
		return nil, fmt.Errorf("update session %s: %w", id, err)
	}
	return &sess, nil
}

// ListSessions returns sessions for an exam (or all when examID is empty),
// newest first.
func (s *Store) ListSessions(ctx context.Context, examID string) ([]model.Session, error) {
	all, err := scanJSON[model.Session](ctx, s.kv, prefixSession)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sessions := all[:0]
	for _, sess := range all {
		if examID == "" || sess.ExamID == examID {
			sessions = append(sessions, sess)
		}
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// ActiveSessions returns sessions still in progress or created within window.
func (s *Store) ActiveSessions(ctx context.Context, window time.Duration) ([]model.Session, error) {
	all, err := s.ListSessions(ctx, "")
	if err != nil {
		return nil, err
	}
	since := s.now().Add(-window)
	active := all[:0]
	for _, sess := range all {
		if sess.Status == model.SessionInProgress || sess.CreatedAt.After(since) {
			active = append(active, sess)
		}
	}
	return active, nil
}
