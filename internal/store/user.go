package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/pavelanni/examportal/internal/apperr"
	"github.com/pavelanni/examportal/internal/model"
)

// ErrEmailTaken is returned when another user already owns the email.
var ErrEmailTaken = apperr.Conflict("email already registered")

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser inserts a new user, assigning an ID when empty.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	u.Email = NormalizeEmail(u.Email)
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Status == "" {
		u.Status = model.UserActive
	}
	now := s.now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now

	if err := s.claimEmail(ctx, u.Email, u.ID); err != nil {
		return err
	}
	if _, err := putJSON(ctx, s.kv, prefixUser+u.ID, u, MustNotExist); err != nil {
		_ = s.kv.Delete(ctx, prefixEmailIndex+u.Email)
		slog.Error("failed to create user", "email", u.Email, "error", err)
		return fmt.Errorf("create user: %w", err)
	}
	slog.Info("created user", "id", u.ID, "email", u.Email, "role", u.Role)
	return nil
}

func (s *Store) claimEmail(ctx context.Context, email, userID string) error {
	_, err := s.kv.Put(ctx, prefixEmailIndex+email, []byte(userID), MustNotExist)
	if errors.Is(err, ErrConflict) {
		return ErrEmailTaken
	}
	return err
}

// GetUser returns a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, _, err := getJSON[model.User](ctx, s.kv, prefixUser+id)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return &u, nil
}

// GetUserByEmail returns a user by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	rec, err := s.kv.Get(ctx, prefixEmailIndex+NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return s.GetUser(ctx, string(rec.Value))
}

// UpdateUser overwrites a user, moving the email index when it changed.
func (s *Store) UpdateUser(ctx context.Context, u *model.User) error {
	old, err := s.GetUser(ctx, u.ID)
	if err != nil {
		return err
	}
	u.Email = NormalizeEmail(u.Email)
	if u.Email != old.Email {
		if err := s.claimEmail(ctx, u.Email, u.ID); err != nil {
			return err
		}
		if err := s.kv.Delete(ctx, prefixEmailIndex+old.Email); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("release email: %w", err)
		}
	}
	u.CreatedAt = old.CreatedAt
	u.UpdatedAt = s.now().UTC()
	if _, err := putJSON(ctx, s.kv, prefixUser+u.ID, u, AnyVersion); err != nil {
		return fmt.Errorf("update user %s: %w", u.ID, err)
	}
	return nil
}

// SetUserStatus activates or deactivates a user. Users are never hard-deleted.
func (s *Store) SetUserStatus(ctx context.Context, id string, status model.UserStatus) error {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}
	u.Status = status
	if err := s.UpdateUser(ctx, u); err != nil {
		return err
	}
	slog.Info("changed user status", "id", id, "status", status)
	return nil
}

// ListUsers returns users ordered by creation time. An empty role matches all.
func (s *Store) ListUsers(ctx context.Context, role model.UserRole) ([]model.User, error) {
	all, err := scanJSON[model.User](ctx, s.kv, prefixUser)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	users := all[:0]
	for _, u := range all {
		if role == "" || u.Role == role {
			users = append(users, u)
		}
	}
	sort.SliceStable(users, func(i, j int) bool {
		if !users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].CreatedAt.Before(users[j].CreatedAt)
		}
		return users[i].ID < users[j].ID
	})
	return users, nil
}

// UserCount returns the number of users with the given role, or all users.
func (s *Store) UserCount(ctx context.Context, role model.UserRole) (int, error) {
	users, err := s.ListUsers(ctx, role)
	return len(users), err
}
