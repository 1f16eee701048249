package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/examportal/internal/model"
)

// AuthSessionTTL is how long an opaque sign-in token stays valid.
const AuthSessionTTL = 24 * time.Hour

// CreateAuthSession creates a new auth session token for a user.
func (s *Store) CreateAuthSession(ctx context.Context, userID string) (*model.AuthSession, error) {
	token, err := generateToken()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	sess := &model.AuthSession{
		Token:     token,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(AuthSessionTTL),
	}
	if _, err := putJSON(ctx, s.kv, prefixAuth+token, sess, MustNotExist); err != nil {
		return nil, fmt.Errorf("create auth session: %w", err)
	}
	return sess, nil
}

// GetAuthSession returns the auth session for the given token, or nil if not found/expired.
func (s *Store) GetAuthSession(ctx context.Context, token string) (*model.AuthSession, error) {
	sess, _, err := getJSON[model.AuthSession](ctx, s.kv, prefixAuth+token)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if s.now().After(sess.ExpiresAt) {
		_ = s.DeleteAuthSession(ctx, token)
		return nil, nil
	}
	return &sess, nil
}

// DeleteAuthSession removes a session token. Unknown tokens are ignored.
func (s *Store) DeleteAuthSession(ctx context.Context, token string) error {
	err := s.kv.Delete(ctx, prefixAuth+token)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

type revokedToken struct {
	ExpiresAt time.Time `json:"expires_at"`
}

// RevokeToken marks a signed token ID as revoked until it would expire anyway.
func (s *Store) RevokeToken(ctx context.Context, id string, expiresAt time.Time) error {
	_, err := putJSON(ctx, s.kv, prefixRevoked+id, revokedToken{ExpiresAt: expiresAt}, AnyVersion)
	return err
}

// TokenRevoked reports whether a signed token ID was revoked.
func (s *Store) TokenRevoked(ctx context.Context, id string) (bool, error) {
	_, err := s.kv.Get(ctx, prefixRevoked+id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// CleanupExpiredSessions removes expired auth sessions and revocation markers
// and returns how many records were deleted.
func (s *Store) CleanupExpiredSessions(ctx context.Context) (int, error) {
	now := s.now()
	removed := 0
	for _, prefix := range []string{prefixAuth, prefixRevoked} {
		records, err := s.kv.Scan(ctx, prefix)
		if err != nil {
			return removed, err
		}
		for _, rec := range records {
			var exp struct {
				ExpiresAt time.Time `json:"expires_at"`
			}
			if err := json.Unmarshal(rec.Value, &exp); err != nil || !now.After(exp.ExpiresAt) {
				continue
			}
			if err := s.kv.Delete(ctx, rec.Key); err != nil && !errors.Is(err, ErrNotFound) {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
