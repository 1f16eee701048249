// Package identity signs users up and in and resolves bearer tokens.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/examportal/internal/apperr"
	"github.com/pavelanni/examportal/internal/model"
	"github.com/pavelanni/examportal/internal/store"
)

// ErrBadCredentials hides whether the email or the password was wrong.
var ErrBadCredentials = apperr.Unauthenticated("invalid email or password")

// Tokens issues and resolves session tokens.
type Tokens interface {
	Issue(ctx context.Context, u *model.User) (token string, expiresAt time.Time, err error)
	// Resolve returns the user ID for a valid token, or "" when the token is
	// unknown, expired or revoked.
	Resolve(ctx context.Context, token string) (string, error)
	Revoke(ctx context.Context, token string) error
}

// Service implements sign-up, sign-in, sign-out and session lookup.
type Service struct {
	store  *store.Store
	tokens Tokens
}

// NewService creates a Service. A nil tokens uses opaque store-backed tokens.
func NewService(s *store.Store, tokens Tokens) *Service {
	if tokens == nil {
		tokens = NewOpaqueTokens(s)
	}
	return &Service{store: s, tokens: tokens}
}

// SignUpInput is the data needed to create an account.
type SignUpInput struct {
	Email         string
	Password      string
	DisplayName   string
	Role          model.UserRole
	ClassGroup    string
	StudentNumber string
	Course        string
	Year          string
}

// Session is a signed-in user with their token.
type Session struct {
	User      *model.User
	Token     string
	ExpiresAt time.Time
}

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// SignUp creates an active account. Duplicate emails fail with a conflict.
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (*model.User, error) {
	if in.Role == "" {
		in.Role = model.UserRoleStudent
	}
	if !in.Role.Valid() {
		return nil, apperr.ValidationFields("invalid role", map[string]string{"role": string(in.Role)})
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	u := &model.User{
		Email:         in.Email,
		DisplayName:   in.DisplayName,
		PasswordHash:  hash,
		Role:          in.Role,
		Status:        model.UserActive,
		ClassGroup:    in.ClassGroup,
		StudentNumber: in.StudentNumber,
		Course:        in.Course,
		Year:          in.Year,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// SignIn checks credentials and issues a token.
func (s *Service) SignIn(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, err
	}
	if !u.Active() {
		return nil, ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrBadCredentials
	}
	token, exp, err := s.tokens.Issue(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	slog.Info("user signed in", "user_id", u.ID, "role", u.Role)
	return &Session{User: u, Token: token, ExpiresAt: exp}, nil
}

// SignOut invalidates the token.
func (s *Service) SignOut(ctx context.Context, token string) error {
	return s.tokens.Revoke(ctx, token)
}

// GetSession returns the user behind a token, or nil when the token is not
// valid or the account is inactive.
func (s *Service) GetSession(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, nil
	}
	userID, err := s.tokens.Resolve(ctx, token)
	if err != nil || userID == "" {
		return nil, err
	}
	u, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !u.Active() {
		return nil, nil
	}
	return u, nil
}

// EnsureAdmin creates an admin account unless the email is already taken.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) error {
	_, err := s.store.GetUserByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	u, err := s.SignUp(ctx, SignUpInput{Email: email, Password: password, DisplayName: "Administrator", Role: model.UserRoleAdmin})
	if err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	slog.Info("created admin user", "email", u.Email)
	return nil
}
