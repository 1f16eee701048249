package identity

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pavelanni/examportal/internal/apperr"
	"github.com/pavelanni/examportal/internal/model"
	"github.com/pavelanni/examportal/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func tokenModes(t *testing.T, s *store.Store) map[string]Tokens {
	t.Helper()
	jwtTokens, err := NewJWTTokens(s, strings.Repeat("k", 32), time.Hour)
	require.NoError(t, err)
	return map[string]Tokens{
		"opaque": NewOpaqueTokens(s),
		"jwt":    jwtTokens,
	}
}

func TestSignUpSignInSignOut(t *testing.T) {
	for _, mode := range []string{"opaque", "jwt"} {
		t.Run(mode, func(t *testing.T) {
			s := newTestStore(t)
			svc := NewService(s, tokenModes(t, s)[mode])
			ctx := context.Background()

			u, err := svc.SignUp(ctx, SignUpInput{Email: "Kim@Example.com", Password: "correct horse", DisplayName: "Kim"})
			require.NoError(t, err)
			require.Equal(t, model.UserRoleStudent, u.Role)
			require.NotEqual(t, "correct horse", u.PasswordHash)

			_, err = svc.SignUp(ctx, SignUpInput{Email: "kim@example.com", Password: "x"})
			require.Equal(t, apperr.KindConflict, apperr.KindOf(err))

			_, err = svc.SignIn(ctx, "kim@example.com", "wrong")
			require.ErrorIs(t, err, ErrBadCredentials)
			_, err = svc.SignIn(ctx, "nobody@example.com", "correct horse")
			require.ErrorIs(t, err, ErrBadCredentials)

			sess, err := svc.SignIn(ctx, "KIM@example.com", "correct horse")
			require.NoError(t, err)
			require.NotEmpty(t, sess.Token)

			got, err := svc.GetSession(ctx, sess.Token)
			require.NoError(t, err)
			require.NotNil(t, got)
			require.Equal(t, u.ID, got.ID)

			require.NoError(t, svc.SignOut(ctx, sess.Token))
			got, err = svc.GetSession(ctx, sess.Token)
			require.NoError(t, err)
			require.Nil(t, got)
		})
	}
}

func TestInactiveUserCannotSignIn(t *testing.T) {
	s := newTestStore(t)
	svc := NewService(s, nil)
	ctx := context.Background()

	u, err := svc.SignUp(ctx, SignUpInput{Email: "lee@example.com", Password: "secret-pass"})
	require.NoError(t, err)
	sess, err := svc.SignIn(ctx, "lee@example.com", "secret-pass")
	require.NoError(t, err)

	require.NoError(t, s.SetUserStatus(ctx, u.ID, model.UserInactive))
	_, err = svc.SignIn(ctx, "lee@example.com", "secret-pass")
	require.ErrorIs(t, err, ErrBadCredentials)

	// Existing tokens stop working too.
	got, err := svc.GetSession(ctx, sess.Token)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestGetSessionGarbage(t *testing.T) {
	s := newTestStore(t)
	for name, tokens := range tokenModes(t, s) {
		t.Run(name, func(t *testing.T) {
			svc := NewService(s, tokens)
			for _, tok := range []string{"", "nope", "a.b.c"} {
				u, err := svc.GetSession(context.Background(), tok)
				require.NoError(t, err)
				require.Nil(t, u)
			}
		})
	}
}

func TestJWTExpiry(t *testing.T) {
	s := newTestStore(t)
	j, err := NewJWTTokens(s, strings.Repeat("s", 40), time.Minute)
	require.NoError(t, err)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return now }

	tok, exp, err := j.Issue(context.Background(), &model.User{ID: "u1"})
	require.NoError(t, err)
	require.Equal(t, now.Add(time.Minute), exp)

	id, err := j.Resolve(context.Background(), tok)
	require.NoError(t, err)
	require.Equal(t, "u1", id)

	now = now.Add(2 * time.Minute)
	id, err = j.Resolve(context.Background(), tok)
	require.NoError(t, err)
	require.Empty(t, id)
}

func TestJWTSecretLength(t *testing.T) {
	_, err := NewJWTTokens(nil, "short", 0)
	require.Error(t, err)
}

func TestEnsureAdmin(t *testing.T) {
	s := newTestStore(t)
	svc := NewService(s, nil)
	ctx := context.Background()

	require.NoError(t, svc.EnsureAdmin(ctx, "admin@example.com", "admin-pass"))
	require.NoError(t, svc.EnsureAdmin(ctx, "admin@example.com", "other"))

	admins, err := s.ListUsers(ctx, model.UserRoleAdmin)
	require.NoError(t, err)
	require.Len(t, admins, 1)

	_, err = svc.SignIn(ctx, "admin@example.com", "admin-pass")
	require.NoError(t, err)
}
