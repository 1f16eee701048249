package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pavelanni/examportal/internal/model"
	"github.com/pavelanni/examportal/internal/store"
)

// OpaqueTokens stores random tokens as auth sessions in the record store.
type OpaqueTokens struct {
	store *store.Store
}

func NewOpaqueTokens(s *store.Store) *OpaqueTokens {
	return &OpaqueTokens{store: s}
}

func (o *OpaqueTokens) Issue(ctx context.Context, u *model.User) (string, time.Time, error) {
	sess, err := o.store.CreateAuthSession(ctx, u.ID)
	if err != nil {
		return "", time.Time{}, err
	}
	return sess.Token, sess.ExpiresAt, nil
}

func (o *OpaqueTokens) Resolve(ctx context.Context, token string) (string, error) {
	sess, err := o.store.GetAuthSession(ctx, token)
	if err != nil || sess == nil {
		return "", err
	}
	return sess.UserID, nil
}

func (o *OpaqueTokens) Revoke(ctx context.Context, token string) error {
	return o.store.DeleteAuthSession(ctx, token)
}

// JWTTokens issues HS256 tokens. Sign-out records the token ID in the store
// until the token would have expired.
type JWTTokens struct {
	store  *store.Store
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewJWTTokens creates a signer. A zero ttl uses store.AuthSessionTTL.
func NewJWTTokens(s *store.Store, secret string, ttl time.Duration) (*JWTTokens, error) {
	if len(secret) < 32 {
		return nil, errors.New("jwt secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		ttl = store.AuthSessionTTL
	}
	return &JWTTokens{store: s, secret: []byte(secret), ttl: ttl, issuer: "examportal", now: time.Now}, nil
}

func (j *JWTTokens) Issue(_ context.Context, u *model.User) (string, time.Time, error) {
	now := j.now()
	exp := now.Add(j.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    j.issuer,
		Subject:   u.ID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, exp, nil
}

func (j *JWTTokens) parse(token string) (*jwt.RegisteredClaims, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(j.issuer),
		jwt.WithTimeFunc(j.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	return &claims, nil
}

func (j *JWTTokens) Resolve(ctx context.Context, token string) (string, error) {
	claims, err := j.parse(token)
	if err != nil {
		return "", nil
	}
	revoked, err := j.store.TokenRevoked(ctx, claims.ID)
	if err != nil {
		return "", err
	}
	if revoked {
		return "", nil
	}
	return claims.Subject, nil
}

func (j *JWTTokens) Revoke(ctx context.Context, token string) error {
	claims, err := j.parse(token)
	if err != nil {
		// Invalid or expired tokens need no revocation.
		return nil
	}
	return j.store.RevokeToken(ctx, claims.ID, claims.ExpiresAt.Time)
}
