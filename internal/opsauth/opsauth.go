// Package opsauth issues and checks the bearer tokens that guard the operator
// HTTP API.
package opsauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/ovaphlow/pitchfork/service-lounge/pkg/utilities"
)

var ErrInvalidToken = errors.New("invalid token")

// DefaultIssuer is the iss claim on every token.
const DefaultIssuer = "lounge-ops"

// Issuer signs tokens with a shared HS256 secret.
type Issuer struct {
	secret []byte
	issuer string
	clock  clockwork.Clock
}

func NewIssuer(secret []byte, clock clockwork.Clock) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("opsauth: empty secret")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Issuer{secret: secret, issuer: DefaultIssuer, clock: clock}, nil
}

// Issue returns a signed token for subject valid for ttl.
func (s *Issuer) Issue(subject string, ttl time.Duration) (string, error) {
	now := s.clock.Now()
	claims := jwt.RegisteredClaims{
		ID:        utilities.NewKSUID(),
		Issuer:    s.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer and expiry and returns the claims.
func (s *Issuer) Verify(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

type ctxKey struct{}

// Subject returns the token subject stored by Middleware.
func Subject(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(ctxKey{}).(string)
	return s, ok
}

// Middleware rejects requests without a valid bearer token.
func (s *Issuer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if len(auth) < len("bearer ") || !strings.EqualFold(auth[:len("bearer ")], "bearer ") {
			http.Error(w, "missing_token", http.StatusUnauthorized)
			return
		}
		claims, err := s.Verify(strings.TrimSpace(auth[len("bearer "):]))
		if err != nil {
			http.Error(w, "invalid_token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, claims.Subject)))
	})
}
