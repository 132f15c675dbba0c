// Package auth turns HS256 bearer tokens into an explicit Credential that
// handlers pass to every service call.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/shiva/rentwheels/internal/model"
)

// ErrUnauthorized is returned for a missing, malformed or expired token.
var ErrUnauthorized = errors.New("unauthorized")

// Credential identifies the caller of a service operation.
type Credential struct {
	UserID int64          `json:"user_id"`
	Role   model.UserRole `json:"role"`
}

// IsZero reports whether no caller was authenticated.
func (c Credential) IsZero() bool {
	return c.UserID == 0
}

// IsAdmin reports whether the caller may act on any booking.
func (c Credential) IsAdmin() bool {
	return c.Role == model.RoleAdmin
}

// Claims is the JWT payload. The subject carries the user id.
type Claims struct {
	Role model.UserRole `json:"role"`
	jwt.RegisteredClaims
}

// Manager signs and parses tokens with a shared secret.
type Manager struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewManager returns a token manager. An empty secret is rejected.
func NewManager(secret, issuer string, ttl time.Duration) (*Manager, error) {
	if secret == "" {
		return nil, errors.New("auth: jwt secret is empty")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{secret: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// Sign issues a token for cred.
func (m *Manager) Sign(cred Credential, now time.Time) (string, error) {
	claims := &Claims{
		Role: cred.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(cred.UserID, 10),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign: %w", err)
	}
	return s, nil
}

// Parse validates the token signature, expiry and issuer and returns the
// credential it carries.
func (m *Manager) Parse(token string) (Credential, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return Credential{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return Credential{}, fmt.Errorf("%w: bad subject %q", ErrUnauthorized, claims.Subject)
	}
	switch claims.Role {
	case model.RoleGuest, model.RoleHost, model.RoleAdmin:
	default:
		return Credential{}, fmt.Errorf("%w: unknown role %q", ErrUnauthorized, claims.Role)
	}
	return Credential{UserID: id, Role: claims.Role}, nil
}

type ctxKey struct{}

// WithCredential stores cred on ctx. Only the HTTP middleware does this;
// services receive the credential as an argument.
func WithCredential(ctx context.Context, cred Credential) context.Context {
	return context.WithValue(ctx, ctxKey{}, cred)
}

// FromContext returns the credential stored by WithCredential.
func FromContext(ctx context.Context) (Credential, bool) {
	cred, ok := ctx.Value(ctxKey{}).(Credential)
	return cred, ok && !cred.IsZero()
}
