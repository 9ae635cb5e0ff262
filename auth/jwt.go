// Package auth issues and checks the bearer tokens that carry a caller's
// identity (user id, role and tenant) into the HTTP layer.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/incentive-engine/compensation"
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrMissingToken = errors.New("authorization token required")
)

// Manager handles token generation and validation.
type Manager struct {
	secretKey     []byte
	tokenDuration time.Duration
	now           func() time.Time
}

// Claims are the custom claims of a caller token. The subject is the
// caller's user id.
type Claims struct {
	Role     string `json:"role"`
	TenantID string `json:"tenant_id,omitempty"`
	jwt.RegisteredClaims
}

// NewManager creates a manager signing with HS256 under secretKey.
func NewManager(secretKey string, tokenDuration time.Duration) *Manager {
	return &Manager{
		secretKey:     []byte(secretKey),
		tokenDuration: tokenDuration,
		now:           time.Now,
	}
}

// Generate creates a token for the caller.
func (m *Manager) Generate(c compensation.Caller) (string, error) {
	if err := checkCaller(c); err != nil {
		return "", err
	}
	now := m.now()
	claims := &Claims{
		Role:     string(c.Role),
		TenantID: string(c.TenantID),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(c.ID),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// Validate parses a token and returns the caller it identifies.
func (m *Manager) Validate(tokenString string) (compensation.Caller, error) {
	if tokenString == "" {
		return compensation.Caller{}, ErrMissingToken
	}
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return m.secretKey, nil
		},
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return compensation.Caller{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return compensation.Caller{}, ErrInvalidToken
	}
	c := compensation.Caller{
		ID:       compensation.UserID(claims.Subject),
		Role:     compensation.Role(claims.Role),
		TenantID: compensation.TenantID(claims.TenantID),
	}
	if err := checkCaller(c); err != nil {
		return compensation.Caller{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return c, nil
}

func checkCaller(c compensation.Caller) error {
	switch {
	case c.ID == "":
		return errors.New("caller id is required")
	case !c.Role.Valid():
		return fmt.Errorf("unknown role %q", c.Role)
	case c.Role == compensation.RoleLicensee && c.TenantID == "":
		return errors.New("licensee tokens need a tenant")
	}
	return nil
}

// =============================================================================
// CONTEXT
// =============================================================================

type callerKey struct{}

// WithCaller stores the authenticated caller on the context.
func WithCaller(ctx context.Context, c compensation.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the authenticated caller, if any.
func CallerFrom(ctx context.Context) (compensation.Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(compensation.Caller)
	return c, ok
}
