package auth

import (
	"errors"
	"fmt"
	"time"

	"mcp-hub/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned for every credential that cannot be turned into an Identity.
var ErrUnauthorized = errors.New("auth: unauthorized")

type Manager struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
}

func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	return &Manager{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.JWTIssuer,
		audience: cfg.JWTAudience,
		leeway:   30 * time.Second,
	}, nil
}

// Authenticate verifies a signed token and returns the identity it carries.
// Any failure is reported as ErrUnauthorized with the cause wrapped in the message.
func (m *Manager) Authenticate(tokenString string, now time.Time) (Identity, error) {
	if tokenString == "" {
		return Identity{}, fmt.Errorf("%w: token missing", ErrUnauthorized)
	}
	claims, err := m.verify(tokenString, now)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return claims.Identity(), nil
}

func (m *Manager) verify(tokenString string, now time.Time) (Claims, error) {
	var claims Claims

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(m.leeway), // clock skew tolerance
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	_, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return Claims{}, err
	}

	if claims.UserID == "" {
		return Claims{}, errors.New("user_id missing")
	}
	return claims, nil
}
