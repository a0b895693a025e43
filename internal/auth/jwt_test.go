package auth

import (
	"errors"
	"testing"
	"time"

	"mcp-hub/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

func sign(t *testing.T, secret string, c Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func claimsAt(now time.Time, ttl time.Duration) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "issuer",
			Audience:  jwt.ClaimStrings{"aud"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: "user-1",
		Name:   "Ana",
		Role:   "agent",
	}
}

func TestAuthenticate_ValidToken(t *testing.T) {
	m, err := NewManager(config.AuthConfig{JWTSecret: "secret", JWTIssuer: "issuer", JWTAudience: "aud"})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	now := time.Unix(1700000000, 0).UTC()
	tok := sign(t, "secret", claimsAt(now, 15*time.Minute))

	id, err := m.Authenticate(tok, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if id.UserID != "user-1" || id.Name != "Ana" || id.Role != "agent" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestAuthenticate_Rejects(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret", JWTIssuer: "issuer"})
	now := time.Unix(1700000000, 0).UTC()

	noUser := claimsAt(now, time.Minute)
	noUser.UserID = ""
	noExp := claimsAt(now, time.Minute)
	noExp.ExpiresAt = nil
	wrongIss := claimsAt(now, time.Minute)
	wrongIss.Issuer = "other"

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"wrong secret": sign(t, "other", claimsAt(now, time.Minute)),
		"expired":      sign(t, "secret", claimsAt(now.Add(-time.Hour), time.Minute)),
		"missing user": sign(t, "secret", noUser),
		"missing exp":  sign(t, "secret", noExp),
		"wrong issuer": sign(t, "secret", wrongIss),
	}
	for name, tok := range cases {
		if _, err := m.Authenticate(tok, now); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("%s: expected ErrUnauthorized, got %v", name, err)
		}
	}
}

func TestAuthenticate_RejectsOtherAlgorithms(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret"})
	now := time.Now()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claimsAt(now, time.Minute)).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Authenticate(tok, now); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected HS512 to be rejected, got %v", err)
	}
}

func TestNewManager_RequiresSecret(t *testing.T) {
	if _, err := NewManager(config.AuthConfig{}); err == nil {
		t.Fatalf("expected error without secret")
	}
}

func TestAuthenticate_Audience(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret", JWTAudience: "hub"})
	now := time.Unix(1700000000, 0).UTC()

	other := claimsAt(now, time.Minute)
	if _, err := m.Authenticate(sign(t, "secret", other), now); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected foreign audience rejected, got %v", err)
	}

	ours := claimsAt(now, time.Minute)
	ours.Audience = jwt.ClaimStrings{"hub"}
	ours.Issuer = ""
	if _, err := m.Authenticate(sign(t, "secret", ours), now); err != nil {
		t.Fatalf("expected token for hub accepted without issuer check, got %v", err)
	}
}
