package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mcp-hub/internal/config"

	"github.com/gin-gonic/gin"
)

func TestExtractToken_Order(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=q", nil)
	if got := ExtractToken(r); got != "q" {
		t.Fatalf("expected query token, got %q", got)
	}
	r.Header.Set("X-API-Key", "k")
	if got := ExtractToken(r); got != "k" {
		t.Fatalf("expected api key, got %q", got)
	}
	r.Header.Set("Authorization", "Bearer b")
	if got := ExtractToken(r); got != "b" {
		t.Fatalf("expected bearer, got %q", got)
	}
}

func TestRequireToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret"})

	r := gin.New()
	r.GET("/x", RequireToken(m), func(c *gin.Context) {
		id, err := IdentityFrom(c.Request.Context())
		if err != nil {
			c.Status(500)
			return
		}
		c.String(200, id.UserID)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != 401 {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	tok := sign(t, "secret", claimsAt(time.Now(), time.Minute))
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != 200 || w.Body.String() != "user-1" {
		t.Fatalf("expected 200 user-1, got %d %q", w.Code, w.Body.String())
	}
}
