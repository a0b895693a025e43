package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const apiKeyHeader = "X-API-Key"
const bearerPrefix = "Bearer "

// ExtractToken reads a credential from the Authorization bearer header, the
// X-API-Key header, or the token query parameter, in that order. Browsers
// cannot set headers on websocket upgrades, hence the query fallback.
func ExtractToken(r *http.Request) string {
	if raw := strings.TrimSpace(r.Header.Get(authorizationHeader)); strings.HasPrefix(raw, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(raw, bearerPrefix))
	}
	if k := strings.TrimSpace(r.Header.Get(apiKeyHeader)); k != "" {
		return k
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// RequireToken verifies the caller's token and injects identity into request context.
// It does not perform RBAC checks; those belong to internal/rbac.
func RequireToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := ExtractToken(c.Request)
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		id, err := m.Authenticate(tok, time.Now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))

		// Also store on gin context for handler convenience.
		c.Set("user_id", id.UserID)
		c.Set("role", id.Role)

		c.Next()
	}
}
