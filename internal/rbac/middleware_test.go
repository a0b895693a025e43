package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"mcp-hub/internal/auth"

	"github.com/gin-gonic/gin"
)

func serveAs(role string, allowed ...string) int {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), auth.Identity{UserID: "u", Role: role})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}, RequireAnyRole(allowed...), func(c *gin.Context) {
		c.Status(200)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequireAnyRole_AdminBypasses(t *testing.T) {
	if code := serveAs(RoleAdmin, RoleSupervisor); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_ServiceRoleDeniedUnlessAllowed(t *testing.T) {
	if code := serveAs(RoleSystem, RoleSupervisor); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
	if code := serveAs(RoleSystem, RoleSystem); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_MissingRole(t *testing.T) {
	if code := serveAs("", RoleAgent); code != 401 {
		t.Fatalf("expected 401, got %d", code)
	}
}
