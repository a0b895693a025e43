package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"mcp-hub/internal/audit"
	"mcp-hub/internal/auth"
	"mcp-hub/internal/calls"
	"mcp-hub/internal/clients"
	"mcp-hub/internal/registry"
	"mcp-hub/internal/reporting"
	"mcp-hub/pkg/logger"
)

// CallSnapshotter exposes per-user engine state. *hub.Hub satisfies it.
type CallSnapshotter interface {
	CallSnapshot(userID string) calls.Snapshot
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Registry *registry.Registry
	Calls    CallSnapshotter
	Audit    *audit.Service
	Reports  *reporting.Service
	Clients  *clients.Directory
}

// Healthz reports liveness and the local connection count.
func (h Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": h.Registry.Count()})
}

// GetMyCall returns the caller's call engine snapshot.
func (h Handlers) GetMyCall(c *gin.Context) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, h.Calls.CallSnapshot(uid))
}

// GetMyCallSummary aggregates the caller's call history.
// Optional query: from, to (RFC3339).
func (h Handlers) GetMyCallSummary(c *gin.Context) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var rng reporting.TimeRange
	for key, dst := range map[string]*time.Time{"from": &rng.From, "to": &rng.To} {
		v := c.Query(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + key})
			return
		}
		*dst = t
	}

	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{UserID: uid, Range: rng})
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("calls summary failed", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// GetUserCall returns any user's snapshot. RBAC: supervisor or admin.
func (h Handlers) GetUserCall(c *gin.Context) {
	c.JSON(http.StatusOK, h.Calls.CallSnapshot(c.Param("userId")))
}

// ListSessions returns online sessions. RBAC: supervisor or admin.
func (h Handlers) ListSessions(c *gin.Context) {
	s := h.Registry.Sessions()
	c.JSON(http.StatusOK, gin.H{"sessions": s, "count": len(s)})
}

type broadcastRequest struct {
	Capability string          `json:"capability"`
	Event      string          `json:"event"`
	Payload    json.RawMessage `json:"payload"`
}

// Broadcast fans an event out to sessions declaring a capability, or to all
// sessions when none is given. RBAC: admin.
func (h Handlers) Broadcast(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req.Event = strings.TrimSpace(req.Event)
	if req.Event == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "event required"})
		return
	}
	// Reserved names belong to the hub's own protocol.
	if req.Event == "mcp:connected" || req.Event == "mcp:disconnect" || req.Event == "mcp:error" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "reserved event name"})
		return
	}

	var payload any = req.Payload
	if len(req.Payload) == 0 {
		payload = gin.H{}
	}

	var delivered int
	if req.Capability == "" {
		delivered = h.Registry.Broadcast(req.Event, payload)
	} else {
		delivered = h.Registry.BroadcastToCapability(req.Capability, req.Event, payload)
	}

	h.audit(c, audit.EventBroadcast, "", "broadcast "+req.Event, req.Capability)
	c.JSON(http.StatusOK, gin.H{"delivered": delivered})
}

// EvictSession closes a user's session with reason logout. RBAC: admin.
func (h Handlers) EvictSession(c *gin.Context) {
	uid := c.Param("userId")
	if !h.Registry.Evict(uid, registry.ReasonLogout) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	h.audit(c, audit.EventSessionEvicted, uid, "session evicted", "")
	c.Status(http.StatusNoContent)
}

// ClientConnected is broadcast to every session when a client registers.
type ClientConnected struct {
	ClientID   string   `json:"clientId"`
	ClientName string   `json:"clientName"`
	ClientType string   `json:"clientType"`
	Features   []string `json:"features"`
}

// RegisterClient upserts an integration client and announces it. RBAC: system or admin.
func (h Handlers) RegisterClient(c *gin.Context) {
	var req clients.Registration
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid json"})
		return
	}
	req.OwnerID, _ = auth.UserID(c.Request.Context())
	cl, err := h.Clients.Register(c.Request.Context(), req)
	if errors.Is(err, clients.ErrInvalidRegistration) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "Missing required fields"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("client registration failed", "client_id", req.ClientID, "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to register client"})
		return
	}

	s := cl.Summary()
	h.Registry.Broadcast("mcp:client:connected", ClientConnected{
		ClientID:   s.ID,
		ClientName: s.Name,
		ClientType: s.Type,
		Features:   s.Features,
	})
	logger.FromGin(c).Info("client registered", "client_id", cl.ID, "client_type", cl.Type)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Client registered successfully"})
}

func (h Handlers) audit(c *gin.Context, typ audit.EventType, target, msg, capability string) {
	if h.Audit == nil {
		return
	}
	var meta string
	if capability != "" {
		b, _ := json.Marshal(gin.H{"capability": capability})
		meta = string(b)
	}
	ctx := audit.WithClientIP(c.Request.Context(), c.ClientIP())
	if err := h.Audit.LogAdminAction(ctx, typ, target, msg, meta); err != nil {
		logger.FromGin(c).Warn("audit append failed", "type", typ, "error", err)
	}
}
