package main

import (
	"net/http"

	"mcp-hub/internal/audit"
	"mcp-hub/internal/auth"
	"mcp-hub/internal/clients"
	"mcp-hub/internal/config"
	"mcp-hub/internal/httpapi"
	"mcp-hub/internal/hub"
	"mcp-hub/internal/messaging"
	"mcp-hub/internal/rbac"
	"mcp-hub/internal/reporting"
	"mcp-hub/internal/telephony"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	auth      *auth.Manager
	hub       *hub.Hub
	transport *hub.Transport
	audit     *audit.Service
	clients   *clients.Directory
	metrics   http.Handler
	cfg       config.Config
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	api := httpapi.Handlers{
		Registry: d.hub.Registry(),
		Calls:    d.hub,
		Audit:    d.audit,
		Reports:  reporting.NewService(d.hub),
		Clients:  d.clients,
	}

	// public
	r.GET("/healthz", api.Healthz)
	r.GET("/metrics", gin.WrapH(d.metrics))

	// Session transport. Authenticates from the query token or Authorization header.
	r.GET("/ws", d.transport.Handle)

	// Provider webhooks (public).
	// NOTE: Twilio requests should be signature-validated in production.
	tel := telephony.Handler{Sink: d.hub, SIPDomain: d.cfg.Calls.SIPDomain}
	r.POST("/webhooks/twilio/voice", tel.HandleTwilioVoice)
	r.POST("/webhooks/twilio/status", tel.HandleTwilioStatus)

	wa := messaging.Handler{Sink: d.hub, VerifyToken: d.cfg.WhatsApp.VerifyToken}
	r.GET("/webhook/whatsapp", wa.HandleOfficial)
	r.POST("/webhook/whatsapp", wa.HandleOfficial)
	r.POST("/webhook/evolution", wa.HandleEvolution)

	// SIP gateway callbacks come from a service account.
	r.POST("/sip/event",
		auth.RequireToken(d.auth),
		rbac.RequireAnyRole(rbac.RoleSystem),
		tel.HandleSIPEvent,
	)

	// Integration clients register with a service account token.
	r.POST("/api/clients/register",
		auth.RequireToken(d.auth),
		rbac.RequireAnyRole(rbac.RoleSystem, rbac.RoleAdmin),
		api.RegisterClient,
	)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireToken(d.auth))
	{
		v1.GET("/me/call", api.GetMyCall)
		v1.GET("/me/calls/summary", api.GetMyCallSummary)

		ops := v1.Group("")
		ops.Use(rbac.RequireAnyRole(rbac.RoleSupervisor, rbac.RoleAdmin))
		{
			ops.GET("/sessions", api.ListSessions)
			ops.GET("/calls/:userId", api.GetUserCall)
		}

		// ADMIN routes
		admin := v1.Group("")
		admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
		{
			admin.POST("/broadcast", api.Broadcast)
			admin.DELETE("/sessions/:userId", api.EvictSession)
		}
	}
}
