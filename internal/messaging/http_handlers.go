package messaging

import (
	"io"
	"net/http"
	"time"

	"mcp-hub/pkg/logger"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 20

// Handler exposes provider webhooks over HTTP and hands messages to Sink.
type Handler struct {
	Sink        InboundSink
	VerifyToken string

	Now func() time.Time
}

func (h Handler) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now()
}

// HandleOfficial serves /webhook/whatsapp. A subscribe request (GET or POST)
// is answered with the challenge when the verify token matches.
func (h Handler) HandleOfficial(c *gin.Context) {
	log := logger.FromGin(c)

	if c.Query("hub.mode") == "subscribe" && c.Query("hub.challenge") != "" {
		if h.VerifyToken == "" || c.Query("hub.verify_token") != h.VerifyToken {
			c.Status(http.StatusForbidden)
			return
		}
		log.Info("whatsapp webhook verified")
		c.String(http.StatusOK, c.Query("hub.challenge"))
		return
	}
	if c.Request.Method != http.MethodPost {
		c.Status(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	msgs, err := ParseOfficialWebhook(body, h.now())
	if err != nil {
		log.Warn("whatsapp webhook parse failed", "err", err)
		c.Status(http.StatusBadRequest)
		return
	}
	for _, m := range msgs {
		if err := h.Sink.HandleInboundMessage(c.Request.Context(), m); err != nil {
			log.Error("whatsapp message failed", "external_id", m.ExternalID, "err", err)
			c.Status(http.StatusInternalServerError)
			return
		}
	}
	c.Status(http.StatusOK)
}

// HandleEvolution serves POST /webhook/evolution.
func (h Handler) HandleEvolution(c *gin.Context) {
	log := logger.FromGin(c)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	m, ok, err := ParseEvolutionWebhook(body, h.now())
	if err != nil {
		log.Warn("evolution webhook parse failed", "err", err)
		c.Status(http.StatusBadRequest)
		return
	}
	if !ok {
		c.Status(http.StatusOK)
		return
	}
	if err := h.Sink.HandleInboundMessage(c.Request.Context(), m); err != nil {
		log.Error("evolution message failed", "external_id", m.ExternalID, "err", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Status(http.StatusOK)
}
