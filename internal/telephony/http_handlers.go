package telephony

import (
	"errors"
	"net/http"
	"time"

	"mcp-hub/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handler exposes trunk callbacks over HTTP and hands them to Sink.
// No call state decisions are made here.
type Handler struct {
	Sink EventSink

	// SIPDomain is used to dial agents from the Twilio voice webhook.
	SIPDomain string

	Now func() time.Time
}

func (h Handler) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now()
}

// HandleSIPEvent serves POST /sip/event.
func (h Handler) HandleSIPEvent(c *gin.Context) {
	log := logger.FromGin(c)

	ev, err := ParseSIPEvent(c.Request, h.now())
	if errors.Is(err, ErrUnknownEvent) {
		log.Info("unhandled sip event", "type", ev.Type)
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}
	if err != nil {
		log.Warn("sip event parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid event"})
		return
	}

	if _, err := h.Sink.HandleTrunkEvent(c.Request.Context(), ev); err != nil {
		log.Error("sip event failed", "type", ev.Type, "call_id", ev.CallID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to process event"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// HandleTwilioVoice serves the inbound voice webhook and answers with TwiML.
func (h Handler) HandleTwilioVoice(c *gin.Context) {
	log := logger.FromGin(c)

	form, err := ParseTwilioCall(c.Request)
	if err != nil {
		log.Warn("twilio webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	d, err := h.Sink.HandleTrunkEvent(c.Request.Context(), form.ToInboundEvent(h.now()))
	if err != nil {
		log.Error("inbound call failed", "call_sid", form.CallSid, "err", err)
		d = Disposition{}
	}

	twiml, err := RenderInboundTwiML(d, h.SIPDomain)
	if err != nil {
		log.Error("twiml render failed", "err", err)
		twiml, _ = RenderInboundTwiML(Disposition{}, "")
	}

	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

// HandleTwilioStatus serves the status callback. Twilio only needs a 2xx.
func (h Handler) HandleTwilioStatus(c *gin.Context) {
	log := logger.FromGin(c)

	form, err := ParseTwilioCall(c.Request)
	if err != nil {
		log.Warn("twilio status parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	ev, ok := form.ToStatusEvent(h.now())
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	if _, err := h.Sink.HandleTrunkEvent(c.Request.Context(), ev); err != nil {
		log.Warn("twilio status failed", "call_id", ev.CallID, "status", form.CallStatus, "err", err)
	}
	c.Status(http.StatusNoContent)
}
