package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"mcp-hub/internal/auth"
	"mcp-hub/internal/clients"
	"mcp-hub/internal/presence"
	"mcp-hub/internal/registry"
	"mcp-hub/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 << 10
	sendBuffer     = 256
)

var errSlowConsumer = errors.New("hub: send buffer full")

// TransportConfig tunes the websocket endpoint.
type TransportConfig struct {
	AllowedOrigins []string
	EventRate      float64
	EventBurst     int
	// PresenceRefresh is how often a live connection renews its presence key. 0 disables renewal.
	PresenceRefresh time.Duration
}

// Transport upgrades authenticated requests into registry sessions.
type Transport struct {
	hub      *Hub
	auth     *auth.Manager
	presence presence.Tracker
	cfg      TransportConfig
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewTransport(h *Hub, m *auth.Manager, p presence.Tracker, cfg TransportConfig) *Transport {
	if p == nil {
		p = presence.Nop{}
	}
	t := &Transport{
		hub:      h,
		auth:     m,
		presence: p,
		cfg:      cfg,
		log:      h.log.With("component", "ws"),
	}
	t.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     t.checkOrigin,
	}
	return t
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(t.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range t.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	t.log.Warn("rejected websocket from disallowed origin", "origin", origin)
	return false
}

// Connected is the first event on every session.
type Connected struct {
	UserID       string   `json:"userId"`
	ConnectionID string   `json:"connectionId"`
	Capabilities []string `json:"capabilities"`
	Message      string   `json:"message"`
}

// ClientList follows mcp:connected with the active integration clients.
type ClientList struct {
	Clients []clients.Summary `json:"clients"`
}

// Handle is the gin handler for GET /ws.
func (t *Transport) Handle(c *gin.Context) {
	t.ServeHTTP(c.Writer, c.Request)
}

func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := t.auth.Authenticate(auth.ExtractToken(r), time.Now())
	if err != nil {
		t.log.Info("websocket auth rejected", "remote", r.RemoteAddr, "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
		return
	}

	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the request.
		t.log.Warn("websocket upgrade failed", "user_id", id.UserID, "error", err)
		return
	}

	connID := uuid.NewString()
	connLog := t.log.With("user_id", id.UserID, "conn_id", connID)
	ctx, cancel := context.WithCancel(logger.With(context.Background(), connLog))
	defer cancel()

	wc := newWSConn(conn, connLog)
	caps := parseCapabilities(r.URL.Query().Get("capabilities"))
	if len(caps) == 0 {
		caps = t.hub.defaultCapabilities(id.UserID)
	}
	t.hub.reg.Register(registry.Session{
		Identity:     id,
		Channel:      wc,
		Capabilities: caps,
		ConnectedAt:  t.hub.now().UTC(),
	})
	if err := t.presence.Online(ctx, id.UserID, connID); err != nil {
		connLog.Warn("presence online failed", "error", err)
	}

	go wc.writePump()
	if t.cfg.PresenceRefresh > 0 {
		go t.refreshPresence(ctx, wc, id.UserID, connID)
	}

	_ = wc.Deliver(registry.Outbound{
		Event: "mcp:connected",
		Data: Connected{
			UserID:       id.UserID,
			ConnectionID: connID,
			Capabilities: caps,
			Message:      "Connected to Message Control Protocol server",
		},
		Timestamp: t.hub.now().UTC(),
	})
	_ = wc.Deliver(registry.Outbound{
		Event:     "mcp:clients",
		Data:      ClientList{Clients: t.hub.activeClients()},
		Timestamp: t.hub.now().UTC(),
	})
	connLog.Info("session connected", "capabilities", caps)

	t.readPump(ctx, wc, &Peer{Identity: id, Channel: wc, Log: connLog})

	wc.Close("")
	t.hub.reg.UnregisterChannel(id.UserID, wc)
	if t.hub.ReleaseLine(id.UserID) {
		connLog.Debug("idle call line released")
	}
	octx, ocancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := t.presence.Offline(octx, id.UserID, connID); err != nil {
		connLog.Warn("presence offline failed", "error", err)
	}
	ocancel()
	connLog.Info("session disconnected", "reason", wc.closeReason())
}

func (t *Transport) readPump(ctx context.Context, wc *wsConn, p *Peer) {
	limiter := rate.NewLimiter(rate.Limit(t.cfg.EventRate), t.cfg.EventBurst)
	if t.cfg.EventRate <= 0 {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}

	wc.conn.SetReadLimit(maxMessageSize)
	_ = wc.conn.SetReadDeadline(time.Now().Add(pongWait))
	wc.conn.SetPongHandler(func(string) error {
		return wc.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := wc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.Log.Debug("websocket read error", "error", err)
			}
			return
		}
		if !limiter.Allow() {
			t.hub.metrics.RateLimited()
			t.hub.reply(p, "mcp:error", ErrorPayload{Message: "rate limit exceeded"})
			continue
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			t.hub.reply(p, "mcp:error", ErrorPayload{Message: "malformed frame"})
			continue
		}
		t.hub.Dispatch(ctx, p, env)
	}
}

func (t *Transport) refreshPresence(ctx context.Context, wc *wsConn, userID, connID string) {
	ticker := time.NewTicker(t.cfg.PresenceRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := t.presence.Refresh(rctx, userID, connID); err != nil {
				logger.From(ctx).Debug("presence refresh failed", "error", err)
			}
			cancel()
		case <-wc.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func parseCapabilities(raw string) []string {
	var out []string
	for _, c := range strings.Split(raw, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

/* ===================== CHANNEL ===================== */

// wsConn is the registry.Channel behind a websocket. Deliver never blocks;
// a full buffer drops the event.
type wsConn struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
	log  *slog.Logger

	mu     sync.Mutex
	reason string
}

func newWSConn(conn *websocket.Conn, log *slog.Logger) *wsConn {
	return &wsConn{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
		log:  log,
	}
}

func (c *wsConn) Deliver(o registry.Outbound) error {
	select {
	case <-c.done:
		return registry.ErrChannelClosed
	default:
	}
	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	select {
	case c.send <- b:
		return nil
	case <-c.done:
		return registry.ErrChannelClosed
	default:
		c.log.Warn("send buffer full, dropping event", "event", o.Event)
		return errSlowConsumer
	}
}

// Close stops the writer. A non-empty reason is sent as mcp:disconnect first.
func (c *wsConn) Close(reason string) {
	c.once.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *wsConn) closeReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case b := <-c.send:
			if err := c.write(websocket.TextMessage, b); err != nil {
				c.Close("")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close("")
				return
			}
		case <-c.done:
			c.drain()
			return
		}
	}
}

// drain flushes what is already queued, then the disconnect notice and a close frame.
func (c *wsConn) drain() {
	for pending := true; pending; {
		select {
		case b := <-c.send:
			if err := c.write(websocket.TextMessage, b); err != nil {
				return
			}
		default:
			pending = false
		}
	}

	reason := c.closeReason()
	if reason != "" {
		b, _ := json.Marshal(registry.Outbound{
			Event:     "mcp:disconnect",
			Data:      map[string]string{"reason": reason},
			Timestamp: time.Now().UTC(),
		})
		if err := c.write(websocket.TextMessage, b); err != nil {
			return
		}
	}
	_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
}

func (c *wsConn) write(kind int, b []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(kind, b)
}
