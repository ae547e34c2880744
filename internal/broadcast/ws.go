package broadcast

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/crowdreel/crowdreel/internal/httputil"
	"github.com/crowdreel/crowdreel/internal/overlay"
	"github.com/crowdreel/crowdreel/internal/validate"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 120 * time.Second
	pingInterval   = 25 * time.Second
	maxFrameBytes  = 4 << 10
	sendBufferSize = 16

	FrameReaction = "reaction"
	FramePing     = "ping"
	FramePong     = "pong"
	FrameError    = "error"
)

// Frame is the JSON message exchanged on the live channel.
type Frame struct {
	Type             string `json:"type"`
	EpisodeID        string `json:"episodeId,omitempty"`
	Emoji            string `json:"emoji,omitempty"`
	TimestampSeconds int    `json:"timestampSeconds,omitempty"`
	OriginViewer     string `json:"originViewer,omitempty"`
	Error            string `json:"error,omitempty"`
}

func frameFromEvent(event overlay.LiveReactionEvent) Frame {
	return Frame{
		Type:             FrameReaction,
		EpisodeID:        event.EpisodeID,
		Emoji:            event.Emoji,
		TimestampSeconds: event.TimestampSeconds,
		OriginViewer:     event.OriginViewer,
	}
}

// Authenticator resolves the viewer behind a request, if any.
type Authenticator func(r *http.Request) (userID string, ok bool)

// Limiter throttles inbound reactions per viewer.
type Limiter interface {
	Allow(key string) bool
}

type Handler struct {
	hub          *Hub
	authenticate Authenticator
	limiter      Limiter
	upgrader     websocket.Upgrader
}

// NewHandler serves the live channel. allowedOrigin restricts browser
// upgrades to one origin; empty allows any.
func NewHandler(hub *Hub, authenticate Authenticator, limiter Limiter, allowedOrigin string) *Handler {
	return &Handler{
		hub:          hub,
		authenticate: authenticate,
		limiter:      limiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowedOrigin == "" || origin == "" || origin == allowedOrigin
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	episodeID := chi.URLParam(r, "episodeID")
	if msg := validate.EpisodeID(episodeID); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	var userID string
	if h.authenticate != nil {
		userID, _ = h.authenticate(r)
	}
	viewerID := r.URL.Query().Get("viewer")
	if validate.ViewerID(viewerID) != "" {
		viewerID = uuid.NewString()
	}
	// Scope authenticated viewers to their account. Client ids cannot hold a
	// colon, so nobody can claim another viewer's origin and mute them.
	if userID != "" {
		viewerID = userID + ":" + viewerID
	}

	sub, err := h.hub.Subscribe(episodeID, viewerID)
	if err != nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "live channel unavailable")
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("broadcast: websocket upgrade failed", "episode_id", episodeID, "error", err)
		_ = h.hub.Unsubscribe(sub)
		return
	}

	c := &conn{
		hub:      h.hub,
		limiter:  h.limiter,
		ws:       ws,
		sub:      sub,
		userID:   userID,
		viewerID: viewerID,
		send:     make(chan Frame, sendBufferSize),
	}
	slog.Debug("broadcast: viewer joined", "episode_id", episodeID, "viewer_id", viewerID, "authenticated", userID != "")

	go c.writeLoop()
	c.readLoop()
}

type conn struct {
	hub      *Hub
	limiter  Limiter
	ws       *websocket.Conn
	sub      *Subscription
	userID   string
	viewerID string
	send     chan Frame

	closeOnce sync.Once
}

func (c *conn) readLoop() {
	defer c.close()

	c.ws.SetReadLimit(maxFrameBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("broadcast: read failed", "episode_id", c.sub.EpisodeID, "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var frame Frame
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.reply(Frame{Type: FrameError, Error: "malformed frame"})
			continue
		}
		switch frame.Type {
		case FramePong, FramePing:
		case FrameReaction:
			c.handleReaction(frame)
		default:
			c.reply(Frame{Type: FrameError, Error: "unsupported frame type"})
		}
	}
}

func (c *conn) handleReaction(frame Frame) {
	if c.userID == "" {
		c.reply(Frame{Type: FrameError, Error: "authentication required"})
		return
	}
	if msg := validate.Emoji(frame.Emoji); msg != "" {
		c.reply(Frame{Type: FrameError, Error: msg})
		return
	}
	if msg := validate.TimestampSeconds(frame.TimestampSeconds); msg != "" {
		c.reply(Frame{Type: FrameError, Error: msg})
		return
	}
	if c.limiter != nil && !c.limiter.Allow("viewer:"+c.userID) {
		c.reply(Frame{Type: FrameError, Error: "too many reactions"})
		return
	}
	c.hub.Publish(overlay.LiveReactionEvent{
		EpisodeID:        c.sub.EpisodeID,
		Emoji:            frame.Emoji,
		TimestampSeconds: frame.TimestampSeconds,
		OriginViewer:     c.viewerID,
	})
}

// reply queues a frame for this connection only, dropping it when the
// writer is backed up.
func (c *conn) reply(frame Frame) {
	select {
	case c.send <- frame:
	default:
	}
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		var frame Frame
		select {
		case event, ok := <-c.sub.Events:
			if !ok {
				_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			frame = frameFromEvent(event)
		case frame = <-c.send:
		case <-ticker.C:
			frame = Frame{Type: FramePing}
		}

		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteJSON(frame); err != nil {
			slog.Debug("broadcast: write failed", "episode_id", c.sub.EpisodeID, "error", err)
			return
		}
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		_ = c.hub.Unsubscribe(c.sub)
		_ = c.ws.Close()
	})
}
