package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/crowdreel/crowdreel/internal/overlay"
	"github.com/gorilla/websocket"
)

var ErrNotConnected = errors.New("broadcast: not connected to episode")

// Client joins the live channel of a remote server. It holds one websocket
// per subscribed episode and publishes over the same connection.
type Client struct {
	baseURL string
	token   string
	dialer  *websocket.Dialer

	mu    sync.Mutex
	conns map[string]*clientConn
}

type clientConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// NewClient accepts an http(s) or ws(s) base URL. token may be empty for a
// watch-only connection.
func NewClient(baseURL, token string) *Client {
	base := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return &Client{
		baseURL: base,
		token:   token,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		conns: make(map[string]*clientConn),
	}
}

func (c *Client) Subscribe(episodeID, viewerID string, handler func(overlay.LiveReactionEvent)) (func(), error) {
	u := c.baseURL + "/ws/episodes/" + url.PathEscape(episodeID)
	if viewerID != "" {
		u += "?viewer=" + url.QueryEscape(viewerID)
	}
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	ws, resp, err := c.dialer.Dial(u, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial live channel: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial live channel: %w", err)
	}

	cc := &clientConn{ws: ws, done: make(chan struct{})}
	c.mu.Lock()
	if prev, ok := c.conns[episodeID]; ok {
		prev.close()
	}
	c.conns[episodeID] = cc
	c.mu.Unlock()

	go c.readLoop(episodeID, cc, handler)

	return func() {
		c.mu.Lock()
		if c.conns[episodeID] == cc {
			delete(c.conns, episodeID)
		}
		c.mu.Unlock()
		cc.close()
		<-cc.done
	}, nil
}

func (c *Client) readLoop(episodeID string, cc *clientConn, handler func(overlay.LiveReactionEvent)) {
	defer close(cc.done)
	defer cc.close()

	for {
		_, payload, err := cc.ws.ReadMessage()
		if err != nil {
			return
		}
		var frame Frame
		if err := json.Unmarshal(payload, &frame); err != nil {
			slog.Debug("broadcast: malformed frame from server", "episode_id", episodeID, "error", err)
			continue
		}
		switch frame.Type {
		case FrameReaction:
			handler(overlay.LiveReactionEvent{
				EpisodeID:        frame.EpisodeID,
				Emoji:            frame.Emoji,
				TimestampSeconds: frame.TimestampSeconds,
				OriginViewer:     frame.OriginViewer,
			})
		case FramePing:
			if err := cc.write(context.Background(), Frame{Type: FramePong}); err != nil {
				return
			}
		case FrameError:
			slog.Debug("broadcast: server rejected frame", "episode_id", episodeID, "error", frame.Error)
		}
	}
}

// Publish sends the reaction over the episode's connection. The server
// stamps the origin viewer from the connection.
func (c *Client) Publish(ctx context.Context, event overlay.LiveReactionEvent) error {
	c.mu.Lock()
	cc, ok := c.conns[event.EpisodeID]
	c.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}
	return cc.write(ctx, Frame{
		Type:             FrameReaction,
		Emoji:            event.Emoji,
		TimestampSeconds: event.TimestampSeconds,
	})
}

func (c *Client) Close() {
	c.mu.Lock()
	conns := c.conns
	c.conns = make(map[string]*clientConn)
	c.mu.Unlock()
	for _, cc := range conns {
		cc.close()
	}
}

func (cc *clientConn) write(ctx context.Context, frame Frame) error {
	cc.writeMu.Lock()
	defer cc.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = cc.ws.SetWriteDeadline(deadline)
	if err := cc.ws.WriteJSON(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (cc *clientConn) close() {
	cc.once.Do(func() {
		cc.writeMu.Lock()
		_ = cc.ws.SetWriteDeadline(time.Now().Add(time.Second))
		_ = cc.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		cc.writeMu.Unlock()
		_ = cc.ws.Close()
	})
}
