package broadcast

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/crowdreel/crowdreel/internal/overlay"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

func newTestServer(t *testing.T, hub *Hub, limiter Limiter) *httptest.Server {
	t.Helper()
	authenticate := func(r *http.Request) (string, bool) {
		switch r.Header.Get("Authorization") {
		case "Bearer token-a":
			return "user-a", true
		case "Bearer token-c":
			return "user-c", true
		}
		return "", false
	}
	r := chi.NewRouter()
	r.Handle("/ws/episodes/{episodeID}", NewHandler(hub, authenticate, limiter, ""))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func collect(ch chan overlay.LiveReactionEvent) func(overlay.LiveReactionEvent) {
	return func(ev overlay.LiveReactionEvent) { ch <- ev }
}

func TestWebsocketRelaysReactionsBetweenViewers(t *testing.T) {
	hub := NewHub(DefaultBufferSize)
	defer hub.Close()
	srv := newTestServer(t, hub, nil)

	clientA := NewClient(srv.URL, "token-a")
	defer clientA.Close()
	clientB := NewClient(srv.URL, "")
	defer clientB.Close()

	gotA := make(chan overlay.LiveReactionEvent, 4)
	gotB := make(chan overlay.LiveReactionEvent, 4)
	cancelA, err := clientA.Subscribe("episode-e", "viewer-a", collect(gotA))
	if err != nil {
		t.Fatalf("subscribe A: %v", err)
	}
	defer cancelA()
	cancelB, err := clientB.Subscribe("episode-e", "viewer-b", collect(gotB))
	if err != nil {
		t.Fatalf("subscribe B: %v", err)
	}
	defer cancelB()

	err = clientA.Publish(context.Background(), overlay.LiveReactionEvent{EpisodeID: "episode-e", Emoji: "💯", TimestampSeconds: 12})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case ev := <-gotB:
		if ev.Emoji != "💯" || ev.TimestampSeconds != 12 || ev.OriginViewer != "user-a:viewer-a" || ev.EpisodeID != "episode-e" {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected viewer-b to receive the reaction")
	}
	select {
	case ev := <-gotA:
		t.Errorf("origin must not receive its own reaction, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClientPublishWithoutSubscription(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "token-a")
	err := client.Publish(context.Background(), overlay.LiveReactionEvent{EpisodeID: "episode-e", Emoji: "🔥"})
	if err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func dialRaw(t *testing.T, srv *httptest.Server, path string, header http.Header) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	ws, _, err := websocket.DefaultDialer.Dial(u, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) Frame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame Frame
	if err := ws.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func TestWebsocketRejectsAnonymousReactions(t *testing.T) {
	hub := NewHub(DefaultBufferSize)
	defer hub.Close()
	srv := newTestServer(t, hub, nil)

	ws := dialRaw(t, srv, "/ws/episodes/episode-e?viewer=viewer-b", nil)
	if err := ws.WriteJSON(Frame{Type: FrameReaction, Emoji: "❤️", TimestampSeconds: 3}); err != nil {
		t.Fatalf("write: %v", err)
	}

	frame := readFrame(t, ws)
	if frame.Type != FrameError || frame.Error != "authentication required" {
		t.Errorf("expected authentication error frame, got %+v", frame)
	}
	if hub.Stats().TotalPublished != 0 {
		t.Error("anonymous reaction must not be published")
	}
}

func TestWebsocketRejectsInvalidFrames(t *testing.T) {
	hub := NewHub(DefaultBufferSize)
	defer hub.Close()
	srv := newTestServer(t, hub, nil)

	header := http.Header{}
	header.Set("Authorization", "Bearer token-a")
	ws := dialRaw(t, srv, "/ws/episodes/episode-e", header)

	tests := []struct {
		frame Frame
		want  string
	}{
		{Frame{Type: FrameReaction, Emoji: "🦄"}, "unsupported reaction"},
		{Frame{Type: FrameReaction, Emoji: "🔥", TimestampSeconds: -4}, "timestamp must not be negative"},
		{Frame{Type: "shout"}, "unsupported frame type"},
	}
	for _, tc := range tests {
		if err := ws.WriteJSON(tc.frame); err != nil {
			t.Fatalf("write: %v", err)
		}
		frame := readFrame(t, ws)
		if frame.Type != FrameError || frame.Error != tc.want {
			t.Errorf("expected error %q, got %+v", tc.want, frame)
		}
	}
	if hub.Stats().TotalPublished != 0 {
		t.Error("invalid reactions must not be published")
	}
}

func TestWebsocketRateLimitsReactions(t *testing.T) {
	hub := NewHub(DefaultBufferSize)
	defer hub.Close()
	srv := newTestServer(t, hub, denyAll{})

	header := http.Header{}
	header.Set("Authorization", "Bearer token-c")
	ws := dialRaw(t, srv, "/ws/episodes/episode-e", header)

	if err := ws.WriteJSON(Frame{Type: FrameReaction, Emoji: "👏"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	frame := readFrame(t, ws)
	if frame.Error != "too many reactions" {
		t.Errorf("expected rate limit error, got %+v", frame)
	}
}

func TestWebsocketRejectsInvalidEpisode(t *testing.T) {
	hub := NewHub(DefaultBufferSize)
	defer hub.Close()
	srv := newTestServer(t, hub, nil)

	resp, err := http.Get(srv.URL + "/ws/episodes/bad.episode")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestWebsocketClosesWhenHubCloses(t *testing.T) {
	hub := NewHub(DefaultBufferSize)
	srv := newTestServer(t, hub, nil)

	ws := dialRaw(t, srv, "/ws/episodes/episode-e", nil)
	hub.Close()

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("expected going-away close, got %v", err)
	}
}

func TestWebsocketScopesAuthenticatedViewerIDs(t *testing.T) {
	hub := NewHub(DefaultBufferSize)
	defer hub.Close()
	srv := newTestServer(t, hub, nil)

	victim := NewClient(srv.URL, "")
	defer victim.Close()
	got := make(chan overlay.LiveReactionEvent, 4)
	cancelVictim, err := victim.Subscribe("episode-e", "viewer-b", collect(got))
	if err != nil {
		t.Fatalf("subscribe victim: %v", err)
	}
	defer cancelVictim()

	// user-a claims the victim's viewer id
	impostor := NewClient(srv.URL, "token-a")
	defer impostor.Close()
	cancelImpostor, err := impostor.Subscribe("episode-e", "viewer-b", func(overlay.LiveReactionEvent) {})
	if err != nil {
		t.Fatalf("subscribe impostor: %v", err)
	}
	defer cancelImpostor()

	if err := impostor.Publish(context.Background(), overlay.LiveReactionEvent{EpisodeID: "episode-e", Emoji: "🔥", TimestampSeconds: 4}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case ev := <-got:
		if ev.OriginViewer != "user-a:viewer-b" {
			t.Errorf("expected origin scoped to the account, got %q", ev.OriginViewer)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("viewer-b must still receive reactions from a viewer reusing its id")
	}
}
