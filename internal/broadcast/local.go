package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/crowdreel/crowdreel/internal/overlay"
)

// Local connects overlay sessions running in the same process to a Hub.
type Local struct {
	hub *Hub
}

func NewLocal(hub *Hub) *Local {
	return &Local{hub: hub}
}

func (l *Local) Publish(_ context.Context, event overlay.LiveReactionEvent) error {
	l.hub.Publish(event)
	return nil
}

// Subscribe runs handler on its own goroutine for every event of the
// episode. Calling cancel stops delivery; it is safe to call more than once.
func (l *Local) Subscribe(episodeID, viewerID string, handler func(overlay.LiveReactionEvent)) (func(), error) {
	sub, err := l.hub.Subscribe(episodeID, viewerID)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range sub.Events {
			handler(event)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := l.hub.Unsubscribe(sub); err != nil && !errors.Is(err, ErrHubClosed) {
				slog.Warn("broadcast: unsubscribe failed", "episode_id", episodeID, "error", err)
			}
			<-done
		})
	}, nil
}
