package overlay

import (
	"context"
	"time"
)

type Comment struct {
	ID               string    `json:"id"`
	EpisodeID        string    `json:"episodeId"`
	AuthorRef        string    `json:"authorRef"`
	Content          string    `json:"content"`
	TimestampSeconds int       `json:"timestampSeconds"`
	CreatedAt        time.Time `json:"createdAt"`
}

// CommentBuckets maps a playback second to the comments posted at it,
// in snapshot insertion order.
type CommentBuckets map[int][]Comment

type ReactionEntry struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
}

// ReactionBuckets maps a playback second to the aggregate reactions
// recorded at it. Entry order is the snapshot order.
type ReactionBuckets map[int][]ReactionEntry

type LiveReactionEvent struct {
	EpisodeID        string `json:"episodeId"`
	Emoji            string `json:"emoji"`
	TimestampSeconds int    `json:"timestampSeconds"`
	OriginViewer     string `json:"originViewer"`
}

type CommentPersister interface {
	PersistComment(ctx context.Context, episodeID, content string, timestampSeconds int) (Comment, error)
}

type ReactionRecorder interface {
	RecordReactionOccurrence(ctx context.Context, episodeID string, timestampSeconds int, emoji string) error
}

// Broadcaster is a per-episode publish/subscribe topic for live reactions.
// Delivery is best effort. Handlers may be invoked from any goroutine.
type Broadcaster interface {
	Publish(ctx context.Context, event LiveReactionEvent) error
	Subscribe(episodeID, viewerID string, handler func(LiveReactionEvent)) (cancel func(), err error)
}

// PlaybackControl is the slice of the video engine the overlay needs.
type PlaybackControl interface {
	Play()
	Pause()
}
