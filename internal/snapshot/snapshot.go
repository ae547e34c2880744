// Package snapshot assembles the historical overlay data a player loads
// once per episode and exports it to object storage.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/crowdreel/crowdreel/internal/overlay"
	"github.com/jonboulle/clockwork"
)

// Snapshot is fixed for the lifetime of a viewing session. Reactions
// recorded after it was built only reach later sessions.
type Snapshot struct {
	EpisodeID     string                  `json:"episodeId"`
	Comments      overlay.CommentBuckets  `json:"comments"`
	Reactions     overlay.ReactionBuckets `json:"reactions"`
	CommentCount  int                     `json:"commentCount"`
	ReactionCount int64                   `json:"reactionCount"`
	GeneratedAt   time.Time               `json:"generatedAt"`
}

type CommentSource interface {
	LoadBuckets(ctx context.Context, episodeID string) (overlay.CommentBuckets, int, error)
}

type ReactionSource interface {
	LoadBuckets(ctx context.Context, episodeID string) (overlay.ReactionBuckets, int64, error)
}

type Builder struct {
	comments  CommentSource
	reactions ReactionSource
	clock     clockwork.Clock
}

func NewBuilder(comments CommentSource, reactions ReactionSource, clock clockwork.Clock) *Builder {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Builder{comments: comments, reactions: reactions, clock: clock}
}

func (b *Builder) Build(ctx context.Context, episodeID string) (*Snapshot, error) {
	comments, commentCount, err := b.comments.LoadBuckets(ctx, episodeID)
	if err != nil {
		return nil, fmt.Errorf("load comments: %w", err)
	}
	reactions, reactionCount, err := b.reactions.LoadBuckets(ctx, episodeID)
	if err != nil {
		return nil, fmt.Errorf("load reactions: %w", err)
	}
	if comments == nil {
		comments = overlay.CommentBuckets{}
	}
	if reactions == nil {
		reactions = overlay.ReactionBuckets{}
	}
	return &Snapshot{
		EpisodeID:     episodeID,
		Comments:      comments,
		Reactions:     reactions,
		CommentCount:  commentCount,
		ReactionCount: reactionCount,
		GeneratedAt:   b.clock.Now().UTC(),
	}, nil
}
