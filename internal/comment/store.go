package comment

import (
	"context"
	"fmt"

	"github.com/crowdreel/crowdreel/internal/database"
	"github.com/crowdreel/crowdreel/internal/overlay"
)

type Store struct {
	db database.DBTX
}

func NewStore(db database.DBTX) *Store {
	return &Store{db: db}
}

// Create stores a comment anchored to a playback second.
func (s *Store) Create(ctx context.Context, episodeID, authorID, content string, timestampSeconds int) (overlay.Comment, error) {
	c := overlay.Comment{
		EpisodeID:        episodeID,
		AuthorRef:        authorID,
		Content:          content,
		TimestampSeconds: timestampSeconds,
	}
	err := s.db.QueryRow(ctx,
		`INSERT INTO comments (episode_id, author_id, content, timestamp_seconds)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		episodeID, authorID, content, timestampSeconds,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return overlay.Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return c, nil
}

// LoadBuckets returns the visible comments of an episode grouped by second.
// Within a second, comments keep the order they were posted in.
func (s *Store) LoadBuckets(ctx context.Context, episodeID string) (overlay.CommentBuckets, int, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, author_id, content, timestamp_seconds, created_at
		 FROM comments
		 WHERE episode_id = $1 AND is_hidden = false
		 ORDER BY timestamp_seconds, created_at, id`,
		episodeID,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query comments: %w", err)
	}
	defer rows.Close()

	buckets := make(overlay.CommentBuckets)
	total := 0
	for rows.Next() {
		c := overlay.Comment{EpisodeID: episodeID}
		if err := rows.Scan(&c.ID, &c.AuthorRef, &c.Content, &c.TimestampSeconds, &c.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan comment: %w", err)
		}
		buckets[c.TimestampSeconds] = append(buckets[c.TimestampSeconds], c)
		total++
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate comments: %w", err)
	}
	return buckets, total, nil
}
