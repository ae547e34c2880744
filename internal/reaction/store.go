package reaction

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

// Record counts one occurrence of emoji at a playback second.
func (s *Store) Record(ctx context.Context, episodeID string, timestampSeconds int, emoji string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO reaction_buckets (episode_id, timestamp_seconds, emoji, count)
		 VALUES ($1, $2, $3, 1)
		 ON CONFLICT (episode_id, timestamp_seconds, emoji)
		 DO UPDATE SET count = reaction_buckets.count + 1, updated_at = now()`,
		episodeID, timestampSeconds, emoji,
	)
	if err != nil {
		return fmt.Errorf("record reaction: %w", err)
	}
	return nil
}

// LoadBuckets returns the aggregate reactions of an episode grouped by
// second. Entries within a second are ordered by when the emoji was first
// recorded there.
func (s *Store) LoadBuckets(ctx context.Context, episodeID string) (overlay.ReactionBuckets, int64, error) {
	rows, err := s.db.Query(ctx,
		`SELECT timestamp_seconds, emoji, count
		 FROM reaction_buckets
		 WHERE episode_id = $1 AND count > 0
		 ORDER BY timestamp_seconds, first_recorded_at, emoji`,
		episodeID,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query reactions: %w", err)
	}
	defer rows.Close()

	buckets := make(overlay.ReactionBuckets)
	var total int64
	for rows.Next() {
		var second int
		var entry overlay.ReactionEntry
		if err := rows.Scan(&second, &entry.Emoji, &entry.Count); err != nil {
			return nil, 0, fmt.Errorf("scan reaction: %w", err)
		}
		buckets[second] = append(buckets[second], entry)
		total += int64(entry.Count)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate reactions: %w", err)
	}
	return buckets, total, nil
}
