package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/crowdreel/crowdreel/internal/database"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
)

const (
	archiveContentType = "application/json"
	archiveBatchSize   = 50
	// window overlap so activity committed during a run is not missed
	archiveOverlap = time.Minute
)

var ErrNoArchive = errors.New("snapshot: episode has no archive")

type ObjectStorage interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
	GenerateDownloadURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

type Archive struct {
	EpisodeID     string
	ObjectKey     string
	CommentCount  int
	ReactionCount int64
	ArchivedAt    time.Time
}

func ObjectKey(episodeID string) string {
	return "snapshots/" + episodeID + ".json"
}

// Archiver exports snapshots of episodes with recent activity.
type Archiver struct {
	db      database.DBTX
	builder *Builder
	storage ObjectStorage
	clock   clockwork.Clock
}

func NewArchiver(db database.DBTX, builder *Builder, storage ObjectStorage, clock clockwork.Clock) *Archiver {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Archiver{db: db, builder: builder, storage: storage, clock: clock}
}

// ActiveEpisodes lists episodes that received comments or reactions after
// since, most recently active first.
func (a *Archiver) ActiveEpisodes(ctx context.Context, since time.Time, limit int) ([]string, error) {
	rows, err := a.db.Query(ctx,
		`SELECT episode_id FROM (
		     SELECT episode_id, max(updated_at) AS active_at FROM reaction_buckets
		     WHERE updated_at > $1 GROUP BY episode_id
		     UNION ALL
		     SELECT episode_id, max(created_at) AS active_at FROM comments
		     WHERE created_at > $1 GROUP BY episode_id
		 ) activity
		 GROUP BY episode_id
		 ORDER BY max(active_at) DESC
		 LIMIT $2`,
		since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query active episodes: %w", err)
	}
	defer rows.Close()

	var episodes []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		episodes = append(episodes, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate episodes: %w", err)
	}
	return episodes, nil
}

func (a *Archiver) ArchiveEpisode(ctx context.Context, episodeID string) (*Archive, error) {
	snap, err := a.builder.Build(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	key := ObjectKey(episodeID)
	if err := a.storage.PutObject(ctx, key, body, archiveContentType); err != nil {
		return nil, err
	}

	archive := &Archive{
		EpisodeID:     episodeID,
		ObjectKey:     key,
		CommentCount:  snap.CommentCount,
		ReactionCount: snap.ReactionCount,
		ArchivedAt:    snap.GeneratedAt,
	}
	if _, err := a.db.Exec(ctx,
		`INSERT INTO snapshot_archives (episode_id, object_key, comment_count, reaction_count, archived_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (episode_id) DO UPDATE
		 SET object_key = EXCLUDED.object_key, comment_count = EXCLUDED.comment_count,
		     reaction_count = EXCLUDED.reaction_count, archived_at = EXCLUDED.archived_at`,
		archive.EpisodeID, archive.ObjectKey, archive.CommentCount, archive.ReactionCount, archive.ArchivedAt,
	); err != nil {
		return nil, fmt.Errorf("save archive record: %w", err)
	}
	return archive, nil
}

// ArchiveActive exports every episode active since the given time and
// returns how many were written.
func (a *Archiver) ArchiveActive(ctx context.Context, since time.Time) int {
	episodes, err := a.ActiveEpisodes(ctx, since, archiveBatchSize)
	if err != nil {
		slog.Error("snapshot-archive: failed to list active episodes", "error", err)
		return 0
	}
	written := 0
	for _, id := range episodes {
		if ctx.Err() != nil {
			break
		}
		if _, err := a.ArchiveEpisode(ctx, id); err != nil {
			slog.Error("snapshot-archive: failed to archive episode", "episode_id", id, "error", err)
			continue
		}
		written++
	}
	if written > 0 {
		slog.Info("snapshot-archive: archived episodes", "count", written)
	}
	return written
}

func (a *Archiver) Lookup(ctx context.Context, episodeID string) (*Archive, error) {
	archive := &Archive{EpisodeID: episodeID}
	err := a.db.QueryRow(ctx,
		`SELECT object_key, comment_count, reaction_count, archived_at
		 FROM snapshot_archives WHERE episode_id = $1`,
		episodeID,
	).Scan(&archive.ObjectKey, &archive.CommentCount, &archive.ReactionCount, &archive.ArchivedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoArchive
		}
		return nil, fmt.Errorf("lookup archive: %w", err)
	}
	return archive, nil
}

func (a *Archiver) DownloadURL(ctx context.Context, archive *Archive, expiry time.Duration) (string, error) {
	return a.storage.GenerateDownloadURL(ctx, archive.ObjectKey, expiry)
}

// StartArchiveLoop exports snapshots of recently active episodes every
// interval until ctx is done.
func StartArchiveLoop(ctx context.Context, archiver *Archiver, interval time.Duration) {
	go func() {
		ticker := archiver.clock.NewTicker(interval)
		defer ticker.Stop()
		since := archiver.clock.Now().Add(-interval)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				started := archiver.clock.Now()
				archiver.ArchiveActive(ctx, since.Add(-archiveOverlap))
				since = started
			}
		}
	}()
}
