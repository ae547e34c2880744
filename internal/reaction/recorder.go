package reaction

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultQueueSize = 1024
	recordTimeout    = 5 * time.Second
)

var (
	ErrQueueFull      = errors.New("reaction: recorder queue full")
	ErrRecorderClosed = errors.New("reaction: recorder closed")
)

type occurrenceStore interface {
	Record(ctx context.Context, episodeID string, timestampSeconds int, emoji string) error
}

type occurrence struct {
	episodeID        string
	timestampSeconds int
	emoji            string
}

type RecorderStats struct {
	Recorded uint64 `json:"recorded"`
	Failed   uint64 `json:"failed"`
	Dropped  uint64 `json:"dropped"`
}

// AsyncRecorder takes reaction occurrences off the request path. A single
// worker writes them in arrival order; when the queue is full new
// occurrences are dropped.
type AsyncRecorder struct {
	store occurrenceStore
	queue chan occurrence

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	recorded atomic.Uint64
	failed   atomic.Uint64
	dropped  atomic.Uint64
}

func NewAsyncRecorder(store occurrenceStore, queueSize int) *AsyncRecorder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &AsyncRecorder{
		store: store,
		queue: make(chan occurrence, queueSize),
		done:  make(chan struct{}),
	}
}

// RecordReactionOccurrence enqueues the occurrence and returns immediately.
func (r *AsyncRecorder) RecordReactionOccurrence(_ context.Context, episodeID string, timestampSeconds int, emoji string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrRecorderClosed
	}
	select {
	case r.queue <- occurrence{episodeID: episodeID, timestampSeconds: timestampSeconds, emoji: emoji}:
		return nil
	default:
		r.dropped.Add(1)
		return ErrQueueFull
	}
}

// Start runs the worker until Shutdown. Occurrences still queued when ctx
// is cancelled are written before the worker exits.
func (r *AsyncRecorder) Start(ctx context.Context) {
	go func() {
		defer close(r.done)
		for o := range r.queue {
			r.write(ctx, o)
		}
	}()
	go func() {
		<-ctx.Done()
		r.close()
	}()
}

// Shutdown stops accepting occurrences and waits for the queue to drain or
// ctx to expire.
func (r *AsyncRecorder) Shutdown(ctx context.Context) error {
	r.close()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *AsyncRecorder) Stats() RecorderStats {
	return RecorderStats{
		Recorded: r.recorded.Load(),
		Failed:   r.failed.Load(),
		Dropped:  r.dropped.Load(),
	}
}

func (r *AsyncRecorder) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.queue)
}

func (r *AsyncRecorder) write(ctx context.Context, o occurrence) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := r.store.Record(writeCtx, o.episodeID, o.timestampSeconds, o.emoji); err != nil {
		r.failed.Add(1)
		slog.Error("reaction-recorder: failed to record reaction", "episode_id", o.episodeID, "second", o.timestampSeconds, "error", err)
		return
	}
	r.recorded.Add(1)
}
