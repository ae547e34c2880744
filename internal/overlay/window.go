package overlay

import (
	"sort"
	"time"
)

type VisibleComment struct {
	Comment
	AppearedAt time.Time `json:"appearedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Entering   bool      `json:"entering"`
}

type commentKey struct {
	second int
	index  int
}

type shownComment struct {
	appearedAt time.Time
	expiresAt  time.Time
	expired    bool
	task       TaskID
}

// CommentWindow tracks which snapshot comments are on screen. A comment is
// visible while its second lies in [current-W, current] and its display
// duration, measured in wall-clock time from when it appeared, has not
// elapsed.
type CommentWindow struct {
	buckets   CommentBuckets
	sched     *Scheduler
	window    int
	display   time.Duration
	entry     time.Duration
	max       int
	tolerance int

	current int
	shown   map[commentKey]*shownComment
}

func NewCommentWindow(buckets CommentBuckets, sched *Scheduler, cfg Config) *CommentWindow {
	cfg = cfg.withDefaults()
	if buckets == nil {
		buckets = CommentBuckets{}
	}
	return &CommentWindow{
		buckets:   buckets,
		sched:     sched,
		window:    cfg.CommentWindow,
		display:   cfg.CommentDisplay,
		entry:     cfg.CommentEntry,
		max:       cfg.MaxVisibleComments,
		tolerance: cfg.SeekTolerance,
		shown:     make(map[commentKey]*shownComment),
	}
}

// Update moves the window to current. After a backward seek every comment
// becomes eligible to appear again.
func (w *CommentWindow) Update(current int, seeked bool) {
	if seeked {
		w.Reset()
	}
	w.current = current
	now := w.sched.Now()

	for second := current - w.window; second <= current; second++ {
		for i := range w.buckets[second] {
			key := commentKey{second: second, index: i}
			if _, ok := w.shown[key]; ok {
				continue
			}
			entry := &shownComment{appearedAt: now, expiresAt: now.Add(w.display)}
			entry.task = w.sched.After(w.display, func() {
				entry.expired = true
			})
			w.shown[key] = entry
		}
	}

	w.prune()
}

func (w *CommentWindow) prune() {
	horizon := w.current - w.window - w.tolerance
	for key, entry := range w.shown {
		if key.second < horizon {
			w.sched.Cancel(entry.task)
			delete(w.shown, key)
		}
	}
}

// Reset forgets every shown comment and cancels pending expiries.
func (w *CommentWindow) Reset() {
	for key, entry := range w.shown {
		w.sched.Cancel(entry.task)
		delete(w.shown, key)
	}
}

// Visible returns the comments on screen, oldest second first, ties in
// snapshot order.
func (w *CommentWindow) Visible() []VisibleComment {
	keys := make([]commentKey, 0, len(w.shown))
	for key, entry := range w.shown {
		if entry.expired || key.second < w.current-w.window || key.second > w.current {
			continue
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].second != keys[j].second {
			return keys[i].second < keys[j].second
		}
		return keys[i].index < keys[j].index
	})
	if w.max > 0 && len(keys) > w.max {
		keys = keys[len(keys)-w.max:]
	}

	now := w.sched.Now()
	out := make([]VisibleComment, 0, len(keys))
	for _, key := range keys {
		entry := w.shown[key]
		out = append(out, VisibleComment{
			Comment:    w.buckets[key.second][key.index],
			AppearedAt: entry.appearedAt,
			ExpiresAt:  entry.expiresAt,
			Entering:   now.Before(entry.appearedAt.Add(w.entry)),
		})
	}
	return out
}
