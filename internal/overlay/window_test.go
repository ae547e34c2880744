package overlay

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func newTestWindow(buckets CommentBuckets, cfg Config) (*CommentWindow, *Scheduler, clockwork.FakeClock) {
	fc := clockwork.NewFakeClock()
	sched := NewScheduler(fc)
	return NewCommentWindow(buckets, sched, cfg), sched, fc
}

func commentIDs(visible []VisibleComment) []string {
	ids := make([]string, 0, len(visible))
	for _, c := range visible {
		ids = append(ids, c.ID)
	}
	return ids
}

func TestCommentVisibleAcrossTrailingWindow(t *testing.T) {
	buckets := CommentBuckets{42: {{ID: "c42", TimestampSeconds: 42, Content: "wow"}}}
	cfg := DefaultConfig()
	cfg.CommentDisplay = time.Minute
	w, _, _ := newTestWindow(buckets, cfg)

	w.Update(41, false)
	if len(w.Visible()) != 0 {
		t.Fatal("comment must not be visible before its second")
	}

	for cs := 42; cs <= 42+cfg.CommentWindow; cs++ {
		w.Update(cs, false)
		if ids := commentIDs(w.Visible()); len(ids) != 1 || ids[0] != "c42" {
			t.Fatalf("expected c42 visible at %d, got %v", cs, ids)
		}
	}

	w.Update(42+cfg.CommentWindow+1, false)
	if len(w.Visible()) != 0 {
		t.Error("comment must leave once its second falls out of the window")
	}
}

func TestCommentExpiresOnWallClockRegardlessOfPlayback(t *testing.T) {
	buckets := CommentBuckets{42: {{ID: "c42", TimestampSeconds: 42}}}
	w, sched, fc := newTestWindow(buckets, DefaultConfig())

	w.Update(42, false)
	if len(w.Visible()) != 1 {
		t.Fatal("expected comment to appear at 42")
	}

	// Playback is paused: no further clock samples arrive.
	fc.Advance(DefaultCommentDisplay - time.Millisecond)
	sched.RunDue()
	if len(w.Visible()) != 1 {
		t.Fatal("comment must stay until its display duration elapses")
	}

	fc.Advance(time.Millisecond)
	sched.RunDue()
	if len(w.Visible()) != 0 {
		t.Fatal("comment must expire after its display duration")
	}

	w.Update(43, false)
	if len(w.Visible()) != 0 {
		t.Error("an expired comment must not come back within the same pass")
	}
}

func TestCommentOrderingByTimestampThenInsertion(t *testing.T) {
	buckets := CommentBuckets{
		11: {{ID: "b1", TimestampSeconds: 11}, {ID: "b2", TimestampSeconds: 11}},
		10: {{ID: "a1", TimestampSeconds: 10}},
		12: {{ID: "c1", TimestampSeconds: 12}},
	}
	cfg := DefaultConfig()
	cfg.MaxVisibleComments = 0
	w, _, _ := newTestWindow(buckets, cfg)

	w.Update(12, false)
	got := commentIDs(w.Visible())
	want := []string{"a1", "b1", "b2", "c1"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestCommentCapKeepsNewest(t *testing.T) {
	buckets := CommentBuckets{
		5: {{ID: "a"}, {ID: "b"}, {ID: "c"}},
		6: {{ID: "d"}},
	}
	cfg := DefaultConfig()
	cfg.MaxVisibleComments = 2
	w, _, _ := newTestWindow(buckets, cfg)

	w.Update(6, false)
	got := commentIDs(w.Visible())
	if len(got) != 2 || got[0] != "c" || got[1] != "d" {
		t.Errorf("expected [c d], got %v", got)
	}
}

func TestCommentEntryPhase(t *testing.T) {
	buckets := CommentBuckets{3: {{ID: "x"}}}
	w, _, fc := newTestWindow(buckets, DefaultConfig())

	w.Update(3, false)
	if v := w.Visible(); len(v) != 1 || !v[0].Entering {
		t.Fatal("expected freshly shown comment to be entering")
	}
	fc.Advance(DefaultCommentEntry)
	if v := w.Visible(); len(v) != 1 || v[0].Entering {
		t.Error("expected entry phase to end after the entry duration")
	}
}

func TestCommentSeekRearmsExpiredComments(t *testing.T) {
	buckets := CommentBuckets{20: {{ID: "late"}}}
	w, sched, fc := newTestWindow(buckets, DefaultConfig())

	w.Update(20, false)
	fc.Advance(DefaultCommentDisplay)
	sched.RunDue()
	if len(w.Visible()) != 0 {
		t.Fatal("expected comment to have expired")
	}

	w.Update(10, true)
	w.Update(20, false)
	if ids := commentIDs(w.Visible()); len(ids) != 1 || ids[0] != "late" {
		t.Errorf("expected comment to replay after a seek, got %v", ids)
	}
}

func TestCommentWindowPrunesOldEntries(t *testing.T) {
	buckets := CommentBuckets{1: {{ID: "early"}}}
	w, sched, _ := newTestWindow(buckets, DefaultConfig())

	w.Update(1, false)
	if sched.Pending() != 1 {
		t.Fatalf("expected one expiry scheduled, got %d", sched.Pending())
	}
	w.Update(30, false)
	if len(w.shown) != 0 {
		t.Errorf("expected entries behind the window to be pruned, got %d", len(w.shown))
	}
	if sched.Pending() != 0 {
		t.Errorf("expected pruned expiry to be cancelled, got %d pending", sched.Pending())
	}
}
