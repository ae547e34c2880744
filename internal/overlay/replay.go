package overlay

import "time"

// ReplayState is owned by one replay controller for one session. The zero
// value is ready to use.
type ReplayState struct {
	processed    map[int]struct{}
	lastObserved int
}

func NewReplayState() *ReplayState {
	return &ReplayState{processed: make(map[int]struct{})}
}

func (s *ReplayState) Processed(second int) bool {
	_, ok := s.processed[second]
	return ok
}

func (s *ReplayState) LastObserved() int {
	return s.lastObserved
}

func (s *ReplayState) rearm() {
	clear(s.processed)
}

type ScheduledSpawn struct {
	Emoji string
	Delay time.Duration
	Task  TaskID
}

// Firing describes what one Update did.
type Firing struct {
	Second  int
	Rearmed bool
	Fired   bool
	Spawns  []ScheduledSpawn
}

// ReplayController fires historical reaction buckets into the pool as the
// clock passes them, once per forward pass.
type ReplayController struct {
	buckets   ReactionBuckets
	sched     *Scheduler
	spawn     func(emoji string)
	cap       int
	stagger   time.Duration
	tolerance int
}

func NewReplayController(buckets ReactionBuckets, sched *Scheduler, cfg Config, spawn func(emoji string)) *ReplayController {
	cfg = cfg.withDefaults()
	if buckets == nil {
		buckets = ReactionBuckets{}
	}
	return &ReplayController{
		buckets:   buckets,
		sched:     sched,
		spawn:     spawn,
		cap:       cfg.ReactionCap,
		stagger:   cfg.SpawnStagger,
		tolerance: cfg.SeekTolerance,
	}
}

// Update processes one clock sample. Spawns are scheduled, not run: the
// first one is due immediately and is executed by the next RunDue.
func (rc *ReplayController) Update(state *ReplayState, ts int) Firing {
	f := Firing{Second: ts}

	if IsBackwardSeek(state.lastObserved, ts, rc.tolerance) {
		state.rearm()
		f.Rearmed = true
	}
	state.lastObserved = ts

	if state.Processed(ts) {
		return f
	}
	if state.processed == nil {
		state.processed = make(map[int]struct{})
	}
	state.processed[ts] = struct{}{}

	entries := rc.buckets[ts]
	if len(entries) == 0 {
		return f
	}
	f.Fired = true

	step := 0
	for _, entry := range entries {
		n := min(entry.Count, rc.cap)
		for i := 0; i < n; i++ {
			emoji := entry.Emoji
			delay := time.Duration(step) * rc.stagger
			task := rc.sched.After(delay, func() {
				rc.spawn(emoji)
			})
			f.Spawns = append(f.Spawns, ScheduledSpawn{Emoji: emoji, Delay: delay, Task: task})
			step++
		}
	}
	return f
}
