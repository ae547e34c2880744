package overlay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/crowdreel/crowdreel/internal/validate"
	"github.com/jonboulle/clockwork"
)

var (
	ErrSessionClosed    = errors.New("overlay: session closed")
	ErrNotAuthenticated = errors.New("overlay: authentication required")
	ErrComposerClosed   = errors.New("overlay: comment composer is not open")
	ErrSubmitInFlight   = errors.New("overlay: a comment is already being posted")
	ErrInvalidComment   = errors.New("overlay: invalid comment")
	ErrInvalidReaction  = errors.New("overlay: invalid reaction")
)

const (
	defaultInboxSize      = 256
	defaultRequestTimeout = 10 * time.Second
)

// ComposerState is the comment entry surface.
type ComposerState struct {
	Open             bool
	TimestampSeconds int
	Draft            string
	Submitting       bool
	Err              string
	Retryable        bool
	LastPostedID     string
}

type Options struct {
	EpisodeID     string
	ViewerID      string
	Authenticated bool

	Comments  CommentBuckets
	Reactions ReactionBuckets

	Config Config
	Clock  clockwork.Clock
	Rand   *rand.Rand

	Persister   CommentPersister
	Recorder    ReactionRecorder
	Broadcaster Broadcaster
	Playback    PlaybackControl

	RequestTimeout time.Duration
	InboxSize      int
}

// Frame is what the overlay layer draws on top of the video.
type Frame struct {
	Second    int              `json:"second"`
	Cinematic bool             `json:"cinematic"`
	Ended     bool             `json:"ended"`
	Comments  []VisibleComment `json:"comments"`
	Bubbles   []Bubble         `json:"bubbles"`
}

// Session is one viewer's overlay for one episode. All of its state lives on
// a single execution context: methods other than Dispatch must be called
// from the goroutine running Run (or from a test driving the session
// directly). Work produced elsewhere enters through Dispatch.
type Session struct {
	episodeID     string
	viewerID      string
	authenticated bool
	timeout       time.Duration

	clk         clockwork.Clock
	sched       *Scheduler
	clock       *PlaybackClock
	replay      *ReplayController
	replayState *ReplayState
	window      *CommentWindow
	pool        *Pool
	gate        *CinematicGate
	composer    *Cell[ComposerState]
	ended       *Cell[bool]

	persister   CommentPersister
	recorder    ReactionRecorder
	broadcaster Broadcaster
	playback    PlaybackControl
	unsubscribe func()

	inbox     chan func()
	done      chan struct{}
	closeOnce sync.Once
	submitSeq uint64
}

func NewSession(opts Options) (*Session, error) {
	if strings.TrimSpace(opts.EpisodeID) == "" {
		return nil, fmt.Errorf("overlay: episode id is required")
	}
	cfg := opts.Config.withDefaults()
	clk := opts.Clock
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	inboxSize := opts.InboxSize
	if inboxSize <= 0 {
		inboxSize = defaultInboxSize
	}

	sched := NewScheduler(clk)
	s := &Session{
		episodeID:     opts.EpisodeID,
		viewerID:      opts.ViewerID,
		authenticated: opts.Authenticated,
		timeout:       timeout,
		clk:           clk,
		sched:         sched,
		clock:         NewPlaybackClock(cfg.SeekTolerance),
		replayState:   NewReplayState(),
		window:        NewCommentWindow(opts.Comments, sched, cfg),
		pool:          NewPool(sched, cfg, opts.Rand),
		gate:          NewCinematicGate(),
		composer:      NewCell(ComposerState{}),
		ended:         NewCell(false),
		persister:     opts.Persister,
		recorder:      opts.Recorder,
		broadcaster:   opts.Broadcaster,
		playback:      opts.Playback,
		inbox:         make(chan func(), inboxSize),
		done:          make(chan struct{}),
	}
	s.replay = NewReplayController(opts.Reactions, sched, cfg, func(emoji string) {
		s.pool.Add(emoji, SourceReplay)
	})

	if s.broadcaster != nil {
		cancel, err := s.broadcaster.Subscribe(s.episodeID, s.viewerID, s.deliverLive)
		if err != nil {
			slog.Warn("overlay: live channel unavailable", "episode_id", s.episodeID, "error", err)
		} else {
			s.unsubscribe = cancel
		}
	}
	return s, nil
}

func (s *Session) EpisodeID() string                 { return s.episodeID }
func (s *Session) Pool() *Pool                       { return s.pool }
func (s *Session) Gate() *CinematicGate              { return s.gate }
func (s *Session) Composer() *Cell[ComposerState]    { return s.composer }
func (s *Session) Ended() *Cell[bool]                { return s.ended }
func (s *Session) ReplayState() *ReplayState         { return s.replayState }
func (s *Session) CurrentSecond() int                { return s.clock.CurrentSecond() }
func (s *Session) VisibleComments() []VisibleComment { return s.window.Visible() }

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Dispatch hands fn to the session's execution context. It blocks while the
// inbox is full and returns false once the session is closed.
func (s *Session) Dispatch(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.inbox <- fn:
		return true
	case <-s.done:
		return false
	}
}

// tryDispatch drops fn instead of waiting for room.
func (s *Session) tryDispatch(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.inbox <- fn:
		return true
	default:
		return false
	}
}

// Flush runs queued work without blocking.
func (s *Session) Flush() int {
	ran := 0
	for !s.closed() {
		select {
		case fn := <-s.inbox:
			fn()
			ran++
		default:
			return ran
		}
	}
	return ran
}

// RunDue runs timers that are due: staggered spawns, bubble and comment
// expiries.
func (s *Session) RunDue() int {
	if s.closed() {
		return 0
	}
	return s.sched.RunDue()
}

// Run drives the session until ctx is done or the session is closed.
func (s *Session) Run(ctx context.Context) error {
	defer s.Close()
	for {
		s.Flush()
		s.RunDue()
		if s.closed() {
			return nil
		}

		var fire <-chan time.Time
		if due, ok := s.sched.NextDue(); ok {
			fire = s.clk.After(due.Sub(s.clk.Now()))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case fn := <-s.inbox:
			fn()
		case <-fire:
		}
	}
}

// Close cancels every pending timer, leaves the live channel and drops
// queued work. It is safe to call more than once. While Run is active, stop
// the session by cancelling its context or with Dispatch(s.Close).
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.sched.Close()
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		s.composer.clear()
		s.ended.clear()
		s.gate.cell.clear()
	})
}

// OnTimeUpdate consumes one engine time-update notification.
func (s *Session) OnTimeUpdate(position float64, loaded bool) Firing {
	if s.closed() {
		return Firing{}
	}
	second := s.clock.Sample(position, loaded)
	seeked := s.clock.Seeked()
	if seeked {
		slog.Debug("overlay: seek detected", "episode_id", s.episodeID, "second", second)
		s.ended.Set(false)
	}
	firing := s.replay.Update(s.replayState, second)
	s.window.Update(second, seeked)
	if firing.Fired {
		slog.Debug("overlay: bucket fired", "episode_id", s.episodeID, "second", second, "bubbles", len(firing.Spawns))
	}
	return firing
}

func (s *Session) OnEnded() {
	if s.closed() {
		return
	}
	s.ended.Set(true)
}

// Render returns the frame to draw. In cinematic mode the passive overlays
// are hidden while everything underneath keeps running.
func (s *Session) Render() Frame {
	f := Frame{
		Second:    s.clock.CurrentSecond(),
		Cinematic: s.gate.Enabled(),
		Ended:     s.ended.Get(),
	}
	if f.Cinematic {
		return f
	}
	f.Comments = s.window.Visible()
	f.Bubbles = s.pool.Bubbles()
	return f
}

func (s *Session) deliverLive(event LiveReactionEvent) {
	if !s.tryDispatch(func() { s.receiveLive(event) }) {
		slog.Debug("overlay: live reaction dropped", "episode_id", s.episodeID)
	}
}

func (s *Session) receiveLive(event LiveReactionEvent) {
	if event.EpisodeID != s.episodeID || event.OriginViewer == s.viewerID {
		return
	}
	if msg := validate.Emoji(event.Emoji); msg != "" {
		return
	}
	s.pool.Add(event.Emoji, SourceLive)
}

// React is the reaction submission entry point: a local bubble right away,
// then an asynchronous live broadcast and a fire-and-forget recording for
// future viewers.
func (s *Session) React(emoji string) error {
	if s.closed() {
		return ErrSessionClosed
	}
	if !s.authenticated {
		return ErrNotAuthenticated
	}
	if msg := validate.Emoji(emoji); msg != "" {
		return fmt.Errorf("%w: %s", ErrInvalidReaction, msg)
	}

	second := s.clock.CurrentSecond()
	s.pool.Add(emoji, SourceLocal)

	event := LiveReactionEvent{
		EpisodeID:        s.episodeID,
		Emoji:            emoji,
		TimestampSeconds: second,
		OriginViewer:     s.viewerID,
	}
	if s.broadcaster != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			defer cancel()
			if err := s.broadcaster.Publish(ctx, event); err != nil {
				slog.Debug("overlay: live reaction publish failed", "episode_id", s.episodeID, "error", err)
			}
		}()
	}
	if s.recorder != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			defer cancel()
			if err := s.recorder.RecordReactionOccurrence(ctx, s.episodeID, second, emoji); err != nil {
				slog.Debug("overlay: reaction recording failed", "episode_id", s.episodeID, "error", err)
			}
		}()
	}
	return nil
}

// OpenComposer pauses playback and captures the current second for a new
// comment.
func (s *Session) OpenComposer() error {
	if s.closed() {
		return ErrSessionClosed
	}
	if !s.authenticated {
		return ErrNotAuthenticated
	}
	state := s.composer.Get()
	if state.Submitting {
		return ErrSubmitInFlight
	}
	if state.Open {
		return nil
	}
	s.pause()
	s.composer.Set(ComposerState{
		Open:             true,
		TimestampSeconds: s.clock.CurrentSecond(),
		LastPostedID:     state.LastPostedID,
	})
	return nil
}

func (s *Session) SetDraft(text string) {
	state := s.composer.Get()
	if !state.Open {
		return
	}
	state.Draft = text
	s.composer.Set(state)
}

// CloseComposer aborts the pending capture, discards the draft and resumes
// playback.
func (s *Session) CloseComposer() {
	state := s.composer.Get()
	if !state.Open {
		return
	}
	s.composer.Set(ComposerState{LastPostedID: state.LastPostedID})
	s.play()
}

// SubmitComment posts content at the captured second. The composer closes
// and playback resumes right away; the result arrives later through the
// session's execution context. On failure the composer reopens with the
// content preserved and playback paused.
func (s *Session) SubmitComment(content string) error {
	if s.closed() {
		return ErrSessionClosed
	}
	state := s.composer.Get()
	if !state.Open {
		return ErrComposerClosed
	}
	if state.Submitting {
		return ErrSubmitInFlight
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return fmt.Errorf("%w: comment is required", ErrInvalidComment)
	}
	if msg := validate.CommentBody(content); msg != "" {
		return fmt.Errorf("%w: %s", ErrInvalidComment, msg)
	}
	if s.persister == nil {
		return fmt.Errorf("overlay: no comment persister configured")
	}

	second := state.TimestampSeconds
	s.submitSeq++
	seq := s.submitSeq
	s.composer.Set(ComposerState{
		TimestampSeconds: second,
		Submitting:       true,
		LastPostedID:     state.LastPostedID,
	})
	s.play()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		comment, err := s.persister.PersistComment(ctx, s.episodeID, content, second)
		s.Dispatch(func() { s.finishSubmit(seq, second, content, comment, err) })
	}()
	return nil
}

func (s *Session) finishSubmit(seq uint64, second int, content string, comment Comment, err error) {
	if seq != s.submitSeq {
		return
	}
	state := s.composer.Get()
	if err != nil {
		slog.Warn("overlay: comment post failed", "episode_id", s.episodeID, "second", second, "error", err)
		s.pause()
		s.composer.Set(ComposerState{
			Open:             true,
			TimestampSeconds: second,
			Draft:            content,
			Err:              err.Error(),
			Retryable:        true,
			LastPostedID:     state.LastPostedID,
		})
		return
	}
	s.composer.Set(ComposerState{LastPostedID: comment.ID})
}

func (s *Session) pause() {
	if s.playback != nil {
		s.playback.Pause()
	}
}

func (s *Session) play() {
	if s.playback != nil {
		s.playback.Play()
	}
}
