package main

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/crowdreel/crowdreel/internal/overlay"
)

// simPlayback stands in for the video engine. The overlay pauses it while
// the comment composer is open.
type simPlayback struct {
	paused atomic.Bool
}

func (p *simPlayback) Play()        { p.paused.Store(false) }
func (p *simPlayback) Pause()       { p.paused.Store(true) }
func (p *simPlayback) Paused() bool { return p.paused.Load() }

type seek struct {
	at   float64
	to   float64
	done bool
}

type scheduledComment struct {
	at     int
	text   string
	posted bool
}

type frameSummary struct {
	second    int
	comments  int
	bubbles   int
	cinematic bool
	ended     bool
}

// simulator moves a simulated playhead and feeds it to an overlay session.
// tick is called from one goroutine; every session call goes through
// Dispatch.
type simulator struct {
	session  *overlay.Session
	playback *simPlayback

	step       float64
	duration   float64
	seeks      []seek
	comments   []scheduledComment
	reactEvery float64
	emoji      string

	position  float64
	nextReact float64
	last      frameSummary
}

// tick advances the playhead by one step. It returns false once playback
// has reached the end of the episode.
func (s *simulator) tick() bool {
	if s.playback.Paused() {
		return true
	}

	prev := s.position
	s.position += s.step
	for i := range s.seeks {
		sk := &s.seeks[i]
		if !sk.done && prev < sk.at && s.position >= sk.at {
			sk.done = true
			slog.Info("watchsim: seek", "from", sk.at, "to", sk.to)
			s.position = sk.to
			break
		}
	}

	if s.position >= s.duration {
		end := s.duration
		s.session.Dispatch(func() {
			s.session.OnTimeUpdate(end, true)
			s.session.OnEnded()
		})
		return false
	}

	pos := s.position
	s.session.Dispatch(func() { s.session.OnTimeUpdate(pos, true) })

	second := int(pos)
	for i := range s.comments {
		c := &s.comments[i]
		if c.posted || c.at != second {
			continue
		}
		c.posted = true
		text := c.text
		s.session.Dispatch(func() { s.postComment(text) })
	}

	if s.reactEvery > 0 && pos >= s.nextReact {
		s.nextReact = pos + s.reactEvery
		emoji := s.emoji
		s.session.Dispatch(func() {
			if err := s.session.React(emoji); err != nil {
				slog.Warn("watchsim: reaction rejected", "error", err)
			}
		})
	}
	return true
}

func (s *simulator) postComment(text string) {
	if err := s.session.OpenComposer(); err != nil {
		slog.Warn("watchsim: composer unavailable", "error", err)
		return
	}
	s.session.SetDraft(text)
	if err := s.session.SubmitComment(text); err != nil {
		slog.Warn("watchsim: comment rejected", "error", err)
		s.session.CloseComposer()
	}
}

// observe logs the rendered frame when it changes and gives up on a
// comment whose post failed so playback can continue.
func (s *simulator) observe() {
	s.session.Dispatch(func() {
		if state := s.session.Composer().Get(); state.Open && state.Err != "" {
			slog.Warn("watchsim: comment post failed, discarding draft", "second", state.TimestampSeconds, "error", state.Err)
			s.session.CloseComposer()
		}

		frame := s.session.Render()
		summary := frameSummary{
			second:    frame.Second,
			comments:  len(frame.Comments),
			bubbles:   len(frame.Bubbles),
			cinematic: frame.Cinematic,
			ended:     frame.Ended,
		}
		if summary == s.last {
			return
		}
		s.last = summary
		slog.Info("watchsim: frame",
			"second", summary.second,
			"comments", summary.comments,
			"bubbles", summary.bubbles,
			"emoji", bubbleEmoji(frame.Bubbles),
			"cinematic", summary.cinematic,
			"ended", summary.ended,
		)
	})
}

func bubbleEmoji(bubbles []overlay.Bubble) string {
	var b strings.Builder
	for _, bubble := range bubbles {
		b.WriteString(bubble.Emoji)
	}
	return b.String()
}

// parseSeeks reads "at:to" pairs in seconds, e.g. "30:10,45:40".
func parseSeeks(values []string) ([]seek, error) {
	seeks := make([]seek, 0, len(values))
	for _, v := range values {
		at, to, ok := strings.Cut(v, ":")
		if !ok {
			return nil, fmt.Errorf("seek %q: expected at:to", v)
		}
		atSec, err := strconv.ParseFloat(at, 64)
		if err != nil {
			return nil, fmt.Errorf("seek %q: %w", v, err)
		}
		toSec, err := strconv.ParseFloat(to, 64)
		if err != nil {
			return nil, fmt.Errorf("seek %q: %w", v, err)
		}
		if atSec < 0 || toSec < 0 {
			return nil, fmt.Errorf("seek %q: positions must not be negative", v)
		}
		seeks = append(seeks, seek{at: atSec, to: toSec})
	}
	sort.Slice(seeks, func(i, j int) bool { return seeks[i].at < seeks[j].at })
	return seeks, nil
}

// parseComments reads "second:text" entries.
func parseComments(values []string) ([]scheduledComment, error) {
	comments := make([]scheduledComment, 0, len(values))
	for _, v := range values {
		at, text, ok := strings.Cut(v, ":")
		if !ok || strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("comment %q: expected second:text", v)
		}
		second, err := strconv.Atoi(at)
		if err != nil || second < 0 {
			return nil, fmt.Errorf("comment %q: invalid second", v)
		}
		comments = append(comments, scheduledComment{at: second, text: text})
	}
	return comments, nil
}
