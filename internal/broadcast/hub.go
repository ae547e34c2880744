// Package broadcast fans live reactions out to every viewer watching the same
// episode.
//
// Delivery is best effort: Publish never blocks, and a subscriber whose
// buffer is full misses the event. Drops are counted per subscriber and
// never reported to the publisher.
package broadcast

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/crowdreel/crowdreel/internal/overlay"
	"github.com/google/uuid"
)

const DefaultBufferSize = 32

var (
	ErrHubClosed          = errors.New("broadcast: hub is closed")
	ErrSubscriberNotFound = errors.New("broadcast: subscriber not found")
)

// Stats is a snapshot of hub counters.
type Stats struct {
	TotalPublished uint64                     `json:"totalPublished"`
	TotalSent      uint64                     `json:"totalSent"`
	TotalDropped   uint64                     `json:"totalDropped"`
	Topics         int                        `json:"topics"`
	Subscribers    map[string]SubscriberStats `json:"subscribers"`
}

type SubscriberStats struct {
	EpisodeID string `json:"episodeId"`
	ViewerID  string `json:"viewerId"`
	Sent      uint64 `json:"sent"`
	Dropped   uint64 `json:"dropped"`
}

// Subscription receives the events of one episode topic until it is
// unsubscribed or the hub closes, at which point Events is closed.
type Subscription struct {
	ID        string
	EpisodeID string
	ViewerID  string
	Events    <-chan overlay.LiveReactionEvent
}

type subscriber struct {
	sub     *Subscription
	ch      chan overlay.LiveReactionEvent
	sent    atomic.Uint64
	dropped atomic.Uint64
}

type Hub struct {
	mu         sync.RWMutex
	topics     map[string]map[string]*subscriber
	bufferSize int
	closed     bool

	totalPublished atomic.Uint64
	// counters of subscribers that already left
	retiredSent    atomic.Uint64
	retiredDropped atomic.Uint64
}

func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		topics:     make(map[string]map[string]*subscriber),
		bufferSize: bufferSize,
	}
}

// Subscribe joins the episode topic, creating it on first use. viewerID
// identifies the watching session so its own reactions are not echoed back.
func (h *Hub) Subscribe(episodeID, viewerID string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}

	ch := make(chan overlay.LiveReactionEvent, h.bufferSize)
	s := &subscriber{
		sub: &Subscription{
			ID:        uuid.NewString(),
			EpisodeID: episodeID,
			ViewerID:  viewerID,
			Events:    ch,
		},
		ch: ch,
	}

	topic, ok := h.topics[episodeID]
	if !ok {
		topic = make(map[string]*subscriber)
		h.topics[episodeID] = topic
	}
	topic[s.sub.ID] = s
	return s.sub, nil
}

// Unsubscribe leaves the topic and closes the subscription's channel. Empty
// topics are removed.
func (h *Hub) Unsubscribe(sub *Subscription) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}

	topic, ok := h.topics[sub.EpisodeID]
	if !ok {
		return ErrSubscriberNotFound
	}
	s, ok := topic[sub.ID]
	if !ok {
		return ErrSubscriberNotFound
	}

	delete(topic, sub.ID)
	if len(topic) == 0 {
		delete(h.topics, sub.EpisodeID)
	}
	h.retire(s)
	return nil
}

// Publish delivers event to every subscriber of its episode except the
// origin viewer and returns how many received it. Publishing on a closed hub
// is a no-op.
func (h *Hub) Publish(event overlay.LiveReactionEvent) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return 0
	}
	h.totalPublished.Add(1)

	delivered := 0
	for _, s := range h.topics[event.EpisodeID] {
		if event.OriginViewer != "" && s.sub.ViewerID == event.OriginViewer {
			continue
		}
		select {
		case s.ch <- event:
			s.sent.Add(1)
			delivered++
		default:
			s.dropped.Add(1)
		}
	}
	return delivered
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := Stats{
		TotalPublished: h.totalPublished.Load(),
		TotalSent:      h.retiredSent.Load(),
		TotalDropped:   h.retiredDropped.Load(),
		Topics:         len(h.topics),
		Subscribers:    make(map[string]SubscriberStats),
	}
	for _, topic := range h.topics {
		for id, s := range topic {
			sent, dropped := s.sent.Load(), s.dropped.Load()
			stats.TotalSent += sent
			stats.TotalDropped += dropped
			stats.Subscribers[id] = SubscriberStats{
				EpisodeID: s.sub.EpisodeID,
				ViewerID:  s.sub.ViewerID,
				Sent:      sent,
				Dropped:   dropped,
			}
		}
	}
	return stats
}

// Close closes every subscription. Later Subscribe calls fail and Publish
// does nothing.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	h.closed = true
	for episodeID, topic := range h.topics {
		for _, s := range topic {
			h.retire(s)
		}
		delete(h.topics, episodeID)
	}
	return nil
}

func (h *Hub) retire(s *subscriber) {
	h.retiredSent.Add(s.sent.Load())
	h.retiredDropped.Add(s.dropped.Load())
	close(s.ch)
}
