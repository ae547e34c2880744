package overlay

import (
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

type Source int

const (
	SourceReplay Source = iota
	SourceLive
	SourceLocal
)

func (s Source) String() string {
	switch s {
	case SourceReplay:
		return "replay"
	case SourceLive:
		return "live"
	case SourceLocal:
		return "local"
	default:
		return "unknown"
	}
}

type Bubble struct {
	ID        string    `json:"id"`
	Emoji     string    `json:"emoji"`
	X         float64   `json:"x"`
	SpawnedAt time.Time `json:"spawnedAt"`
	Source    Source    `json:"source"`
}

// Pool is the set of bubbles currently on screen. Every bubble removes itself
// when its lifetime ends; nothing else bounds the pool.
type Pool struct {
	sched    *Scheduler
	lifetime time.Duration
	xMin     float64
	xMax     float64
	rng      *rand.Rand

	bubbles map[string]*Bubble
	order   []string
	expiry  map[string]TaskID

	spawned   uint64
	completed uint64
}

func NewPool(sched *Scheduler, cfg Config, rng *rand.Rand) *Pool {
	cfg = cfg.withDefaults()
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Pool{
		sched:    sched,
		lifetime: cfg.BubbleLifetime,
		xMin:     cfg.BubbleXMin,
		xMax:     cfg.BubbleXMax,
		rng:      rng,
		bubbles:  make(map[string]*Bubble),
		expiry:   make(map[string]TaskID),
	}
}

// Add places a new bubble at a random horizontal position and schedules its
// completion.
func (p *Pool) Add(emoji string, source Source) Bubble {
	b := &Bubble{
		ID:        uuid.NewString(),
		Emoji:     emoji,
		X:         p.xMin + p.rng.Float64()*(p.xMax-p.xMin),
		SpawnedAt: p.sched.Now(),
		Source:    source,
	}
	p.bubbles[b.ID] = b
	p.order = append(p.order, b.ID)
	p.spawned++

	id := b.ID
	p.expiry[id] = p.sched.After(p.lifetime, func() {
		p.Complete(id)
	})
	return *b
}

// Complete removes a bubble whose animation finished. Completing a bubble
// that is already gone is a no-op.
func (p *Pool) Complete(id string) bool {
	if _, ok := p.bubbles[id]; !ok {
		return false
	}
	delete(p.bubbles, id)
	if task, ok := p.expiry[id]; ok {
		p.sched.Cancel(task)
		delete(p.expiry, id)
	}
	for i, v := range p.order {
		if v == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	p.completed++
	return true
}

// Bubbles lists live bubbles in spawn order.
func (p *Pool) Bubbles() []Bubble {
	out := make([]Bubble, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, *p.bubbles[id])
	}
	return out
}

func (p *Pool) Len() int {
	return len(p.bubbles)
}

// Stats returns the lifetime spawn and completion counters.
func (p *Pool) Stats() (spawned, completed uint64) {
	return p.spawned, p.completed
}
