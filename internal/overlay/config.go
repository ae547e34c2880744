package overlay

import "time"

const (
	DefaultReactionCap        = 10
	DefaultSpawnStagger       = 100 * time.Millisecond
	DefaultBubbleLifetime     = 3 * time.Second
	DefaultCommentWindow      = 3
	DefaultCommentDisplay     = 5 * time.Second
	DefaultCommentEntry       = 300 * time.Millisecond
	DefaultMaxVisibleComments = 6
	DefaultSeekTolerance      = 1
)

type Config struct {
	// ReactionCap bounds how many bubbles a single emoji entry of one bucket
	// may spawn, however large its historical count.
	ReactionCap    int
	SpawnStagger   time.Duration
	BubbleLifetime time.Duration

	// CommentWindow is the trailing window W in seconds.
	CommentWindow      int
	CommentDisplay     time.Duration
	CommentEntry       time.Duration
	MaxVisibleComments int // 0 disables the cap

	SeekTolerance int

	// Horizontal bubble placement range in percent of the player width.
	BubbleXMin float64
	BubbleXMax float64
}

func DefaultConfig() Config {
	return Config{
		ReactionCap:        DefaultReactionCap,
		SpawnStagger:       DefaultSpawnStagger,
		BubbleLifetime:     DefaultBubbleLifetime,
		CommentWindow:      DefaultCommentWindow,
		CommentDisplay:     DefaultCommentDisplay,
		CommentEntry:       DefaultCommentEntry,
		MaxVisibleComments: DefaultMaxVisibleComments,
		SeekTolerance:      DefaultSeekTolerance,
		BubbleXMin:         10,
		BubbleXMax:         90,
	}
}

// withDefaults fills zero fields so a partially populated Config is usable.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ReactionCap <= 0 {
		c.ReactionCap = d.ReactionCap
	}
	if c.SpawnStagger <= 0 {
		c.SpawnStagger = d.SpawnStagger
	}
	if c.BubbleLifetime <= 0 {
		c.BubbleLifetime = d.BubbleLifetime
	}
	if c.CommentWindow <= 0 {
		c.CommentWindow = d.CommentWindow
	}
	if c.CommentDisplay <= 0 {
		c.CommentDisplay = d.CommentDisplay
	}
	if c.CommentEntry <= 0 {
		c.CommentEntry = d.CommentEntry
	}
	if c.MaxVisibleComments < 0 {
		c.MaxVisibleComments = 0
	}
	if c.SeekTolerance <= 0 {
		c.SeekTolerance = d.SeekTolerance
	}
	if c.BubbleXMax <= c.BubbleXMin {
		c.BubbleXMin, c.BubbleXMax = d.BubbleXMin, d.BubbleXMax
	}
	return c
}
