package validate

import (
	"fmt"
	"unicode/utf8"
)

// Field limits shared by the API handlers and the overlay engine.
const (
	MaxCommentBodyLength = 500
	MaxEpisodeIDLength   = 64
	MaxViewerIDLength    = 64
	MaxTimestampSeconds  = 24 * 60 * 60
)

// ReactionEmojis is the reaction palette offered by the player, in display
// order.
var ReactionEmojis = []string{"❤️", "😂", "😮", "😢", "🔥", "💯", "👏", "🎉"}

var reactionSet = buildReactionSet()

func buildReactionSet() map[string]bool {
	set := make(map[string]bool, len(ReactionEmojis))
	for _, emoji := range ReactionEmojis {
		set[emoji] = true
	}
	return set
}

func checkLen(value string, max int, field string) string {
	if utf8.RuneCountInString(value) > max {
		return fmt.Sprintf("%s must be %d characters or fewer", field, max)
	}
	return ""
}

func CommentBody(s string) string { return checkLen(s, MaxCommentBodyLength, "comment") }

func Emoji(s string) string {
	if s == "" {
		return "emoji is required"
	}
	if !reactionSet[s] {
		return "unsupported reaction"
	}
	return ""
}

func EpisodeID(s string) string { return identifier(s, MaxEpisodeIDLength, "episode id") }

// ViewerID checks the per-session identifier a player sends when joining the
// live channel.
func ViewerID(s string) string { return identifier(s, MaxViewerIDLength, "viewer id") }

func identifier(s string, max int, field string) string {
	if s == "" {
		return field + " is required"
	}
	if msg := checkLen(s, max, field); msg != "" {
		return msg
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return field + " contains invalid characters"
		}
	}
	return ""
}

func TimestampSeconds(ts int) string {
	if ts < 0 {
		return "timestamp must not be negative"
	}
	if ts > MaxTimestampSeconds {
		return fmt.Sprintf("timestamp must be at most %d seconds", MaxTimestampSeconds)
	}
	return ""
}

// FieldLimits returns a map of field names to max lengths for the /api/limits endpoint.
func FieldLimits() map[string]int {
	return map[string]int{
		"commentBody":      MaxCommentBodyLength,
		"episodeId":        MaxEpisodeIDLength,
		"viewerId":         MaxViewerIDLength,
		"timestampSeconds": MaxTimestampSeconds,
	}
}
