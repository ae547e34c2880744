package reaction

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/crowdreel/crowdreel/internal/auth"
	"github.com/crowdreel/crowdreel/internal/httputil"
	"github.com/crowdreel/crowdreel/internal/overlay"
	"github.com/crowdreel/crowdreel/internal/validate"
	"github.com/go-chi/chi/v5"
)

type Handler struct {
	recorder overlay.ReactionRecorder
}

func NewHandler(recorder overlay.ReactionRecorder) *Handler {
	return &Handler{recorder: recorder}
}

type postReactionRequest struct {
	Emoji            string `json:"emoji"`
	TimestampSeconds *int   `json:"timestampSeconds"`
}

// Post accepts a reaction occurrence for future viewers. Recording happens
// asynchronously, so success is 202 Accepted.
func (h *Handler) Post(w http.ResponseWriter, r *http.Request) {
	if auth.UserIDFromContext(r.Context()) == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	episodeID := chi.URLParam(r, "episodeID")
	if msg := validate.EpisodeID(episodeID); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	var req postReactionRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validate.Emoji(req.Emoji); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	if req.TimestampSeconds == nil {
		httputil.WriteError(w, http.StatusBadRequest, "timestamp is required")
		return
	}
	if msg := validate.TimestampSeconds(*req.TimestampSeconds); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	if err := h.recorder.RecordReactionOccurrence(r.Context(), episodeID, *req.TimestampSeconds, req.Emoji); err != nil {
		if errors.Is(err, ErrQueueFull) {
			w.Header().Set("Retry-After", "1")
			httputil.WriteError(w, http.StatusServiceUnavailable, "reaction queue is full")
			return
		}
		slog.Error("reaction: failed to accept reaction", "episode_id", episodeID, "error", err)
		httputil.WriteError(w, http.StatusServiceUnavailable, "could not record reaction")
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
