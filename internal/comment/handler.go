package comment

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/crowdreel/crowdreel/internal/auth"
	"github.com/crowdreel/crowdreel/internal/httputil"
	"github.com/crowdreel/crowdreel/internal/validate"
	"github.com/go-chi/chi/v5"
)

type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

type postCommentRequest struct {
	Content          string `json:"content"`
	TimestampSeconds *int   `json:"timestampSeconds"`
}

func (h *Handler) Post(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	episodeID := chi.URLParam(r, "episodeID")
	if msg := validate.EpisodeID(episodeID); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	var req postCommentRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		httputil.WriteError(w, http.StatusBadRequest, "comment content is required")
		return
	}
	if msg := validate.CommentBody(req.Content); msg != "" {
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

	c, err := h.store.Create(r.Context(), episodeID, userID, req.Content, *req.TimestampSeconds)
	if err != nil {
		slog.Error("comment: failed to save comment", "episode_id", episodeID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not save comment")
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, c)
}
