package snapshot

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/crowdreel/crowdreel/internal/httputil"
	"github.com/crowdreel/crowdreel/internal/validate"
	"github.com/go-chi/chi/v5"
)

const archiveURLExpiry = 15 * time.Minute

type Handler struct {
	builder  *Builder
	archiver *Archiver
}

// NewHandler serves snapshots. archiver may be nil when object storage is
// not configured.
func NewHandler(builder *Builder, archiver *Archiver) *Handler {
	return &Handler{builder: builder, archiver: archiver}
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	episodeID := chi.URLParam(r, "episodeID")
	if msg := validate.EpisodeID(episodeID); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	snap, err := h.builder.Build(r.Context(), episodeID)
	if err != nil {
		slog.Error("snapshot: failed to build snapshot", "episode_id", episodeID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not load overlay")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, snap)
}

type archiveResponse struct {
	EpisodeID     string    `json:"episodeId"`
	URL           string    `json:"url"`
	CommentCount  int       `json:"commentCount"`
	ReactionCount int64     `json:"reactionCount"`
	ArchivedAt    time.Time `json:"archivedAt"`
	ExpiresIn     int       `json:"expiresIn"`
}

func (h *Handler) GetArchive(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		httputil.WriteError(w, http.StatusNotFound, "archives are not enabled")
		return
	}

	episodeID := chi.URLParam(r, "episodeID")
	if msg := validate.EpisodeID(episodeID); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	archive, err := h.archiver.Lookup(r.Context(), episodeID)
	if err != nil {
		if errors.Is(err, ErrNoArchive) {
			httputil.WriteError(w, http.StatusNotFound, "no archive for episode")
			return
		}
		slog.Error("snapshot: failed to look up archive", "episode_id", episodeID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not load archive")
		return
	}

	url, err := h.archiver.DownloadURL(r.Context(), archive, archiveURLExpiry)
	if err != nil {
		slog.Error("snapshot: failed to presign archive", "episode_id", episodeID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not load archive")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, archiveResponse{
		EpisodeID:     episodeID,
		URL:           url,
		CommentCount:  archive.CommentCount,
		ReactionCount: archive.ReactionCount,
		ArchivedAt:    archive.ArchivedAt,
		ExpiresIn:     int(archiveURLExpiry.Seconds()),
	})
}
