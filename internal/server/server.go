package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/crowdreel/crowdreel/internal/auth"
	"github.com/crowdreel/crowdreel/internal/broadcast"
	"github.com/crowdreel/crowdreel/internal/comment"
	"github.com/crowdreel/crowdreel/internal/database"
	"github.com/crowdreel/crowdreel/internal/docs"
	"github.com/crowdreel/crowdreel/internal/httputil"
	"github.com/crowdreel/crowdreel/internal/overlay"
	"github.com/crowdreel/crowdreel/internal/ratelimit"
	"github.com/crowdreel/crowdreel/internal/reaction"
	"github.com/crowdreel/crowdreel/internal/snapshot"
	"github.com/crowdreel/crowdreel/internal/validate"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	DB        database.DBTX
	Pinger    Pinger
	Hub       *broadcast.Hub
	Recorder  overlay.ReactionRecorder
	Storage   snapshot.ObjectStorage
	JWTSecret string
	BaseURL   string
	// AllowedOrigin restricts browser websocket upgrades. Empty allows any.
	AllowedOrigin    string
	S3PublicEndpoint string
	EnableDocs       bool
}

type Server struct {
	router          chi.Router
	pinger          Pinger
	hub             *broadcast.Hub
	recorder        overlay.ReactionRecorder
	authHandler     *auth.Handler
	commentHandler  *comment.Handler
	reactionHandler *reaction.Handler
	snapshotHandler *snapshot.Handler
	liveHandler     *broadcast.Handler
	archiver        *snapshot.Archiver
	enableDocs      bool

	readLimiter     *ratelimit.Limiter
	commentLimiter  *ratelimit.Limiter
	reactionLimiter *ratelimit.Limiter
	liveLimiter     *ratelimit.Limiter
}

func New(cfg Config) *Server {
	r := chi.NewRouter()
	r.Use(slogMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders(SecurityConfig{
		BaseURL:         cfg.BaseURL,
		StorageEndpoint: cfg.S3PublicEndpoint,
	}))

	hub := cfg.Hub
	if hub == nil {
		hub = broadcast.NewHub(broadcast.DefaultBufferSize)
	}

	s := &Server{
		router:          r,
		pinger:          cfg.Pinger,
		hub:             hub,
		recorder:        cfg.Recorder,
		enableDocs:      cfg.EnableDocs,
		readLimiter:     ratelimit.NewLimiter(10, 30),
		commentLimiter:  ratelimit.NewLimiter(0.2, 5),
		reactionLimiter: ratelimit.NewLimiter(5, 20),
		liveLimiter:     ratelimit.NewLimiter(5, 20),
	}

	var authenticate broadcast.Authenticator
	if cfg.JWTSecret != "" {
		s.authHandler = auth.NewHandler(cfg.JWTSecret)
		authenticate = s.authHandler.ViewerFromRequest
	}
	s.liveHandler = broadcast.NewHandler(hub, authenticate, s.liveLimiter, cfg.AllowedOrigin)

	if cfg.DB != nil {
		if s.authHandler == nil {
			log.Fatal("JWT_SECRET is required; set the environment variable")
		}

		comments := comment.NewStore(cfg.DB)
		reactions := reaction.NewStore(cfg.DB)
		builder := snapshot.NewBuilder(comments, reactions, nil)
		if cfg.Storage != nil {
			s.archiver = snapshot.NewArchiver(cfg.DB, builder, cfg.Storage, nil)
		}

		s.commentHandler = comment.NewHandler(comments)
		s.snapshotHandler = snapshot.NewHandler(builder, s.archiver)
		if cfg.Recorder != nil {
			s.reactionHandler = reaction.NewHandler(cfg.Recorder)
		}
	}

	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// StartBackground runs the rate limiter cleanup loops and, when object
// storage is configured, the snapshot archive loop.
func (s *Server) StartBackground(ctx context.Context, archiveInterval time.Duration) {
	s.readLimiter.StartCleanupLoop(ctx)
	s.commentLimiter.StartCleanupLoop(ctx)
	s.reactionLimiter.StartCleanupLoop(ctx)
	s.liveLimiter.StartCleanupLoop(ctx)
	if s.archiver != nil && archiveInterval > 0 {
		snapshot.StartArchiveLoop(ctx, s.archiver, archiveInterval)
	}
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/limits", s.handleLimits)
	s.router.Get("/api/stats", s.handleStats)

	if s.enableDocs {
		s.router.Get("/api/docs", docs.HandleDocs)
		s.router.Get("/api/docs/openapi.yaml", docs.HandleSpec)
	}

	if s.snapshotHandler != nil {
		s.router.Route("/api/episodes/{episodeID}", func(r chi.Router) {
			r.With(s.authHandler.OptionalMiddleware, s.readLimiter.Middleware).Get("/overlay", s.snapshotHandler.Get)
			r.With(s.authHandler.OptionalMiddleware, s.readLimiter.Middleware).Get("/overlay/archive", s.snapshotHandler.GetArchive)
			r.With(s.authHandler.Middleware, s.commentLimiter.Middleware).Post("/comments", s.commentHandler.Post)
			if s.reactionHandler != nil {
				r.With(s.authHandler.Middleware, s.reactionLimiter.Middleware).Post("/reactions", s.reactionHandler.Post)
			}
		})
	}

	s.router.Get("/ws/episodes/{episodeID}", s.liveHandler.ServeHTTP)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy","error":"database unreachable"}`))
			return
		}
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type limitsResponse struct {
	Fields    map[string]int `json:"fields"`
	Reactions []string       `json:"reactions"`
}

func (s *Server) handleLimits(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, limitsResponse{
		Fields:    validate.FieldLimits(),
		Reactions: validate.ReactionEmojis,
	})
}

type recorderStatsReporter interface {
	Stats() reaction.RecorderStats
}

type statsResponse struct {
	Live      broadcast.Stats         `json:"live"`
	Reactions *reaction.RecorderStats `json:"reactions,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Live: s.hub.Stats()}
	if reporter, ok := s.recorder.(recorderStatsReporter); ok {
		stats := reporter.Stats()
		resp.Reactions = &stats
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
