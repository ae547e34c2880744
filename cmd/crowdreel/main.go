package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/crowdreel/crowdreel/internal/broadcast"
	"github.com/crowdreel/crowdreel/internal/database"
	"github.com/crowdreel/crowdreel/internal/reaction"
	"github.com/crowdreel/crowdreel/internal/server"
	"github.com/crowdreel/crowdreel/internal/snapshot"
	"github.com/crowdreel/crowdreel/internal/storage"
)

func main() {
	slog.SetDefault(newLogger(os.Stderr, os.Getenv("LOG_FORMAT"), os.Getenv("LOG_LEVEL")))

	port := getEnv("PORT", "8080")

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := database.Connect(ctx, databaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(databaseURL); err != nil {
		log.Fatalf("database migration failed: %v", err)
	}
	slog.Info("crowdreel: database migrations applied")

	baseURL := getEnv("BASE_URL", "http://localhost:8080")

	var archiveStorage snapshot.ObjectStorage
	if bucket := os.Getenv("S3_BUCKET"); bucket != "" {
		store, err := storage.New(ctx, storage.Config{
			Endpoint:       getEnv("S3_ENDPOINT", "http://localhost:3900"),
			PublicEndpoint: os.Getenv("S3_PUBLIC_ENDPOINT"),
			Bucket:         bucket,
			AccessKey:      os.Getenv("S3_ACCESS_KEY"),
			SecretKey:      os.Getenv("S3_SECRET_KEY"),
			Region:         getEnv("S3_REGION", "eu-central-1"),
			MaxObjectBytes: getEnvInt64("MAX_ARCHIVE_BYTES", 32*1024*1024),
		})
		if err != nil {
			log.Fatalf("storage initialization failed: %v", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			log.Fatalf("storage bucket check failed: %v", err)
		}
		if err := store.SetCORS(ctx, []string{baseURL}); err != nil {
			slog.Warn("crowdreel: could not set bucket CORS", "error", err)
		}
		archiveStorage = store
		slog.Info("crowdreel: snapshot archives enabled", "bucket", bucket)
	}

	hub := broadcast.NewHub(int(getEnvInt64("LIVE_BUFFER_SIZE", broadcast.DefaultBufferSize)))
	recorder := reaction.NewAsyncRecorder(reaction.NewStore(db.Pool), int(getEnvInt64("REACTION_QUEUE_SIZE", reaction.DefaultQueueSize)))

	srv := server.New(server.Config{
		DB:               db.Pool,
		Pinger:           db,
		Hub:              hub,
		Recorder:         recorder,
		Storage:          archiveStorage,
		JWTSecret:        jwtSecret,
		BaseURL:          baseURL,
		AllowedOrigin:    os.Getenv("ALLOWED_ORIGIN"),
		S3PublicEndpoint: os.Getenv("S3_PUBLIC_ENDPOINT"),
		EnableDocs:       getEnv("API_DOCS_ENABLED", "false") == "true",
	})

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	recorder.Start(workerCtx)
	srv.StartBackground(workerCtx, getEnvDuration("ARCHIVE_INTERVAL", 5*time.Minute))

	// No WriteTimeout: live reaction connections are long-lived.
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("crowdreel: listening", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-shutdownCh
	slog.Info("crowdreel: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := hub.Close(); err != nil {
		slog.Error("crowdreel: live hub close failed", "error", err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown failed: %v", err)
	}
	if err := recorder.Shutdown(shutdownCtx); err != nil {
		slog.Error("crowdreel: reaction recorder did not drain", "error", err)
	}
	workerCancel()
	slog.Info("crowdreel: shutdown complete", "reactions", recorder.Stats())
}

func newLogger(w io.Writer, format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
