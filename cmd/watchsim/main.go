// Command watchsim is a headless viewer. It loads an episode's overlay
// snapshot, joins the live reaction channel and plays the episode at a
// simulated pace, logging what the overlay would draw.
package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/crowdreel/crowdreel/internal/auth"
	"github.com/crowdreel/crowdreel/internal/broadcast"
	"github.com/crowdreel/crowdreel/internal/client"
	"github.com/crowdreel/crowdreel/internal/overlay"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "watchsim",
	Short:        "Play an episode headlessly and log the crowd overlay",
	SilenceUsage: true,
	RunE:         runWatch,
}

var (
	flagServerURL  string
	flagToken      string
	flagJWTSecret  string
	flagUserID     string
	flagEpisode    string
	flagViewer     string
	flagDuration   time.Duration
	flagSpeed      float64
	flagTick       time.Duration
	flagSeeks      []string
	flagComments   []string
	flagReactEvery time.Duration
	flagEmoji      string
	flagCinematic  bool
	flagLogFormat  string
	flagLogLevel   string
)

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&flagServerURL, "server-url", getEnv("CROWDREEL_URL", "http://localhost:8080"), "crowdreel server base URL (env CROWDREEL_URL)")
	flags.StringVar(&flagToken, "token", os.Getenv("CROWDREEL_TOKEN"), "viewer access token (env CROWDREEL_TOKEN)")
	flags.StringVar(&flagJWTSecret, "jwt-secret", "", "mint a token locally with this secret instead of --token")
	flags.StringVar(&flagUserID, "user", "", "user id for a locally minted token")
	flags.StringVar(&flagEpisode, "episode", "", "episode id to watch")
	flags.StringVar(&flagViewer, "viewer", "", "viewer id on the live channel (random if empty)")
	flags.DurationVar(&flagDuration, "duration", time.Minute, "episode length")
	flags.Float64Var(&flagSpeed, "speed", 1, "playback rate")
	flags.DurationVar(&flagTick, "tick", 250*time.Millisecond, "time update interval")
	flags.StringSliceVar(&flagSeeks, "seek", nil, "seek when the playhead reaches a position, as at:to seconds; repeatable")
	flags.StringSliceVar(&flagComments, "comment", nil, "post a comment at a second, as second:text; repeatable")
	flags.DurationVar(&flagReactEvery, "react-every", 0, "send a reaction every interval of media time (0 disables)")
	flags.StringVar(&flagEmoji, "emoji", "🔥", "reaction emoji")
	flags.BoolVar(&flagCinematic, "cinematic", false, "hide passive overlays")
	flags.StringVar(&flagLogFormat, "log-format", "text", "log format: text or json")
	flags.StringVar(&flagLogLevel, "log-level", "info", "log level")
	_ = rootCmd.MarkFlagRequired("episode")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("watchsim: %v", err)
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	configureLogging(flagLogFormat, flagLogLevel)

	if flagSpeed <= 0 {
		return fmt.Errorf("speed must be positive")
	}
	if flagTick <= 0 {
		return fmt.Errorf("tick must be positive")
	}
	seeks, err := parseSeeks(flagSeeks)
	if err != nil {
		return err
	}
	comments, err := parseComments(flagComments)
	if err != nil {
		return err
	}

	token, err := resolveToken(flagToken, flagJWTSecret, flagUserID)
	if err != nil {
		return err
	}
	viewerID := flagViewer
	if viewerID == "" {
		viewerID = uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := client.New(flagServerURL, token)
	snap, err := api.FetchSnapshot(ctx, flagEpisode)
	if err != nil {
		return fmt.Errorf("load overlay snapshot: %w", err)
	}
	slog.Info("watchsim: snapshot loaded", "episode_id", flagEpisode, "comments", snap.CommentCount, "reactions", snap.ReactionCount)

	live := broadcast.NewClient(flagServerURL, token)
	defer live.Close()

	playback := &simPlayback{}
	opts := overlay.Options{
		EpisodeID:     flagEpisode,
		ViewerID:      viewerID,
		Authenticated: token != "",
		Comments:      snap.Comments,
		Reactions:     snap.Reactions,
		Broadcaster:   live,
		Playback:      playback,
	}
	if token != "" {
		opts.Persister = api
		opts.Recorder = api
	}
	session, err := overlay.NewSession(opts)
	if err != nil {
		return err
	}
	if flagCinematic {
		session.Gate().Set(true)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- session.Run(ctx) }()

	sim := &simulator{
		session:    session,
		playback:   playback,
		step:       flagTick.Seconds() * flagSpeed,
		duration:   flagDuration.Seconds(),
		seeks:      seeks,
		comments:   comments,
		reactEvery: flagReactEvery.Seconds(),
		emoji:      flagEmoji,
	}

	ticker := time.NewTicker(flagTick)
	defer ticker.Stop()
	for playing := true; playing; {
		select {
		case <-ctx.Done():
			playing = false
		case err := <-runErr:
			return err
		case <-ticker.C:
			playing = sim.tick()
			sim.observe()
		}
	}

	// let the last bubbles and comments expire before leaving
	if ctx.Err() == nil {
		select {
		case <-ctx.Done():
		case <-time.After(overlay.DefaultConfig().CommentDisplay):
		}
		sim.observe()
	}
	session.Dispatch(session.Close)
	if err := <-runErr; err != nil && ctx.Err() == nil {
		return err
	}
	slog.Info("watchsim: finished", "episode_id", flagEpisode, "viewer_id", viewerID)
	return nil
}

func resolveToken(token, secret, userID string) (string, error) {
	if token != "" || secret == "" {
		return token, nil
	}
	if userID == "" {
		return "", fmt.Errorf("--user is required with --jwt-secret")
	}
	return auth.GenerateAccessToken(secret, userID)
}

func configureLogging(format, level string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: l}
	if strings.EqualFold(format, "json") {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
		return
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
