// Command vexabot joins a Microsoft Teams meeting as an automated
// participant, relays captured audio to a transcription backend, and leaves
// on its own when the meeting is over or the bot is removed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/shaike1/vexai-msteams/internal/config"
	"github.com/shaike1/vexai-msteams/internal/health"
	"github.com/shaike1/vexai-msteams/internal/lifecycle"
	"github.com/shaike1/vexai-msteams/internal/observe"
	"github.com/shaike1/vexai-msteams/internal/presence/msteams"
	"github.com/shaike1/vexai-msteams/internal/session"
)

// version is stamped by the build.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	meetingURL := flag.String("meeting-url", "", "override bot.meeting_url from the config")
	chromeBin := flag.String("chrome-bin", "", "browser binary to launch (default: auto-detect)")
	showBrowser := flag.Bool("show-browser", false, "run the browser headful for debugging")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vexabot: %v\n", err)
		return 1
	}
	if *meetingURL != "" {
		cfg.Bot.MeetingURL = *meetingURL
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("vexabot starting",
		"version", version,
		"config", *configPath,
		"backend", cfg.Backend.URL,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Browser + meeting join ────────────────────────────────────────────────
	page, closeBrowser, err := msteams.Join(msteams.JoinConfig{
		MeetingURL:  cfg.Bot.MeetingURL,
		BotName:     cfg.Bot.Name,
		ChromeBin:   *chromeBin,
		ShowBrowser: *showBrowser,
	})
	if err != nil {
		slog.Error("failed to join meeting", "err", err)
		return 1
	}
	defer func() {
		if err := closeBrowser(); err != nil {
			slog.Warn("browser close error", "err", err)
		}
	}()

	// ── Session ───────────────────────────────────────────────────────────────
	source := msteams.New(msteams.Config{Page: page})
	sess := session.New(session.Config{
		Cfg:     cfg,
		Source:  source,
		Metrics: metrics,
	})

	// ── Health and metrics endpoints ──────────────────────────────────────────
	if cfg.Server.ListenAddr != "" {
		srv := serveHTTP(cfg.Server.ListenAddr, sess)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// ── Run until the session decides to leave ────────────────────────────────
	reason, err := sess.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("session error", "err", err)
		return 1
	}

	switch reason {
	case "":
		slog.Info("interrupted, leaving meeting")
	case lifecycle.ReasonRemovedByAdmin:
		slog.Info("left meeting: removed by admin")
	case lifecycle.ReasonStartupAloneTimeout, lifecycle.ReasonEveryoneLeftTimeout:
		slog.Info("left meeting: nobody there", "reason", string(reason))
	case lifecycle.ReasonPageClosed:
		slog.Info("left meeting: page closed")
	}
	return 0
}

// serveHTTP starts the health and metrics listener in the background.
func serveHTTP(addr string, sess *session.Session) *http.Server {
	mux := http.NewServeMux()
	health.New(health.BackendChecker(sess.BackendReady)).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("health and metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "err", err)
		}
	}()
	return srv
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
