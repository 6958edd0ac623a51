// Package session wires the relay, the speaker detection engine, and the
// lifecycle monitor into one supervised meeting session and owns its
// teardown order.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/shaike1/vexai-msteams/internal/config"
	"github.com/shaike1/vexai-msteams/internal/lifecycle"
	"github.com/shaike1/vexai-msteams/internal/observe"
	"github.com/shaike1/vexai-msteams/internal/presence"
	"github.com/shaike1/vexai-msteams/internal/relay"
	"github.com/shaike1/vexai-msteams/internal/speaker"
)

// AudioRelay is the backend connection the session feeds. Satisfied by
// [relay.Relay]; tests substitute a mock.
type AudioRelay interface {
	Run(ctx context.Context)
	SubmitAudioFrame(samples []float32, sampleRate int) bool
	SubmitSpeakerEvent(ev relay.SpeakerEvent) bool
	Ready() bool
	Close() error
}

// Config holds the dependencies for a [Session].
type Config struct {
	// Cfg is the loaded application configuration.
	Cfg *config.Config

	// Source is the presence surface for the meeting page.
	Source presence.Source

	// Dialer overrides the relay's websocket dialer; for tests.
	Dialer relay.Dialer

	// Relay overrides the constructed relay entirely; for tests.
	Relay AudioRelay

	// Metrics records session instruments. May be nil.
	Metrics *observe.Metrics

	// Now overrides the clock; for tests.
	Now func() time.Time
}

// Session is one meeting attendance from join to termination. Create with
// [New], drive with [Session.Run]. All exported methods are safe for
// concurrent use.
type Session struct {
	uid     string
	cfg     *config.Config
	source  presence.Source
	relay   AudioRelay
	engine  *speaker.Engine
	monitor *lifecycle.Monitor
	metrics *observe.Metrics
	now     func() time.Time

	mu sync.Mutex
	// language and task feed the handshake snapshot; Reconfigure swaps them
	// and the next reconnect picks them up.
	language string
	task     string
	// anchor is the wall time of the first audio frame the backend accepted.
	// Speaker events observed before the anchor have no meaningful relative
	// timestamp and are dropped.
	started bool
	anchor  time.Time
	reason  lifecycle.Reason

	// closers run in reverse order during teardown.
	closers []func() error
}

// New assembles a [Session] from configuration. The relay, detection engine,
// and lifecycle monitor are constructed here so their wiring stays in one
// place.
func New(cfg Config) *Session {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	s := &Session{
		uid:      uuid.NewString(),
		cfg:      cfg.Cfg,
		source:   cfg.Source,
		metrics:  cfg.Metrics,
		now:      now,
		language: cfg.Cfg.Bot.Language,
		task:     string(cfg.Cfg.Bot.Task),
	}

	s.relay = cfg.Relay
	if s.relay == nil {
		s.relay = relay.New(relay.Config{
			URL:           cfg.Cfg.Backend.URL,
			RetryInterval: cfg.Cfg.Backend.RetryInterval(),
			HandshakeWarn: cfg.Cfg.Backend.HandshakeWarn(),
			Dialer:        cfg.Dialer,
			Handshake:     s.handshake,
			Metrics:       cfg.Metrics,
		})
	}

	s.engine = speaker.New(speaker.Config{
		Source:         cfg.Source,
		Sink:           s.handleSpeakerEvent,
		BotName:        cfg.Cfg.Bot.Name,
		Debounce:       cfg.Cfg.Detection.Debounce(),
		PollInterval:   cfg.Cfg.Detection.PollInterval(),
		SampleInterval: cfg.Cfg.Detection.IndicatorPoll(),
		RosterInterval: cfg.Cfg.Detection.RosterPoll(),
		Metrics:        cfg.Metrics,
		Now:            now,
	})

	s.monitor = lifecycle.New(lifecycle.Config{
		Counter:                    s.engine,
		Removal:                    cfg.Source,
		StartupAloneTimeoutSeconds: cfg.Cfg.Lifecycle.StartupAloneTimeout(),
		EveryoneLeftTimeoutSeconds: cfg.Cfg.Lifecycle.EveryoneLeftTimeout(),
		Metrics:                    cfg.Metrics,
	})

	return s
}

// UID returns the session's unique identifier, sent in the handshake.
func (s *Session) UID() string { return s.uid }

// BackendReady reports whether the transcription backend has acknowledged
// the current connection. Used by the readiness probe.
func (s *Session) BackendReady() bool { return s.relay.Ready() }

// handshake snapshots the current session identity for the relay. It is
// re-evaluated on every reconnect, which is how Reconfigure takes effect.
func (s *Session) handshake() relay.Handshake {
	s.mu.Lock()
	language, task := s.language, s.task
	s.mu.Unlock()
	return relay.NewHandshake(
		s.uid,
		language,
		task,
		s.cfg.Bot.Platform,
		s.cfg.Bot.Token,
		s.cfg.Bot.MeetingURL,
		s.cfg.Bot.MeetingID,
	)
}

// Reconfigure updates the transcription language and task. The change is
// applied at the next handshake; the live connection is not disturbed.
func (s *Session) Reconfigure(language, task string) error {
	if task != "" && !config.Task(task).IsValid() {
		return fmt.Errorf("session: invalid task %q", task)
	}
	s.mu.Lock()
	if language != "" {
		s.language = language
	}
	if task != "" {
		s.task = task
	}
	s.mu.Unlock()
	slog.Info("session: reconfigured, applies at next handshake",
		"session_uid", s.uid, "language", language, "task", task)
	return nil
}

// Run attends the meeting until a termination reason is reached or ctx is
// cancelled. It returns the reason ("" on bare cancellation) and the first
// supervision error, if any.
func (s *Session) Run(ctx context.Context) (lifecycle.Reason, error) {
	s.source.SetAudioHandler(s.handleAudio)
	if err := s.source.Start(ctx); err != nil {
		return "", fmt.Errorf("session: start presence source: %w", err)
	}
	s.closers = append(s.closers, s.source.Close, s.relay.Close)

	slog.Info("session: starting",
		"session_uid", s.uid,
		"platform", s.cfg.Bot.Platform,
		"meeting_id", s.cfg.Bot.MeetingID,
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		s.relay.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return s.engine.Run(gctx)
	})
	g.Go(func() error {
		if r := s.monitor.Run(gctx); r != "" {
			s.setReason(r)
			cancel()
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-s.source.Terminations():
			slog.Info("session: meeting page gone", "session_uid", s.uid)
			s.setReason(lifecycle.ReasonPageClosed)
			s.countPageClosed(gctx)
			cancel()
		}
		return nil
	})

	err := g.Wait()
	s.teardown()

	s.mu.Lock()
	reason := s.reason
	s.mu.Unlock()
	slog.Info("session: ended", "session_uid", s.uid, "reason", string(reason))
	return reason, err
}

// handleAudio forwards one captured batch to the relay and anchors the
// session clock on the first batch the backend accepts.
func (s *Session) handleAudio(samples []float32, sampleRate int) bool {
	ok := s.relay.SubmitAudioFrame(samples, sampleRate)
	if !ok {
		return false
	}
	s.mu.Lock()
	if !s.started {
		s.started = true
		s.anchor = s.now()
		slog.Info("session: audio streaming started", "session_uid", s.uid, "sample_rate", sampleRate)
	}
	s.mu.Unlock()
	return true
}

// handleSpeakerEvent translates a detection event into a relay speaker event
// with a timestamp relative to the audio anchor. Events observed before any
// audio has been accepted are dropped.
func (s *Session) handleSpeakerEvent(ev speaker.Event) {
	s.mu.Lock()
	started, anchor := s.started, s.anchor
	s.mu.Unlock()
	if !started {
		slog.Debug("session: dropping speaker event before audio start",
			"event", ev.Type, "participant", ev.ParticipantName)
		return
	}

	rel := ev.At.Sub(anchor).Milliseconds()
	if rel < 0 {
		rel = 0
	}
	s.relay.SubmitSpeakerEvent(relay.NewSpeakerEvent(ev.Type, ev.ParticipantName, ev.ParticipantID, rel))
}

// setReason records the terminal reason; the first writer wins.
func (s *Session) setReason(r lifecycle.Reason) {
	s.mu.Lock()
	if s.reason == "" {
		s.reason = r
	}
	s.mu.Unlock()
}

func (s *Session) countPageClosed(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	s.metrics.SessionTerminations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", string(lifecycle.ReasonPageClosed))))
}

// teardown runs closers in reverse registration order.
func (s *Session) teardown() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.Warn("session: close error", "session_uid", s.uid, "err", err)
		}
	}
	s.closers = nil
}
