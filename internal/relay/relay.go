// Package relay maintains the bot's single logical connection to the
// transcription backend. It performs the configuration handshake, gates audio
// on backend readiness, forwards binary PCM frames and speaker events, and
// reconnects indefinitely at a fixed interval when the backend drops.
//
// The relay never blocks the audio-producing side: a frame offered while the
// backend is not READY is dropped, not queued. Reconnection has no retry
// ceiling; only [Relay.Close] stops it.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/shaike1/vexai-msteams/internal/observe"
)

// State is the relay connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateReady
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	}
	return "unknown"
}

// writeTimeout bounds a single outbound write. Audio submission happens on
// the capture callback, which carries no context of its own.
const writeTimeout = 5 * time.Second

// Config configures a [Relay].
type Config struct {
	// URL is the backend websocket endpoint.
	URL string

	// RetryInterval is the fixed delay between connection attempts.
	// Defaults to 2s if zero. The retry loop is linear and unbounded.
	RetryInterval time.Duration

	// HandshakeWarn is how long to wait for SERVER_READY before logging a
	// warning. The connection is kept either way. Defaults to 30s if zero.
	HandshakeWarn time.Duration

	// Dialer establishes transports. Defaults to [WebsocketDialer].
	Dialer Dialer

	// Handshake returns the configuration message for a new connection. It
	// is re-evaluated on every reconnect, so mid-session language or task
	// changes take effect at the next handshake.
	Handshake func() Handshake

	// Metrics records relay instruments. May be nil.
	Metrics *observe.Metrics
}

// Relay owns the backend connection lifecycle. Create with [New], start the
// supervisor with [Relay.Run], and stop it with [Relay.Close]. All exported
// methods are safe for concurrent use.
type Relay struct {
	url           string
	retryInterval time.Duration
	handshakeWarn time.Duration
	dialer        Dialer
	handshake     func() Handshake
	metrics       *observe.Metrics

	mu    sync.Mutex
	state State
	conn  Transport

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a new [Relay] with the given configuration.
func New(cfg Config) *Relay {
	retry := cfg.RetryInterval
	if retry <= 0 {
		retry = 2 * time.Second
	}
	warn := cfg.HandshakeWarn
	if warn <= 0 {
		warn = 30 * time.Second
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = WebsocketDialer{}
	}
	handshake := cfg.Handshake
	if handshake == nil {
		handshake = func() Handshake { return Handshake{} }
	}
	return &Relay{
		url:           cfg.URL,
		retryInterval: retry,
		handshakeWarn: warn,
		dialer:        dialer,
		handshake:     handshake,
		metrics:       cfg.Metrics,
		done:          make(chan struct{}),
	}
}

// Run drives the connect → handshake → ready cycle until ctx is cancelled or
// [Relay.Close] is called. Only one connection attempt is ever in flight;
// failed or dropped connections are replaced after the fixed retry interval,
// with no upper bound on attempts.
func (r *Relay) Run(ctx context.Context) {
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		default:
		}

		r.runConnection(ctx, attempt)

		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-time.After(r.retryInterval):
		}
	}
}

// SubmitAudioFrame forwards one buffer of float32 samples to the backend.
// It reports whether the frame was actually sent. Frames offered while the
// relay is not READY are dropped immediately; there is no queue. The return
// value is diagnostic only; callers must never block capture on it.
func (r *Relay) SubmitAudioFrame(samples []float32, sampleRate int) bool {
	r.mu.Lock()
	conn := r.conn
	ready := r.state == StateReady
	r.mu.Unlock()

	if !ready || conn == nil {
		r.countFrame("dropped")
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := conn.WriteBinary(ctx, EncodePCM(samples)); err != nil {
		slog.Debug("relay: audio frame send failed", "err", err, "samples", len(samples), "sample_rate", sampleRate)
		r.dropConnection(conn)
		r.countFrame("failed")
		return false
	}
	if r.metrics != nil {
		r.metrics.AudioBytesSent.Add(context.Background(), int64(len(samples)*4))
	}
	r.countFrame("sent")
	return true
}

// SubmitSpeakerEvent forwards one speaker event. Unlike audio, events are
// accepted as soon as the transport is open (they are small and idempotent
// at the backend) but dropped while disconnected.
func (r *Relay) SubmitSpeakerEvent(ev SpeakerEvent) bool {
	r.mu.Lock()
	conn := r.conn
	open := r.state == StateHandshaking || r.state == StateReady
	r.mu.Unlock()

	if !open || conn == nil {
		return false
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := conn.WriteText(ctx, data); err != nil {
		r.dropConnection(conn)
		return false
	}
	return true
}

// State returns the current connection state.
func (r *Relay) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Ready reports whether the backend has acknowledged readiness on the
// current connection.
func (r *Relay) Ready() bool { return r.State() == StateReady }

// Close terminates the current transport and suppresses further automatic
// reconnection. Safe to call multiple times.
func (r *Relay) Close() error {
	r.stopOnce.Do(func() {
		close(r.done)
	})

	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.state = StateDisconnected
	r.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	return nil
}

// runConnection performs one full connection cycle: dial, handshake, then
// read inbound status messages until the transport fails or the relay stops.
func (r *Relay) runConnection(ctx context.Context, attempt int) {
	r.setState(StateConnecting, nil)
	if r.metrics != nil {
		r.metrics.RelayConnectAttempts.Add(ctx, 1)
	}

	conn, err := r.dialer.Dial(ctx, r.url)
	if err != nil {
		slog.Warn("relay: connect failed", "url", r.url, "attempt", attempt, "err", err)
		r.setState(StateDisconnected, nil)
		return
	}

	// Close() may have raced the dial; don't leak the transport.
	select {
	case <-r.done:
		_ = conn.Close()
		return
	default:
	}

	hs := r.handshake()
	data, err := json.Marshal(hs)
	if err != nil {
		slog.Error("relay: marshal handshake", "err", err)
		_ = conn.Close()
		r.setState(StateDisconnected, nil)
		return
	}

	r.setState(StateHandshaking, conn)
	connectedAt := time.Now()

	hsCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	err = conn.WriteText(hsCtx, data)
	cancel()
	if err != nil {
		slog.Warn("relay: handshake send failed", "attempt", attempt, "err", err)
		_ = conn.Close()
		r.setState(StateDisconnected, nil)
		return
	}
	slog.Info("relay: connected, handshake sent", "uid", hs.UID, "task", hs.Task, "attempt", attempt)

	warn := time.AfterFunc(r.handshakeWarn, func() {
		slog.Warn("relay: backend has not acknowledged readiness; audio is being dropped",
			"waited", r.handshakeWarn)
	})
	defer warn.Stop()

	r.readLoop(ctx, conn, connectedAt, warn)

	r.setState(StateDisconnected, nil)
	slog.Info("relay: connection lost", "attempt", attempt, "retry_in", r.retryInterval)
}

// readLoop consumes inbound backend messages until the transport errors.
func (r *Relay) readLoop(ctx context.Context, conn Transport, connectedAt time.Time, warn *time.Timer) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		st, ok := parseServerStatus(data)
		if !ok {
			continue
		}
		switch {
		case st.Status == statusServerReady:
			warn.Stop()
			r.setState(StateReady, conn)
			if r.metrics != nil {
				r.metrics.HandshakeDuration.Record(ctx, time.Since(connectedAt).Seconds())
			}
			slog.Info("relay: backend ready", "handshake", time.Since(connectedAt))
		case st.Language != "":
			// Informational only.
			slog.Info("relay: backend detected language", "language", st.Language)
		}
	}
}

// setState records the new state and, when conn is non-nil, the transport it
// belongs to. A nil conn clears the stored transport.
func (r *Relay) setState(s State, conn Transport) {
	r.mu.Lock()
	r.state = s
	r.conn = conn
	r.mu.Unlock()
}

// dropConnection closes conn so the read loop observes the failure and the
// supervisor schedules a reconnect. Only the transport the failing write used
// is closed; a newer connection is left alone.
func (r *Relay) dropConnection(conn Transport) {
	r.mu.Lock()
	current := r.conn == conn
	if current {
		r.conn = nil
		r.state = StateDisconnected
	}
	r.mu.Unlock()

	if current {
		_ = conn.Close()
	}
}

// countFrame records one audio frame outcome: "sent", "dropped", or "failed".
func (r *Relay) countFrame(outcome string) {
	if r.metrics == nil {
		return
	}
	r.metrics.AudioFrames.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("outcome", outcome)))
}
