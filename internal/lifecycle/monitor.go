// Package lifecycle decides, exactly once, whether and why the session must
// end. A one-second tick checks for an explicit removal signal, tracks how
// long the bot has been alone, and terminates the session with a typed
// reason when a threshold is crossed. Termination is terminal: the monitor
// stops ticking and the reason never changes.
package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/shaike1/vexai-msteams/internal/observe"
)

// Reason is the typed session outcome reported to the surrounding process.
// Outcomes are not errors: a graceful end-of-meeting and a hostile removal
// both arrive through the same path, distinguished by the reason.
type Reason string

const (
	// ReasonRemovedByAdmin means the surface exhibited an explicit removal
	// signal (textual notice or a visible rejoin/dismiss affordance).
	ReasonRemovedByAdmin Reason = "REMOVED_BY_ADMIN"

	// ReasonStartupAloneTimeout means the bot was alone for the startup
	// grace period before any other participant was ever seen.
	ReasonStartupAloneTimeout Reason = "STARTUP_ALONE_TIMEOUT"

	// ReasonEveryoneLeftTimeout means all other participants left and
	// stayed away for the post-engagement grace period.
	ReasonEveryoneLeftTimeout Reason = "EVERYONE_LEFT_TIMEOUT"

	// ReasonPageClosed means the meeting page unloaded or was hidden.
	ReasonPageClosed Reason = "PAGE_CLOSED"
)

// Counter reports the current participant count, excluding the bot.
// Implemented by the speaker detection engine.
type Counter interface {
	ParticipantCount(ctx context.Context) (int, error)
}

// RemovalChecker reports whether the surface currently shows a removal
// signal. Implemented by the presence source.
type RemovalChecker interface {
	RemovalDetected(ctx context.Context) (bool, error)
}

// Config configures a [Monitor].
type Config struct {
	// Counter supplies the participant count each tick.
	Counter Counter

	// Removal supplies the removal signal each tick.
	Removal RemovalChecker

	// StartupAloneTimeoutSeconds applies while no other participant has
	// ever been seen. Defaults to 10.
	StartupAloneTimeoutSeconds int

	// EveryoneLeftTimeoutSeconds applies after other participants have been
	// seen at least once. Defaults to 10.
	EveryoneLeftTimeoutSeconds int

	// TickInterval defaults to 1s. Overridden only in tests.
	TickInterval time.Duration

	// Metrics receives a termination counter increment. Optional.
	Metrics *observe.Metrics
}

// Monitor runs the countdown state machine. Create with [New], drive with
// [Monitor.Run]. All exported methods are safe for concurrent use.
type Monitor struct {
	counter        Counter
	removal        RemovalChecker
	startupTimeout int
	leftTimeout    int
	tick           time.Duration
	metrics        *observe.Metrics

	mu sync.Mutex
	// aloneSeconds counts consecutive ticks with no other participant.
	aloneSeconds int
	// speakersEver latches true the first time any other participant is
	// seen, and never reverts: it selects which timeout applies.
	speakersEver bool
	lastCount    int
	reason       Reason
}

// New creates a [Monitor] with the given configuration.
func New(cfg Config) *Monitor {
	startup := cfg.StartupAloneTimeoutSeconds
	if startup <= 0 {
		startup = 10
	}
	left := cfg.EveryoneLeftTimeoutSeconds
	if left <= 0 {
		left = 10
	}
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = time.Second
	}
	return &Monitor{
		counter:        cfg.Counter,
		removal:        cfg.Removal,
		startupTimeout: startup,
		leftTimeout:    left,
		tick:           tick,
		metrics:        cfg.Metrics,
	}
}

// Run ticks until a termination reason is reached or ctx is cancelled. It
// returns the reason, or "" when cancelled first. Run never returns a reason
// twice; a terminated monitor stops ticking.
func (m *Monitor) Run(ctx context.Context) Reason {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ""
		case <-ticker.C:
			if reason, done := m.step(ctx); done {
				return reason
			}
		}
	}
}

// SpeakersIdentified reports whether the one-way latch has been set.
func (m *Monitor) SpeakersIdentified() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speakersEver
}

// step executes one tick of the state machine. It reports done=true with the
// terminal reason when the session must end.
func (m *Monitor) step(ctx context.Context) (Reason, bool) {
	// Removal bypasses the timeout logic entirely.
	if m.removal != nil {
		removed, err := m.removal.RemovalDetected(ctx)
		if err != nil {
			slog.Debug("lifecycle: removal check failed", "err", err)
		} else if removed {
			slog.Info("lifecycle: removal signal detected")
			m.terminate(ReasonRemovedByAdmin)
			m.countTermination(ctx, ReasonRemovedByAdmin)
			return ReasonRemovedByAdmin, true
		}
	}

	count, err := m.counter.ParticipantCount(ctx)
	if err != nil {
		// A transient read failure must not count as "alone".
		slog.Debug("lifecycle: participant count failed", "err", err)
		return "", false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if count != m.lastCount {
		slog.Info("lifecycle: participant count changed", "from", m.lastCount, "to", count)
		m.lastCount = count
	}
	if count > 0 && !m.speakersEver {
		m.speakersEver = true
		slog.Info("lifecycle: other participants seen, switching to post-engagement monitoring")
	}

	if count > 0 {
		m.aloneSeconds = 0
		return "", false
	}

	m.aloneSeconds++
	timeout := m.startupTimeout
	reason := ReasonStartupAloneTimeout
	phase := "startup"
	if m.speakersEver {
		timeout = m.leftTimeout
		reason = ReasonEveryoneLeftTimeout
		phase = "post-speaker"
	}

	if m.aloneSeconds >= timeout {
		slog.Info("lifecycle: alone timeout reached", "phase", phase, "alone_seconds", m.aloneSeconds)
		m.reason = reason
		m.countTermination(ctx, reason)
		return reason, true
	}
	if m.aloneSeconds%10 == 0 {
		slog.Info("lifecycle: bot is alone",
			"phase", phase,
			"alone_seconds", m.aloneSeconds,
			"leaving_in", timeout-m.aloneSeconds,
		)
	}
	return "", false
}

// terminate records the terminal reason under lock.
func (m *Monitor) terminate(r Reason) {
	m.mu.Lock()
	m.reason = r
	m.mu.Unlock()
}

func (m *Monitor) countTermination(ctx context.Context, r Reason) {
	if m.metrics == nil {
		return
	}
	m.metrics.SessionTerminations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", string(r))))
}
