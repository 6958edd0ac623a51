// Package speaker converts the noisy, multiply-redundant presence surface
// into a clean stream of per-participant speaking transitions.
//
// Signal arrives over three channels with different freshness: mutation
// notifications, a fixed-period scan of all tiles, and a high-frequency
// sampling pass. The channels are redundancy, not independent sources of
// truth: they all feed one arbitration per participant, and a single
// per-participant debounce clock suppresses flapping between them. A
// transition is emitted only when the arbitrated state differs from the
// recorded one and the debounce window has elapsed, so the emitted sequence
// strictly alternates START/END for every participant.
package speaker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/shaike1/vexai-msteams/internal/observe"
	"github.com/shaike1/vexai-msteams/internal/presence"
)

// Event types emitted by the engine.
const (
	EventStart = "SPEAKER_START"
	EventEnd   = "SPEAKER_END"
)

// Event is one emitted speaking transition. Events are immutable; the
// consumer translates At into a session-relative timestamp.
type Event struct {
	Type            string
	ParticipantID   string
	ParticipantName string
	At              time.Time
}

// Sink consumes emitted events. It is called with the engine lock held so
// delivery order always matches transition order; it must not call back into
// the engine and should return promptly.
type Sink func(Event)

// Config configures an [Engine].
type Config struct {
	// Source is the presence surface to observe.
	Source presence.Source

	// Sink receives emitted transitions. Must be non-nil.
	Sink Sink

	// BotName is the bot's own display name, excluded from participant
	// counts. May be empty when unknown.
	BotName string

	// Debounce is the minimum interval between two emitted transitions for
	// the same participant. Defaults to 300ms if zero.
	Debounce time.Duration

	// PollInterval is the fixed-period full scan cadence. Defaults to 500ms.
	PollInterval time.Duration

	// SampleInterval is the high-frequency sampling cadence. Defaults to 150ms.
	SampleInterval time.Duration

	// RosterInterval bounds how often the roster surface is queried; counts
	// requested within the interval are served from the last read. Defaults
	// to 5s.
	RosterInterval time.Duration

	// Metrics records detector instruments. May be nil.
	Metrics *observe.Metrics

	// Now overrides the clock; for tests. Defaults to [time.Now].
	Now func() time.Time
}

// Engine is the speaker detection engine. Create with [New], drive with
// [Engine.Run]. All exported methods are safe for concurrent use.
type Engine struct {
	source   presence.Source
	sink     Sink
	botName  string
	debounce time.Duration
	poll     time.Duration
	sample   time.Duration
	metrics  *observe.Metrics
	now      func() time.Time

	rosterMu    sync.Mutex
	rosterTTL   time.Duration
	rosterAt    time.Time
	rosterCount int

	mu sync.Mutex
	// records is keyed by stable participant identity. genIDs retains the
	// generated fallback identifier per element ref so re-evaluation never
	// mints a second identity for the same tile.
	records map[string]*record
	genIDs  map[string]string
}

// New creates an [Engine] with the given configuration.
func New(cfg Config) *Engine {
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	sample := cfg.SampleInterval
	if sample <= 0 {
		sample = 150 * time.Millisecond
	}
	roster := cfg.RosterInterval
	if roster <= 0 {
		roster = 5 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		source:    cfg.Source,
		sink:      cfg.Sink,
		botName:   cfg.BotName,
		debounce:  debounce,
		poll:      poll,
		sample:    sample,
		metrics:   cfg.Metrics,
		now:       now,
		rosterTTL: roster,
		records:   make(map[string]*record),
		genIDs:    make(map[string]string),
	}
}

// Run performs the initial scan, then consumes surface mutations and drives
// the periodic scans until ctx is cancelled. It returns after all detection
// activities have stopped.
func (e *Engine) Run(ctx context.Context) error {
	obs, err := e.source.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("speaker: initial scan: %w", err)
	}
	for _, o := range obs {
		e.Observe(o)
	}
	slog.Info("speaker: initial scan complete", "participants", len(obs))

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		e.consumeMutations(ctx)
	}()
	go func() {
		defer wg.Done()
		e.pollLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		e.sampleLoop(ctx)
	}()
	wg.Wait()
	return nil
}

// Observe feeds one observation through arbitration and the debounced
// check-and-set, emitting at most one transition. The check-and-set is atomic
// across all three detection channels: whichever channel observes a state
// change first wins the emission, and the others see the updated record.
func (e *Engine) Observe(obs presence.Observation) {
	speaking := Arbitrate(obs)
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()
	rec := e.resolveLocked(obs)
	if obs.Name != "" {
		rec.name = obs.Name
	}
	if ev, ok := e.transitionLocked(rec, speaking, now, false); ok {
		e.emit(ev)
	}
}

// Remove deletes the participant record for obs, first forcing a synthetic
// END when the participant was still speaking. The forced END bypasses the
// debounce window; a removed tile is final. Removing an unknown or already
// silent participant emits nothing.
func (e *Engine) Remove(obs presence.Observation) {
	now := e.now()

	e.mu.Lock()
	key, rec := e.lookupLocked(obs)
	if rec == nil {
		e.mu.Unlock()
		return
	}
	ev, ok := e.transitionLocked(rec, false, now, true)
	delete(e.records, key)
	delete(e.genIDs, rec.ref)
	if ok {
		e.emit(ev)
	}
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.ParticipantsObserved.Add(context.Background(), -1)
	}
	slog.Debug("speaker: participant removed", "id", rec.id, "name", rec.name)
}

// ParticipantCount returns the number of participants on the role-based
// roster, excluding the bot itself. Reads are cached for the configured
// roster interval; a cached value is never older than that.
func (e *Engine) ParticipantCount(ctx context.Context) (int, error) {
	now := e.now()

	e.rosterMu.Lock()
	defer e.rosterMu.Unlock()
	if !e.rosterAt.IsZero() && now.Sub(e.rosterAt) < e.rosterTTL {
		return e.rosterCount, nil
	}

	names, err := e.source.RosterNames(ctx)
	if err != nil {
		return 0, fmt.Errorf("speaker: roster: %w", err)
	}
	count := 0
	for _, n := range names {
		if e.botName != "" && n == e.botName {
			continue
		}
		count++
	}
	e.rosterAt = now
	e.rosterCount = count
	return count, nil
}

// consumeMutations drains the surface's mutation channel.
func (e *Engine) consumeMutations(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-e.source.Mutations():
			if !ok {
				return
			}
			switch m.Kind {
			case presence.MutationRemoved:
				e.Remove(m.Observation)
			default:
				e.Observe(m.Observation)
			}
		}
	}
}

// pollLoop runs the fixed-period full scan: every tile is re-arbitrated and
// tiles that vanished without a removal notification are pruned.
func (e *Engine) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.scan(ctx, true)
		}
	}
}

// sampleLoop runs the high-frequency pass. It only re-arbitrates known
// state; pruning is left to the slower poll so a transient query glitch
// cannot drop a participant.
func (e *Engine) sampleLoop(ctx context.Context) {
	ticker := time.NewTicker(e.sample)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.scan(ctx, false)
		}
	}
}

// scan snapshots the surface and feeds every observation through Observe.
// When prune is true, records whose tile no longer appears are removed (with
// the forced-END semantics of [Engine.Remove]).
func (e *Engine) scan(ctx context.Context, prune bool) {
	obs, err := e.source.Snapshot(ctx)
	if err != nil {
		slog.Debug("speaker: scan failed", "err", err)
		return
	}
	for _, o := range obs {
		e.Observe(o)
	}
	if !prune {
		return
	}

	seen := make(map[string]struct{}, len(obs))
	for _, o := range obs {
		seen[o.Ref] = struct{}{}
	}
	e.mu.Lock()
	var gone []presence.Observation
	for _, rec := range e.records {
		if _, ok := seen[rec.ref]; !ok {
			gone = append(gone, presence.Observation{Ref: rec.ref, ID: rec.id})
		}
	}
	e.mu.Unlock()
	for _, o := range gone {
		e.Remove(o)
	}
}

// resolveLocked returns the record for obs, creating it on first
// observation. Identity is the platform ID when present; otherwise a
// generated identifier minted once per element ref and retained for the
// element's lifetime. Must be called with e.mu held.
func (e *Engine) resolveLocked(obs presence.Observation) *record {
	id := obs.ID
	if id == "" {
		var ok bool
		id, ok = e.genIDs[obs.Ref]
		if !ok {
			id = "teams-id-" + uuid.NewString()
			e.genIDs[obs.Ref] = id
		}
	}

	rec, ok := e.records[id]
	if !ok {
		rec = &record{
			id:    id,
			ref:   obs.Ref,
			name:  obs.Name,
			state: stateSilent,
		}
		e.records[id] = rec
		if e.metrics != nil {
			e.metrics.ParticipantsObserved.Add(context.Background(), 1)
		}
		slog.Info("speaker: observing participant", "id", id, "name", obs.Name)
	}
	// A platform-identified participant's tile can be torn down and
	// re-created with a fresh element ref. Track the latest ref so the
	// prune pass never mistakes the recreation for a departure.
	if obs.Ref != "" && rec.ref != obs.Ref {
		rec.ref = obs.Ref
	}
	return rec
}

// lookupLocked finds an existing record for obs without creating one.
// Must be called with e.mu held.
func (e *Engine) lookupLocked(obs presence.Observation) (string, *record) {
	if obs.ID != "" {
		if rec, ok := e.records[obs.ID]; ok {
			return obs.ID, rec
		}
	}
	if id, ok := e.genIDs[obs.Ref]; ok {
		if rec, ok := e.records[id]; ok {
			return id, rec
		}
	}
	return "", nil
}

// transitionLocked is the debounced check-and-set. It flips the record's
// state and returns the event to emit, or ok=false when nothing changed or
// the debounce window suppressed the flip. forced bypasses the debounce
// (removal). Must be called with e.mu held.
func (e *Engine) transitionLocked(rec *record, speaking bool, now time.Time, forced bool) (Event, bool) {
	if speaking == (rec.state == stateSpeaking) {
		return Event{}, false
	}
	if !forced && !rec.lastTransition.IsZero() && now.Sub(rec.lastTransition) < e.debounce {
		return Event{}, false
	}

	eventType := EventEnd
	rec.state = stateSilent
	if speaking {
		eventType = EventStart
		rec.state = stateSpeaking
	}
	rec.lastTransition = now

	name := rec.name
	if name == "" {
		name = fmt.Sprintf("Participant (%s)", rec.id)
	}
	return Event{
		Type:            eventType,
		ParticipantID:   rec.id,
		ParticipantName: name,
		At:              now,
	}, true
}

// emit hands one event to the sink and records it. Must be called with e.mu
// held: delivering under the lock keeps the sink's order identical to the
// order transitions were decided, across all three detection channels.
func (e *Engine) emit(ev Event) {
	slog.Info("speaker: transition", "event", ev.Type, "id", ev.ParticipantID, "name", ev.ParticipantName)
	if e.metrics != nil {
		e.metrics.SpeakerEvents.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("event_type", ev.Type)))
	}
	e.sink(ev)
}
