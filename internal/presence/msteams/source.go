package msteams

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/go-rod/rod"
	"github.com/ysmood/gson"

	"github.com/shaike1/vexai-msteams/internal/presence"
)

// DefaultSampleRate is the capture rate the transcription backend expects.
const DefaultSampleRate = 16000

// mutationBuffer bounds the mutation channel. The browser callback must
// never block, so overflow is dropped; the periodic scans re-observe any
// state a dropped notification carried.
const mutationBuffer = 256

// Config configures a [Source].
type Config struct {
	// Page is the meeting page, already navigated and joined.
	Page *rod.Page

	// Selectors overrides the DOM contract. Zero value uses
	// [DefaultSelectors].
	Selectors *Selectors

	// SampleRate overrides the audio capture rate. Defaults to
	// [DefaultSampleRate].
	SampleRate int
}

// Source implements [presence.Source] for a Teams meeting page. Create with
// [New]; SetAudioHandler must be called before Start.
type Source struct {
	page       *rod.Page
	sel        Selectors
	sampleRate int

	mu      sync.Mutex
	handler presence.AudioHandler
	batches int
	closed  bool

	mutations    chan presence.Mutation
	terminations chan struct{}
	closeOnce    sync.Once
}

// New creates a [Source] for the given page.
func New(cfg Config) *Source {
	sel := DefaultSelectors()
	if cfg.Selectors != nil {
		sel = *cfg.Selectors
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	return &Source{
		page:         cfg.Page,
		sel:          sel,
		sampleRate:   rate,
		mutations:    make(chan presence.Mutation, mutationBuffer),
		terminations: make(chan struct{}, 1),
	}
}

// SetAudioHandler implements [presence.Source].
func (s *Source) SetAudioHandler(h presence.AudioHandler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Start probes for the meeting stage, installs the Go bridges, and injects
// the observer and audio capture scripts. Returns [presence.ErrSurfaceMissing]
// when the meeting stage cannot be found.
func (s *Source) Start(ctx context.Context) error {
	page := s.page.Context(ctx)

	res, err := page.Eval(probeScript, s.sel)
	if err != nil {
		return fmt.Errorf("msteams: probe meeting stage: %w", err)
	}
	if !res.Value.Bool() {
		return fmt.Errorf("msteams: no meeting stage: %w", presence.ErrSurfaceMissing)
	}

	if _, err := page.Expose(fnMutation, s.onMutation); err != nil {
		return fmt.Errorf("msteams: expose mutation bridge: %w", err)
	}
	if _, err := page.Expose(fnAudio, s.onAudio); err != nil {
		return fmt.Errorf("msteams: expose audio bridge: %w", err)
	}
	if _, err := page.Expose(fnTerminate, s.onTerminate); err != nil {
		return fmt.Errorf("msteams: expose terminate bridge: %w", err)
	}

	if _, err := page.Eval(observerScript, s.sel); err != nil {
		return fmt.Errorf("msteams: install observers: %w", err)
	}
	if _, err := page.Eval(audioScript, s.sampleRate); err != nil {
		return fmt.Errorf("msteams: install audio capture: %w", err)
	}

	slog.Info("msteams: presence surface started", "sample_rate", s.sampleRate)
	return nil
}

// Snapshot implements [presence.Source]. It reads every current tile.
func (s *Source) Snapshot(ctx context.Context) ([]presence.Observation, error) {
	res, err := s.page.Context(ctx).Eval(snapshotScript)
	if err != nil {
		return nil, fmt.Errorf("msteams: snapshot: %w", err)
	}
	items := res.Value.Arr()
	obs := make([]presence.Observation, 0, len(items))
	for _, item := range items {
		o := parseObservation(item)
		if o.Ref == "" {
			continue
		}
		obs = append(obs, o)
	}
	return obs, nil
}

// Mutations implements [presence.Source].
func (s *Source) Mutations() <-chan presence.Mutation {
	return s.mutations
}

// RosterNames implements [presence.Source] via the participants panel.
func (s *Source) RosterNames(ctx context.Context) ([]string, error) {
	res, err := s.page.Context(ctx).Eval(rosterScript)
	if err != nil {
		return nil, fmt.Errorf("msteams: roster: %w", err)
	}
	items := res.Value.Arr()
	names := make([]string, 0, len(items))
	for _, item := range items {
		if n := item.Str(); n != "" {
			names = append(names, n)
		}
	}
	return names, nil
}

// RemovalDetected implements [presence.Source] using body-text phrases and
// visible rejoin/dismiss buttons.
func (s *Source) RemovalDetected(ctx context.Context) (bool, error) {
	res, err := s.page.Context(ctx).Eval(removalScript, removalPhrases, removalButtonLabels)
	if err != nil {
		return false, fmt.Errorf("msteams: removal check: %w", err)
	}
	return res.Value.Bool(), nil
}

// Terminations implements [presence.Source].
func (s *Source) Terminations() <-chan struct{} {
	return s.terminations
}

// Close implements [presence.Source]. The page itself belongs to the caller
// and is not closed here.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.mutations)
	})
	return nil
}

// onMutation receives one change notification from the page.
func (s *Source) onMutation(data gson.JSON) (interface{}, error) {
	kind := presence.MutationChanged
	switch data.Get("kind").Str() {
	case "added":
		kind = presence.MutationAdded
	case "removed":
		kind = presence.MutationRemoved
	}
	m := presence.Mutation{Kind: kind, Observation: parseObservation(data.Get("obs"))}
	if m.Observation.Ref == "" {
		return nil, nil
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, nil
	}
	select {
	case s.mutations <- m:
	default:
		slog.Debug("msteams: mutation buffer full, dropping", "ref", m.Observation.Ref)
	}
	return nil, nil
}

// onAudio receives one captured batch and forwards it to the handler.
func (s *Source) onAudio(data gson.JSON) (interface{}, error) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		return nil, nil
	}

	rate := data.Get("rate").Int()
	raw := data.Get("samples").Arr()
	if len(raw) == 0 {
		return nil, nil
	}
	samples := make([]float32, len(raw))
	for i, v := range raw {
		samples[i] = float32(v.Num())
	}

	forwarded := h(samples, rate)

	s.mu.Lock()
	s.batches++
	batch := s.batches
	s.mu.Unlock()
	if batch%50 == 1 {
		rms, peak := audioStats(samples)
		slog.Debug("msteams: audio batch",
			"batch", batch,
			"samples", len(samples),
			"rate", rate,
			"rms", rms,
			"peak", peak,
			"forwarded", forwarded,
		)
	}
	return nil, nil
}

// onTerminate receives the page teardown signal.
func (s *Source) onTerminate(gson.JSON) (interface{}, error) {
	slog.Info("msteams: page unloading or hidden")
	select {
	case s.terminations <- struct{}{}:
	default:
	}
	return nil, nil
}

// parseObservation converts one page-side tile reading, applying display
// name hygiene.
func parseObservation(g gson.JSON) presence.Observation {
	id := g.Get("id").Str()
	name := CleanParticipantName(g.Get("name").Str())
	if name == "" && id != "" {
		name = FallbackName(id)
	}
	return presence.Observation{
		Ref:               g.Get("ref").Str(),
		ID:                id,
		Name:              name,
		HasVoiceIndicator: g.Get("hasIndicator").Bool(),
		IndicatorVisible:  g.Get("indicatorVisible").Bool(),
		HasSpeakingClass:  g.Get("speakingClass").Bool(),
		HasSilenceClass:   g.Get("silenceClass").Bool(),
	}
}

// audioStats computes RMS and peak magnitude for diagnostics.
func audioStats(samples []float32) (rms, peak float64) {
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	rms = math.Sqrt(sum / float64(len(samples)))
	return rms, peak
}
