// Package presence defines the interface to the meeting page's presence
// surface: the live, continuously mutating set of participant tiles the bot
// observes to infer speaking activity and attendance.
//
// The browser-automation host is an external collaborator: this package only
// specifies what the core consumes. The production implementation for MS
// Teams lives in the msteams subpackage; tests use presencemock.
package presence

import (
	"context"
	"errors"
)

// ErrSurfaceMissing indicates that the expected automation utilities or
// participant containers were absent at startup. This is fatal: the session
// cannot start without a presence surface.
var ErrSurfaceMissing = errors.New("presence: surface missing")

// Observation is one read of a single participant tile.
type Observation struct {
	// Ref is an opaque per-element key, stable for the element's lifetime.
	// Never empty. Re-evaluating the same tile yields the same Ref.
	Ref string

	// ID is the platform-native participant identifier, when the surface
	// exposes one. May be empty; the detector then derives a fallback.
	ID string

	// Name is the display name extracted from the tile.
	Name string

	// HasVoiceIndicator reports whether the tile carries a voice-level
	// indicator element. When it does, IndicatorVisible is authoritative for
	// speaking state: the surface's convention is inverted, a visible
	// indicator denotes silence.
	HasVoiceIndicator bool

	// IndicatorVisible is meaningful only when HasVoiceIndicator is true.
	IndicatorVisible bool

	// HasSpeakingClass and HasSilenceClass report class-set membership, the
	// fallback detection channel for tiles without a voice-level indicator.
	HasSpeakingClass bool
	HasSilenceClass  bool
}

// MutationKind classifies a structural or attribute change on the surface.
type MutationKind int

const (
	// MutationAdded is a newly appeared participant tile.
	MutationAdded MutationKind = iota

	// MutationChanged is an attribute change on an observed tile.
	MutationChanged

	// MutationRemoved is the disappearance of a tile. Only Ref (and ID when
	// known) are populated on the observation.
	MutationRemoved
)

// Mutation is one change notification from the surface.
type Mutation struct {
	Kind        MutationKind
	Observation Observation
}

// AudioHandler receives one batch of raw float32 samples pushed from the
// page's capture pipeline. It reports whether the batch was forwarded; the
// surface uses this only for diagnostics and must never block capture on it.
type AudioHandler func(samples []float32, sampleRate int) bool

// Source is a live presence surface. Implementations must not require the
// consumer to poll and observe through the same goroutine: Snapshot,
// RosterNames, and RemovalDetected are called concurrently with delivery on
// the Mutations channel.
type Source interface {
	// SetAudioHandler registers the audio callback. Must be called before
	// Start.
	SetAudioHandler(h AudioHandler)

	// Start attaches to the page: injects observers, begins audio capture,
	// and starts delivering mutations. Returns [ErrSurfaceMissing] when the
	// required containers or utilities are absent.
	Start(ctx context.Context) error

	// Snapshot enumerates all currently present participant tiles.
	Snapshot(ctx context.Context) ([]Observation, error)

	// Mutations returns the channel of change notifications. Closed when
	// the source is closed.
	Mutations() <-chan Mutation

	// RosterNames enumerates participant display names from the role-based
	// roster, a surface distinct from the indicator tiles. The bot's own
	// name is included when it appears there.
	RosterNames(ctx context.Context) ([]string, error)

	// RemovalDetected reports whether the surface currently exhibits an
	// explicit removal signal (textual notice or a visible rejoin/dismiss
	// affordance).
	RemovalDetected(ctx context.Context) (bool, error)

	// Terminations returns a channel that receives one value when the page
	// is unloading or hidden. The session treats this as graceful end.
	Terminations() <-chan struct{}

	// Close detaches observers and releases page resources.
	Close() error
}
