package speaker

import (
	"time"

	"github.com/shaike1/vexai-msteams/internal/presence"
)

// speakingState is a participant's logical state.
type speakingState string

const (
	stateSpeaking speakingState = "speaking"
	stateSilent   speakingState = "silent"
)

// record tracks one observed participant. Exactly one record exists per live
// stable identifier; access is guarded by the engine mutex.
type record struct {
	id   string
	ref  string
	name string

	state speakingState

	// lastTransition anchors the debounce window. Zero until the first
	// emitted transition, so an initial speaking observation is never
	// suppressed.
	lastTransition time.Time
}

// Arbitrate applies the speaking-detection priority rule to one observation
// and reports whether the participant is currently speaking:
//
//  1. When the tile carries a voice-level indicator, the indicator is
//     authoritative and inverted: visible means silent, hidden or occluded
//     means speaking. A speaking class on the tile overrides a visible
//     indicator.
//  2. Otherwise class sets decide: speaking requires a speaking class with
//     no silence class present, so a tile carrying both reads as silent.
//  3. A tile with no instrumentation at all counts as speaking. This
//     over-reports for participants whose tiles are bare, but missing an
//     uninstrumented active speaker is worse.
func Arbitrate(obs presence.Observation) bool {
	if obs.HasVoiceIndicator {
		return !obs.IndicatorVisible || obs.HasSpeakingClass
	}
	if obs.HasSpeakingClass || obs.HasSilenceClass {
		return obs.HasSpeakingClass && !obs.HasSilenceClass
	}
	return true
}
