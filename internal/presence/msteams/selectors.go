// Package msteams implements the presence surface for Microsoft Teams
// meeting pages on top of a browser automation session.
//
// Teams ships no stable DOM contract. Everything here keys off selector
// tables that are plain data, so a UI rollout is a table update rather than
// a code change.
package msteams

import (
	"fmt"
	"strings"
)

// Selectors is the DOM contract for one generation of the Teams meeting UI.
type Selectors struct {
	// Participant matches the per-participant tile elements observed for
	// speaking activity.
	Participant []string `json:"participantSelectors"`

	// Container matches the stream containers used by the fixed-period poll.
	Container []string `json:"containerSelectors"`

	// Name matches, inside a tile, the element carrying the display name.
	Name []string `json:"nameSelectors"`

	// VoiceLevel matches the voice-level outline. Teams renders it while the
	// participant is silent and hides it while they speak.
	VoiceLevel []string `json:"voiceLevelSelectors"`

	// Occlusion matches ancestors that hide a tile without unmounting it.
	Occlusion []string `json:"occlusionSelectors"`

	// StreamType matches the closest ancestor that identifies a stream
	// container when walking up from an indicator element.
	StreamType []string `json:"streamTypeSelectors"`

	// AudioActivity matches secondary speaking indicators inside a container.
	AudioActivity []string `json:"audioActivitySelectors"`

	// ParticipantID matches stable child elements carrying identity
	// attributes when the tile itself has none.
	ParticipantID []string `json:"participantIdSelectors"`

	// MeetingContainer matches the meeting stage. At least one must exist
	// for the surface to be considered present.
	MeetingContainer []string `json:"meetingContainerSelectors"`

	// SpeakingClasses and SilenceClasses are class names whose presence on a
	// tile (or a descendant) signals the respective state.
	SpeakingClasses []string `json:"speakingClasses"`
	SilenceClasses  []string `json:"silenceClasses"`
}

// DefaultSelectors returns the selector table for the current Teams UI.
func DefaultSelectors() Selectors {
	return Selectors{
		Participant: []string{
			`[data-cid="calling-participant-stream"]`,
			`[data-tid^="participant-speaker-"]`,
			`[data-tid="participant-tile"]`,
			`[data-stream-type]`,
		},
		Container: []string{
			`[data-stream-type]`,
			`[data-cid="calling-participant-stream"]`,
		},
		Name: []string{
			`[data-tid="roster-participant-name"]`,
			`[data-tid="participant-displayname"]`,
			`.ui-text`,
			`[title]`,
		},
		VoiceLevel: []string{
			`[data-tid="voice-level-stream-outline"]`,
		},
		Occlusion: []string{
			`.vdi-frame-occluded`,
		},
		StreamType: []string{
			`[data-stream-type]`,
		},
		AudioActivity: []string{
			`[data-tid="participant-audio-activity"]`,
			`.call-audio-activity`,
		},
		ParticipantID: []string{
			`[data-tid]`,
			`[data-participant-id]`,
			`[data-user-id]`,
		},
		MeetingContainer: []string{
			`#meeting-stage`,
			`[data-tid="meeting-stage-wrapper"]`,
			`[data-cid="calling-stage"]`,
		},
		SpeakingClasses: []string{
			"speaking",
			"ts-speaking-indicator",
		},
		SilenceClasses: []string{
			"silent",
			"ts-mute-indicator",
		},
	}
}

// removalPhrases are body-text fragments that indicate the bot was removed
// or the meeting ended. Matched case-insensitively.
var removalPhrases = []string{
	"you've been removed from this meeting",
	"you have been removed from this meeting",
	"removed from meeting",
	"meeting ended",
	"call ended",
}

// removalButtonLabels are button captions shown on the post-removal screen.
var removalButtonLabels = []string{"rejoin", "dismiss"}

// forbiddenNameSubstrings reject tile text that is UI chrome rather than a
// display name.
var forbiddenNameSubstrings = []string{
	"more_vert", "mic_off", "mic", "videocam", "videocam_off",
	"present_to_all", "devices", "speaker", "speakers", "microphone",
	"camera", "camera_off", "share", "chat", "participant", "user",
}

const (
	minNameLen = 2
	maxNameLen = 49
)

// CleanParticipantName validates raw tile text as a display name. It returns
// "" when the text is UI chrome or outside the accepted length window.
func CleanParticipantName(raw string) string {
	name := strings.TrimSpace(raw)
	if len(name) < minNameLen || len(name) > maxNameLen {
		return ""
	}
	lower := strings.ToLower(name)
	for _, sub := range forbiddenNameSubstrings {
		if strings.Contains(lower, sub) {
			return ""
		}
	}
	return name
}

// FallbackName is the display name used when no valid name can be extracted.
func FallbackName(id string) string {
	return fmt.Sprintf("Teams Participant (%s)", id)
}
