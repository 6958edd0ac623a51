package relay

import (
	"encoding/binary"
	"encoding/json"
	"math"
)

// Speaker event types on the wire.
const (
	EventSpeakerStart = "SPEAKER_START"
	EventSpeakerEnd   = "SPEAKER_END"
)

// statusServerReady is the backend acknowledgement that gates audio frames.
const statusServerReady = "SERVER_READY"

// Handshake is the configuration message sent once per connection, before
// any audio. Language is a pointer so that "unset" serialises as null and the
// backend auto-detects. Model is always null and VAD is handled upstream.
type Handshake struct {
	UID        string  `json:"uid"`
	Language   *string `json:"language"`
	Task       string  `json:"task"`
	Model      *string `json:"model"`
	UseVAD     bool    `json:"use_vad"`
	Platform   string  `json:"platform"`
	Token      string  `json:"token"`
	MeetingURL string  `json:"meeting_url"`
	MeetingID  string  `json:"meeting_id"`
}

// NewHandshake builds a Handshake with the wire defaults applied: empty
// language becomes null, empty task becomes "transcribe", empty meeting
// fields become "unknown".
func NewHandshake(uid, language, task, platform, token, meetingURL, meetingID string) Handshake {
	h := Handshake{
		UID:        uid,
		Task:       task,
		Platform:   platform,
		Token:      token,
		MeetingURL: meetingURL,
		MeetingID:  meetingID,
	}
	if language != "" {
		h.Language = &language
	}
	if h.Task == "" {
		h.Task = "transcribe"
	}
	if h.MeetingURL == "" {
		h.MeetingURL = "unknown"
	}
	if h.MeetingID == "" {
		h.MeetingID = "unknown"
	}
	return h
}

// SpeakerEvent is the structured message for a speaking transition.
// TimestampMS is relative to the session's audio-start anchor so that it
// aligns with audio frame offsets.
type SpeakerEvent struct {
	Type            string `json:"type"`
	EventType       string `json:"event_type"`
	ParticipantName string `json:"participant_name"`
	ParticipantID   string `json:"participant_id"`
	TimestampMS     int64  `json:"timestamp_ms"`
}

// NewSpeakerEvent builds a SpeakerEvent with the fixed message type set.
func NewSpeakerEvent(eventType, name, id string, timestampMS int64) SpeakerEvent {
	return SpeakerEvent{
		Type:            "speaker_event",
		EventType:       eventType,
		ParticipantName: name,
		ParticipantID:   id,
		TimestampMS:     timestampMS,
	}
}

// serverStatus is an inbound backend message. Exactly one of the fields is
// populated per message in practice.
type serverStatus struct {
	Status   string `json:"status"`
	Language string `json:"language"`
}

// parseServerStatus parses a raw backend message. Returns (zero, false) for
// messages that are not JSON status objects; those are ignored.
func parseServerStatus(data []byte) (serverStatus, bool) {
	var st serverStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return serverStatus{}, false
	}
	return st, true
}

// EncodePCM serialises float32 samples as little-endian binary, the framing
// the backend expects for audio.
func EncodePCM(samples []float32) []byte {
	buf := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	return buf
}

// DecodePCM is the inverse of [EncodePCM]. Used in tests and diagnostics;
// trailing bytes that do not form a full sample are discarded.
func DecodePCM(data []byte) []float32 {
	n := len(data) / 4
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return samples
}
