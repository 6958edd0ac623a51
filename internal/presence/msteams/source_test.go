package msteams

import (
	"math"
	"strings"
	"testing"

	"github.com/ysmood/gson"
)

func TestCleanParticipantName(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"plain name", "Alice Jones", "Alice Jones"},
		{"trims whitespace", "  Bob  ", "Bob"},
		{"too short", "A", ""},
		{"too long", strings.Repeat("x", 50), ""},
		{"at max length", strings.Repeat("x", 49), strings.Repeat("x", 49)},
		{"mic icon label", "mic_off", ""},
		{"embedded chrome", "Alice microphone", ""},
		{"camera label", "camera_off", ""},
		{"generic user label", "Guest user", ""},
		{"allows digits and parens", "Alice (2)", "Alice (2)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CleanParticipantName(tc.raw); got != tc.want {
				t.Fatalf("CleanParticipantName(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestFallbackName(t *testing.T) {
	if got := FallbackName("abc-123"); got != "Teams Participant (abc-123)" {
		t.Fatalf("FallbackName = %q", got)
	}
}

func TestParseObservation(t *testing.T) {
	g := gson.New(map[string]interface{}{
		"ref":              "el-7",
		"id":               "user-42",
		"name":             "  Alice  ",
		"hasIndicator":     true,
		"indicatorVisible": false,
		"speakingClass":    false,
		"silenceClass":     true,
	})

	obs := parseObservation(g)
	if obs.Ref != "el-7" || obs.ID != "user-42" || obs.Name != "Alice" {
		t.Fatalf("unexpected observation %+v", obs)
	}
	if !obs.HasVoiceIndicator || obs.IndicatorVisible {
		t.Fatalf("indicator fields wrong: %+v", obs)
	}
	if obs.HasSpeakingClass || !obs.HasSilenceClass {
		t.Fatalf("class fields wrong: %+v", obs)
	}
}

func TestParseObservation_RejectedNameFallsBackToID(t *testing.T) {
	g := gson.New(map[string]interface{}{
		"ref":  "el-1",
		"id":   "user-9",
		"name": "mic_off",
	})
	obs := parseObservation(g)
	if obs.Name != "Teams Participant (user-9)" {
		t.Fatalf("name = %q, want id fallback", obs.Name)
	}
}

func TestParseObservation_NoIDLeavesNameEmpty(t *testing.T) {
	g := gson.New(map[string]interface{}{"ref": "el-1", "name": "x"})
	obs := parseObservation(g)
	if obs.Name != "" {
		t.Fatalf("name = %q, want empty for detector-side fallback", obs.Name)
	}
}

func TestDefaultSelectors_Populated(t *testing.T) {
	sel := DefaultSelectors()
	sets := map[string][]string{
		"participant":       sel.Participant,
		"container":         sel.Container,
		"name":              sel.Name,
		"voice level":       sel.VoiceLevel,
		"participant id":    sel.ParticipantID,
		"meeting container": sel.MeetingContainer,
	}
	for label, set := range sets {
		if len(set) == 0 {
			t.Fatalf("%s selector set is empty", label)
		}
	}
}

func TestAudioStats(t *testing.T) {
	rms, peak := audioStats([]float32{0.5, -0.5, 0.5, -0.5})
	if math.Abs(rms-0.5) > 1e-9 {
		t.Fatalf("rms = %v, want 0.5", rms)
	}
	if math.Abs(peak-0.5) > 1e-9 {
		t.Fatalf("peak = %v, want 0.5", peak)
	}
}
