package relay

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func TestNewHandshake_Defaults(t *testing.T) {
	h := NewHandshake("uid-1", "", "", "teams", "tok", "", "")

	if h.Language != nil {
		t.Fatalf("language = %q, want nil for auto-detect", *h.Language)
	}
	if h.Task != "transcribe" {
		t.Fatalf("task = %q, want transcribe", h.Task)
	}
	if h.MeetingURL != "unknown" || h.MeetingID != "unknown" {
		t.Fatalf("meeting fields = %q/%q, want unknown/unknown", h.MeetingURL, h.MeetingID)
	}
	if h.Model != nil {
		t.Fatal("model must always be null")
	}
	if h.UseVAD {
		t.Fatal("use_vad must be false")
	}
}

func TestHandshake_WireShape(t *testing.T) {
	data, err := json.Marshal(NewHandshake("uid-1", "", "transcribe", "teams", "tok", "https://m", "m-1"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(data)

	// Unset language and model must serialise as explicit nulls, not be
	// omitted; the backend distinguishes null from absent.
	for _, want := range []string{`"language":null`, `"model":null`, `"use_vad":false`, `"uid":"uid-1"`} {
		if !strings.Contains(s, want) {
			t.Fatalf("wire form %s missing %s", s, want)
		}
	}
}

func TestPCMRoundTrip(t *testing.T) {
	samples := []float32{0, 1, -1, 0.5, -0.5, float32(math.Pi) / 4}

	data := EncodePCM(samples)
	if len(data) != len(samples)*4 {
		t.Fatalf("encoded %d bytes, want %d", len(data), len(samples)*4)
	}
	// Little-endian: float32(1.0) is 0x3F800000.
	if data[4] != 0x00 || data[5] != 0x00 || data[6] != 0x80 || data[7] != 0x3F {
		t.Fatalf("sample 1 encoded as % x, want little-endian 1.0", data[4:8])
	}

	decoded := DecodePCM(data)
	if len(decoded) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(decoded), len(samples))
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Fatalf("sample %d = %v, want %v", i, decoded[i], samples[i])
		}
	}
}

func TestDecodePCM_TruncatedTail(t *testing.T) {
	data := EncodePCM([]float32{1, 2})
	decoded := DecodePCM(data[:6])
	if len(decoded) != 1 {
		t.Fatalf("decoded %d samples from truncated input, want 1", len(decoded))
	}
}

func TestParseServerStatus(t *testing.T) {
	st, ok := parseServerStatus([]byte(`{"status":"SERVER_READY"}`))
	if !ok || st.Status != statusServerReady {
		t.Fatalf("parse ready: %+v ok=%v", st, ok)
	}

	st, ok = parseServerStatus([]byte(`{"language":"de"}`))
	if !ok || st.Language != "de" {
		t.Fatalf("parse language: %+v ok=%v", st, ok)
	}

	if _, ok := parseServerStatus([]byte("not json")); ok {
		t.Fatal("non-JSON input parsed as status")
	}
}

func TestNewSpeakerEvent_FixedType(t *testing.T) {
	ev := NewSpeakerEvent(EventSpeakerEnd, "Alice", "id-1", 2500)
	if ev.Type != "speaker_event" {
		t.Fatalf("type = %q, want speaker_event", ev.Type)
	}
	if ev.EventType != EventSpeakerEnd || ev.TimestampMS != 2500 {
		t.Fatalf("unexpected event %+v", ev)
	}
}
