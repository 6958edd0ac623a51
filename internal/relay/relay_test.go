package relay_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shaike1/vexai-msteams/internal/relay"
	"github.com/shaike1/vexai-msteams/internal/relay/relaymock"
)

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", desc)
		case <-time.After(time.Millisecond):
		}
	}
}

func startRelay(t *testing.T, dialer relay.Dialer, handshake func() relay.Handshake) *relay.Relay {
	t.Helper()
	r := relay.New(relay.Config{
		URL:           "ws://backend.example.com/ws",
		RetryInterval: time.Millisecond,
		Dialer:        dialer,
		Handshake:     handshake,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	t.Cleanup(func() {
		_ = r.Close()
		cancel()
		<-done
	})
	return r
}

func TestRelay_AudioGatedOnReadiness(t *testing.T) {
	dialer := relaymock.NewDialer(0)
	r := startRelay(t, dialer, nil)
	conn := dialer.NextConn()

	waitFor(t, "handshake state", func() bool { return r.State() == relay.StateHandshaking })

	// Frames offered before SERVER_READY are dropped, not queued.
	for i := 0; i < 3; i++ {
		if r.SubmitAudioFrame([]float32{0.1, 0.2}, 16000) {
			t.Fatal("frame accepted before backend readiness")
		}
	}
	if n := len(conn.BinaryMessages()); n != 0 {
		t.Fatalf("%d binary frames on the wire before readiness, want 0", n)
	}

	conn.PushServerReady()
	waitFor(t, "ready state", func() bool { return r.Ready() })

	samples := []float32{0.5, -0.25, 0.125}
	if !r.SubmitAudioFrame(samples, 16000) {
		t.Fatal("frame rejected while ready")
	}

	frames := conn.BinaryMessages()
	if len(frames) != 1 {
		t.Fatalf("got %d binary frames, want 1 (pre-ready frames must not be replayed)", len(frames))
	}
	decoded := relay.DecodePCM(frames[0])
	if len(decoded) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(decoded), len(samples))
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Fatalf("sample %d = %v, want %v", i, decoded[i], samples[i])
		}
	}
}

func TestRelay_HandshakeFirstMessagePerConnection(t *testing.T) {
	language := "en"
	handshake := func() relay.Handshake {
		return relay.NewHandshake("uid-1", language, "transcribe", "teams", "tok", "https://meet", "m-1")
	}
	dialer := relaymock.NewDialer(0)
	startRelay(t, dialer, handshake)

	conn := dialer.NextConn()
	waitFor(t, "handshake on first connection", func() bool { return len(conn.TextMessages()) >= 1 })

	var hs map[string]interface{}
	if err := json.Unmarshal(conn.TextMessages()[0], &hs); err != nil {
		t.Fatalf("unmarshal handshake: %v", err)
	}
	if hs["uid"] != "uid-1" || hs["task"] != "transcribe" || hs["platform"] != "teams" {
		t.Fatalf("unexpected handshake %v", hs)
	}
	if hs["language"] != "en" {
		t.Fatalf("language = %v, want en", hs["language"])
	}
	if hs["meeting_id"] != "m-1" || hs["token"] != "tok" {
		t.Fatalf("unexpected handshake %v", hs)
	}
	if model, ok := hs["model"]; !ok || model != nil {
		t.Fatalf("model = %v, want null", model)
	}
	if hs["use_vad"] != false {
		t.Fatalf("use_vad = %v, want false", hs["use_vad"])
	}

	// The snapshot function is re-evaluated on reconnect.
	language = "de"
	_ = conn.Close()
	conn2 := dialer.NextConn()
	waitFor(t, "handshake on second connection", func() bool { return len(conn2.TextMessages()) >= 1 })

	var hs2 map[string]interface{}
	if err := json.Unmarshal(conn2.TextMessages()[0], &hs2); err != nil {
		t.Fatalf("unmarshal second handshake: %v", err)
	}
	if hs2["language"] != "de" {
		t.Fatalf("second handshake language = %v, want de", hs2["language"])
	}
}

func TestRelay_RetriesIndefinitelyAtFixedInterval(t *testing.T) {
	dialer := relaymock.NewDialer(50)
	r := startRelay(t, dialer, nil)

	waitFor(t, "51st attempt to succeed", func() bool { return dialer.Attempts() > 50 })
	conn := dialer.NextConn()
	waitFor(t, "handshake after failures", func() bool { return len(conn.TextMessages()) >= 1 })

	if r.State() == relay.StateDisconnected {
		t.Fatal("relay gave up instead of holding the connection")
	}
}

func TestRelay_SpeakerEventsAcceptedWhileHandshaking(t *testing.T) {
	dialer := relaymock.NewDialer(0)
	r := startRelay(t, dialer, nil)
	conn := dialer.NextConn()
	waitFor(t, "handshake state", func() bool { return r.State() == relay.StateHandshaking })

	ev := relay.NewSpeakerEvent(relay.EventSpeakerStart, "Alice", "id-1", 1500)
	if !r.SubmitSpeakerEvent(ev) {
		t.Fatal("speaker event rejected on open transport")
	}

	waitFor(t, "speaker event on wire", func() bool { return len(conn.TextMessages()) >= 2 })
	var sent relay.SpeakerEvent
	if err := json.Unmarshal(conn.TextMessages()[1], &sent); err != nil {
		t.Fatalf("unmarshal speaker event: %v", err)
	}
	if sent.Type != "speaker_event" || sent.EventType != relay.EventSpeakerStart {
		t.Fatalf("unexpected event %+v", sent)
	}
	if sent.ParticipantName != "Alice" || sent.ParticipantID != "id-1" || sent.TimestampMS != 1500 {
		t.Fatalf("unexpected event %+v", sent)
	}
}

func TestRelay_SpeakerEventsDroppedWhileDisconnected(t *testing.T) {
	// All dials fail, so the transport is never open.
	dialer := relaymock.NewDialer(1 << 30)
	r := startRelay(t, dialer, nil)

	if r.SubmitSpeakerEvent(relay.NewSpeakerEvent(relay.EventSpeakerEnd, "Alice", "id-1", 0)) {
		t.Fatal("speaker event accepted without a connection")
	}
}

func TestRelay_WriteFailureDropsConnectionAndReconnects(t *testing.T) {
	dialer := relaymock.NewDialer(0)
	r := startRelay(t, dialer, nil)
	conn := dialer.NextConn()
	conn.PushServerReady()
	waitFor(t, "ready state", func() bool { return r.Ready() })

	conn.WriteBinaryErr = relaymock.ErrClosed
	if r.SubmitAudioFrame([]float32{0.1}, 16000) {
		t.Fatal("frame reported sent despite write failure")
	}

	// The supervisor replaces the dropped connection.
	conn2 := dialer.NextConn()
	waitFor(t, "reconnect handshake", func() bool { return len(conn2.TextMessages()) >= 1 })
}

func TestRelay_CloseSuppressesReconnect(t *testing.T) {
	dialer := relaymock.NewDialer(0)
	r := relay.New(relay.Config{
		URL:           "ws://backend.example.com/ws",
		RetryInterval: time.Millisecond,
		Dialer:        dialer,
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(context.Background())
	}()

	conn := dialer.NextConn()
	conn.PushServerReady()
	waitFor(t, "ready state", func() bool { return r.Ready() })

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}

	attempts := dialer.Attempts()
	time.Sleep(20 * time.Millisecond)
	if dialer.Attempts() != attempts {
		t.Fatal("relay kept dialing after Close")
	}
	if r.SubmitAudioFrame([]float32{0.1}, 16000) {
		t.Fatal("frame accepted after Close")
	}
}
