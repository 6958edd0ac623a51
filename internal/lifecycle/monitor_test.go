package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"
)

// scriptedCounter replays a fixed sequence of counts, repeating the last
// entry once exhausted.
type scriptedCounter struct {
	counts []int
	errs   []error
	calls  int
}

func (c *scriptedCounter) ParticipantCount(context.Context) (int, error) {
	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return 0, c.errs[i]
	}
	if i >= len(c.counts) {
		i = len(c.counts) - 1
	}
	return c.counts[i], nil
}

type fixedRemoval struct {
	removed bool
	err     error
}

func (r *fixedRemoval) RemovalDetected(context.Context) (bool, error) {
	return r.removed, r.err
}

func TestMonitor_StartupAloneTimeout(t *testing.T) {
	counter := &scriptedCounter{counts: []int{0}}
	m := New(Config{Counter: counter, Removal: &fixedRemoval{}})

	ctx := context.Background()
	for i := 1; i <= 9; i++ {
		if reason, done := m.step(ctx); done {
			t.Fatalf("tick %d: terminated early with %q", i, reason)
		}
	}
	reason, done := m.step(ctx)
	if !done {
		t.Fatal("tick 10: expected termination")
	}
	if reason != ReasonStartupAloneTimeout {
		t.Fatalf("reason = %q, want %q", reason, ReasonStartupAloneTimeout)
	}
	if m.SpeakersIdentified() {
		t.Fatal("latch should stay unset when no participants were ever seen")
	}
}

func TestMonitor_EveryoneLeftTimeout(t *testing.T) {
	// One participant appears on the second tick, then everyone leaves.
	counter := &scriptedCounter{counts: []int{0, 2, 0}}
	m := New(Config{Counter: counter, Removal: &fixedRemoval{}})

	ctx := context.Background()
	for i := 1; i <= 2; i++ {
		if reason, done := m.step(ctx); done {
			t.Fatalf("tick %d: terminated early with %q", i, reason)
		}
	}
	if !m.SpeakersIdentified() {
		t.Fatal("latch should be set after a participant was seen")
	}

	var reason Reason
	var done bool
	for i := 3; i <= 12; i++ {
		reason, done = m.step(ctx)
		if done {
			if i != 12 {
				t.Fatalf("terminated at tick %d, want tick 12", i)
			}
			break
		}
	}
	if !done {
		t.Fatal("expected termination after 10 alone ticks")
	}
	if reason != ReasonEveryoneLeftTimeout {
		t.Fatalf("reason = %q, want %q", reason, ReasonEveryoneLeftTimeout)
	}
}

func TestMonitor_LatchIsOneWay(t *testing.T) {
	counter := &scriptedCounter{counts: []int{2, 0, 3, 0}}
	m := New(Config{Counter: counter, Removal: &fixedRemoval{}})

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		m.step(ctx)
		if !m.SpeakersIdentified() {
			t.Fatalf("tick %d: latch reverted", i+1)
		}
	}
}

func TestMonitor_RemovalWinsOverTimeouts(t *testing.T) {
	// Participants present, so no timeout is running; removal still ends it.
	counter := &scriptedCounter{counts: []int{5}}
	m := New(Config{Counter: counter, Removal: &fixedRemoval{removed: true}})

	reason, done := m.step(context.Background())
	if !done {
		t.Fatal("expected immediate termination on removal signal")
	}
	if reason != ReasonRemovedByAdmin {
		t.Fatalf("reason = %q, want %q", reason, ReasonRemovedByAdmin)
	}
}

func TestMonitor_CountErrorDoesNotCountAsAlone(t *testing.T) {
	errs := make([]error, 20)
	for i := range errs {
		errs[i] = errors.New("surface busy")
	}
	counter := &scriptedCounter{counts: []int{0}, errs: errs}
	m := New(Config{Counter: counter, Removal: &fixedRemoval{}})

	ctx := context.Background()
	for i := 1; i <= 20; i++ {
		if reason, done := m.step(ctx); done {
			t.Fatalf("tick %d: terminated with %q despite count errors", i, reason)
		}
	}
	if m.aloneSeconds != 0 {
		t.Fatalf("aloneSeconds = %d, want 0", m.aloneSeconds)
	}
}

func TestMonitor_PresenceResetsCountdown(t *testing.T) {
	// Alone for 9 ticks, someone joins, then alone again: the countdown
	// restarts from zero under the post-engagement timeout.
	counts := make([]int, 0, 24)
	for i := 0; i < 9; i++ {
		counts = append(counts, 0)
	}
	counts = append(counts, 1)
	counts = append(counts, 0)
	counter := &scriptedCounter{counts: counts}
	m := New(Config{Counter: counter, Removal: &fixedRemoval{}})

	ctx := context.Background()
	ticks := 0
	for {
		ticks++
		if ticks > 30 {
			t.Fatal("no termination within 30 ticks")
		}
		reason, done := m.step(ctx)
		if !done {
			continue
		}
		if reason != ReasonEveryoneLeftTimeout {
			t.Fatalf("reason = %q, want %q", reason, ReasonEveryoneLeftTimeout)
		}
		// 9 alone + 1 present + 10 alone.
		if ticks != 20 {
			t.Fatalf("terminated at tick %d, want 20", ticks)
		}
		return
	}
}

func TestMonitor_RunReturnsEmptyOnCancel(t *testing.T) {
	counter := &scriptedCounter{counts: []int{3}}
	m := New(Config{Counter: counter, Removal: &fixedRemoval{}, TickInterval: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if reason := m.Run(ctx); reason != "" {
		t.Fatalf("Run = %q, want empty reason on cancel", reason)
	}
}

func TestMonitor_RunTerminates(t *testing.T) {
	counter := &scriptedCounter{counts: []int{0}}
	m := New(Config{
		Counter:                    counter,
		Removal:                    &fixedRemoval{},
		StartupAloneTimeoutSeconds: 3,
		TickInterval:               time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if reason := m.Run(ctx); reason != ReasonStartupAloneTimeout {
		t.Fatalf("Run = %q, want %q", reason, ReasonStartupAloneTimeout)
	}
}
