// Package presencemock provides an in-memory mock implementation of
// [presence.Source] for use in unit tests.
//
// The mock is safe for concurrent use. Set the exported Result fields before
// use; push mutations with [Source.PushMutation] and signal page teardown with
// [Source.SignalTermination].
package presencemock

import (
	"context"
	"sync"

	"github.com/shaike1/vexai-msteams/internal/presence"
)

// Source is a mock implementation of [presence.Source].
type Source struct {
	mu sync.Mutex

	// SnapshotResult is returned by [Source.Snapshot].
	SnapshotResult []presence.Observation

	// SnapshotError is returned by [Source.Snapshot].
	SnapshotError error

	// RosterResult is returned by [Source.RosterNames].
	RosterResult []string

	// RosterError is returned by [Source.RosterNames].
	RosterError error

	// RemovalResult is returned by [Source.RemovalDetected].
	RemovalResult bool

	// StartError is returned by [Source.Start].
	StartError error

	// Handler holds the audio handler registered via SetAudioHandler.
	Handler presence.AudioHandler

	// CallCountSnapshot records how many times Snapshot was called.
	CallCountSnapshot int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	mutations    chan presence.Mutation
	terminations chan struct{}
	initOnce     sync.Once
}

func (s *Source) init() {
	s.initOnce.Do(func() {
		s.mutations = make(chan presence.Mutation, 64)
		s.terminations = make(chan struct{}, 1)
	})
}

// SetAudioHandler implements [presence.Source].
func (s *Source) SetAudioHandler(h presence.AudioHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Handler = h
}

// Start implements [presence.Source]. Returns StartError.
func (s *Source) Start(_ context.Context) error {
	s.init()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StartError
}

// Snapshot implements [presence.Source]. Returns SnapshotResult.
func (s *Source) Snapshot(_ context.Context) ([]presence.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountSnapshot++
	return s.SnapshotResult, s.SnapshotError
}

// SetSnapshot replaces SnapshotResult, simulating surface churn between polls.
func (s *Source) SetSnapshot(obs []presence.Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SnapshotResult = obs
}

// Mutations implements [presence.Source].
func (s *Source) Mutations() <-chan presence.Mutation {
	s.init()
	return s.mutations
}

// PushMutation delivers one mutation to the consumer.
func (s *Source) PushMutation(m presence.Mutation) {
	s.init()
	s.mutations <- m
}

// RosterNames implements [presence.Source]. Returns RosterResult.
func (s *Source) RosterNames(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.RosterResult, s.RosterError
}

// SetRoster replaces RosterResult.
func (s *Source) SetRoster(names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RosterResult = names
}

// RemovalDetected implements [presence.Source]. Returns RemovalResult.
func (s *Source) RemovalDetected(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.RemovalResult, nil
}

// SetRemoval replaces RemovalResult.
func (s *Source) SetRemoval(removed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RemovalResult = removed
}

// Terminations implements [presence.Source].
func (s *Source) Terminations() <-chan struct{} {
	s.init()
	return s.terminations
}

// SignalTermination simulates page unload or visibility loss.
func (s *Source) SignalTermination() {
	s.init()
	select {
	case s.terminations <- struct{}{}:
	default:
	}
}

// PushAudio invokes the registered audio handler, simulating a capture
// buffer pushed from the page. Reports the handler's result, or false when
// no handler is registered.
func (s *Source) PushAudio(samples []float32, sampleRate int) bool {
	s.mu.Lock()
	h := s.Handler
	s.mu.Unlock()
	if h == nil {
		return false
	}
	return h(samples, sampleRate)
}

// Close implements [presence.Source].
func (s *Source) Close() error {
	s.init()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if s.CallCountClose == 1 {
		close(s.mutations)
	}
	return nil
}
