package audio

import (
	"fmt"
	"sync"

	"github.com/dgnsrekt/speechstream/pkg/voice"
)

// MockPlayer is a device-free stand-in for tests and headless environments.
// It records every enqueued clip and fires the same notifier signals the
// real player would, synchronously.
type MockPlayer struct {
	notifier Notifier

	mu      sync.Mutex
	played  []string
	stopped bool

	// FailEnqueue makes the next Enqueue return an error, then resets
	FailEnqueue bool
}

// NewMockPlayer creates a mock. notifier may be nil.
func NewMockPlayer(notifier Notifier) *MockPlayer {
	return &MockPlayer{notifier: notifier}
}

// Enqueue records the clip and immediately reports queued and complete.
func (m *MockPlayer) Enqueue(clip *voice.Clip) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return fmt.Errorf("player is stopped")
	}
	if m.FailEnqueue {
		m.FailEnqueue = false
		m.mu.Unlock()
		return fmt.Errorf("simulated enqueue failure")
	}
	m.played = append(m.played, clip.Identity)
	m.mu.Unlock()

	if m.notifier != nil {
		m.notifier.PlaybackQueued(clip.Identity)
		m.notifier.PlaybackComplete(clip.Identity)
	}
	return nil
}

// Close marks the mock stopped.
func (m *MockPlayer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

// Played returns the identities enqueued so far, in order.
func (m *MockPlayer) Played() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.played...)
}
