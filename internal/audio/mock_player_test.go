package audio

import (
	"testing"
	"time"

	"github.com/dgnsrekt/speechstream/pkg/voice"
)

type recordingNotifier struct {
	queued   []string
	complete []string
}

func (n *recordingNotifier) PlaybackQueued(identity string)   { n.queued = append(n.queued, identity) }
func (n *recordingNotifier) PlaybackComplete(identity string) { n.complete = append(n.complete, identity) }

func testClip(t *testing.T, identity string) *voice.Clip {
	t.Helper()
	d := voice.NewDispatcher(8)
	buf := voice.NewSampleBuffer(voice.BufferConfig{
		Channels:       1,
		SampleRate:     16000,
		ReadyThreshold: 0,
		Capacity:       16000,
	}, d)
	buf.AddSamples(make([]float32, 160))
	return &voice.Clip{Identity: identity, Buffer: buf, CreatedAt: time.Now()}
}

func TestMockPlayerSignalsLifecycle(t *testing.T) {
	n := &recordingNotifier{}
	p := NewMockPlayer(n)

	clips := []string{"clip-a", "clip-b", "clip-c"}
	for _, id := range clips {
		if err := p.Enqueue(testClip(t, id)); err != nil {
			t.Fatalf("Enqueue(%s) failed: %v", id, err)
		}
	}

	played := p.Played()
	if len(played) != len(clips) {
		t.Fatalf("played %d clips, want %d", len(played), len(clips))
	}
	for i, id := range clips {
		if played[i] != id {
			t.Errorf("played[%d] = %s, want %s", i, played[i], id)
		}
		if n.queued[i] != id {
			t.Errorf("queued[%d] = %s, want %s", i, n.queued[i], id)
		}
		if n.complete[i] != id {
			t.Errorf("complete[%d] = %s, want %s", i, n.complete[i], id)
		}
	}
}

func TestMockPlayerEnqueueAfterClose(t *testing.T) {
	p := NewMockPlayer(nil)
	p.Close()
	if err := p.Enqueue(testClip(t, "late")); err == nil {
		t.Fatal("expected error enqueueing after close")
	}
	if len(p.Played()) != 0 {
		t.Errorf("closed player recorded %d clips, want 0", len(p.Played()))
	}
}

func TestMockPlayerFailEnqueueResets(t *testing.T) {
	p := NewMockPlayer(nil)
	p.FailEnqueue = true
	if err := p.Enqueue(testClip(t, "first")); err == nil {
		t.Fatal("expected simulated failure")
	}
	if err := p.Enqueue(testClip(t, "second")); err != nil {
		t.Fatalf("failure flag should reset: %v", err)
	}
}
