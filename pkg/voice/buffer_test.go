package voice

import (
	"sync/atomic"
	"testing"
)

func testBuffer(t *testing.T, cfg BufferConfig) *SampleBuffer {
	t.Helper()
	return NewSampleBuffer(cfg, NewDispatcher(64))
}

func TestBufferReadyThreshold(t *testing.T) {
	// 16 kHz mono with a 0.25s threshold: 4000 samples must land before the
	// clip counts as playable.
	buf := testBuffer(t, BufferConfig{
		Channels:       1,
		SampleRate:     16000,
		ReadyThreshold: 0.25,
		Capacity:       32000,
	})

	var readyCount atomic.Int32
	buf.SetEvents(BufferEvents{
		OnReady: func(*SampleBuffer) { readyCount.Add(1) },
	})

	buf.AddSamples(make([]float32, 3999))
	if buf.IsReady() {
		t.Fatal("buffer ready one sample short of the threshold")
	}

	buf.AddSamples(make([]float32, 1))
	if !buf.IsReady() {
		t.Fatal("buffer not ready at exactly the threshold")
	}

	// Readiness never fires twice, however much more audio lands.
	buf.AddSamples(make([]float32, 8000))
	if !buf.IsReady() {
		t.Fatal("buffer lost readiness")
	}
}

func TestBufferShortClipReadiness(t *testing.T) {
	// A clip shorter than the threshold becomes ready once all of it has
	// landed, instead of waiting for an unreachable threshold.
	buf := testBuffer(t, BufferConfig{
		Channels:       1,
		SampleRate:     16000,
		ReadyThreshold: 1.0,
		Capacity:       32000,
	})
	buf.SetExpectedSamples(2000) // 0.125s total

	buf.AddSamples(make([]float32, 1999))
	if buf.IsReady() {
		t.Fatal("short clip ready before fully buffered")
	}
	buf.AddSamples(make([]float32, 1))
	if !buf.IsReady() {
		t.Fatal("short clip not ready when fully buffered")
	}
	if !buf.IsComplete() {
		t.Fatal("short clip not complete when added == expected")
	}
}

func TestBufferZeroThresholdReadyOnFirstSample(t *testing.T) {
	buf := testBuffer(t, BufferConfig{
		Channels:   1,
		SampleRate: 16000,
		Capacity:   16000,
	})
	if buf.IsReady() {
		t.Fatal("empty buffer must not be ready")
	}
	buf.AddSamples([]float32{0.5})
	if !buf.IsReady() {
		t.Fatal("zero threshold buffer not ready after first sample")
	}
}

func TestBufferCapacityClamp(t *testing.T) {
	buf := testBuffer(t, BufferConfig{
		Channels:   1,
		SampleRate: 16000,
		Capacity:   100,
	})

	buf.AddSamples(make([]float32, 80))
	buf.AddSamples(make([]float32, 80))
	if got := buf.AddedSamples(); got != 100 {
		t.Errorf("AddedSamples = %d, want capacity clamp at 100", got)
	}

	// Further writes are silent no-ops.
	buf.AddSamples(make([]float32, 10))
	if got := buf.AddedSamples(); got != 100 {
		t.Errorf("AddedSamples after overflow write = %d, want 100", got)
	}
}

func TestBufferExpectedSamplesFirstValueWins(t *testing.T) {
	buf := testBuffer(t, BufferConfig{
		Channels:   1,
		SampleRate: 16000,
		Capacity:   16000,
	})
	buf.SetExpectedSamples(500)
	buf.SetExpectedSamples(900)
	if got := buf.ExpectedSamples(); got != 500 {
		t.Errorf("ExpectedSamples = %d, want first value 500", got)
	}
}

func TestBufferCompleteFiresOnce(t *testing.T) {
	d := NewDispatcher(64)
	buf := NewSampleBuffer(BufferConfig{
		Channels:   1,
		SampleRate: 16000,
		Capacity:   16000,
	}, d)

	var completes atomic.Int32
	done := make(chan struct{})
	buf.SetEvents(BufferEvents{
		OnComplete: func(*SampleBuffer) {
			completes.Add(1)
			close(done)
		},
	})

	stop := runDispatcher(t, d)
	defer stop()

	buf.SetExpectedSamples(100)
	buf.AddSamples(make([]float32, 100))
	<-done

	// Late writes are clamped away and never re-fire completion.
	buf.AddSamples(make([]float32, 10))
	if got := completes.Load(); got != 1 {
		t.Errorf("OnComplete fired %d times, want 1", got)
	}
}

func TestBufferDuration(t *testing.T) {
	tests := []struct {
		name     string
		channels int
		rate     int
		samples  int
		want     float64
	}{
		{"one second mono", 1, 16000, 16000, 1.0},
		{"half second mono", 1, 16000, 8000, 0.5},
		{"one second stereo", 2, 16000, 32000, 1.0},
		{"empty", 1, 16000, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := testBuffer(t, BufferConfig{
				Channels:   tt.channels,
				SampleRate: tt.rate,
				Capacity:   64000,
			})
			buf.AddSamples(make([]float32, tt.samples))
			if got := buf.Duration(); got != tt.want {
				t.Errorf("Duration = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBufferUnloadStopsWrites(t *testing.T) {
	buf := testBuffer(t, BufferConfig{
		Channels:   1,
		SampleRate: 16000,
		Capacity:   16000,
	})
	buf.AddSamples(make([]float32, 10))
	buf.Unload()
	buf.AddSamples(make([]float32, 10))
	if got := buf.AddedSamples(); got != 0 {
		t.Errorf("AddedSamples after unload = %d, want 0", got)
	}
}
