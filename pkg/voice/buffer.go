package voice

import (
	"sync"
	"sync/atomic"
)

// BufferConfig describes the shape of a SampleBuffer.
type BufferConfig struct {
	// Channels is the number of interleaved audio channels (1=mono, 2=stereo)
	Channels int

	// SampleRate is the audio sample rate in Hz
	SampleRate int

	// ReadyThreshold is the buffered duration in seconds after which the clip
	// counts as playable. <= 0 means ready on the first sample.
	ReadyThreshold float64

	// Capacity is the maximum number of samples the buffer will hold. Samples
	// past capacity are silently dropped.
	Capacity int
}

// BufferEvents is the callback registry for one SampleBuffer. OnReady,
// OnComplete and OnUnloaded are single-fire; OnUpdated fires for every
// AddSamples call that lands samples. All callbacks run on the dispatcher
// goroutine.
type BufferEvents struct {
	OnReady    func(*SampleBuffer)
	OnUpdated  func(*SampleBuffer, int)
	OnComplete func(*SampleBuffer)
	OnUnloaded func(*SampleBuffer)
}

// SampleBuffer accumulates decoded float samples for one clip. Samples are
// written from a single background decode goroutine; counters are read from
// the dispatcher goroutine. Counters only ever increase, so reads need no
// lock.
type SampleBuffer struct {
	channels       int
	sampleRate     int
	readyThreshold float64

	samples []float32 // fixed backing array, len tracked by added

	added    atomic.Int64
	expected atomic.Int64

	ready    atomic.Bool
	complete atomic.Bool

	unloadOnce sync.Once
	unloaded   atomic.Bool
	pooled     atomic.Bool

	dispatcher *Dispatcher
	events     BufferEvents
}

// NewSampleBuffer allocates a buffer with the given shape. Events fire on the
// dispatcher goroutine.
func NewSampleBuffer(cfg BufferConfig, d *Dispatcher) *SampleBuffer {
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = cfg.SampleRate * cfg.Channels * DefaultMaxClipSeconds
	}
	return &SampleBuffer{
		channels:       cfg.Channels,
		sampleRate:     cfg.SampleRate,
		readyThreshold: cfg.ReadyThreshold,
		samples:        make([]float32, cfg.Capacity),
		dispatcher:     d,
	}
}

// SetEvents registers the buffer callbacks. Must be called before streaming
// starts.
func (b *SampleBuffer) SetEvents(events BufferEvents) {
	b.events = events
}

// Channels returns the channel count.
func (b *SampleBuffer) Channels() int { return b.channels }

// SampleRate returns the sample rate in Hz.
func (b *SampleBuffer) SampleRate() int { return b.sampleRate }

// Capacity returns the maximum number of samples the buffer can hold.
func (b *SampleBuffer) Capacity() int { return len(b.samples) }

// AddedSamples returns the number of samples written so far.
func (b *SampleBuffer) AddedSamples() int { return int(b.added.Load()) }

// ExpectedSamples returns the total sample count if known, else 0.
func (b *SampleBuffer) ExpectedSamples() int { return int(b.expected.Load()) }

// TotalSamples returns max(added, expected).
func (b *SampleBuffer) TotalSamples() int {
	added, expected := b.added.Load(), b.expected.Load()
	if added > expected {
		return int(added)
	}
	return int(expected)
}

// IsReady reports whether the ready threshold has been crossed.
func (b *SampleBuffer) IsReady() bool { return b.ready.Load() }

// IsComplete reports whether every expected sample has arrived.
func (b *SampleBuffer) IsComplete() bool { return b.complete.Load() }

// Samples returns the samples written so far. The returned slice aliases the
// buffer's backing array and must not be retained past Unload.
func (b *SampleBuffer) Samples() []float32 {
	return b.samples[:b.added.Load()]
}

// Duration returns the buffered duration in seconds.
func (b *SampleBuffer) Duration() float64 {
	return b.secondsFor(b.added.Load())
}

// TotalDuration returns the full clip duration in seconds, based on
// TotalSamples.
func (b *SampleBuffer) TotalDuration() float64 {
	return b.secondsFor(int64(b.TotalSamples()))
}

func (b *SampleBuffer) secondsFor(samples int64) float64 {
	perSecond := b.sampleRate * b.channels
	if perSecond <= 0 {
		return 0
	}
	return float64(samples) / float64(perSecond)
}

// AddSamples appends decoded samples, clamped to the allocated capacity.
// Excess samples are dropped by design, not reported as an error. Must be
// called from at most one goroutine per buffer.
func (b *SampleBuffer) AddSamples(samples []float32) {
	if b.unloaded.Load() || len(samples) == 0 {
		return
	}
	added := b.added.Load()
	room := int64(len(b.samples)) - added
	if room <= 0 {
		return
	}
	n := int64(len(samples))
	if n > room {
		n = room
	}
	copy(b.samples[added:], samples[:n])
	// Publish after the copy so readers never see unwritten samples.
	b.added.Store(added + n)

	b.evaluate(int(n))
}

// SetExpectedSamples records the total clip length once it becomes known,
// either up front from a content-length signal or at stream end. Only the
// first positive value takes effect.
func (b *SampleBuffer) SetExpectedSamples(n int) {
	if b.unloaded.Load() || n <= 0 {
		return
	}
	if !b.expected.CompareAndSwap(0, int64(n)) {
		return
	}
	b.evaluate(0)
}

// evaluate re-checks ready/complete transitions. Each transition happens at
// most once per buffer lifetime.
func (b *SampleBuffer) evaluate(landed int) {
	added, expected := b.added.Load(), b.expected.Load()

	if !b.ready.Load() && b.readyAt(added, expected) && b.ready.CompareAndSwap(false, true) {
		if cb := b.events.OnReady; cb != nil {
			b.dispatcher.Dispatch(func() { cb(b) })
		}
	}

	if landed > 0 {
		if cb := b.events.OnUpdated; cb != nil {
			b.dispatcher.Dispatch(func() { cb(b, landed) })
		}
	}

	if !b.complete.Load() && expected > 0 && added >= expected && b.complete.CompareAndSwap(false, true) {
		if cb := b.events.OnComplete; cb != nil {
			b.dispatcher.Dispatch(func() { cb(b) })
		}
	}
}

// readyAt applies the readiness rule: buffered duration has reached
// min(readyThreshold, total clip duration), so short clips do not wait for an
// unreachable threshold.
func (b *SampleBuffer) readyAt(added, expected int64) bool {
	if added <= 0 {
		return false
	}
	if b.readyThreshold <= 0 {
		return true
	}
	need := b.readyThreshold
	if expected > 0 {
		if total := b.secondsFor(expected); total < need {
			need = total
		}
	}
	return b.secondsFor(added) >= need
}

// Unload clears counters and releases the buffer for reuse, firing OnUnloaded
// exactly once. Idempotent; all later AddSamples calls are no-ops.
func (b *SampleBuffer) Unload() {
	b.unloadOnce.Do(func() {
		b.unloaded.Store(true)
		b.added.Store(0)
		b.expected.Store(0)
		if cb := b.events.OnUnloaded; cb != nil {
			b.dispatcher.Dispatch(func() { cb(b) })
		}
	})
}

// reset rearms an unloaded buffer for reuse by the pool.
func (b *SampleBuffer) reset(cfg BufferConfig) {
	b.readyThreshold = cfg.ReadyThreshold
	b.added.Store(0)
	b.expected.Store(0)
	b.ready.Store(false)
	b.complete.Store(false)
	b.unloaded.Store(false)
	b.unloadOnce = sync.Once{}
	b.events = BufferEvents{}
}
