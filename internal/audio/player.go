// Package audio plays buffered voice clips through the system audio device
// and reports per-clip playback lifecycle to an interested listener.
package audio

import (
	"bytes"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/dgnsrekt/speechstream/pkg/voice"
)

// PlayerState tracks what the player is currently doing.
type PlayerState int32

const (
	StateIdle PlayerState = iota
	StatePlaying
	StateStopped
)

// String returns a string representation of the player state.
func (s PlayerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Notifier receives playback lifecycle signals per clip identity. The
// ref-counted runtime cache consumes these to decide when a clip may be
// evicted; voice.Client satisfies the interface directly.
type Notifier interface {
	PlaybackQueued(identity string)
	PlaybackComplete(identity string)
}

// Player is the speaker-facing collaborator: it converts ready clips to
// 16-bit PCM and plays them sequentially through the platform audio device.
//
// The encoded bytes must stay referenced for the full duration of playback;
// the player holds them until oto reports the stream drained.
type Player struct {
	context *oto.Context

	sampleRate int
	channels   int

	queue    chan *voice.Clip
	notifier Notifier

	state   atomic.Int32
	volume  atomic.Uint64 // float64 bits
	pending atomic.Int32

	mu      sync.Mutex
	current *oto.Player

	done chan struct{}
	wg   sync.WaitGroup
}

// PlayerConfig shapes the output device.
type PlayerConfig struct {
	SampleRate int
	Channels   int

	// QueueDepth bounds how many ready clips may wait for the speaker
	QueueDepth int
}

// DefaultPlayerConfig returns defaults matching the library stream shape.
func DefaultPlayerConfig() PlayerConfig {
	return PlayerConfig{
		SampleRate: voice.DefaultSampleRate,
		Channels:   voice.DefaultChannels,
		QueueDepth: 16,
	}
}

// NewPlayer opens the platform audio device and starts the playback
// goroutine. notifier may be nil.
func NewPlayer(cfg PlayerConfig, notifier Notifier) (*Player, error) {
	if cfg.SampleRate <= 0 || cfg.Channels <= 0 {
		return nil, fmt.Errorf("invalid player config: rate=%d channels=%d", cfg.SampleRate, cfg.Channels)
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 16
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: cfg.Channels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}
	<-ready

	p := &Player{
		context:    ctx,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		queue:      make(chan *voice.Clip, cfg.QueueDepth),
		notifier:   notifier,
		done:       make(chan struct{}),
	}
	p.state.Store(int32(StateIdle))
	p.SetVolume(1.0)

	p.wg.Add(1)
	go p.playLoop()
	return p, nil
}

// State returns what the player is currently doing.
func (p *Player) State() PlayerState {
	return PlayerState(p.state.Load())
}

// SetVolume sets the playback gain, clamped to [0, 1].
func (p *Player) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	p.volume.Store(math.Float64bits(v))
}

// Volume returns the current playback gain.
func (p *Player) Volume() float64 {
	return math.Float64frombits(p.volume.Load())
}

// Enqueue schedules a ready clip for playback. The notifier learns about
// the clip immediately so the cache pins it until the speaker is done with
// it.
func (p *Player) Enqueue(clip *voice.Clip) error {
	if p.State() == StateStopped {
		return fmt.Errorf("player is stopped")
	}
	if !clip.Buffer.IsReady() {
		return fmt.Errorf("clip %s is not ready", clip.Identity)
	}
	p.notifyQueued(clip.Identity)
	select {
	case p.queue <- clip:
		p.pending.Add(1)
		return nil
	case <-p.done:
		p.notifyComplete(clip.Identity)
		return fmt.Errorf("player is stopped")
	}
}

// Flush blocks until every queued clip has played or the player closes.
func (p *Player) Flush() {
	for p.pending.Load() > 0 && p.State() != StateStopped {
		select {
		case <-p.done:
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Close stops playback, drains the queue with completion signals and
// releases the device.
func (p *Player) Close() {
	if !p.state.CompareAndSwap(int32(StateIdle), int32(StateStopped)) &&
		!p.state.CompareAndSwap(int32(StatePlaying), int32(StateStopped)) {
		return
	}
	close(p.done)

	p.mu.Lock()
	if p.current != nil {
		_ = p.current.Close()
		p.current = nil
	}
	p.mu.Unlock()

	p.wg.Wait()

	// Whatever never reached the speaker still owes a completion signal.
	for {
		select {
		case clip := <-p.queue:
			p.notifyComplete(clip.Identity)
			p.pending.Add(-1)
		default:
			return
		}
	}
}

func (p *Player) notifyQueued(identity string) {
	if p.notifier != nil {
		p.notifier.PlaybackQueued(identity)
	}
}

func (p *Player) notifyComplete(identity string) {
	if p.notifier != nil {
		p.notifier.PlaybackComplete(identity)
	}
}

// playLoop plays queued clips one at a time in arrival order.
func (p *Player) playLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case clip := <-p.queue:
			p.playClip(clip)
			p.notifyComplete(clip.Identity)
			p.pending.Add(-1)
		}
	}
}

// playClip renders one clip and blocks until the device has drained it.
func (p *Player) playClip(clip *voice.Clip) {
	samples := clip.Buffer.Samples()
	if len(samples) == 0 {
		return
	}
	pcm := voice.EncodePCM16(p.applyVolume(samples))

	player := p.context.NewPlayer(bytes.NewReader(pcm))
	p.mu.Lock()
	p.current = player
	p.mu.Unlock()
	p.state.Store(int32(StatePlaying))

	player.Play()
	for player.IsPlaying() {
		select {
		case <-p.done:
			_ = player.Close()
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
	_ = player.Close()

	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()
	p.state.CompareAndSwap(int32(StatePlaying), int32(StateIdle))
}

// applyVolume scales samples by the current gain, copying only when needed.
func (p *Player) applyVolume(samples []float32) []float32 {
	v := p.Volume()
	if v >= 1.0 {
		return samples
	}
	scaled := make([]float32, len(samples))
	for i, s := range samples {
		scaled[i] = s * float32(v)
	}
	return scaled
}
