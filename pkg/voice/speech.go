package voice

import (
	"encoding/json"
	"sync"
	"time"
)

// SpeechEvents are the multi-fire callbacks of a speech request. OnEvent and
// OnSamples run on the transport goroutine, in chunk arrival order, so they
// can feed a SampleBuffer directly; the buffer marshals its own notifications
// onto the dispatcher.
type SpeechEvents struct {
	// OnEvent receives the raw JSON of every event chunk
	OnEvent func(json.RawMessage)

	// OnSamples receives decoded samples from every binary chunk
	OnSamples func([]float32)

	// OnExpectedSamples fires when the server announces the full clip length
	OnExpectedSamples func(int)
}

// SpeechConfig describes one speech exchange.
type SpeechConfig struct {
	// Transcribe selects the transcription endpoint instead of synthesis
	Transcribe bool

	// Text is the synthesis input; ignored for transcription
	Text string

	// Settings are the voice parameters embedded in the command
	Settings VoiceSettings

	// AudioType selects the decoder for inbound binary chunks
	AudioType AudioType

	// MultiSegment suppresses end-of-stream detection: the request only
	// completes when CloseAudioStream is called, allowing several sequential
	// partial exchanges within one logical request
	MultiSegment bool

	// Mirror, when not nil, receives every raw binary chunk for incremental
	// disk caching
	Mirror *ClipWriter
}

// SpeechRequest is the speech/TTS specialization: JSON events and binary
// audio interleave on the download side, and raw audio may be uploaded once
// the server signals it is ready for input.
//
// A single malformed chunk never poisons the stream: decode and disk-mirror
// failures are logged and skipped, and later chunks are still processed.
type SpeechRequest struct {
	*Request

	cfg     SpeechConfig
	events  SpeechEvents
	decoder ChunkDecoder

	mu            sync.Mutex
	readyForAudio bool
	pendingAudio  [][]byte
	audioClosed   bool
	mirrorBroken  bool
}

// NewSpeechRequest creates a speech request. Callers register SpeechEvents
// before the request is sent.
func NewSpeechRequest(cfg SpeechConfig, d *Dispatcher, timeout time.Duration) (*SpeechRequest, error) {
	decoder, err := NewChunkDecoder(cfg.AudioType)
	if err != nil {
		return nil, err
	}
	sr := &SpeechRequest{cfg: cfg, decoder: decoder}
	sr.Request = newRequest((*speechBehavior)(sr), d, timeout)
	sr.Request.onFinished = sr.finished
	return sr, nil
}

// SetSpeechEvents registers the chunk-level callbacks. Must be called before
// the request is sent.
func (r *SpeechRequest) SetSpeechEvents(events SpeechEvents) {
	r.events = events
}

// SendAudioData uploads raw audio bytes. Until the server has signalled
// ready-for-input the bytes are queued, then flushed in order once the
// signal arrives. Returns ErrRequestComplete after completion.
func (r *SpeechRequest) SendAudioData(data []byte) error {
	if r.State() == RequestComplete {
		return ErrRequestComplete
	}
	r.mu.Lock()
	if r.audioClosed {
		r.mu.Unlock()
		return ErrRequestComplete
	}
	if !r.readyForAudio {
		buf := make([]byte, len(data))
		copy(buf, data)
		r.pendingAudio = append(r.pendingAudio, buf)
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()
	return r.send(true, data)
}

// CloseAudioStream marks the end of caller-supplied audio with the end
// marker frame. In multi-segment mode this is the sole completion trigger.
func (r *SpeechRequest) CloseAudioStream() error {
	if r.State() == RequestComplete {
		return ErrRequestComplete
	}
	r.mu.Lock()
	if r.audioClosed {
		r.mu.Unlock()
		return nil
	}
	r.audioClosed = true
	r.mu.Unlock()

	err := r.send(false, encodeAudioEnd(r.ID()))
	if r.cfg.MultiSegment {
		r.completeWith(codeOK, "")
	}
	return err
}

// finished runs inside the completion transition: the decoder tail is
// flushed into the sample stream on success, and the disk mirror is either
// committed or discarded so a failed request never leaves a partial cache
// file.
func (r *SpeechRequest) finished(req *Request) {
	if req.Error() == "" {
		if tail, err := r.decoder.Flush(); err != nil {
			logger.Warn("discarding undecodable stream tail", "request", req.ID(), "error", err)
		} else if len(tail) > 0 {
			r.forwardSamples(tail)
		}
		if r.cfg.Mirror != nil {
			if err := r.cfg.Mirror.Commit(); err != nil {
				logger.Warn("failed to commit mirrored clip", "request", req.ID(), "error", err)
			}
		}
		return
	}
	if r.cfg.Mirror != nil {
		r.cfg.Mirror.Abort()
	}
}

func (r *SpeechRequest) forwardSamples(samples []float32) {
	if cb := r.events.OnSamples; cb != nil && len(samples) > 0 {
		cb(samples)
	}
}

// flushPendingAudio sends queued uploads after the ready signal, in order.
func (r *SpeechRequest) flushPendingAudio() {
	r.mu.Lock()
	pending := r.pendingAudio
	r.pendingAudio = nil
	r.readyForAudio = true
	r.mu.Unlock()

	for _, data := range pending {
		if err := r.send(true, data); err != nil {
			logger.Warn("failed to flush queued audio", "request", r.ID(), "error", err)
			return
		}
	}
}

// speechBehavior adapts SpeechRequest to the shared state machine.
type speechBehavior SpeechRequest

func (b *speechBehavior) request() *SpeechRequest { return (*SpeechRequest)(b) }

func (b *speechBehavior) endpoint() string {
	if b.cfg.Transcribe {
		return endpointTranscribe
	}
	return endpointSynthesize
}

func (b *speechBehavior) uploadParams() (any, error) {
	params := make(map[string]any)
	for k, v := range b.cfg.Settings.Encode() {
		params[k] = v
	}
	if !b.cfg.Transcribe {
		params["text"] = b.cfg.Text
	}
	return params, nil
}

func (b *speechBehavior) handleChunk(chunk ResponseChunk) {
	r := b.request()
	if chunk.IsBinary() {
		r.handleBinaryChunk(chunk.Binary)
		return
	}
	if chunk.Type == eventReadyForAudio {
		r.flushPendingAudio()
	}
	if chunk.SampleTotal > 0 {
		if cb := r.events.OnExpectedSamples; cb != nil {
			cb(chunk.SampleTotal)
		}
	}
	if cb := r.events.OnEvent; cb != nil {
		cb(chunk.Raw)
	}
}

func (b *speechBehavior) isTerminal(chunk ResponseChunk) bool {
	// Multi-segment requests complete only through CloseAudioStream.
	if b.cfg.MultiSegment {
		return false
	}
	return chunk.End
}

// handleBinaryChunk decodes one audio chunk and forwards its samples,
// mirroring the raw bytes to disk when configured. Failures affect only this
// chunk.
func (r *SpeechRequest) handleBinaryChunk(data []byte) {
	samples, err := r.decoder.Decode(data)
	if err != nil {
		logger.Warn("skipping undecodable audio chunk", "request", r.ID(), "bytes", len(data), "error", err)
	} else {
		r.forwardSamples(samples)
	}

	if r.cfg.Mirror == nil || r.mirrorBroken {
		return
	}
	if _, err := r.cfg.Mirror.Write(data); err != nil {
		// One disk failure stops mirroring, not the stream.
		logger.Warn("disk mirror failed, disabling for clip", "request", r.ID(), "error", err)
		r.mirrorBroken = true
		r.cfg.Mirror.Abort()
	}
}
