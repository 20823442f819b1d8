package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ClientState is the lifecycle state of the client.
type ClientState int32

const (
	// ClientStopped means the client holds no resources
	ClientStopped ClientState = iota

	// ClientStarting means startup is in progress
	ClientStarting

	// ClientRunning means the client is connected and serving requests
	ClientRunning

	// ClientStopping means shutdown is in progress
	ClientStopping
)

// String returns a string representation of the client state.
func (s ClientState) String() string {
	switch s {
	case ClientStopped:
		return "stopped"
	case ClientStarting:
		return "starting"
	case ClientRunning:
		return "running"
	case ClientStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// ClipEvents are the per-clip callbacks. All of them run on the callback
// goroutine. OnReady fires at most once, when enough audio has buffered for
// playback to begin. Exactly one of OnComplete and OnError follows.
type ClipEvents struct {
	OnReady    func(*Clip)
	OnComplete func(*Clip)
	OnError    func(*Clip, error)
}

// ClipRequestOptions tune one clip request.
type ClipRequestOptions struct {
	// Settings are the voice parameters; they contribute to clip identity
	Settings VoiceSettings

	// StreamingOnly bypasses both cache layers: the clip is synthesized
	// fresh, never stored and never mirrored to disk
	StreamingOnly bool

	// AudioType overrides the wire codec for the network leg; zero means
	// 16-bit PCM
	AudioType AudioType
}

// clipJob tracks one in-flight clip so concurrent requests for the same
// identity share a single synthesis.
type clipJob struct {
	clip      *Clip
	req       *SpeechRequest
	listeners []ClipEvents
	failed    bool
}

// Client is the top-level facade: it owns the callback dispatcher, the
// buffer pool, the connection, the in-memory clip cache and the disk cache,
// and resolves each clip request through runtime cache, disk cache and
// network in that order.
type Client struct {
	cfg Config

	dispatcher *Dispatcher
	pool       *BufferPool
	conn       *ConnectionManager
	disk       *DiskCache

	state atomic.Int32

	mu      sync.Mutex
	cache   ClipCache
	jobs    map[string]*clipJob
	session string

	runCancel context.CancelFunc
}

// NewClient builds a client from the configuration. No resources are
// acquired until Start.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dispatcher := NewDispatcher(cfg.DispatchDepth)
	pool := NewBufferPool(dispatcher)

	// Evicted clips hand their unloaded buffers back to the pool.
	recycle := func(clip *Clip) { pool.Put(clip.Buffer) }
	var cache ClipCache
	switch cfg.RuntimeCache.Policy {
	case PolicyRefCounted:
		rc := NewRefCountedClipCache()
		rc.OnEvicted = recycle
		cache = rc
	default:
		lru := NewLRUClipCache(cfg.RuntimeCache.MaxClips, cfg.RuntimeCache.MaxKB)
		lru.OnEvicted = recycle
		cache = lru
	}

	var disk *DiskCache
	if cfg.DiskCache.Enabled {
		d, err := NewDiskCache(cfg.DiskCache)
		if err != nil {
			// A broken disk cache degrades to streaming, it does not block
			// the client.
			logger.Warn("disk cache unavailable", "error", err)
		} else {
			disk = d
		}
	}

	c := &Client{
		cfg:        cfg,
		dispatcher: dispatcher,
		pool:       pool,
		conn:       NewConnectionManager(cfg.Server, nil, dispatcher),
		disk:       disk,
		cache:      cache,
		jobs:       make(map[string]*clipJob),
	}
	return c, nil
}

// SetDialer replaces the socket dialer. Handlers and events already
// registered on the connection stay in place. Must be called before Start.
func (c *Client) SetDialer(dial Dialer) {
	c.conn.SetDialer(dial)
}

// Connection exposes the connection manager for subscriptions and state
// observation.
func (c *Client) Connection() *ConnectionManager { return c.conn }

// State returns the current lifecycle state.
func (c *Client) State() ClientState {
	return ClientState(c.state.Load())
}

// Session returns the session id issued during authentication, empty before
// Start or when no token is configured.
func (c *Client) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Start launches the callback goroutine, connects the socket and, when a
// token is configured, authenticates. A failed start releases everything it
// acquired.
func (c *Client) Start(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(ClientStopped), int32(ClientStarting)) {
		return fmt.Errorf("client is %s, not stopped", c.State())
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.runCancel = cancel
	go c.dispatcher.Run(runCtx)

	if err := c.conn.Connect(ctx); err != nil {
		cancel()
		c.state.Store(int32(ClientStopped))
		return err
	}

	if c.cfg.Server.Token != "" {
		if err := c.authenticate(ctx); err != nil {
			c.conn.Disconnect()
			cancel()
			c.state.Store(int32(ClientStopped))
			return err
		}
	}

	c.state.Store(int32(ClientRunning))
	logger.Info("client started", "server", c.cfg.Server.URL)
	return nil
}

// Stop cancels in-flight requests, disconnects and stops the callback
// goroutine. Safe to call more than once.
func (c *Client) Stop() {
	if !c.state.CompareAndSwap(int32(ClientRunning), int32(ClientStopping)) {
		return
	}

	c.conn.Dispose()
	if c.runCancel != nil {
		c.runCancel()
	}

	c.mu.Lock()
	for _, clip := range c.cache.Clips() {
		c.cache.RemoveClip(clip.Identity)
	}
	c.jobs = make(map[string]*clipJob)
	c.session = ""
	c.mu.Unlock()

	c.state.Store(int32(ClientStopped))
	logger.Info("client stopped")
}

// authenticate performs the token exchange and records the session id.
func (c *Client) authenticate(ctx context.Context) error {
	req := NewAuthRequest(c.cfg.Server.Token, c.dispatcher, c.cfg.Server.RequestTimeout)
	if err := c.conn.SendRequest(req.Request); err != nil {
		return err
	}
	select {
	case <-req.Done():
	case <-ctx.Done():
		req.Cancel()
		return ctx.Err()
	}
	if err := req.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.session = req.Session()
	c.mu.Unlock()
	logger.Debug("authenticated", "session", req.Session())
	return nil
}

// RequestClip resolves a clip by text and voice settings: a runtime cache
// hit returns immediately, a disk cache hit streams from the file, and
// everything else synthesizes over the network, mirroring to disk when
// caching is enabled. Concurrent requests for the same identity share one
// synthesis. The returned clip's buffer fills asynchronously; progress is
// reported through events.
func (c *Client) RequestClip(text string, opts ClipRequestOptions, events ClipEvents) (*Clip, error) {
	if c.State() != ClientRunning {
		return nil, fmt.Errorf("client is %s, not running", c.State())
	}
	identity := ClipIdentityFor(text, opts.Settings)

	if opts.StreamingOnly {
		return c.synthesize(identity, text, opts, events, nil)
	}

	c.mu.Lock()
	// In-flight first: the clip is already in the cache while it streams,
	// and joining the job is what defers completion correctly.
	if job, ok := c.jobs[identity]; ok {
		job.listeners = append(job.listeners, events)
		clip := job.clip
		c.mu.Unlock()
		// A joiner arriving after readiness still gets its ready event.
		if events.OnReady != nil && clip.Buffer.IsReady() {
			c.dispatcher.Dispatch(func() { events.OnReady(clip) })
		}
		return clip, nil
	}
	if clip, ok := c.cache.GetClip(identity); ok {
		c.mu.Unlock()
		c.notifyCached(clip, events)
		return clip, nil
	}
	c.mu.Unlock()

	if c.disk != nil && c.disk.Exists(identity) {
		return c.streamFromDisk(identity, text, events)
	}

	var mirror *ClipWriter
	if c.disk != nil && c.disk.ShouldCache(identity, false) {
		w, err := c.disk.Writer(identity)
		if err != nil {
			logger.Warn("disk mirror unavailable for clip", "identity", identity, "error", err)
		} else {
			mirror = w
		}
	}
	return c.synthesize(identity, text, opts, events, mirror)
}

// notifyCached replays the ready and complete events for a clip served
// entirely from the runtime cache. A clip whose stream failed after it
// became playable stays cached but never completed; its hit replays only
// readiness.
func (c *Client) notifyCached(clip *Clip, events ClipEvents) {
	c.dispatcher.Dispatch(func() {
		if events.OnReady != nil && clip.Buffer.IsReady() {
			events.OnReady(clip)
		}
		if events.OnComplete != nil && clip.Buffer.IsComplete() {
			events.OnComplete(clip)
		}
	})
}

// newClip builds a clip and its pooled buffer for the configured stream
// shape.
func (c *Client) newClip(identity, text string) *Clip {
	audio := c.cfg.Audio
	buf := c.pool.Get(BufferConfig{
		Channels:       audio.Channels,
		SampleRate:     audio.SampleRate,
		ReadyThreshold: audio.ReadyThreshold,
		Capacity:       audio.MaxClipSeconds * audio.SampleRate * audio.Channels,
	})
	return &Clip{
		Identity:  identity,
		Buffer:    buf,
		CreatedAt: time.Now(),
		Text:      text,
	}
}

// streamFromDisk serves a clip from its cache file on a worker goroutine.
func (c *Client) streamFromDisk(identity, text string, events ClipEvents) (*Clip, error) {
	clip := c.newClip(identity, text)
	job := &clipJob{clip: clip, listeners: []ClipEvents{events}}

	c.mu.Lock()
	c.jobs[identity] = job
	c.cache.AddClip(clip)
	c.mu.Unlock()

	c.bindBufferEvents(job)

	go func() {
		err := c.disk.StreamInto(identity, clip.Buffer)
		if err != nil {
			// The file is unusable; drop it and fail the clip rather than
			// refetch silently.
			logger.Warn("disk cache read failed", "identity", identity, "error", err)
			c.disk.Remove(identity)
		}
		c.finishJob(job, err, false)
	}()
	return clip, nil
}

// synthesize serves a clip over the network. mirror may be nil.
func (c *Client) synthesize(identity, text string, opts ClipRequestOptions, events ClipEvents, mirror *ClipWriter) (*Clip, error) {
	clip := c.newClip(identity, text)
	job := &clipJob{clip: clip, listeners: []ClipEvents{events}}

	req, err := NewSpeechRequest(SpeechConfig{
		Text:      text,
		Settings:  opts.Settings,
		AudioType: opts.AudioType,
		Mirror:    mirror,
	}, c.dispatcher, c.cfg.Server.RequestTimeout)
	if err != nil {
		clip.Buffer.Unload()
		c.pool.Put(clip.Buffer)
		return nil, err
	}
	job.req = req

	c.mu.Lock()
	c.jobs[identity] = job
	if !opts.StreamingOnly {
		c.cache.AddClip(clip)
	}
	c.mu.Unlock()

	c.bindBufferEvents(job)

	req.SetSpeechEvents(SpeechEvents{
		OnSamples:         clip.Buffer.AddSamples,
		OnExpectedSamples: clip.Buffer.SetExpectedSamples,
	})
	req.SetEvents(RequestEvents{
		// Already on the callback goroutine, so settle inline.
		OnComplete: func(*Request) {
			c.finishJob(job, req.Err(), true)
		},
	})

	if err := c.conn.SendRequest(req.Request); err != nil {
		if req.State() != RequestComplete {
			// The request never started; undo the bookkeeping directly.
			c.mu.Lock()
			delete(c.jobs, identity)
			c.cache.RemoveClip(identity)
			c.mu.Unlock()
			clip.Buffer.Unload()
			c.pool.Put(clip.Buffer)
		}
		return nil, err
	}
	return clip, nil
}

// bindBufferEvents fans buffer readiness out to every listener of a job.
func (c *Client) bindBufferEvents(job *clipJob) {
	job.clip.Buffer.SetEvents(BufferEvents{
		OnReady: func(*SampleBuffer) {
			c.mu.Lock()
			listeners := append([]ClipEvents(nil), job.listeners...)
			c.mu.Unlock()
			for _, ev := range listeners {
				if ev.OnReady != nil {
					ev.OnReady(job.clip)
				}
			}
		},
	})
}

// finishJob settles a clip request: on success listeners get OnComplete, on
// failure the clip is dropped from the runtime cache unless it already
// became playable, and listeners get OnError. onDispatcher tells whether the
// caller is already on the callback goroutine.
func (c *Client) finishJob(job *clipJob, err error, onDispatcher bool) {
	clip := job.clip

	c.mu.Lock()
	if job.failed {
		c.mu.Unlock()
		return
	}
	delete(c.jobs, clip.Identity)
	if err != nil {
		job.failed = true
		// A clip that never became playable is useless; a ready one keeps
		// serving whatever audio already landed.
		if !clip.Buffer.IsReady() {
			c.cache.RemoveClip(clip.Identity)
			clip.Buffer.Unload()
			c.pool.Put(clip.Buffer)
		}
	}
	listeners := append([]ClipEvents(nil), job.listeners...)
	c.mu.Unlock()

	settle := func() {
		if err != nil {
			for _, ev := range listeners {
				if ev.OnError != nil {
					ev.OnError(clip, err)
				}
			}
			return
		}
		// Seal the buffer when the server never announced a total, so
		// completion still fires.
		if !clip.Buffer.IsComplete() && clip.Buffer.ExpectedSamples() == 0 {
			clip.Buffer.SetExpectedSamples(clip.Buffer.AddedSamples())
		}
		for _, ev := range listeners {
			if ev.OnComplete != nil {
				ev.OnComplete(clip)
			}
		}
	}
	if onDispatcher {
		settle()
		return
	}
	c.dispatcher.Dispatch(settle)
}

// CancelClip cancels the in-flight request for an identity, if any.
func (c *Client) CancelClip(identity string) {
	c.mu.Lock()
	job := c.jobs[identity]
	c.mu.Unlock()
	if job != nil && job.req != nil {
		job.req.Cancel()
	}
}

// CancelAll cancels every in-flight clip request.
func (c *Client) CancelAll() {
	c.mu.Lock()
	jobs := make([]*clipJob, 0, len(c.jobs))
	for _, job := range c.jobs {
		jobs = append(jobs, job)
	}
	c.mu.Unlock()
	for _, job := range jobs {
		if job.req != nil {
			job.req.Cancel()
		}
	}
}

// PlaybackQueued informs the ref-counted cache that playback of a clip has
// been scheduled. A no-op under the LRU policy.
func (c *Client) PlaybackQueued(identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rc, ok := c.cache.(*RefCountedClipCache); ok {
		rc.PlaybackQueued(identity)
	}
}

// PlaybackComplete informs the ref-counted cache that playback of a clip
// has finished. A no-op under the LRU policy.
func (c *Client) PlaybackComplete(identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rc, ok := c.cache.(*RefCountedClipCache); ok {
		rc.PlaybackComplete(identity)
	}
}

// CachedClip returns a runtime-cached clip without affecting recency.
func (c *Client) CachedClip(identity string) (*Clip, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	clip, ok := c.cache.GetClip(identity)
	return clip, ok
}

// Transcribe opens a transcription exchange. The caller feeds audio with
// SendAudioData and ends it with CloseAudioStream; transcription events
// arrive through the speech events.
func (c *Client) Transcribe(events SpeechEvents, multiSegment bool) (*SpeechRequest, error) {
	if c.State() != ClientRunning {
		return nil, fmt.Errorf("client is %s, not running", c.State())
	}
	req, err := NewSpeechRequest(SpeechConfig{
		Transcribe:   true,
		AudioType:    AudioTypePCM16,
		MultiSegment: multiSegment,
	}, c.dispatcher, c.cfg.Server.RequestTimeout)
	if err != nil {
		return nil, err
	}
	req.SetSpeechEvents(events)
	if err := c.conn.SendRequest(req.Request); err != nil {
		return nil, err
	}
	return req, nil
}

// SendMessage sends an application message exchange: chunks stream back via
// onChunk until the end marker arrives.
func (c *Client) SendMessage(params any, onChunk func(ResponseChunk)) (*Request, error) {
	if c.State() != ClientRunning {
		return nil, fmt.Errorf("client is %s, not running", c.State())
	}
	req := NewMessageRequest(params, onChunk, c.dispatcher, c.cfg.Server.RequestTimeout)
	if err := c.conn.SendRequest(req); err != nil {
		return nil, err
	}
	return req, nil
}

// Subscribe registers interest in a server topic; events for it reach the
// handler installed with SetTopicHandler.
func (c *Client) Subscribe(topic string) error {
	return c.conn.Subscribe(topic)
}

// Unsubscribe withdraws interest in a server topic.
func (c *Client) Unsubscribe(topic string) error {
	return c.conn.Unsubscribe(topic)
}

// SetTopicHandler installs the receiver for server-initiated topic events.
// Must be called before Start.
func (c *Client) SetTopicHandler(handler func(topic string, payload json.RawMessage)) {
	c.conn.SetUnsolicitedHandler(func(chunk ResponseChunk) *Request {
		if chunk.Type == "" {
			return nil
		}
		return NewMessageRequest(nil, func(evt ResponseChunk) {
			handler(evt.Type, evt.Raw)
		}, c.dispatcher, c.cfg.Server.RequestTimeout)
	})
}
