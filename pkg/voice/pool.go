package voice

import "sync"

// poolKey groups reusable buffers by shape. Buffers are only handed out to
// requests with an identical shape so backing arrays never need to grow.
type poolKey struct {
	channels   int
	sampleRate int
	capacity   int
}

// BufferPool is an explicit free list of unloaded sample buffers, owned by
// the Client. It replaces any process-wide static pool: lifetimes follow the
// client, not the process.
type BufferPool struct {
	mu   sync.Mutex
	free map[poolKey][]*SampleBuffer

	dispatcher *Dispatcher
}

// NewBufferPool creates an empty pool. Buffers created through the pool
// dispatch their events on d.
func NewBufferPool(d *Dispatcher) *BufferPool {
	return &BufferPool{
		free:       make(map[poolKey][]*SampleBuffer),
		dispatcher: d,
	}
}

// Get returns a buffer of the requested shape, reusing a free one when
// available.
func (p *BufferPool) Get(cfg BufferConfig) *SampleBuffer {
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = cfg.SampleRate * cfg.Channels * DefaultMaxClipSeconds
	}
	key := poolKey{channels: cfg.Channels, sampleRate: cfg.SampleRate, capacity: cfg.Capacity}

	p.mu.Lock()
	list := p.free[key]
	if n := len(list); n > 0 {
		buf := list[n-1]
		p.free[key] = list[:n-1]
		p.mu.Unlock()
		buf.pooled.Store(false)
		buf.reset(cfg)
		return buf
	}
	p.mu.Unlock()

	return NewSampleBuffer(cfg, p.dispatcher)
}

// Put returns an unloaded buffer to the free list. Buffers that were not
// unloaded first are dropped so a live clip can never be recycled, and a
// buffer already on the free list is not added twice.
func (p *BufferPool) Put(buf *SampleBuffer) {
	if buf == nil || !buf.unloaded.Load() {
		return
	}
	if !buf.pooled.CompareAndSwap(false, true) {
		return
	}
	key := poolKey{channels: buf.channels, sampleRate: buf.sampleRate, capacity: len(buf.samples)}

	p.mu.Lock()
	p.free[key] = append(p.free[key], buf)
	p.mu.Unlock()
}

// FreeCount reports the number of pooled buffers, for tests and diagnostics.
func (p *BufferPool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, list := range p.free {
		total += len(list)
	}
	return total
}
