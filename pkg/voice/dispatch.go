package voice

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
)

// DefaultDispatchDepth is the default bound of the dispatch queue.
const DefaultDispatchDepth = 256

// Dispatcher funnels work from background transport goroutines onto a single
// designated callback goroutine. Every public callback in this package
// (buffer readiness, request completion, connection state changes) is invoked
// from the Run loop, never concurrently with another callback. This is the
// only sanctioned way background code communicates results to consumers.
type Dispatcher struct {
	queue chan func()

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}

	stopped atomic.Bool
	runner  atomic.Uint64
}

// NewDispatcher creates a dispatcher with a bounded queue of the given depth.
// A depth <= 0 uses DefaultDispatchDepth.
func NewDispatcher(depth int) *Dispatcher {
	if depth <= 0 {
		depth = DefaultDispatchDepth
	}
	return &Dispatcher{
		queue: make(chan func(), depth),
		done:  make(chan struct{}),
	}
}

// Run drains the queue until ctx is cancelled or Stop is called. It must be
// called from exactly one goroutine; that goroutine becomes the callback
// context for the whole client.
func (d *Dispatcher) Run(ctx context.Context) {
	d.runner.Store(callerGID())
	for {
		select {
		case fn := <-d.queue:
			fn()
		case <-ctx.Done():
			d.Stop()
			return
		case <-d.done:
			return
		}
	}
}

// Dispatch enqueues fn for execution on the callback goroutine. It blocks
// while the queue is full, applying backpressure to the producing transport
// goroutine. A callback dispatching into its own full queue would block the
// only consumer, so that case runs fn inline instead. After Stop, fn is
// dropped.
func (d *Dispatcher) Dispatch(fn func()) {
	if fn == nil || d.stopped.Load() {
		return
	}
	select {
	case d.queue <- fn:
		return
	case <-d.done:
		return
	default:
	}
	if d.runner.Load() == callerGID() {
		fn()
		return
	}
	select {
	case d.queue <- fn:
	case <-d.done:
	}
}

// callerGID returns the calling goroutine's id, parsed from the stack
// header line "goroutine N [...".
func callerGID() uint64 {
	var buf [32]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for _, c := range buf[len("goroutine "):n] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}

// Stop terminates the Run loop. Pending callbacks are discarded. Idempotent.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.stopped.Store(true)
		close(d.done)
	})
}
