package voice

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// RequestState is the lifecycle state of one transport request.
type RequestState int32

const (
	// RequestIdle means the request has been created but not sent
	RequestIdle RequestState = iota

	// RequestUploading means the initial payload has been sent
	RequestUploading

	// RequestDownloading means at least one response chunk has arrived
	RequestDownloading

	// RequestComplete is terminal; all further chunks and cancels are no-ops
	RequestComplete
)

// String returns a string representation of the request state.
func (s RequestState) String() string {
	switch s {
	case RequestIdle:
		return "idle"
	case RequestUploading:
		return "uploading"
	case RequestDownloading:
		return "downloading"
	case RequestComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// watchdogInterval is how often the timeout watchdog polls the activity
// deadline.
const watchdogInterval = 50 * time.Millisecond

// requestBehavior is what distinguishes one request variant from another:
// how to build the upload payload, how to interpret inbound chunks, and what
// counts as the terminal signal. The shared Request struct owns everything
// else (id, timing, error state, callbacks).
type requestBehavior interface {
	// endpoint names the upload command
	endpoint() string

	// uploadParams builds the endpoint parameters for the initial frame
	uploadParams() (any, error)

	// handleChunk processes one non-terminal-decision aspect of a chunk
	// (events, samples). Runs on the transport goroutine, in arrival order.
	handleChunk(chunk ResponseChunk)

	// isTerminal reports whether the chunk ends the stream
	isTerminal(chunk ResponseChunk) bool
}

// RequestEvents is the callback registry for one request. Both callbacks are
// single-fire and run on the dispatcher goroutine.
type RequestEvents struct {
	// OnFirstResponse fires when the first chunk arrives
	OnFirstResponse func(*Request)

	// OnComplete fires exactly once, on success, failure, cancel or timeout
	OnComplete func(*Request)
}

// sendFunc delivers one frame upstream. binary selects the frame type.
type sendFunc func(binary bool, data []byte) error

// Request is one in-flight protocol exchange: an upload plus one or more
// downloads, with timeout, cancellation and completion semantics. Variant
// behavior is plugged in via requestBehavior.
type Request struct {
	id       string
	behavior requestBehavior

	dispatcher *Dispatcher
	events     RequestEvents

	// send is bound by the owning transport before HandleUpload
	send sendFunc

	timeout      time.Duration
	lastActivity atomic.Int64 // unix nanos, refreshed on every inbound chunk

	state atomic.Int32

	mu     sync.Mutex
	code   string
	errMsg string

	firstOnce    sync.Once
	completeOnce sync.Once
	abortOnce    sync.Once

	// onFinished is an internal hook invoked synchronously inside the
	// completion transition, before user callbacks are dispatched.
	onFinished func(*Request)

	done chan struct{}
}

// newRequest creates a request with a generated id.
func newRequest(behavior requestBehavior, d *Dispatcher, timeout time.Duration) *Request {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Request{
		id:         uuid.NewString(),
		behavior:   behavior,
		dispatcher: d,
		timeout:    timeout,
		done:       make(chan struct{}),
	}
}

// ID returns the request's correlation id.
func (r *Request) ID() string { return r.id }

// SetID overrides the generated id with a server-assigned one. Only valid
// before the request is sent.
func (r *Request) SetID(id string) {
	if id != "" && r.State() == RequestIdle {
		r.id = id
	}
}

// State returns the current lifecycle state.
func (r *Request) State() RequestState {
	return RequestState(r.state.Load())
}

// Code returns the server status code, once complete.
func (r *Request) Code() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.code
}

// Error returns the request error string; empty means success. A cancelled
// request carries AbortedError.
func (r *Request) Error() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errMsg
}

// Err converts the code/error pair to an error value, nil on success.
func (r *Request) Err() error {
	r.mu.Lock()
	code, msg := r.code, r.errMsg
	r.mu.Unlock()
	if msg == "" {
		return nil
	}
	if msg == AbortedError {
		return NewVoiceError(ErrorCodeCanceled, msg, ErrCanceled)
	}
	if ErrorCode(code) == ErrorCodeTimeout {
		return NewVoiceError(ErrorCodeTimeout, msg, ErrTimeout)
	}
	return NewVoiceError(ErrorCode(code), msg, nil)
}

// IsCanceled reports whether the request completed via cancellation.
func (r *Request) IsCanceled() bool {
	return r.Error() == AbortedError
}

// Done returns a channel closed when the request completes.
func (r *Request) Done() <-chan struct{} { return r.done }

// SetEvents registers the request callbacks. Must be called before
// HandleUpload.
func (r *Request) SetEvents(events RequestEvents) {
	r.events = events
}

// bind attaches the upstream transport.
func (r *Request) bind(send sendFunc) {
	r.send = send
}

// HandleUpload transitions Idle -> Uploading, sends the initial payload and
// starts the timeout watchdog. The deadline is refreshed on every inbound
// chunk, so a slow but steady stream keeps extending it.
func (r *Request) HandleUpload() error {
	if !r.state.CompareAndSwap(int32(RequestIdle), int32(RequestUploading)) {
		return ErrRequestComplete
	}
	params, err := r.behavior.uploadParams()
	if err != nil {
		r.completeWith("", err.Error())
		return err
	}
	frame, err := encodeUpload(r.id, r.behavior.endpoint(), params)
	if err != nil {
		r.completeWith("", err.Error())
		return err
	}
	r.touch()
	if err := r.send(false, frame); err != nil {
		r.completeWith(string(ErrorCodeTransport), err.Error())
		return err
	}
	go r.watchdog()
	return nil
}

// HandleResponse processes one inbound chunk. Chunks arriving after
// completion are ignored. Runs on the transport goroutine; chunks for one
// request are processed in arrival order.
func (r *Request) HandleResponse(chunk ResponseChunk) {
	if r.State() == RequestComplete {
		return
	}
	r.touch()

	r.state.CompareAndSwap(int32(RequestUploading), int32(RequestDownloading))
	r.state.CompareAndSwap(int32(RequestIdle), int32(RequestDownloading))
	r.firstOnce.Do(func() {
		if cb := r.events.OnFirstResponse; cb != nil {
			r.dispatcher.Dispatch(func() { cb(r) })
		}
	})

	r.behavior.handleChunk(chunk)

	if chunk.Error != "" {
		code := chunk.Code
		if code == "" || code == codeOK {
			code = string(ErrorCodeServer)
		}
		r.completeWith(code, chunk.Error)
		return
	}
	if r.behavior.isTerminal(chunk) {
		r.completeWith(chunk.Code, "")
	}
}

// Cancel sends a best-effort abort upstream and completes the request with
// the cancellation sentinel. It never waits for acknowledgement. Cancelling
// a completed request is a no-op.
func (r *Request) Cancel() {
	if r.State() == RequestComplete {
		return
	}
	r.sendAbort("cancelled by client")
	r.completeWith(string(ErrorCodeCanceled), AbortedError)
}

// sendAbort emits the abort control frame at most once, ignoring transport
// errors: cancellation must never hang on the peer.
func (r *Request) sendAbort(reason string) {
	r.abortOnce.Do(func() {
		if r.send == nil {
			return
		}
		if err := r.send(false, encodeAbort(r.id, reason)); err != nil {
			logger.Debug("abort frame not delivered", "request", r.id, "error", err)
		}
	})
}

// completeWith performs the single terminal transition. All later chunks,
// cancels and timeouts are no-ops.
func (r *Request) completeWith(code, errMsg string) {
	r.completeOnce.Do(func() {
		r.mu.Lock()
		r.code = code
		r.errMsg = errMsg
		r.mu.Unlock()
		r.state.Store(int32(RequestComplete))
		close(r.done)

		if r.onFinished != nil {
			r.onFinished(r)
		}
		if cb := r.events.OnComplete; cb != nil {
			r.dispatcher.Dispatch(func() { cb(r) })
		}
	})
}

// touch refreshes the activity timestamp the timeout is measured from.
func (r *Request) touch() {
	r.lastActivity.Store(time.Now().UnixNano())
}

// watchdog completes the request with a timeout error when no activity has
// occurred within the deadline, sending an abort first.
func (r *Request) watchdog() {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			last := time.Unix(0, r.lastActivity.Load())
			if time.Since(last) >= r.timeout {
				r.sendAbort("request timed out")
				r.completeWith(string(ErrorCodeTimeout), "no activity within deadline")
				return
			}
		}
	}
}
