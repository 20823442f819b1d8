package voice

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ConnState is the lifecycle state of the socket connection.
type ConnState int32

const (
	// ConnDisconnected means no socket exists
	ConnDisconnected ConnState = iota

	// ConnConnecting means a dial or reconnect is in progress
	ConnConnecting

	// ConnConnected means the socket is up and the read loop is running
	ConnConnected

	// ConnDisconnecting means a deliberate teardown is in progress
	ConnDisconnecting
)

// String returns a string representation of the connection state.
func (s ConnState) String() string {
	switch s {
	case ConnDisconnected:
		return "disconnected"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Socket is one physical bidirectional connection. Implementations must allow
// one concurrent reader and writers from multiple goroutines.
type Socket interface {
	// Read returns the next frame; binary reports the frame type
	Read(ctx context.Context) (binary bool, data []byte, err error)

	// Write sends one frame
	Write(ctx context.Context, binary bool, data []byte) error

	// Close tears the connection down
	Close() error
}

// Dialer opens a Socket to the given URL.
type Dialer func(ctx context.Context, url string) (Socket, error)

// ConnectionEvents is the callback registry of the ConnectionManager.
// OnStateChanged is multi-fire and runs on the dispatcher goroutine.
type ConnectionEvents struct {
	OnStateChanged func(ConnState)
}

// UnsolicitedHandler may synthesize a request for a chunk whose id is not
// tracked, enabling server-initiated push such as pub/sub delivery. The
// returned request is registered and receives the chunk; nil drops it.
type UnsolicitedHandler func(chunk ResponseChunk) *Request

// writeTimeout bounds a single frame write on the socket.
const writeTimeout = 5 * time.Second

// ConnectionManager owns at most one physical socket, multiplexed across any
// number of concurrent requests by correlation id. Connect and Disconnect
// are reference counted: the socket closes only when the last logical owner
// detaches. On unexpected disconnect the manager retries with a fixed delay
// up to the configured attempt count (0 retries forever); exhausting the
// attempts surfaces a state-changed event, never an error to queued
// requests, which fail individually through their own timeouts.
type ConnectionManager struct {
	cfg  ServerConfig
	dial Dialer

	dispatcher  *Dispatcher
	events      ConnectionEvents
	unsolicited UnsolicitedHandler

	state atomic.Int32

	mu      sync.Mutex
	refs    int
	sock    Socket
	dialing bool
	pending map[string]*Request
	topics  map[string]int

	// audioRoute is the id of the speech request binary frames belong to:
	// the last speech request addressed by a JSON chunk. Within a request
	// frames arrive in order, so this tracks the active audio stream.
	audioRoute string

	lifeCtx    context.Context
	lifeCancel context.CancelFunc
	readerWg   sync.WaitGroup
}

// NewConnectionManager creates a manager. dial may be nil, in which case the
// default websocket dialer is used.
func NewConnectionManager(cfg ServerConfig, dial Dialer, d *Dispatcher) *ConnectionManager {
	if dial == nil {
		dial = WebSocketDialer()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	return &ConnectionManager{
		cfg:        cfg,
		dial:       dial,
		dispatcher: d,
		pending:    make(map[string]*Request),
		topics:     make(map[string]int),
		lifeCtx:    lifeCtx,
		lifeCancel: lifeCancel,
	}
}

// SetEvents registers the connection callbacks.
func (cm *ConnectionManager) SetEvents(events ConnectionEvents) {
	cm.events = events
}

// SetUnsolicitedHandler registers the provider for chunks addressed to
// untracked request ids.
func (cm *ConnectionManager) SetUnsolicitedHandler(h UnsolicitedHandler) {
	cm.unsolicited = h
}

// SetDialer replaces the socket dialer, leaving registered events and
// handlers in place. A nil dialer restores the default. Must be called
// before Connect.
func (cm *ConnectionManager) SetDialer(dial Dialer) {
	if dial == nil {
		dial = WebSocketDialer()
	}
	cm.mu.Lock()
	cm.dial = dial
	cm.mu.Unlock()
}

// State returns the current connection state.
func (cm *ConnectionManager) State() ConnState {
	return ConnState(cm.state.Load())
}

// Refs returns the current logical owner count, for tests and diagnostics.
func (cm *ConnectionManager) Refs() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.refs
}

// Connect attaches a logical owner. The first owner dials the socket; later
// owners reuse it, and an owner arriving while a dial or reconnect is in
// flight shares that dial's outcome instead of racing it with a second
// socket. A failed dial releases the owner reference again.
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	cm.mu.Lock()
	cm.refs++
	if cm.sock != nil || cm.dialing {
		cm.mu.Unlock()
		return nil
	}
	cm.dialing = true
	dial := cm.dial
	cm.mu.Unlock()

	cm.setState(ConnConnecting)
	sock, err := dial(ctx, cm.cfg.URL)

	cm.mu.Lock()
	cm.dialing = false
	cm.mu.Unlock()

	if err != nil {
		cm.mu.Lock()
		cm.refs--
		cm.mu.Unlock()
		cm.setState(ConnDisconnected)
		return NewVoiceError(ErrorCodeTransport, "dial failed", err)
	}

	cm.attachSocket(sock)
	return nil
}

// attachSocket installs a socket and starts its read loop. A socket that
// would be displaced is closed so its read loop detaches.
func (cm *ConnectionManager) attachSocket(sock Socket) {
	cm.mu.Lock()
	displaced := cm.sock
	cm.sock = sock
	cm.mu.Unlock()

	if displaced != nil && displaced != sock {
		_ = displaced.Close()
	}
	cm.setState(ConnConnected)

	cm.readerWg.Add(1)
	go cm.readLoop(sock)
}

// Disconnect detaches a logical owner. The socket closes when the last owner
// detaches; in-flight requests then fail through their own timeouts.
func (cm *ConnectionManager) Disconnect() {
	cm.mu.Lock()
	if cm.refs > 0 {
		cm.refs--
	}
	if cm.refs > 0 {
		cm.mu.Unlock()
		return
	}
	sock := cm.sock
	cm.sock = nil
	cm.mu.Unlock()

	if sock != nil {
		cm.setState(ConnDisconnecting)
		if err := sock.Close(); err != nil {
			logger.Debug("socket close", "error", err)
		}
	}
	cm.setState(ConnDisconnected)
}

// Dispose force-closes the connection regardless of owner count, cancels all
// in-flight requests and stops reconnection permanently.
func (cm *ConnectionManager) Dispose() {
	cm.lifeCancel()

	cm.mu.Lock()
	cm.refs = 0
	sock := cm.sock
	cm.sock = nil
	inflight := make([]*Request, 0, len(cm.pending))
	for _, r := range cm.pending {
		inflight = append(inflight, r)
	}
	cm.mu.Unlock()

	if sock != nil {
		_ = sock.Close()
	}
	for _, r := range inflight {
		r.Cancel()
	}
	cm.readerWg.Wait()
	cm.setState(ConnDisconnected)
}

// SendRequest registers a request in the in-flight map, binds it to the
// socket and forwards its upload payload.
func (cm *ConnectionManager) SendRequest(r *Request) error {
	if cm.State() != ConnConnected {
		return ErrNotConnected
	}

	cm.mu.Lock()
	if _, dup := cm.pending[r.ID()]; dup {
		cm.mu.Unlock()
		return NewVoiceError(ErrorCodeTransport, "duplicate request id "+r.ID(), nil)
	}
	cm.pending[r.ID()] = r
	cm.mu.Unlock()

	r.bind(cm.writeFrame)

	// Deregister on completion, whatever path completes it.
	prev := r.onFinished
	r.onFinished = func(req *Request) {
		if prev != nil {
			prev(req)
		}
		cm.forget(req.ID())
	}

	if err := r.HandleUpload(); err != nil {
		return err
	}
	return nil
}

// Subscribe adds a local subscriber to a topic. Only the first subscriber
// for a topic sends the subscription on the wire; later ones share it.
func (cm *ConnectionManager) Subscribe(topic string) error {
	return cm.changeSubscription(topic, false)
}

// Unsubscribe removes a local subscriber. The wire unsubscription is sent
// only when the last local subscriber for the topic detaches.
func (cm *ConnectionManager) Unsubscribe(topic string) error {
	return cm.changeSubscription(topic, true)
}

func (cm *ConnectionManager) changeSubscription(topic string, unsubscribe bool) error {
	if topic == "" {
		return NewVoiceError(ErrorCodeTransport, "empty topic", nil)
	}

	cm.mu.Lock()
	count := cm.topics[topic]
	if unsubscribe {
		if count == 0 {
			cm.mu.Unlock()
			return nil
		}
		count--
	} else {
		count++
	}
	if count == 0 {
		delete(cm.topics, topic)
	} else {
		cm.topics[topic] = count
	}
	onWire := (unsubscribe && count == 0) || (!unsubscribe && count == 1)
	cm.mu.Unlock()

	if !onWire {
		return nil
	}
	req := newSubscribeRequest(topic, unsubscribe, cm.dispatcher, cm.cfg.RequestTimeout)
	return cm.SendRequest(req)
}

// TopicRefs returns the subscriber count for a topic, for tests and
// diagnostics.
func (cm *ConnectionManager) TopicRefs(topic string) int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.topics[topic]
}

// writeFrame sends one frame on the current socket.
func (cm *ConnectionManager) writeFrame(binary bool, data []byte) error {
	cm.mu.Lock()
	sock := cm.sock
	cm.mu.Unlock()
	if sock == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(cm.lifeCtx, writeTimeout)
	defer cancel()
	if err := sock.Write(ctx, binary, data); err != nil {
		return NewVoiceError(ErrorCodeTransport, "write frame", err)
	}
	return nil
}

// forget removes a completed request from the in-flight map.
func (cm *ConnectionManager) forget(id string) {
	cm.mu.Lock()
	delete(cm.pending, id)
	if cm.audioRoute == id {
		cm.audioRoute = ""
	}
	cm.mu.Unlock()
}

// readLoop demultiplexes inbound frames until the socket dies, then decides
// whether to reconnect.
func (cm *ConnectionManager) readLoop(sock Socket) {
	defer cm.readerWg.Done()
	for {
		binary, data, err := sock.Read(cm.lifeCtx)
		if err != nil {
			cm.handleReadFailure(sock, err)
			return
		}
		if binary {
			cm.routeBinary(data)
			continue
		}
		cm.routeJSON(data)
	}
}

// routeJSON dispatches a JSON chunk to its request, consulting the
// unsolicited provider for unknown ids.
func (cm *ConnectionManager) routeJSON(data []byte) {
	chunk, err := parseResponseChunk(data)
	if err != nil {
		// One malformed frame is dropped, the stream continues.
		logger.Warn("dropping malformed frame", "bytes", len(data), "error", err)
		return
	}

	cm.mu.Lock()
	req, ok := cm.pending[chunk.RequestID]
	cm.mu.Unlock()

	if !ok {
		req = cm.adoptUnsolicited(chunk)
		if req == nil {
			logger.Debug("dropping chunk for unknown request", "request", chunk.RequestID)
			return
		}
	}

	if _, speech := req.behavior.(*speechBehavior); speech {
		cm.mu.Lock()
		cm.audioRoute = req.ID()
		cm.mu.Unlock()
	}
	req.HandleResponse(chunk)
}

// adoptUnsolicited lets the provider synthesize a request for a
// server-initiated chunk and registers it like any other.
func (cm *ConnectionManager) adoptUnsolicited(chunk ResponseChunk) *Request {
	if cm.unsolicited == nil {
		return nil
	}
	req := cm.unsolicited(chunk)
	if req == nil {
		return nil
	}
	req.SetID(chunk.RequestID)
	req.bind(cm.writeFrame)

	cm.mu.Lock()
	cm.pending[req.ID()] = req
	cm.mu.Unlock()

	prev := req.onFinished
	req.onFinished = func(r *Request) {
		if prev != nil {
			prev(r)
		}
		cm.forget(r.ID())
	}
	return req
}

// routeBinary forwards audio bytes to the request owning the active audio
// stream.
func (cm *ConnectionManager) routeBinary(data []byte) {
	cm.mu.Lock()
	req := cm.pending[cm.audioRoute]
	id := cm.audioRoute
	cm.mu.Unlock()
	if req == nil {
		logger.Debug("dropping unroutable binary frame", "bytes", len(data))
		return
	}
	req.HandleResponse(ResponseChunk{RequestID: id, Binary: data})
}

// handleReadFailure distinguishes deliberate teardown from an unexpected
// drop and starts the reconnect loop for the latter.
func (cm *ConnectionManager) handleReadFailure(sock Socket, err error) {
	cm.mu.Lock()
	current := cm.sock == sock
	owners := cm.refs
	if current {
		cm.sock = nil
	}
	retrying := current && owners > 0 && cm.lifeCtx.Err() == nil
	if retrying {
		// Claim the dial before releasing the lock so a concurrent Connect
		// shares this reconnect instead of racing it.
		cm.dialing = true
	}
	cm.mu.Unlock()

	if !retrying {
		// Disconnect or Dispose already took the socket away.
		return
	}

	logger.Warn("connection lost", "error", err)
	cm.reconnect()
}

// reconnect retries the dial with a fixed delay between attempts, up to the
// configured attempt count (0 = unlimited). Exhausting the attempts leaves
// the manager disconnected and surfaces a state event; queued requests fail
// individually via their own timeouts.
func (cm *ConnectionManager) reconnect() {
	// The caller already claimed the dial; release it on every exit path.
	defer func() {
		cm.mu.Lock()
		cm.dialing = false
		cm.mu.Unlock()
	}()

	cm.setState(ConnConnecting)

	for attempt := 1; cm.cfg.ReconnectAttempts == 0 || attempt <= cm.cfg.ReconnectAttempts; attempt++ {
		select {
		case <-cm.lifeCtx.Done():
			cm.setState(ConnDisconnected)
			return
		case <-time.After(cm.cfg.ReconnectDelay):
		}

		cm.mu.Lock()
		owners := cm.refs
		dial := cm.dial
		cm.mu.Unlock()
		if owners == 0 {
			cm.setState(ConnDisconnected)
			return
		}

		sock, err := dial(cm.lifeCtx, cm.cfg.URL)
		if err != nil {
			logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}

		cm.attachSocket(sock)
		cm.resubscribe()
		logger.Info("reconnected", "attempt", attempt)
		return
	}

	logger.Error("reconnect attempts exhausted", "attempts", cm.cfg.ReconnectAttempts)
	cm.setState(ConnDisconnected)
}

// resubscribe re-establishes wire subscriptions for every live topic after a
// reconnect.
func (cm *ConnectionManager) resubscribe() {
	cm.mu.Lock()
	topics := make([]string, 0, len(cm.topics))
	for topic := range cm.topics {
		topics = append(topics, topic)
	}
	cm.mu.Unlock()

	for _, topic := range topics {
		req := newSubscribeRequest(topic, false, cm.dispatcher, cm.cfg.RequestTimeout)
		if err := cm.SendRequest(req); err != nil {
			logger.Warn("failed to resubscribe", "topic", topic, "error", err)
		}
	}
}

// setState records a state transition and surfaces it as an event.
func (cm *ConnectionManager) setState(s ConnState) {
	if ConnState(cm.state.Swap(int32(s))) == s {
		return
	}
	if cb := cm.events.OnStateChanged; cb != nil {
		cm.dispatcher.Dispatch(func() { cb(s) })
	}
}
