package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// runDispatcher runs d on a background goroutine and returns a stop func.
func runDispatcher(t *testing.T, d *Dispatcher) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(stopped)
	}()
	return func() {
		cancel()
		<-stopped
	}
}

var errSocketClosed = errors.New("socket closed")

type frame struct {
	binary bool
	data   []byte
}

// fakeSocket is an in-memory Socket: tests deliver inbound frames and
// inspect what the client wrote.
type fakeSocket struct {
	inbound chan frame
	outMu   sync.Mutex
	written []frame

	closed    chan struct{}
	closeOnce sync.Once

	// failWrites makes every Write return an error
	failWrites bool
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		inbound: make(chan frame, 64),
		closed:  make(chan struct{}),
	}
}

func (s *fakeSocket) Read(ctx context.Context) (bool, []byte, error) {
	select {
	case f := <-s.inbound:
		return f.binary, f.data, nil
	case <-s.closed:
		return false, nil, errSocketClosed
	case <-ctx.Done():
		return false, nil, ctx.Err()
	}
}

func (s *fakeSocket) Write(_ context.Context, binary bool, data []byte) error {
	if s.failWrites {
		return errors.New("simulated write failure")
	}
	select {
	case <-s.closed:
		return errSocketClosed
	default:
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.outMu.Lock()
	s.written = append(s.written, frame{binary: binary, data: buf})
	s.outMu.Unlock()
	return nil
}

func (s *fakeSocket) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// deliver pushes an inbound frame as if the server had sent it.
func (s *fakeSocket) deliver(binary bool, data []byte) {
	s.inbound <- frame{binary: binary, data: data}
}

// deliverChunk pushes an inbound JSON chunk built from fields.
func (s *fakeSocket) deliverChunk(t *testing.T, fields map[string]any) {
	t.Helper()
	data, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal chunk: %v", err)
	}
	s.deliver(false, data)
}

// sentFrames snapshots what the client wrote so far.
func (s *fakeSocket) sentFrames() []frame {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	return append([]frame(nil), s.written...)
}

// waitFrames polls until the client has written at least n frames.
func (s *fakeSocket) waitFrames(t *testing.T, n int) []frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if frames := s.sentFrames(); len(frames) >= n {
			return frames
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d written frames, have %d", n, len(s.sentFrames()))
	return nil
}

// decodeEnvelope unpacks one written JSON frame.
func decodeEnvelope(t *testing.T, data []byte) uploadEnvelope {
	t.Helper()
	var env uploadEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("malformed upload frame %q: %v", data, err)
	}
	return env
}

// endpointOf names the single endpoint of a written frame.
func endpointOf(t *testing.T, data []byte) string {
	t.Helper()
	env := decodeEnvelope(t, data)
	if len(env.Data) != 1 {
		t.Fatalf("upload frame has %d endpoints, want 1: %q", len(env.Data), data)
	}
	for ep := range env.Data {
		return ep
	}
	return ""
}

// dialerFor returns a Dialer handing out the given sockets in sequence.
func dialerFor(socks ...*fakeSocket) Dialer {
	var mu sync.Mutex
	i := 0
	return func(context.Context, string) (Socket, error) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(socks) {
			return nil, fmt.Errorf("no sockets left")
		}
		s := socks[i]
		i++
		return s, nil
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
