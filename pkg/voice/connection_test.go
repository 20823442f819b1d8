package voice

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func connectedManager(t *testing.T, cfg ServerConfig, socks ...*fakeSocket) (*ConnectionManager, *Dispatcher) {
	t.Helper()
	if cfg.URL == "" {
		cfg.URL = "wss://test.invalid/voice"
	}
	d := NewDispatcher(64)
	t.Cleanup(runDispatcher(t, d))

	cm := NewConnectionManager(cfg, dialerFor(socks...), d)
	if err := cm.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(cm.Dispose)
	return cm, d
}

func TestConnectionRefCounting(t *testing.T) {
	sock := newFakeSocket()
	cm, _ := connectedManager(t, ServerConfig{}, sock)

	if err := cm.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect failed: %v", err)
	}
	if got := cm.Refs(); got != 2 {
		t.Fatalf("Refs = %d, want 2", got)
	}

	cm.Disconnect()
	if got := cm.State(); got != ConnConnected {
		t.Fatalf("state after partial disconnect = %v, want connected", got)
	}

	cm.Disconnect()
	waitFor(t, "disconnect", func() bool { return cm.State() == ConnDisconnected })
	select {
	case <-sock.closed:
	default:
		t.Error("socket not closed after last owner detached")
	}
}

func TestConnectionDemuxByRequestID(t *testing.T) {
	sock := newFakeSocket()
	cm, d := connectedManager(t, ServerConfig{}, sock)

	reqA := NewMessageRequest(nil, nil, d, time.Second)
	reqB := NewMessageRequest(nil, nil, d, time.Second)
	if err := cm.SendRequest(reqA); err != nil {
		t.Fatal(err)
	}
	if err := cm.SendRequest(reqB); err != nil {
		t.Fatal(err)
	}

	sock.deliverChunk(t, map[string]any{"requestId": reqB.ID(), "code": "ok", "end": true})
	waitFor(t, "reqB completion", func() bool { return reqB.State() == RequestComplete })
	if reqA.State() == RequestComplete {
		t.Error("chunk for reqB completed reqA")
	}

	sock.deliverChunk(t, map[string]any{"requestId": reqA.ID(), "code": "ok", "end": true})
	waitFor(t, "reqA completion", func() bool { return reqA.State() == RequestComplete })
}

func TestConnectionRoutesBinaryToActiveSpeechRequest(t *testing.T) {
	sock := newFakeSocket()
	cm, d := connectedManager(t, ServerConfig{}, sock)

	var samples atomic.Int32
	sr, err := NewSpeechRequest(SpeechConfig{Text: "hi", AudioType: AudioTypePCM16}, d, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	sr.SetSpeechEvents(SpeechEvents{
		OnSamples: func(s []float32) { samples.Add(int32(len(s))) },
	})
	if err := cm.SendRequest(sr.Request); err != nil {
		t.Fatal(err)
	}

	// A JSON chunk addresses the speech request; binary frames that follow
	// belong to it.
	sock.deliverChunk(t, map[string]any{"requestId": sr.ID(), "code": "ok"})
	sock.deliver(true, EncodePCM16(make([]float32, 10)))
	sock.deliver(true, EncodePCM16(make([]float32, 6)))

	waitFor(t, "binary routing", func() bool { return samples.Load() == 16 })
}

func TestConnectionDropsUnroutableFrames(t *testing.T) {
	sock := newFakeSocket()
	cm, d := connectedManager(t, ServerConfig{}, sock)

	// Unknown request id, malformed JSON and orphan binary all drop without
	// killing the read loop.
	sock.deliverChunk(t, map[string]any{"requestId": "nobody", "code": "ok"})
	sock.deliver(false, []byte("{not json"))
	sock.deliver(true, []byte{1, 2, 3})

	req := NewMessageRequest(nil, nil, d, time.Second)
	if err := cm.SendRequest(req); err != nil {
		t.Fatal(err)
	}
	sock.deliverChunk(t, map[string]any{"requestId": req.ID(), "code": "ok", "end": true})
	waitFor(t, "request completion after junk frames", func() bool {
		return req.State() == RequestComplete
	})
}

func TestConnectionTopicRefCounting(t *testing.T) {
	sock := newFakeSocket()
	cm, _ := connectedManager(t, ServerConfig{}, sock)

	if err := cm.Subscribe("news"); err != nil {
		t.Fatal(err)
	}
	if err := cm.Subscribe("news"); err != nil {
		t.Fatal(err)
	}

	// Only the first local subscriber reaches the wire.
	subs := 0
	for _, f := range sock.waitFrames(t, 1) {
		if !f.binary && endpointOf(t, f.data) == endpointSubscribe {
			subs++
		}
	}
	if subs != 1 {
		t.Fatalf("wire saw %d subscribe frames, want 1", subs)
	}
	if got := cm.TopicRefs("news"); got != 2 {
		t.Fatalf("TopicRefs = %d, want 2", got)
	}

	if err := cm.Unsubscribe("news"); err != nil {
		t.Fatal(err)
	}
	before := len(sock.sentFrames())
	if err := cm.Unsubscribe("news"); err != nil {
		t.Fatal(err)
	}
	frames := sock.waitFrames(t, before+1)
	if ep := endpointOf(t, frames[len(frames)-1].data); ep != endpointUnsubscribe {
		t.Errorf("last frame endpoint = %q, want unsubscribe on final detach", ep)
	}
}

func TestConnectionUnsolicitedChunks(t *testing.T) {
	sock := newFakeSocket()
	cm, d := connectedManager(t, ServerConfig{}, sock)

	var events atomic.Int32
	cm.SetUnsolicitedHandler(func(chunk ResponseChunk) *Request {
		if chunk.Type != "broadcast" {
			return nil
		}
		return NewMessageRequest(nil, func(ResponseChunk) { events.Add(1) }, d, time.Minute)
	})

	sock.deliverChunk(t, map[string]any{"requestId": "push-1", "type": "broadcast"})
	sock.deliverChunk(t, map[string]any{"requestId": "push-1", "type": "broadcast"})
	waitFor(t, "unsolicited delivery", func() bool { return events.Load() == 2 })
}

func TestConnectionReconnectsAndResubscribes(t *testing.T) {
	first := newFakeSocket()
	second := newFakeSocket()
	cm, _ := connectedManager(t, ServerConfig{
		ReconnectDelay:    10 * time.Millisecond,
		ReconnectAttempts: 3,
	}, first, second)

	if err := cm.Subscribe("alerts"); err != nil {
		t.Fatal(err)
	}
	first.waitFrames(t, 1)

	// Kill the socket out from under the manager.
	_ = first.Close()

	waitFor(t, "reconnect", func() bool { return cm.State() == ConnConnected })
	frames := second.waitFrames(t, 1)
	if ep := endpointOf(t, frames[0].data); ep != endpointSubscribe {
		t.Errorf("first frame after reconnect = %q, want resubscribe", ep)
	}
	if got := cm.TopicRefs("alerts"); got != 1 {
		t.Errorf("TopicRefs after reconnect = %d, want 1", got)
	}
}

func TestConnectionReconnectGivesUpAfterAttempts(t *testing.T) {
	sock := newFakeSocket()
	cm, _ := connectedManager(t, ServerConfig{
		ReconnectDelay:    5 * time.Millisecond,
		ReconnectAttempts: 2,
	}, sock) // no replacement sockets: every redial fails

	_ = sock.Close()
	waitFor(t, "reconnect exhaustion", func() bool { return cm.State() == ConnDisconnected })
}

func TestConnectionSendRequiresConnection(t *testing.T) {
	d := NewDispatcher(64)
	cm := NewConnectionManager(ServerConfig{URL: "wss://test.invalid"}, dialerFor(), d)
	req := NewMessageRequest(nil, nil, d, time.Second)
	if err := cm.SendRequest(req); err != ErrNotConnected {
		t.Errorf("SendRequest while disconnected = %v, want ErrNotConnected", err)
	}
}

func TestConnectionDisposeCancelsInflight(t *testing.T) {
	sock := newFakeSocket()
	cm, d := connectedManager(t, ServerConfig{}, sock)

	req := NewMessageRequest(nil, nil, d, time.Minute)
	if err := cm.SendRequest(req); err != nil {
		t.Fatal(err)
	}

	cm.Dispose()
	if !req.IsCanceled() {
		t.Error("in-flight request not cancelled by Dispose")
	}
}

func TestConnectionStateChangeEvents(t *testing.T) {
	sock := newFakeSocket()
	d := NewDispatcher(64)
	stop := runDispatcher(t, d)
	defer stop()

	var states []ConnState
	seen := make(chan ConnState, 16)
	cm := NewConnectionManager(ServerConfig{URL: "wss://test.invalid"}, dialerFor(sock), d)
	cm.SetEvents(ConnectionEvents{
		OnStateChanged: func(s ConnState) { seen <- s },
	})

	if err := cm.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer cm.Dispose()

	deadline := time.After(2 * time.Second)
	for len(states) < 2 {
		select {
		case s := <-seen:
			states = append(states, s)
		case <-deadline:
			t.Fatalf("saw states %v, want connecting then connected", states)
		}
	}
	if states[0] != ConnConnecting || states[1] != ConnConnected {
		t.Errorf("states = %v, want [connecting connected]", states)
	}
}

func TestConnectDuringReconnectSharesTheDial(t *testing.T) {
	first := newFakeSocket()
	second := newFakeSocket()
	var dials atomic.Int32
	sequence := dialerFor(first, second)

	d := NewDispatcher(64)
	t.Cleanup(runDispatcher(t, d))
	cm := NewConnectionManager(ServerConfig{
		URL:               "wss://test.invalid/voice",
		ReconnectDelay:    50 * time.Millisecond,
		ReconnectAttempts: 3,
	}, func(ctx context.Context, url string) (Socket, error) {
		dials.Add(1)
		return sequence(ctx, url)
	}, d)
	if err := cm.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(cm.Dispose)

	// Kill the socket so a reconnect starts, then attach a second owner
	// while it is pending. The owner must share the reconnect's dial
	// instead of racing it with a socket of its own.
	_ = first.Close()
	waitFor(t, "reconnect to start", func() bool { return cm.State() == ConnConnecting })
	if err := cm.Connect(context.Background()); err != nil {
		t.Fatalf("Connect during reconnect failed: %v", err)
	}

	waitFor(t, "reconnect", func() bool { return cm.State() == ConnConnected })
	if got := dials.Load(); got != 2 {
		t.Errorf("dial count = %d, want 2 (initial + reconnect)", got)
	}
	if got := cm.Refs(); got != 2 {
		t.Errorf("Refs = %d, want 2", got)
	}
}
