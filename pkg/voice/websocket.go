package voice

import (
	"context"

	"github.com/coder/websocket"
)

// maxFrameBytes caps a single inbound frame; audio chunks are far smaller.
const maxFrameBytes = 16 << 20

type webSocket struct {
	conn *websocket.Conn
}

// WebSocketDialer returns the default Dialer, speaking websocket with text
// frames for JSON and binary frames for audio.
func WebSocketDialer() Dialer {
	return func(ctx context.Context, url string) (Socket, error) {
		conn, _, err := websocket.Dial(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		conn.SetReadLimit(maxFrameBytes)
		return &webSocket{conn: conn}, nil
	}
}

func (ws *webSocket) Read(ctx context.Context) (bool, []byte, error) {
	typ, data, err := ws.conn.Read(ctx)
	if err != nil {
		return false, nil, err
	}
	return typ == websocket.MessageBinary, data, nil
}

func (ws *webSocket) Write(ctx context.Context, binary bool, data []byte) error {
	typ := websocket.MessageText
	if binary {
		typ = websocket.MessageBinary
	}
	return ws.conn.Write(ctx, typ, data)
}

func (ws *webSocket) Close() error {
	return ws.conn.Close(websocket.StatusNormalClosure, "client shutdown")
}
