package relay

import (
	"context"

	"github.com/coder/websocket"
)

// Transport is a single live message connection to the backend. One Transport
// corresponds to one connection attempt; it is never reused after Close.
type Transport interface {
	// WriteBinary sends one binary frame (raw PCM).
	WriteBinary(ctx context.Context, data []byte) error

	// WriteText sends one text frame (JSON handshake or speaker event).
	WriteText(ctx context.Context, data []byte) error

	// Read blocks until the next inbound message or a transport error.
	Read(ctx context.Context) ([]byte, error)

	// Close terminates the connection. Safe to call concurrently with Read
	// and the Write methods; pending calls fail afterwards.
	Close() error
}

// Dialer establishes Transports. The production implementation is
// [WebsocketDialer]; tests substitute a scripted fake.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WebsocketDialer dials the backend over websocket.
type WebsocketDialer struct{}

// Dial opens a websocket connection to url.
func (WebsocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	// Raw PCM frames are small (one capture buffer) but the default read
	// limit is conservative; raise it for safety on status bursts.
	conn.SetReadLimit(1 << 20)
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) WriteBinary(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageBinary, data)
}

func (t *wsTransport) WriteText(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	return data, err
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "session closed")
}
