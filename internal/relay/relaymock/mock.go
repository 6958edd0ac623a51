// Package relaymock provides scripted in-memory implementations of
// [relay.Dialer] and [relay.Transport] for use in unit tests.
package relaymock

import (
	"context"
	"errors"
	"sync"

	"github.com/shaike1/vexai-msteams/internal/relay"
)

// ErrClosed is returned by transport operations after Close.
var ErrClosed = errors.New("relaymock: transport closed")

// Transport is an in-memory [relay.Transport]. Outbound frames are recorded;
// inbound messages are scripted with [Transport.PushMessage].
type Transport struct {
	mu sync.Mutex

	// WriteBinaryErr and WriteTextErr, when set, fail the respective writes.
	WriteBinaryErr error
	WriteTextErr   error

	binary [][]byte
	text   [][]byte

	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

// NewTransport creates a connected mock transport.
func NewTransport() *Transport {
	return &Transport{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

// WriteBinary implements [relay.Transport].
func (t *Transport) WriteBinary(_ context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.WriteBinaryErr != nil {
		return t.WriteBinaryErr
	}
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}
	t.binary = append(t.binary, append([]byte(nil), data...))
	return nil
}

// WriteText implements [relay.Transport].
func (t *Transport) WriteText(_ context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.WriteTextErr != nil {
		return t.WriteTextErr
	}
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}
	t.text = append(t.text, append([]byte(nil), data...))
	return nil
}

// Read implements [relay.Transport]. It blocks until a scripted message
// arrives, the transport closes, or ctx is cancelled.
func (t *Transport) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-t.inbound:
		return data, nil
	case <-t.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements [relay.Transport].
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
	})
	return nil
}

// PushMessage delivers one inbound message to the reader.
func (t *Transport) PushMessage(data []byte) {
	t.inbound <- data
}

// PushServerReady delivers the backend readiness acknowledgement.
func (t *Transport) PushServerReady() {
	t.PushMessage([]byte(`{"status":"SERVER_READY"}`))
}

// BinaryMessages returns a copy of all recorded binary frames.
func (t *Transport) BinaryMessages() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.binary))
	copy(out, t.binary)
	return out
}

// TextMessages returns a copy of all recorded text frames.
func (t *Transport) TextMessages() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.text))
	copy(out, t.text)
	return out
}

// Dialer is a scripted [relay.Dialer]. The first FailFirst dials fail; each
// later dial produces a fresh [Transport].
type Dialer struct {
	mu sync.Mutex

	// FailFirst makes that many leading dial attempts fail.
	FailFirst int

	// DialErr is the error returned by failing attempts. Defaults to a
	// generic refusal.
	DialErr error

	attempts int
	conns    []*Transport
	dialed   chan *Transport
}

// NewDialer creates a Dialer whose first failFirst attempts fail.
func NewDialer(failFirst int) *Dialer {
	return &Dialer{
		FailFirst: failFirst,
		dialed:    make(chan *Transport, 64),
	}
}

// Dial implements [relay.Dialer].
func (d *Dialer) Dial(_ context.Context, _ string) (relay.Transport, error) {
	d.mu.Lock()
	d.attempts++
	if d.attempts <= d.FailFirst {
		err := d.DialErr
		d.mu.Unlock()
		if err == nil {
			err = errors.New("relaymock: connection refused")
		}
		return nil, err
	}
	conn := NewTransport()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()

	select {
	case d.dialed <- conn:
	default:
	}
	return conn, nil
}

// Attempts returns the total number of dial attempts so far.
func (d *Dialer) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

// NextConn blocks until the next successful dial and returns its transport.
func (d *Dialer) NextConn() *Transport {
	return <-d.dialed
}
