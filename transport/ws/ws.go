// Package ws is the default transport.Transport implementation, backed by
// gorilla/websocket — the same library the teacher client dials with
// directly in internal/client/client.go. It owns URL scheme normalization
// and TLS configuration per spec §4.5.
package ws

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eshe-huli/phoenixgo/transport"
)

// NormalizeScheme upgrades http->ws and https->wss, leaves ws/wss
// untouched, and passes any other scheme through unchanged (spec §4.5).
func NormalizeScheme(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse endpoint %q: %w", rawURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String(), nil
}

// Transport dials a Phoenix endpoint over a gorilla/websocket connection.
type Transport struct {
	endpoint string
	delegate transport.Delegate
	header   http.Header
	dialer   *websocket.Dialer

	mu                 sync.Mutex
	conn               *websocket.Conn
	state              transport.ReadyState
	requestedCloseCode int
}

// Option configures a Transport at construction.
type Option func(*Transport)

// WithHeader attaches HTTP headers to the initial dial, e.g. an
// Authorization header for opaque-token auth.
func WithHeader(h http.Header) Option {
	return func(t *Transport) { t.header = h }
}

// WithHandshakeTimeout bounds the initial TCP+TLS+HTTP upgrade.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(t *Transport) { t.dialer.HandshakeTimeout = d }
}

// New builds a Factory-compatible constructor: New(opts...) returns a
// transport.Factory suitable as the factory argument of phoenix.New.
func New(opts ...Option) transport.Factory {
	return func(endpoint string, delegate transport.Delegate) transport.Transport {
		t := &Transport{
			endpoint: endpoint,
			delegate: delegate,
			dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
			state:    transport.Closed,
		}
		for _, opt := range opts {
			opt(t)
		}
		return t
	}
}

// Connect dials the endpoint and starts the read loop. It blocks until the
// WebSocket handshake completes or fails; Delegate.OnOpen runs before it
// returns, and a dial failure is returned as its error rather than reported
// through the delegate.
func (t *Transport) Connect() error {
	normalized, err := NormalizeScheme(t.endpoint)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.state = transport.Connecting
	t.mu.Unlock()

	conn, _, err := t.dialer.Dial(normalized, t.header)
	if err != nil {
		t.mu.Lock()
		t.state = transport.Closed
		t.mu.Unlock()
		return fmt.Errorf("dial %s: %w", normalized, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.state = transport.Open
	t.mu.Unlock()

	t.delegate.OnOpen()
	go t.readLoop(conn)
	return nil
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			code := websocket.CloseAbnormalClosure
			if ce, ok := err.(*websocket.CloseError); ok {
				code = ce.Code
			} else if requested := t.selfRequestedCloseCode(); requested != 0 {
				// A local conn.Close() usually surfaces here as a plain
				// "use of closed network connection" error rather than a
				// *websocket.CloseError, since the peer's close-frame
				// echo may not have arrived yet. Report the code
				// Disconnect was actually asked to close with instead of
				// misreporting this as an abnormal closure.
				code = requested
			}
			t.mu.Lock()
			t.state = transport.Closed
			t.mu.Unlock()
			t.delegate.OnClose(code)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		t.delegate.OnMessage(string(data))
	}
}

func (t *Transport) selfRequestedCloseCode() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requestedCloseCode
}

// Disconnect sends a close control frame and tears down the socket. The
// read loop observes the resulting close and reports it via
// Delegate.OnClose: with the code of a *websocket.CloseError when the read
// error is one, and otherwise with the requestedCloseCode recorded here;
// Disconnect itself does not call OnClose, to avoid a double notification.
func (t *Transport) Disconnect(code int, reason string) error {
	t.mu.Lock()
	conn := t.conn
	if t.state == transport.Closed || t.state == transport.Closing {
		t.mu.Unlock()
		return nil
	}
	t.state = transport.Closing
	t.requestedCloseCode = code
	t.mu.Unlock()

	if conn == nil {
		return nil
	}

	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	return conn.Close()
}

// Send writes a text frame. It fails fast if the connection isn't open;
// the Socket is responsible for buffering in that case (spec §4.1).
func (t *Transport) Send(data []byte) error {
	t.mu.Lock()
	conn, state := t.conn, t.state
	t.mu.Unlock()

	if state != transport.Open || conn == nil {
		return fmt.Errorf("send on %s transport", state)
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// ReadyState reports the current connection state.
func (t *Transport) ReadyState() transport.ReadyState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}
