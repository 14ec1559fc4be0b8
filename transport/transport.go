// Package transport defines the contract the Socket consumes from an
// external WebSocket implementation (spec §4.5). The concrete
// implementation used in production lives in transport/ws; tests provide
// their own fake satisfying this interface.
package transport

// ReadyState mirrors the WebSocket readyState values the Socket inspects
// before writing.
type ReadyState int

const (
	Connecting ReadyState = iota
	Open
	Closing
	Closed
)

func (s ReadyState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Delegate receives the lifecycle callbacks a Transport reports back to
// its owning Socket.
type Delegate interface {
	OnOpen()
	OnMessage(text string)
	OnError(err error)
	OnClose(code int)
}

// Transport is the abstracted WebSocket connection the Socket drives.
// Implementations own URL scheme normalization (http->ws, https->wss) and
// TLS configuration; the Socket never inspects the URL scheme itself.
type Transport interface {
	// Connect dials the endpoint and begins delivering events to the
	// delegate supplied at construction; connection-established is
	// reported via Delegate.OnOpen. Connect may block until the dial
	// completes: transport/ws does, so Socket.Connect with that transport
	// waits for the handshake.
	Connect() error

	// Disconnect closes the connection with the given close code and
	// optional human-readable reason. It is a no-op if already closed.
	Disconnect(code int, reason string) error

	// Send writes one text frame. Send on a non-open transport returns
	// an error; the Socket is responsible for buffering in that case.
	Send(data []byte) error

	// ReadyState reports the current connection state.
	ReadyState() ReadyState
}

// Factory constructs a Transport bound to endpoint, reporting events to
// delegate. The Socket calls Factory once per connect() attempt.
type Factory func(endpoint string, delegate Delegate) Transport

// Close codes consumed by the Socket's close-status FSM (spec §6).
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
)
