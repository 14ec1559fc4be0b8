package phoenix

import "errors"

// Sentinel errors for the programmer-error and terminal-Push-outcome
// cases enumerated in spec §7.
var (
	// ErrAlreadyJoined is returned by Channel.Join when join() is called
	// more than once on the same Channel instance.
	ErrAlreadyJoined = errors.New("phoenix: channel already joined")

	// ErrPushBeforeJoin is returned by Channel.Push when push() is
	// called before join() has ever been called.
	ErrPushBeforeJoin = errors.New("phoenix: push before join")

	// ErrPushFailed names the failure of a Push that was in flight when
	// the transport dropped. Nothing in this package returns or delivers
	// it: such a Push completes only by a later reply or by its timeout.
	ErrPushFailed = errors.New("phoenix: push failed: transport closed")

	// ErrMalformedEndpoint marks an unparseable socket endpoint URL,
	// a fatal configuration error raised from Connect.
	ErrMalformedEndpoint = errors.New("phoenix: malformed endpoint url")

	// ErrNoTransportFactory is returned by Connect when the Socket was
	// constructed without a transport.Factory.
	ErrNoTransportFactory = errors.New("phoenix: no transport factory configured")
)
