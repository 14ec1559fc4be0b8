package phoenix

import (
	"time"

	"github.com/eshe-huli/phoenixgo/durable"
	"github.com/eshe-huli/phoenixgo/message"
	"github.com/eshe-huli/phoenixgo/params"
	"github.com/eshe-huli/phoenixgo/timer"
)

// Option configures a Socket at construction, following the teacher's
// constructor-with-fields style generalized to functional options since
// the Socket has many more knobs than client.New's (url, token) pair
// (spec §6's configuration table).
type Option func(*Socket)

// WithParamsProvider sets the dynamic params provider merged into the
// endpoint URL on every connect().
func WithParamsProvider(p params.Provider) Option {
	return func(s *Socket) { s.paramsProvider = p }
}

// WithStaticParams is shorthand for WithParamsProvider(params.Static(m)).
func WithStaticParams(m map[string]string) Option {
	return func(s *Socket) { s.paramsProvider = params.Static(m) }
}

// WithVSN overrides the serializer version query value (default "2.0.0").
func WithVSN(vsn string) Option {
	return func(s *Socket) { s.vsn = vsn }
}

// WithHeartbeatInterval overrides the default 30s heartbeat interval.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(s *Socket) { s.heartbeatInterval = d }
}

// WithTimeout overrides the default 10s push/join timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Socket) { s.defaultTimeout = d }
}

// WithReconnectAfter overrides the reconnect back-off schedule.
func WithReconnectAfter(fn timer.BackoffFunc) Option {
	return func(s *Socket) { s.reconnectBackoff = fn }
}

// WithRejoinAfter overrides the rejoin back-off schedule.
func WithRejoinAfter(fn timer.BackoffFunc) Option {
	return func(s *Socket) { s.rejoinBackoff = fn }
}

// WithSkipHeartbeat disables heartbeats entirely.
func WithSkipHeartbeat(skip bool) Option {
	return func(s *Socket) { s.skipHeartbeat = skip }
}

// WithLogger installs a diagnostic sink.
func WithLogger(l *Logger) Option {
	return func(s *Socket) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithEncode/WithDecode override the default serializer v2 JSON codec
// (message.Encode/message.Decode), per spec §1's "JSON encoding/decoding
// of payloads — abstracted behind Encode/Decode callables."
func WithEncode(fn func(message.Message) ([]byte, error)) Option {
	return func(s *Socket) { s.encode = fn }
}

func WithDecode(fn func([]byte) (message.Message, error)) Option {
	return func(s *Socket) { s.decode = fn }
}

// WithClock overrides the timer.Clock used to schedule reconnects,
// rejoins, heartbeats, and push timeouts. Tests use this to substitute a
// virtual clock; production leaves it unset (timer.RealClock).
func WithClock(c timer.Clock) Option {
	return func(s *Socket) { s.clock = c }
}

// WithDurableBuffer swaps the in-memory send buffer for a sqlite-backed
// one at path, so pushes made while disconnected survive a process
// restart (see package durable). logger, if non-nil, receives durable
// buffer diagnostics (e.g. corrupted-entry drops).
func WithDurableBuffer(path string, logger func(string)) Option {
	return func(s *Socket) {
		buf, err := durable.Open(path, logger)
		if err != nil {
			// Constructor Options can't return errors; record the
			// failure and keep the in-memory default so Connect()
			// still works, matching the "buffering must never be
			// fatal" spirit of spec §4.1.
			s.durableOpenErr = err
			return
		}
		s.sendBuffer = &durableSendBuffer{buf: buf}
	}
}
