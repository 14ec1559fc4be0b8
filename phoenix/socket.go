// Package phoenix implements the Phoenix Channels client core: Socket
// (connection lifecycle, reconnect/heartbeat, multiplexing), Channel
// (per-topic state machine), and Push (single request/reply exchange).
// It is grounded on the teacher's internal/client package (Client +
// Channel combined in one package), generalized to the full protocol.
package phoenix

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eshe-huli/phoenixgo/eventbus"
	"github.com/eshe-huli/phoenixgo/message"
	"github.com/eshe-huli/phoenixgo/params"
	"github.com/eshe-huli/phoenixgo/timer"
	"github.com/eshe-huli/phoenixgo/transport"
)

const (
	defaultVSN               = "2.0.0"
	defaultHeartbeatInterval = 30 * time.Second
	defaultTimeout           = 10 * time.Second
)

// Socket owns the single WebSocket connection and its multiplex/
// heartbeat/reconnect machinery (spec §4.1).
type Socket struct {
	endpoint          string
	paramsProvider    params.Provider
	vsn               string
	transportFactory  transport.Factory
	encode            func(message.Message) ([]byte, error)
	decode            func([]byte) (message.Message, error)
	heartbeatInterval time.Duration
	defaultTimeout    time.Duration
	reconnectBackoff  timer.BackoffFunc
	rejoinBackoff     timer.BackoffFunc
	skipHeartbeat     bool
	logger            *Logger
	clock             timer.Clock
	durableOpenErr    error

	mu                  sync.Mutex
	refCounter          uint64
	pendingHeartbeatRef string
	hasPendingHeartbeat bool
	closeStatus         CloseStatus
	channels            []*Channel
	sendBuffer          sendBuffer
	currentTransport    transport.Transport

	reconnectTimer *timer.TimeoutTimer
	heartbeatTimer *timer.HeartbeatTimer

	onOpen    *eventbus.Bus[struct{}]
	onClose   *eventbus.Bus[CloseEvent]
	onError   *eventbus.Bus[error]
	onMessage *eventbus.Bus[message.Message]
}

// New constructs a Socket for endpoint (an http(s)/ws(s) URL), dialed via
// factory on every connect(). Apply Options to override the spec §6
// defaults.
func New(endpoint string, factory transport.Factory, opts ...Option) *Socket {
	s := &Socket{
		endpoint:          endpoint,
		transportFactory:  factory,
		vsn:               defaultVSN,
		encode:            message.Encode,
		decode:            message.Decode,
		heartbeatInterval: defaultHeartbeatInterval,
		defaultTimeout:    defaultTimeout,
		reconnectBackoff:  timer.DefaultReconnectBackoff,
		rejoinBackoff:     timer.DefaultRejoinBackoff,
		logger:            NewLogger(nil),
		clock:             timer.RealClock{},
		closeStatus:       closeUnknown,
		sendBuffer:        newMemSendBuffer(),
		onOpen:            eventbus.New[struct{}](),
		onClose:           eventbus.New[CloseEvent](),
		onError:           eventbus.New[error](),
		onMessage:         eventbus.New[message.Message](),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reconnectTimer = timer.NewTimeoutTimer(s.clock, s.reconnectBackoff, s.onReconnectTimeout)
	s.heartbeatTimer = timer.NewHeartbeatTimer(s.clock, s.heartbeatInterval)
	return s
}

// DurableBufferError reports whether WithDurableBuffer failed to open its
// backing store; the Socket still functions with the in-memory default in
// that case.
func (s *Socket) DurableBufferError() error { return s.durableOpenErr }

// Connect opens the transport. It is a no-op if the socket is already
// connecting or open (spec §4.1).
func (s *Socket) Connect() error {
	if s.transportFactory == nil {
		return ErrNoTransportFactory
	}

	s.mu.Lock()
	if s.currentTransport != nil {
		switch s.currentTransport.ReadyState() {
		case transport.Connecting, transport.Open:
			s.mu.Unlock()
			return nil
		}
	}

	endpointURL, err := s.buildEndpointURL()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("connect: %w", err)
	}
	s.closeStatus = closeUnknown
	t := s.transportFactory(endpointURL, s)
	s.currentTransport = t
	s.mu.Unlock()

	return t.Connect()
}

// Disconnect closes the transport cleanly. It is a no-op if already
// closed. then, if non-nil, runs after the transport's teardown request
// has been issued (not after the close actually completes, since that is
// reported asynchronously via OnClose).
func (s *Socket) Disconnect(code int, reason string, then func()) error {
	s.mu.Lock()
	s.closeStatus = closeClean
	s.reconnectTimer.Reset()
	t := s.currentTransport
	s.mu.Unlock()

	var err error
	if t != nil {
		err = t.Disconnect(code, reason)
	}
	if then != nil {
		then()
	}
	return err
}

// Channel constructs and registers a Channel for topic. Multiple Channels
// for the same topic may coexist transiently during rejoin (spec §4.2).
func (s *Socket) Channel(topic string, chanParams map[string]interface{}) *Channel {
	ch := newChannel(s, topic, chanParams)
	s.mu.Lock()
	s.channels = append(s.channels, ch)
	s.mu.Unlock()
	return ch
}

// Remove removes ch from the registry, matching on its current join_ref
// (spec §4.1) so that among duplicate-topic incarnations only the
// matching one is evicted.
func (s *Socket) Remove(ch *Channel) {
	target := ch.JoinRef()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.channels[:0:0]
	for _, c := range s.channels {
		if c.JoinRef() == target {
			continue
		}
		out = append(out, c)
	}
	s.channels = out
}

// MakeRef returns the next outbound ref, wrapping to 0 on uint64 overflow
// (spec §3, §8 property 1).
func (s *Socket) MakeRef() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRefLocked()
}

func (s *Socket) nextRefLocked() string {
	s.refCounter++
	return strconv.FormatUint(s.refCounter, 10)
}

// IsConnected reports whether the current transport is open.
func (s *Socket) IsConnected() bool {
	s.mu.Lock()
	t := s.currentTransport
	s.mu.Unlock()
	return t != nil && t.ReadyState() == transport.Open
}

// channelsForTopic returns every registered channel for topic, used by
// Channel.Rejoin's duplicate-topic eviction (spec §4.2 scenario 4).
func (s *Socket) channelsForTopic(topic string) []*Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Channel
	for _, c := range s.channels {
		if c.Topic() == topic {
			out = append(out, c)
		}
	}
	return out
}

// removeBufferedRef drops any buffered send for ref, used when a Channel
// errors out of "joining" so its join push isn't replayed verbatim on
// reopen (spec §4.2 "Error handling while joining").
func (s *Socket) removeBufferedRef(ref string) {
	if ref == "" {
		return
	}
	s.mu.Lock()
	buf := s.sendBuffer
	s.mu.Unlock()
	if err := buf.RemoveByRef(ref); err != nil {
		s.logger.Printf("[socket] remove buffered ref=%s failed: %v", ref, err)
	}
}

// push encodes and writes a frame, or buffers it if the transport isn't
// open (spec §4.1's internal push()).
func (s *Socket) push(topic, event string, payload map[string]interface{}, ref, joinRef string) {
	frame := message.NewMessage(joinRef, ref, topic, event, payload)
	encoded, err := s.encode(frame)
	if err != nil {
		s.logger.Printf("[socket] encode failed for %s/%s: %v", topic, event, err)
		return
	}

	s.mu.Lock()
	t := s.currentTransport
	open := t != nil && t.ReadyState() == transport.Open
	if !open {
		buf := s.sendBuffer
		s.mu.Unlock()
		if err := buf.Enqueue(ref, topic, event, encoded); err != nil {
			s.logger.Printf("[socket] buffer enqueue failed for %s/%s: %v", topic, event, err)
		}
		return
	}
	s.mu.Unlock()

	if err := t.Send(encoded); err != nil {
		s.logger.Printf("[socket] send failed for %s/%s: %v", topic, event, err)
	}
}

// buildEndpointURL normalizes the endpoint (ensuring a trailing
// "/websocket" path segment), sets vsn, and merges in the params
// provider's current values (spec §6).
func (s *Socket) buildEndpointURL() (string, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedEndpoint, err)
	}

	if !strings.Contains(u.Path, "/websocket") {
		if strings.HasSuffix(u.Path, "/") {
			u.Path += "websocket"
		} else {
			u.Path += "/websocket"
		}
	}

	q := u.Query()
	q.Set("vsn", s.vsn)

	if s.paramsProvider != nil {
		extra, err := s.paramsProvider.Params()
		if err != nil {
			return "", fmt.Errorf("params provider: %w", err)
		}
		for k, v := range extra {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// --- transport.Delegate implementation ---

// OnOpen clears close_status, flushes the send buffer, restarts the
// heartbeat, kicks every errored Channel's rejoin, and emits
// socket-opened (spec §4.1, §4.2's "socket-open event will kick rejoin").
func (s *Socket) OnOpen() {
	s.mu.Lock()
	s.closeStatus = closeUnknown
	buf := s.sendBuffer
	s.reconnectTimer.Reset()
	skip := s.skipHeartbeat
	t := s.currentTransport
	channels := append([]*Channel(nil), s.channels...)
	s.mu.Unlock()

	entries, err := buf.Drain()
	if err != nil {
		s.logger.Printf("[socket] send buffer drain failed: %v", err)
	} else {
		for _, e := range entries {
			if t == nil {
				break
			}
			if sendErr := t.Send(e.frame); sendErr != nil {
				s.logger.Printf("[socket] flush failed for ref=%s: %v", e.ref, sendErr)
			}
		}
		if len(entries) > 0 {
			s.logger.Printf("[socket] flushed %s buffered frame(s)", commaCount(len(entries)))
		}
		_ = buf.Clear()
	}

	if !skip {
		s.heartbeatTimer.Start(s.sendHeartbeat)
	}

	// A transport drop leaves any in-flight Channel in errored without a
	// rejoin scheduled (handlePhxError only schedules one while the
	// socket is still connected). Reopening the transport is what's
	// meant to resurrect those channels, so kick them here rather than
	// leaving them stuck in errored forever.
	for _, ch := range channels {
		if ch.State() == StateErrored {
			ch.Rejoin(0)
		}
	}

	s.onOpen.Emit(struct{}{})
}

// OnMessage decodes an inbound frame and dispatches it to every member
// Channel (spec §4.1).
func (s *Socket) OnMessage(text string) {
	msg, err := s.decode([]byte(text))
	if err != nil {
		s.logger.Printf("[socket] decode failed, dropping frame: %v", err)
		return
	}

	s.mu.Lock()
	if s.hasPendingHeartbeat && msg.HasRef() && msg.Ref == s.pendingHeartbeatRef {
		s.hasPendingHeartbeat = false
		s.pendingHeartbeatRef = ""
	}
	channels := append([]*Channel(nil), s.channels...)
	s.mu.Unlock()

	s.onMessage.Emit(msg)

	for _, ch := range channels {
		if ch.IsMember(msg) {
			ch.trigger(msg)
		}
	}
}

// OnError fans channel-error out to every eligible Channel and emits
// socket-errored (spec §4.1, §7).
func (s *Socket) OnError(err error) {
	s.mu.Lock()
	channels := append([]*Channel(nil), s.channels...)
	s.mu.Unlock()

	for _, ch := range channels {
		ch.notifySocketTrouble()
	}
	s.onError.Emit(err)
}

// OnClose applies the close-status FSM, fans channel-error out, stops the
// heartbeat, schedules a reconnect if warranted, and emits socket-closed
// (spec §4.1).
func (s *Socket) OnClose(code int) {
	s.mu.Lock()
	if s.closeStatus != closeAbnormal {
		switch code {
		case transport.CloseNormal:
			s.closeStatus = closeClean
		case transport.CloseGoingAway:
			s.closeStatus = closeTemporary
		default:
			s.closeStatus = closeAbnormal
		}
	}
	status := s.closeStatus
	s.currentTransport = nil
	s.hasPendingHeartbeat = false
	s.pendingHeartbeatRef = ""
	channels := append([]*Channel(nil), s.channels...)
	s.mu.Unlock()

	s.heartbeatTimer.Stop()

	for _, ch := range channels {
		ch.notifySocketTrouble()
	}

	s.onClose.Emit(CloseEvent{Code: code, Status: status})

	if status.shouldReconnect() {
		s.reconnectTimer.ScheduleTimeout()
	}
}

func (s *Socket) onReconnectTimeout() {
	s.logger.Printf("[socket] reconnecting (%s attempt)", ordinalAttempt(s.reconnectTimer.Tries()))
	if err := s.Connect(); err != nil {
		s.logger.Printf("[socket] reconnect failed: %v", err)
	}
}

// sendHeartbeat is the HeartbeatTimer callback (spec §4.1).
func (s *Socket) sendHeartbeat() {
	s.mu.Lock()
	if !s.IsConnectedLocked() {
		s.mu.Unlock()
		return
	}
	if s.hasPendingHeartbeat {
		s.closeStatus = closeAbnormal
		t := s.currentTransport
		s.hasPendingHeartbeat = false
		s.pendingHeartbeatRef = ""
		s.mu.Unlock()

		s.logger.Printf("[heartbeat] previous beat unacknowledged, closing as abnormal")
		if t != nil {
			_ = t.Disconnect(transport.CloseNormal, "heartbeat timeout")
		}
		return
	}

	ref := s.nextRefLocked()
	s.pendingHeartbeatRef = ref
	s.hasPendingHeartbeat = true
	s.mu.Unlock()

	s.push(message.HeartbeatTopic, message.EventHeartbeat, map[string]interface{}{}, ref, "")
}

// IsConnectedLocked is IsConnected for callers already holding s.mu.
func (s *Socket) IsConnectedLocked() bool {
	return s.currentTransport != nil && s.currentTransport.ReadyState() == transport.Open
}

// --- observer registration ---

func (s *Socket) OnSocketOpen(fn func()) eventbus.Subscription {
	return s.onOpen.Subscribe(func(struct{}) { fn() })
}

func (s *Socket) OnSocketClose(fn func(CloseEvent)) eventbus.Subscription {
	return s.onClose.Subscribe(fn)
}

func (s *Socket) OnSocketError(fn func(error)) eventbus.Subscription {
	return s.onError.Subscribe(fn)
}

func (s *Socket) OnSocketMessage(fn func(message.Message)) eventbus.Subscription {
	return s.onMessage.Subscribe(fn)
}
