package phoenix

import (
	"sync"
	"time"

	"github.com/eshe-huli/phoenixgo/eventbus"
	"github.com/eshe-huli/phoenixgo/message"
	"github.com/eshe-huli/phoenixgo/timer"
)

// Channel is the per-topic multiplex endpoint described in spec §4.2: a
// state machine driven by application calls, Socket lifecycle callbacks,
// and inbound frames.
type Channel struct {
	socket         *Socket
	topic          string
	defaultTimeout time.Duration
	logger         *Logger

	mu         sync.Mutex
	state      State
	params     map[string]interface{}
	joinedOnce bool
	joinPush   *Push
	joinRef    string
	pushBuffer []*Push

	replyBindings map[string]func(message.Message)
	messageBus    map[string]*eventbus.Bus[message.Message]
	stateBus      *eventbus.Bus[State]

	rejoinTimer *timer.TimeoutTimer
}

func newChannel(s *Socket, topic string, params map[string]interface{}) *Channel {
	if params == nil {
		params = map[string]interface{}{}
	}
	ch := &Channel{
		socket:         s,
		topic:          topic,
		defaultTimeout: s.defaultTimeout,
		logger:         s.logger,
		state:          StateClosed,
		params:         params,
		replyBindings:  make(map[string]func(message.Message)),
		messageBus:     make(map[string]*eventbus.Bus[message.Message]),
		stateBus:       eventbus.New[State](),
	}
	ch.rejoinTimer = timer.NewTimeoutTimer(s.clock, s.rejoinBackoff, ch.onRejoinTimeout)
	return ch
}

// Topic returns the channel's topic.
func (ch *Channel) Topic() string { return ch.topic }

// State returns the current FSM state.
func (ch *Channel) State() State {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

// JoinRef returns the ref of the channel's current join Push, or "" if it
// has never joined (spec §3 "Join ref").
func (ch *Channel) JoinRef() string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.joinRef
}

// Params returns a copy of the channel's join params.
func (ch *Channel) Params() map[string]interface{} {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	out := make(map[string]interface{}, len(ch.params))
	for k, v := range ch.params {
		out[k] = v
	}
	return out
}

// SetParams mutates the params mirrored into the stored join push payload
// (spec §3); it takes effect on the next join/rejoin, not retroactively.
func (ch *Channel) SetParams(p map[string]interface{}) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.params = p
}

func (ch *Channel) setState(s State) {
	ch.mu.Lock()
	ch.state = s
	ch.mu.Unlock()
	ch.stateBus.Emit(s)
}

// OnStateChange subscribes to channel FSM transitions.
func (ch *Channel) OnStateChange(fn func(State)) eventbus.Subscription {
	return ch.stateBus.Subscribe(fn)
}

// On registers fn for a custom broadcast event on this channel (the
// "channel-message" event source of spec §9).
func (ch *Channel) On(event string, fn func(message.Message)) eventbus.Subscription {
	ch.mu.Lock()
	bus, ok := ch.messageBus[event]
	if !ok {
		bus = eventbus.New[message.Message]()
		ch.messageBus[event] = bus
	}
	ch.mu.Unlock()
	return bus.Subscribe(fn)
}

// Off cancels a subscription registered via On.
func (ch *Channel) Off(event string, sub eventbus.Subscription) {
	ch.mu.Lock()
	bus, ok := ch.messageBus[event]
	ch.mu.Unlock()
	if ok {
		bus.Unsubscribe(sub)
	}
}

// Join sends the phx_join push. It may be called at most once per
// Channel instance (spec §4.2 invariant a).
func (ch *Channel) Join(timeout time.Duration) (*Push, error) {
	ch.mu.Lock()
	if ch.joinedOnce {
		ch.mu.Unlock()
		return nil, ErrAlreadyJoined
	}
	ch.joinedOnce = true
	if timeout <= 0 {
		timeout = ch.defaultTimeout
	}
	ch.state = StateJoining
	push := ch.buildJoinPushLocked(timeout)
	ch.mu.Unlock()

	ch.stateBus.Emit(StateJoining)
	push.Send()
	ch.mu.Lock()
	ch.joinRef = push.Ref()
	ch.mu.Unlock()
	return push, nil
}

// buildJoinPushLocked constructs a fresh join Push (for Join or Rejoin)
// and wires the internal ok/error/timeout hooks that drive the FSM,
// before any caller-attached observers run.
func (ch *Channel) buildJoinPushLocked(timeout time.Duration) *Push {
	p := newPush(ch, message.EventJoin, ch.params, timeout)
	ch.joinPush = p
	p.Receive(message.StatusOK, func(map[string]interface{}) { ch.onJoinOK() })
	p.Receive(message.StatusError, func(payload map[string]interface{}) { ch.onJoinError(payload) })
	p.OnTimeout(func(string, map[string]interface{}) { ch.onJoinTimeout() })
	return p
}

func (ch *Channel) onJoinOK() {
	ch.mu.Lock()
	ch.state = StateJoined
	ch.rejoinTimer.Reset()
	buffered := ch.pushBuffer
	ch.pushBuffer = nil
	ch.mu.Unlock()

	for _, p := range buffered {
		p.Send()
	}
	ch.logger.Printf("[channel:%s] joined", ch.topic)
	ch.stateBus.Emit(StateJoined)
}

func (ch *Channel) onJoinError(payload map[string]interface{}) {
	ch.failJoin()
	ch.logger.Printf("[channel:%s] join rejected: %v", ch.topic, payload)
}

func (ch *Channel) onJoinTimeout() {
	ch.failJoin()
	ch.logger.Printf("[channel:%s] join timeout", ch.topic)
}

// failJoin is the shared "joining -> errored" transition for both a
// phx_reply{status:error} and a join timeout.
func (ch *Channel) failJoin() {
	ch.mu.Lock()
	ch.state = StateErrored
	ch.mu.Unlock()

	if ch.socket.IsConnected() {
		ch.rejoinTimer.ScheduleTimeout()
	}
	ch.stateBus.Emit(StateErrored)
}

// Rejoin re-enters joining after an error or socket reconnect (spec
// §4.2). It is a no-op while leaving. Any sibling Channel still bound to
// the same topic and in {joining, joined} is asked to leave first, so the
// server never sees two live joins for one topic (scenario 4).
func (ch *Channel) Rejoin(timeout time.Duration) {
	ch.mu.Lock()
	if ch.state == StateLeaving {
		ch.mu.Unlock()
		return
	}
	if timeout <= 0 {
		timeout = ch.defaultTimeout
	}
	topic := ch.topic
	ch.mu.Unlock()

	for _, sibling := range ch.socket.channelsForTopic(topic) {
		if sibling == ch {
			continue
		}
		switch sibling.State() {
		case StateJoining, StateJoined:
			sibling.Leave(timeout)
		}
	}

	ch.mu.Lock()
	ch.state = StateJoining
	push := ch.buildJoinPushLocked(timeout)
	ch.mu.Unlock()

	ch.stateBus.Emit(StateJoining)
	push.Send()
	ch.mu.Lock()
	ch.joinRef = push.Ref()
	ch.mu.Unlock()
}

func (ch *Channel) onRejoinTimeout() {
	if ch.socket.IsConnected() {
		ch.Rejoin(0)
	}
}

// Leave sends phx_leave and transitions to closed on its ok reply or
// timeout; an error reply leaves the channel in leaving. If the channel isn't currently pushable, the ok outcome is
// synthesized locally so the caller still observes completion (spec
// §4.2, §7).
func (ch *Channel) Leave(timeout time.Duration) *Push {
	ch.mu.Lock()
	canPush := ch.socket.IsConnected() && ch.state == StateJoined
	ch.rejoinTimer.Reset()
	ch.state = StateLeaving
	ch.mu.Unlock()
	ch.stateBus.Emit(StateLeaving)

	p := newPush(ch, message.EventLeave, map[string]interface{}{}, timeout)
	p.Receive(message.StatusOK, func(map[string]interface{}) { ch.finalizeClose() })
	p.OnTimeout(func(string, map[string]interface{}) { ch.finalizeClose() })

	if canPush {
		p.Send()
	} else {
		p.Trigger(message.StatusOK, map[string]interface{}{})
	}
	return p
}

func (ch *Channel) finalizeClose() {
	ch.mu.Lock()
	if ch.state == StateClosed {
		ch.mu.Unlock()
		return
	}
	ch.state = StateClosed
	ch.mu.Unlock()

	ch.logger.Printf("[channel:%s] closed", ch.topic)
	ch.socket.Remove(ch)
	ch.stateBus.Emit(StateClosed)
}

// Push sends event/payload on this channel, buffering it until joined if
// the channel isn't currently pushable (spec §4.2). Push before any Join
// call is a programmer error.
func (ch *Channel) Push(event string, payload map[string]interface{}, timeout time.Duration) (*Push, error) {
	ch.mu.Lock()
	if !ch.joinedOnce {
		ch.mu.Unlock()
		return nil, ErrPushBeforeJoin
	}
	if timeout <= 0 {
		timeout = ch.defaultTimeout
	}
	p := newPush(ch, event, payload, timeout)
	canPush := ch.socket.IsConnected() && ch.state == StateJoined
	if !canPush {
		p.ArmTimeout()
		ch.pushBuffer = append(ch.pushBuffer, p)
	}
	ch.mu.Unlock()

	if canPush {
		p.Send()
	}
	return p, nil
}

// IsMember reports whether msg belongs to this Channel (spec §4.2). A
// lifecycle-event frame carrying a stale join_ref is dropped (logged) and
// reports false.
func (ch *Channel) IsMember(msg message.Message) bool {
	if msg.Topic != ch.topic {
		return false
	}
	current := ch.JoinRef()
	if msg.HasJoinRef() && msg.JoinRef != current && msg.IsLifecycle() {
		ch.logger.Printf("[channel:%s] dropping stale %s (join_ref=%s, current=%s)",
			ch.topic, msg.Event, msg.JoinRef, current)
		return false
	}
	return true
}

// trigger dispatches an inbound frame already confirmed to be a member of
// this channel: phx_reply frames complete the matching Push; phx_error
// and phx_close drive FSM transitions; everything else fans out to On
// handlers.
func (ch *Channel) trigger(msg message.Message) {
	if msg.IsReply() {
		ch.mu.Lock()
		fn, ok := ch.replyBindings[msg.Ref]
		if ok {
			delete(ch.replyBindings, msg.Ref)
		}
		ch.mu.Unlock()
		if ok {
			fn(msg)
		}
		return
	}

	switch msg.Event {
	case message.EventError:
		ch.handlePhxError()
	case message.EventClose:
		ch.handlePhxClose()
	default:
		ch.dispatchMessage(msg)
	}
}

// handlePhxError implements spec §4.2's "Error handling while joining",
// generalized to joined too (both are "-- error --> errored" in the FSM
// table).
func (ch *Channel) handlePhxError() {
	ch.mu.Lock()
	if ch.state != StateJoining && ch.state != StateJoined {
		ch.mu.Unlock()
		return
	}
	var joinRef string
	var jp *Push
	if ch.joinPush != nil {
		joinRef = ch.joinPush.Ref()
		jp = ch.joinPush
	}
	ch.state = StateErrored
	ch.mu.Unlock()

	if joinRef != "" {
		ch.socket.removeBufferedRef(joinRef)
	}
	if jp != nil {
		jp.Reset()
	}
	if ch.socket.IsConnected() {
		ch.rejoinTimer.ScheduleTimeout()
	}
	ch.logger.Printf("[channel:%s] phx_error received", ch.topic)
	ch.stateBus.Emit(StateErrored)
}

func (ch *Channel) handlePhxClose() {
	ch.mu.Lock()
	ch.state = StateClosed
	ch.rejoinTimer.Reset()
	ch.mu.Unlock()

	ch.socket.Remove(ch)
	ch.logger.Printf("[channel:%s] phx_close received", ch.topic)
	ch.stateBus.Emit(StateClosed)
}

// notifySocketTrouble is invoked by the Socket on transport close/error to
// fan channel-error out to every Channel not already in
// {errored, leaving, closed} (spec §4.1, §7).
func (ch *Channel) notifySocketTrouble() {
	switch ch.State() {
	case StateErrored, StateLeaving, StateClosed:
		return
	}
	ch.handlePhxError()
}

func (ch *Channel) dispatchMessage(msg message.Message) {
	ch.mu.Lock()
	bus, ok := ch.messageBus[msg.Event]
	ch.mu.Unlock()
	if ok {
		bus.Emit(msg)
	}
}

func (ch *Channel) registerReply(ref string, fn func(message.Message)) {
	ch.mu.Lock()
	ch.replyBindings[ref] = fn
	ch.mu.Unlock()
}

func (ch *Channel) unregisterReply(ref string) {
	if ref == "" {
		return
	}
	ch.mu.Lock()
	delete(ch.replyBindings, ref)
	ch.mu.Unlock()
}
