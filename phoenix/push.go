package phoenix

import (
	"sync"
	"time"

	"github.com/eshe-huli/phoenixgo/message"
	"github.com/eshe-huli/phoenixgo/timer"
)

// Push is a single request/reply exchange on a Channel (spec §4.3).
// Observers attach via Receive (for a specific reply status) and
// OnTimeout, chainable the way the teacher's Channel.Join attaches a
// single reply channel, generalized to the phoenix-js-style multi-hook
// API the protocol expects.
type Push struct {
	channel *Channel
	event   string
	payload map[string]interface{}
	timeout time.Duration

	mu              sync.Mutex
	ref             string
	hasRef          bool
	refEvent        string
	completed       bool
	timedOut        bool
	receivedStatus  string
	receivedPayload map[string]interface{}
	hooks           map[string][]func(map[string]interface{})
	timeoutHooks    []func(event string, payload map[string]interface{})
	timeoutCancel   timer.CancelFunc
	timeoutArmed    bool
}

func newPush(ch *Channel, event string, payload map[string]interface{}, timeout time.Duration) *Push {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return &Push{
		channel: ch,
		event:   event,
		payload: payload,
		timeout: timeout,
		hooks:   make(map[string][]func(map[string]interface{})),
	}
}

// Event returns the push's event name.
func (p *Push) Event() string { return p.event }

// Ref returns the allocated ref, or "" if Send has not yet been called.
func (p *Push) Ref() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ref
}

// Receive registers fn to run when a reply with the given status arrives
// (e.g. "ok", "error"). If the Push has already completed with that
// status, fn runs immediately. Returns the Push for chaining.
func (p *Push) Receive(status string, fn func(payload map[string]interface{})) *Push {
	p.mu.Lock()
	if p.completed {
		matched := p.receivedStatus == status
		payload := p.receivedPayload
		p.mu.Unlock()
		if matched {
			fn(payload)
		}
		return p
	}
	p.hooks[status] = append(p.hooks[status], fn)
	p.mu.Unlock()
	return p
}

// OnTimeout registers fn to run if the Push times out. If it already has,
// fn runs immediately.
func (p *Push) OnTimeout(fn func(event string, payload map[string]interface{})) *Push {
	p.mu.Lock()
	if p.timedOut {
		ev, pl := p.event, p.payload
		p.mu.Unlock()
		fn(ev, pl)
		return p
	}
	if p.completed {
		p.mu.Unlock()
		return p
	}
	p.timeoutHooks = append(p.timeoutHooks, fn)
	p.mu.Unlock()
	return p
}

// ArmTimeout starts the timeout clock without sending, used when a Push
// is enqueued into the Channel's push buffer while not yet joined (spec
// §4.2 push()'s "else start the Push's timeout clock and enqueue").
func (p *Push) ArmTimeout() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.armTimeoutLocked()
}

func (p *Push) armTimeoutLocked() {
	if p.timeoutArmed || p.completed || p.timeout <= 0 {
		return
	}
	p.timeoutArmed = true
	p.timeoutCancel = p.channel.socket.clock.AfterFunc(p.timeout, p.fireTimeout)
}

func (p *Push) fireTimeout() {
	p.mu.Lock()
	if p.completed {
		p.mu.Unlock()
		return
	}
	p.completed = true
	p.timedOut = true
	if p.hasRef {
		p.channel.unregisterReply(p.ref)
	}
	hooks := p.timeoutHooks
	ev, pl := p.event, p.payload
	p.mu.Unlock()

	for _, h := range hooks {
		h(ev, pl)
	}
}

// Send allocates a ref (if not already sent), registers the reply
// correlator with the owning Channel, arms the timeout clock if not
// already armed, and writes the frame via the Socket — or buffers it, if
// the Socket isn't open (spec §4.3).
//
// Send returns early without doing anything if the Push already timed
// out; a prior timeout is terminal (spec §4.3).
func (p *Push) Send() {
	p.mu.Lock()
	if p.timedOut {
		p.mu.Unlock()
		return
	}
	if p.channel == nil {
		p.mu.Unlock()
		return
	}
	if !p.hasRef {
		ref := p.channel.socket.MakeRef()
		p.ref = ref
		p.hasRef = true
		p.refEvent = "chan_reply_" + ref
		p.channel.registerReply(ref, p.handleReply)
	}
	p.armTimeoutLocked()
	ref, event, payload := p.ref, p.event, p.payload
	p.mu.Unlock()

	p.channel.socket.push(p.channel.Topic(), event, payload, ref, p.channel.JoinRef())
}

// Resend clears any prior outcome and re-sends with a fresh ref. (Channel.Rejoin
// does not call it; it builds a new join Push instead.)
func (p *Push) Resend(timeout time.Duration) {
	p.Reset()
	if timeout > 0 {
		p.mu.Lock()
		p.timeout = timeout
		p.mu.Unlock()
	}
	p.Send()
}

// Reset clears ref, ref_event, and any received reply, cancelling an
// in-flight timeout (spec §4.3).
func (p *Push) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
}

func (p *Push) resetLocked() {
	if p.hasRef {
		p.channel.unregisterReply(p.ref)
	}
	if p.timeoutCancel != nil {
		p.timeoutCancel()
		p.timeoutCancel = nil
	}
	p.ref = ""
	p.hasRef = false
	p.refEvent = ""
	p.receivedStatus = ""
	p.receivedPayload = nil
	p.completed = false
	p.timedOut = false
	p.timeoutArmed = false
}

// Trigger synthesizes a local reply, used to complete a leave Push when
// the Channel wasn't pushable (spec §4.3, §9). The first completion wins:
// if a real reply for the same ref arrives afterward, handleReply's
// completed guard discards it.
func (p *Push) Trigger(status string, payload map[string]interface{}) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	msg := message.Message{
		Ref:   p.Ref(),
		Event: message.EventReply,
		Payload: map[string]interface{}{
			"status":   status,
			"response": payload,
		},
	}
	p.handleReply(msg)
}

// handleReply completes the Push from an inbound phx_reply frame, or from
// Trigger. The first completion (reply or timeout) wins.
func (p *Push) handleReply(msg message.Message) {
	p.mu.Lock()
	if p.completed {
		p.mu.Unlock()
		return
	}
	status, _ := msg.ReplyStatus()
	resp := msg.ReplyResponse()

	p.completed = true
	p.receivedStatus = status
	p.receivedPayload = resp
	cancel := p.timeoutCancel
	p.timeoutCancel = nil
	hooks := append([]func(map[string]interface{}){}, p.hooks[status]...)
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, h := range hooks {
		h(resp)
	}
}
