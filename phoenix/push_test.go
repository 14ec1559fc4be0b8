package phoenix

import (
	"testing"
	"time"

	"github.com/eshe-huli/phoenixgo/message"
)

func newTestSocketAndTransport(t *testing.T, clock *fakeClock) (*Socket, *fakeTransportHub) {
	t.Helper()
	hub := &fakeTransportHub{}
	s := New("http://example.test/socket", hub.factory(), WithClock(clock), WithSkipHeartbeat(true))
	if err := s.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return s, hub
}

func joinChannel(t *testing.T, s *Socket, hub *fakeTransportHub, topic string) *Channel {
	t.Helper()
	ch := s.Channel(topic, nil)
	ch.Join(0)
	tr := hub.current()
	joinRef := ch.joinPushRefForTest()
	tr.deliver(mustEncode(t, message.NewMessage(joinRef, joinRef, topic, message.EventReply, map[string]interface{}{
		"status":   message.StatusOK,
		"response": map[string]interface{}{},
	})))
	return ch
}

func mustEncode(t *testing.T, m message.Message) string {
	t.Helper()
	b, err := message.Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return string(b)
}

// joinPushRefForTest exposes the join push's ref for tests that need to
// synthesize a matching reply frame.
func (ch *Channel) joinPushRefForTest() string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.joinPush == nil {
		return ""
	}
	return ch.joinPush.Ref()
}

func TestPushSendWritesFrameAndReceiveFiresOnReply(t *testing.T) {
	clock := newFakeClock()
	s, hub := newTestSocketAndTransport(t, clock)
	ch := joinChannel(t, s, hub, "room:lobby")

	var gotPayload map[string]interface{}
	p, err := ch.Push("msg:new", map[string]interface{}{"body": "hi"}, time.Second)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	p.Receive(message.StatusOK, func(payload map[string]interface{}) { gotPayload = payload })

	tr := hub.current()
	if tr.sentCount() == 0 {
		t.Fatalf("expected a frame to be sent")
	}
	ref := p.Ref()
	tr.deliver(mustEncode(t, message.NewMessage(ch.JoinRef(), ref, "room:lobby", message.EventReply, map[string]interface{}{
		"status":   message.StatusOK,
		"response": map[string]interface{}{"echo": "hi"},
	})))

	if gotPayload == nil || gotPayload["echo"] != "hi" {
		t.Fatalf("Receive hook did not fire with expected payload, got %v", gotPayload)
	}
}

func TestPushReceiveFiresImmediatelyWhenAlreadyCompleted(t *testing.T) {
	clock := newFakeClock()
	s, hub := newTestSocketAndTransport(t, clock)
	ch := joinChannel(t, s, hub, "room:lobby")

	p, _ := ch.Push("msg:new", nil, time.Second)
	p.Trigger(message.StatusOK, map[string]interface{}{"a": 1})

	fired := false
	p.Receive(message.StatusOK, func(map[string]interface{}) { fired = true })
	if !fired {
		t.Fatalf("expected immediate fire for already-completed push")
	}
}

func TestPushTimeoutFiresOnTimeoutHooks(t *testing.T) {
	clock := newFakeClock()
	s, hub := newTestSocketAndTransport(t, clock)
	ch := joinChannel(t, s, hub, "room:lobby")

	p, _ := ch.Push("msg:new", nil, 5*time.Second)
	timedOut := false
	p.OnTimeout(func(string, map[string]interface{}) { timedOut = true })

	clock.advance(5 * time.Second)
	if !timedOut {
		t.Fatalf("expected OnTimeout hook to fire after timeout elapses")
	}
}

func TestPushFirstCompletionWinsTimeoutThenReplyIgnored(t *testing.T) {
	clock := newFakeClock()
	s, hub := newTestSocketAndTransport(t, clock)
	ch := joinChannel(t, s, hub, "room:lobby")

	p, _ := ch.Push("msg:new", nil, time.Second)
	var okFired, timeoutFired int
	p.Receive(message.StatusOK, func(map[string]interface{}) { okFired++ })
	p.OnTimeout(func(string, map[string]interface{}) { timeoutFired++ })

	clock.advance(time.Second)
	ref := p.Ref()
	tr := hub.current()
	tr.deliver(mustEncode(t, message.NewMessage(ch.JoinRef(), ref, "room:lobby", message.EventReply, map[string]interface{}{
		"status":   message.StatusOK,
		"response": map[string]interface{}{},
	})))

	if timeoutFired != 1 || okFired != 0 {
		t.Fatalf("expected timeout to win exclusively, got timeoutFired=%d okFired=%d", timeoutFired, okFired)
	}
}

func TestPushResetClearsRefAndCancelsTimeout(t *testing.T) {
	clock := newFakeClock()
	s, hub := newTestSocketAndTransport(t, clock)
	ch := joinChannel(t, s, hub, "room:lobby")

	p, _ := ch.Push("msg:new", nil, 5*time.Second)
	firstRef := p.Ref()

	var timeoutCount int
	p.OnTimeout(func(string, map[string]interface{}) { timeoutCount++ })

	p.Reset()
	if p.Ref() != "" {
		t.Fatalf("expected ref cleared after Reset")
	}
	clock.advance(5 * time.Second)
	if timeoutCount != 0 {
		t.Fatalf("Reset should have cancelled the original timeout clock, got %d fires", timeoutCount)
	}

	p.Send()
	if p.Ref() == firstRef || p.Ref() == "" {
		t.Fatalf("expected a fresh ref on resend, got %q (first was %q)", p.Ref(), firstRef)
	}
	clock.advance(5 * time.Second)
	if timeoutCount != 1 {
		t.Fatalf("expected the resent push's own timeout to fire once, got %d", timeoutCount)
	}
}
