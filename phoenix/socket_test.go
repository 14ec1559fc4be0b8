package phoenix

import (
	"strings"
	"testing"
	"time"

	"github.com/eshe-huli/phoenixgo/params"
	"github.com/eshe-huli/phoenixgo/transport"
)

func TestBuildEndpointURLSetsVSNAndParams(t *testing.T) {
	hub := &fakeTransportHub{}
	s := New("http://example.test/socket", hub.factory(),
		WithVSN("2.0.0"),
		WithStaticParams(map[string]string{"token": "abc"}),
	)

	u, err := s.buildEndpointURL()
	if err != nil {
		t.Fatalf("buildEndpointURL: %v", err)
	}
	if !strings.Contains(u, "/socket/websocket") {
		t.Fatalf("expected /websocket path segment, got %s", u)
	}
	if !strings.Contains(u, "vsn=2.0.0") {
		t.Fatalf("expected vsn query param, got %s", u)
	}
	if !strings.Contains(u, "token=abc") {
		t.Fatalf("expected params provider merged in, got %s", u)
	}
}

func TestBuildEndpointURLPropagatesProviderError(t *testing.T) {
	hub := &fakeTransportHub{}
	boom := params.Func(func() (map[string]string, error) { return nil, errBoom })
	s := New("http://example.test/socket", hub.factory(), WithParamsProvider(boom))

	if _, err := s.buildEndpointURL(); err == nil {
		t.Fatalf("expected params provider error to propagate")
	}
}

func TestMakeRefIncrementsMonotonically(t *testing.T) {
	hub := &fakeTransportHub{}
	s := New("http://example.test/socket", hub.factory())

	a := s.MakeRef()
	b := s.MakeRef()
	if a != "1" || b != "2" {
		t.Fatalf("expected refs 1 then 2, got %s then %s", a, b)
	}
}

func TestConnectIsNoopWhenAlreadyOpen(t *testing.T) {
	clock := newFakeClock()
	s, hub := newTestSocketAndTransport(t, clock)
	first := hub.current()

	if err := s.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if hub.current() != first {
		t.Fatalf("expected Connect to be a no-op while already open")
	}
}

func TestOnCloseSchedulesReconnectOnAbnormalClose(t *testing.T) {
	clock := newFakeClock()
	_, hub := newTestSocketAndTransport(t, clock)

	tr := hub.current()
	_ = tr.Disconnect(1006, "abnormal")

	sentinel := hub.current()
	clock.advance(10 * time.Millisecond)
	if hub.current() == sentinel {
		t.Fatalf("expected a new transport to be created by the scheduled reconnect")
	}
}

func TestDisconnectDoesNotScheduleReconnect(t *testing.T) {
	clock := newFakeClock()
	s, hub := newTestSocketAndTransport(t, clock)

	if err := s.Disconnect(transport.CloseNormal, "bye", nil); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	clock.advance(time.Minute)
	// A second Connect should build a fresh transport deliberately; the
	// absence of one firing on its own after a clean Disconnect is what's
	// under test, so we assert the socket is still disconnected without it.
	if s.IsConnected() {
		t.Fatalf("expected socket to remain disconnected after a clean Disconnect")
	}
}

func TestHeartbeatTimeoutMarksAbnormalAndDisconnects(t *testing.T) {
	clock := newFakeClock()
	hub := &fakeTransportHub{}
	s := New("http://example.test/socket", hub.factory(),
		WithClock(clock), WithHeartbeatInterval(time.Second))
	if err := s.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var closed []CloseEvent
	s.OnSocketClose(func(ev CloseEvent) { closed = append(closed, ev) })

	clock.advance(time.Second) // first heartbeat sent, awaiting ack
	clock.advance(time.Second) // second tick: no ack received -> abnormal disconnect

	if len(closed) == 0 {
		t.Fatalf("expected OnClose to fire after heartbeat timeout")
	}
	if closed[0].Status != closeAbnormal {
		t.Fatalf("expected abnormal close status, got %v", closed[0].Status)
	}
}

func TestSendBufferFlushesOnOpen(t *testing.T) {
	clock := newFakeClock()
	hub := &fakeTransportHub{}
	s := New("http://example.test/socket", hub.factory(), WithClock(clock), WithSkipHeartbeat(true))

	ch := s.Channel("room:lobby", nil)
	_ = ch
	s.push("room:lobby", "msg:new", map[string]interface{}{}, "1", "")

	if err := s.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	tr := hub.current()
	if tr.sentCount() == 0 {
		t.Fatalf("expected buffered frame to flush once the transport opens")
	}
}

func TestAckedHeartbeatDoesNotTriggerAbnormalClose(t *testing.T) {
	clock := newFakeClock()
	hub := &fakeTransportHub{}
	s := New("http://example.test/socket", hub.factory(),
		WithClock(clock), WithHeartbeatInterval(time.Second))
	if err := s.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var closed []CloseEvent
	s.OnSocketClose(func(ev CloseEvent) { closed = append(closed, ev) })

	clock.advance(time.Second) // first heartbeat sent with ref "1"
	tr := hub.current()
	tr.deliver(`[null,"1","phoenix","phx_reply",{"status":"ok","response":{}}]`)

	clock.advance(time.Second) // second tick: ack was received, no abnormal close
	if len(closed) != 0 {
		t.Fatalf("expected no close after an acknowledged heartbeat, got %v", closed)
	}
}

var errBoom = &boomError{}

type boomError struct{}

func (*boomError) Error() string { return "boom" }
