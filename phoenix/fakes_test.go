package phoenix

import (
	"sync"
	"time"

	"github.com/eshe-huli/phoenixgo/timer"
	"github.com/eshe-huli/phoenixgo/transport"
)

// fakeClock is a virtual clock for deterministic timer-driven tests,
// mirroring timer package's own test double (test-only, per the "fakes
// live in test files" rule).
type fakeClock struct {
	mu      sync.Mutex
	now     time.Duration
	pending []*fakeTask
}

type fakeTask struct {
	deadline time.Duration
	f        func()
	fired    bool
	stopped  bool
}

func newFakeClock() *fakeClock { return &fakeClock{} }

func (c *fakeClock) AfterFunc(d time.Duration, f func()) timer.CancelFunc {
	c.mu.Lock()
	task := &fakeTask{deadline: c.now + d, f: f}
	c.pending = append(c.pending, task)
	c.mu.Unlock()

	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if task.fired || task.stopped {
			return false
		}
		task.stopped = true
		return true
	}
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*fakeTask
	for _, task := range c.pending {
		if !task.fired && !task.stopped && task.deadline <= c.now {
			due = append(due, task)
		}
	}
	c.mu.Unlock()

	for _, task := range due {
		c.mu.Lock()
		if task.fired || task.stopped {
			c.mu.Unlock()
			continue
		}
		task.fired = true
		c.mu.Unlock()
		task.f()
	}
}

// fakeTransport is an in-process transport.Transport double. Connect and
// Disconnect synchronously invoke the delegate, so tests don't need to
// sleep/poll for lifecycle callbacks.
type fakeTransport struct {
	mu       sync.Mutex
	state    transport.ReadyState
	delegate transport.Delegate
	sent     [][]byte
	sendErr  error
}

// fakeTransportHub records the most recently constructed fakeTransport so
// a test can reach into it after calling Socket.Connect.
type fakeTransportHub struct {
	mu   sync.Mutex
	last *fakeTransport
}

func (h *fakeTransportHub) factory() func(endpoint string, delegate transport.Delegate) transport.Transport {
	return func(endpoint string, delegate transport.Delegate) transport.Transport {
		t := &fakeTransport{delegate: delegate, state: transport.Connecting}
		h.mu.Lock()
		h.last = t
		h.mu.Unlock()
		return t
	}
}

func (h *fakeTransportHub) current() *fakeTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

func (t *fakeTransport) Connect() error {
	t.mu.Lock()
	t.state = transport.Open
	d := t.delegate
	t.mu.Unlock()
	d.OnOpen()
	return nil
}

func (t *fakeTransport) Disconnect(code int, reason string) error {
	t.mu.Lock()
	t.state = transport.Closing
	d := t.delegate
	t.mu.Unlock()
	d.OnClose(code)
	t.mu.Lock()
	t.state = transport.Closed
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, data)
	return nil
}

func (t *fakeTransport) ReadyState() transport.ReadyState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *fakeTransport) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

func (t *fakeTransport) lastSent() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sent) == 0 {
		return nil
	}
	return t.sent[len(t.sent)-1]
}

// deliver decodes/dispatches an inbound frame as if the peer had sent it,
// skipping the transport's own encode round-trip.
func (t *fakeTransport) deliver(text string) {
	t.mu.Lock()
	d := t.delegate
	t.mu.Unlock()
	d.OnMessage(text)
}
