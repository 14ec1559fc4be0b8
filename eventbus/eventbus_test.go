package eventbus

import "testing"

func TestSubscribeEmitOrder(t *testing.T) {
	b := New[int]()
	var got []string
	b.Subscribe(func(v int) { got = append(got, "a") })
	b.Subscribe(func(v int) { got = append(got, "b") })

	b.Emit(1)

	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New[string]()
	count := 0
	id := b.Subscribe(func(string) { count++ })

	b.Emit("x")
	b.Unsubscribe(id)
	b.Emit("x")

	if count != 1 {
		t.Fatalf("expected 1 delivery, got %d", count)
	}
}

func TestUnsubscribeUnknownIsNoop(t *testing.T) {
	b := New[int]()
	id := b.Subscribe(func(int) {})
	b.Unsubscribe(id)
	b.Unsubscribe(id) // second call: no-op, must not panic
}

func TestClearRemovesAllListeners(t *testing.T) {
	b := New[int]()
	b.Subscribe(func(int) {})
	b.Subscribe(func(int) {})
	b.Clear()
	if b.Len() != 0 {
		t.Fatalf("expected 0 listeners after Clear, got %d", b.Len())
	}
}

func TestIndependentSubscriptions(t *testing.T) {
	b := New[int]()
	var aCalls, bCalls int
	idA := b.Subscribe(func(int) { aCalls++ })
	b.Subscribe(func(int) { bCalls++ })

	b.Unsubscribe(idA)
	b.Emit(1)

	if aCalls != 0 {
		t.Fatalf("expected a's subscription cancelled independently, got %d calls", aCalls)
	}
	if bCalls != 1 {
		t.Fatalf("expected b still delivered, got %d", bCalls)
	}
}
