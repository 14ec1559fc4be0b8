package phoenix

import "sync"

// bufferedFrame is one outbound wire frame waiting for the transport to
// open. Frames are stored already-encoded, so flushing is a raw
// transport.Send rather than a re-encode — this is what lets the optional
// durable backend (package durable) persist the exact bytes that were
// scheduled, without needing to know how to re-run the Socket's encode
// callable.
type bufferedFrame struct {
	ref   string
	topic string
	event string
	frame []byte
}

// sendBuffer is the pluggable backend behind Socket's outbound buffer
// (spec §4.1). memSendBuffer is the in-memory FIFO default; package
// durable provides a disk-backed alternative wired in via
// WithDurableBuffer.
type sendBuffer interface {
	Enqueue(ref, topic, event string, frame []byte) error
	Drain() ([]bufferedFrame, error)
	RemoveByRef(ref string) error
	Clear() error
}

// memSendBuffer is the default in-memory FIFO.
type memSendBuffer struct {
	mu      sync.Mutex
	entries []bufferedFrame
}

func newMemSendBuffer() *memSendBuffer {
	return &memSendBuffer{}
}

func (b *memSendBuffer) Enqueue(ref, topic, event string, frame []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, bufferedFrame{ref: ref, topic: topic, event: event, frame: frame})
	return nil
}

func (b *memSendBuffer) Drain() ([]bufferedFrame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]bufferedFrame, len(b.entries))
	copy(out, b.entries)
	return out, nil
}

func (b *memSendBuffer) RemoveByRef(ref string) error {
	if ref == "" {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.entries[:0:0]
	for _, e := range b.entries {
		if e.ref == ref {
			continue
		}
		out = append(out, e)
	}
	b.entries = out
	return nil
}

func (b *memSendBuffer) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = nil
	return nil
}
