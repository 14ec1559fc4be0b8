package phoenix

import "github.com/eshe-huli/phoenixgo/durable"

// durableSendBuffer adapts *durable.Buffer to the sendBuffer interface so
// WithDurableBuffer can swap it in for the in-memory default without the
// rest of Socket knowing the difference.
type durableSendBuffer struct {
	buf *durable.Buffer
}

func (d *durableSendBuffer) Enqueue(ref, topic, event string, frame []byte) error {
	return d.buf.Enqueue(ref, topic, event, frame)
}

func (d *durableSendBuffer) Drain() ([]bufferedFrame, error) {
	entries, err := d.buf.Drain()
	if err != nil {
		return nil, err
	}
	out := make([]bufferedFrame, len(entries))
	for i, e := range entries {
		out[i] = bufferedFrame{ref: e.Ref, topic: e.Topic, event: e.Event, frame: e.Payload}
	}
	return out, nil
}

func (d *durableSendBuffer) RemoveByRef(ref string) error {
	return d.buf.RemoveByRef(ref)
}

func (d *durableSendBuffer) Clear() error {
	return d.buf.Clear()
}
