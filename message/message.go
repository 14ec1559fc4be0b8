// Package message implements the Phoenix Channels serializer v2 wire frame:
// a 5-element JSON array of (join_ref, ref, topic, event, payload).
package message

import (
	"encoding/json"
	"fmt"
)

// Reserved lifecycle events, per spec §3.
const (
	EventJoin  = "phx_join"
	EventLeave = "phx_leave"
	EventReply = "phx_reply"
	EventError = "phx_error"
	EventClose = "phx_close"
	EventHeartbeat = "heartbeat"
)

// Reply payload status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// HeartbeatTopic is the pseudo-topic heartbeats are sent on.
const HeartbeatTopic = "phoenix"

// Message is the 5-tuple wire frame described in spec §3 and §6.
type Message struct {
	JoinRef string
	Ref     string
	Topic   string
	Event   string
	Payload map[string]interface{}

	// hasJoinRef/hasRef distinguish an empty string ref from an absent
	// (JSON null) one, since "" is a legal-looking but never-issued ref.
	hasJoinRef bool
	hasRef     bool
}

// NewMessage builds a frame. join_ref/ref are treated as present iff
// non-empty, so an empty joinRef yields a frame with an absent join_ref;
// NewHeartbeat builds the heartbeat frame.
func NewMessage(joinRef, ref, topic, event string, payload map[string]interface{}) Message {
	return Message{
		JoinRef: joinRef, Ref: ref, Topic: topic, Event: event, Payload: payload,
		hasJoinRef: joinRef != "",
		hasRef:     ref != "",
	}
}

// NewHeartbeat builds the periodic phoenix/heartbeat frame (no join_ref).
func NewHeartbeat(ref string) Message {
	return Message{
		Ref: ref, Topic: HeartbeatTopic, Event: EventHeartbeat,
		Payload: map[string]interface{}{},
		hasRef:  ref != "",
	}
}

// HasJoinRef reports whether the frame carries a non-null join_ref.
func (m Message) HasJoinRef() bool { return m.hasJoinRef }

// HasRef reports whether the frame carries a non-null ref.
func (m Message) HasRef() bool { return m.hasRef }

// IsReply reports whether this is a phx_reply frame.
func (m Message) IsReply() bool { return m.Event == EventReply }

// IsLifecycle reports whether Event is one of the reserved lifecycle events.
func (m Message) IsLifecycle() bool {
	switch m.Event {
	case EventJoin, EventLeave, EventReply, EventError, EventClose:
		return true
	default:
		return false
	}
}

// ReplyStatus extracts the "status" field of a reply payload, if present.
func (m Message) ReplyStatus() (string, bool) {
	if m.Payload == nil {
		return "", false
	}
	s, ok := m.Payload["status"].(string)
	return s, ok
}

// ReplyResponse extracts and flattens the "response" field of a reply
// payload into a standalone map, per spec §6 ("flatten response into the
// user-visible payload while preserving status").
func (m Message) ReplyResponse() map[string]interface{} {
	if m.Payload == nil {
		return map[string]interface{}{}
	}
	resp, ok := m.Payload["response"].(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	return resp
}

// Encode marshals the frame to its wire form: a 5-element JSON array.
func Encode(m Message) ([]byte, error) {
	payload := m.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}

	var joinRef, ref interface{}
	if m.hasJoinRef {
		joinRef = m.JoinRef
	}
	if m.hasRef {
		ref = m.Ref
	}

	arr := [5]interface{}{joinRef, ref, m.Topic, m.Event, payload}
	b, err := json.Marshal(arr)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return b, nil
}

// Decode unmarshals a wire frame. It returns an error for anything that is
// not a well-formed 5-element array. It does not check the phx_reply
// invariant (a non-null ref and a status field): a peer can still send a
// mismatched reply frame, and callers that need the guarantee validate it
// themselves.
func Decode(data []byte) (Message, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Message{}, fmt.Errorf("decode message: not a 5-tuple: %w", err)
	}
	if len(raw) != 5 {
		return Message{}, fmt.Errorf("decode message: not a 5-tuple: got %d elements", len(raw))
	}

	var m Message

	if err := decodeOptionalString(raw[0], &m.JoinRef, &m.hasJoinRef); err != nil {
		return Message{}, fmt.Errorf("decode join_ref: %w", err)
	}
	if err := decodeOptionalString(raw[1], &m.Ref, &m.hasRef); err != nil {
		return Message{}, fmt.Errorf("decode ref: %w", err)
	}
	if err := json.Unmarshal(raw[2], &m.Topic); err != nil {
		return Message{}, fmt.Errorf("decode topic: %w", err)
	}
	if err := json.Unmarshal(raw[3], &m.Event); err != nil {
		return Message{}, fmt.Errorf("decode event: %w", err)
	}
	if len(raw[4]) > 0 {
		if err := json.Unmarshal(raw[4], &m.Payload); err != nil {
			return Message{}, fmt.Errorf("decode payload: %w", err)
		}
	}
	if m.Payload == nil {
		m.Payload = map[string]interface{}{}
	}

	return m, nil
}

func decodeOptionalString(raw json.RawMessage, dst *string, has *bool) error {
	if len(raw) == 0 || string(raw) == "null" {
		*has = false
		*dst = ""
		return nil
	}
	*has = true
	return json.Unmarshal(raw, dst)
}
