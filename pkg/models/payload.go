package models

import (
	"encoding/json"
	"math"
)

// Payload is the typed view of an event's Data. Known event types decode
// into their own struct; anything else becomes UnknownPayload so newer
// server event types are kept rather than rejected.
type Payload interface {
	EventType() string
	data() map[string]any
}

type MessageCreated struct {
	Content string
}

type MessageEdited struct {
	MessageID string
	Content   string
}

type MessageRecalled struct {
	MessageID string
}

type ReadUpdated struct {
	LastReadSeq int64
}

type UnknownPayload struct {
	Type string
	Raw  map[string]any
}

func (MessageCreated) EventType() string  { return TypeMessageCreated }
func (MessageEdited) EventType() string   { return TypeMessageEdited }
func (MessageRecalled) EventType() string { return TypeMessageRecalled }
func (ReadUpdated) EventType() string     { return TypeReadUpdated }
func (p UnknownPayload) EventType() string {
	return p.Type
}

func (p MessageCreated) data() map[string]any {
	return map[string]any{"content": p.Content}
}

func (p MessageEdited) data() map[string]any {
	return map[string]any{"message_id": p.MessageID, "content": p.Content}
}

func (p MessageRecalled) data() map[string]any {
	return map[string]any{"message_id": p.MessageID}
}

func (p ReadUpdated) data() map[string]any {
	return map[string]any{"last_read_seq": p.LastReadSeq}
}

func (p UnknownPayload) data() map[string]any {
	out := make(map[string]any, len(p.Raw))
	for k, v := range p.Raw {
		out[k] = v
	}
	return out
}

// EncodePayload returns the wire type tag and data map for p.
func EncodePayload(p Payload) (string, map[string]any) {
	return p.EventType(), p.data()
}

// DecodePayload interprets an event's data according to its type.
func DecodePayload(typ string, data map[string]any) Payload {
	switch typ {
	case TypeMessageCreated:
		return MessageCreated{Content: stringField(data, "content")}
	case TypeMessageEdited:
		return MessageEdited{MessageID: stringField(data, "message_id"), Content: stringField(data, "content")}
	case TypeMessageRecalled:
		return MessageRecalled{MessageID: stringField(data, "message_id")}
	case TypeReadUpdated:
		return ReadUpdated{LastReadSeq: Int64Field(data, "last_read_seq")}
	default:
		return UnknownPayload{Type: typ, Raw: data}
	}
}

// Payload decodes the event's data.
func (e Event) Payload() Payload {
	return DecodePayload(e.Type, e.Data)
}

func stringField(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	s, _ := data[key].(string)
	return s
}

// Int64Field reads an integer that may have been decoded from JSON as a
// float64, json.Number or a native integer.
func Int64Field(data map[string]any, key string) int64 {
	if data == nil {
		return 0
	}
	switch v := data[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case int32:
		return int64(v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return int64(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
