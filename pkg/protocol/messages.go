package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

var (
	ErrNotObject   = errors.New("message is not a JSON object")
	ErrMissingType = errors.New("message has no type")
)

// Message is a tagged request or reply. The field set depends on the type,
// so it stays a loosely typed object with typed accessors.
type Message map[string]any

// DecodeMessage parses a text frame. Numbers are kept as json.Number so that
// request ids are echoed back exactly as the client sent them.
func DecodeMessage(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}

	msg := Message(obj)
	if _, ok := msg.String(FieldType); !ok {
		return nil, ErrMissingType
	}
	return msg, nil
}

// Encode serializes the message as a JSON text frame
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(map[string]any(m))
}

// Type returns the type tag, or TypeInvalid when absent
func (m Message) Type() string {
	if t, ok := m.String(FieldType); ok {
		return t
	}
	return TypeInvalid
}

// RequestID returns the raw request id value as supplied by the client
func (m Message) RequestID() (any, bool) {
	v, ok := m[FieldRequestID]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// RequestID32 returns the request id as the unsigned 32-bit value used by binary frames
func (m Message) RequestID32() (uint32, bool) {
	n, ok := m.Int64(FieldRequestID)
	if !ok || n < 0 || n > math.MaxUint32 {
		return 0, false
	}
	return uint32(n), true
}

// WithRequestID attaches a request id to the message and returns it
func (m Message) WithRequestID(id any) Message {
	if m != nil && id != nil {
		m[FieldRequestID] = id
	}
	return m
}

// String returns a string field
func (m Message) String(key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// StringOr returns a string field or def when absent or not a string
func (m Message) StringOr(key, def string) string {
	if s, ok := m.String(key); ok {
		return s
	}
	return def
}

// Int64 returns an integer field. Accepts JSON numbers and the Go integer
// types used by server-synthesized messages.
func (m Message) Int64(key string) (int64, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false
	}

	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := strconv.ParseFloat(string(n), 64)
		if err != nil {
			return 0, false
		}
		return floatToInt64(f)
	case float64:
		return floatToInt64(n)
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	default:
		return 0, false
	}
}

// floatToInt64 accepts only whole values inside the int64 range.
// 2^63 is exactly representable, so the upper bound is exclusive.
func floatToInt64(f float64) (int64, bool) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// Bytes returns a binary payload field
func (m Message) Bytes(key string) ([]byte, bool) {
	v, ok := m[key]
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

// NewMessage creates a message of the given type
func NewMessage(msgType string) Message {
	return Message{FieldType: msgType}
}

// Errorf builds an error reply with a human-readable reason
func Errorf(format string, args ...any) Message {
	return Message{FieldType: TypeError, FieldReason: fmt.Sprintf(format, args...)}
}

// AuthFailure builds an auth failure reply
func AuthFailure(reason string) Message {
	return Message{FieldType: TypeAuthFailure, FieldReason: reason}
}
