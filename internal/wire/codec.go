package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"
)

// FrameType mirrors the WebSocket opcodes the codec understands.
type FrameType int

const (
	FrameText   FrameType = 1
	FrameBinary FrameType = 2
)

func (f FrameType) String() string {
	switch f {
	case FrameText:
		return "text"
	case FrameBinary:
		return "binary"
	default:
		return fmt.Sprintf("frame(%d)", int(f))
	}
}

// DecodeError reports a frame that cannot be turned into an Envelope.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return "wire: " + e.Reason + ": " + e.Err.Error()
	}
	return "wire: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

var cborDec = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

// Decode parses one frame. Structural problems (not an object, missing type)
// return *DecodeError; an unparseable timestamp is dropped instead.
func Decode(ft FrameType, data []byte) (Envelope, error) {
	switch ft {
	case FrameText:
		return decodeJSON(data)
	case FrameBinary:
		trimmed := bytes.TrimSpace(data)
		if utf8.Valid(trimmed) && json.Valid(trimmed) {
			return decodeJSON(trimmed)
		}
		var v any
		if err := cborDec.Unmarshal(data, &v); err != nil {
			return Envelope{}, &DecodeError{Reason: "binary frame is neither json nor cbor", Err: err}
		}
		js, err := json.Marshal(v)
		if err != nil {
			return Envelope{}, &DecodeError{Reason: "cbor frame not representable as json", Err: err}
		}
		return decodeJSON(js)
	default:
		return Envelope{}, &DecodeError{Reason: "unsupported " + ft.String()}
	}
}

func decodeJSON(data []byte) (Envelope, error) {
	var raw struct {
		Type      *string         `json:"type"`
		Payload   json.RawMessage `json:"payload"`
		Data      json.RawMessage `json:"data"`
		Timestamp json.RawMessage `json:"timestamp"`
		Sender    *Sender         `json:"sender"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return Envelope{}, &DecodeError{Reason: "malformed json envelope", Err: err}
	}
	if dec.More() {
		return Envelope{}, &DecodeError{Reason: "trailing data after envelope"}
	}
	if raw.Type == nil {
		return Envelope{}, &DecodeError{Reason: "missing type"}
	}
	typ := strings.TrimSpace(*raw.Type)
	if typ == "" {
		return Envelope{}, &DecodeError{Reason: "empty type"}
	}

	env := Envelope{Type: Kind(typ), Sender: raw.Sender}
	switch {
	case len(raw.Payload) > 0:
		env.Payload = raw.Payload
	case len(raw.Data) > 0:
		env.Payload = raw.Data
	}
	env.Timestamp = parseTimestamp(raw.Timestamp)
	return env, nil
}

func parseTimestamp(raw json.RawMessage) *time.Time {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
		if err != nil {
			return nil
		}
		return &t
	}
	var ms float64
	if err := json.Unmarshal(raw, &ms); err == nil && ms > 0 {
		t := time.UnixMilli(int64(ms)).UTC()
		return &t
	}
	return nil
}

// Encode builds a text frame for eventType, stamped with the current time.
func Encode(eventType Kind, payload any) ([]byte, error) {
	env, err := NewEnvelope(eventType, payload, time.Now())
	if err != nil {
		return nil, err
	}
	return EncodeEnvelope(env)
}

// NewEnvelope marshals payload and stamps ts (UTC, second precision).
func NewEnvelope(eventType Kind, payload any, ts time.Time) (Envelope, error) {
	if strings.TrimSpace(string(eventType)) == "" {
		return Envelope{}, fmt.Errorf("wire: empty event type")
	}
	env := Envelope{Type: eventType}
	if payload != nil {
		switch p := payload.(type) {
		case json.RawMessage:
			env.Payload = p
		default:
			b, err := json.Marshal(payload)
			if err != nil {
				return Envelope{}, fmt.Errorf("wire: marshal %s payload: %w", eventType, err)
			}
			env.Payload = b
		}
	}
	t := ts.UTC().Truncate(time.Second)
	env.Timestamp = &t
	return env, nil
}

// EncodeEnvelope renders env as a JSON text frame.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	if env.Type == "" {
		return nil, fmt.Errorf("wire: empty event type")
	}
	return json.Marshal(env)
}

// EncodeCBOR renders env for peers that speak binary frames.
func EncodeCBOR(env Envelope) ([]byte, error) {
	js, err := EncodeEnvelope(env)
	if err != nil {
		return nil, err
	}
	var generic map[string]any
	if err := json.Unmarshal(js, &generic); err != nil {
		return nil, err
	}
	return cbor.Marshal(generic)
}
