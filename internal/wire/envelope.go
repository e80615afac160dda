// Package wire is the envelope codec for the real-time maintenance channel.
//
// Every frame is one JSON object:
//
//	{"type": "...", "payload": {...}, "timestamp": "RFC3339", "sender": {...}}
//
// Older server paths send "data" instead of "payload"; both are accepted.
// Binary frames carry the same object either as UTF-8 JSON or as CBOR.
package wire

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Envelope is the unit exchanged over the connection. Payload is kept raw;
// Event and Fields give typed and generic views of it.
type Envelope struct {
	Type      Kind            `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
	Sender    *Sender         `json:"sender,omitempty"`
}

// Sender identifies the principal that caused a server broadcast.
type Sender struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role,omitempty"`
}

func (s *Sender) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID       FlexInt `json:"id"`
		UserID   FlexInt `json:"userId"`
		Username string  `json:"username"`
		Name     string  `json:"name"`
		Role     string  `json:"role"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	s.ID = int64(raw.ID)
	if s.ID == 0 {
		s.ID = int64(raw.UserID)
	}
	s.Username = raw.Username
	if s.Username == "" {
		s.Username = raw.Name
	}
	s.Role = raw.Role
	return nil
}

// Fields decodes the payload into a generic map. Non-object payloads yield
// an empty map; numbers decode as float64.
func (e Envelope) Fields() map[string]any {
	out := map[string]any{}
	if len(e.Payload) == 0 {
		return out
	}
	var m map[string]any
	if err := json.Unmarshal(e.Payload, &m); err != nil || m == nil {
		return out
	}
	return m
}

// HasPayload reports whether the payload is present and not JSON null.
func (e Envelope) HasPayload() bool {
	p := bytes.TrimSpace(e.Payload)
	return len(p) > 0 && !bytes.Equal(p, []byte("null"))
}

// Time returns the envelope timestamp or fallback when it is absent.
func (e Envelope) Time(fallback time.Time) time.Time {
	if e.Timestamp != nil && !e.Timestamp.IsZero() {
		return *e.Timestamp
	}
	return fallback
}

// FlexInt accepts a JSON number or a numeric string. Anything else reads as 0.
type FlexInt int64

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = FlexInt(n)
	return nil
}

// FlexString accepts a JSON string or number and keeps its text.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	*f = FlexString(b)
	return nil
}
