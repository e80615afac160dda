package inbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"maintwatch/internal/priority"
)

// Type is the presentation class of a notification.
type Type string

const (
	TypeInfo         Type = "info"
	TypeSuccess      Type = "success"
	TypeWarning      Type = "warning"
	TypeError        Type = "error"
	TypeUserActivity Type = "user-activity"
)

// Notification is one classified, persisted event. Only Read changes after
// creation.
type Notification struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Type      Type           `json:"type"`
	Priority  priority.Tier  `json:"priority"`
	Timestamp time.Time      `json:"timestamp"`
	Read      bool           `json:"read"`
	Category  string         `json:"category"`
	Source    string         `json:"source"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Urgent reports whether n counts towards the bell badge.
func (n Notification) Urgent() bool {
	return !n.Read && (n.Priority == priority.Critical || n.Priority == priority.High)
}

// UnmarshalJSON accepts timestamps as RFC3339 text or unix milliseconds,
// which is how records written by older clients store them.
func (n *Notification) UnmarshalJSON(b []byte) error {
	type plain Notification
	var raw struct {
		plain
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*n = Notification(raw.plain)
	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return err
	}
	n.Timestamp = ts
	return nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, errors.New("missing timestamp")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		s = strings.TrimSpace(s)
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t, nil
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms), nil
		}
		return time.Time{}, errors.New("unparseable timestamp " + strconv.Quote(s))
	}
	var ms float64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(int64(ms)), nil
}

func (n *Notification) Validate() error {
	if strings.TrimSpace(n.ID) == "" {
		return errors.New("notification without id")
	}
	if !n.Priority.Valid() {
		return priority.ErrUnknownTier
	}
	if n.Timestamp.IsZero() {
		return errors.New("notification without timestamp")
	}
	if n.Type == "" {
		n.Type = TypeInfo
	}
	return nil
}

// Filter narrows List results. The zero value matches everything.
type Filter struct {
	MinPriority priority.Tier
	UnreadOnly  bool
	Category    string
	Limit       int
}

func (f Filter) match(n Notification) bool {
	if f.MinPriority != "" && !n.Priority.Admits(f.MinPriority) {
		return false
	}
	if f.UnreadOnly && n.Read {
		return false
	}
	if f.Category != "" && !strings.EqualFold(f.Category, n.Category) {
		return false
	}
	return true
}
