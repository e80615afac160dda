// Package ws owns the single WebSocket connection to the maintenance server:
// dialing, identity announcement, reading and decoding frames, serialized
// writes, and reconnecting with exponential backoff.
package ws

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"
)

// State is the connection lifecycle position.
type State int32

const (
	Disconnected State = iota
	Connecting
	Open
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	ErrNotConnected = errors.New("ws: not connected")
	ErrClosed       = errors.New("ws: manager closed")
)

// DeliveryError is returned by Send when a message could not be handed to
// the transport. Callers may surface it; the connection recovers by itself.
type DeliveryError struct {
	Type string
	Err  error
}

func (e *DeliveryError) Error() string {
	return "ws: deliver " + e.Type + ": " + e.Err.Error()
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Identity is the local principal announced after every successful open.
type Identity struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role,omitempty"`
}

func (id *Identity) valid() bool { return id != nil && id.UserID != 0 }

// Backoff computes reconnect delays.
type Backoff struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
	// Jitter is the maximum upward fraction added to a delay.
	Jitter float64
}

func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Multiplier: 1.5, Max: 30 * time.Second, Jitter: 0.1}
}

func (b Backoff) normalized() Backoff {
	d := DefaultBackoff()
	if b.Base <= 0 {
		b.Base = d.Base
	}
	if b.Multiplier < 1 {
		b.Multiplier = d.Multiplier
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Max < b.Base {
		b.Max = b.Base
	}
	if b.Jitter < 0 {
		b.Jitter = 0
	}
	return b
}

// Delay returns the wait after failures consecutive failed attempts:
// min(Base*Multiplier^failures, Max), plus up to Jitter of that, never
// exceeding Max. rnd returns values in [0,1); nil disables jitter.
func (b Backoff) Delay(failures int, rnd func() float64) time.Duration {
	b = b.normalized()
	if failures < 0 {
		failures = 0
	}
	raw := float64(b.Base) * math.Pow(b.Multiplier, float64(failures))
	if raw > float64(b.Max) || math.IsInf(raw, 0) || math.IsNaN(raw) {
		raw = float64(b.Max)
	}
	d := time.Duration(raw)
	if rnd != nil && b.Jitter > 0 {
		d += time.Duration(raw * b.Jitter * rnd())
	}
	if d > b.Max {
		d = b.Max
	}
	return d
}

// Config configures a Manager.
type Config struct {
	URL          string
	Identity     *Identity
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	// PingInterval keeps idle connections alive; zero disables pings.
	PingInterval time.Duration
	Backoff      Backoff
	// ReadLimit caps inbound frame size in bytes.
	ReadLimit int64
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval < 0 {
		c.PingInterval = 0
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
	c.Backoff = c.Backoff.normalized()
	return c
}

// DefaultPath is the server's WebSocket endpoint.
const DefaultPath = "/ws"

// Endpoint turns a configured server address into a ws:// or wss:// URL.
// http(s) schemes are mapped and an empty path becomes DefaultPath.
func Endpoint(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("ws: empty server url")
	}
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("ws: parse server url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("ws: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("ws: server url without host")
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = DefaultPath
	}
	return u.String(), nil
}
