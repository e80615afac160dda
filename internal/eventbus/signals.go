package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Lifecycle signal types.
const (
	SignalConnecting         = "conn.connecting"
	SignalOpened             = "conn.opened"
	SignalClosed             = "conn.closed"
	SignalReconnectScheduled = "conn.reconnect_scheduled"
	SignalDecodeError        = "conn.decode_error"
	SignalInboxAppended      = "inbox.appended"
	SignalInboxSuppressed    = "inbox.suppressed"
	SignalSubscriberFault    = "dispatch.subscriber_fault"
)

// Signal is a small in-process lifecycle notice (connection state changes,
// inbox admissions). It is separate from the envelope Registry so that
// observers of the client itself never see server traffic.
//
// Contract:
//   - Publish never blocks.
//   - Subscribers get buffered channels; a slow subscriber drops signals.
type Signal struct {
	Type string
	Time time.Time
	Data any
}

// ClosedInfo is the Data of SignalClosed.
type ClosedInfo struct {
	Code   int
	Reason string
}

// ReconnectInfo is the Data of SignalReconnectScheduled.
type ReconnectInfo struct {
	Attempt int
	Delay   time.Duration
}

type Signals struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Signal
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func NewSignals() *Signals {
	return &Signals{subs: map[uint64]chan Signal{}}
}

// Publish is a no-op on a nil receiver so components can run without one.
func (s *Signals) Publish(sig Signal) {
	if s == nil {
		return
	}
	if sig.Time.IsZero() {
		sig.Time = time.Now()
	}
	s.mu.RLock()
	chs := make([]chan Signal, 0, len(s.subs))
	for _, ch := range s.subs {
		chs = append(chs, ch)
	}
	s.mu.RUnlock()

	for _, ch := range chs {
		func() {
			// The channel may be closed by a concurrent unsubscribe.
			defer func() { _ = recover() }()
			select {
			case ch <- sig:
			default:
				s.dropped.Add(1)
			}
		}()
	}
}

// Emit is Publish with the current time.
func (s *Signals) Emit(typ string, data any) {
	s.Publish(Signal{Type: typ, Time: time.Now(), Data: data})
}

func (s *Signals) Subscribe(buffer int) (<-chan Signal, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Signal, buffer)
	id := s.seq.Add(1)

	s.mu.Lock()
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Dropped counts signals lost to full subscriber buffers.
func (s *Signals) Dropped() uint64 {
	if s == nil {
		return 0
	}
	return s.dropped.Load()
}
