package ws

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"maintwatch/internal/eventbus"
	"maintwatch/internal/wire"
	"maintwatch/pkg/logx"
)

// Publisher receives every decoded inbound envelope, in arrival order, on
// the read goroutine.
type Publisher interface {
	Publish(env wire.Envelope) int
}

// Timer schedules a reconnect. The returned stop func releases it early.
type Timer func(d time.Duration) (<-chan time.Time, func())

func realTimer(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTimer(d)
	return t.C, func() { t.Stop() }
}

type Option func(*Manager)

// WithTimer replaces the reconnect timer (tests).
func WithTimer(t Timer) Option { return func(m *Manager) { m.timer = t } }

// WithRand replaces the jitter source; nil disables jitter.
func WithRand(r func() float64) Option { return func(m *Manager) { m.rnd = r } }

func WithDialer(d *websocket.Dialer) Option { return func(m *Manager) { m.dialer = d } }

func WithHeader(h http.Header) Option { return func(m *Manager) { m.header = h.Clone() } }

// Manager owns at most one socket at a time. It is the handle returned by
// connecting: Run drives it, Send writes through it, Close ends it.
type Manager struct {
	cfg Config
	pub Publisher
	sig *eventbus.Signals
	log logx.Logger

	dialer *websocket.Dialer
	header http.Header
	timer  Timer
	rnd    func() float64

	state    atomic.Int32
	failures atomic.Int64

	mu       sync.Mutex
	conn     *websocket.Conn
	identity *Identity
	closed   bool
	closeCh  chan struct{}

	// wmu serializes writers; gorilla connections allow one at a time.
	wmu sync.Mutex
}

func New(cfg Config, pub Publisher, sig *eventbus.Signals, log logx.Logger, opts ...Option) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:      cfg,
		pub:      pub,
		sig:      sig,
		log:      log.With(logx.String("comp", "ws")),
		dialer:   &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: cfg.DialTimeout},
		timer:    realTimer,
		rnd:      rand.Float64,
		identity: cfg.Identity,
		closeCh:  make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) State() State { return State(m.state.Load()) }

// Attempts returns the number of consecutive failed dials.
func (m *Manager) Attempts() int { return int(m.failures.Load()) }

// SetIdentity changes the principal announced on the next open.
func (m *Manager) SetIdentity(id *Identity) {
	m.mu.Lock()
	if id != nil {
		cp := *id
		id = &cp
	}
	m.identity = id
	m.mu.Unlock()
}

func (m *Manager) setState(s State) {
	prev := State(m.state.Swap(int32(s)))
	if prev != s {
		m.log.Debug("state", logx.String("from", prev.String()), logx.String("to", s.String()))
	}
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Run connects and keeps reconnecting until ctx is done or Close is called.
// Transport failures never end Run.
func (m *Manager) Run(ctx context.Context) error {
	if m.cfg.URL == "" {
		return errors.New("ws: no server url configured")
	}
	defer m.setState(Disconnected)

	for {
		if ctx.Err() != nil || m.isClosed() {
			return nil
		}

		conn, err := m.dial(ctx)
		if err != nil {
			if ctx.Err() != nil || m.isClosed() {
				return nil
			}
			n := m.failures.Add(1)
			m.setState(Disconnected)
			m.log.Warn("connect failed", logx.String("url", m.cfg.URL), logx.Int64("attempt", n), logx.Err(err))
			if !m.wait(ctx, int(n)) {
				return nil
			}
			continue
		}

		m.failures.Store(0)
		code, reason := m.serve(ctx, conn)
		m.sig.Emit(eventbus.SignalClosed, eventbus.ClosedInfo{Code: code, Reason: reason})
		if ctx.Err() != nil || m.isClosed() {
			m.log.Info("connection closed", logx.Int("code", code))
			return nil
		}
		m.log.Warn("connection lost", logx.Int("code", code), logx.String("reason", reason))
		if !m.wait(ctx, 0) {
			return nil
		}
	}
}

// wait sleeps for the backoff delay after failures failed attempts. It
// returns false when the manager should stop instead.
func (m *Manager) wait(ctx context.Context, failures int) bool {
	d := m.cfg.Backoff.Delay(failures, m.rnd)
	m.sig.Emit(eventbus.SignalReconnectScheduled, eventbus.ReconnectInfo{Attempt: failures, Delay: d})
	m.log.Debug("reconnect scheduled", logx.Int("failures", failures), logx.Duration("delay", d))

	ch, stop := m.timer(d)
	defer stop()
	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	case <-m.closeCh:
		return false
	}
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	m.dropConn()
	m.setState(Connecting)
	m.sig.Emit(eventbus.SignalConnecting, m.cfg.URL)

	dctx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	defer cancel()
	conn, resp, err := m.dialer.DialContext(dctx, m.cfg.URL, m.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return nil, ErrClosed
	}
	m.conn = conn
	m.mu.Unlock()
	return conn, nil
}

// dropConn closes any socket left over from a previous attempt.
func (m *Manager) dropConn() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// serve runs one connection to completion and reports how it ended.
func (m *Manager) serve(ctx context.Context, conn *websocket.Conn) (int, string) {
	defer func() {
		m.mu.Lock()
		if m.conn == conn {
			m.conn = nil
		}
		m.mu.Unlock()
		_ = conn.Close()
		m.setState(Disconnected)
	}()

	conn.SetReadLimit(m.cfg.ReadLimit)
	m.mu.Lock()
	id := m.identity
	m.mu.Unlock()
	if id.valid() {
		if err := m.announce(conn, id); err != nil {
			m.log.Warn("identity announce failed", logx.Err(err))
			return websocket.CloseAbnormalClosure, err.Error()
		}
	}

	m.setState(Open)
	m.sig.Emit(eventbus.SignalOpened, m.cfg.URL)
	m.log.Info("connected", logx.String("url", m.cfg.URL))

	done := make(chan struct{})
	defer close(done)
	if m.cfg.PingInterval > 0 {
		m.armReadDeadline(conn)
		conn.SetPongHandler(func(string) error {
			m.armReadDeadline(conn)
			return nil
		})
		go m.pingLoop(conn, done)
	}

	// Unblock the read when the caller's context ends.
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		ft, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return ce.Code, ce.Text
			}
			return websocket.CloseAbnormalClosure, err.Error()
		}
		if m.cfg.PingInterval > 0 {
			m.armReadDeadline(conn)
		}
		m.handleFrame(wire.FrameType(ft), data)
	}
}

func (m *Manager) handleFrame(ft wire.FrameType, data []byte) {
	env, err := wire.Decode(ft, data)
	if err != nil {
		m.log.Warn("dropping undecodable frame", logx.String("frame", ft.String()), logx.Int("bytes", len(data)), logx.Err(err))
		m.sig.Emit(eventbus.SignalDecodeError, err)
		return
	}
	if m.pub != nil {
		m.pub.Publish(env)
	}
}

func (m *Manager) armReadDeadline(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(2 * m.cfg.PingInterval))
}

func (m *Manager) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	t := time.NewTicker(m.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			m.wmu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.cfg.WriteTimeout))
			m.wmu.Unlock()
			if err != nil {
				m.log.Debug("ping failed", logx.Err(err))
				_ = conn.Close()
				return
			}
		}
	}
}

func (m *Manager) announce(conn *websocket.Conn, id *Identity) error {
	frame, err := wire.Encode(wire.KindUserLoggedIn, id)
	if err != nil {
		return err
	}
	return m.write(conn, frame, time.Now().Add(m.cfg.WriteTimeout))
}

func (m *Manager) write(conn *websocket.Conn, frame []byte, deadline time.Time) error {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	_ = conn.SetWriteDeadline(deadline)
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// Send writes one envelope. It fails with a *DeliveryError wrapping
// ErrNotConnected unless the connection is Open.
func (m *Manager) Send(ctx context.Context, eventType wire.Kind, payload any) error {
	fail := func(err error) error { return &DeliveryError{Type: string(eventType), Err: err} }

	m.mu.Lock()
	conn, closed := m.conn, m.closed
	m.mu.Unlock()
	switch {
	case closed:
		return fail(ErrClosed)
	case conn == nil || m.State() != Open:
		return fail(ErrNotConnected)
	}

	frame, err := wire.Encode(eventType, payload)
	if err != nil {
		return fail(err)
	}
	deadline := time.Now().Add(m.cfg.WriteTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := m.write(conn, frame, deadline); err != nil {
		// A failed write leaves the socket unusable; let the read loop
		// observe the close and reconnect.
		_ = conn.Close()
		return fail(err)
	}
	return nil
}

// Close sends a normal closure, cancels any pending reconnect and makes Run
// return. It is idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.closeCh)
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return nil
	}
	m.setState(Closing)
	m.wmu.Lock()
	err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"),
		time.Now().Add(time.Second))
	m.wmu.Unlock()
	// Give the server a moment to echo the close before the read loop gives up.
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		_ = conn.Close()
	}
	return nil
}
