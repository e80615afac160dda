package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maintwatch/internal/eventbus"
	"maintwatch/internal/wire"
	"maintwatch/pkg/logx"
)

type chanPublisher chan wire.Envelope

func (c chanPublisher) Publish(env wire.Envelope) int {
	c <- env
	return 1
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func immediateTimer(record func(time.Duration)) Timer {
	return func(d time.Duration) (<-chan time.Time, func()) {
		record(d)
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch, func() {}
	}
}

func runManager(t *testing.T, m *Manager) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		done <- m.Run(context.Background())
		close(finished)
	}()
	t.Cleanup(func() {
		_ = m.Close()
		select {
		case <-finished:
		case <-time.After(5 * time.Second):
			t.Error("Run did not return after Close")
		}
	})
	return done
}

func TestBackoffDelay(t *testing.T) {
	b := DefaultBackoff()
	assert.Equal(t, time.Second, b.Delay(0, nil))
	assert.Equal(t, 1500*time.Millisecond, b.Delay(1, nil))
	assert.Equal(t, 3375*time.Millisecond, b.Delay(3, nil))
	assert.Equal(t, 30*time.Second, b.Delay(20, nil))
	assert.Equal(t, 30*time.Second, b.Delay(10000, nil))

	maxJitter := func() float64 { return 0.999 }
	d := b.Delay(3, maxJitter)
	assert.GreaterOrEqual(t, d, 3375*time.Millisecond)
	assert.LessOrEqual(t, d, 3375*time.Millisecond+337500*time.Microsecond)
	assert.Equal(t, 30*time.Second, b.Delay(9, maxJitter), "jitter never exceeds Max")

	assert.Equal(t, time.Second, Backoff{}.Delay(0, nil), "zero value uses defaults")
}

func TestEndpoint(t *testing.T) {
	cases := map[string]string{
		"http://localhost:5000":       "ws://localhost:5000/ws",
		"https://maint.example.com/":  "wss://maint.example.com/ws",
		"ws://10.0.0.2:8080/realtime": "ws://10.0.0.2:8080/realtime",
		"localhost:5000":              "ws://localhost:5000/ws",
	}
	for in, want := range cases {
		got, err := Endpoint(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	for _, bad := range []string{"", "ftp://host", "http://"} {
		_, err := Endpoint(bad)
		assert.Error(t, err, bad)
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	m := New(Config{URL: "ws://127.0.0.1:1/ws"}, nil, nil, logx.Nop())
	err := m.Send(context.Background(), wire.KindMessage, map[string]string{"message": "hi"})

	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, "message", de.Type)
	assert.Equal(t, Disconnected, m.State())

	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Send(context.Background(), wire.KindMessage, nil), ErrClosed)
}

func TestAnnounceReceiveAndClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	announced := make(chan wire.Envelope, 1)
	clientMsg := make(chan wire.Envelope, 1)
	closeCode := make(chan int, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, first, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, _ := wire.Decode(wire.FrameText, first)
		announced <- env

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"comment_added","payload":{"userId":7,"username":"alice","issueId":42,"issueTitle":"Leaky pipe","content":"fixed now"}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"payload":{}}`))
		blob, _ := cbor.Marshal(map[string]any{"type": "machine_added", "payload": map[string]any{"name": "Fryer 2"}})
		_ = conn.WriteMessage(websocket.BinaryMessage, blob)

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				var ce *websocket.CloseError
				if errors.As(err, &ce) {
					closeCode <- ce.Code
				}
				return
			}
			env, _ := wire.Decode(wire.FrameText, data)
			clientMsg <- env
		}
	}))
	defer srv.Close()

	sig := eventbus.NewSignals()
	sigs, unsub := sig.Subscribe(64)
	defer unsub()

	pub := make(chanPublisher, 8)
	m := New(Config{
		URL:      wsURL(srv),
		Identity: &Identity{UserID: 9, Username: "bob", Role: "manager"},
	}, pub, sig, logx.Nop())
	done := runManager(t, m)

	select {
	case env := <-announced:
		assert.Equal(t, wire.KindUserLoggedIn, env.Type)
		assert.JSONEq(t, `{"userId":9,"username":"bob","role":"manager"}`, string(env.Payload))
	case <-time.After(5 * time.Second):
		t.Fatal("no identity announcement")
	}

	var got []wire.Envelope
	for len(got) < 2 {
		select {
		case env := <-pub:
			got = append(got, env)
		case <-time.After(5 * time.Second):
			t.Fatalf("received %d envelopes, want 2", len(got))
		}
	}
	assert.Equal(t, wire.KindCommentAdded, got[0].Type, "arrival order preserved")
	assert.Equal(t, wire.KindMachineAdded, got[1].Type)
	assert.Equal(t, Open, m.State(), "decode errors do not drop the connection")

	require.NoError(t, m.Send(context.Background(), wire.KindStatusChanged, map[string]any{"issueId": 42, "newStatus": "resolved"}))
	select {
	case env := <-clientMsg:
		assert.Equal(t, wire.KindStatusChanged, env.Type)
		require.NotNil(t, env.Timestamp)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not receive the sent envelope")
	}

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	select {
	case code := <-closeCode:
		assert.Equal(t, websocket.CloseNormalClosure, code)
	case <-time.After(5 * time.Second):
		t.Fatal("server saw no close frame")
	}
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, Disconnected, m.State())

	seen := map[string]bool{}
drain:
	for {
		select {
		case s := <-sigs:
			seen[s.Type] = true
		default:
			break drain
		}
	}
	assert.True(t, seen[eventbus.SignalConnecting])
	assert.True(t, seen[eventbus.SignalOpened])
	assert.True(t, seen[eventbus.SignalDecodeError])
}

func TestBackoffAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var mu sync.Mutex
	var delays []time.Duration
	var m *Manager
	m = New(Config{URL: wsURL(srv)}, nil, nil, logx.Nop(),
		WithRand(func() float64 { return 0.5 }),
		WithTimer(immediateTimer(func(d time.Duration) {
			mu.Lock()
			delays = append(delays, d)
			n := len(delays)
			mu.Unlock()
			if n == 5 {
				go m.Close()
			}
		})),
	)
	done := runManager(t, m)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(delays), 4)
	base := float64(time.Second)
	for i, d := range delays[:4] {
		floor := time.Duration(base * pow15(i+1))
		assert.GreaterOrEqual(t, d, floor, "delay after %d failures", i+1)
		assert.LessOrEqual(t, d, 30*time.Second)
	}
	assert.GreaterOrEqual(t, delays[2], 3375*time.Millisecond, "4th attempt waits at least 1000*1.5^3 ms")
	assert.GreaterOrEqual(t, m.Attempts(), 4)
}

func pow15(n int) float64 {
	v := 1.0
	for i := 0; i < n; i++ {
		v *= 1.5
	}
	return v
}

func TestReconnectAfterDropResetsAttempts(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var conns atomic.Int32
	second := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := conns.Add(1)
		if n == 1 {
			// Abrupt drop: no close frame.
			_ = conn.UnderlyingConn().Close()
			return
		}
		if n == 2 {
			close(second)
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	var mu sync.Mutex
	var delays []time.Duration
	m := New(Config{URL: wsURL(srv)}, nil, nil, logx.Nop(),
		WithRand(nil),
		WithTimer(immediateTimer(func(d time.Duration) {
			mu.Lock()
			delays = append(delays, d)
			mu.Unlock()
		})),
	)
	runManager(t, m)

	select {
	case <-second:
	case <-time.After(5 * time.Second):
		t.Fatal("no reconnect after drop")
	}
	require.Eventually(t, func() bool { return m.State() == Open }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, m.Attempts())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, delays)
	assert.Equal(t, time.Second, delays[0], "a dropped open connection retries after the base delay")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	m := New(Config{URL: wsURL(srv), Backoff: Backoff{Base: time.Hour, Max: time.Hour}}, nil, nil, logx.Nop())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return m.Attempts() >= 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run ignored context cancel")
	}
}

func TestIdentityPayloadShape(t *testing.T) {
	b, err := json.Marshal(&Identity{UserID: 3, Username: "carol"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"userId":3,"username":"carol"}`, string(b))
	assert.False(t, (*Identity)(nil).valid())
}
