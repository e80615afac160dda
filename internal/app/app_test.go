package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maintwatch/internal/config"
	"maintwatch/internal/inbox"
	"maintwatch/internal/priority"
	"maintwatch/internal/wire"
	"maintwatch/pkg/logx"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "maintwatch.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestAppEndToEnd(t *testing.T) {
	upgrader := websocket.Upgrader{}
	announced := make(chan wire.Envelope, 1)
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
		if env, err := wire.Decode(wire.FrameText, first); err == nil {
			announced <- env
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(
			`{"type":"comment_added","payload":{"userId":7,"username":"alice","issueId":42,"issueTitle":"Leaky pipe","content":"fixed now"}}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfgPath := writeConfig(t, fmt.Sprintf(`
server:
  url: %s
identity:
  user_id: 9
  username: bob
logging:
  level: warn
storage:
  driver: file
  path: %s
alerts:
  enabled: false
`, srv.URL, filepath.Join(dir, "state")))

	ctx := context.Background()
	a, err := New(ctx, cfgPath)
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))

	select {
	case env := <-announced:
		assert.Equal(t, wire.KindUserLoggedIn, env.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("no identity announcement")
	}

	require.Eventually(t, func() bool { return a.Inbox().Len() == 1 }, 5*time.Second, 10*time.Millisecond)
	n := a.Inbox().List(inbox.Filter{})[0]
	assert.Equal(t, priority.Medium, n.Priority)
	assert.Contains(t, n.Message, "alice")

	status := a.Status().(Status)
	assert.Equal(t, "open", status.Connection)
	assert.Equal(t, 1, status.Unread)
	assert.Equal(t, 1, status.ByPriority[priority.Medium])
	var names []string
	for _, task := range status.Tasks {
		names = append(names, task.Name)
	}
	assert.Contains(t, names, "ws.connection")

	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))
	assert.NoError(t, a.Err())

	// The notification survived in the file store.
	cfg, err := config.NewManager(cfgPath).Load()
	require.NoError(t, err)
	st, err := OpenStores(ctx, cfg, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	assert.Equal(t, 1, st.Inbox.Len())
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(context.Background(), writeConfig(t, "server:\n  url: ftp://nope\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.url")

	_, err = New(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestMapWSConfigDefaults(t *testing.T) {
	cfg, err := config.Decode("c.json", []byte(`{"server":{"url":"http://localhost:5000"},"identity":{"user_id":3,"username":"carol"}}`))
	require.NoError(t, err)
	wc, err := mapWSConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:5000/ws", wc.URL)
	assert.Equal(t, 5*time.Second, wc.DialTimeout)
	assert.Equal(t, time.Second, wc.Backoff.Base)
	assert.Equal(t, 1.5, wc.Backoff.Multiplier)
	assert.Equal(t, 30*time.Second, wc.Backoff.Max)
	require.NotNil(t, wc.Identity)
	assert.Equal(t, "carol", wc.Identity.Username)

	cfg.Identity.UserID = 0
	wc, err = mapWSConfig(cfg)
	require.NoError(t, err)
	assert.Nil(t, wc.Identity, "anonymous clients announce nothing")
}

func TestMapRetentionAndAlerts(t *testing.T) {
	cfg, err := config.Decode("c.json", []byte(`{"inbox":{"retention":{"enabled":true,"schedule":"0 3 * * *","max_age":"48h","read_only":false}},"alerts":{"enabled":true,"burst":3,"min_priority":"CRITICAL"}}`))
	require.NoError(t, err)

	r, err := mapRetention(cfg)
	require.NoError(t, err)
	assert.True(t, r.Enabled)
	assert.Equal(t, 48*time.Hour, r.MaxAge)
	assert.False(t, r.ReadOnly)

	al, err := mapAlerts(cfg)
	require.NoError(t, err)
	assert.Equal(t, priority.Critical, al.Min)
	assert.Equal(t, 3, al.Burst)

	cfg.Inbox.Retention.Schedule = "every tuesday"
	_, err = mapRetention(cfg)
	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "inbox.retention.schedule"))
}

func TestOpenStoresMemory(t *testing.T) {
	cfg, err := config.Decode("c.json", []byte(`{"storage":{"driver":"memory"},"inbox":{"max_items":5}}`))
	require.NoError(t, err)
	st, err := OpenStores(context.Background(), cfg, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	assert.Equal(t, 5, st.Inbox.MaxItems())
	assert.Equal(t, priority.Info, st.Settings.Get().MinimumPriority)
}
