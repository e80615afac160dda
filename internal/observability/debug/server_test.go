package debug

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maintwatch/pkg/logx"
)

func TestApplyEnableDisable(t *testing.T) {
	prev := runtime.SetMutexProfileFraction(-1)
	t.Cleanup(func() { runtime.SetMutexProfileFraction(prev) })

	srv := New(func() any { return map[string]int{"unread": 3} }, logx.Nop())
	t.Cleanup(func() { srv.Stop(context.Background()) })

	ctx := context.Background()
	srv.Apply(ctx, Config{Enabled: true, Address: "127.0.0.1:0", MutexProfileFraction: 5})
	addr := srv.Addr()
	require.NotEmpty(t, addr)
	assert.Equal(t, 5, runtime.SetMutexProfileFraction(-1))

	resp, err := http.Get("http://" + addr + "/debug/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 3, body["unread"])

	pp, err := http.Get("http://" + addr + "/debug/pprof/")
	require.NoError(t, err)
	_ = pp.Body.Close()
	assert.Equal(t, http.StatusOK, pp.StatusCode)

	// Same address is a no-op.
	srv.Apply(ctx, Config{Enabled: true, Address: addr})
	assert.Equal(t, addr, srv.Addr())

	srv.Apply(ctx, Config{Enabled: false})
	assert.Empty(t, srv.Addr())
	_, err = http.Get("http://" + addr + "/debug/status")
	assert.Error(t, err)
}

func TestListenFailureLeavesServerStopped(t *testing.T) {
	srv := New(nil, logx.Nop())
	srv.Apply(context.Background(), Config{Enabled: true, Address: "256.0.0.1:1"})
	assert.Empty(t, srv.Addr())
}
