package main

import (
	"bytes"
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/agent-relay/internal/config"
	"github.com/zhouzirui/agent-relay/internal/service/session"
)

func TestRunServerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	done := make(chan error, 1)
	go func() { done <- runServer(ctx, srv) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRunServerReportsListenError(t *testing.T) {
	srv := &http.Server{Addr: "256.0.0.1:bad"}
	require.Error(t, runServer(context.Background(), srv))
}

func TestNewRegistryMemory(t *testing.T) {
	reg, closeFn, err := newRegistry(context.Background(), config.SessionConfig{Store: config.StoreMemory, Capacity: 3})
	require.NoError(t, err)
	require.NoError(t, closeFn())

	mem, ok := reg.(*session.MemoryRegistry)
	require.True(t, ok)
	assert.Zero(t, mem.Len())
}

func TestChatCommandRequiresMessage(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"chat"})

	require.Error(t, cmd.Execute())
}
