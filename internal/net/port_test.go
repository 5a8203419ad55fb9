package net

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listen(t *testing.T) (net.Listener, int) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, l.Addr().(*net.TCPAddr).Port
}

func TestPortInUse(t *testing.T) {
	_, port := listen(t)
	assert.True(t, PortInUse(port))

	free, err := GetEphemeralTCPPort()
	require.NoError(t, err)
	assert.False(t, PortInUse(free))
}

func TestWaitPortFree(t *testing.T) {
	l, port := listen(t)

	start := time.Now()
	assert.False(t, WaitPortFree(context.Background(), port, 300*time.Millisecond, 50*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)

	go func() {
		time.Sleep(100 * time.Millisecond)
		l.Close()
	}()
	assert.True(t, WaitPortFree(context.Background(), port, 2*time.Second, 50*time.Millisecond))
}

func TestGetEphemeralTCPPort(t *testing.T) {
	port, err := GetEphemeralTCPPort()
	require.NoError(t, err)
	assert.NotZero(t, port)

	l, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
	require.NoError(t, err)
	l.Close()
}
