package supervisor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	inet "github.com/guseggert/sidecar/internal/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// newProbeSupervisor points a Supervisor at h without starting any process.
func newProbeSupervisor(t *testing.T, h http.Handler, opts ...Option) *Supervisor {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	return newPortSupervisor(t, port, opts...)
}

func newPortSupervisor(t *testing.T, port int, opts ...Option) *Supervisor {
	opts = append([]Option{
		WithLogger(zaptest.NewLogger(t)),
		WithName("probe-only"),
		WithExecutable("unused"),
		WithPort(port),
	}, opts...)
	return New(opts...)
}

func statusHandler(code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != DefaultHealthPath {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(code)
	})
}

func TestHealthCheckStatus(t *testing.T) {
	cases := []struct {
		code    int
		healthy bool
	}{
		{http.StatusOK, true},
		{http.StatusNoContent, true},
		{http.StatusMovedPermanently, false},
		{http.StatusNotFound, false},
		{http.StatusInternalServerError, false},
		{http.StatusServiceUnavailable, false},
	}
	for _, c := range cases {
		c := c
		t.Run(strconv.Itoa(c.code), func(t *testing.T) {
			t.Parallel()
			sup := newProbeSupervisor(t, statusHandler(c.code))
			ok, err := sup.HealthCheck(context.Background())
			require.NoError(t, err)
			assert.Equal(t, c.healthy, ok)
		})
	}
}

func TestHealthCheckConnectionRefused(t *testing.T) {
	t.Parallel()
	port, err := inet.GetEphemeralTCPPort()
	require.NoError(t, err)

	ok, err := newPortSupervisor(t, port).HealthCheck(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHealthCheckBadRequest(t *testing.T) {
	t.Parallel()
	sup := newPortSupervisor(t, 1, WithHealthPath("/%zz"))

	_, err := sup.HealthCheck(context.Background())
	require.Error(t, err)

	err = sup.WaitReady(context.Background(), time.Second)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStartupTimeout)
}

func TestWaitReadyTimeout(t *testing.T) {
	t.Parallel()
	sup := newProbeSupervisor(t, statusHandler(http.StatusServiceUnavailable))

	timeout := 600 * time.Millisecond
	start := time.Now()
	err := sup.WaitReady(context.Background(), timeout)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrStartupTimeout)
	assert.Equal(t, "StartupTimeout", ErrorKind(err))
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+healthCheckTimeout+time.Second)
}

func TestWaitReadySucceedsAfterRetries(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	sup := newProbeSupervisor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	start := time.Now()
	require.NoError(t, sup.WaitReady(context.Background(), 5*time.Second))
	assert.EqualValues(t, 3, calls.Load())
	assert.GreaterOrEqual(t, time.Since(start), 2*pollInterval)
}

func TestWaitReadyContextCancel(t *testing.T) {
	t.Parallel()
	sup := newProbeSupervisor(t, statusHandler(http.StatusServiceUnavailable))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err := sup.WaitReady(ctx, 10*time.Second)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrStartupTimeout)
}
