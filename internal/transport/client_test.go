package transport

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLooksLikeAuthError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		args []any
		want bool
	}{
		{"unauthorized string", []any{"401 Unauthorized"}, true},
		{"auth wrapped in error", []any{errors.New("authentication failed")}, true},
		{"token mention", []any{"invalid token"}, true},
		{"plain network failure", []any{"dial tcp: connection refused"}, false},
		{"non-text payload", []any{42, map[string]any{"code": 401}}, false},
		{"no args", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, looksLikeAuthError(tc.args))
		})
	}
}

func TestMaybeRefreshToken_AuthErrorTriggersRefreshAndReconnect(t *testing.T) {
	t.Parallel()

	c := NewClient("http://localhost:8000", "/ws/socket.io", false)

	var refreshes, reconnects atomic.Int32
	c.SetTokenRefresher(func() (string, error) {
		refreshes.Add(1)
		return "fresh-token", nil
	})
	c.reconnectFn = func() error {
		reconnects.Add(1)
		return nil
	}

	c.maybeRefreshToken([]any{"401 Unauthorized"})

	require.Eventually(t, func() bool {
		return refreshes.Load() == 1 && reconnects.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	require.Equal(t, "fresh-token", token, "the refreshed token is presented on reconnect")
}

func TestMaybeRefreshToken_NonAuthErrorDoesNothing(t *testing.T) {
	t.Parallel()

	c := NewClient("http://localhost:8000", "/ws/socket.io", false)

	var refreshes atomic.Int32
	c.SetTokenRefresher(func() (string, error) {
		refreshes.Add(1)
		return "", nil
	})
	c.reconnectFn = func() error { return nil }

	c.maybeRefreshToken([]any{"dial tcp: connection refused"})

	time.Sleep(100 * time.Millisecond)
	require.Zero(t, refreshes.Load(), "transport failures must not burn a refresh")
}

func TestMaybeRefreshToken_Throttled(t *testing.T) {
	t.Parallel()

	c := NewClient("http://localhost:8000", "/ws/socket.io", false)

	var refreshes, reconnects atomic.Int32
	c.SetTokenRefresher(func() (string, error) {
		refreshes.Add(1)
		return "fresh-token", nil
	})
	c.reconnectFn = func() error {
		reconnects.Add(1)
		return nil
	}

	// A burst of auth-flavored connect errors must spend one refresh, not one
	// per error.
	for i := 0; i < 5; i++ {
		c.maybeRefreshToken([]any{"invalid token"})
	}

	require.Eventually(t, func() bool { return reconnects.Load() == 1 },
		2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	require.EqualValues(t, 1, refreshes.Load())
}

func TestMaybeRefreshToken_RefreshFailureSkipsReconnect(t *testing.T) {
	t.Parallel()

	c := NewClient("http://localhost:8000", "/ws/socket.io", false)

	c.SetTokenRefresher(func() (string, error) {
		return "", errors.New("refresh rejected")
	})
	var reconnects atomic.Int32
	c.reconnectFn = func() error {
		reconnects.Add(1)
		return nil
	}

	c.maybeRefreshToken([]any{"401 Unauthorized"})

	time.Sleep(100 * time.Millisecond)
	require.Zero(t, reconnects.Load(), "no reconnect with a stale token")
}

func TestReconnectWithFreshToken_UsesRefresher(t *testing.T) {
	t.Parallel()

	c := NewClient("http://localhost:8000", "/ws/socket.io", false)
	c.token = "stale"

	c.SetTokenRefresher(func() (string, error) { return "fresh", nil })
	var reconnects atomic.Int32
	c.reconnectFn = func() error {
		reconnects.Add(1)
		return nil
	}

	require.NoError(t, c.reconnectWithFreshToken())
	require.EqualValues(t, 1, reconnects.Load())

	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	require.Equal(t, "fresh", token)
}

func TestHandleConnectError_ExhaustionFiresGiveUp(t *testing.T) {
	t.Parallel()

	c := NewClient("http://localhost:8000", "/ws/socket.io", false)

	var giveUps atomic.Int32
	c.OnReconnectFailed(func() { giveUps.Add(1) })

	for i := 0; i < reconnectAttempts-1; i++ {
		c.handleConnectError([]any{"dial tcp: connection refused"})
	}
	require.Zero(t, giveUps.Load(), "still retrying")

	c.handleConnectError([]any{"dial tcp: connection refused"})
	require.EqualValues(t, 1, giveUps.Load(), "the final failed attempt reports exhaustion")

	// The counter restarts: a follow-up dial cycle exhausts independently.
	for i := 0; i < reconnectAttempts-1; i++ {
		c.handleConnectError([]any{"dial tcp: connection refused"})
	}
	require.EqualValues(t, 1, giveUps.Load())
	c.handleConnectError([]any{"dial tcp: connection refused"})
	require.EqualValues(t, 2, giveUps.Load())
}

func TestHandleConnectError_ClosedClientNeverGivesUp(t *testing.T) {
	t.Parallel()

	c := NewClient("http://localhost:8000", "/ws/socket.io", false)

	var giveUps atomic.Int32
	c.OnReconnectFailed(func() { giveUps.Add(1) })
	require.NoError(t, c.Close())

	for i := 0; i < reconnectAttempts*2; i++ {
		c.handleConnectError([]any{"dial tcp: connection refused"})
	}
	require.Zero(t, giveUps.Load(), "a locally closed channel reports nothing")
}

func TestEmit_NotConnected(t *testing.T) {
	t.Parallel()

	c := NewClient("http://localhost:8000", "/ws/socket.io", false)
	require.ErrorIs(t, c.Emit("get_online_users", nil), ErrNotConnected)
}

func TestWaitForConnect_TimesOut(t *testing.T) {
	t.Parallel()

	c := NewClient("http://localhost:8000", "/ws/socket.io", false)
	start := time.Now()
	require.False(t, c.WaitForConnect(120*time.Millisecond))
	require.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}
