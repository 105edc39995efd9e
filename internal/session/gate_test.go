package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bookcross/cli/internal/events"
)

// fakeChannel records connects/emits/closes; onConnect lets a test answer a
// Connect call by dispatching the server's auth acknowledgment.
type fakeChannel struct {
	mu        sync.Mutex
	tokens    []string
	emits     []string
	closes    atomic.Int32
	onConnect func(token string)
}

func (f *fakeChannel) Connect(token string) error {
	f.mu.Lock()
	f.tokens = append(f.tokens, token)
	fn := f.onConnect
	f.mu.Unlock()
	if fn != nil {
		go fn(token)
	}
	return nil
}

func (f *fakeChannel) Emit(event string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emits = append(f.emits, event)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closes.Add(1)
	return nil
}

func (f *fakeChannel) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tokens)
}

func (f *fakeChannel) emitted(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.emits {
		if e == event {
			n++
		}
	}
	return n
}

type gateFixture struct {
	router  *events.Router
	channel *fakeChannel
	gate    *Gate

	refreshCalls atomic.Int32
	refreshErr   error
	expired      atomic.Int32
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	fx := &gateFixture{
		router:  events.NewRouter(),
		channel: &fakeChannel{},
	}
	fx.channel.onConnect = func(string) {
		fx.router.Dispatch(events.EventAuthSuccess, nil)
	}
	fx.gate = NewGate(fx.router, fx.channel,
		func(context.Context) error {
			fx.refreshCalls.Add(1)
			return fx.refreshErr
		},
		func() (string, error) { return "token-1", nil },
		func() { fx.expired.Add(1) },
	)
	fx.gate.authTimeout = 2 * time.Second
	return fx
}

func TestGate_ConnectHappyPath(t *testing.T) {
	t.Parallel()

	fx := newGateFixture(t)
	require.Equal(t, StateIdle, fx.gate.State())

	require.NoError(t, fx.gate.EnsureConnected(context.Background()))
	require.Equal(t, StateOpen, fx.gate.State())
	require.EqualValues(t, 1, fx.refreshCalls.Load(), "refresh always precedes connect")
	require.Equal(t, []string{"token-1"}, fx.channel.tokens)
	require.Equal(t, 1, fx.channel.emitted(events.EventGetOnlineUsers), "presence snapshot requested on auth")
}

func TestGate_EnsureConnectedIsIdempotent(t *testing.T) {
	t.Parallel()

	fx := newGateFixture(t)
	require.NoError(t, fx.gate.EnsureConnected(context.Background()))

	// Open channel: further calls are no-ops.
	require.NoError(t, fx.gate.EnsureConnected(context.Background()))
	require.NoError(t, fx.gate.EnsureConnected(context.Background()))
	require.Equal(t, 1, fx.channel.connectCount())
	require.EqualValues(t, 1, fx.refreshCalls.Load())
}

func TestGate_ConcurrentCallersShareOneAttempt(t *testing.T) {
	t.Parallel()

	fx := newGateFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = fx.gate.EnsureConnected(context.Background())
		}()
	}
	wg.Wait()

	require.Equal(t, StateOpen, fx.gate.State())
	require.Equal(t, 1, fx.channel.connectCount(), "losers of the race must not dial")
}

func TestGate_RefreshFailureExpiresSession(t *testing.T) {
	t.Parallel()

	fx := newGateFixture(t)
	fx.refreshErr = errors.New("refresh token rejected")

	err := fx.gate.EnsureConnected(context.Background())
	require.Error(t, err)
	require.Equal(t, StateIdle, fx.gate.State())
	require.EqualValues(t, 1, fx.expired.Load(), "unrecoverable refresh ends the session")
	require.Zero(t, fx.channel.connectCount(), "no connect with a stale credential")
}

func TestGate_AuthRejection(t *testing.T) {
	t.Parallel()

	fx := newGateFixture(t)
	fx.channel.onConnect = func(string) {
		fx.router.Dispatch(events.EventAuthError, map[string]any{"error": "invalid token"})
	}

	err := fx.gate.EnsureConnected(context.Background())
	require.ErrorIs(t, err, ErrAuthRejected)
	require.ErrorContains(t, err, "invalid token")
	require.Equal(t, StateIdle, fx.gate.State())
	require.EqualValues(t, 1, fx.channel.closes.Load(), "rejected channel is torn down")
	require.Zero(t, fx.expired.Load(), "an auth rejection is not a session expiry")
}

func TestGate_AuthTimeout(t *testing.T) {
	t.Parallel()

	fx := newGateFixture(t)
	fx.channel.onConnect = nil // server never acknowledges
	fx.gate.authTimeout = 50 * time.Millisecond

	err := fx.gate.EnsureConnected(context.Background())
	require.ErrorContains(t, err, "timed out")
	require.Equal(t, StateIdle, fx.gate.State())
	require.EqualValues(t, 1, fx.channel.closes.Load())
}

func TestGate_ContextCancellation(t *testing.T) {
	t.Parallel()

	fx := newGateFixture(t)
	fx.channel.onConnect = nil
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- fx.gate.EnsureConnected(ctx) }()

	require.Eventually(t, func() bool { return fx.channel.connectCount() == 1 },
		time.Second, 5*time.Millisecond)
	cancel()

	err := <-done
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StateIdle, fx.gate.State())
}

func TestGate_ReauthRequestsPresenceAgain(t *testing.T) {
	t.Parallel()

	fx := newGateFixture(t)
	require.NoError(t, fx.gate.EnsureConnected(context.Background()))

	// Transport drops and re-establishes; the server acknowledges the re-auth.
	fx.gate.HandleDisconnect("transport close")
	require.Equal(t, StateReconnecting, fx.gate.State())

	fx.router.Dispatch(events.EventAuthSuccess, nil)
	require.Equal(t, StateOpen, fx.gate.State())
	require.Equal(t, 2, fx.channel.emitted(events.EventGetOnlineUsers),
		"every successful auth refreshes the presence snapshot")
}

func TestGate_ReauthRejectionClosesChannel(t *testing.T) {
	t.Parallel()

	fx := newGateFixture(t)
	require.NoError(t, fx.gate.EnsureConnected(context.Background()))

	fx.gate.HandleDisconnect("transport close")
	fx.router.Dispatch(events.EventAuthError, map[string]any{"error": "token revoked"})

	require.Equal(t, StateIdle, fx.gate.State())
	require.EqualValues(t, 1, fx.channel.closes.Load())
}

func TestGate_ReconnectExhaustionAllowsRedial(t *testing.T) {
	t.Parallel()

	fx := newGateFixture(t)
	require.NoError(t, fx.gate.EnsureConnected(context.Background()))

	// While the transport is still retrying on its own, EnsureConnected must
	// not stack a second dial on top.
	fx.gate.HandleDisconnect("transport close")
	require.Equal(t, StateReconnecting, fx.gate.State())
	require.NoError(t, fx.gate.EnsureConnected(context.Background()))
	require.Equal(t, 1, fx.channel.connectCount())

	// The transport gives up; the gate must not stay stuck reconnecting.
	fx.gate.HandleReconnectFailed()
	require.Equal(t, StateIdle, fx.gate.State())

	require.NoError(t, fx.gate.EnsureConnected(context.Background()))
	require.Equal(t, StateOpen, fx.gate.State())
	require.Equal(t, 2, fx.channel.connectCount(), "a fresh dial after exhaustion")
}

func TestGate_ReconnectFailedIgnoredUnlessReconnecting(t *testing.T) {
	t.Parallel()

	fx := newGateFixture(t)
	fx.gate.HandleReconnectFailed()
	require.Equal(t, StateIdle, fx.gate.State())

	require.NoError(t, fx.gate.EnsureConnected(context.Background()))
	fx.gate.HandleReconnectFailed()
	require.Equal(t, StateOpen, fx.gate.State(), "an open channel is not demoted")
}

func TestGate_LateAuthSuccessAfterTimeoutIgnored(t *testing.T) {
	t.Parallel()

	fx := newGateFixture(t)
	fx.channel.onConnect = nil
	fx.gate.authTimeout = 50 * time.Millisecond

	err := fx.gate.EnsureConnected(context.Background())
	require.ErrorContains(t, err, "timed out")
	require.Equal(t, StateIdle, fx.gate.State())

	// The server's acknowledgment straggles in after the attempt was abandoned
	// and the socket discarded; it must not re-mark the gate open.
	fx.router.Dispatch(events.EventAuthSuccess, nil)
	require.Equal(t, StateIdle, fx.gate.State())
	require.Zero(t, fx.channel.emitted(events.EventGetOnlineUsers))
}

func TestGate_DisconnectWhileNotOpenIsIgnored(t *testing.T) {
	t.Parallel()

	fx := newGateFixture(t)
	fx.gate.HandleDisconnect("transport close")
	require.Equal(t, StateIdle, fx.gate.State())
}

func TestGate_CloseThenReconnect(t *testing.T) {
	t.Parallel()

	fx := newGateFixture(t)
	require.NoError(t, fx.gate.EnsureConnected(context.Background()))
	require.NoError(t, fx.gate.Close())
	require.Equal(t, StateIdle, fx.gate.State())

	require.NoError(t, fx.gate.EnsureConnected(context.Background()))
	require.Equal(t, StateOpen, fx.gate.State())
	require.Equal(t, 2, fx.channel.connectCount())
}

func TestGate_ShutdownRevokesSubscriptions(t *testing.T) {
	t.Parallel()

	fx := newGateFixture(t)
	require.NoError(t, fx.gate.EnsureConnected(context.Background()))
	fx.gate.Shutdown()
	require.Equal(t, StateIdle, fx.gate.State())

	// Auth events no longer reach the gate.
	fx.router.Dispatch(events.EventAuthSuccess, nil)
	require.Equal(t, StateIdle, fx.gate.State())
}

func TestStateString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "idle", StateIdle.String())
	require.Equal(t, "open", StateOpen.String())
	require.Equal(t, "reconnecting", StateReconnecting.String())
	require.Equal(t, "unknown", State(99).String())
}
