// Package session orchestrates "ensure a valid credential, then open and
// authenticate the channel". The gate is the only component allowed to
// transition the channel's connection state.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bookcross/cli/internal/events"
	"github.com/bookcross/cli/pkg/logger"
)

// State is the channel connection state as seen by the gate.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateAuthenticating
	StateOpen
	StateReconnecting
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// defaultAuthTimeout bounds the wait for the server's auth acknowledgment.
const defaultAuthTimeout = 10 * time.Second

// ErrAuthRejected is returned when the server refuses the presented token.
var ErrAuthRejected = errors.New("channel auth rejected")

// Channel is the transport surface the gate drives.
type Channel interface {
	Connect(token string) error
	Emit(event string, data map[string]any) error
	Close() error
}

// Gate owns the connect/authenticate sequence.
type Gate struct {
	channel Channel
	// refresh obtains a fresh credential; it must never be skipped before a
	// connect so a possibly-stale token is never presented.
	refresh func(ctx context.Context) error
	// accessToken reads the current access token after a refresh.
	accessToken func() (string, error)
	// onSessionExpired fires when refresh itself failed and the credential
	// is unrecoverable (logout).
	onSessionExpired func()

	authTimeout time.Duration

	mu     sync.Mutex
	state  State
	waiter chan error
	unsubs []func()
}

// NewGate creates a gate and installs its persistent auth subscriptions on
// the router. The auth_success handler re-runs on every successful re-auth
// after a transport reconnect, which is what re-requests the presence
// snapshot each time.
func NewGate(router *events.Router, channel Channel, refresh func(ctx context.Context) error, accessToken func() (string, error), onSessionExpired func()) *Gate {
	g := &Gate{
		channel:          channel,
		refresh:          refresh,
		accessToken:      accessToken,
		onSessionExpired: onSessionExpired,
		authTimeout:      defaultAuthTimeout,
	}
	g.unsubs = append(g.unsubs,
		router.Subscribe(events.EventAuthSuccess, g.handleAuthSuccess),
		router.Subscribe(events.EventAuthError, g.handleAuthError),
	)
	return g
}

// State returns the current connection state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// EnsureConnected opens and authenticates the channel. It is an idempotent
// no-op while an attempt is in flight or the channel is open; concurrent
// callers never spawn a duplicate connection.
func (g *Gate) EnsureConnected(ctx context.Context) error {
	g.mu.Lock()
	if g.state != StateIdle {
		g.mu.Unlock()
		return nil
	}
	g.state = StateConnecting
	waiter := make(chan error, 1)
	g.waiter = waiter
	g.mu.Unlock()

	// Never reuse a possibly-stale token to open the channel.
	if err := g.refresh(ctx); err != nil {
		g.abandon()
		logger.Warnf("credential refresh failed, terminating session: %v", err)
		if g.onSessionExpired != nil {
			g.onSessionExpired()
		}
		return fmt.Errorf("refresh credentials: %w", err)
	}

	token, err := g.accessToken()
	if err != nil {
		g.abandon()
		return err
	}

	g.mu.Lock()
	g.state = StateAuthenticating
	g.mu.Unlock()

	if err := g.channel.Connect(token); err != nil {
		g.abandon()
		return fmt.Errorf("open channel: %w", err)
	}

	select {
	case err := <-waiter:
		if err != nil {
			_ = g.channel.Close()
			g.abandon()
			return err
		}
		return nil
	case <-time.After(g.authTimeout):
		_ = g.channel.Close()
		g.abandon()
		return errors.New("timed out waiting for auth acknowledgment")
	case <-ctx.Done():
		_ = g.channel.Close()
		g.abandon()
		return ctx.Err()
	}
}

// handleAuthSuccess transitions to Open and immediately requests the presence
// snapshot. This fires for the initial auth and for every re-auth after a
// transport-level reconnect.
func (g *Gate) handleAuthSuccess(map[string]any) {
	g.mu.Lock()
	if g.state != StateAuthenticating && g.state != StateReconnecting {
		// Late acknowledgment racing an auth timeout or Close; the socket
		// behind it is already discarded.
		g.mu.Unlock()
		return
	}
	g.state = StateOpen
	waiter := g.waiter
	g.waiter = nil
	g.mu.Unlock()

	if err := g.channel.Emit(events.EventGetOnlineUsers, nil); err != nil {
		logger.Warnf("requesting presence snapshot: %v", err)
	}

	if waiter != nil {
		waiter <- nil
	}
}

func (g *Gate) handleAuthError(data map[string]any) {
	detail := ""
	if data != nil {
		detail, _ = data["error"].(string)
	}
	err := ErrAuthRejected
	if detail != "" {
		err = fmt.Errorf("%w: %s", ErrAuthRejected, detail)
	}

	g.mu.Lock()
	waiter := g.waiter
	g.waiter = nil
	g.mu.Unlock()

	if waiter != nil {
		waiter <- err
		return
	}
	// Re-auth after a transport reconnect was rejected; the channel is no
	// longer usable.
	logger.Errorf("channel re-auth rejected: %v", err)
	_ = g.channel.Close()
	g.abandon()
}

// HandleDisconnect records a transport-level disconnect. A remote drop while
// open means the transport is re-establishing itself and will re-authenticate.
func (g *Gate) HandleDisconnect(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == StateOpen {
		g.state = StateReconnecting
		logger.Infof("channel dropped (%s), reconnecting", reason)
	}
}

// HandleReconnectFailed records that the transport has given up re-establishing
// the channel. A reconnect in progress is demoted to Idle so a later
// EnsureConnected dials again; every other state is left alone.
func (g *Gate) HandleReconnectFailed() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == StateReconnecting {
		g.state = StateIdle
		logger.Warnf("channel reconnection exhausted")
	}
}

// Close tears the channel down. No automatic reconnection follows.
func (g *Gate) Close() error {
	g.mu.Lock()
	g.state = StateClosing
	g.mu.Unlock()

	err := g.channel.Close()

	g.mu.Lock()
	g.state = StateIdle
	g.waiter = nil
	g.mu.Unlock()
	return err
}

// Shutdown revokes the gate's router subscriptions and closes the channel.
func (g *Gate) Shutdown() {
	for _, unsub := range g.unsubs {
		unsub()
	}
	g.unsubs = nil
	_ = g.Close()
}

func (g *Gate) abandon() {
	g.mu.Lock()
	g.state = StateIdle
	g.waiter = nil
	g.mu.Unlock()
}
