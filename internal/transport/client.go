// Package transport wraps the Socket.IO client into the single persistent
// event channel used by the SDK. It owns transport-level reconnection; session
// level concerns (when to connect, what to do after auth) belong to the
// session gate.
package transport

import (
	"errors"
	"strings"
	"sync"
	"time"

	socket "github.com/zishang520/socket.io/clients/socket/v3"
	siotypes "github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/bookcross/cli/internal/events"
	"github.com/bookcross/cli/pkg/logger"
)

const (
	// reconnectAttempts bounds transport-level retries after a drop.
	reconnectAttempts = 5
	// reconnectDelayMS is the fixed delay between retries.
	reconnectDelayMS = 1000

	// minRefreshInterval throttles auth-triggered token refreshes so a
	// rejecting server cannot drive a refresh loop.
	minRefreshInterval = 30 * time.Second
)

// ErrNotConnected is returned by Emit when no socket is open.
var ErrNotConnected = errors.New("not connected")

// EventSink receives every named server event in arrival order.
type EventSink func(event string, data map[string]any)

// Client is the reconnecting Socket.IO channel. A process holds at most one
// open Client; the session gate enforces that.
type Client struct {
	origin string
	path   string
	debug  bool

	mu            sync.RWMutex
	token         string
	socket        *socket.Socket
	connected     bool
	closed        bool
	lastRefreshAt time.Time
	// connectErrors counts consecutive failed connect attempts; at
	// reconnectAttempts the transport has given up retrying.
	connectErrors int

	sink              EventSink
	onConnect         func()
	onDisconnect      func(reason string)
	onReconnectFailed func()
	refresher         func() (string, error)
	reconnectFn       func() error
}

// NewClient creates an unconnected channel for the given socket origin and
// handshake path.
func NewClient(origin, path string, debug bool) *Client {
	c := &Client{origin: origin, path: path, debug: debug}
	c.reconnectFn = c.reconnect
	return c
}

// OnEvent installs the sink receiving every inbound named event. Must be set
// before Connect.
func (c *Client) OnEvent(sink EventSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = sink
}

// OnConnect registers a transport-connected callback.
func (c *Client) OnConnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = fn
}

// OnDisconnect registers a transport-disconnected callback.
func (c *Client) OnDisconnect(fn func(reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = fn
}

// OnReconnectFailed registers a callback fired when the transport exhausts its
// reconnection attempts and stops retrying. The channel is dead at that point;
// only a new Connect revives it.
func (c *Client) OnReconnectFailed(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnectFailed = fn
}

// SetTokenRefresher installs the callback used to obtain a fresh access token
// when the server rejects the current one during (re)connect.
func (c *Client) SetTokenRefresher(fn func() (string, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refresher = fn
}

// Connect opens the channel, presenting token as the connect-time auth
// parameter. The token is never sent as an application event.
func (c *Client) Connect(token string) error {
	c.mu.Lock()
	c.token = token
	c.closed = false
	stale := c.socket
	c.socket = nil
	c.connected = false
	c.mu.Unlock()

	// A previous socket that gave up retrying would otherwise keep forwarding
	// events alongside the new one.
	if stale != nil {
		stale.Disconnect()
	}
	return c.dial()
}

func (c *Client) dial() error {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()

	if c.debug {
		logger.Debugf("connecting to %s (path: %s)", c.origin, c.path)
	}

	opts := socket.DefaultOptions()
	opts.SetPath(c.path)
	// Single low-latency full-duplex transport; no polling fallback.
	opts.SetTransports(siotypes.NewSet(socket.WebSocket))
	opts.SetReconnection(true)
	opts.SetReconnectionAttempts(reconnectAttempts)
	opts.SetReconnectionDelay(reconnectDelayMS)
	opts.SetAuth(map[string]interface{}{"token": token})

	sock, err := socket.Connect(c.origin, opts)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.socket = sock
	c.connectErrors = 0
	c.mu.Unlock()

	sock.On(siotypes.EventName("connect"), func(args ...any) {
		c.mu.Lock()
		c.connected = true
		c.connectErrors = 0
		fn := c.onConnect
		c.mu.Unlock()

		logger.Debugf("channel connected, id=%s", sock.Id())
		if fn != nil {
			fn()
		}
	})

	sock.On(siotypes.EventName("disconnect"), func(args ...any) {
		reason := ""
		if len(args) > 0 {
			if r, ok := args[0].(string); ok {
				reason = r
			}
		}

		c.mu.Lock()
		c.connected = false
		closed := c.closed
		fn := c.onDisconnect
		c.mu.Unlock()

		logger.Debugf("channel disconnected: %s", reason)
		if fn != nil {
			fn(reason)
		}

		// The library does not auto-reconnect when the remote peer closed
		// the connection deliberately; re-establish the transport ourselves
		// unless the disconnect was local.
		if reason == "io server disconnect" && !closed {
			go func() {
				if err := c.reconnectWithFreshToken(); err != nil {
					logger.Warnf("reconnect after server disconnect failed: %v", err)
				}
			}()
		}
	})

	sock.On(siotypes.EventName("connect_error"), func(args ...any) {
		c.handleConnectError(args)
	})

	for _, event := range events.ServerEvents {
		ev := event // capture
		sock.On(siotypes.EventName(ev), func(args ...any) {
			var data map[string]any
			if len(args) > 0 {
				if m, ok := args[0].(map[string]any); ok {
					data = m
				}
			}
			logger.Tracef("channel event: %s", ev)

			c.mu.RLock()
			sink := c.sink
			c.mu.RUnlock()
			if sink != nil {
				sink(ev, data)
			}
		})
	}

	return nil
}

// WaitForConnect waits for the transport to report connected or times out.
func (c *Client) WaitForConnect(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.Connected() {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return c.Connected()
}

// Emit sends a named event to the server.
func (c *Client) Emit(event string, data map[string]any) error {
	c.mu.RLock()
	sock := c.socket
	c.mu.RUnlock()

	if sock == nil {
		return ErrNotConnected
	}
	logger.Tracef("emit: %s", event)
	if data == nil {
		sock.Emit(event)
		return nil
	}
	sock.Emit(event, data)
	return nil
}

// handleConnectError processes one failed connect attempt. The library stops
// retrying after reconnectAttempts consecutive failures without ever reporting
// so on the socket, so exhaustion is detected here by counting them.
func (c *Client) handleConnectError(args []any) {
	if len(args) > 0 {
		logger.Warnf("channel connect error: %v", args[0])
	}

	c.mu.Lock()
	c.connectErrors++
	var giveUp func()
	if c.connectErrors >= reconnectAttempts && !c.closed {
		c.connectErrors = 0
		giveUp = c.onReconnectFailed
	}
	c.mu.Unlock()

	if giveUp != nil {
		logger.Warnf("transport gave up after %d reconnect attempts", reconnectAttempts)
		giveUp()
	}
	c.maybeRefreshToken(args)
}

// maybeRefreshToken reacts to auth-flavored connect errors by refreshing the
// token and reconnecting with the new one.
func (c *Client) maybeRefreshToken(args []any) {
	if !looksLikeAuthError(args) {
		return
	}

	c.mu.Lock()
	refresher := c.refresher
	throttled := time.Since(c.lastRefreshAt) < minRefreshInterval
	if refresher != nil && !throttled {
		c.lastRefreshAt = time.Now()
	}
	c.mu.Unlock()

	if refresher == nil || throttled {
		return
	}

	go func() {
		token, err := refresher()
		if err != nil {
			logger.Errorf("token refresh failed: %v", err)
			return
		}
		c.mu.Lock()
		c.token = token
		reconnect := c.reconnectFn
		c.mu.Unlock()

		if err := reconnect(); err != nil {
			logger.Errorf("reconnect with refreshed token failed: %v", err)
		}
	}()
}

// reconnectWithFreshToken refreshes the token when a refresher is installed
// and re-dials. Used after a remote-initiated disconnect so the new handshake
// never presents a stale credential.
func (c *Client) reconnectWithFreshToken() error {
	c.mu.Lock()
	refresher := c.refresher
	c.mu.Unlock()

	if refresher != nil {
		token, err := refresher()
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.token = token
		c.mu.Unlock()
	}

	c.mu.Lock()
	reconnect := c.reconnectFn
	c.mu.Unlock()
	return reconnect()
}

// reconnect tears down the current socket and dials again with the held
// token.
func (c *Client) reconnect() error {
	c.mu.Lock()
	sock := c.socket
	c.socket = nil
	c.connected = false
	c.mu.Unlock()

	if sock != nil {
		sock.Disconnect()
	}
	return c.dial()
}

func looksLikeAuthError(args []any) bool {
	for _, arg := range args {
		text := ""
		switch v := arg.(type) {
		case string:
			text = v
		case error:
			text = v.Error()
		default:
			continue
		}
		text = strings.ToLower(text)
		if strings.Contains(text, "401") || strings.Contains(text, "unauthorized") ||
			strings.Contains(text, "auth") || strings.Contains(text, "token") {
			return true
		}
	}
	return false
}

// Close disconnects and discards the socket handle. No automatic reconnection
// happens afterwards; a later connect allocates a fresh handle.
func (c *Client) Close() error {
	c.mu.Lock()
	sock := c.socket
	c.socket = nil
	c.connected = false
	c.closed = true
	c.mu.Unlock()

	if sock != nil {
		sock.Disconnect()
	}
	return nil
}

// Connected reports whether the transport layer is currently established.
func (c *Client) Connected() bool {
	c.mu.RLock()
	sock := c.socket
	connected := c.connected
	c.mu.RUnlock()

	if connected {
		return true
	}
	return sock != nil && sock.Connected()
}
