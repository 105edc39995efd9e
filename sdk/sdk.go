// Package sdk assembles the realtime core into one injectable client: the
// credential store, REST client, event channel, session gate and the three
// event consumers (presence, notifications, chat). UI layers observe it
// through the Listener interface; the core assumes no rendering mechanism.
package sdk

import (
	"context"
	"fmt"
	"sync"

	"github.com/bookcross/cli/internal/api"
	"github.com/bookcross/cli/internal/auth"
	"github.com/bookcross/cli/internal/chat"
	"github.com/bookcross/cli/internal/config"
	"github.com/bookcross/cli/internal/events"
	"github.com/bookcross/cli/internal/notify"
	"github.com/bookcross/cli/internal/presence"
	"github.com/bookcross/cli/internal/session"
	"github.com/bookcross/cli/internal/transport"
	"github.com/bookcross/cli/pkg/logger"
	"github.com/bookcross/cli/pkg/types"
)

const (
	// defaultDispatcherQueueSize is the mailbox size used by SDK dispatchers.
	defaultDispatcherQueueSize = 256
)

// Listener receives SDK events. Methods must be safe to call from any
// goroutine; they are invoked one at a time.
type Listener interface {
	// OnConnected is called after the channel transport is established.
	OnConnected()
	// OnDisconnected is called after the channel transport drops.
	OnDisconnected(reason string)
	// OnNotificationsChanged is called after the notification list mutates.
	OnNotificationsChanged()
	// OnChatChanged is called after chat state mutates.
	OnChatChanged()
	// OnError delivers non-fatal errors for display/logging.
	OnError(message string)
}

// Client is the realtime core client.
//
// Client owns:
// - the credential store and its disk persistence
// - the REST client and the Socket.IO channel
// - the session gate (the only component transitioning channel state)
// - presence, notification and chat state
//
// All public operations are serialized on a single dispatch goroutine.
type Client struct {
	cfg *config.Config

	creds         *auth.Store
	api           *api.Client
	router        *events.Router
	channel       *transport.Client
	gate          *session.Gate
	presence      *presence.Tracker
	notifications *notify.Aggregator

	mu       sync.Mutex
	chatSync *chat.Synchronizer
	listener Listener

	dispatch  *dispatcher
	callbacks *dispatcher
}

// NewClient wires a client from configuration. Call Init before use and
// Shutdown when done; tests instantiate fresh clients per case.
func NewClient(cfg *config.Config) *Client {
	c := &Client{
		cfg:           cfg,
		router:        events.NewRouter(),
		presence:      presence.NewTracker(),
		notifications: notify.NewAggregator(),
		dispatch:      newDispatcher(defaultDispatcherQueueSize),
		callbacks:     newDispatcher(defaultDispatcherQueueSize),
	}

	creds := auth.NewStore(cfg.CredentialsFile)
	c.creds = creds
	c.api = api.NewClient(cfg.ServerURL, creds)

	c.channel = transport.NewClient(cfg.SocketURL, cfg.SocketPath, cfg.Debug)
	c.channel.OnEvent(c.router.Dispatch)
	c.channel.OnConnect(func() {
		c.emit(func(l Listener) { l.OnConnected() })
	})
	c.channel.OnDisconnect(func(reason string) {
		c.gate.HandleDisconnect(reason)
		c.emit(func(l Listener) { l.OnDisconnected(reason) })
	})
	c.channel.OnReconnectFailed(func() {
		c.gate.HandleReconnectFailed()
		c.emit(func(l Listener) { l.OnError("realtime connection lost, retrying on next use") })
	})
	c.channel.SetTokenRefresher(func() (string, error) {
		if err := c.api.Refresh(context.Background()); err != nil {
			return "", err
		}
		session, err := creds.Current()
		if err != nil {
			return "", err
		}
		return session.AccessToken, nil
	})

	c.gate = session.NewGate(c.router, c.channel,
		c.api.Refresh,
		func() (string, error) {
			session, err := creds.Current()
			if err != nil {
				return "", err
			}
			return session.AccessToken, nil
		},
		func() {
			// Refresh is unrecoverable; terminate the session.
			if err := c.logout(); err != nil {
				logger.Warnf("logout after refresh failure: %v", err)
			}
			c.emit(func(l Listener) { l.OnError("session expired, please log in again") })
		},
	)

	c.presence.Attach(c.router)
	c.notifications.Attach(c.router)
	c.notifications.SetOnChange(func() {
		c.emit(func(l Listener) { l.OnNotificationsChanged() })
	})

	return c
}

// Init loads persisted credentials and applies the configured log level.
func (c *Client) Init() error {
	_, err := c.dispatch.call(func() (any, error) {
		if c.cfg.LogLevel != "" {
			level, err := logger.ParseLevel(c.cfg.LogLevel)
			if err != nil {
				return nil, err
			}
			logger.SetLevel(level)
		}
		if err := c.creds.Load(); err != nil {
			return nil, err
		}
		if _, ok := c.creds.Identity(); ok {
			c.ensureChat()
		}
		return nil, nil
	})
	return err
}

// Shutdown closes the channel, revokes subscriptions and releases HTTP
// resources. The client must not be reused afterwards.
func (c *Client) Shutdown() {
	_, _ = c.dispatch.call(func() (any, error) {
		c.gate.Shutdown()
		c.presence.Detach()
		c.notifications.Detach()
		c.mu.Lock()
		if c.chatSync != nil {
			c.chatSync.Detach()
		}
		c.mu.Unlock()
		return nil, c.api.Close()
	})
	c.callbacks.close()
	c.dispatch.close()
}

// SetListener registers the listener for SDK events.
func (c *Client) SetListener(listener Listener) {
	_, _ = c.dispatch.call(func() (any, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.listener = listener
		return nil, nil
	})
}

// Login authenticates with email/password and persists the session.
func (c *Client) Login(ctx context.Context, email, password string) (types.User, error) {
	value, err := c.dispatch.call(func() (any, error) {
		resp, err := c.api.Login(ctx, email, password)
		if err != nil {
			return nil, err
		}
		c.ensureChat()
		return resp.User, nil
	})
	if err != nil {
		return types.User{}, err
	}
	return value.(types.User), nil
}

// Logout closes the channel and destroys the session.
func (c *Client) Logout() error {
	_, err := c.dispatch.call(func() (any, error) {
		return nil, c.logout()
	})
	return err
}

func (c *Client) logout() error {
	_ = c.gate.Close()
	c.mu.Lock()
	if c.chatSync != nil {
		c.chatSync.Detach()
		c.chatSync = nil
	}
	c.mu.Unlock()
	return c.creds.Clear()
}

// Connect ensures the channel is open and authenticated. Safe to call
// repeatedly; a second call while an attempt is in flight is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.dispatch.call(func() (any, error) {
		if _, ok := c.creds.Identity(); !ok {
			return nil, auth.ErrNoSession
		}
		c.ensureChat()
		return nil, c.gate.EnsureConnected(ctx)
	})
	return err
}

// Disconnect closes the channel without touching credentials.
func (c *Client) Disconnect() {
	_, _ = c.dispatch.call(func() (any, error) {
		return nil, c.gate.Close()
	})
}

// EnsureFreshToken refreshes the access token when it is near expiry.
// Call before bursts of REST traffic; the session gate performs its own
// refresh on connect regardless.
func (c *Client) EnsureFreshToken(ctx context.Context) error {
	_, err := c.dispatch.call(func() (any, error) {
		if !c.creds.AccessTokenExpiringSoon(auth.RefreshWindow) {
			return nil, nil
		}
		return nil, c.api.Refresh(ctx)
	})
	return err
}

// Identity returns the authenticated user, or false when logged out.
func (c *Client) Identity() (types.User, bool) {
	return c.creds.Identity()
}

// State returns the channel connection state.
func (c *Client) State() session.State {
	return c.gate.State()
}

// Presence exposes the presence tracker.
func (c *Client) Presence() *presence.Tracker {
	return c.presence
}

// Notifications exposes the notification aggregator.
func (c *Client) Notifications() *notify.Aggregator {
	return c.notifications
}

// Chat exposes the chat synchronizer. It is nil until a session exists.
func (c *Client) Chat() *chat.Synchronizer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chatSync
}

// ensureChat builds the chat synchronizer for the current identity.
// The synchronizer needs the local user id to classify self-authored
// messages, so it only exists while logged in.
func (c *Client) ensureChat() {
	identity, ok := c.creds.Identity()
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chatSync != nil {
		return
	}
	cs := chat.NewSynchronizer(c.api, identity.ID)
	cs.Attach(c.router)
	cs.SetOnChange(func() {
		c.emit(func(l Listener) { l.OnChatChanged() })
	})
	c.chatSync = cs
}

// emit delivers a listener callback on the callback dispatcher.
func (c *Client) emit(fn func(Listener)) {
	c.mu.Lock()
	listener := c.listener
	c.mu.Unlock()
	if listener == nil {
		return
	}
	_ = c.callbacks.do(func() { fn(listener) })
}

// String describes the client for debug logs.
func (c *Client) String() string {
	return fmt.Sprintf("sdk.Client(server=%s, state=%s)", c.cfg.ServerURL, c.gate.State())
}
