// Package api is the REST client for the bookcross server. It covers the auth
// endpoints plus the chat endpoints the realtime core needs for snapshots and
// outbound actions; book/exchange CRUD is out of scope here.
package api

import (
	"context"
	"fmt"
	"time"

	resty "resty.dev/v3"

	"github.com/bookcross/cli/internal/auth"
	"github.com/bookcross/cli/pkg/types"
)

const (
	// defaultTimeout is the per-request timeout.
	defaultTimeout = 15 * time.Second
	// defaultMessageLimit matches the server's message page size.
	defaultMessageLimit = 50
)

// Error is a non-2xx REST response. Detail carries the server's user-facing
// error string when present.
type Error struct {
	StatusCode int
	Detail     string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("api error %d", e.StatusCode)
}

type errorBody struct {
	Detail string `json:"detail"`
}

// Client is the REST client. All methods are safe for concurrent use.
type Client struct {
	rest  *resty.Client
	creds *auth.Store
}

// NewClient creates a REST client bound to the credential store. The store
// supplies the bearer token per request and receives refreshed sessions.
func NewClient(serverURL string, creds *auth.Store) *Client {
	rest := resty.New().
		SetBaseURL(serverURL).
		SetTimeout(defaultTimeout)
	return &Client{rest: rest, creds: creds}
}

// Close releases the underlying HTTP resources.
func (c *Client) Close() error {
	return c.rest.Close()
}

func (c *Client) request(ctx context.Context, result any) *resty.Request {
	req := c.rest.R().SetContext(ctx)
	if session, err := c.creds.Current(); err == nil && session.AccessToken != "" {
		req.SetAuthToken(session.AccessToken)
	}
	if result != nil {
		req.SetResult(result)
	}
	return req
}

// asError converts a transport error or non-2xx response into an error.
func asError(res *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if res.IsError() {
		apiErr := &Error{StatusCode: res.StatusCode()}
		if body, ok := res.Error().(*errorBody); ok && body != nil {
			apiErr.Detail = body.Detail
		}
		return apiErr
	}
	return nil
}

// Login authenticates with email/password and replaces the stored session.
func (c *Client) Login(ctx context.Context, email, password string) (types.AuthResponse, error) {
	var out types.AuthResponse
	res, err := c.request(ctx, &out).
		SetError(&errorBody{}).
		SetBody(map[string]string{"email": email, "password": password}).
		Post("/api/auth/login")
	if err := asError(res, err); err != nil {
		return types.AuthResponse{}, fmt.Errorf("login: %w", err)
	}
	if err := c.creds.Replace(auth.Session{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		Identity:     out.User,
	}); err != nil {
		return types.AuthResponse{}, err
	}
	return out, nil
}

// Refresh trades the stored refresh token for a fresh token pair and replaces
// the session. The caller decides what a failure means for the session; this
// method never clears credentials itself.
func (c *Client) Refresh(ctx context.Context) error {
	session, err := c.creds.Current()
	if err != nil {
		return err
	}
	if session.RefreshToken == "" {
		return auth.ErrNoSession
	}

	var out types.AuthResponse
	res, err := c.request(ctx, &out).
		SetError(&errorBody{}).
		SetBody(map[string]string{"refresh_token": session.RefreshToken}).
		Post("/api/auth/refresh")
	if err := asError(res, err); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	identity := out.User
	if identity.ID == 0 {
		identity = session.Identity
	}
	return c.creds.Replace(auth.Session{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		Identity:     identity,
	})
}

// Threads fetches the thread list snapshot.
func (c *Client) Threads(ctx context.Context) ([]types.Thread, error) {
	var out []types.Thread
	res, err := c.request(ctx, &out).
		SetError(&errorBody{}).
		Get("/api/chat/threads")
	if err := asError(res, err); err != nil {
		return nil, fmt.Errorf("fetch threads: %w", err)
	}
	return out, nil
}

// Messages fetches a thread's message snapshot, oldest first. A limit of 0
// uses the server default.
func (c *Client) Messages(ctx context.Context, threadID int64, limit int) ([]types.Message, error) {
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	var out []types.Message
	res, err := c.request(ctx, &out).
		SetError(&errorBody{}).
		SetQueryParam("limit", fmt.Sprintf("%d", limit)).
		Get(fmt.Sprintf("/api/chat/threads/%d/messages", threadID))
	if err := asError(res, err); err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	return out, nil
}

// CreateThread opens (or returns the existing) thread with a partner.
func (c *Client) CreateThread(ctx context.Context, partnerID int64) (types.Thread, error) {
	var out types.Thread
	res, err := c.request(ctx, &out).
		SetError(&errorBody{}).
		SetBody(map[string]int64{"partner_id": partnerID}).
		Post("/api/chat/threads")
	if err := asError(res, err); err != nil {
		return types.Thread{}, fmt.Errorf("create thread: %w", err)
	}
	return out, nil
}

// CreateThreadByUsername opens a thread with a partner addressed by username.
func (c *Client) CreateThreadByUsername(ctx context.Context, username string) (types.Thread, error) {
	var out types.Thread
	res, err := c.request(ctx, &out).
		SetError(&errorBody{}).
		SetBody(map[string]string{"username": username}).
		Post("/api/chat/threads/by-username")
	if err := asError(res, err); err != nil {
		return types.Thread{}, fmt.Errorf("create thread by username: %w", err)
	}
	return out, nil
}

// CreateThreadByBook opens a thread with the owner of a book.
func (c *Client) CreateThreadByBook(ctx context.Context, bookID int64) (types.Thread, error) {
	var out types.Thread
	res, err := c.request(ctx, &out).
		SetError(&errorBody{}).
		SetBody(map[string]int64{"book_id": bookID}).
		Post("/api/chat/threads/by-book")
	if err := asError(res, err); err != nil {
		return types.Thread{}, fmt.Errorf("create thread by book: %w", err)
	}
	return out, nil
}

// SendMessage posts a message to a thread and returns the server-assigned
// message record.
func (c *Client) SendMessage(ctx context.Context, threadID int64, content string) (types.Message, error) {
	var out types.Message
	res, err := c.request(ctx, &out).
		SetError(&errorBody{}).
		SetBody(map[string]string{"content": content}).
		Post(fmt.Sprintf("/api/chat/threads/%d/messages", threadID))
	if err := asError(res, err); err != nil {
		return types.Message{}, fmt.Errorf("send message: %w", err)
	}
	return out, nil
}
