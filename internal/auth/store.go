// Package auth holds the credential store: the current access/refresh token
// pair and the authenticated identity. The store is the only writer of the
// session; login, refresh and logout go through Replace/Clear.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bookcross/cli/pkg/types"
)

const (
	// RefreshWindow is how soon before expiry a token counts as stale.
	RefreshWindow = 10 * time.Minute
)

// ErrNoSession is returned when no credentials are held.
var ErrNoSession = errors.New("not logged in")

// Session is the persisted credential state.
type Session struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	Identity     types.User `json:"identity"`
}

// Store owns the session. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	path    string
	session *Session
}

// NewStore creates a store persisting to path. Pass "" for a memory-only
// store (tests).
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads previously persisted credentials from disk. A missing file is
// not an error; the store just stays empty.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read credentials: %w", err)
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return fmt.Errorf("failed to parse credentials: %w", err)
	}
	s.session = &session
	return nil
}

// Current returns a copy of the held session.
func (s *Store) Current() (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return Session{}, ErrNoSession
	}
	return *s.session, nil
}

// Identity returns the authenticated user, or false when logged out.
func (s *Store) Identity() (types.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return types.User{}, false
	}
	return s.session.Identity, true
}

// Replace swaps in a new session and persists it.
func (s *Store) Replace(session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = &session
	if s.path == "" {
		return nil
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	return nil
}

// Clear destroys the session, in memory and on disk. Used on logout and on
// irrecoverable refresh failure.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = nil
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	return nil
}

// AccessTokenExpiringSoon reports whether the access token expires within
// window. Tokens without an exp claim never count as expiring.
func (s *Store) AccessTokenExpiringSoon(window time.Duration) bool {
	session, err := s.Current()
	if err != nil {
		return false
	}
	exp, ok := tokenExpiresAt(session.AccessToken)
	if !ok {
		return false
	}
	return time.Until(exp) <= window
}

// tokenExpiresAt extracts the exp claim without verifying the signature. The
// client only schedules refreshes from it; the server remains the authority.
func tokenExpiresAt(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
