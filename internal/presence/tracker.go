// Package presence tracks online/offline state per user identity.
package presence

import (
	"sync"

	"github.com/bookcross/cli/internal/events"
)

// Tracker maintains the presence map. Entries are authoritative until the
// next explicit offline event or process restart; there is no TTL.
type Tracker struct {
	mu     sync.RWMutex
	online map[int64]bool
	unsubs []func()
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{online: make(map[int64]bool)}
}

// Attach subscribes the tracker to presence events on the router. Detach
// revokes the subscriptions.
func (t *Tracker) Attach(router *events.Router) {
	t.unsubs = append(t.unsubs,
		router.Subscribe(events.EventOnlineUsers, t.handleSnapshot),
		router.Subscribe(events.EventUserOnline, func(data map[string]any) {
			t.handleStatus(data, true)
		}),
		router.Subscribe(events.EventUserOffline, func(data map[string]any) {
			t.handleStatus(data, false)
		}),
	)
}

// Detach revokes the router subscriptions.
func (t *Tracker) Detach() {
	for _, unsub := range t.unsubs {
		unsub()
	}
	t.unsubs = nil
}

// handleSnapshot applies a bulk "currently online" list. Snapshot entries are
// additive; users absent from the list are not forced offline because the
// event is a point-in-time roster, not a diff.
func (t *Tracker) handleSnapshot(data map[string]any) {
	users, ok := data["users"].([]any)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, raw := range users {
		if id, ok := asUserID(raw); ok {
			t.online[id] = true
		}
	}
}

func (t *Tracker) handleStatus(data map[string]any, online bool) {
	id, ok := asUserID(data["user_id"])
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online[id] = online
}

// IsOnline reports the last known state for a user. Unseen identities read as
// offline.
func (t *Tracker) IsOnline(userID int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.online[userID]
}

// Set records a presence state directly. Exposed for snapshot seeding in
// tests and tooling.
func (t *Tracker) Set(userID int64, online bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online[userID] = online
}

func asUserID(value any) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}
