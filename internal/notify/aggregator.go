// Package notify materializes pushed exchange events into a locally held
// read/unread notification list.
package notify

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bookcross/cli/internal/events"
	"github.com/bookcross/cli/pkg/logger"
	"github.com/bookcross/cli/pkg/types"
)

// Aggregator owns the notification list. No other component writes it.
type Aggregator struct {
	mu       sync.Mutex
	list     []types.Notification
	onChange func()
	unsubs   []func()

	// now is swapped in tests.
	now func() time.Time
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{now: time.Now}
}

// SetOnChange registers a callback fired after every mutation. The callback
// runs on the mutating goroutine with no locks held.
func (a *Aggregator) SetOnChange(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onChange = fn
}

// Attach subscribes the aggregator to exchange events on the router.
func (a *Aggregator) Attach(router *events.Router) {
	a.unsubs = append(a.unsubs,
		router.Subscribe(events.EventNewExchanges, a.handleNewExchanges),
		router.Subscribe(events.EventStatusUpdate, a.handleStatusUpdate),
	)
}

// Detach revokes the router subscriptions.
func (a *Aggregator) Detach() {
	for _, unsub := range a.unsubs {
		unsub()
	}
	a.unsubs = nil
}

// handleNewExchanges appends one unread notification per offer not already
// present, keyed by the server exchange id.
func (a *Aggregator) handleNewExchanges(data map[string]any) {
	var payload struct {
		Exchanges []types.Offer `json:"exchanges"`
	}
	if err := decodePayload(data, &payload); err != nil {
		logger.Warnf("bad new_exchanges payload: %v", err)
		return
	}

	changed := false
	a.mu.Lock()
	for _, offer := range payload.Exchanges {
		id := strconv.FormatInt(offer.ID, 10)
		if a.contains(id) {
			continue
		}
		a.list = append(a.list, types.Notification{
			ID:        id,
			Kind:      types.NotificationExchangeOffer,
			Title:     "New exchange offer",
			Message:   fmt.Sprintf("%s wants to exchange your book %q", offer.RequesterUsername, offer.BookTitle),
			BookID:    offer.BookID,
			CreatedAt: a.now().UTC().Format(time.RFC3339),
			Read:      false,
		})
		changed = true
	}
	fn := a.onChange
	a.mu.Unlock()

	if changed && fn != nil {
		fn()
	}
}

// handleStatusUpdate always appends: repeated transitions for the same
// exchange each produce a distinct visible entry.
func (a *Aggregator) handleStatusUpdate(data map[string]any) {
	var update types.StatusUpdate
	if err := decodePayload(data, &update); err != nil {
		logger.Warnf("bad exchange_status_update payload: %v", err)
		return
	}

	title := "Exchange rejected"
	verb := "rejected"
	if update.Status == "accepted" {
		title = "Exchange accepted"
		verb = "accepted"
	}

	a.mu.Lock()
	a.list = append(a.list, types.Notification{
		ID:        fmt.Sprintf("status-%d", update.ExchangeID),
		Kind:      types.NotificationStatusUpdate,
		Title:     title,
		Message:   fmt.Sprintf("Your offer for the book %q was %s", update.BookTitle, verb),
		BookID:    update.BookID,
		Status:    update.Status,
		CreatedAt: a.now().UTC().Format(time.RFC3339),
		Read:      false,
	})
	fn := a.onChange
	a.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// List returns a copy of the notification list, oldest first.
func (a *Aggregator) List() []types.Notification {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]types.Notification, len(a.list))
	copy(out, a.list)
	return out
}

// Unread returns the number of unread notifications.
func (a *Aggregator) Unread() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, item := range a.list {
		if !item.Read {
			n++
		}
	}
	return n
}

// MarkRead marks the matching entry read. Reports whether it was found.
func (a *Aggregator) MarkRead(id string) bool {
	a.mu.Lock()
	found := false
	for i := range a.list {
		if a.list[i].ID == id {
			a.list[i].Read = true
			found = true
		}
	}
	fn := a.onChange
	a.mu.Unlock()

	if found && fn != nil {
		fn()
	}
	return found
}

// Clear empties the whole list unconditionally.
func (a *Aggregator) Clear() {
	a.mu.Lock()
	a.list = nil
	fn := a.onChange
	a.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// contains must be called with the lock held.
func (a *Aggregator) contains(id string) bool {
	for _, item := range a.list {
		if item.ID == id {
			return true
		}
	}
	return false
}

// decodePayload converts a decoded event map into a typed payload.
func decodePayload(data map[string]any, out any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
