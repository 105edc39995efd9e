// Package chat keeps the locally held conversation threads and the active
// thread's message sequence consistent with the server under concurrent local
// sends, REST snapshots and pushed messages.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/bookcross/cli/internal/api"
	"github.com/bookcross/cli/internal/events"
	"github.com/bookcross/cli/pkg/logger"
	"github.com/bookcross/cli/pkg/types"
)

var (
	// ErrEmptyMessage is returned when a send body trims to nothing.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNoActiveThread is returned when sending without a selected thread.
	ErrNoActiveThread = errors.New("no active thread")
	// ErrUnknownThread is returned when selecting a thread not in the list.
	ErrUnknownThread = errors.New("unknown thread")
)

// API is the REST surface the synchronizer calls. *api.Client satisfies it;
// tests use fakes.
type API interface {
	Threads(ctx context.Context) ([]types.Thread, error)
	Messages(ctx context.Context, threadID int64, limit int) ([]types.Message, error)
	CreateThread(ctx context.Context, partnerID int64) (types.Thread, error)
	CreateThreadByUsername(ctx context.Context, username string) (types.Thread, error)
	CreateThreadByBook(ctx context.Context, bookID int64) (types.Thread, error)
	SendMessage(ctx context.Context, threadID int64, content string) (types.Message, error)
}

// Synchronizer owns the thread collection and, for the single active thread,
// its append-only message sequence. At most one thread is active at a time.
type Synchronizer struct {
	api    API
	selfID int64

	mu       sync.Mutex
	threads  []types.Thread
	activeID int64 // 0 = none
	messages []types.Message
	// requestedID is a deep-linked thread id whose selection is deferred
	// until it shows up in a list refresh.
	requestedID int64
	lastError   string
	onChange    func()
	unsubs      []func()
}

// NewSynchronizer creates a synchronizer for the given local identity.
func NewSynchronizer(api API, selfID int64) *Synchronizer {
	return &Synchronizer{api: api, selfID: selfID}
}

// SetOnChange registers a callback fired after every state change. It runs on
// the mutating goroutine with no locks held.
func (s *Synchronizer) SetOnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Attach subscribes the synchronizer to pushed chat messages.
func (s *Synchronizer) Attach(router *events.Router) {
	s.unsubs = append(s.unsubs,
		router.Subscribe(events.EventChatMessage, s.HandleIncoming),
	)
}

// Detach revokes the router subscriptions.
func (s *Synchronizer) Detach() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
}

func (s *Synchronizer) notify() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// LoadThreads replaces the thread collection with a REST snapshot. The active
// thread stays selected when it survives the refresh; otherwise the first
// thread (or none) becomes active. A deferred deep-link selection wins over
// both when its thread appears.
func (s *Synchronizer) LoadThreads(ctx context.Context) error {
	threads, err := s.api.Threads(ctx)
	if err != nil {
		s.setError("failed to load threads")
		return err
	}

	s.mu.Lock()
	s.threads = threads

	prevActive := s.activeID
	nextActive := int64(0)
	if s.requestedID != 0 && containsThread(threads, s.requestedID) {
		nextActive = s.requestedID
		s.requestedID = 0
	} else if containsThread(threads, prevActive) {
		nextActive = prevActive
	} else if len(threads) > 0 {
		nextActive = threads[0].ID
	}
	s.activeID = nextActive
	if nextActive == 0 {
		s.messages = nil
	}
	s.mu.Unlock()
	s.notify()

	if nextActive != 0 && nextActive != prevActive {
		return s.LoadMessages(ctx, nextActive)
	}
	return nil
}

// SelectThread makes a thread active and loads its messages.
func (s *Synchronizer) SelectThread(ctx context.Context, threadID int64) error {
	s.mu.Lock()
	if !containsThread(s.threads, threadID) {
		s.mu.Unlock()
		return ErrUnknownThread
	}
	s.activeID = threadID
	s.mu.Unlock()
	s.notify()

	return s.LoadMessages(ctx, threadID)
}

// LoadMessages replaces the active message sequence with a REST snapshot and
// zeroes the thread's unread count. A response arriving after the thread
// stopped being active is dropped.
func (s *Synchronizer) LoadMessages(ctx context.Context, threadID int64) error {
	messages, err := s.api.Messages(ctx, threadID, 0)
	if err != nil {
		s.setError("failed to load messages")
		return err
	}

	s.mu.Lock()
	if s.activeID != threadID {
		// No longer the active consumer of this snapshot.
		s.mu.Unlock()
		return nil
	}
	s.messages = messages
	for i := range s.threads {
		if s.threads[i].ID == threadID {
			s.threads[i].UnreadCount = 0
		}
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

// StartThreadWithUser opens (or resumes) a conversation with a partner.
// Starting a thread with oneself is disallowed: an existing self-thread is
// selected if present, otherwise the call is a no-op. A create failure may
// mean the thread already exists, so the list is re-queried and searched
// before the server's error is surfaced.
func (s *Synchronizer) StartThreadWithUser(ctx context.Context, partnerID int64) error {
	if partnerID == s.selfID {
		s.mu.Lock()
		existing, ok := findPartnerThread(s.threads, partnerID)
		s.mu.Unlock()
		if ok {
			return s.SelectThread(ctx, existing.ID)
		}
		return nil
	}

	created, err := s.api.CreateThread(ctx, partnerID)
	if err == nil {
		if err := s.LoadThreads(ctx); err != nil {
			return err
		}
		s.clearError()
		return s.selectIfPresent(ctx, created.ID)
	}

	// Recoverable: the failure may mean "thread already exists".
	threads, fetchErr := s.api.Threads(ctx)
	if fetchErr == nil {
		s.mu.Lock()
		s.threads = threads
		existing, ok := findPartnerThread(threads, partnerID)
		s.mu.Unlock()
		s.notify()
		if ok {
			s.clearError()
			return s.SelectThread(ctx, existing.ID)
		}
	} else {
		logger.Warnf("thread list refresh after create failure: %v", fetchErr)
	}

	s.setError(errorDetail(err, "failed to open thread"))
	return err
}

// StartThreadByUsername opens a conversation with a partner addressed by
// username.
func (s *Synchronizer) StartThreadByUsername(ctx context.Context, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return ErrEmptyMessage
	}
	created, err := s.api.CreateThreadByUsername(ctx, username)
	if err != nil {
		s.setError(errorDetail(err, "failed to open thread"))
		return err
	}
	if err := s.LoadThreads(ctx); err != nil {
		return err
	}
	s.clearError()
	return s.selectIfPresent(ctx, created.ID)
}

// StartThreadByBook opens a conversation with the owner of a book.
func (s *Synchronizer) StartThreadByBook(ctx context.Context, bookID int64) error {
	created, err := s.api.CreateThreadByBook(ctx, bookID)
	if err != nil {
		s.setError(errorDetail(err, "failed to open thread"))
		return err
	}
	if err := s.LoadThreads(ctx); err != nil {
		return err
	}
	s.clearError()
	return s.selectIfPresent(ctx, created.ID)
}

// SendMessage sends to the active thread and appends the server-confirmed
// record to the local sequence.
func (s *Synchronizer) SendMessage(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	threadID := s.activeID
	s.mu.Unlock()
	if threadID == 0 {
		return ErrNoActiveThread
	}

	message, err := s.api.SendMessage(ctx, threadID, content)
	if err != nil {
		s.setError("failed to send message")
		return err
	}

	s.mu.Lock()
	if s.activeID == threadID {
		s.appendLocked(message)
	}
	for i := range s.threads {
		if s.threads[i].ID == threadID {
			s.threads[i].LastMessage = message.Content
			s.threads[i].LastMessageAt = message.CreatedAt
			s.threads[i].UnreadCount = 0
		}
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

// incomingPayload is the chat_message event body.
type incomingPayload struct {
	ThreadID int64             `json:"thread_id"`
	Message  types.Message     `json:"message"`
	Meta     types.MessageMeta `json:"meta"`
}

// HandleIncoming applies a pushed chat message. An unknown thread id means
// the other participant created the thread; the list refresh runs in the
// background so the event pipeline is not held up by a REST round-trip.
func (s *Synchronizer) HandleIncoming(data map[string]any) {
	var payload incomingPayload
	if err := decodePayload(data, &payload); err != nil || payload.Message.ID == 0 {
		logger.Warnf("bad chat_message payload: %v", err)
		return
	}
	if payload.ThreadID == 0 {
		payload.ThreadID = payload.Message.ThreadID
	}

	s.mu.Lock()
	if !containsThread(s.threads, payload.ThreadID) {
		s.mu.Unlock()
		go func() {
			if err := s.LoadThreads(context.Background()); err != nil {
				logger.Warnf("thread refresh after pushed message: %v", err)
			}
		}()
		return
	}

	isActive := s.activeID == payload.ThreadID
	isOwn := payload.Message.SenderID == s.selfID

	for i := range s.threads {
		if s.threads[i].ID != payload.ThreadID {
			continue
		}
		s.threads[i].LastMessage = payload.Meta.LastMessage
		if s.threads[i].LastMessage == "" {
			s.threads[i].LastMessage = payload.Message.Content
		}
		s.threads[i].LastMessageAt = payload.Meta.LastMessageAt
		if s.threads[i].LastMessageAt == "" {
			s.threads[i].LastMessageAt = payload.Message.CreatedAt
		}
		if isActive || isOwn {
			s.threads[i].UnreadCount = 0
		} else {
			s.threads[i].UnreadCount++
		}
	}

	if isActive {
		// Guards against the REST-confirmed echo of a just-sent message
		// also arriving via push.
		s.appendLocked(payload.Message)
	}
	s.mu.Unlock()
	s.notify()
}

// OpenThread resolves a deep-linked thread id. Selection is deferred behind a
// list refresh when the thread isn't known yet.
func (s *Synchronizer) OpenThread(ctx context.Context, threadID int64) error {
	s.mu.Lock()
	known := containsThread(s.threads, threadID)
	if !known {
		s.requestedID = threadID
	}
	s.mu.Unlock()

	if known {
		return s.SelectThread(ctx, threadID)
	}
	return s.LoadThreads(ctx)
}

// OpenPartner resolves a deep-linked partner id to an existing thread, or
// initiates thread creation.
func (s *Synchronizer) OpenPartner(ctx context.Context, partnerID int64) error {
	s.mu.Lock()
	existing, ok := findPartnerThread(s.threads, partnerID)
	s.mu.Unlock()

	if ok {
		return s.SelectThread(ctx, existing.ID)
	}
	return s.StartThreadWithUser(ctx, partnerID)
}

// Threads returns a copy of the thread collection.
func (s *Synchronizer) Threads() []types.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Thread, len(s.threads))
	copy(out, s.threads)
	return out
}

// ActiveThread returns the active thread, if any.
func (s *Synchronizer) ActiveThread() (types.Thread, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, thread := range s.threads {
		if thread.ID == s.activeID {
			return thread, true
		}
	}
	return types.Thread{}, false
}

// Messages returns a copy of the active thread's message sequence.
func (s *Synchronizer) Messages() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// LastError returns the current user-visible error string, "" when clear.
func (s *Synchronizer) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// ClearError clears the user-visible error string.
func (s *Synchronizer) ClearError() {
	s.clearError()
}

func (s *Synchronizer) setError(message string) {
	s.mu.Lock()
	s.lastError = message
	s.mu.Unlock()
	s.notify()
}

func (s *Synchronizer) clearError() {
	s.mu.Lock()
	changed := s.lastError != ""
	s.lastError = ""
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// selectIfPresent selects a thread when the refreshed list contains it, and
// defers otherwise (the list may still be catching up to the create).
func (s *Synchronizer) selectIfPresent(ctx context.Context, threadID int64) error {
	s.mu.Lock()
	known := containsThread(s.threads, threadID)
	if !known {
		s.requestedID = threadID
	}
	s.mu.Unlock()

	if known {
		return s.SelectThread(ctx, threadID)
	}
	return nil
}

// appendLocked appends a message unless its id is already present. Must be
// called with the lock held.
func (s *Synchronizer) appendLocked(message types.Message) {
	for _, existing := range s.messages {
		if existing.ID == message.ID {
			return
		}
	}
	s.messages = append(s.messages, message)
}

func containsThread(threads []types.Thread, id int64) bool {
	if id == 0 {
		return false
	}
	for _, thread := range threads {
		if thread.ID == id {
			return true
		}
	}
	return false
}

func findPartnerThread(threads []types.Thread, partnerID int64) (types.Thread, bool) {
	for _, thread := range threads {
		if thread.Partner.ID == partnerID {
			return thread, true
		}
	}
	return types.Thread{}, false
}

// errorDetail prefers the server-provided detail string over a generic
// fallback for user-facing error state.
func errorDetail(err error, fallback string) string {
	var apiErr *api.Error
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return fallback
}

func decodePayload(data map[string]any, out any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
