package types

// User is the authenticated account identity returned by the auth endpoints.
type User struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	FullName  string `json:"full_name,omitempty"`
	City      string `json:"city,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// UserBasic is the reduced user shape embedded in threads and offers.
type UserBasic struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	City     string `json:"city,omitempty"`
}

// AuthResponse is the body returned by login and refresh.
type AuthResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

// Thread is a two-party conversation container.
//
// LastMessage/LastMessageAt are preview fields maintained by the server and
// patched locally from pushed messages. UnreadCount is a local counter; the
// REST snapshot seeds it and pushes mutate it.
type Thread struct {
	ID            int64     `json:"id"`
	Partner       UserBasic `json:"partner"`
	LastMessage   string    `json:"last_message,omitempty"`
	LastMessageAt string    `json:"last_message_at,omitempty"`
	UnreadCount   int       `json:"unread_count"`
}

// Message is a single chat message within a thread.
type Message struct {
	ID        int64  `json:"id"`
	ThreadID  int64  `json:"thread_id"`
	SenderID  int64  `json:"sender_id"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
	IsRead    bool   `json:"is_read,omitempty"`
}

// MessageMeta carries the thread preview fields attached to a pushed message.
type MessageMeta struct {
	LastMessage   string `json:"last_message,omitempty"`
	LastMessageAt string `json:"last_message_at,omitempty"`
}

// Offer is a proposed book exchange pushed over the channel.
type Offer struct {
	ID                int64  `json:"id"`
	BookID            int64  `json:"book_id"`
	BookTitle         string `json:"book_title"`
	RequesterID       int64  `json:"requester_id,omitempty"`
	RequesterUsername string `json:"requester_username"`
	Status            string `json:"status,omitempty"`
}

// StatusUpdate is a pushed exchange status transition.
type StatusUpdate struct {
	ExchangeID int64  `json:"exchange_id"`
	BookID     int64  `json:"book_id"`
	BookTitle  string `json:"book_title"`
	Status     string `json:"status"` // "accepted" | "rejected" | ...
}

// NotificationKind discriminates locally materialized notifications.
type NotificationKind string

const (
	NotificationExchangeOffer NotificationKind = "exchange_offer"
	NotificationStatusUpdate  NotificationKind = "status_update"
)

// Notification is a locally held, read/unread entry derived from channel
// events. The ID of an offer notification is the server exchange id; status
// updates use a derived "status-<exchangeID>" key so each transition remains a
// distinct entry.
type Notification struct {
	ID        string           `json:"id"`
	Kind      NotificationKind `json:"kind"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	BookID    int64            `json:"book_id,omitempty"`
	Status    string           `json:"status,omitempty"`
	CreatedAt string           `json:"created_at"`
	Read      bool             `json:"read"`
}
