package events

// Server-pushed event names carried on the channel.
const (
	EventAuthSuccess  = "auth_success"
	EventAuthError    = "auth_error"
	EventOnlineUsers  = "online_users"
	EventUserOnline   = "user_online"
	EventUserOffline  = "user_offline"
	EventNewExchanges = "new_exchanges"
	EventStatusUpdate = "exchange_status_update"
	EventChatMessage  = "chat_message"
)

// Client-emitted event names.
const (
	EventGetOnlineUsers = "get_online_users"
)

// ServerEvents lists every named event the server can push. The transport
// registers a forwarder for each at connect time.
var ServerEvents = []string{
	EventAuthSuccess,
	EventAuthError,
	EventOnlineUsers,
	EventUserOnline,
	EventUserOffline,
	EventNewExchanges,
	EventStatusUpdate,
	EventChatMessage,
}
