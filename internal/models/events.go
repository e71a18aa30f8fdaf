package models

type EventType string

// Events accepted from a client connection.
const (
	EventIdentify      EventType = "identify"
	EventSendMessage   EventType = "send-message"
	EventTypingStart   EventType = "typing-start"
	EventTypingStop    EventType = "typing-stop"
	EventMessageRead   EventType = "message-read"
	EventHeartbeatPing EventType = "heartbeat-ping"
)

// Events emitted to client connections.
const (
	EventPresenceOnline      EventType = "presence-online"
	EventPresenceOffline     EventType = "presence-offline"
	EventOnlineCount         EventType = "online-count"
	EventConnectionConfirmed EventType = "connection-confirmed"
	EventSyncRequired        EventType = "sync-required"
	EventNewMessage          EventType = "new-message"
	EventMessageConfirmed    EventType = "message-confirmed"
	EventMessageFailed       EventType = "message-failed"
	EventMessageError        EventType = "message-error"
	EventUserTyping          EventType = "user-typing"
	EventUserStopTyping      EventType = "user-stop-typing"
	EventMessageReadReceipt  EventType = "message-read-receipt"
	EventHeartbeatPong       EventType = "heartbeat-pong"
)

// ClientEvent is the envelope for everything a client sends over the socket.
// Fields are a union across event types; only the ones relevant to Type are set.
type ClientEvent struct {
	Type EventType `json:"type"`

	// identify
	UserID string `json:"userId,omitempty"`

	// send-message
	ReceiverID string `json:"receiverId,omitempty"`
	Content    string `json:"content,omitempty"`
	TempID     string `json:"tempId,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`

	// typing-start / typing-stop
	ToUserID   string `json:"toUserId,omitempty"`
	FromUserID string `json:"fromUserId,omitempty"`
	Username   string `json:"username,omitempty"`

	// message-read
	MessageID string `json:"messageId,omitempty"`
	SenderID  string `json:"senderId,omitempty"`
}

// ServerEvent is the envelope for everything the server emits to a client.
type ServerEvent struct {
	Type EventType `json:"type"`
	Data any       `json:"data,omitempty"`
}

type PresencePayload struct {
	UserID  string  `json:"userId"`
	Profile Profile `json:"profile"`
}

type OfflinePayload struct {
	UserID string `json:"userId"`
}

type CountPayload struct {
	Count int `json:"count"`
}

type ConnectedPayload struct {
	UserID string `json:"userId"`
	Count  int    `json:"count"`
}

type ConfirmedPayload struct {
	TempID  string  `json:"tempId"`
	Message Message `json:"message"`
}

type FailedPayload struct {
	TempID string `json:"tempId"`
}

type ErrorPayload struct {
	TempID string `json:"tempId,omitempty"`
	Reason string `json:"reason"`
}

type TypingPayload struct {
	FromUserID string `json:"fromUserId"`
	Username   string `json:"username,omitempty"`
}

type ReadReceiptPayload struct {
	MessageID string `json:"messageId"`
	ReadAt    int64  `json:"readAt"`
}

type PongPayload struct {
	Timestamp int64 `json:"timestamp"`
}
