package models

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrUserExists = errors.New("user already exists")
)

// ValidationError is returned for malformed send requests. It is reported to
// the sender synchronously and never reaches the store or the receiver.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

type UserStatus string

const (
	UserStatusCreated UserStatus = "created"
	UserStatusActive  UserStatus = "active"
	UserStatusDeleted UserStatus = "deleted"
)

// User represents a user in the system.
type User struct {
	ID          string     `json:"id"`
	UserName    string     `json:"userName"`
	DisplayName string     `json:"displayName"`
	AvatarURL   string     `json:"avatarUrl"`
	Status      UserStatus `json:"status"`
	Online      bool       `json:"online"`
	LastSeen    int64      `json:"lastSeen"` // Unix timestamp (seconds)
}

// Profile is the public subset of User carried by presence events.
type Profile struct {
	ID          string `json:"id"`
	UserName    string `json:"userName"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

func (u User) Profile() Profile {
	return Profile{
		ID:          u.ID,
		UserName:    u.UserName,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
	}
}

type MessageStatus string

const (
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusConfirmed MessageStatus = "confirmed"
	MessageStatusFailed    MessageStatus = "failed"
)

// Message is a durably persisted chat message.
type Message struct {
	ID          string `json:"id"`
	Seq         int64  `json:"seq"`
	SenderID    string `json:"senderId"`
	ReceiverID  string `json:"receiverId"`
	Content     string `json:"content"`
	ContentHTML string `json:"contentHtml,omitempty"`
	CreatedAt   int64  `json:"createdAt"` // Unix timestamp (milliseconds)
}

// PendingMessage is the in-flight representation of a send before the store
// has assigned a durable identity. TempID is a correlation token scoped to
// one sender's session, never a durable key.
type PendingMessage struct {
	TempID          string        `json:"tempId"`
	SenderID        string        `json:"senderId"`
	ReceiverID      string        `json:"receiverId"`
	Content         string        `json:"content"`
	CreatedAtClient int64         `json:"createdAtClient"`
	Status          MessageStatus `json:"status"`
	Sender          Profile       `json:"sender"`
	Receiver        Profile       `json:"receiver"`
}

// PushSubscription is a Web Push endpoint registered by a user's client.
type PushSubscription struct {
	UserID   string `json:"userId"`
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}
