package models

import "time"

// User is a registered ChatFlow account. IDs are UUIDs so they can be
// referenced from websocket payloads and push registrations without
// leaking insertion order.
type User struct {
	ID           string
	Username     string
	DisplayName  string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Friend request lifecycle states.
const (
	FriendRequestPending  = "pending"
	FriendRequestAccepted = "accepted"
	FriendRequestRejected = "rejected"
)

// FriendRequest is a pending or resolved contact invitation.
type FriendRequest struct {
	ID          int64
	FromUserID  string
	ToUserID    string
	Status      string
	CreatedAt   time.Time
	RespondedAt *time.Time
}

// Contact is one direction of a mutual contact relationship. Accepting a
// friend request creates both directions; Blocked is per-direction so one
// side can block without the other noticing.
type Contact struct {
	UserID    string
	ContactID string
	Blocked   bool
	CreatedAt time.Time
}

// Message is a persisted one-to-one chat message.
type Message struct {
	ID           string
	SenderID     string
	RecipientID  string
	Body         string
	AttachmentID *string
	ReadAt       *time.Time
	SentAt       time.Time
}

// Attachment is file metadata referenced by messages. The bytes live on
// disk under the data directory; the row records ownership and type.
type Attachment struct {
	ID        string
	OwnerID   string
	FileName  string
	MimeType  string
	SizeBytes int64
	CreatedAt time.Time
}

// PushToken registers a device for FCM wake-ups when its user is offline.
type PushToken struct {
	ID         int64
	UserID     string
	Token      string
	Platform   string
	DeviceID   string
	AppVersion string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
