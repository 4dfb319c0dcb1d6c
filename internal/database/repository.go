package database

import (
	"context"

	"github.com/chatflow/chatflow/internal/database/models"
)

// UserRepository manages registered accounts.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Search(ctx context.Context, query, excludeUserID string, limit int) ([]models.User, error)
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int64, error)
}

// FriendRequestRepository manages contact invitations.
type FriendRequestRepository interface {
	Create(ctx context.Context, req *models.FriendRequest) error
	GetByID(ctx context.Context, id int64) (*models.FriendRequest, error)
	GetPendingBetween(ctx context.Context, fromUserID, toUserID string) (*models.FriendRequest, error)
	ListIncoming(ctx context.Context, userID string) ([]models.FriendRequest, error)
	ListOutgoing(ctx context.Context, userID string) ([]models.FriendRequest, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
	Delete(ctx context.Context, id int64) error
}

// ContactRepository manages the mutual contact graph. AreContacts is the
// gate the realtime layer consults before relaying chats and calls.
type ContactRepository interface {
	AddMutual(ctx context.Context, userID, otherID string) error
	List(ctx context.Context, userID string) ([]models.Contact, error)
	RemoveMutual(ctx context.Context, userID, otherID string) error
	SetBlocked(ctx context.Context, userID, contactID string, blocked bool) error
	AreContacts(ctx context.Context, userID, otherID string) (bool, error)
	IsBlocked(ctx context.Context, userID, otherID string) (bool, error)
}

// MessageHistoryFilter specifies pagination for conversation history.
// BeforeID, when set, returns messages older than that message.
type MessageHistoryFilter struct {
	Limit    int
	BeforeID string
}

// MessageRepository manages persisted chat messages.
type MessageRepository interface {
	Create(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id string) (*models.Message, error)
	History(ctx context.Context, userID, peerID string, filter MessageHistoryFilter) ([]models.Message, error)
	MarkConversationRead(ctx context.Context, userID, peerID string) (int64, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// AttachmentRepository manages attachment metadata.
type AttachmentRepository interface {
	Create(ctx context.Context, att *models.Attachment) error
	GetByID(ctx context.Context, id string) (*models.Attachment, error)
	ListByOwner(ctx context.Context, ownerID string) ([]models.Attachment, error)
	Delete(ctx context.Context, id string) error
	DeleteOrphaned(ctx context.Context, days int) ([]string, error)
}

// PushTokenRepository manages device push registrations.
type PushTokenRepository interface {
	Upsert(ctx context.Context, token *models.PushToken) error
	GetByUserID(ctx context.Context, userID string) ([]models.PushToken, error)
	DeleteByUserAndDevice(ctx context.Context, userID, deviceID string) error
	DeleteByToken(ctx context.Context, token string) error
	DeleteByUserID(ctx context.Context, userID string) error
}
