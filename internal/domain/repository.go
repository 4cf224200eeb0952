package domain

import (
	"context"
	"time"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
}

// ConversationRepository defines persistence operations for conversations.
// GetOrCreate must be atomic for the unordered user pair: concurrent calls
// for the same pair return the same conversation, never two rows.
type ConversationRepository interface {
	GetOrCreate(ctx context.Context, userA, userB int64) (*Conversation, error)
	GetByID(ctx context.Context, id string) (*Conversation, error)
	// GetByPair returns the conversation for the unordered pair, or
	// (nil, nil) when none exists yet.
	GetByPair(ctx context.Context, userA, userB int64) (*Conversation, error)
	ListForUser(ctx context.Context, userID int64) ([]*Conversation, error)
	SetLastMessage(ctx context.Context, conversationID, messageID string, at time.Time) error
}

// MessageRepository defines persistence operations for messages.
type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id string) (*Message, error)
	// ListForConversation returns the requested page newest-first,
	// excluding soft-deleted messages. Pages are 1-based.
	ListForConversation(ctx context.Context, conversationID string, page, pageSize int) ([]*Message, error)
	Update(ctx context.Context, m *Message) error
	SoftDelete(ctx context.Context, id string) error
	MarkRead(ctx context.Context, id string, at time.Time) error
	CountUnread(ctx context.Context, userID, senderID int64) (int, error)
}

// ParticipantRepository defines operations around conversation participants.
type ParticipantRepository interface {
	ListIDs(ctx context.Context, conversationID string) ([]int64, error)
	IsParticipant(ctx context.Context, conversationID string, userID int64) (bool, error)
}

// Broadcaster is the live-push sink. PushToUser is fire-and-forget: a user
// without open connections is not an error, and no delivery acknowledgment
// is awaited.
type Broadcaster interface {
	PushToUser(userID int64, event string, payload any) error
}
