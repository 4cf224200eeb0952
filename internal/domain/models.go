package domain

import (
	"fmt"
	"time"
)

// User represents an application user.
type User struct {
	ID             int64     `db:"id" json:"id"`
	Username       string    `db:"username" json:"username"`
	Email          *string   `db:"email" json:"email,omitempty"`
	HashedPassword string    `db:"hashed_password" json:"-"`
	IsActive       bool      `db:"is_active" json:"is_active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Conversation represents a direct conversation between two users.
// A conversation for a given unordered pair of users is unique; the
// pair key enforces that at the persistence boundary.
type Conversation struct {
	ID            string     `db:"id" json:"id"`
	PairKey       string     `db:"pair_key" json:"-"`
	CreatedBy     int64      `db:"created_by" json:"created_by"`
	LastMessageID *string    `db:"last_message_id" json:"last_message_id,omitempty"`
	LastMessageAt *time.Time `db:"last_message_at" json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// PairKey returns the canonical key for an unordered pair of user IDs.
func PairKey(userA, userB int64) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return fmt.Sprintf("%d:%d", userA, userB)
}

// ConversationParticipant represents the membership of a user in a
// conversation. Membership is the basis of every access check.
type ConversationParticipant struct {
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	UserID         int64     `db:"user_id" json:"user_id"`
	JoinedAt       time.Time `db:"joined_at" json:"joined_at"`
}

// Message represents a single chat message. Content is encrypted at rest.
// The conversation ID is immutable after creation; edits keep the creation
// time and record EditedAt; deletion is a soft delete and terminal.
type Message struct {
	ID              string     `db:"id" json:"id"`
	ConversationID  string     `db:"conversation_id" json:"conversation_id"`
	SenderID        int64      `db:"sender_id" json:"sender_id"`
	ReceiverID      int64      `db:"receiver_id" json:"receiver_id"`
	Content         string     `db:"content" json:"content"`
	OriginalContent *string    `db:"original_content" json:"original_content,omitempty"`
	ReplyToID       *string    `db:"reply_to_id" json:"reply_to_id,omitempty"`
	IsRead          bool       `db:"is_read" json:"is_read"`
	ReadAt          *time.Time `db:"read_at" json:"read_at,omitempty"`
	EditedAt        *time.Time `db:"edited_at" json:"edited_at,omitempty"`
	IsDeleted       bool       `db:"is_deleted" json:"is_deleted"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// IsEdited reports whether the message has been edited since creation.
func (m *Message) IsEdited() bool {
	return m.EditedAt != nil
}
