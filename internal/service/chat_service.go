package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatcore/internal/domain"
	"chatcore/internal/queue"
	"chatcore/internal/security"
)

const maxMessageLength = 5000

// Event names pushed through the broadcaster.
const (
	EventMessageDelivered = "message_delivered"
	EventMessageConfirmed = "message_confirmed"
	EventMessageEdited    = "message_edited"
	EventMessageDeleted   = "message_deleted"
	EventMessageRead      = "message_read"
)

// ChatService is the single authority for conversation lifecycle, message
// CRUD, read-state and authorization. Messages are persisted synchronously
// on send and enqueued for asynchronous broadcast; the drain worker calls
// back into Deliver.
type ChatService struct {
	conversations domain.ConversationRepository
	participants  domain.ParticipantRepository
	messages      domain.MessageRepository
	users         domain.UserRepository
	queue         queue.Queue
	broadcaster   domain.Broadcaster
	encryptor     *security.Encryptor
	logger        zerolog.Logger
}

func NewChatService(
	conversations domain.ConversationRepository,
	participants domain.ParticipantRepository,
	messages domain.MessageRepository,
	users domain.UserRepository,
	q queue.Queue,
	broadcaster domain.Broadcaster,
	encryptor *security.Encryptor,
	logger zerolog.Logger,
) *ChatService {
	return &ChatService{
		conversations: conversations,
		participants:  participants,
		messages:      messages,
		users:         users,
		queue:         q,
		broadcaster:   broadcaster,
		encryptor:     encryptor,
		logger:        logger,
	}
}

// CanAccessConversation is the single authorization primitive: every
// mutating operation and the secure link service call through it.
func (s *ChatService) CanAccessConversation(ctx context.Context, userID int64, conversationID string) (bool, error) {
	return s.participants.IsParticipant(ctx, conversationID, userID)
}

// GetOrCreateConversation returns the conversation for the unordered user
// pair, creating it if needed. Safe under concurrent calls for the same
// pair; uniqueness is enforced at the persistence boundary.
func (s *ChatService) GetOrCreateConversation(ctx context.Context, userA, userB int64) (*domain.Conversation, error) {
	if userA == userB {
		return nil, fmt.Errorf("%w: cannot open a conversation with yourself", domain.ErrInvalidInput)
	}
	for _, id := range []int64{userA, userB} {
		u, err := s.users.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get user %d: %w", id, err)
		}
		if u == nil || !u.IsActive {
			return nil, fmt.Errorf("user %d: %w", id, domain.ErrNotFound)
		}
	}
	conv, err := s.conversations.GetOrCreate(ctx, userA, userB)
	if err != nil {
		return nil, fmt.Errorf("get or create conversation: %w", err)
	}
	return conv, nil
}

// SendMessage persists a message from sender to receiver and enqueues it
// for broadcast. The conversation is created implicitly on the first
// message between two users. A queue failure is logged and swallowed: the
// caller only ever learns whether the message was saved.
func (s *ChatService) SendMessage(ctx context.Context, senderID, receiverID int64, body string, replyToID *string) (*domain.Message, error) {
	if err := validateBody(body); err != nil {
		return nil, err
	}

	conv, err := s.GetOrCreateConversation(ctx, senderID, receiverID)
	if err != nil {
		return nil, err
	}
	return s.persistAndEnqueue(ctx, conv, senderID, receiverID, body, replyToID)
}

// SendToConversation persists a message into an existing conversation.
// The sender must be a participant.
func (s *ChatService) SendToConversation(ctx context.Context, senderID int64, conversationID, body string, replyToID *string) (*domain.Message, error) {
	if err := validateBody(body); err != nil {
		return nil, err
	}

	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if conv == nil {
		return nil, domain.ErrNotFound
	}
	ok, err := s.CanAccessConversation(ctx, senderID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("check participant: %w", err)
	}
	if !ok {
		return nil, domain.ErrUnauthorized
	}

	receiverID, err := s.otherParticipant(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}
	return s.persistAndEnqueue(ctx, conv, senderID, receiverID, body, replyToID)
}

func (s *ChatService) persistAndEnqueue(ctx context.Context, conv *domain.Conversation, senderID, receiverID int64, body string, replyToID *string) (*domain.Message, error) {
	if replyToID != nil {
		parent, err := s.messages.GetByID(ctx, *replyToID)
		if err != nil {
			return nil, fmt.Errorf("get reply target: %w", err)
		}
		if parent == nil || parent.IsDeleted || parent.ConversationID != conv.ID {
			return nil, fmt.Errorf("reply target: %w", domain.ErrNotFound)
		}
	}

	encrypted, err := s.encryptor.Encrypt(body)
	if err != nil {
		return nil, fmt.Errorf("encrypt content: %w", err)
	}

	now := time.Now().UTC()
	msg := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Content:        encrypted,
		ReplyToID:      replyToID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	if err := s.conversations.SetLastMessage(ctx, conv.ID, msg.ID, msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("update conversation: %w", err)
	}

	// Persistence already succeeded; the queue only carries the live push.
	if err := s.queue.Enqueue(ctx, queue.NewItem(msg)); err != nil {
		s.logger.Warn().
			Err(err).
			Str("message_id", msg.ID).
			Msg("enqueue for broadcast failed, recipient will see the message on next fetch")
	}

	return msg, nil
}

// EditMessage replaces the body of a message. Only the original sender may
// edit; creation time is preserved and the previous content retained.
func (s *ChatService) EditMessage(ctx context.Context, messageID string, userID int64, newBody string) (*domain.Message, error) {
	if err := validateBody(newBody); err != nil {
		return nil, err
	}

	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	if msg == nil || msg.IsDeleted {
		return nil, domain.ErrNotFound
	}
	if msg.SenderID != userID {
		return nil, domain.ErrForbidden
	}

	encrypted, err := s.encryptor.Encrypt(newBody)
	if err != nil {
		return nil, fmt.Errorf("encrypt content: %w", err)
	}

	now := time.Now().UTC()
	previous := msg.Content
	msg.OriginalContent = &previous
	msg.Content = encrypted
	msg.EditedAt = &now
	msg.UpdatedAt = now
	if err := s.messages.Update(ctx, msg); err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}

	s.pushToParticipants(ctx, msg, EventMessageEdited)
	return msg, nil
}

// DeleteMessage soft-deletes a message. Only the original sender may
// delete; the row is retained so ordering is preserved.
func (s *ChatService) DeleteMessage(ctx context.Context, messageID string, userID int64) error {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return fmt.Errorf("get message: %w", err)
	}
	if msg == nil || msg.IsDeleted {
		return domain.ErrNotFound
	}
	if msg.SenderID != userID {
		return domain.ErrForbidden
	}
	if err := s.messages.SoftDelete(ctx, messageID); err != nil {
		return fmt.Errorf("soft delete: %w", err)
	}
	msg.IsDeleted = true

	s.pushToParticipants(ctx, msg, EventMessageDeleted)
	return nil
}

// MarkAsRead records that userID has read the message. Idempotent: marking
// an already-read message is a no-op. The sender cannot mark their own
// message read.
func (s *ChatService) MarkAsRead(ctx context.Context, messageID string, userID int64) error {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return fmt.Errorf("get message: %w", err)
	}
	if msg == nil || msg.IsDeleted {
		return domain.ErrNotFound
	}
	if msg.SenderID == userID {
		return domain.ErrForbidden
	}
	ok, err := s.CanAccessConversation(ctx, userID, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("check participant: %w", err)
	}
	if !ok {
		return domain.ErrUnauthorized
	}
	if msg.IsRead {
		return nil
	}
	if err := s.messages.MarkRead(ctx, messageID, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}

	if err := s.broadcaster.PushToUser(msg.SenderID, EventMessageRead, map[string]any{
		"message_id": msg.ID,
		"reader_id":  userID,
	}); err != nil {
		s.logger.Debug().Err(err).Str("message_id", msg.ID).Msg("read receipt push failed")
	}
	return nil
}

// GetConversationMessages returns one page of the conversation between two
// users, oldest-first within the page. Pages are requested most-recent
// first (page 1 = latest). The caller must be a participant.
func (s *ChatService) GetConversationMessages(ctx context.Context, callerID, otherUserID int64, page, pageSize int) ([]*domain.Message, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}

	conv, err := s.conversations.GetByPair(ctx, callerID, otherUserID)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if conv == nil {
		return nil, nil
	}
	ok, err := s.CanAccessConversation(ctx, callerID, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("check participant: %w", err)
	}
	if !ok {
		return nil, domain.ErrUnauthorized
	}

	msgs, err := s.messages.ListForConversation(ctx, conv.ID, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	// Repo returns newest-first; flip to chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// GetMessage returns a message if the caller participates in its
// conversation.
func (s *ChatService) GetMessage(ctx context.Context, messageID string, callerID int64) (*domain.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	if msg == nil || msg.IsDeleted {
		return nil, domain.ErrNotFound
	}
	ok, err := s.CanAccessConversation(ctx, callerID, msg.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("check participant: %w", err)
	}
	if !ok {
		return nil, domain.ErrUnauthorized
	}
	return msg, nil
}

// GetUnreadCount counts messages from a specific sender not yet read by
// userID.
func (s *ChatService) GetUnreadCount(ctx context.Context, userID, fromSenderID int64) (int, error) {
	return s.messages.CountUnread(ctx, userID, fromSenderID)
}

// ListConversations returns the caller's conversations, most recently
// active first.
func (s *ChatService) ListConversations(ctx context.Context, userID int64) ([]*domain.Conversation, error) {
	return s.conversations.ListForUser(ctx, userID)
}

// ParticipantIDs returns the user IDs of a conversation's participants.
func (s *ChatService) ParticipantIDs(ctx context.Context, conversationID string) ([]int64, error) {
	return s.participants.ListIDs(ctx, conversationID)
}

// Deliver is the drain worker's step: push the message to every participant
// except the sender, and a confirmation to the sender. Push failures are
// best-effort misses, never retried against the persisted record.
func (s *ChatService) Deliver(ctx context.Context, m *domain.Message) error {
	payload, err := s.ToResponse(ctx, m)
	if err != nil {
		return fmt.Errorf("build event payload: %w", err)
	}

	ids, err := s.participants.ListIDs(ctx, m.ConversationID)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}
	for _, uid := range ids {
		if uid == m.SenderID {
			continue
		}
		if err := s.broadcaster.PushToUser(uid, EventMessageDelivered, payload); err != nil {
			s.logger.Debug().
				Err(err).
				Int64("user_id", uid).
				Str("message_id", m.ID).
				Msg("push to recipient failed")
		}
	}
	if err := s.broadcaster.PushToUser(m.SenderID, EventMessageConfirmed, payload); err != nil {
		s.logger.Debug().
			Err(err).
			Str("message_id", m.ID).
			Msg("sender confirmation push failed")
	}
	return nil
}

func (s *ChatService) otherParticipant(ctx context.Context, conversationID string, userID int64) (int64, error) {
	ids, err := s.participants.ListIDs(ctx, conversationID)
	if err != nil {
		return 0, fmt.Errorf("list participants: %w", err)
	}
	for _, id := range ids {
		if id != userID {
			return id, nil
		}
	}
	return 0, fmt.Errorf("counterpart participant: %w", domain.ErrNotFound)
}

func (s *ChatService) pushToParticipants(ctx context.Context, m *domain.Message, event string) {
	ids, err := s.participants.ListIDs(ctx, m.ConversationID)
	if err != nil {
		s.logger.Debug().Err(err).Str("message_id", m.ID).Msg("list participants for push failed")
		return
	}
	payload, err := s.ToResponse(ctx, m)
	if err != nil {
		s.logger.Debug().Err(err).Str("message_id", m.ID).Msg("build push payload failed")
		return
	}
	for _, uid := range ids {
		if err := s.broadcaster.PushToUser(uid, event, payload); err != nil {
			s.logger.Debug().Err(err).Int64("user_id", uid).Msg("push failed")
		}
	}
}

func validateBody(body string) error {
	if body == "" {
		return fmt.Errorf("%w: message content cannot be empty", domain.ErrInvalidInput)
	}
	if len([]rune(body)) > maxMessageLength {
		return fmt.Errorf("%w: message content exceeds %d characters", domain.ErrInvalidInput, maxMessageLength)
	}
	return nil
}

// MessageResponse mirrors the API payload sent to clients and over the
// push channel, with the content decrypted.
type MessageResponse struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       int64      `json:"sender_id"`
	SenderUsername string     `json:"sender_username"`
	ReceiverID     int64      `json:"receiver_id"`
	Content        string     `json:"content"`
	ReplyToID      *string    `json:"reply_to_id,omitempty"`
	IsRead         bool       `json:"is_read"`
	IsEdited       bool       `json:"is_edited"`
	IsDeleted      bool       `json:"is_deleted"`
	EditedAt       *time.Time `json:"edited_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ToResponse converts a domain message into a decrypted response DTO.
// Deleted messages keep their position but carry no content.
func (s *ChatService) ToResponse(ctx context.Context, m *domain.Message) (*MessageResponse, error) {
	content := ""
	if !m.IsDeleted {
		dec, err := s.encryptor.Decrypt(m.Content)
		if err != nil {
			return nil, fmt.Errorf("decrypt content: %w", err)
		}
		content = dec
	}
	var username string
	if u, err := s.users.GetByID(ctx, m.SenderID); err == nil && u != nil {
		username = u.Username
	}
	return &MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderUsername: username,
		ReceiverID:     m.ReceiverID,
		Content:        content,
		ReplyToID:      m.ReplyToID,
		IsRead:         m.IsRead,
		IsEdited:       m.IsEdited(),
		IsDeleted:      m.IsDeleted,
		EditedAt:       m.EditedAt,
		CreatedAt:      m.CreatedAt,
	}, nil
}

// ToResponses converts a slice of messages into response DTOs.
func (s *ChatService) ToResponses(ctx context.Context, msgs []*domain.Message) ([]*MessageResponse, error) {
	res := make([]*MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		dto, err := s.ToResponse(ctx, m)
		if err != nil {
			return nil, err
		}
		res = append(res, dto)
	}
	return res, nil
}
