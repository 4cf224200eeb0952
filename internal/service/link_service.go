package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chatcore/internal/domain"
	"chatcore/internal/token"
)

// Message deep-links are meant for near-term use (a notification), so they
// expire well before conversation links.
const messageLinkExpiry = time.Hour

// Link kinds returned by Resolve.
const (
	LinkKindConversation = "conversation"
	LinkKindQuickChat    = "quick_chat"
	LinkKindMessage      = "message"
)

// SecureLinkService builds and verifies shareable chat URLs. A token is
// self-contained and verified structurally by the codec; live conversation
// membership is re-checked on every resolve, so a valid token never
// bypasses current authorization.
//
// Tokens are reusable until expiry; nothing marks them consumed.
type SecureLinkService struct {
	codec      *token.Codec
	chat       *ChatService
	baseURL    string
	linkExpiry time.Duration
	logger     zerolog.Logger
}

func NewSecureLinkService(codec *token.Codec, chat *ChatService, baseURL string, linkExpiry time.Duration, logger zerolog.Logger) *SecureLinkService {
	if linkExpiry <= 0 {
		linkExpiry = 24 * time.Hour
	}
	return &SecureLinkService{
		codec:      codec,
		chat:       chat,
		baseURL:    strings.TrimRight(baseURL, "/"),
		linkExpiry: linkExpiry,
		logger:     logger,
	}
}

// LinkResolution is the outcome of resolving a valid, authorized token.
type LinkResolution struct {
	Kind           string `json:"kind"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id,omitempty"`
	CurrentUserID  int64  `json:"current_user_id"`
	OtherUserID    int64  `json:"other_user_id"`
}

// GenerateConversationLink returns a shareable URL for an existing
// conversation. Both users must currently be participants.
func (s *SecureLinkService) GenerateConversationLink(ctx context.Context, conversationID string, userA, userB int64) (string, error) {
	for _, uid := range []int64{userA, userB} {
		ok, err := s.chat.CanAccessConversation(ctx, uid, conversationID)
		if err != nil {
			return "", fmt.Errorf("check participant: %w", err)
		}
		if !ok {
			return "", domain.ErrUnauthorized
		}
	}

	now := time.Now().UTC()
	tok, err := s.codec.EncodeConversation(token.ConversationGrant{
		ConversationID: conversationID,
		UserID1:        userA,
		UserID2:        userB,
		IssuedAt:       now,
		ExpiresAt:      now.Add(s.linkExpiry),
	})
	if err != nil {
		return "", fmt.Errorf("encode conversation grant: %w", err)
	}
	return s.baseURL + "/chat/secure/" + tok, nil
}

// GenerateQuickChatLink returns a URL granting ad-hoc access to the
// conversation between two users, creating the conversation if it does not
// exist yet.
func (s *SecureLinkService) GenerateQuickChatLink(ctx context.Context, currentUserID, targetUserID int64) (string, error) {
	if _, err := s.chat.GetOrCreateConversation(ctx, currentUserID, targetUserID); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	tok, err := s.codec.EncodeQuickChat(token.QuickChatGrant{
		CurrentUserID: currentUserID,
		TargetUserID:  targetUserID,
		IssuedAt:      now,
		ExpiresAt:     now.Add(s.linkExpiry),
	})
	if err != nil {
		return "", fmt.Errorf("encode quick chat grant: %w", err)
	}
	return s.baseURL + "/chat/quick/" + tok, nil
}

// GenerateMessageLink returns a short-lived deep link to a single message
// for a user who can access its conversation.
func (s *SecureLinkService) GenerateMessageLink(ctx context.Context, messageID string, userID int64) (string, error) {
	msg, err := s.chat.GetMessage(ctx, messageID, userID)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	tok, err := s.codec.EncodeMessage(token.MessageGrant{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		UserID:         userID,
		IssuedAt:       now,
		ExpiresAt:      now.Add(messageLinkExpiry),
	})
	if err != nil {
		return "", fmt.Errorf("encode message grant: %w", err)
	}
	return s.baseURL + "/chat/message/" + tok, nil
}

// Resolve verifies a token of any kind and re-checks live authorization for
// currentUserID. Structural, signature and expiry failures all surface as
// domain.ErrInvalidToken; a structurally valid token held by a user who is
// not (or no longer) a participant yields domain.ErrUnauthorized.
func (s *SecureLinkService) Resolve(ctx context.Context, tok string, currentUserID int64) (*LinkResolution, error) {
	decoded, err := s.codec.Decode(tok)
	if err != nil {
		return nil, err
	}

	switch g := decoded.(type) {
	case *token.ConversationGrant:
		if currentUserID != g.UserID1 && currentUserID != g.UserID2 {
			return nil, domain.ErrUnauthorized
		}
		if err := s.requireAccess(ctx, currentUserID, g.ConversationID); err != nil {
			return nil, err
		}
		other := g.UserID1
		if other == currentUserID {
			other = g.UserID2
		}
		return &LinkResolution{
			Kind:           LinkKindConversation,
			ConversationID: g.ConversationID,
			CurrentUserID:  currentUserID,
			OtherUserID:    other,
		}, nil

	case *token.QuickChatGrant:
		if currentUserID != g.CurrentUserID && currentUserID != g.TargetUserID {
			return nil, domain.ErrUnauthorized
		}
		conv, err := s.chat.GetOrCreateConversation(ctx, g.CurrentUserID, g.TargetUserID)
		if err != nil {
			return nil, err
		}
		other := g.CurrentUserID
		if other == currentUserID {
			other = g.TargetUserID
		}
		return &LinkResolution{
			Kind:           LinkKindQuickChat,
			ConversationID: conv.ID,
			CurrentUserID:  currentUserID,
			OtherUserID:    other,
		}, nil

	case *token.MessageGrant:
		if currentUserID != g.UserID {
			return nil, domain.ErrUnauthorized
		}
		if err := s.requireAccess(ctx, currentUserID, g.ConversationID); err != nil {
			return nil, err
		}
		msg, err := s.chat.GetMessage(ctx, g.MessageID, currentUserID)
		if err != nil {
			return nil, err
		}
		other := msg.SenderID
		if other == currentUserID {
			other = msg.ReceiverID
		}
		return &LinkResolution{
			Kind:           LinkKindMessage,
			ConversationID: g.ConversationID,
			MessageID:      g.MessageID,
			CurrentUserID:  currentUserID,
			OtherUserID:    other,
		}, nil

	default:
		return nil, domain.ErrInvalidToken
	}
}

func (s *SecureLinkService) requireAccess(ctx context.Context, userID int64, conversationID string) error {
	ok, err := s.chat.CanAccessConversation(ctx, userID, conversationID)
	if err != nil {
		return fmt.Errorf("check participant: %w", err)
	}
	if !ok {
		return domain.ErrUnauthorized
	}
	return nil
}
