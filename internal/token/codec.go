// Package token implements the signed token codec used for shareable chat
// links. Tokens are self-contained: a JSON payload, base64url-encoded and
// signed with HMAC-SHA256, carrying its own expiry. Validating one needs no
// session state and no database row.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"chatcore/internal/domain"
)

// Token prefixes distinguish the payload kinds so a single verification
// entry point can route without trial-and-error parsing. Conversation
// grants carry no prefix.
const (
	quickPrefix   = "quick."
	messagePrefix = "msg."
)

// ConversationGrant grants two participants access to a conversation.
type ConversationGrant struct {
	ConversationID string    `json:"conversation_id"`
	UserID1        int64     `json:"user_id_1"`
	UserID2        int64     `json:"user_id_2"`
	IssuedAt       time.Time `json:"issued_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// QuickChatGrant grants access to the conversation between two users,
// whether or not that conversation exists yet.
type QuickChatGrant struct {
	CurrentUserID int64     `json:"current_user_id"`
	TargetUserID  int64     `json:"target_user_id"`
	IssuedAt      time.Time `json:"issued_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// MessageGrant grants one user access to a single message.
type MessageGrant struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	UserID         int64     `json:"user_id"`
	IssuedAt       time.Time `json:"issued_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Codec signs and verifies grant tokens. The secret is read-only after
// construction; a Codec is safe for concurrent use.
type Codec struct {
	secret []byte
	now    func() time.Time
}

func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret), now: time.Now}
}

func (c *Codec) EncodeConversation(g ConversationGrant) (string, error) {
	return c.encode("", g)
}

func (c *Codec) EncodeQuickChat(g QuickChatGrant) (string, error) {
	return c.encode(quickPrefix, g)
}

func (c *Codec) EncodeMessage(g MessageGrant) (string, error) {
	return c.encode(messagePrefix, g)
}

// DecodeConversation verifies a conversation token. Malformed input, a bad
// signature, and an expired payload all yield domain.ErrInvalidToken; the
// failures are deliberately indistinguishable to the caller.
func (c *Codec) DecodeConversation(tok string) (*ConversationGrant, error) {
	if strings.HasPrefix(tok, quickPrefix) || strings.HasPrefix(tok, messagePrefix) {
		return nil, domain.ErrInvalidToken
	}
	g := &ConversationGrant{}
	if err := c.decode(tok, g, func() time.Time { return g.ExpiresAt }); err != nil {
		return nil, err
	}
	return g, nil
}

// DecodeQuickChat verifies a quick-chat token.
func (c *Codec) DecodeQuickChat(tok string) (*QuickChatGrant, error) {
	rest, ok := strings.CutPrefix(tok, quickPrefix)
	if !ok {
		return nil, domain.ErrInvalidToken
	}
	g := &QuickChatGrant{}
	if err := c.decode(rest, g, func() time.Time { return g.ExpiresAt }); err != nil {
		return nil, err
	}
	return g, nil
}

// DecodeMessage verifies a message token.
func (c *Codec) DecodeMessage(tok string) (*MessageGrant, error) {
	rest, ok := strings.CutPrefix(tok, messagePrefix)
	if !ok {
		return nil, domain.ErrInvalidToken
	}
	g := &MessageGrant{}
	if err := c.decode(rest, g, func() time.Time { return g.ExpiresAt }); err != nil {
		return nil, err
	}
	return g, nil
}

// Decode is the single verification entry point: it routes on the token
// prefix and returns one of *ConversationGrant, *QuickChatGrant or
// *MessageGrant.
func (c *Codec) Decode(tok string) (any, error) {
	switch {
	case strings.HasPrefix(tok, quickPrefix):
		return c.DecodeQuickChat(tok)
	case strings.HasPrefix(tok, messagePrefix):
		return c.DecodeMessage(tok)
	default:
		return c.DecodeConversation(tok)
	}
}

func (c *Codec) encode(prefix string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(raw)
	return prefix + encoded + "." + c.sign(encoded), nil
}

func (c *Codec) decode(tok string, into any, expiresAt func() time.Time) error {
	parts := strings.Split(tok, ".")
	if len(parts) != 2 {
		return domain.ErrInvalidToken
	}
	encoded, sig := parts[0], parts[1]

	if !hmac.Equal([]byte(sig), []byte(c.sign(encoded))) {
		return domain.ErrInvalidToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return domain.ErrInvalidToken
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return domain.ErrInvalidToken
	}
	if exp := expiresAt(); exp.IsZero() || exp.Before(c.now()) {
		return domain.ErrInvalidToken
	}
	return nil
}

func (c *Codec) sign(encoded string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
