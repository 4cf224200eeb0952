package service_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/internal/domain"
	"chatcore/internal/service"
	"chatcore/internal/token"
)

type linkFixture struct {
	*chatFixture
	links *service.SecureLinkService
}

func newLinkFixture(t *testing.T) *linkFixture {
	t.Helper()
	cf := newChatFixture(t, nil)
	links := service.NewSecureLinkService(
		token.NewCodec("link-secret"),
		cf.svc,
		"https://chat.example.com/",
		24*time.Hour,
		zerolog.Nop(),
	)
	return &linkFixture{chatFixture: cf, links: links}
}

func tokenFromURL(t *testing.T, url string) string {
	t.Helper()
	idx := strings.LastIndex(url, "/")
	require.Greater(t, idx, 0)
	return url[idx+1:]
}

func TestConversationLink(t *testing.T) {
	ctx := context.Background()

	t.Run("GenerateAndResolve", func(t *testing.T) {
		f := newLinkFixture(t)
		f.participants.On("IsParticipant", ctx, "conv-1", int64(1)).Return(true, nil)
		f.participants.On("IsParticipant", ctx, "conv-1", int64(2)).Return(true, nil)

		url, err := f.links.GenerateConversationLink(ctx, "conv-1", 1, 2)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(url, "https://chat.example.com/chat/secure/"))

		res, err := f.links.Resolve(ctx, tokenFromURL(t, url), 1)
		require.NoError(t, err)
		assert.Equal(t, service.LinkKindConversation, res.Kind)
		assert.Equal(t, "conv-1", res.ConversationID)
		assert.Equal(t, int64(2), res.OtherUserID)
	})

	t.Run("GenerateRequiresBothParticipants", func(t *testing.T) {
		f := newLinkFixture(t)
		f.participants.On("IsParticipant", ctx, "conv-1", int64(1)).Return(true, nil)
		f.participants.On("IsParticipant", ctx, "conv-1", int64(3)).Return(false, nil)

		_, err := f.links.GenerateConversationLink(ctx, "conv-1", 1, 3)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("ResolveByThirdPartyUnauthorized", func(t *testing.T) {
		f := newLinkFixture(t)
		f.participants.On("IsParticipant", ctx, "conv-1", int64(1)).Return(true, nil)
		f.participants.On("IsParticipant", ctx, "conv-1", int64(2)).Return(true, nil)

		url, err := f.links.GenerateConversationLink(ctx, "conv-1", 1, 2)
		require.NoError(t, err)

		// A valid token in the wrong hands still fails the identity check.
		_, err = f.links.Resolve(ctx, tokenFromURL(t, url), 3)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("ResolveAfterMembershipRevoked", func(t *testing.T) {
		f := newLinkFixture(t)
		f.participants.On("IsParticipant", ctx, "conv-1", int64(1)).Return(true, nil).Once()
		f.participants.On("IsParticipant", ctx, "conv-1", int64(2)).Return(true, nil).Once()

		url, err := f.links.GenerateConversationLink(ctx, "conv-1", 1, 2)
		require.NoError(t, err)

		// Membership changed between generation and resolve.
		f.participants.On("IsParticipant", ctx, "conv-1", int64(1)).Return(false, nil)
		_, err = f.links.Resolve(ctx, tokenFromURL(t, url), 1)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})
}

func TestQuickChatLink(t *testing.T) {
	ctx := context.Background()
	conv := &domain.Conversation{ID: "conv-1", PairKey: domain.PairKey(1, 2)}

	t.Run("GenerateAndResolveCreatesConversation", func(t *testing.T) {
		f := newLinkFixture(t)
		f.users.On("GetByID", ctx, int64(1)).Return(activeUser(1, "alice"), nil)
		f.users.On("GetByID", ctx, int64(2)).Return(activeUser(2, "bob"), nil)
		f.conversations.On("GetOrCreate", ctx, int64(1), int64(2)).Return(conv, nil)

		url, err := f.links.GenerateQuickChatLink(ctx, 1, 2)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(url, "https://chat.example.com/chat/quick/"))

		res, err := f.links.Resolve(ctx, tokenFromURL(t, url), 2)
		require.NoError(t, err)
		assert.Equal(t, service.LinkKindQuickChat, res.Kind)
		assert.Equal(t, "conv-1", res.ConversationID)
		assert.Equal(t, int64(1), res.OtherUserID)
	})

	t.Run("ExpiredTokenInvalid", func(t *testing.T) {
		f := newLinkFixture(t)
		codec := token.NewCodec("link-secret")
		now := time.Now().UTC()
		tok, err := codec.EncodeQuickChat(token.QuickChatGrant{
			CurrentUserID: 1,
			TargetUserID:  2,
			IssuedAt:      now.Add(-2 * time.Hour),
			ExpiresAt:     now.Add(-time.Hour),
		})
		require.NoError(t, err)

		_, err = f.links.Resolve(ctx, tok, 1)
		assert.ErrorIs(t, err, domain.ErrInvalidToken)
	})

	t.Run("WrongSecretInvalid", func(t *testing.T) {
		f := newLinkFixture(t)
		other := token.NewCodec("other-secret")
		now := time.Now().UTC()
		tok, err := other.EncodeQuickChat(token.QuickChatGrant{
			CurrentUserID: 1,
			TargetUserID:  2,
			IssuedAt:      now,
			ExpiresAt:     now.Add(time.Hour),
		})
		require.NoError(t, err)

		_, err = f.links.Resolve(ctx, tok, 1)
		assert.ErrorIs(t, err, domain.ErrInvalidToken)
	})
}

func TestMessageLink(t *testing.T) {
	ctx := context.Background()

	t.Run("GenerateAndResolve", func(t *testing.T) {
		f := newLinkFixture(t)
		enc, err := f.encryptor.Encrypt("hello")
		require.NoError(t, err)
		msg := &domain.Message{ID: "msg-1", ConversationID: "conv-1", SenderID: 2, ReceiverID: 1, Content: enc}

		f.messages.On("GetByID", ctx, "msg-1").Return(msg, nil)
		f.participants.On("IsParticipant", ctx, "conv-1", int64(1)).Return(true, nil)

		url, err := f.links.GenerateMessageLink(ctx, "msg-1", 1)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(url, "https://chat.example.com/chat/message/"))

		res, err := f.links.Resolve(ctx, tokenFromURL(t, url), 1)
		require.NoError(t, err)
		assert.Equal(t, service.LinkKindMessage, res.Kind)
		assert.Equal(t, "msg-1", res.MessageID)
		assert.Equal(t, int64(2), res.OtherUserID)
	})

	t.Run("BoundToIssuedUser", func(t *testing.T) {
		f := newLinkFixture(t)
		msg := &domain.Message{ID: "msg-1", ConversationID: "conv-1", SenderID: 2, ReceiverID: 1, Content: "x"}
		f.messages.On("GetByID", ctx, "msg-1").Return(msg, nil)
		f.participants.On("IsParticipant", ctx, "conv-1", int64(1)).Return(true, nil)

		url, err := f.links.GenerateMessageLink(ctx, "msg-1", 1)
		require.NoError(t, err)

		_, err = f.links.Resolve(ctx, tokenFromURL(t, url), 2)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("GarbageTokenInvalid", func(t *testing.T) {
		f := newLinkFixture(t)
		_, err := f.links.Resolve(ctx, "msg.not-a-real-token", 1)
		assert.ErrorIs(t, err, domain.ErrInvalidToken)
	})
}
