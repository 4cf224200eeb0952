package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatcore/internal/domain"
	"chatcore/internal/queue"
	"chatcore/internal/security"
	"chatcore/internal/service"
)

type chatFixture struct {
	users         *MockUserRepo
	conversations *MockConversationRepo
	messages      *MockMessageRepo
	participants  *MockParticipantRepo
	broadcaster   *recordingBroadcaster
	queue         queue.Queue
	encryptor     *security.Encryptor
	svc           *service.ChatService
}

func newChatFixture(t *testing.T, q queue.Queue) *chatFixture {
	t.Helper()
	if q == nil {
		q = queue.NewMemoryQueue()
	}
	enc, err := security.NewEncryptor([]byte("test-encryption-key"), nil)
	require.NoError(t, err)

	f := &chatFixture{
		users:         new(MockUserRepo),
		conversations: new(MockConversationRepo),
		messages:      new(MockMessageRepo),
		participants:  new(MockParticipantRepo),
		broadcaster:   &recordingBroadcaster{},
		queue:         q,
		encryptor:     enc,
	}
	f.svc = service.NewChatService(
		f.conversations, f.participants, f.messages, f.users,
		f.queue, f.broadcaster, enc, zerolog.Nop(),
	)
	return f
}

func activeUser(id int64, name string) *domain.User {
	return &domain.User{ID: id, Username: name, IsActive: true}
}

func TestSendMessage(t *testing.T) {
	ctx := context.Background()
	conv := &domain.Conversation{ID: "conv-1", PairKey: domain.PairKey(1, 2), CreatedBy: 1}

	t.Run("PersistsAndEnqueues", func(t *testing.T) {
		f := newChatFixture(t, nil)
		f.users.On("GetByID", ctx, int64(1)).Return(activeUser(1, "alice"), nil)
		f.users.On("GetByID", ctx, int64(2)).Return(activeUser(2, "bob"), nil)
		f.conversations.On("GetOrCreate", ctx, int64(1), int64(2)).Return(conv, nil)
		f.messages.On("Create", ctx, mock.AnythingOfType("*domain.Message")).Return(nil)
		f.conversations.On("SetLastMessage", ctx, "conv-1", mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).Return(nil)

		msg, err := f.svc.SendMessage(ctx, 1, 2, "hello", nil)
		require.NoError(t, err)
		require.NotNil(t, msg)
		assert.NotEmpty(t, msg.ID)
		assert.Equal(t, "conv-1", msg.ConversationID)
		assert.Equal(t, int64(1), msg.SenderID)
		assert.Equal(t, int64(2), msg.ReceiverID)

		// Stored content is ciphertext but decrypts back to the body.
		assert.NotEqual(t, "hello", msg.Content)
		plain, err := f.encryptor.Decrypt(msg.Content)
		require.NoError(t, err)
		assert.Equal(t, "hello", plain)

		size, err := f.queue.Size(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), size)

		f.messages.AssertExpectations(t)
		f.conversations.AssertExpectations(t)
	})

	t.Run("SucceedsWhenQueueIsDown", func(t *testing.T) {
		f := newChatFixture(t, failingQueue{})
		f.users.On("GetByID", ctx, int64(1)).Return(activeUser(1, "alice"), nil)
		f.users.On("GetByID", ctx, int64(2)).Return(activeUser(2, "bob"), nil)
		f.conversations.On("GetOrCreate", ctx, int64(1), int64(2)).Return(conv, nil)
		f.messages.On("Create", ctx, mock.AnythingOfType("*domain.Message")).Return(nil)
		f.conversations.On("SetLastMessage", ctx, "conv-1", mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).Return(nil)

		msg, err := f.svc.SendMessage(ctx, 1, 2, "hello", nil)
		require.NoError(t, err)
		assert.NotNil(t, msg)
	})

	t.Run("RejectsSelfMessage", func(t *testing.T) {
		f := newChatFixture(t, nil)
		_, err := f.svc.SendMessage(ctx, 1, 1, "hi me", nil)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("RejectsEmptyBody", func(t *testing.T) {
		f := newChatFixture(t, nil)
		_, err := f.svc.SendMessage(ctx, 1, 2, "", nil)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("RejectsInactiveReceiver", func(t *testing.T) {
		f := newChatFixture(t, nil)
		f.users.On("GetByID", ctx, int64(1)).Return(activeUser(1, "alice"), nil)
		f.users.On("GetByID", ctx, int64(2)).Return(&domain.User{ID: 2, IsActive: false}, nil)

		_, err := f.svc.SendMessage(ctx, 1, 2, "hello", nil)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("RejectsReplyToForeignConversation", func(t *testing.T) {
		f := newChatFixture(t, nil)
		f.users.On("GetByID", ctx, int64(1)).Return(activeUser(1, "alice"), nil)
		f.users.On("GetByID", ctx, int64(2)).Return(activeUser(2, "bob"), nil)
		f.conversations.On("GetOrCreate", ctx, int64(1), int64(2)).Return(conv, nil)
		replyTo := "msg-other"
		f.messages.On("GetByID", ctx, replyTo).Return(&domain.Message{
			ID:             replyTo,
			ConversationID: "conv-9",
		}, nil)

		_, err := f.svc.SendMessage(ctx, 1, 2, "hello", &replyTo)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestEditMessage(t *testing.T) {
	ctx := context.Background()

	newStored := func(f *chatFixture, sender int64) *domain.Message {
		enc, err := f.encryptor.Encrypt("original")
		require.NoError(t, err)
		return &domain.Message{
			ID:             "msg-1",
			ConversationID: "conv-1",
			SenderID:       sender,
			ReceiverID:     2,
			Content:        enc,
			CreatedAt:      time.Now().UTC().Add(-time.Minute),
		}
	}

	t.Run("SenderEdits", func(t *testing.T) {
		f := newChatFixture(t, nil)
		stored := newStored(f, 1)
		created := stored.CreatedAt
		f.messages.On("GetByID", ctx, "msg-1").Return(stored, nil)
		f.messages.On("Update", ctx, stored).Return(nil)
		f.participants.On("ListIDs", ctx, "conv-1").Return([]int64{1, 2}, nil)
		f.users.On("GetByID", ctx, int64(1)).Return(activeUser(1, "alice"), nil)

		msg, err := f.svc.EditMessage(ctx, "msg-1", 1, "fixed")
		require.NoError(t, err)
		assert.True(t, msg.IsEdited())
		assert.NotNil(t, msg.OriginalContent)
		assert.Equal(t, created, msg.CreatedAt)

		plain, err := f.encryptor.Decrypt(msg.Content)
		require.NoError(t, err)
		assert.Equal(t, "fixed", plain)

		assert.Equal(t, []string{service.EventMessageEdited}, f.broadcaster.eventsFor(2))
	})

	t.Run("NonSenderForbidden", func(t *testing.T) {
		f := newChatFixture(t, nil)
		f.messages.On("GetByID", ctx, "msg-1").Return(newStored(f, 1), nil)

		_, err := f.svc.EditMessage(ctx, "msg-1", 2, "hijack")
		assert.ErrorIs(t, err, domain.ErrForbidden)
		f.messages.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})

	t.Run("DeletedMessageNotFound", func(t *testing.T) {
		f := newChatFixture(t, nil)
		stored := newStored(f, 1)
		stored.IsDeleted = true
		f.messages.On("GetByID", ctx, "msg-1").Return(stored, nil)

		_, err := f.svc.EditMessage(ctx, "msg-1", 1, "too late")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestDeleteMessage(t *testing.T) {
	ctx := context.Background()
	stored := &domain.Message{ID: "msg-1", ConversationID: "conv-1", SenderID: 1, ReceiverID: 2, Content: "x"}

	t.Run("SenderDeletes", func(t *testing.T) {
		f := newChatFixture(t, nil)
		m := *stored
		f.messages.On("GetByID", ctx, "msg-1").Return(&m, nil)
		f.messages.On("SoftDelete", ctx, "msg-1").Return(nil)
		f.participants.On("ListIDs", ctx, "conv-1").Return([]int64{1, 2}, nil)
		f.users.On("GetByID", ctx, int64(1)).Return(activeUser(1, "alice"), nil)

		require.NoError(t, f.svc.DeleteMessage(ctx, "msg-1", 1))
		assert.Equal(t, []string{service.EventMessageDeleted}, f.broadcaster.eventsFor(2))
	})

	t.Run("NonSenderForbidden", func(t *testing.T) {
		f := newChatFixture(t, nil)
		m := *stored
		f.messages.On("GetByID", ctx, "msg-1").Return(&m, nil)

		err := f.svc.DeleteMessage(ctx, "msg-1", 2)
		assert.ErrorIs(t, err, domain.ErrForbidden)
		f.messages.AssertNotCalled(t, "SoftDelete", mock.Anything, mock.Anything)
	})

	t.Run("AlreadyDeletedNotFound", func(t *testing.T) {
		f := newChatFixture(t, nil)
		m := *stored
		m.IsDeleted = true
		f.messages.On("GetByID", ctx, "msg-1").Return(&m, nil)

		err := f.svc.DeleteMessage(ctx, "msg-1", 1)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestMarkAsRead(t *testing.T) {
	ctx := context.Background()

	newUnread := func() *domain.Message {
		return &domain.Message{ID: "msg-1", ConversationID: "conv-1", SenderID: 1, ReceiverID: 2, Content: "x"}
	}

	t.Run("ReceiverMarksRead", func(t *testing.T) {
		f := newChatFixture(t, nil)
		f.messages.On("GetByID", ctx, "msg-1").Return(newUnread(), nil)
		f.participants.On("IsParticipant", ctx, "conv-1", int64(2)).Return(true, nil)
		f.messages.On("MarkRead", ctx, "msg-1", mock.AnythingOfType("time.Time")).Return(nil)

		require.NoError(t, f.svc.MarkAsRead(ctx, "msg-1", 2))
		// Read receipt goes to the sender.
		assert.Equal(t, []string{service.EventMessageRead}, f.broadcaster.eventsFor(1))
	})

	t.Run("IdempotentWhenAlreadyRead", func(t *testing.T) {
		f := newChatFixture(t, nil)
		m := newUnread()
		m.IsRead = true
		f.messages.On("GetByID", ctx, "msg-1").Return(m, nil)
		f.participants.On("IsParticipant", ctx, "conv-1", int64(2)).Return(true, nil)

		require.NoError(t, f.svc.MarkAsRead(ctx, "msg-1", 2))
		f.messages.AssertNotCalled(t, "MarkRead", mock.Anything, mock.Anything, mock.Anything)
		assert.Empty(t, f.broadcaster.pushes)
	})

	t.Run("SenderForbidden", func(t *testing.T) {
		f := newChatFixture(t, nil)
		f.messages.On("GetByID", ctx, "msg-1").Return(newUnread(), nil)

		err := f.svc.MarkAsRead(ctx, "msg-1", 1)
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("NonParticipantUnauthorized", func(t *testing.T) {
		f := newChatFixture(t, nil)
		f.messages.On("GetByID", ctx, "msg-1").Return(newUnread(), nil)
		f.participants.On("IsParticipant", ctx, "conv-1", int64(3)).Return(false, nil)

		err := f.svc.MarkAsRead(ctx, "msg-1", 3)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})
}

func TestGetConversationMessages(t *testing.T) {
	ctx := context.Background()
	conv := &domain.Conversation{ID: "conv-1"}

	t.Run("PageReturnedChronologically", func(t *testing.T) {
		f := newChatFixture(t, nil)
		newMsg := func(id string, offset time.Duration) *domain.Message {
			enc, err := f.encryptor.Encrypt("body " + id)
			require.NoError(t, err)
			return &domain.Message{
				ID: id, ConversationID: "conv-1", SenderID: 1, ReceiverID: 2,
				Content: enc, CreatedAt: time.Now().UTC().Add(offset),
			}
		}
		f.conversations.On("GetByPair", ctx, int64(1), int64(2)).Return(conv, nil)
		f.participants.On("IsParticipant", ctx, "conv-1", int64(1)).Return(true, nil)
		// Repo hands back the newest-first page.
		f.messages.On("ListForConversation", ctx, "conv-1", 1, 50).Return([]*domain.Message{
			newMsg("m3", -1*time.Minute),
			newMsg("m2", -2*time.Minute),
			newMsg("m1", -3*time.Minute),
		}, nil)

		msgs, err := f.svc.GetConversationMessages(ctx, 1, 2, 0, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "m1", msgs[0].ID)
		assert.Equal(t, "m3", msgs[2].ID)
	})

	t.Run("NoConversationYieldsEmpty", func(t *testing.T) {
		f := newChatFixture(t, nil)
		f.conversations.On("GetByPair", ctx, int64(1), int64(9)).Return(nil, nil)

		msgs, err := f.svc.GetConversationMessages(ctx, 1, 9, 1, 50)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("NonParticipantUnauthorized", func(t *testing.T) {
		f := newChatFixture(t, nil)
		f.conversations.On("GetByPair", ctx, int64(3), int64(2)).Return(conv, nil)
		f.participants.On("IsParticipant", ctx, "conv-1", int64(3)).Return(false, nil)

		_, err := f.svc.GetConversationMessages(ctx, 3, 2, 1, 50)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})
}

func TestDeliver(t *testing.T) {
	ctx := context.Background()

	f := newChatFixture(t, nil)
	enc, err := f.encryptor.Encrypt("hello")
	require.NoError(t, err)
	msg := &domain.Message{ID: "msg-1", ConversationID: "conv-1", SenderID: 1, ReceiverID: 2, Content: enc}

	f.users.On("GetByID", ctx, int64(1)).Return(activeUser(1, "alice"), nil)
	f.participants.On("ListIDs", ctx, "conv-1").Return([]int64{1, 2}, nil)

	require.NoError(t, f.svc.Deliver(ctx, msg))

	assert.Equal(t, []string{service.EventMessageDelivered}, f.broadcaster.eventsFor(2))
	assert.Equal(t, []string{service.EventMessageConfirmed}, f.broadcaster.eventsFor(1))

	// Pushed payload carries the decrypted body.
	resp, ok := f.broadcaster.pushes[0].Payload.(*service.MessageResponse)
	require.True(t, ok)
	assert.Equal(t, "hello", resp.Content)
}
