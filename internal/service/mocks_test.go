package service_test

import (
	"context"
	"errors"
	"time"

	"github.com/stretchr/testify/mock"

	"chatcore/internal/domain"
	"chatcore/internal/queue"
)

type MockUserRepo struct {
	mock.Mock
}

func (m *MockUserRepo) Create(ctx context.Context, u *domain.User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *MockUserRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

type MockConversationRepo struct {
	mock.Mock
}

func (m *MockConversationRepo) GetOrCreate(ctx context.Context, userA, userB int64) (*domain.Conversation, error) {
	args := m.Called(ctx, userA, userB)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepo) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepo) GetByPair(ctx context.Context, userA, userB int64) (*domain.Conversation, error) {
	args := m.Called(ctx, userA, userB)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepo) ListForUser(ctx context.Context, userID int64) ([]*domain.Conversation, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepo) SetLastMessage(ctx context.Context, conversationID, messageID string, at time.Time) error {
	args := m.Called(ctx, conversationID, messageID, at)
	return args.Error(0)
}

type MockMessageRepo struct {
	mock.Mock
}

func (m *MockMessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockMessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockMessageRepo) ListForConversation(ctx context.Context, conversationID string, page, pageSize int) ([]*domain.Message, error) {
	args := m.Called(ctx, conversationID, page, pageSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Message), args.Error(1)
}

func (m *MockMessageRepo) Update(ctx context.Context, msg *domain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockMessageRepo) SoftDelete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockMessageRepo) MarkRead(ctx context.Context, id string, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *MockMessageRepo) CountUnread(ctx context.Context, userID, senderID int64) (int, error) {
	args := m.Called(ctx, userID, senderID)
	return args.Int(0), args.Error(1)
}

type MockParticipantRepo struct {
	mock.Mock
}

func (m *MockParticipantRepo) ListIDs(ctx context.Context, conversationID string) ([]int64, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

func (m *MockParticipantRepo) IsParticipant(ctx context.Context, conversationID string, userID int64) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

// recordingBroadcaster captures every push so tests can assert on the
// event stream without a live hub.
type recordingBroadcaster struct {
	pushes []recordedPush
}

type recordedPush struct {
	UserID  int64
	Event   string
	Payload any
}

func (b *recordingBroadcaster) PushToUser(userID int64, event string, payload any) error {
	b.pushes = append(b.pushes, recordedPush{UserID: userID, Event: event, Payload: payload})
	return nil
}

func (b *recordingBroadcaster) eventsFor(userID int64) []string {
	var events []string
	for _, p := range b.pushes {
		if p.UserID == userID {
			events = append(events, p.Event)
		}
	}
	return events
}

// failingQueue refuses every enqueue, simulating a degraded broker.
type failingQueue struct{}

var errQueueDown = errors.New("queue down")

func (failingQueue) Enqueue(ctx context.Context, item *queue.Item) error { return errQueueDown }
func (failingQueue) EnqueueBatch(ctx context.Context, items []*queue.Item) error {
	return errQueueDown
}
func (failingQueue) Dequeue(ctx context.Context) (*queue.Item, error) { return nil, errQueueDown }
func (failingQueue) DequeueBatch(ctx context.Context, max int) ([]*queue.Item, error) {
	return nil, errQueueDown
}
func (failingQueue) Size(ctx context.Context) (int64, error) { return 0, errQueueDown }
func (failingQueue) Clear(ctx context.Context) error         { return errQueueDown }
