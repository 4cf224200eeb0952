package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chatcore/internal/domain"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

var _ domain.ConversationRepository = (*ConversationRepo)(nil)

const conversationColumns = `id, pair_key, created_by, last_message_id, last_message_at, created_at, updated_at`

// GetOrCreate returns the conversation for the unordered user pair,
// inserting it if absent. The insert races through the unique pair_key
// constraint, so concurrent calls for the same pair converge on one row.
func (r *ConversationRepo) GetOrCreate(ctx context.Context, userA, userB int64) (*domain.Conversation, error) {
	pairKey := domain.PairKey(userA, userB)
	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, pair_key, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (pair_key) DO NOTHING
	`, uuid.NewString(), pairKey, userA, now, now); err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	c := &domain.Conversation{}
	if err := scanConversation(tx.QueryRowContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations WHERE pair_key = $1
	`, pairKey), c); err != nil {
		return nil, fmt.Errorf("select conversation: %w", err)
	}

	for _, uid := range []int64{userA, userB} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (user_id, conversation_id, joined_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, conversation_id) DO NOTHING
		`, uid, c.ID, now); err != nil {
			return nil, fmt.Errorf("insert participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return c, nil
}

func (r *ConversationRepo) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	c := &domain.Conversation{}
	err := scanConversation(r.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations WHERE id = $1
	`, id), c)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

func (r *ConversationRepo) GetByPair(ctx context.Context, userA, userB int64) (*domain.Conversation, error) {
	c := &domain.Conversation{}
	err := scanConversation(r.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations WHERE pair_key = $1
	`, domain.PairKey(userA, userB)), c)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation by pair: %w", err)
	}
	return c, nil
}

func (r *ConversationRepo) ListForUser(ctx context.Context, userID int64) ([]*domain.Conversation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.pair_key, c.created_by, c.last_message_id, c.last_message_at, c.created_at, c.updated_at
		FROM conversations c
		JOIN conversation_participants cp ON cp.conversation_id = c.id
		WHERE cp.user_id = $1
		ORDER BY c.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var res []*domain.Conversation
	for rows.Next() {
		c := &domain.Conversation{}
		if err := scanConversation(rows, c); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r *ConversationRepo) SetLastMessage(ctx context.Context, conversationID, messageID string, at time.Time) error {
	if _, err := r.db.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_id = $1, last_message_at = $2, updated_at = $2
		WHERE id = $3
	`, messageID, at, conversationID); err != nil {
		return fmt.Errorf("set last message: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner, c *domain.Conversation) error {
	return row.Scan(
		&c.ID,
		&c.PairKey,
		&c.CreatedBy,
		&c.LastMessageID,
		&c.LastMessageAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
}
