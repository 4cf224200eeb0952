// Package queue provides the broadcast work queue that decouples "message
// accepted" from "message pushed to recipients". Two interchangeable
// backends share one contract: a Redis-backed queue for multi-process
// deployments and an in-process fallback. Losing a queued item loses only
// the live push, never the message itself; persistence happens before
// enqueue.
package queue

import (
	"context"
	"time"

	"chatcore/internal/domain"
)

// Item wraps a persisted message awaiting asynchronous broadcast.
type Item struct {
	Message    *domain.Message `json:"message"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// NewItem wraps a message with the current enqueue timestamp.
func NewItem(m *domain.Message) *Item {
	return &Item{Message: m, EnqueuedAt: time.Now().UTC()}
}

// Queue is the abstract FIFO work queue. Implementations must be safe for
// concurrent producers; Dequeue and DequeueBatch must claim each item for
// exactly one consumer and must never block waiting for items.
type Queue interface {
	Enqueue(ctx context.Context, item *Item) error
	EnqueueBatch(ctx context.Context, items []*Item) error
	// Dequeue returns the next item, or (nil, nil) when the queue is empty.
	Dequeue(ctx context.Context) (*Item, error)
	// DequeueBatch returns up to max items, including zero.
	DequeueBatch(ctx context.Context, max int) ([]*Item, error)
	Size(ctx context.Context) (int64, error)
	Clear(ctx context.Context) error
}
