package queue

import (
	"context"
	"sync"
)

// MemoryQueue is the in-process fallback backend: memory-only, single
// process, zero external dependencies. It is selected when the Redis
// probe fails at startup.
type MemoryQueue struct {
	mu    sync.Mutex
	items []*Item
}

var _ Queue = (*MemoryQueue)(nil)

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(_ context.Context, item *Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return nil
}

func (q *MemoryQueue) EnqueueBatch(_ context.Context, items []*Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)
	return nil
}

func (q *MemoryQueue) Dequeue(_ context.Context) (*Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, nil
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, nil
}

func (q *MemoryQueue) DequeueBatch(_ context.Context, max int) ([]*Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if max <= 0 || len(q.items) == 0 {
		return nil, nil
	}
	n := max
	if n > len(q.items) {
		n = len(q.items)
	}
	batch := make([]*Item, n)
	copy(batch, q.items[:n])
	q.items = q.items[n:]
	return batch, nil
}

func (q *MemoryQueue) Size(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

func (q *MemoryQueue) Clear(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	return nil
}
