package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	queueKey      = "chat:message_queue"
	processingKey = "chat:message_processing"
)

// RedisQueue is the durable/shared backend. Items survive process restarts
// and may be drained by a worker in another process: dequeue uses RPOPLPUSH
// into a processing list, so each item is claimed by exactly one consumer.
type RedisQueue struct {
	client *redis.Client
}

var _ Queue = (*RedisQueue)(nil)

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Enqueue(ctx context.Context, item *Item) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	if err := q.client.LPush(ctx, queueKey, raw).Err(); err != nil {
		return fmt.Errorf("lpush: %w", err)
	}
	return nil
}

func (q *RedisQueue) EnqueueBatch(ctx context.Context, items []*Item) error {
	if len(items) == 0 {
		return nil
	}
	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, item := range items {
			raw, err := json.Marshal(item)
			if err != nil {
				return fmt.Errorf("marshal queue item: %w", err)
			}
			pipe.LPush(ctx, queueKey, raw)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("bulk lpush: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Item, error) {
	raw, err := q.client.RPopLPush(ctx, queueKey, processingKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rpoplpush: %w", err)
	}
	item := &Item{}
	if err := json.Unmarshal([]byte(raw), item); err != nil {
		return nil, fmt.Errorf("unmarshal queue item: %w", err)
	}
	return item, nil
}

func (q *RedisQueue) DequeueBatch(ctx context.Context, max int) ([]*Item, error) {
	if max <= 0 {
		return nil, nil
	}
	cmds := make([]*redis.StringCmd, 0, max)
	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i := 0; i < max; i++ {
			cmds = append(cmds, pipe.RPopLPush(ctx, queueKey, processingKey))
		}
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("bulk rpoplpush: %w", err)
	}

	var items []*Item
	for _, cmd := range cmds {
		raw, err := cmd.Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return items, fmt.Errorf("bulk rpoplpush: %w", err)
		}
		item := &Item{}
		if err := json.Unmarshal([]byte(raw), item); err != nil {
			return items, fmt.Errorf("unmarshal queue item: %w", err)
		}
		items = append(items, item)
	}
	return items, nil
}

// Ack removes a processed item from the processing list.
func (q *RedisQueue) Ack(ctx context.Context, item *Item) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	if err := q.client.LRem(ctx, processingKey, 1, raw).Err(); err != nil {
		return fmt.Errorf("lrem: %w", err)
	}
	return nil
}

func (q *RedisQueue) Size(ctx context.Context) (int64, error) {
	size, err := q.client.LLen(ctx, queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("llen: %w", err)
	}
	return size, nil
}

func (q *RedisQueue) Clear(ctx context.Context) error {
	if err := q.client.Del(ctx, queueKey, processingKey).Err(); err != nil {
		return fmt.Errorf("del: %w", err)
	}
	return nil
}
