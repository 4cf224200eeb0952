package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"chatcore/internal/domain"
)

// Deliverer is the domain service's internal deliver step: broadcast one
// persisted message to its recipients.
type Deliverer interface {
	Deliver(ctx context.Context, m *domain.Message) error
}

// Acker is implemented by backends that track claimed items and need an
// explicit acknowledgment once an item has been processed.
type Acker interface {
	Ack(ctx context.Context, item *Item) error
}

// Worker is the recurring background task that drains the queue in batches
// and hands each item to the deliverer. Delivery failures are logged and
// never re-enqueued: the message is already persisted, so at worst the
// recipient misses the live push and sees the message on next fetch.
type Worker struct {
	queue     Queue
	deliverer Deliverer
	batchSize int
	interval  time.Duration
	logger    zerolog.Logger
}

func NewWorker(q Queue, d Deliverer, batchSize int, interval time.Duration, logger zerolog.Logger) *Worker {
	if batchSize <= 0 {
		batchSize = 100
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Worker{
		queue:     q,
		deliverer: d,
		batchSize: batchSize,
		interval:  interval,
		logger:    logger,
	}
}

// Run drains the queue on a fixed interval until ctx is cancelled. A final
// drain is attempted on shutdown so accepted messages still get their push.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info().
		Dur("interval", w.interval).
		Int("batch_size", w.batchSize).
		Msg("message drain worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			w.DrainOnce(drainCtx)
			cancel()
			w.logger.Info().Msg("message drain worker stopped")
			return
		case <-ticker.C:
			w.DrainOnce(ctx)
		}
	}
}

// DrainOnce processes at most one batch and reports how many items were
// dequeued. One bad item never aborts the rest of the batch.
func (w *Worker) DrainOnce(ctx context.Context) int {
	items, err := w.queue.DequeueBatch(ctx, w.batchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("dequeue batch failed")
	}
	if len(items) == 0 {
		return 0
	}

	delivered := 0
	for _, item := range items {
		if item == nil || item.Message == nil {
			continue
		}
		if err := w.deliverer.Deliver(ctx, item.Message); err != nil {
			w.logger.Error().
				Err(err).
				Str("message_id", item.Message.ID).
				Msg("broadcast failed, not retrying")
		} else {
			delivered++
		}
		if acker, ok := w.queue.(Acker); ok {
			if err := acker.Ack(ctx, item); err != nil {
				w.logger.Warn().
					Err(err).
					Str("message_id", item.Message.ID).
					Msg("failed to ack queue item")
			}
		}
	}

	w.logger.Debug().
		Int("dequeued", len(items)).
		Int("delivered", delivered).
		Msg("drained message batch")
	return len(items)
}
