package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const probeKey = "chat:queue_probe"

// Select performs the startup backend selection: a short write/read probe
// against Redis. On success the Redis backend is wired for the process
// lifetime; on any failure the in-process backend is used instead and the
// degradation is logged. The choice is made once; backends are not
// hot-swapped mid-run. Starting degraded beats refusing to start.
func Select(ctx context.Context, opts *redis.Options, probeTimeout time.Duration, logger zerolog.Logger) Queue {
	if opts == nil {
		logger.Info().Msg("redis not configured, using in-process queue")
		return NewMemoryQueue()
	}
	client := redis.NewClient(opts)

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := probe(probeCtx, client); err != nil {
		_ = client.Close()
		logger.Warn().
			Err(err).
			Str("addr", opts.Addr).
			Msg("redis queue probe failed, falling back to in-process queue")
		return NewMemoryQueue()
	}

	logger.Info().Str("addr", opts.Addr).Msg("using redis message queue")
	return NewRedisQueue(client)
}

// probe round-trips a value through a scratch list to verify both
// connectivity and read/write permissions.
func probe(ctx context.Context, client *redis.Client) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return err
	}
	value := uuid.NewString()
	if err := client.LPush(ctx, probeKey, value).Err(); err != nil {
		return err
	}
	defer client.Del(ctx, probeKey)
	got, err := client.RPop(ctx, probeKey).Result()
	if err != nil {
		return err
	}
	if got != value {
		return errors.New("probe value mismatch")
	}
	return nil
}
