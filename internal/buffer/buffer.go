package buffer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/alfredcs/reasonflow/config"
	"github.com/alfredcs/reasonflow/types"
)

// Buffer is a redis-backed queue of rollout batches. The generator side
// pushes JSON-encoded batches; the trainer side pops them, optionally
// rate-limited so an idle trainer does not hammer redis.
type Buffer struct {
	client  *redis.Client
	queue   string
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New connects to redis and verifies the connection with a ping.
func New(cfg config.RedisConfig, logger *zap.Logger) (*Buffer, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, types.NewErrorf(types.ErrBufferUnavailable, "connect to redis at %s", cfg.Addr).WithCause(err)
	}

	var limiter *rate.Limiter
	if cfg.PollRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.PollRate), 1)
	}

	logger.Info("rollout buffer connected",
		zap.String("addr", cfg.Addr),
		zap.String("queue", cfg.Queue),
	)

	return &Buffer{
		client:  client,
		queue:   cfg.Queue,
		limiter: limiter,
		logger:  logger.With(zap.String("component", "buffer")),
	}, nil
}

// Push enqueues one rollout batch.
func (b *Buffer) Push(ctx context.Context, batch *types.RolloutBatch) error {
	if batch == nil || batch.Size() == 0 {
		return types.NewError(types.ErrEmptyBatch, "refusing to enqueue an empty batch")
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return types.NewError(types.ErrDataInvalid, "encode batch").WithCause(err)
	}
	if err := b.client.LPush(ctx, b.queue, data).Err(); err != nil {
		return types.NewError(types.ErrBufferUnavailable, "push batch").WithCause(err)
	}
	b.logger.Debug("batch enqueued", zap.Int("samples", batch.Size()))
	return nil
}

// Pop dequeues the oldest rollout batch, blocking up to wait. Returns a
// BUFFER_EMPTY error when the wait elapses with nothing available.
func (b *Buffer) Pop(ctx context.Context, wait time.Duration) (*types.RolloutBatch, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	res, err := b.client.BRPop(ctx, wait, b.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, types.NewError(types.ErrBufferEmpty, "no rollout batch available")
		}
		return nil, types.NewError(types.ErrBufferUnavailable, "pop batch").WithCause(err)
	}

	// BRPOP returns [key, value].
	var batch types.RolloutBatch
	if err := json.Unmarshal([]byte(res[1]), &batch); err != nil {
		return nil, types.NewError(types.ErrDataInvalid, "decode batch").WithCause(err)
	}

	b.logger.Debug("batch dequeued", zap.Int("samples", batch.Size()))
	return &batch, nil
}

// Depth returns the number of batches waiting in the queue.
func (b *Buffer) Depth(ctx context.Context) (int64, error) {
	n, err := b.client.LLen(ctx, b.queue).Result()
	if err != nil {
		return 0, types.NewError(types.ErrBufferUnavailable, "queue depth").WithCause(err)
	}
	return n, nil
}

// Close releases the redis connection.
func (b *Buffer) Close() error {
	return b.client.Close()
}
