package notify

import (
	"context"
	"time"

	"duka/internal/payments"

	"github.com/redis/go-redis/v9"
)

// RedisStatusStore keeps the latest status of each payment attempt in a
// Redis hash and appends every event to a stream, so dashboards and other
// consumers can follow payment activity without touching Postgres.
type RedisStatusStore struct {
	client    RedisPipelineClient
	stream    string
	keyPrefix string
	ttl       time.Duration
	maxLen    int64
}

// RedisPipelineClient is the minimal client surface used by RedisStatusStore.
type RedisPipelineClient interface {
	Pipeline() RedisPipeliner
}

// RedisPipeliner is the subset of commands used within a pipeline.
type RedisPipeliner interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Exec(ctx context.Context) ([]redis.Cmder, error)
}

// NewRedisStatusStore constructs a Redis-backed payment event notifier.
func NewRedisStatusStore(client RedisPipelineClient, stream string, ttl time.Duration, maxLen int64) *RedisStatusStore {
	if stream == "" {
		stream = "payment_events"
	}
	return &RedisStatusStore{
		client:    client,
		stream:    stream,
		keyPrefix: "payment:",
		ttl:       ttl,
		maxLen:    maxLen,
	}
}

// PaymentEvent writes the latest status and appends to the event stream.
func (r *RedisStatusStore) PaymentEvent(ctx context.Context, evt payments.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := r.keyPrefix + evt.CheckoutRequestID
	if evt.CheckoutRequestID == "" {
		key = r.keyPrefix + evt.OrderNumber
	}

	values := map[string]any{
		"order_id":            evt.OrderNumber,
		"checkout_request_id": evt.CheckoutRequestID,
		"status":              evt.Status,
		"message":             evt.Message,
	}

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, values)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}

	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: values,
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	pipe.XAdd(ctx, args)

	_, err := pipe.Exec(ctx)
	return err
}
