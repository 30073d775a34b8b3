package idempotence

import (
	"context"
	"errors"
	"time"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/redis"
)

const (
	statusProcessing = "processing"
	statusProcessed  = "processed"

	defaultTimeout       = time.Minute
	defaultSuccessfulTTL = 6 * time.Hour
	pollInterval         = 100 * time.Millisecond
)

// ErrConflict is returned when another execution holds the processing
// marker and fails before finishing. The caller may retry.
var ErrConflict = errors.New("conflict: concurrent execution in progress")

// Idempotence guarantees at-most-once execution per key within the
// successful TTL. The first caller claims the key and runs exec; a
// concurrent caller waits for the outcome instead of re-executing.
type Idempotence interface {
	Exec(ctx context.Context, key string, exec func(context.Context) error) error
}

type idempotenceImpl struct {
	redisClient   redis.Cmdable
	timeout       time.Duration
	successfulTTL time.Duration
}

var _ Idempotence = (*idempotenceImpl)(nil)

type Option func(*idempotenceImpl)

// WithTimeout bounds how long a processing marker survives. A crashed
// worker's claim expires after this and the key becomes claimable again.
func WithTimeout(timeout time.Duration) Option {
	return func(i *idempotenceImpl) {
		i.timeout = timeout
	}
}

// WithSuccessfulTTL controls how long a processed marker suppresses
// duplicates.
func WithSuccessfulTTL(ttl time.Duration) Option {
	return func(i *idempotenceImpl) {
		i.successfulTTL = ttl
	}
}

func New(redisClient redis.Cmdable, opts ...Option) Idempotence {
	i := &idempotenceImpl{
		redisClient:   redisClient,
		timeout:       defaultTimeout,
		successfulTTL: defaultSuccessfulTTL,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func redisKey(key string) string {
	return "idempotency:" + key
}

func (i *idempotenceImpl) Exec(ctx context.Context, key string, exec func(context.Context) error) error {
	claimed, err := i.redisClient.SetNX(ctx, redisKey(key), statusProcessing, i.timeout).Result()
	if err != nil {
		return err
	}

	if !claimed {
		return i.await(ctx, key)
	}

	if err := exec(ctx); err != nil {
		// Release the claim so the message can be redelivered.
		i.redisClient.Del(context.WithoutCancel(ctx), redisKey(key))
		return err
	}

	return i.redisClient.Set(ctx, redisKey(key), statusProcessed, i.successfulTTL).Err()
}

// await blocks until the concurrent owner resolves the key. A processed
// marker means the work is done and the duplicate is silently absorbed.
// A vanished marker means the owner failed.
func (i *idempotenceImpl) await(ctx context.Context, key string) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		status, err := i.redisClient.Get(ctx, redisKey(key)).Result()
		if err != nil {
			if err == redis.Nil {
				return ErrConflict
			}
			return err
		}
		if status == statusProcessed {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
