package lock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "mariscope:lock:"

// Options tunes distributed lock acquisition.
type Options struct {
	Expiry      time.Duration
	Tries       int
	RetryDelay  time.Duration
	DriftFactor float64
}

// DefaultOptions returns the acquisition settings used by NewRedis.
func DefaultOptions() Options {
	return Options{
		Expiry:      10 * time.Second,
		Tries:       64,
		RetryDelay:  50 * time.Millisecond,
		DriftFactor: 0.01,
	}
}

// Redis is a Locker backed by a Redlock mutex so that replicas sharing one
// database serialize the same keys.
type Redis struct {
	rs     *redsync.Redsync
	opts   Options
	logger *zap.Logger
}

// NewRedis creates a distributed locker on an existing client.
func NewRedis(client *redis.Client, opts Options, logger *zap.Logger) (*Redis, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if opts.Expiry <= 0 {
		return nil, fmt.Errorf("lock expiry must be greater than 0")
	}
	if opts.Tries < 1 {
		return nil, fmt.Errorf("lock tries must be at least 1")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Redis{
		rs:     redsync.New(goredis.NewPool(client)),
		opts:   opts,
		logger: logger,
	}, nil
}

func (r *Redis) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if fn == nil {
		return ErrNilFn
	}
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}

	mutex := r.rs.NewMutex(
		keyPrefix+key,
		redsync.WithExpiry(r.opts.Expiry),
		redsync.WithTries(r.opts.Tries),
		redsync.WithRetryDelay(r.opts.RetryDelay),
		redsync.WithDriftFactor(r.opts.DriftFactor),
	)

	if err := mutex.LockContext(ctx); err != nil {
		r.logger.Error("failed to acquire lock", zap.String("lock_key", key), zap.Error(err))
		return fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	defer func() {
		// The caller's context may already be cancelled; release regardless.
		ok, err := mutex.UnlockContext(context.Background())
		if !ok || err != nil {
			r.logger.Warn("failed to release lock",
				zap.String("lock_key", key),
				zap.Bool("unlock_ok", ok),
				zap.Error(err),
			)
		}
	}()

	return fn(ctx)
}
