package redis

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/compasshq/compass-backend/internal/logger"
)

// Locker is a single-holder advisory lock. The scheduler takes it before a
// sweep so that overlapping workers (multiple replicas, or a slow previous
// run) never double-create reminders.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
	Close() error
}

type redisLocker struct {
	log   *logger.Logger
	rdb   *goredis.Client
	owner string
}

// NewLocker connects to REDIS_ADDR. When the variable is unset it returns a
// no-op locker rather than an error: a single-process deployment without
// redis still runs, it just has no cross-process exclusion.
func NewLocker(log *logger.Logger) (Locker, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	log = log.With("service", "RedisLocker")

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		log.Warn("REDIS_ADDR not set, scheduler lock is process-local only")
		return noopLocker{}, nil
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisLocker{
		log:   log,
		rdb:   rdb,
		owner: uuid.NewString(),
	}, nil
}

func (l *redisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	ok, err := l.rdb.SetNX(ctx, key, l.owner, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis setnx %q: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		// Only delete a lock we still own; an expired-and-reacquired key
		// belongs to someone else.
		const script = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.rdb.Eval(ctx, script, []string{key}, l.owner).Err(); err != nil {
			l.log.Warn("Lock release failed", "key", key, "error", err)
		}
	}
	return release, true, nil
}

func (l *redisLocker) Close() error {
	return l.rdb.Close()
}

type noopLocker struct{}

func (noopLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	return func() {}, true, nil
}

func (noopLocker) Close() error { return nil }
