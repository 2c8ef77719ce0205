package calls

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"call-platform/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	userLockKeyPrefix = "calls:user-lock:"
	userLockTTL       = 10 * time.Second
	userLockRetry     = 25 * time.Millisecond
)

// RedisUserLocker serializes call initiation per user across processes.
// Locks are taken in sorted order so two initiates with overlapping
// participants cannot deadlock each other, and carry a TTL so a crashed
// holder cannot wedge a user forever.
type RedisUserLocker struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewRedisUserLocker(rdb *redis.Client, log *slog.Logger) *RedisUserLocker {
	if log == nil {
		log = slog.Default()
	}
	return &RedisUserLocker{rdb: rdb, log: log}
}

func (l *RedisUserLocker) LockUsers(ctx context.Context, userIDs ...string) (func(), error) {
	ids := append([]string(nil), userIDs...)
	sort.Strings(ids)
	token := uuid.NewString()

	var held []string
	releaseHeld := func() {
		for i := len(held) - 1; i >= 0; i-- {
			if err := utils.ReleaseAdvisoryLock(context.WithoutCancel(ctx), l.rdb, held[i], token); err != nil {
				l.log.Warn("user lock release failed", "key", held[i], "err", err)
			}
		}
	}

	for _, id := range ids {
		key := userLockKeyPrefix + id
		if err := l.acquire(ctx, key, token); err != nil {
			releaseHeld()
			return nil, err
		}
		held = append(held, key)
	}

	var once sync.Once
	return func() { once.Do(releaseHeld) }, nil
}

func (l *RedisUserLocker) acquire(ctx context.Context, key, token string) error {
	for {
		ok, err := utils.AcquireAdvisoryLock(ctx, l.rdb, key, token, userLockTTL)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(userLockRetry):
		}
	}
}
