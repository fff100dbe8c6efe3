package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/sales_ledger/config"
	"github.com/sirupsen/logrus"
)

func GetCacheLifespan() time.Duration {
	lifespan, err := strconv.Atoi(os.Getenv("CACHE_LIFESPAN_MINUTES"))
	if err != nil || lifespan <= 0 {
		lifespan = 10
	}
	return time.Duration(lifespan) * time.Minute
}

// RedisLocker serializes work on one key across instances.
// A nil client turns every Lock into a no-op.
type RedisLocker struct {
	Client *redislock.Client
	Logger *logrus.Logger
	TTL    time.Duration
	Wait   time.Duration
}

func NewRedisLocker(client *redislock.Client, logger *logrus.Logger) *RedisLocker {
	return &RedisLocker{
		Client: client,
		Logger: logger,
		TTL:    time.Duration(config.SaleLockTTLSeconds()) * time.Second,
		Wait:   5 * time.Second,
	}
}

// Lock obtains key, retrying until Wait elapses. The returned release func is never nil.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	noop := func() {}
	if l == nil || l.Client == nil {
		return noop, nil
	}
	ttl := l.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	retries := int(l.Wait / (100 * time.Millisecond))
	lock, err := l.Client.Obtain(ctx, key, ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), retries),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return noop, fmt.Errorf("%w: %s", ErrorLockNotObtained, key)
	} else if err != nil {
		return noop, err
	}
	return func() {
		// release with a fresh context; the request context may already be cancelled
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if rerr := lock.Release(rctx); rerr != nil && !errors.Is(rerr, redislock.ErrLockNotHeld) && l.Logger != nil {
			l.Logger.WithFields(logrus.Fields{
				"field": "RedisLocker",
				"key":   key,
			}).Warn("release lock: " + rerr.Error())
		}
	}, nil
}

// RedisCache stores JSON projections through the shared redis client.
type RedisCache struct{}

func (RedisCache) Get(key string, dest any) (bool, error) {
	return config.GetRedisObject(key, dest)
}

func (RedisCache) Set(key string, obj any) error {
	return config.SetRedisObject(key, obj, GetCacheLifespan())
}

func (RedisCache) Delete(keys ...string) error {
	return config.RemoveRedisKey(keys...)
}
