package config

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

var (
	rdb    *redis.Client
	locker *redislock.Client
)

func GetRedisDB() *redis.Client {
	return rdb
}

func GetRedisLock() *redislock.Client {
	return locker
}

// RedisSettings is the REDIS_* environment.
type RedisSettings struct {
	Address  string
	Password string
	DB       int
	PoolSize int
	// OpTimeout bounds each cache call so a slow redis degrades to a miss.
	OpTimeout time.Duration
}

func LoadRedisSettings() RedisSettings {
	return RedisSettings{
		Address:   envOr("REDIS_ADDRESS", "localhost:6379"),
		Password:  envOr("REDIS_PASSWORD", ""),
		DB:        intFromEnv("REDIS_DB", 0),
		PoolSize:  intFromEnv("REDIS_POOL_SIZE", 100),
		OpTimeout: time.Duration(intFromEnv("REDIS_OP_TIMEOUT_MS", 500)) * time.Millisecond,
	}
}

var redisOpTimeout = 500 * time.Millisecond

func redisContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), redisOpTimeout)
}

// GetRedisObject decodes the JSON value at key into dest. A missing key or
// an unconnected client is a miss, not an error.
func GetRedisObject(key string, dest any) (bool, error) {
	if rdb == nil {
		return false, nil
	}
	ctx, cancel := redisContext()
	defer cancel()
	val, err := rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return false, err
	}
	return true, nil
}

func SetRedisObject(key string, obj any, exp time.Duration) error {
	if rdb == nil {
		return nil
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	ctx, cancel := redisContext()
	defer cancel()
	return rdb.Set(ctx, key, b, exp).Err()
}

func RemoveRedisKey(keys ...string) error {
	if rdb == nil || len(keys) == 0 {
		return nil
	}
	ctx, cancel := redisContext()
	defer cancel()
	return rdb.Del(ctx, keys...).Err()
}

// ConnectRedisWithRetry blocks until redis answers a PING, then sets the
// global client and lock client. Call it from main after the HTTP listener is up.
func ConnectRedisWithRetry() {
	settings := LoadRedisSettings()
	if settings.OpTimeout > 0 {
		redisOpTimeout = settings.OpTimeout
	}
	for attempt := 1; ; attempt++ {
		client := redis.NewClient(&redis.Options{
			Addr:     settings.Address,
			Password: settings.Password,
			DB:       settings.DB,
			PoolSize: settings.PoolSize,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err == nil {
			rdb = client
			locker = redislock.New(client)
			log.Printf("connected to redis (attempt=%d addr=%s)", attempt, settings.Address)
			return
		}
		_ = client.Close()

		sleep := retryDelay(attempt)
		log.Printf("failed to connect redis (attempt=%d addr=%s): %v; retrying in %s", attempt, settings.Address, err, sleep)
		time.Sleep(sleep)
	}
}
