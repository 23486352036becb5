package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	taskListKey     = "soar:tasks"
	resultKeyPrefix = "soar:results:"
)

// RedisBroker carries tasks on a Redis list (LPUSH/BRPOP) and results as
// plain keys with a TTL. The broker and the result backend may be distinct
// Redis instances.
type RedisBroker struct {
	tasks   *redis.Client
	results *redis.Client
}

// NewRedisBroker connects to the broker and result backend URLs
// (redis://host:port/db). The same URL yields a shared client.
func NewRedisBroker(brokerURL, resultURL string) (*RedisBroker, error) {
	tasks, err := connect(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("broker: %w", err)
	}

	results := tasks
	if resultURL != "" && resultURL != brokerURL {
		results, err = connect(resultURL)
		if err != nil {
			tasks.Close()
			return nil, fmt.Errorf("result backend: %w", err)
		}
	}

	return &RedisBroker{tasks: tasks, results: results}, nil
}

func connect(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	opts.DialTimeout = 3 * time.Second
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", opts.Addr, err)
	}

	slog.Info("redis connected", "addr", opts.Addr, "db", opts.DB)
	return rdb, nil
}

func (b *RedisBroker) Push(ctx context.Context, payload []byte) error {
	return b.tasks.LPush(ctx, taskListKey, payload).Err()
}

// Pop blocks up to wait for the next task. Returns (nil, nil) on timeout.
func (b *RedisBroker) Pop(ctx context.Context, wait time.Duration) ([]byte, error) {
	res, err := b.tasks.BRPop(ctx, wait, taskListKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// BRPOP returns [key, value].
	return []byte(res[1]), nil
}

func (b *RedisBroker) SetResult(ctx context.Context, taskID string, payload []byte, ttl time.Duration) error {
	return b.results.Set(ctx, resultKeyPrefix+taskID, payload, ttl).Err()
}

func (b *RedisBroker) GetResult(ctx context.Context, taskID string) ([]byte, error) {
	blob, err := b.results.Get(ctx, resultKeyPrefix+taskID).Bytes()
	if err == redis.Nil {
		return nil, ErrResultNotFound
	}
	return blob, err
}

func (b *RedisBroker) Close() error {
	err := b.tasks.Close()
	if b.results != b.tasks {
		if cerr := b.results.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
