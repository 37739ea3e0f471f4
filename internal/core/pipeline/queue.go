package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Queue hands jobs from the web layer to the workers.
type Queue interface {
	Push(ctx context.Context, job Job) error
	// Pop blocks until a job is available or ctx is done.
	Pop(ctx context.Context) (Job, error)
	// Durable reports whether queued jobs outlive the process.
	Durable() bool
	Close() error
}

// MemoryQueue is a bounded in-process queue. Jobs are lost on restart.
type MemoryQueue struct {
	jobs chan Job
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{jobs: make(chan Job, size)}
}

// Push blocks while the queue is full.
func (q *MemoryQueue) Push(ctx context.Context, job Job) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Pop(ctx context.Context) (Job, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

func (q *MemoryQueue) Durable() bool { return false }

func (q *MemoryQueue) Close() error { return nil }

// RedisQueue keeps jobs in a Redis list so they survive an API restart.
type RedisQueue struct {
	rdb     *goredis.Client
	key     string
	pollFor time.Duration
}

func NewRedisQueue(ctx context.Context, addr, key string) (*RedisQueue, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisQueue{rdb: rdb, key: key, pollFor: 5 * time.Second}, nil
}

func (q *RedisQueue) Push(ctx context.Context, job Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, q.key, raw).Err()
}

func (q *RedisQueue) Pop(ctx context.Context) (Job, error) {
	for {
		res, err := q.rdb.BRPop(ctx, q.pollFor, q.key).Result()
		if errors.Is(err, goredis.Nil) {
			if ctx.Err() != nil {
				return Job{}, ctx.Err()
			}
			continue
		}
		if err != nil {
			return Job{}, err
		}
		// res is [key, value]
		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return Job{}, fmt.Errorf("decode job: %w", err)
		}
		return job, nil
	}
}

func (q *RedisQueue) Durable() bool { return true }

func (q *RedisQueue) Close() error {
	if q == nil || q.rdb == nil {
		return nil
	}
	return q.rdb.Close()
}
