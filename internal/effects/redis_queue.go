package effects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue pushes jobs onto a Redis list that a worker drains. When the
// push itself fails the job runs inline so it is not lost silently.
type RedisQueue struct {
	client   *redis.Client
	registry *Registry
	fallback *Inline
	key      string
	deadKey  string
	attempts int
	backoff  time.Duration
}

func NewRedisQueue(client *redis.Client, registry *Registry, attempts int, backoff time.Duration) *RedisQueue {
	return &RedisQueue{
		client:   client,
		registry: registry,
		fallback: NewInline(registry, attempts),
		key:      "effects:queue",
		deadKey:  "effects:dead",
		attempts: attempts,
		backoff:  backoff,
	}
}

// Connect parses url and pings the server.
func Connect(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

func (q *RedisQueue) Dispatch(ctx context.Context, kind string, payload any) {
	job, err := newJob(kind, payload)
	if err != nil {
		log.Printf("effects: %v", err)
		return
	}
	data, err := json.Marshal(job)
	if err != nil {
		log.Printf("effects: marshal job %s: %v", job.ID, err)
		return
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		log.Printf("effects: enqueue %s job %s failed, running inline: %v", kind, job.ID, err)
		q.fallback.execute(ctx, job)
	}
}

// Run blocks, processing jobs until ctx is cancelled.
func (q *RedisQueue) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		res, err := q.client.BRPop(ctx, 2*time.Second, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("effects: dequeue: %v", err)
			time.Sleep(time.Second)
			continue
		}
		// BRPOP returns [key, value].
		q.process(ctx, res[1])
	}
}

// Drain processes queued jobs until the list is empty and returns how many ran.
func (q *RedisQueue) Drain(ctx context.Context) (int, error) {
	n := 0
	for {
		data, err := q.client.RPop(ctx, q.key).Result()
		if err == redis.Nil {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("drain effects queue: %w", err)
		}
		q.process(ctx, data)
		n++
	}
}

func (q *RedisQueue) process(ctx context.Context, data string) {
	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		log.Printf("effects: discard malformed job: %v", err)
		return
	}
	job, err := q.registry.run(ctx, job, q.attempts, q.backoff)
	if err == nil {
		return
	}
	log.Printf("effects: %s job %s failed after %d attempts, moving to dead letters: %v", job.Kind, job.ID, job.Attempt, err)
	parked, _ := json.Marshal(job)
	if err := q.client.LPush(ctx, q.deadKey, parked).Err(); err != nil {
		log.Printf("effects: park job %s: %v", job.ID, err)
	}
}

// DeadLetters returns the number of parked jobs.
func (q *RedisQueue) DeadLetters(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.deadKey).Result()
}
