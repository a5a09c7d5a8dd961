package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/bobarin/captionreel/internal/models"
)

// Queue is a Redis list of JSON job records. Producers push onto the head
// and consumers pop from the tail, so jobs run in arrival order.
type Queue struct {
	client *redis.Client
	name   string
}

func New(redisURL, name string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client, name: name}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, name string) *Queue {
	return &Queue{client: client, name: name}
}

func (q *Queue) Name() string {
	return q.name
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) Enqueue(ctx context.Context, job *models.Job) error {
	if job.Version == 0 {
		job.Version = models.CurrentJobVersion
	}
	if err := job.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return q.client.LPush(ctx, q.name, data).Err()
}

// Pop removes and returns the oldest raw entry. ok is false when the queue
// is empty. The removal is final: there is no acknowledgment step.
func (q *Queue) Pop(ctx context.Context) (raw []byte, ok bool, err error) {
	result, err := q.client.RPop(ctx, q.name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil // No job available
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to pop from %s: %w", q.name, err)
	}
	return result, true, nil
}

func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.name).Result()
}
