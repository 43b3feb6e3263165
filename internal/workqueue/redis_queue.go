package workqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue pushes work onto one list per priority and publishes
// broadcasts on a single channel.
type RedisQueue struct {
	client *redis.Client
	prefix string
}

// NewRedisQueue connects to redisURL and verifies the connection.
func NewRedisQueue(redisURL, prefix string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisQueueWithClient(client, prefix), nil
}

func NewRedisQueueWithClient(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "graphdesk"
	}
	return &RedisQueue{client: client, prefix: prefix}
}

// QueueKey is the list that holds messages of priority p.
func (q *RedisQueue) QueueKey(p Priority) string {
	if p == "" {
		p = PriorityNormal
	}
	return q.prefix + ":queue:" + string(p)
}

func (q *RedisQueue) BroadcastChannel() string {
	return q.prefix + ":broadcast"
}

func (q *RedisQueue) Push(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", msg.Kind, err)
	}
	if err := q.client.RPush(ctx, q.QueueKey(msg.Priority), payload).Err(); err != nil {
		return fmt.Errorf("push %s message: %w", msg.Kind, err)
	}
	return nil
}

func (q *RedisQueue) Broadcast(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s broadcast: %w", msg.Kind, err)
	}
	if err := q.client.Publish(ctx, q.BroadcastChannel(), payload).Err(); err != nil {
		return fmt.Errorf("broadcast %s: %w", msg.Kind, err)
	}
	return nil
}

// Subscribe hands each broadcast to fn until ctx ends. Payloads that do
// not decode are skipped.
func (q *RedisQueue) Subscribe(ctx context.Context, fn func(Message)) error {
	sub := q.client.Subscribe(ctx, q.BroadcastChannel())
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", q.BroadcastChannel(), err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				continue
			}
			fn(msg)
		}
	}
}

// Pop removes the oldest message of priority p, waiting up to timeout.
// It returns false when nothing arrived.
func (q *RedisQueue) Pop(ctx context.Context, p Priority, timeout time.Duration) (Message, bool, error) {
	result, err := q.client.BLPop(ctx, timeout, q.QueueKey(p)).Result()
	if err == redis.Nil {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, fmt.Errorf("pop %s queue: %w", p, err)
	}
	var msg Message
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		return Message{}, false, fmt.Errorf("unmarshal queued message: %w", err)
	}
	return msg, true, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}
