package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Sink = (*RedisSink)(nil)

// RedisSink appends events to a Redis Stream, from which notification and
// audit consumers read independently.
type RedisSink struct {
	client *redis.Client
	stream string
}

// NewRedisSink connects to Redis and verifies the connection.
func NewRedisSink(options *redis.Options, stream string) (*RedisSink, error) {
	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisSink{client: client, stream: stream}, nil
}

func (s *RedisSink) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"type":      string(event.Type),
			"target_id": event.TargetID,
			"event":     payload,
		},
	}).Err()
}

// Close releases the underlying client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
