package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/codevoicehq/codevoice/internal/generation"
)

// RedisNotifier publishes task events on one Redis channel per task id.
// Channels are named "<prefix>:<task_id>".
type RedisNotifier struct {
	client *redis.Client
	prefix string
}

// NewRedisNotifier connects to redisURL and verifies the connection with a
// ping so a misconfigured backend is caught at startup, not mid-stream.
func NewRedisNotifier(ctx context.Context, redisURL, prefix string) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(redisURL))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if prefix == "" {
		prefix = "generation_tasks"
	}
	return &RedisNotifier{client: client, prefix: prefix}, nil
}

// Client exposes the underlying connection for components sharing it, such
// as the quota guard.
func (n *RedisNotifier) Client() *redis.Client { return n.client }

func (n *RedisNotifier) channel(taskID string) string {
	return n.prefix + ":" + taskID
}

func (n *RedisNotifier) Publish(ctx context.Context, taskID string, evt generation.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel(taskID), payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (n *RedisNotifier) Subscribe(ctx context.Context, taskID string) (Subscription, error) {
	pubsub := n.client.Subscribe(ctx, n.channel(taskID))
	// Receive forces the SUBSCRIBE round trip; a dead backend fails here and
	// the caller falls back to polling.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", n.channel(taskID), err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		ch:     make(chan generation.Event, 16),
	}
	go sub.pump(pubsub.Channel())
	return sub, nil
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	ch     chan generation.Event
	once   sync.Once
}

func (s *redisSubscription) pump(src <-chan *redis.Message) {
	defer close(s.ch)
	for msg := range src {
		var evt generation.Event
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			log.Printf("notify: drop undecodable event on %s: %v", msg.Channel, err)
			continue
		}
		s.ch <- evt
	}
}

func (s *redisSubscription) Events() <-chan generation.Event { return s.ch }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.pubsub.Close()
	})
	return err
}
