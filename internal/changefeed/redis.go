package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisChannel is the pub/sub channel used when none is configured.
const DefaultRedisChannel = "karaoke:queue_changes"

// RedisConfig holds the connection settings for a Redis feed.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// Dial connects to Redis and checks the connection.
func Dial(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// Redis is a feed shared between processes through Redis pub/sub. Every
// subscribed process sees every change.
type Redis struct {
	client  *redis.Client
	channel string
}

// NewRedis creates a feed on the given channel.
func NewRedis(client *redis.Client, channel string) *Redis {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &Redis{client: client, channel: channel}
}

// Publish sends c to every subscribed process.
func (r *Redis) Publish(ctx context.Context, c Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

// Subscribe hands every change received on the channel to handle until ctx
// ends. Malformed payloads are logged and skipped.
func (r *Redis) Subscribe(ctx context.Context, handle func(Change)) error {
	ps := r.client.Subscribe(ctx, r.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("subscription to %s closed", r.channel)
			}
			var c Change
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				slog.Warn("dropping malformed change",
					slog.String("channel", r.channel),
					slog.Any("error", err))
				continue
			}
			handle(c)
		}
	}
}
