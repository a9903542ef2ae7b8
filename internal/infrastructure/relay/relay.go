package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/nerrad567/iot-bridge/internal/infrastructure/config"
)

var (
	// ErrDisabled is returned by Connect when the relay is not configured.
	ErrDisabled = errors.New("relay: disabled in configuration")

	// ErrConnectionFailed is returned when Redis does not answer a ping.
	ErrConnectionFailed = errors.New("relay: connection failed")
)

// envelope tags each event with the instance that produced it so that an
// instance can ignore its own events when they come back.
type envelope struct {
	Origin string          `json:"origin"`
	Event  json.RawMessage `json:"event"`
}

// Logger is the logging surface used by Listen.
type Logger interface {
	Warn(msg string, args ...any)
}

// Redis publishes broadcast events on a Redis pub/sub channel and delivers
// events published by other bridge instances. Several instances sharing a
// broker and channel then serve the same live stream to their observers.
type Redis struct {
	client  *redis.Client
	channel string
	origin  string
	logger  Logger
}

// Connect creates a relay from configuration and verifies Redis with a ping.
// origin identifies this instance on the channel.
func Connect(ctx context.Context, cfg config.RedisConfig, origin string) (*Redis, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return New(client, cfg.Channel, origin), nil
}

// New wraps an existing client.
func New(client *redis.Client, channel, origin string) *Redis {
	return &Redis{client: client, channel: channel, origin: origin}
}

// SetLogger sets the logger for undecodable channel messages.
func (r *Redis) SetLogger(logger Logger) {
	r.logger = logger
}

// Name identifies the relay in logs and metrics.
func (r *Redis) Name() string {
	return "redis"
}

// Channel returns the pub/sub channel name.
func (r *Redis) Channel() string {
	return r.channel
}

// Publish sends one serialised event to the channel.
func (r *Redis) Publish(ctx context.Context, data []byte) error {
	msg, err := json.Marshal(envelope{Origin: r.origin, Event: data})
	if err != nil {
		return fmt.Errorf("encoding relay envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, msg).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", r.channel, err)
	}
	return nil
}

// Listen delivers events published by other instances to deliver until ctx
// ends. Events from this instance are skipped. The subscription is active
// when ready is closed, if ready is non-nil.
func (r *Redis) Listen(ctx context.Context, ready chan<- struct{}, deliver func(data []byte)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close() //nolint:errcheck // Closed on exit

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", r.channel, err)
	}
	if ready != nil {
		close(ready)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				if r.logger != nil {
					r.logger.Warn("undecodable relay message", "channel", r.channel, "error", err)
				}
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			deliver(env.Event)
		}
	}
}

// HealthCheck pings Redis.
func (r *Redis) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
