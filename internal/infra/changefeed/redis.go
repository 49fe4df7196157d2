package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"tutordesk/pkg/domain"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "tutordesk:changes"

// RedisConfig configures a Redis-backed feed.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// Redis fans events out over Redis pub/sub.
type Redis struct {
	client  *redis.Client
	channel string
	owned   bool

	mu   sync.Mutex
	subs []*redis.PubSub
}

var _ Feed = (*Redis)(nil)

// OpenRedis connects to Redis and verifies the connection with PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, errors.New("changefeed: redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("changefeed: redis ping: %w", err)
	}
	feed := NewRedis(client, cfg.Channel)
	feed.owned = true
	return feed, nil
}

// NewRedis wraps an existing client. The caller keeps ownership of client.
func NewRedis(client *redis.Client, channel string) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{client: client, channel: channel}
}

// Publish sends e as JSON on the feed channel.
func (r *Redis) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode change event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish change event: %w", err)
	}
	return nil
}

// Subscribe listens on the feed channel until the subscription is released.
// Malformed payloads are skipped.
func (r *Redis) Subscribe(ctx context.Context, fn func(Event)) (domain.Subscription, error) {
	ps := r.client.Subscribe(ctx, r.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.mu.Lock()
	r.subs = append(r.subs, ps)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				continue
			}
			fn(e)
		}
	}()
	var once sync.Once
	return domain.SubscriptionFunc(func() {
		once.Do(func() {
			_ = ps.Close()
			<-done
		})
	}), nil
}

// Close closes open subscriptions and, when the feed created it, the client.
func (r *Redis) Close() error {
	r.mu.Lock()
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()
	var errs []error
	for _, ps := range subs {
		if err := ps.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.owned {
		if err := r.client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
