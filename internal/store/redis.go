package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// redisAdapter implements Adapter on a shared Redis instance, the
// coordination point between server processes.
type redisAdapter struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedisAdapter wraps a Redis client. All operations are bounded by
// the given timeout so a slow store cannot stall action handlers.
func NewRedisAdapter(client *redis.Client, timeout time.Duration) Adapter {
	return &redisAdapter{client: client, timeout: timeout}
}

func (a *redisAdapter) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.timeout)
}

func (a *redisAdapter) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := a.bound(ctx)
	defer cancel()
	return a.client.Set(ctx, key, value, ttl).Err()
}

func (a *redisAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := a.bound(ctx)
	defer cancel()
	data, err := a.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return data, err
}

func (a *redisAdapter) Delete(ctx context.Context, key string) error {
	ctx, cancel := a.bound(ctx)
	defer cancel()
	return a.client.Del(ctx, key).Err()
}

func (a *redisAdapter) DeletePrefix(ctx context.Context, prefix string) error {
	ctx, cancel := a.bound(ctx)
	defer cancel()
	iter := a.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return a.client.Del(ctx, keys...).Err()
}

func (a *redisAdapter) GetPrefix(ctx context.Context, prefix string) (map[string][]byte, error) {
	ctx, cancel := a.bound(ctx)
	defer cancel()
	iter := a.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	out := make(map[string][]byte)
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := a.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // expired between scan and get
		}
		if err != nil {
			return nil, err
		}
		out[key] = data
	}
	return out, iter.Err()
}

func (a *redisAdapter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	ctx, cancel := a.bound(ctx)
	defer cancel()
	// One MULTI/EXEC round trip: the NX expiry arms the window together
	// with the first increment, so a counter can never outlive it.
	pipe := a.client.TxPipeline()
	count := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	ttl := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}
	remaining := ttl.Val()
	if remaining < 0 {
		remaining = window
	}
	return count.Val(), remaining, nil
}

func (a *redisAdapter) Publish(ctx context.Context, channel string, payload []byte) error {
	ctx, cancel := a.bound(ctx)
	defer cancel()
	return a.client.Publish(ctx, channel, payload).Err()
}

func (a *redisAdapter) Subscribe(ctx context.Context, channel string, handler func(payload []byte)) (func(), error) {
	sub := a.client.Subscribe(ctx, channel)
	// Force the subscription onto the wire before returning so callers
	// never miss events published right after Subscribe.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}
	go func() {
		for msg := range sub.Channel() {
			handler([]byte(msg.Payload))
		}
	}()
	stop := func() {
		if err := sub.Close(); err != nil {
			log.Warn().Err(err).Str("channel", channel).Msg("failed to close subscription")
		}
	}
	return stop, nil
}
