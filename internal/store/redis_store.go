package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	redisKeyPrefix = "ecovibe:session:"

	// DefaultRedisTimeout bounds every single Redis round trip.
	DefaultRedisTimeout = 5 * time.Second
)

// RedisStore keeps the session record in a Redis hash so clients on
// different machines can share one session. Writes publish on a companion
// channel which feeds Changes.
type RedisStore struct {
	client  redis.UniversalClient
	key     string
	channel string
	timeout time.Duration
}

// NewRedisStore creates a store for apiURL. Records for different backends
// live under different keys.
func NewRedisStore(client redis.UniversalClient, apiURL string) *RedisStore {
	key := redisKeyPrefix + Fingerprint(apiURL)
	return &RedisStore{
		client:  client,
		key:     key,
		channel: key + ":changes",
		timeout: DefaultRedisTimeout,
	}
}

// Key returns the Redis hash holding the session record.
func (s *RedisStore) Key() string {
	return s.key
}

func (s *RedisStore) Get(key Key) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	value, err := s.client.HGet(ctx, s.key, string(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read session key %s: %w", key, err)
	}

	return value, nil
}

// Put writes values and publishes the change in one MULTI/EXEC.
func (s *RedisStore) Put(values map[Key]string) error {
	if len(values) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	fields := make(map[string]any, len(values))
	for k, v := range values {
		fields[string(k)] = v
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key, fields)
		pipe.Publish(ctx, s.channel, "put")
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}

	return nil
}

// deleteScript removes fields from the hash and publishes on the change
// channel only when something was removed, in one atomic step.
var deleteScript = redis.NewScript(`
local removed = redis.call("HDEL", KEYS[1], unpack(ARGV))
if removed > 0 then
	redis.call("PUBLISH", KEYS[2], "delete")
end
return removed
`)

// Delete removes keys and publishes only if something was removed.
func (s *RedisStore) Delete(keys ...Key) error {
	if len(keys) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	fields := make([]any, len(keys))
	for i, k := range keys {
		fields[i] = string(k)
	}

	removed, err := deleteScript.Run(ctx, s.client, []string{s.key, s.channel}, fields...).Int64()
	if err != nil {
		return fmt.Errorf("failed to delete session keys: %w", err)
	}

	log.Debug().Int64("removed", removed).Str("key", s.key).Msg("session keys deleted")

	return nil
}

// Changes subscribes to the change channel until ctx is done.
func (s *RedisStore) Changes(ctx context.Context) (<-chan struct{}, error) {
	pubsub := s.client.Subscribe(ctx, s.channel)

	// wait for the subscription confirmation so no later write is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to session changes: %w", err)
	}

	ch := make(chan struct{}, 1)

	go func() {
		defer close(ch)
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case _, ok := <-messages:
				if !ok {
					return
				}
				notify(ch)

			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}
