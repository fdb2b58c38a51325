package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/rankvote/internal/metrics"
	"github.com/eldtechnologies/rankvote/internal/models"
)

// RedisStore keeps poll documents as JSON strings with a TTL.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client exposes the underlying client for the rate limiter.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func observe(start time.Time) {
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
}

// Create writes the document together with its expiry. SET NX EX is a
// single command, so a poll is never stored without a TTL and an existing
// poll's TTL is never touched.
func (s *RedisStore) Create(ctx context.Context, poll *models.Poll, ttl time.Duration) error {
	defer observe(time.Now())

	if ttl <= 0 {
		return fmt.Errorf("create poll %s: ttl must be positive", poll.ID)
	}

	data, err := json.Marshal(poll)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, pollKey(poll.ID), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("create poll %s: %w", poll.ID, err)
	}
	if !ok {
		return ErrAlreadyExists
	}

	return nil
}

// Get retrieves a poll document.
func (s *RedisStore) Get(ctx context.Context, id string) (*models.Poll, error) {
	defer observe(time.Now())

	data, err := s.client.Get(ctx, pollKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var poll models.Poll
	if err := json.Unmarshal(data, &poll); err != nil {
		return nil, fmt.Errorf("decode poll %s: %w", id, err)
	}
	poll.Normalize()

	return &poll, nil
}

// Replace overwrites an existing document, keeping its TTL.
func (s *RedisStore) Replace(ctx context.Context, poll *models.Poll) error {
	defer observe(time.Now())

	data, err := json.Marshal(poll)
	if err != nil {
		return err
	}

	// XX: only if present; KEEPTTL: the poll clock started at Create
	err = s.client.SetArgs(ctx, pollKey(poll.ID), data, redis.SetArgs{
		Mode:    "XX",
		KeepTTL: true,
	}).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return err
	}

	return nil
}

// Delete removes a poll document.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	defer observe(time.Now())
	return s.client.Del(ctx, pollKey(id)).Err()
}

// TTL reports the remaining lifetime of a poll.
func (s *RedisStore) TTL(ctx context.Context, id string) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, pollKey(id)).Result()
	if err != nil {
		return 0, err
	}
	if ttl < 0 {
		return 0, ErrNotFound
	}
	return ttl, nil
}
