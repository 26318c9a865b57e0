package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenStore keeps short-lived single-use values such as link tokens and
// live refresh token ids.
type TokenStore interface {
	// Put stores value under key. It fails if key already exists.
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	// Take returns and deletes the value under key, or ErrTokenNotFound.
	Take(ctx context.Context, key string) (string, error)
}

// RedisStore is a TokenStore backed by Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis token store with keys under prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	ok, err := s.client.SetNX(ctx, s.prefix+key, value, ttl).Result()
	if err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	if !ok {
		return errors.New("token key already in use")
	}
	return nil
}

func (s *RedisStore) Take(ctx context.Context, key string) (string, error) {
	value, err := s.client.GetDel(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("take token: %w", err)
	}
	return value, nil
}

type memoryValue struct {
	value   string
	expires time.Time
}

// MemoryStore is an in-process TokenStore for development and tests.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]memoryValue
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory token store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]memoryValue), now: time.Now}
}

func (s *MemoryStore) Put(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if v, ok := s.values[key]; ok && now.Before(v.expires) {
		return errors.New("token key already in use")
	}
	s.values[key] = memoryValue{value: value, expires: now.Add(ttl)}
	return nil
}

func (s *MemoryStore) Take(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	delete(s.values, key)
	if !ok || !s.now().Before(v.expires) {
		return "", ErrTokenNotFound
	}
	return v.value, nil
}
