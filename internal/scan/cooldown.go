package scan

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cooldown remembers when an entity was last accepted at a station. Windows
// are measured between tap times, not processing times.
type Cooldown interface {
	// Seen reports whether key was accepted less than window away from at.
	Seen(ctx context.Context, key string, at time.Time, window time.Duration) (bool, error)
	// Mark records that key was accepted at at.
	Mark(ctx context.Context, key string, at time.Time, window time.Duration) error
}

func withinWindow(last, at time.Time, window time.Duration) bool {
	d := at.Sub(last)
	if d < 0 {
		d = -d
	}
	return d < window
}

type mark struct {
	at     time.Time
	window time.Duration
}

// MemoryCooldown is an in-process Cooldown.
type MemoryCooldown struct {
	mu    sync.Mutex
	marks map[string]mark
}

// NewMemoryCooldown creates an empty cooldown tracker.
func NewMemoryCooldown() *MemoryCooldown {
	return &MemoryCooldown{marks: make(map[string]mark)}
}

func (c *MemoryCooldown) Seen(_ context.Context, key string, at time.Time, window time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.marks[key]
	return ok && withinWindow(m.at, at, window), nil
}

func (c *MemoryCooldown) Mark(_ context.Context, key string, at time.Time, window time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, m := range c.marks {
		if at.Sub(m.at) >= m.window {
			delete(c.marks, k)
		}
	}
	if m, ok := c.marks[key]; ok && m.at.After(at) {
		return nil
	}
	c.marks[key] = mark{at: at, window: window}
	return nil
}

// RedisCooldown shares cooldown windows between processes serving the same
// stations. Each key holds the accepted tap time in unix milliseconds and
// expires once the window has passed.
type RedisCooldown struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisCooldown creates a Redis-backed cooldown tracker.
func NewRedisCooldown(client *redis.Client) *RedisCooldown {
	return &RedisCooldown{client: client, prefix: "scan:cooldown:", now: time.Now}
}

func (c *RedisCooldown) Seen(ctx context.Context, key string, at time.Time, window time.Duration) (bool, error) {
	v, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return false, nil
	}
	return withinWindow(time.UnixMilli(ms), at, window), nil
}

func (c *RedisCooldown) Mark(ctx context.Context, key string, at time.Time, window time.Duration) error {
	ttl := window - c.now().Sub(at)
	if ttl <= 0 {
		return nil
	}
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	return c.client.Set(ctx, c.prefix+key, strconv.FormatInt(at.UnixMilli(), 10), ttl).Err()
}
