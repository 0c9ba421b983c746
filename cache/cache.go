// Package cache implements the response cache: a keyed, TTL-bounded store
// with a single-flight guarantee so concurrent callers for the same key
// never run the producer more than once.
package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sabowaryan/personacraft/types"
)

// Entry is a stored cache value plus its bookkeeping.
type Entry struct {
	Value      any
	Size       int
	InsertedAt time.Time
	TTL        time.Duration
}

func (e *Entry) expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.InsertedAt) >= e.TTL
}

// Config configures a Cache.
type Config struct {
	ByteBudget int64         // total approximate size, in bytes, admitted before LRU eviction
	DefaultTTL time.Duration // used by GetOrCompute callers that pass ttl<=0
}

// DefaultConfig returns a sane default cache configuration.
func DefaultConfig() Config {
	return Config{ByteBudget: 64 << 20, DefaultTTL: 5 * time.Minute}
}

type node struct {
	key   string
	entry *Entry
	elem  *list.Element
}

// Cache is a byte-budgeted LRU cache with single-flight producer
// coalescing. Safe for concurrent use.
type Cache struct {
	mu        sync.Mutex
	items     map[string]*node
	order     *list.List // front = most recently used
	usedBytes int64
	config    Config
	group     singleflight.Group
	logger    *zap.Logger
}

// New creates a Cache.
func New(config Config, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ByteBudget <= 0 {
		config.ByteBudget = DefaultConfig().ByteBudget
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = DefaultConfig().DefaultTTL
	}
	return &Cache{
		items:  make(map[string]*node),
		order:  list.New(),
		config: config,
		logger: logger,
	}
}

// SetConfig atomically replaces the cache's configuration.
func (c *Cache) SetConfig(config Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if config.ByteBudget <= 0 {
		config.ByteBudget = c.config.ByteBudget
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = c.config.DefaultTTL
	}
	c.config = config
	c.evictToBudget()
}

// Get returns the cached value for key, applying proactive TTL expiry.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if n.entry.expired(time.Now()) {
		c.removeLocked(n)
		return nil, false
	}
	c.order.MoveToFront(n.elem)
	return n.entry.Value, true
}

// Producer computes a value for a cache miss. size is an approximate byte
// cost used for LRU budget accounting (0 is accepted).
type Producer func(ctx context.Context) (value any, size int, err error)

// GetOrCompute returns the cached value for key if present and unexpired;
// otherwise it ensures exactly one producer runs for key — concurrent
// callers attach to the in-flight call and observe the same outcome — and
// on success stores the result under ttl (or the cache's DefaultTTL if
// ttl<=0). On failure nothing is stored.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, producer Producer) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	type outcome struct {
		value any
		size  int
	}

	resultCh := c.group.DoChan(key, func() (any, error) {
		v, size, err := producer(context.Background())
		if err != nil {
			return nil, err
		}
		return outcome{value: v, size: size}, nil
	})

	select {
	case <-ctx.Done():
		return nil, types.NewError(types.ErrCancelled, "cache wait cancelled").WithCause(ctx.Err())
	case res := <-resultCh:
		if res.Err != nil {
			return nil, res.Err
		}
		o := res.Val.(outcome)
		if ttl <= 0 {
			ttl = c.config.DefaultTTL
		}
		c.set(key, o.value, o.size, ttl)
		return o.value, nil
	}
}

func (c *Cache) set(key string, value any, size int, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.items[key]; ok {
		c.usedBytes -= int64(existing.entry.Size)
		existing.entry = &Entry{Value: value, Size: size, InsertedAt: time.Now(), TTL: ttl}
		c.usedBytes += int64(size)
		c.order.MoveToFront(existing.elem)
		c.evictToBudget()
		return
	}

	n := &node{key: key, entry: &Entry{Value: value, Size: size, InsertedAt: time.Now(), TTL: ttl}}
	n.elem = c.order.PushFront(n)
	c.items[key] = n
	c.usedBytes += int64(size)
	c.evictToBudget()
}

// Delete removes key from the cache.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.items[key]; ok {
		c.removeLocked(n)
	}
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*node)
	c.order.Init()
	c.usedBytes = 0
}

// Stats returns the current entry count and byte usage.
func (c *Cache) Stats() (entries int, usedBytes, byteBudget int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items), c.usedBytes, c.config.ByteBudget
}

// removeLocked must be called with c.mu held.
func (c *Cache) removeLocked(n *node) {
	c.order.Remove(n.elem)
	delete(c.items, n.key)
	c.usedBytes -= int64(n.entry.Size)
}

// evictToBudget evicts least-recently-used entries until usage is within
// budget. Caller must hold c.mu.
func (c *Cache) evictToBudget() {
	for c.usedBytes > c.config.ByteBudget {
		back := c.order.Back()
		if back == nil {
			return
		}
		n := back.Value.(*node)
		c.removeLocked(n)
		c.logger.Debug("cache evicted entry", zap.String("key", n.key))
	}
}

// Fingerprint derives a RequestKey: an opaque identifier from endpoint,
// provider, request type, and a canonicalized payload. Two requests with
// equal Fingerprint output are treated as semantically identical and share
// a cache entry and single-flight slot.
func Fingerprint(provider, endpoint, requestType string, payload any) string {
	canon, err := json.Marshal(payload)
	if err != nil {
		canon = []byte(fmt.Sprintf("%#v", payload))
	}
	h := sha256.New()
	h.Write([]byte(provider))
	h.Write([]byte{0})
	h.Write([]byte(endpoint))
	h.Write([]byte{0})
	h.Write([]byte(requestType))
	h.Write([]byte{0})
	h.Write(canon)
	return hex.EncodeToString(h.Sum(nil))
}
