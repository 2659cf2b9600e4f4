package terminology

import (
	"hash/fnv"
	"sync"
	"time"

	ph "github.com/gofhir/phigate"
)

const (
	// DefaultShardCount is the default number of cache shards.
	DefaultShardCount = 64

	// DefaultCacheTTL is the default time-to-live for cached answers.
	DefaultCacheTTL = 15 * time.Minute
)

// CacheConfig holds configuration options for Cached.
type CacheConfig struct {
	// ShardCount is rounded up to a power of 2.
	ShardCount int
	TTL        time.Duration
}

// DefaultCacheConfig returns the default cache configuration.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{ShardCount: DefaultShardCount, TTL: DefaultCacheTTL}
}

// Cached memoizes the membership answers of a slower terminology, such as
// one backed by a remote server. Unknown value sets are not cached.
type Cached struct {
	inner     ph.Terminology
	shards    []*shard
	shardMask uint32
	ttl       time.Duration
	now       func() time.Time
}

type shard struct {
	mu      sync.RWMutex
	answers map[string]answer
}

type answer struct {
	member    bool
	expiresAt time.Time
}

// NewCached wraps inner with a sharded TTL cache.
func NewCached(inner ph.Terminology, cfg CacheConfig) *Cached {
	n := cfg.ShardCount
	if n <= 0 {
		n = DefaultShardCount
	}
	n = nextPowerOf2(n)
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{answers: make(map[string]answer)}
	}
	return &Cached{
		inner:     inner,
		shards:    shards,
		shardMask: uint32(n - 1),
		ttl:       ttl,
		now:       time.Now,
	}
}

// Contains answers from the cache, falling back to the wrapped terminology.
func (c *Cached) Contains(valueSetURL, code string) (member, known bool) {
	key := valueSetURL + "\x00" + code
	sh := c.shard(key)

	sh.mu.RLock()
	a, ok := sh.answers[key]
	sh.mu.RUnlock()
	if ok && c.now().Before(a.expiresAt) {
		return a.member, true
	}

	member, known = c.inner.Contains(valueSetURL, code)
	if !known {
		return false, false
	}
	sh.mu.Lock()
	sh.answers[key] = answer{member: member, expiresAt: c.now().Add(c.ttl)}
	sh.mu.Unlock()
	return member, true
}

// Len returns the number of cached answers, expired ones included.
func (c *Cached) Len() int {
	n := 0
	for _, sh := range c.shards {
		sh.mu.RLock()
		n += len(sh.answers)
		sh.mu.RUnlock()
	}
	return n
}

// Cleanup removes expired answers.
func (c *Cached) Cleanup() {
	now := c.now()
	for _, sh := range c.shards {
		sh.mu.Lock()
		for k, a := range sh.answers {
			if !now.Before(a.expiresAt) {
				delete(sh.answers, k)
			}
		}
		sh.mu.Unlock()
	}
}

// Clear drops every cached answer.
func (c *Cached) Clear() {
	for _, sh := range c.shards {
		sh.mu.Lock()
		sh.answers = make(map[string]answer)
		sh.mu.Unlock()
	}
}

func (c *Cached) shard(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()&c.shardMask]
}

// nextPowerOf2 returns the smallest power of 2 >= n.
func nextPowerOf2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}

var _ ph.Terminology = (*Cached)(nil)
