package validation

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"keyvex/internal/logging"
	"keyvex/internal/tcc"

	"go.uber.org/zap"
)

// ResultCache keeps recent validation results keyed by a hash of the source,
// with TTL expiry and LRU eviction
type ResultCache struct {
	items       map[string]*cacheItem
	order       *list.List
	mu          sync.Mutex
	maxSize     int
	ttl         time.Duration
	stats       CacheStats
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

type cacheItem struct {
	key       string
	result    tcc.ValidationResult
	createdAt time.Time
	element   *list.Element
}

// CacheStats contains cache statistics
type CacheStats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Evictions   int64 `json:"evictions"`
	Expirations int64 `json:"expirations"`
	CurrentSize int   `json:"current_size"`
}

// CacheConfig contains configuration for the result cache
type CacheConfig struct {
	MaxSize         int
	TTL             time.Duration
	CleanupInterval time.Duration
}

// DefaultCacheConfig returns the default cache configuration
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxSize:         256,
		TTL:             10 * time.Minute,
		CleanupInterval: time.Minute,
	}
}

// NewResultCache creates a cache and starts its cleanup loop. Call Close to
// stop it.
func NewResultCache(config CacheConfig) *ResultCache {
	def := DefaultCacheConfig()
	if config.MaxSize <= 0 {
		config.MaxSize = def.MaxSize
	}
	if config.TTL <= 0 {
		config.TTL = def.TTL
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}

	c := &ResultCache{
		items:       make(map[string]*cacheItem),
		order:       list.New(),
		maxSize:     config.MaxSize,
		ttl:         config.TTL,
		stopCleanup: make(chan struct{}),
	}
	go c.cleanupLoop(config.CleanupInterval)
	return c
}

// cacheKey hashes the source together with the validation mode
func cacheKey(mode, code string) string {
	sum := sha256.Sum256([]byte(mode + "\x00" + code))
	return hex.EncodeToString(sum[:])
}

// Get returns a cached result
func (c *ResultCache) Get(key string) (tcc.ValidationResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return tcc.ValidationResult{}, false
	}
	if time.Since(item.createdAt) > c.ttl {
		c.removeItem(item)
		c.stats.Misses++
		c.stats.Expirations++
		return tcc.ValidationResult{}, false
	}
	c.order.MoveToFront(item.element)
	c.stats.Hits++
	return copyResult(item.result), true
}

// Set stores a result, evicting the least recently used entry when full
func (c *ResultCache) Set(key string, result tcc.ValidationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.items[key]; ok {
		existing.result = copyResult(result)
		existing.createdAt = time.Now()
		c.order.MoveToFront(existing.element)
		return
	}
	for len(c.items) >= c.maxSize {
		c.evictOldest()
	}
	item := &cacheItem{key: key, result: copyResult(result), createdAt: time.Now()}
	item.element = c.order.PushFront(item)
	c.items[key] = item
	c.stats.CurrentSize = len(c.items)
}

// Stats returns the current cache statistics
func (c *ResultCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats
	stats.CurrentSize = len(c.items)
	return stats
}

// Close stops the cleanup goroutine
func (c *ResultCache) Close() {
	c.stopOnce.Do(func() { close(c.stopCleanup) })
}

// removeItem must be called with the lock held
func (c *ResultCache) removeItem(item *cacheItem) {
	delete(c.items, item.key)
	c.order.Remove(item.element)
	c.stats.CurrentSize = len(c.items)
}

// evictOldest must be called with the lock held
func (c *ResultCache) evictOldest() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	c.removeItem(oldest.Value.(*cacheItem))
	c.stats.Evictions++
}

func (c *ResultCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCleanup:
			return
		case <-ticker.C:
			c.cleanupExpired()
		}
	}
}

func (c *ResultCache) cleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	expired := 0
	for _, item := range c.items {
		if now.Sub(item.createdAt) > c.ttl {
			c.removeItem(item)
			c.stats.Expirations++
			expired++
		}
	}
	if expired > 0 {
		logging.L().Debug("validation cache cleanup", zap.Int("expired", expired))
	}
}

func copyResult(r tcc.ValidationResult) tcc.ValidationResult {
	r.SyntaxErrors = append([]string{}, r.SyntaxErrors...)
	r.TypeErrors = append([]string{}, r.TypeErrors...)
	r.Warnings = append([]string{}, r.Warnings...)
	r.Suggestions = append([]string{}, r.Suggestions...)
	return r
}
