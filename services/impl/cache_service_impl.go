package impl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tas-context-tailor/config"
	"github.com/tas-context-tailor/services"
)

const (
	// CacheKeyPrefix namespaces every key this service writes
	CacheKeyPrefix = "ctx_tailor"

	// DefaultCacheTTL is used when a caller passes a non-positive TTL
	DefaultCacheTTL = 30 * time.Minute
)

// cacheServiceImpl implements CacheService using Redis with an in-memory
// fallback. A Redis outage never fails a request; reads just miss.
type cacheServiceImpl struct {
	memCache map[string]cacheEntry
	mu       sync.RWMutex

	redis *redis.Client

	enabled  bool
	useRedis bool
}

type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewCacheService creates a new CacheService instance.
// Uses Redis if reachable, falls back to in-memory cache.
func NewCacheService(cfg *config.RedisConfig) services.CacheService {
	if cfg == nil || !cfg.EnableCache {
		return &cacheServiceImpl{enabled: false}
	}

	svc := &cacheServiceImpl{
		memCache: make(map[string]cacheEntry),
		enabled:  true,
	}

	if cfg.Host != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := client.Ping(ctx).Err(); err == nil {
			svc.redis = client
			svc.useRedis = true
		}
		// If Redis fails, fall back to in-memory (no error)
	}

	return svc
}

// NewCacheServiceWithRedis creates a cache service backed by an existing
// Redis client. Used by tests with miniredis.
func NewCacheServiceWithRedis(client *redis.Client) services.CacheService {
	if client == nil {
		return &cacheServiceImpl{
			memCache: make(map[string]cacheEntry),
			enabled:  true,
		}
	}
	return &cacheServiceImpl{
		memCache: make(map[string]cacheEntry),
		redis:    client,
		enabled:  true,
		useRedis: true,
	}
}

// GetJSON reads a cached value into dest. Returns (false, nil) on miss.
func (s *cacheServiceImpl) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.enabled {
		return false, nil
	}

	prefixedKey := s.prefixKey(key)

	if s.useRedis && s.redis != nil {
		data, err := s.redis.Get(ctx, prefixedKey).Bytes()
		if err == nil {
			if err := json.Unmarshal(data, dest); err != nil {
				// Invalid cache data - delete it
				s.redis.Del(ctx, prefixedKey)
				return false, nil
			}
			return true, nil
		}
		if err != redis.Nil {
			return s.getFromMemCache(prefixedKey, dest)
		}
		return false, nil
	}

	return s.getFromMemCache(prefixedKey, dest)
}

func (s *cacheServiceImpl) getFromMemCache(prefixedKey string, dest interface{}) (bool, error) {
	s.mu.RLock()
	entry, exists := s.memCache[prefixedKey]
	s.mu.RUnlock()

	if !exists {
		return false, nil
	}

	if time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.memCache, prefixedKey)
		s.mu.Unlock()
		return false, nil
	}

	if err := json.Unmarshal(entry.data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}

	return true, nil
}

// SetJSON stores a value with the given TTL.
func (s *cacheServiceImpl) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.enabled || value == nil {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for caching: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	prefixedKey := s.prefixKey(key)

	if s.useRedis && s.redis != nil {
		if err := s.redis.Set(ctx, prefixedKey, data, ttl).Err(); err != nil {
			// Redis error - fall back to memory cache
			s.setInMemCache(prefixedKey, data, ttl)
		}
		return nil
	}

	s.setInMemCache(prefixedKey, data, ttl)
	return nil
}

func (s *cacheServiceImpl) setInMemCache(prefixedKey string, data []byte, ttl time.Duration) {
	s.mu.Lock()
	s.memCache[prefixedKey] = cacheEntry{
		data:      data,
		expiresAt: time.Now().Add(ttl),
	}
	s.mu.Unlock()
}

// Delete removes a single cached key.
func (s *cacheServiceImpl) Delete(ctx context.Context, key string) error {
	if !s.enabled {
		return nil
	}

	prefixedKey := s.prefixKey(key)

	if s.useRedis && s.redis != nil {
		s.redis.Del(ctx, prefixedKey)
	}

	s.mu.Lock()
	delete(s.memCache, prefixedKey)
	s.mu.Unlock()

	return nil
}

// Health pings the Redis backend. The in-memory fallback is always healthy.
func (s *cacheServiceImpl) Health(ctx context.Context) error {
	if !s.enabled || !s.useRedis || s.redis == nil {
		return nil
	}
	return s.redis.Ping(ctx).Err()
}

func (s *cacheServiceImpl) prefixKey(key string) string {
	return fmt.Sprintf("%s:%s", CacheKeyPrefix, key)
}

// HashKey produces a short deterministic cache key segment from free text.
func HashKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}
