// Package cache provides caching for rendered thumbnails and resolved image
// descriptors.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ngff-gallery/server/internal/data/ngff"
)

// Config contains cache configuration.
type Config struct {
	ThumbnailCacheSizeMB int
	ThumbnailTTL         time.Duration
	DescriptorCacheSize  int
}

// Manager manages the thumbnail and descriptor caches. Thumbnails are
// encoded PNG blobs in a byte cache with a TTL; resolved descriptors are
// small structs in an LRU keyed by dataset root.
type Manager struct {
	thumbCache *bigcache.BigCache
	descCache  *lru.Cache[string, *ngff.Resolution]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	thumbCacheConfig := bigcache.Config{
		Shards:             1024,
		LifeWindow:         cfg.ThumbnailTTL,
		CleanWindow:        cfg.ThumbnailTTL / 2,
		MaxEntriesInWindow: 100000,
		MaxEntrySize:       256 * 1024, // 256KB per thumbnail
		HardMaxCacheSize:   cfg.ThumbnailCacheSizeMB,
		Verbose:            false,
	}

	thumbCache, err := bigcache.New(context.Background(), thumbCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create thumbnail cache: %w", err)
	}

	descCache, err := lru.New[string, *ngff.Resolution](cfg.DescriptorCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create descriptor cache: %w", err)
	}

	return &Manager{
		thumbCache: thumbCache,
		descCache:  descCache,
	}, nil
}

// GetThumbnail retrieves an encoded thumbnail from cache.
func (m *Manager) GetThumbnail(key string) ([]byte, bool) {
	data, err := m.thumbCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetThumbnail stores an encoded thumbnail in cache.
func (m *Manager) SetThumbnail(key string, data []byte) error {
	return m.thumbCache.Set(key, data)
}

// GetResolution retrieves a cached resolution for a dataset root.
func (m *Manager) GetResolution(root string) (*ngff.Resolution, bool) {
	return m.descCache.Get(root)
}

// SetResolution caches a resolution under its dataset root.
func (m *Manager) SetResolution(root string, res *ngff.Resolution) {
	m.descCache.Add(root, res)
}

// ThumbnailKey generates a cache key for a rendered thumbnail. The source
// URL is hashed so keys stay short regardless of URL length.
func ThumbnailKey(url string, size int) string {
	h := sha256.Sum256([]byte(url))
	return fmt.Sprintf("thumb:%s:%d", hex.EncodeToString(h[:])[:16], size)
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"thumbnail_cache_len": m.thumbCache.Len(),
		"thumbnail_cache_cap": m.thumbCache.Capacity(),
		"descriptor_cache_len": m.descCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.thumbCache.Close()
}
