package registryserver

import (
	"context"
	"sync"

	"github.com/UpliftGames/wally/registry"
)

// StorageBackend is the capability set a blob store must provide, matching
// wally-registry-backend/src/storage/mod.rs's StorageBackend trait.
type StorageBackend interface {
	Read(ctx context.Context, id registry.PackageId) ([]byte, error)
	Write(ctx context.Context, id registry.PackageId, contents []byte) error
}

// CachedStorage wraps a StorageBackend with a bounded in-memory read cache
// keyed by PackageId, matching spec.md §4.9's "optional in-memory cache"
// note for object-storage backends whose reads are comparatively expensive.
type CachedStorage struct {
	backend StorageBackend
	maxSize int

	mu    sync.Mutex
	order []string
	data  map[string][]byte
}

// NewCachedStorage wraps backend with an LRU-ish cache capped at maxSize
// entries (eviction is FIFO rather than true LRU, matching the simplicity
// of the teacher's own in-process caches such as gitindex's metadata cache).
func NewCachedStorage(backend StorageBackend, maxSize int) *CachedStorage {
	return &CachedStorage{
		backend: backend,
		maxSize: maxSize,
		data:    make(map[string][]byte),
	}
}

func (c *CachedStorage) Read(ctx context.Context, id registry.PackageId) ([]byte, error) {
	key := id.String()

	c.mu.Lock()
	if b, ok := c.data[key]; ok {
		c.mu.Unlock()
		return b, nil
	}
	c.mu.Unlock()

	b, err := c.backend.Read(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if _, ok := c.data[key]; !ok {
		if c.maxSize > 0 && len(c.order) >= c.maxSize {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.data, oldest)
		}
		c.data[key] = b
		c.order = append(c.order, key)
	}
	c.mu.Unlock()

	return b, nil
}

func (c *CachedStorage) Write(ctx context.Context, id registry.PackageId, contents []byte) error {
	if err := c.backend.Write(ctx, id, contents); err != nil {
		return err
	}

	c.mu.Lock()
	key := id.String()
	if _, ok := c.data[key]; !ok {
		if c.maxSize > 0 && len(c.order) >= c.maxSize {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.data, oldest)
		}
		c.data[key] = contents
		c.order = append(c.order, key)
	}
	c.mu.Unlock()
	return nil
}
