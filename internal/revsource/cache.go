package revsource

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sha1n/svn-river/internal/domain"
)

// DefaultStatCacheSize is the default number of cached entry infos.
const DefaultStatCacheSize = 1024

// CachedSource caches Stat results of an underlying source. Entries at a fixed
// revision never change, so a window retried after a sink failure does not
// query the repository again for sizes.
type CachedSource struct {
	Source
	stats *lru.Cache[string, EntryInfo]
}

// NewCachedSource wraps a source with an LRU cache of the given size.
func NewCachedSource(src Source, size int) (*CachedSource, error) {
	if size <= 0 {
		size = DefaultStatCacheSize
	}
	cache, err := lru.New[string, EntryInfo](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create stat cache: %w", err)
	}
	return &CachedSource{Source: src, stats: cache}, nil
}

// Stat returns a cached entry info or queries the underlying source.
func (c *CachedSource) Stat(ctx context.Context, path string, rev domain.Revision) (EntryInfo, error) {
	key := fmt.Sprintf("%s@%d", path, rev)
	if info, ok := c.stats.Get(key); ok {
		return info, nil
	}
	info, err := c.Source.Stat(ctx, path, rev)
	if err != nil {
		return EntryInfo{}, err
	}
	c.stats.Add(key, info)
	return info, nil
}

// Log keeps the window listing of the underlying source available through the wrapper.
func (c *CachedSource) Log(ctx context.Context, from, to domain.Revision) ([]domain.Commit, error) {
	return FetchWindow(ctx, c.Source, from, to)
}

// Len returns the number of cached entries.
func (c *CachedSource) Len() int {
	return c.stats.Len()
}
