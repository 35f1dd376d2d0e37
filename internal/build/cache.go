package build

import (
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/zeebo/blake3"

	"github.com/conneroisu/domplate/internal/datasource"
	"github.com/conneroisu/domplate/internal/errors"
)

// DataCache keeps decoded data files keyed by path and content hash, so a
// rebuild after a template edit does not decode unchanged data again.
// Markup data is never cached because the texts option writes into the data
// tree.
type DataCache struct {
	entries map[string]*cacheEntry
	mutex   sync.RWMutex

	hits   int64
	misses int64
}

type cacheEntry struct {
	hash  [32]byte
	value any
}

// NewDataCache creates an empty cache.
func NewDataCache() *DataCache {
	return &DataCache{entries: make(map[string]*cacheEntry)}
}

// Load returns the decoded contents of path and whether they came from the
// cache. An empty format is derived from the extension. Cached values are
// shared, callers must not modify them.
func (c *DataCache) Load(path string, format datasource.Format) (any, bool, error) {
	if format == "" {
		f, err := datasource.FormatOf(path)
		if err != nil {
			return nil, false, err
		}
		format = f
	}

	content, err := os.ReadFile(path)
	if err != nil {
		code := errors.ErrCodeInternalError
		if os.IsNotExist(err) {
			code = errors.ErrCodeFileNotFound
		}
		return nil, false, errors.NewIOError(code, "cannot read data file", err).WithContext("path", path)
	}

	if !cacheable(format) {
		v, err := datasource.Decode(format, content)
		return v, false, err
	}

	hash := blake3.Sum256(content)
	key := string(format) + ":" + path

	c.mutex.RLock()
	entry, ok := c.entries[key]
	c.mutex.RUnlock()
	if ok && entry.hash == hash {
		atomic.AddInt64(&c.hits, 1)
		return entry.value, true, nil
	}
	atomic.AddInt64(&c.misses, 1)

	v, err := datasource.Decode(format, content)
	if err != nil {
		c.Invalidate(path)
		return nil, false, err
	}

	c.mutex.Lock()
	c.entries[key] = &cacheEntry{hash: hash, value: v}
	c.mutex.Unlock()
	return v, false, nil
}

func cacheable(format datasource.Format) bool {
	return format != datasource.FormatHTML && format != datasource.FormatMarkdown
}

// Invalidate drops every entry for path.
func (c *DataCache) Invalidate(path string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for key := range c.entries {
		if _, p, ok := strings.Cut(key, ":"); ok && p == path {
			delete(c.entries, key)
		}
	}
}

// Len returns the number of cached files.
func (c *DataCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.entries)
}

// Stats returns the hit and miss counts.
func (c *DataCache) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}
