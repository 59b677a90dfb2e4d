package data

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const indexFile = "index.json"

// Cache stores fetched test data files under content-addressed names and
// persists its index so later runs reuse downloads.
type Cache struct {
	dir   string
	mu    sync.RWMutex
	index map[string]*CacheEntry
	now   func() time.Time
}

// CacheEntry describes one cached file.
type CacheEntry struct {
	Key          string    `json:"key"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastAccessed time.Time `json:"last_accessed"`
	Checksum     string    `json:"checksum"`
}

// CacheStats summarises the cache.
type CacheStats struct {
	Entries   int    `json:"entries"`
	TotalSize int64  `json:"total_size"`
	Dir       string `json:"cache_dir"`
}

// NewCache opens (or creates) a cache rooted at dir. An empty dir means
// ~/.browser-e2e-cache.
func NewCache(dir string) (*Cache, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(home, ".browser-e2e-cache")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	c := &Cache{dir: dir, index: make(map[string]*CacheEntry), now: time.Now}
	if err := c.loadIndex(); err != nil {
		return nil, err
	}
	return c, nil
}

// Dir returns the cache root.
func (c *Cache) Dir() string {
	return c.dir
}

// Get returns the entry for key if its file still exists.
func (c *Cache) Get(key string) (*CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.index[key]
	if !ok {
		return nil, false
	}
	if _, err := os.Stat(entry.Path); err != nil {
		delete(c.index, key)
		return nil, false
	}
	entry.LastAccessed = c.now()
	return entry, true
}

// Put copies sourcePath into the cache under key.
func (c *Cache) Put(key string, sourcePath string) (*CacheEntry, error) {
	src, err := os.Open(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("failed to cache file: %w", err)
	}
	defer src.Close()
	return c.PutReader(key, src)
}

// PutReader streams reader into the cache under key, hashing as it writes.
func (c *Cache) PutReader(key string, reader io.Reader) (*CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := filepath.Join(c.dir, cacheFilename(key))
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache file: %w", err)
	}
	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(file, hasher), reader)
	closeErr := file.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to write to cache: %w", err)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("failed to write to cache: %w", closeErr)
	}

	entry := &CacheEntry{
		Key:          key,
		Path:         path,
		Size:         size,
		LastAccessed: c.now(),
		Checksum:     hex.EncodeToString(hasher.Sum(nil)),
	}
	c.index[key] = entry
	return entry, c.saveIndex()
}

// Delete removes key from the cache.
func (c *Cache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.index[key]
	if !ok {
		return nil
	}
	if err := os.Remove(entry.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete cache file: %w", err)
	}
	delete(c.index, key)
	return c.saveIndex()
}

// Prune drops entries not accessed within maxAge, then the least recently
// used entries until the total size fits maxSize. Zero disables a limit.
func (c *Cache) Prune(maxAge time.Duration, maxSize int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]*CacheEntry, 0, len(c.index))
	var total int64
	for _, entry := range c.index {
		entries = append(entries, entry)
		total += entry.Size
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastAccessed.Before(entries[j].LastAccessed)
	})

	now := c.now()
	for _, entry := range entries {
		expired := maxAge > 0 && now.Sub(entry.LastAccessed) > maxAge
		oversize := maxSize > 0 && total > maxSize
		if !expired && !oversize {
			continue
		}
		if err := os.Remove(entry.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete cache file: %w", err)
		}
		total -= entry.Size
		delete(c.index, entry.Key)
	}
	return c.saveIndex()
}

// Stats reports the entry count and total size.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stats := CacheStats{Entries: len(c.index), Dir: c.dir}
	for _, entry := range c.index {
		stats.TotalSize += entry.Size
	}
	return stats
}

func cacheFilename(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:]) + filepath.Ext(key)
}

func (c *Cache) loadIndex() error {
	payload, err := os.ReadFile(filepath.Join(c.dir, indexFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read cache index: %w", err)
	}
	var entries []*CacheEntry
	if err := json.Unmarshal(payload, &entries); err != nil {
		return fmt.Errorf("failed to parse cache index: %w", err)
	}
	for _, entry := range entries {
		c.index[entry.Key] = entry
	}
	return nil
}

// saveIndex must be called with c.mu held.
func (c *Cache) saveIndex() error {
	entries := make([]*CacheEntry, 0, len(c.index))
	for _, entry := range c.index {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	payload, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.dir, indexFile), payload, 0o644)
}
