// Package audiocache is a content-addressed cache of synthesized audio.
//
// Each entry is a file named {key}.wav inside the cache directory. Keys are
// opaque strings: entity ids for per-entity cues, or HashString of the
// spoken text for fixed phrases and composite announcements. A miss is an
// expected outcome, not an error condition worth logging.
package audiocache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

const entryExt = ".wav"

// ErrMiss is returned by Get when no entry exists for the key.
var ErrMiss = errors.New("audiocache: miss")

// HashString returns a stable non-cryptographic 64-bit hash of s, rendered
// as a decimal string. It keys cached cues for fixed phrases and composite
// announcement texts.
func HashString(s string) string {
	return strconv.FormatUint(xxhash.Sum64String(s), 10)
}

// Cache is a directory of cached audio entries.
type Cache struct {
	dir string
}

// Open ensures the cache directory exists and returns the cache.
func Open(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	return &Cache{dir: dir}, nil
}

func (c *Cache) entryPath(key string) string {
	return filepath.Join(c.dir, key+entryExt)
}

// Get returns the cached bytes for key, or ErrMiss.
func (c *Cache) Get(key string) ([]byte, error) {
	data, err := os.ReadFile(c.entryPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", ErrMiss, key)
		}
		return nil, fmt.Errorf("reading cache entry %q: %w", key, err)
	}
	return data, nil
}

// Put stores bytes under key, replacing any previous entry.
func (c *Cache) Put(key string, data []byte) error {
	if err := os.WriteFile(c.entryPath(key), data, 0o644); err != nil {
		return fmt.Errorf("writing cache entry %q: %w", key, err)
	}
	return nil
}

// Delete removes the entry for key. Deleting a missing entry is a no-op.
func (c *Cache) Delete(key string) error {
	if err := os.Remove(c.entryPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting cache entry %q: %w", key, err)
	}
	return nil
}

// Clear wipes every entry and recreates the cache directory.
func (c *Cache) Clear() error {
	if err := os.RemoveAll(c.dir); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("recreating cache dir: %w", err)
	}
	return nil
}
