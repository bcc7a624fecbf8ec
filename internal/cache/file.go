// Package cache stores artifact handles keyed by locator.
package cache

import (
	"fmt"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/pinsave/internal/kv"
)

// File is an ArtifactCache backed by a single JSON document.
type File struct {
	fs      afero.Fs
	path    string
	logger  *zap.Logger
	mu      sync.Mutex
	entries map[string]string
}

// NewFile loads the cache document at path, starting empty when it is absent
// or unreadable.
func NewFile(fs afero.Fs, path string, logger *zap.Logger) *File {
	if logger == nil {
		logger = zap.NewNop()
	}
	entries := kv.Load(fs, path, map[string]string{})
	if entries == nil {
		entries = map[string]string{}
	}
	return &File{
		fs:      fs,
		path:    path,
		logger:  logger.Named("cache"),
		entries: entries,
	}
}

// Lookup returns the handle stored for key.
func (c *File) Lookup(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	handle, ok := c.entries[key]
	return handle, ok
}

// Put stores handle under key and persists the document. The in-memory entry
// is kept even when persisting fails.
func (c *File) Put(key, handle string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = handle
	return c.persistLocked()
}

// Invalidate removes key and persists the document.
func (c *File) Invalidate(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return nil
	}
	delete(c.entries, key)
	return c.persistLocked()
}

// Len reports the number of cached handles.
func (c *File) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *File) persistLocked() error {
	if err := kv.Save(c.fs, c.path, c.entries); err != nil {
		c.logger.Warn("persist cache failed", zap.String("path", c.path), zap.Error(err))
		return fmt.Errorf("persist cache: %w", err)
	}
	return nil
}
