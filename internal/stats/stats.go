// Package stats keeps the persisted request counters.
package stats

import (
	"fmt"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/pinsave/internal/kv"
)

// Counter keys as stored in the stats document.
const (
	TotalRequests   = "total_requests"
	ServedFromCache = "served_from_cache"
	DownloadsOK     = "downloads_ok"
	BlockedBig      = "blocked_big"
	Errors          = "errors"
)

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	TotalRequests   int64 `json:"total_requests"`
	ServedFromCache int64 `json:"served_from_cache"`
	DownloadsOK     int64 `json:"downloads_ok"`
	BlockedBig      int64 `json:"blocked_big"`
	Errors          int64 `json:"errors"`
}

// SuccessRate returns the percentage of requests that did not error, or 100
// when nothing has been counted yet.
func (s Snapshot) SuccessRate() float64 {
	if s.TotalRequests == 0 {
		return 100
	}
	return 100 - float64(s.Errors)*100/float64(s.TotalRequests)
}

// Counter is a set of monotonic counters persisted after every increment.
type Counter struct {
	fs     afero.Fs
	path   string
	logger *zap.Logger
	mu     sync.Mutex
	values map[string]int64
}

// Load reads the stats document at path, starting from zero when it is absent
// or unreadable.
func Load(fs afero.Fs, path string, logger *zap.Logger) *Counter {
	if logger == nil {
		logger = zap.NewNop()
	}
	values := kv.Load(fs, path, map[string]int64{})
	if values == nil {
		values = map[string]int64{}
	}
	return &Counter{fs: fs, path: path, logger: logger.Named("stats"), values: values}
}

// Inc adds one to key and persists the document. A persist failure is logged
// and returned but the in-memory count is kept.
func (c *Counter) Inc(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key]++
	if err := kv.Save(c.fs, c.path, c.values); err != nil {
		c.logger.Warn("persist stats failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("persist stats: %w", err)
	}
	return nil
}

// Get returns the current value of key.
func (c *Counter) Get(key string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[key]
}

// Snapshot copies the well-known counters.
func (c *Counter) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		TotalRequests:   c.values[TotalRequests],
		ServedFromCache: c.values[ServedFromCache],
		DownloadsOK:     c.values[DownloadsOK],
		BlockedBig:      c.values[BlockedBig],
		Errors:          c.values[Errors],
	}
}
