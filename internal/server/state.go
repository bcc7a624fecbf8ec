package server

import (
	"errors"
	"fmt"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/pinsave/internal/banlist"
	"github.com/JakeFAU/pinsave/internal/cache"
	"github.com/JakeFAU/pinsave/internal/config"
	"github.com/JakeFAU/pinsave/internal/kv"
	"github.com/JakeFAU/pinsave/internal/media"
	"github.com/JakeFAU/pinsave/internal/stats"
)

// State file names under state.dir.
const (
	BansFile        = "banned.json"
	StatsFile       = "stats.json"
	CacheFile       = "cache.json"
	CacheLevelDBDir = "cache.ldb"
)

// ArtifactCache is a media.ArtifactCache that can report its size.
type ArtifactCache interface {
	media.ArtifactCache
	Len() int
}

// State groups the persisted documents shared by the server and the CLI.
// Documents are held in memory, so only one process may open a state dir at
// a time; the holder owns LockFile until Close.
type State struct {
	Bans  *banlist.Set
	Stats *stats.Counter
	Cache ArtifactCache

	lock       *stateLock
	closeCache func() error
}

// OpenState locks cfg.State.Dir and loads the ban list, stats and artifact
// cache from it. It fails with ErrStateLocked while another process holds it.
func OpenState(cfg config.Config, fs afero.Fs, logger *zap.Logger) (*State, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := fs.MkdirAll(cfg.State.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	lock, err := acquireLock(fs, cfg.StatePath(LockFile))
	if err != nil {
		return nil, err
	}
	if n, err := kv.SweepTemp(fs, cfg.State.Dir); err != nil {
		logger.Warn("temp file sweep failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("removed leftover temp files", zap.Int("count", n))
	}
	st := &State{
		Bans:  banlist.Load(fs, cfg.StatePath(BansFile)),
		Stats: stats.Load(fs, cfg.StatePath(StatsFile), logger),
		lock:  lock,
	}
	switch cfg.State.CacheBackend {
	case config.CacheLevelDB:
		db, err := cache.OpenLevelDB(cfg.StatePath(CacheLevelDBDir))
		if err != nil {
			_ = lock.release()
			return nil, fmt.Errorf("open cache: %w", err)
		}
		st.Cache = db
		st.closeCache = db.Close
	default:
		st.Cache = cache.NewFile(fs, cfg.StatePath(CacheFile), logger)
	}
	logger.Info("state loaded",
		zap.String("dir", cfg.State.Dir),
		zap.String("cache_backend", cfg.State.CacheBackend),
		zap.Int("cache_entries", st.Cache.Len()),
		zap.Int("banned", st.Bans.Len()),
	)
	return st, nil
}

// PurgeCache removes the entry for locator. It returns media.ErrNotFound when
// nothing was cached.
func (s *State) PurgeCache(locator string) error {
	key := media.CacheKey(locator)
	if _, ok := s.Cache.Lookup(key); !ok {
		return fmt.Errorf("%w: %s", media.ErrNotFound, key)
	}
	if err := s.Cache.Invalidate(key); err != nil {
		return fmt.Errorf("invalidate cache entry: %w", err)
	}
	return nil
}

// Close releases the cache backend and the state dir lock.
func (s *State) Close() error {
	var errs []error
	if s.closeCache != nil {
		if err := s.closeCache(); err != nil {
			errs = append(errs, fmt.Errorf("close cache: %w", err))
		}
		s.closeCache = nil
	}
	if s.lock != nil {
		if err := s.lock.release(); err != nil {
			errs = append(errs, err)
		}
		s.lock = nil
	}
	return errors.Join(errs...)
}
