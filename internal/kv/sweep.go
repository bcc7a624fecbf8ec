package kv

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// SweepTemp removes temp files that an interrupted Save left in dir and
// returns how many were removed. It must only run while no Save is active.
func SweepTemp(fs afero.Fs, dir string) (int, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return 0, fmt.Errorf("read state dir: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !isTempName(e.Name()) {
			continue
		}
		if err := fs.Remove(filepath.Join(dir, e.Name())); err != nil {
			return removed, fmt.Errorf("remove %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

// isTempName matches the names Save hands to afero.TempFile.
func isTempName(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".tmp") && strings.Contains(name, "-")
}
