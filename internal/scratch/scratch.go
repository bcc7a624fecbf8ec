// Package scratch manages the per-job download area on local disk.
package scratch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Dir is a working directory in which each job writes files sharing a unique
// prefix.
type Dir struct {
	fs   afero.Fs
	root string
}

// New returns a Dir rooted at root and creates it if needed.
func New(fs afero.Fs, root string) (*Dir, error) {
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	return &Dir{fs: fs, root: root}, nil
}

// Fs exposes the underlying filesystem.
func (d *Dir) Fs() afero.Fs {
	return d.fs
}

// Prefix returns the output prefix reserved for jobID.
func (d *Dir) Prefix(jobID string) string {
	return filepath.Join(d.root, "dl_"+jobID)
}

// List returns the paths of files whose name starts with the prefix's base
// name followed by a dot.
func (d *Dir) List(prefix string) ([]string, error) {
	dir, base := filepath.Split(prefix)
	entries, err := afero.ReadDir(d.fs, filepath.Clean(dir))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), base+".") {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}

// Cleanup deletes every file for prefix. It is safe to call repeatedly and
// ignores removal errors.
func (d *Dir) Cleanup(prefix string) {
	paths, err := d.List(prefix)
	if err != nil {
		return
	}
	for _, p := range paths {
		_ = d.fs.Remove(p)
	}
}

// Size returns the size of the file at path.
func (d *Dir) Size(path string) (int64, error) {
	info, err := d.fs.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("stat %s: %w", path, os.ErrInvalid)
	}
	return info.Size(), nil
}
