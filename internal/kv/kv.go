// Package kv persists small JSON documents with atomic replacement.
package kv

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// Load reads the JSON document at path into a value of type T. Any read or
// decode failure yields def, so a missing or corrupt file never blocks startup.
func Load[T any](fs afero.Fs, path string, def T) T {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return def
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return def
	}
	return out
}

// Save writes doc to a temporary sibling of path and renames it into place.
// Readers observe either the previous document or the new one.
func Save(fs afero.Fs, path string, doc any) (err error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := afero.TempFile(fs, dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = fs.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = fs.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
