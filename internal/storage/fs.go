package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/omniflow-labs/omniflow/internal/apperr"
)

// FS implements Provider backed by the local file system.
type FS struct {
	root string // absolute path to the store directory
}

// NewFS creates an FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute store directory, for the change watcher.
func (f *FS) Root() string { return f.root }

// safePath resolves a relative path against the store root and rejects
// any result that escapes it (directory traversal).
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) {
		return "", apperr.New(apperr.KindMalformedInput, "absolute paths not allowed: %s", rel)
	}
	joined := filepath.Join(f.root, cleaned)
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", apperr.Wrap(apperr.KindMalformedInput, err, "resolve path %s", rel)
	}
	// Ensure the resolved path is still under root.
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", apperr.New(apperr.KindMalformedInput, "path escapes store root: %s", rel)
	}
	return abs, nil
}

// Exists reports whether a blob is present at path.
func (f *FS) Exists(_ context.Context, path string) (bool, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Wrap(apperr.KindStorageUnavailable, err, "stat %s", path)
	}
	return !info.IsDir(), nil
}

// Read returns the raw bytes of a stored blob.
func (f *FS) Read(_ context.Context, path string) ([]byte, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.New(apperr.KindNotFound, "blob not found: %s", path)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, err, "read %s", path)
	}
	return data, nil
}

// Write atomically replaces content: tmp file → fsync → rename.
func (f *FS) Write(_ context.Context, path string, content []byte) error {
	abs, err := f.safePath(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, err, "mkdir for %s", path)
	}

	tmp, err := os.CreateTemp(dir, ".omniflow-tmp-*")
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, err, "create temp for %s", path)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, err, "write temp for %s", path)
	}
	if err := tmp.Sync(); err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, err, "fsync %s", path)
	}
	if err := tmp.Close(); err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, err, "close temp for %s", path)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, err, "rename into %s", path)
	}
	success = true
	return nil
}

// List returns metadata for every blob whose path starts with prefix.
// The prefix is a plain name prefix, matching the sqlite backend: it need
// not align with a directory boundary. Each call re-enumerates current state.
func (f *FS) List(_ context.Context, prefix string) ([]Info, error) {
	if _, err := f.safePath(prefix); err != nil {
		return nil, err
	}
	// Walk the deepest directory the prefix names and filter walked
	// paths as strings, so "users/alice/task" matches tasks.json.
	dir := ""
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		dir = prefix[:i]
	}
	base, err := f.safePath(dir)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(base); errors.Is(err, fs.ErrNotExist) {
		// An empty namespace is an empty listing, not an error.
		return nil, nil
	}
	var out []Info
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".omniflow-tmp-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		relPath := filepath.ToSlash(rel)
		if !strings.HasPrefix(relPath, prefix) {
			return nil
		}
		out = append(out, Info{
			Path:      relPath,
			Size:      info.Size(),
			UpdatedAt: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, err, "list %s", prefix)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Delete removes a blob from the store.
func (f *FS) Delete(_ context.Context, path string) error {
	abs, err := f.safePath(path)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return apperr.New(apperr.KindNotFound, "blob not found: %s", path)
		}
		return apperr.Wrap(apperr.KindStorageUnavailable, err, "delete %s", path)
	}
	return nil
}

// Rename moves a blob within the store.
func (f *FS) Rename(_ context.Context, oldPath, newPath string) error {
	absOld, err := f.safePath(oldPath)
	if err != nil {
		return err
	}
	absNew, err := f.safePath(newPath)
	if err != nil {
		return err
	}
	dir := filepath.Dir(absNew)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, err, "mkdir for rename to %s", newPath)
	}
	if err := os.Rename(absOld, absNew); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return apperr.New(apperr.KindNotFound, "blob not found: %s", oldPath)
		}
		return apperr.Wrap(apperr.KindStorageUnavailable, err, "rename %s to %s", oldPath, newPath)
	}
	return nil
}
