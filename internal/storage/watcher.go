package storage

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// EventCallback is called for each observed document change.
// kind is one of "created", "updated", "deleted"; namespace and name are
// the document coordinates, derived from the users/<namespace>/<name> layout.
type EventCallback func(kind, namespace, name string)

// Watch starts an fsnotify watcher on the filesystem store root and reports
// document changes until ctx is cancelled. Only the FS backend is watchable;
// the SQLite backend has no change feed.
//
// New directories created at runtime (first write into a namespace) are
// added to the watch list automatically.
func Watch(ctx context.Context, root string, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	for {
		select {
		case <-ctx.Done():
			logger.Info("watcher: stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			absPath := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					}
					continue
				}
			}

			// Atomic writes land via temp files; skip them.
			if strings.HasPrefix(filepath.Base(absPath), ".omniflow-tmp-") {
				continue
			}

			rel, relErr := filepath.Rel(root, absPath)
			if relErr != nil {
				continue
			}
			ns, name, ok2 := splitNamespaced(filepath.ToSlash(rel))
			if !ok2 {
				continue
			}

			switch {
			case ev.Op&fsnotify.Create != 0:
				logger.Debug("watcher: created", slog.String("namespace", ns), slog.String("name", name))
				if cb != nil {
					cb("created", ns, name)
				}
			case ev.Op&fsnotify.Write != 0:
				logger.Debug("watcher: updated", slog.String("namespace", ns), slog.String("name", name))
				if cb != nil {
					cb("updated", ns, name)
				}
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				// Rename fires on the old path only; the new path
				// arrives as a separate Create event.
				logger.Debug("watcher: deleted", slog.String("namespace", ns), slog.String("name", name))
				if cb != nil {
					cb("deleted", ns, name)
				}
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// splitNamespaced maps a store-relative path to (namespace, document name).
func splitNamespaced(rel string) (string, string, bool) {
	parts := strings.SplitN(rel, "/", 3)
	if len(parts) != 3 || parts[0] != "users" || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(p)
		}
		return nil
	})
}
