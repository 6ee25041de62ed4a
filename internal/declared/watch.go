package declared

import (
	"bytes"
	"context"
	"crypto/sha256"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"taskcron/internal/core"
)

const (
	debounceDelay      = 250 * time.Millisecond
	restartBackoffBase = 250 * time.Millisecond
	restartBackoffMax  = 5 * time.Second
)

// Watcher reloads a declarations file into a registry whenever it changes.
// Invalid content is logged and ignored; the last good set stays active.
type Watcher struct {
	path     string
	registry *core.Registry
	logger   *slog.Logger

	mu       sync.Mutex
	lastHash [sha256.Size]byte
	// Reloaded, when set, is called after every successful reload.
	Reloaded func(count int)
}

func NewWatcher(path string, registry *core.Registry, logger *slog.Logger) *Watcher {
	return &Watcher{path: path, registry: registry, logger: logger}
}

// Load performs the initial load.
func (w *Watcher) Load() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return err
	}
	return w.apply(data)
}

// Reload re-reads the file if its content changed since the last load.
func (w *Watcher) Reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Warn("declarations read failed", "path", w.path, "err", err)
		return
	}
	h := sha256.Sum256(data)
	w.mu.Lock()
	unchanged := bytes.Equal(h[:], w.lastHash[:])
	w.mu.Unlock()
	if unchanged {
		w.logger.Debug("declarations unchanged", "path", w.path)
		return
	}
	if err := w.apply(data); err != nil {
		w.logger.Warn("declarations rejected", "path", w.path, "err", err)
	}
}

func (w *Watcher) apply(data []byte) error {
	decls, err := Parse(data)
	if err != nil {
		return err
	}
	if err := w.registry.ReplaceDeclarations(decls); err != nil {
		return err
	}
	w.mu.Lock()
	w.lastHash = sha256.Sum256(data)
	w.mu.Unlock()
	w.logger.Info("declarations loaded", "path", w.path, "count", len(decls))
	if w.Reloaded != nil {
		w.Reloaded(len(decls))
	}
	return nil
}

// Watch blocks until ctx is done, reloading on file changes. The directory is
// watched rather than the file so editors that replace the file are handled.
func (w *Watcher) Watch(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	file := filepath.Base(w.path)

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounceDelay, w.Reload)
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	backoff := restartBackoffBase
	for {
		if ctx.Err() != nil {
			return nil
		}
		fw, err := fsnotify.NewWatcher()
		if err == nil {
			if err = fw.Add(dir); err != nil {
				_ = fw.Close()
			}
		}
		if err != nil {
			w.logger.Warn("declarations watch failed", "dir", dir, "err", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, restartBackoffMax)
			continue
		}
		backoff = restartBackoffBase
		w.logger.Debug("declarations watcher started", "dir", dir, "file", file)

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = fw.Close()
				return nil
			case ev, ok := <-fw.Events:
				if !ok {
					broken = true
					break
				}
				if strings.EqualFold(filepath.Base(ev.Name), file) &&
					ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					debounce()
				}
			case err, ok := <-fw.Errors:
				if !ok {
					broken = true
					break
				}
				w.logger.Warn("declarations watcher error", "err", err)
			}
		}
		_ = fw.Close()
	}
}
