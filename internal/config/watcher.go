package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 200 * time.Millisecond

// FileWatcher raises onChange once per distinct content hash of a file.
// The directory is watched so editors that replace the file by rename are
// still observed.
type FileWatcher struct {
	path     string
	onChange func()
	logger   *slog.Logger
	debounce atomic.Int64

	mu       sync.Mutex
	lastHash string

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewFileWatcher records the file's current hash as the baseline.
func NewFileWatcher(path string, logger *slog.Logger, onChange func()) (*FileWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &FileWatcher{
		path:     abs,
		onChange: onChange,
		logger:   logger.With("component", "config-watcher"),
	}
	w.debounce.Store(int64(defaultDebounce))
	if h, err := hashFile(abs); err == nil {
		w.lastHash = h
	}
	return w, nil
}

// SetDebounce changes the quiet period before a burst of events is handled.
func (w *FileWatcher) SetDebounce(d time.Duration) { w.debounce.Store(int64(d)) }

func (w *FileWatcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}
	w.watcher = watcher

	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	go w.watchLoop(watchCtx)
	return nil
}

func (w *FileWatcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	if w.watcher != nil {
		_ = w.watcher.Close()
	}
}

func (w *FileWatcher) watchLoop(ctx context.Context) {
	defer w.wg.Done()
	debounce := time.NewTimer(time.Hour)
	if !debounce.Stop() {
		<-debounce.C
	}
	pending := false
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || !isRelevantEvent(ev) {
				continue
			}
			pending = true
			debounce.Reset(time.Duration(w.debounce.Load()))
		case <-debounce.C:
			if pending {
				w.Notify()
				pending = false
			}
		}
	}
}

func isRelevantEvent(ev fsnotify.Event) bool {
	return ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0
}

// Notify handles one change notification. It re-hashes the file and calls
// onChange only when the content differs from the last seen content.
// Reports whether onChange was called.
func (w *FileWatcher) Notify() bool {
	h, err := hashFile(w.path)
	if err != nil {
		w.logger.Warn("could not read config file", "path", w.path, "error", err)
		return false
	}
	w.mu.Lock()
	if h == w.lastHash {
		w.mu.Unlock()
		return false
	}
	w.lastHash = h
	w.mu.Unlock()

	w.logger.Info("config file content changed", "path", w.path)
	if w.onChange != nil {
		w.onChange()
	}
	return true
}

func hashFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	h := sha256.Sum256(raw)
	return hex.EncodeToString(h[:]), nil
}
