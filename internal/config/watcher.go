package config

import (
	"bytes"
	"crypto/sha256"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls a config file and invokes a callback when its content
// changes. Content is compared by digest rather than mtime so editors
// that rewrite files without touching timestamps still trigger a reload.
type Watcher struct {
	path     string
	interval time.Duration
	logger   *slog.Logger
	onChange func()

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once

	lastDigest []byte
}

// NewWatcher creates a config file watcher that polls for changes.
func NewWatcher(path string, interval time.Duration, logger *slog.Logger, onChange func()) *Watcher {
	return &Watcher{
		path:     path,
		interval: interval,
		logger:   logger.With("component", "config_watcher"),
		onChange: onChange,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins polling in a goroutine. The file's current content is the
// baseline; only subsequent changes fire the callback.
func (w *Watcher) Start() {
	w.lastDigest = w.digest()

	go w.poll()
	w.logger.Info("watching config file", "path", w.path, "interval", w.interval)
}

// Stop terminates polling and waits for the poll goroutine to exit.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.stopCh)
		<-w.doneCh
		w.logger.Info("config watcher stopped")
	})
}

func (w *Watcher) poll() {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	current := w.digest()
	if current == nil || bytes.Equal(current, w.lastDigest) {
		return
	}

	w.logger.Info("config file changed", "path", w.path)
	w.lastDigest = current
	if w.onChange != nil {
		w.onChange()
	}
}

// digest returns the sha256 of the file content, or nil if the file
// cannot be read (e.g. mid-rewrite by an editor).
func (w *Watcher) digest() []byte {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil
	}
	sum := sha256.Sum256(data)
	return sum[:]
}
