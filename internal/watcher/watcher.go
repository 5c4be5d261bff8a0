// Package watcher notices files disappearing from the target directory so
// their checksum entries can be cleaned.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"clipsave/internal/autosave"
	"clipsave/internal/checksum"
)

// DefaultDelay is how long the directory must stay quiet before OnRemoved
// fires. Deleting many files at once triggers one clean.
const DefaultDelay = 2 * time.Second

// Watcher watches one directory, not its subdirectories.
type Watcher struct {
	fsw       *fsnotify.Watcher
	dir       string
	delay     time.Duration
	onRemoved func()
	logger    autosave.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// New starts watching dir. onRemoved is called from a timer goroutine
// after removals settle.
func New(dir string, delay time.Duration, onRemoved func(), logger autosave.Logger) (*Watcher, error) {
	if delay <= 0 {
		delay = DefaultDelay
	}
	if logger == nil {
		logger = autosave.NewNopLogger()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	return &Watcher{
		fsw:       fsw,
		dir:       dir,
		delay:     delay,
		onRemoved: onRemoved,
		logger:    logger,
	}, nil
}

// Run handles events until ctx is cancelled, then releases the watcher.
// A pending callback is dropped.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.relevant(ev) {
				w.logger.Debug("saved file removed", "path", ev.Name, "op", ev.Op.String())
				w.schedule()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "dir", w.dir, "error", err)
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Base(ev.Name)
	return name != checksum.LogFileName && !strings.HasPrefix(name, ".tmp-")
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, w.onRemoved)
}

func (w *Watcher) stop() {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	w.fsw.Close()
}
