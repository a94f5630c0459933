// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncclient

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// selfWriteWindow is how recently the store must have written a file for a
// filesystem event on it to be attributed to this process and ignored.
const selfWriteWindow = 2 * time.Second

// Watcher feeds out-of-band edits to the resource JSON files (external
// tools, other processes sharing the data dir) into the scheduler, so they
// get pushed like any in-app mutation. Events caused by the store's own
// writes are filtered out to avoid a push feedback loop.
type Watcher struct {
	store  *Store
	sched  *Scheduler
	fsw    *fsnotify.Watcher
	logger *slog.Logger
	done   chan struct{}
}

// NewWatcher starts watching the store's data directory. Close releases the
// underlying watcher.
func NewWatcher(store *Store, sched *Scheduler, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(store.dataDir); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &Watcher{
		store:  store,
		sched:  sched,
		fsw:    fsw,
		logger: logger,
		done:   make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return
	}
	resource, ok := ResourceForFile(filepath.Base(ev.Name))
	if !ok {
		return
	}
	if w.store.WrittenBySelfWithin(resource, selfWriteWindow) {
		return
	}
	w.logger.Debug("external edit detected", "resource", resource, "event", ev.Op.String())
	w.sched.NotifyChanged(resource)
}

// Close stops the watcher and waits for its loop to exit.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}
