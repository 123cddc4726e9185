package ledger

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// StoreWatcher watches the local store file for writes made by other
// processes sharing it (other windows of the same operator) and
// publishes EventStorageReload so every consumer re-reads. It is a
// refresh signal only: no reconciliation of concurrent writes happens
// here, the last write to the file simply wins.
type StoreWatcher struct {
	store   *Store
	bus     *Bus
	logger  Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

func NewStoreWatcher(store *Store, bus *Bus, logger Logger) (*StoreWatcher, error) {
	if store == nil || bus == nil {
		return nil, ErrInvalidInput
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: the store writes via rename, which replaces
	// the watched inode if the file itself were watched.
	dir := filepath.Dir(store.Path())
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	w := &StoreWatcher{
		store:   store,
		bus:     bus,
		logger:  logger,
		watcher: watcher,
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *StoreWatcher) loop() {
	target := filepath.Clean(w.store.Path())
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Reload compares content hashes, so this process's own
			// writes never loop back as reload events.
			if w.store.Reload() {
				w.bus.Publish(EventStorageReload)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logf(w.logger, "store watcher error: %v", err)
		}
	}
}

func (w *StoreWatcher) Close() error {
	if w == nil {
		return nil
	}
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}
