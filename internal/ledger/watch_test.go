package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStoreWatcherPublishesReloadOnExternalWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := OpenStore(path, nil)
	if err != nil {
		t.Fatalf("open store failed: %v", err)
	}
	store.Put(KeyZones, json.RawMessage(`[]`))

	bus := NewBus()
	reloads := make(chan struct{}, 4)
	bus.Subscribe(EventStorageReload, func() { reloads <- struct{}{} })

	watcher, err := NewStoreWatcher(store, bus, nil)
	if err != nil {
		t.Fatalf("new store watcher failed: %v", err)
	}
	defer watcher.Close()

	external := map[string]json.RawMessage{KeyZones: json.RawMessage(`[{"id":"z1"}]`)}
	data, err := json.Marshal(external)
	if err != nil {
		t.Fatalf("marshal external state failed: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("external write failed: %v", err)
	}

	select {
	case <-reloads:
	case <-time.After(3 * time.Second):
		t.Fatalf("expected a storage reload event after external write")
	}
	if string(store.Get(KeyZones)) != `[{"id":"z1"}]` {
		t.Fatalf("expected reloaded content, got %s", store.Get(KeyZones))
	}
}

func TestStoreWatcherIgnoresOwnWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := OpenStore(path, nil)
	if err != nil {
		t.Fatalf("open store failed: %v", err)
	}

	bus := NewBus()
	reloads := make(chan struct{}, 4)
	bus.Subscribe(EventStorageReload, func() { reloads <- struct{}{} })

	watcher, err := NewStoreWatcher(store, bus, nil)
	if err != nil {
		t.Fatalf("new store watcher failed: %v", err)
	}
	defer watcher.Close()

	store.Put(KeyStaff, json.RawMessage(`[{"id":"s1"}]`))

	select {
	case <-reloads:
		t.Fatalf("expected own write to not publish a reload event")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestStoreWatcherRequiresDeps(t *testing.T) {
	if _, err := NewStoreWatcher(nil, NewBus(), nil); err == nil {
		t.Fatalf("expected error for nil store")
	}
}
