package ledger

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// Document is one record in a remote collection. The document key is
// the entity's id ("main" for singleton configuration entities).
type Document struct {
	Key  string          `json:"key"`
	Data json.RawMessage `json:"data"`
}

// RemoteStore is the multi-client remote document store. Watch streams
// full collection snapshots: one slice per delivery, every document in
// the collection each time. Subscriptions live for the duration of ctx;
// there is no per-subscription unsubscribe.
type RemoteStore interface {
	Put(ctx context.Context, collection, key string, doc json.RawMessage) error
	Delete(ctx context.Context, collection, key string) error
	Watch(ctx context.Context, collection string) (<-chan []Document, error)
	Kind() string
	Close() error
}

// MemoryRemoteStore is an in-process RemoteStore. Every mutation
// broadcasts a fresh full snapshot to all watchers of the collection.
type MemoryRemoteStore struct {
	mu       sync.Mutex
	docs     map[string]map[string]json.RawMessage
	watchers map[string][]chan []Document
}

func NewMemoryRemoteStore() *MemoryRemoteStore {
	return &MemoryRemoteStore{
		docs:     map[string]map[string]json.RawMessage{},
		watchers: map[string][]chan []Document{},
	}
}

func (m *MemoryRemoteStore) Kind() string { return "memory" }

func (m *MemoryRemoteStore) Put(ctx context.Context, collection, key string, doc json.RawMessage) error {
	if m == nil || collection == "" || key == "" {
		return ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	coll := m.docs[collection]
	if coll == nil {
		coll = map[string]json.RawMessage{}
		m.docs[collection] = coll
	}
	coll[key] = append(json.RawMessage(nil), doc...)
	m.broadcastLocked(collection)
	return nil
}

func (m *MemoryRemoteStore) Delete(ctx context.Context, collection, key string) error {
	if m == nil || collection == "" || key == "" {
		return ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs[collection], key)
	m.broadcastLocked(collection)
	return nil
}

func (m *MemoryRemoteStore) Watch(ctx context.Context, collection string) (<-chan []Document, error) {
	if m == nil || collection == "" {
		return nil, ErrInvalidInput
	}
	ch := make(chan []Document, 16)
	m.mu.Lock()
	m.watchers[collection] = append(m.watchers[collection], ch)
	ch <- m.snapshotLocked(collection)
	m.mu.Unlock()
	return ch, nil
}

func (m *MemoryRemoteStore) Close() error { return nil }

func (m *MemoryRemoteStore) snapshotLocked(collection string) []Document {
	coll := m.docs[collection]
	keys := make([]string, 0, len(coll))
	for key := range coll {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	snapshot := make([]Document, 0, len(keys))
	for _, key := range keys {
		snapshot = append(snapshot, Document{
			Key:  key,
			Data: append(json.RawMessage(nil), coll[key]...),
		})
	}
	return snapshot
}

func (m *MemoryRemoteStore) broadcastLocked(collection string) {
	snapshot := m.snapshotLocked(collection)
	for _, ch := range m.watchers[collection] {
		select {
		case ch <- snapshot:
		default:
			// Slow watchers miss intermediate snapshots; the next
			// mutation carries the full state again.
		}
	}
}
