package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Store is the process-wide key -> JSON store backing every repository.
// The whole keyspace lives in one JSON file written atomically via a
// temp file and rename; a single rename is atomic-enough for one
// process, which is all the callers require.
type Store struct {
	mu       sync.Mutex
	path     string
	logger   Logger
	values   map[string]json.RawMessage
	lastHash string
}

func OpenStore(path string, logger Logger) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	s := &Store{
		path:   path,
		logger: logger,
		values: map[string]json.RawMessage{},
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, err
	}
	var snapshot map[string]json.RawMessage
	if err := json.Unmarshal(data, &snapshot); err != nil {
		// Corrupt state is recovered by starting empty, never by failing.
		logf(logger, "local store %s is corrupt, starting empty: %v", path, err)
		return s, nil
	}
	s.values = snapshot
	s.lastHash = hashBytes(data)
	return s, nil
}

// Get returns the raw value for key, or nil when absent.
func (s *Store) Get(key string) json.RawMessage {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	if !ok {
		return nil
	}
	return append(json.RawMessage(nil), value...)
}

// Put persists value under key synchronously. A failed disk write keeps
// the in-memory value authoritative for the current process and is
// logged rather than returned; callers treat Put as infallible.
func (s *Store) Put(key string, value json.RawMessage) {
	if s == nil || strings.TrimSpace(key) == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = append(json.RawMessage(nil), value...)
	if err := s.saveLocked(); err != nil {
		logf(s.logger, "local store write for %s failed: %v", key, err)
	}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Keys returns all persisted keys, sorted.
func (s *Store) Keys() []string {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.values))
	for key := range s.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Reload re-reads the backing file after an external write. It reports
// whether the content differed from the last state this process wrote.
func (s *Store) Reload() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		return false
	}
	if hashBytes(data) == s.lastHash {
		return false
	}
	var snapshot map[string]json.RawMessage
	if err := json.Unmarshal(data, &snapshot); err != nil {
		logf(s.logger, "external write to %s is corrupt, keeping in-memory state: %v", s.path, err)
		return false
	}
	s.values = snapshot
	s.lastHash = hashBytes(data)
	return true
}

func (s *Store) saveLocked() error {
	data, err := json.Marshal(s.values)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	s.lastHash = hashBytes(data)
	return nil
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DecodeList reads the entity list stored under key. Missing or corrupt
// content yields an empty list; corruption is logged, never surfaced.
func DecodeList[T Entity](store *Store, key string, logger Logger) []T {
	raw := store.Get(key)
	if len(raw) == 0 {
		return []T{}
	}
	var list []T
	if err := json.Unmarshal(raw, &list); err != nil {
		logf(logger, "stored list %s is corrupt, using empty list: %v", key, err)
		return []T{}
	}
	if list == nil {
		return []T{}
	}
	return list
}

// DecodeSingleton reads the configuration object stored under key,
// falling back to the provided default on missing or corrupt content.
func DecodeSingleton[T any](store *Store, key string, fallback T, logger Logger) T {
	raw := store.Get(key)
	if len(raw) == 0 {
		return fallback
	}
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		logf(logger, "stored object %s is corrupt, using default: %v", key, err)
		return fallback
	}
	return value
}

// EncodeList persists list under key.
func EncodeList[T Entity](store *Store, key string, list []T, logger Logger) {
	if list == nil {
		list = []T{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		logf(logger, "encoding list %s failed: %v", key, err)
		return
	}
	store.Put(key, data)
}
