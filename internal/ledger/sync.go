package ledger

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
)

type SyncState int

const (
	SyncNotStarted SyncState = iota
	SyncActive
)

func (s SyncState) String() string {
	if s == SyncActive {
		return "active"
	}
	return "not-started"
}

type collectionBinding struct {
	key       string
	event     ChangeEvent
	singleton bool
}

func syncBindings() []collectionBinding {
	return []collectionBinding{
		{key: KeyCustomers, event: EventCustomers},
		{key: KeyExpenses, event: EventExpenses},
		{key: KeyCollections, event: EventCollections},
		{key: KeyStaff, event: EventStaff},
		{key: KeyDealers, event: EventDealers},
		{key: KeyZones, event: EventZones},
		{key: KeyAlerts, event: EventAlerts},
		{key: KeyStaffAlerts, event: EventStaffAlerts},
		{key: KeyAppSettings, event: EventSettings, singleton: true},
		{key: KeyCompanyDetails, event: EventSettings, singleton: true},
		{key: KeyAdminProfile, event: EventSettings, singleton: true},
		{key: KeyNotificationSettings, event: EventSettings, singleton: true},
		{key: KeyMobilePermissions, event: EventSettings, singleton: true},
		{key: KeyAdminSecurity, event: EventSecurity, singleton: true},
	}
}

type SyncOptions struct {
	Store  *Store
	Bus    *Bus
	Remote RemoteStore
	Logger Logger
	Guard  *SchemaGuard

	// OnMerge, when set, is called after every applied snapshot with
	// the collection name. Used for counters; never for control flow.
	OnMerge func(collection string)
}

// SyncManager owns the one subscribing pass a process gets. Start is
// idempotent: the first call moves NotStarted -> Active and opens one
// watch per entity collection for the lifetime of ctx; later calls are
// no-ops. Inbound snapshots are merged remote-wins by id and republish
// the same change event a local save publishes, so consumers cannot
// tell the two mutation paths apart.
type SyncManager struct {
	opts   SyncOptions
	mu     sync.Mutex
	state  SyncState
	merges atomic.Uint64
}

func NewSyncManager(opts SyncOptions) *SyncManager {
	return &SyncManager{opts: opts}
}

func (m *SyncManager) State() SyncState {
	if m == nil {
		return SyncNotStarted
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Merges returns the number of snapshots applied since Start.
func (m *SyncManager) Merges() uint64 {
	if m == nil {
		return 0
	}
	return m.merges.Load()
}

func (m *SyncManager) Start(ctx context.Context) {
	if m == nil || m.opts.Remote == nil {
		return
	}
	m.mu.Lock()
	if m.state == SyncActive {
		m.mu.Unlock()
		return
	}
	m.state = SyncActive
	m.mu.Unlock()

	for _, binding := range syncBindings() {
		go m.watchCollection(ctx, binding)
	}
}

func (m *SyncManager) watchCollection(ctx context.Context, binding collectionBinding) {
	snapshots, err := m.opts.Remote.Watch(ctx, binding.key)
	if err != nil {
		logf(m.opts.Logger, "watch %s failed: %v", binding.key, err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case snapshot, ok := <-snapshots:
			if !ok {
				return
			}
			m.applySnapshot(binding, snapshot)
		}
	}
}

func (m *SyncManager) applySnapshot(binding collectionBinding, snapshot []Document) {
	// An empty snapshot means "not yet loaded", not "empty collection".
	// Merging it would wipe locally-authored records that have not
	// reached the remote store yet.
	if len(snapshot) == 0 {
		return
	}
	valid := snapshot[:0:0]
	for _, doc := range snapshot {
		if m.opts.Guard.ValidDocument(binding.key, binding.singleton, doc) {
			valid = append(valid, doc)
		}
	}
	if len(valid) == 0 {
		return
	}

	if binding.singleton {
		m.applySingleton(binding, valid)
	} else {
		m.applyList(binding, valid)
	}
	m.merges.Add(1)
	if m.opts.OnMerge != nil {
		m.opts.OnMerge(binding.key)
	}
	m.opts.Bus.Publish(binding.event)
}

func (m *SyncManager) applySingleton(binding collectionBinding, snapshot []Document) {
	for _, doc := range snapshot {
		if doc.Key == SingletonDocKey {
			m.opts.Store.Put(binding.key, doc.Data)
			return
		}
	}
	m.opts.Store.Put(binding.key, snapshot[0].Data)
}

func (m *SyncManager) applyList(binding collectionBinding, snapshot []Document) {
	local := decodeRawList(m.opts.Store, binding.key, m.opts.Logger)
	merged := mergeSnapshot(local, snapshot)
	data, err := json.Marshal(merged)
	if err != nil {
		logf(m.opts.Logger, "encoding merged %s failed: %v", binding.key, err)
		return
	}
	m.opts.Store.Put(binding.key, data)
}

// mergeSnapshot merges a remote snapshot into the local list by
// identity. A remote record always overwrites a local record sharing
// its id; there is no timestamp or vector-clock comparison, so
// whichever side is merged last for an id wins. Local ordering is
// preserved for surviving records; remote-only records append in
// snapshot order.
func mergeSnapshot(local []json.RawMessage, snapshot []Document) []json.RawMessage {
	remoteByID := make(map[string]json.RawMessage, len(snapshot))
	remoteOrder := make([]string, 0, len(snapshot))
	for _, doc := range snapshot {
		id := doc.Key
		if id == "" {
			id = documentID(doc.Data)
		}
		if id == "" {
			continue
		}
		if _, ok := remoteByID[id]; !ok {
			remoteOrder = append(remoteOrder, id)
		}
		remoteByID[id] = doc.Data
	}

	merged := make([]json.RawMessage, 0, len(local)+len(snapshot))
	seen := make(map[string]bool, len(local)+len(snapshot))
	for _, record := range local {
		id := documentID(record)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if remote, ok := remoteByID[id]; ok {
			merged = append(merged, remote)
			continue
		}
		merged = append(merged, record)
	}
	for _, id := range remoteOrder {
		if seen[id] {
			continue
		}
		seen[id] = true
		merged = append(merged, remoteByID[id])
	}
	return merged
}

func decodeRawList(store *Store, key string, logger Logger) []json.RawMessage {
	raw := store.Get(key)
	if len(raw) == 0 {
		return []json.RawMessage{}
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		logf(logger, "stored list %s is corrupt, merging against empty list: %v", key, err)
		return []json.RawMessage{}
	}
	return list
}

// documentID extracts the identity field of a record regardless of
// whether it is stored as a JSON string or number.
func documentID(record json.RawMessage) string {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(record, &probe); err != nil || len(probe.ID) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(probe.ID, &asString); err == nil {
		return asString
	}
	var asNumber json.Number
	if err := json.Unmarshal(probe.ID, &asNumber); err == nil {
		return asNumber.String()
	}
	return ""
}
