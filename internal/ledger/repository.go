package ledger

import "encoding/json"

// Deps bundles the shared collaborators every repository is wired to.
type Deps struct {
	Store  *Store
	Bus    *Bus
	Outbox *Outbox
	Logger Logger
}

// ListRepo is the repository for one list-shaped entity kind. Save and
// Delete mutate the local store optimistically, publish the kind's
// change event synchronously, and hand the remote write to the outbox
// without waiting for it.
type ListRepo[T Entity] struct {
	deps       Deps
	key        string
	event      ChangeEvent
	collection string
	prepend    bool
	financial  bool
}

func newListRepo[T Entity](deps Deps, key string, event ChangeEvent, prepend, financial bool) *ListRepo[T] {
	return &ListRepo[T]{
		deps:       deps,
		key:        key,
		event:      event,
		collection: key,
		prepend:    prepend,
		financial:  financial,
	}
}

// List reads the full collection from the local store.
func (r *ListRepo[T]) List() []T {
	return DecodeList[T](r.deps.Store, r.key, r.deps.Logger)
}

// Event returns the change event consumers subscribe to for this kind.
func (r *ListRepo[T]) Event() ChangeEvent { return r.event }

// Save replaces the record sharing item's id, or inserts it: prepended
// for high-churn kinds so "most recent first" holds without a sort,
// appended for reference kinds. The returned list is the persisted one.
func (r *ListRepo[T]) Save(item T) []T {
	if item.Key() == "" {
		logf(r.deps.Logger, "refusing to save %s record with empty id", r.key)
		return r.List()
	}
	list := r.List()
	replaced := false
	for i := range list {
		if list[i].Key() == item.Key() {
			list[i] = item
			replaced = true
			break
		}
	}
	if !replaced {
		if r.prepend {
			list = append([]T{item}, list...)
		} else {
			list = append(list, item)
		}
	}
	EncodeList(r.deps.Store, r.key, list, r.deps.Logger)
	r.deps.Bus.Publish(r.event)
	r.enqueueUpsert(item)
	return list
}

// Delete removes the record with the given id and fires a remote
// delete; remote delete failures are logged only.
func (r *ListRepo[T]) Delete(key string) []T {
	if key == "" {
		return r.List()
	}
	list := r.List()
	out := make([]T, 0, len(list))
	removed := false
	for _, item := range list {
		if item.Key() == key {
			removed = true
			continue
		}
		out = append(out, item)
	}
	if !removed {
		return list
	}
	EncodeList(r.deps.Store, r.key, out, r.deps.Logger)
	r.deps.Bus.Publish(r.event)
	r.deps.Outbox.EnqueueDelete(r.collection, key)
	return out
}

func (r *ListRepo[T]) enqueueUpsert(item T) {
	raw, err := json.Marshal(item)
	if err != nil {
		logf(r.deps.Logger, "encoding %s record %s failed: %v", r.key, item.Key(), err)
		return
	}
	r.deps.Outbox.EnqueueUpsert(r.collection, item.Key(), sanitizeDoc(raw), r.financial)
}

// SingletonRepo stores one configuration object under a fixed key.
// The remote document key is always SingletonDocKey.
type SingletonRepo[T any] struct {
	deps       Deps
	key        string
	event      ChangeEvent
	collection string
	fallback   T
}

func newSingletonRepo[T any](deps Deps, key string, event ChangeEvent, fallback T) *SingletonRepo[T] {
	return &SingletonRepo[T]{
		deps:       deps,
		key:        key,
		event:      event,
		collection: key,
		fallback:   fallback,
	}
}

func (r *SingletonRepo[T]) Get() T {
	return DecodeSingleton(r.deps.Store, r.key, r.fallback, r.deps.Logger)
}

func (r *SingletonRepo[T]) Event() ChangeEvent { return r.event }

func (r *SingletonRepo[T]) Save(value T) T {
	raw, err := json.Marshal(value)
	if err != nil {
		logf(r.deps.Logger, "encoding %s failed: %v", r.key, err)
		return value
	}
	r.deps.Store.Put(r.key, raw)
	r.deps.Bus.Publish(r.event)
	r.deps.Outbox.EnqueueUpsert(r.collection, SingletonDocKey, sanitizeDoc(raw), false)
	return value
}

func sanitizeDoc(raw []byte) []byte {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return raw
	}
	clean, err := json.Marshal(Sanitize(doc))
	if err != nil {
		return raw
	}
	return clean
}

// Repositories wires one repository per entity kind to a shared store,
// bus, and outbox.
type Repositories struct {
	Customers   *ListRepo[Customer]
	Expenses    *ListRepo[Expense]
	Collections *ListRepo[Collection]
	Staff       *ListRepo[Staff]
	Dealers     *ListRepo[Dealer]
	Zones       *ListRepo[Zone]
	Alerts      *ListRepo[Alert]
	StaffAlerts *ListRepo[Notification]

	Settings             *SingletonRepo[AppSettings]
	Company              *SingletonRepo[CompanyDetails]
	Profile              *SingletonRepo[AdminProfile]
	NotificationSettings *SingletonRepo[NotificationSettings]
	MobilePermissions    *SingletonRepo[MobilePermissions]
	Security             *SingletonRepo[AdminSecurity]
}

func NewRepositories(deps Deps) *Repositories {
	return &Repositories{
		Customers:   newListRepo[Customer](deps, KeyCustomers, EventCustomers, false, false),
		Expenses:    newListRepo[Expense](deps, KeyExpenses, EventExpenses, true, false),
		Collections: newListRepo[Collection](deps, KeyCollections, EventCollections, true, true),
		Staff:       newListRepo[Staff](deps, KeyStaff, EventStaff, false, false),
		Dealers:     newListRepo[Dealer](deps, KeyDealers, EventDealers, false, false),
		Zones:       newListRepo[Zone](deps, KeyZones, EventZones, false, false),
		Alerts:      newListRepo[Alert](deps, KeyAlerts, EventAlerts, true, false),
		StaffAlerts: newListRepo[Notification](deps, KeyStaffAlerts, EventStaffAlerts, true, false),

		Settings:             newSingletonRepo(deps, KeyAppSettings, EventSettings, DefaultAppSettings()),
		Company:              newSingletonRepo(deps, KeyCompanyDetails, EventSettings, CompanyDetails{}),
		Profile:              newSingletonRepo(deps, KeyAdminProfile, EventSettings, AdminProfile{}),
		NotificationSettings: newSingletonRepo(deps, KeyNotificationSettings, EventSettings, DefaultNotificationSettings()),
		MobilePermissions:    newSingletonRepo(deps, KeyMobilePermissions, EventSettings, DefaultMobilePermissions()),
		Security:             newSingletonRepo(deps, KeyAdminSecurity, EventSecurity, AdminSecurity{}),
	}
}
