package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/collectops/ledgersync/internal/ledger"
)

// Server exposes the operator-facing surface of the sync layer. Writes
// flow through the repositories so every mutation takes the same
// optimistic-local path as in-process callers: local store write,
// change event, outbox enqueue.
type Server struct {
	repos   *ledger.Repositories
	store   *ledger.Store
	bus     *ledger.Bus
	outbox  *ledger.Outbox
	sync    *ledger.SyncManager
	remote  ledger.RemoteStore
	metrics *Metrics
	logger  ledger.Logger
}

type ServerOptions struct {
	Repos   *ledger.Repositories
	Store   *ledger.Store
	Bus     *ledger.Bus
	Outbox  *ledger.Outbox
	Sync    *ledger.SyncManager
	Remote  ledger.RemoteStore
	Metrics *Metrics
	Logger  ledger.Logger
}

func NewServer(opts ServerOptions) *Server {
	return &Server{
		repos:   opts.Repos,
		store:   opts.Store,
		bus:     opts.Bus,
		outbox:  opts.Outbox,
		sync:    opts.Sync,
		remote:  opts.Remote,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path == "/metrics" && r.Method == http.MethodGet {
		if s.metrics == nil {
			writeError(w, http.StatusNotFound, "not_found", "metrics not configured")
			return
		}
		s.metrics.Handler().ServeHTTP(w, r)
		return
	}
	if r.URL.Path == "/v1/status" && r.Method == http.MethodGet {
		s.handleStatus(w, r)
		return
	}
	if r.URL.Path == "/v1/watch" && r.Method == http.MethodGet {
		s.handleWatch(w, r)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	switch {
	case len(parts) == 3 && parts[0] == "v1" && parts[1] == "entities" && r.Method == http.MethodGet:
		s.handleEntityList(w, r, parts[2])
	case len(parts) == 3 && parts[0] == "v1" && parts[1] == "entities" && (r.Method == http.MethodPost || r.Method == http.MethodPut):
		s.handleEntitySave(w, r, parts[2])
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "entities" && r.Method == http.MethodDelete:
		s.handleEntityDelete(w, r, parts[2], parts[3])
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "staff" && parts[3] == "cash" && r.Method == http.MethodGet:
		s.handleStaffCash(w, r, parts[2])
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	remoteKind := "none"
	if s.remote != nil {
		remoteKind = s.remote.Kind()
	}
	writeJSON(w, http.StatusOK, struct {
		SyncState      string `json:"syncState"`
		SnapshotMerges uint64 `json:"snapshotMerges"`
		OutboxDepth    int    `json:"outboxDepth"`
		OutboxCapacity int    `json:"outboxCapacity"`
		RemoteKind     string `json:"remoteKind"`
	}{
		SyncState:      s.sync.State().String(),
		SnapshotMerges: s.sync.Merges(),
		OutboxDepth:    s.outbox.Depth(),
		OutboxCapacity: s.outbox.Capacity(),
		RemoteKind:     remoteKind,
	})
}

func (s *Server) handleEntityList(w http.ResponseWriter, _ *http.Request, kind string) {
	switch kind {
	case ledger.KeyCustomers, ledger.KeyExpenses, ledger.KeyCollections,
		ledger.KeyStaff, ledger.KeyDealers, ledger.KeyZones,
		ledger.KeyAlerts, ledger.KeyStaffAlerts:
		raw := s.store.Get(kind)
		if len(raw) == 0 {
			raw = json.RawMessage(`[]`)
		}
		writeRaw(w, http.StatusOK, raw)
	case ledger.KeyAppSettings:
		writeJSON(w, http.StatusOK, s.repos.Settings.Get())
	case ledger.KeyCompanyDetails:
		writeJSON(w, http.StatusOK, s.repos.Company.Get())
	case ledger.KeyAdminProfile:
		writeJSON(w, http.StatusOK, s.repos.Profile.Get())
	case ledger.KeyNotificationSettings:
		writeJSON(w, http.StatusOK, s.repos.NotificationSettings.Get())
	case ledger.KeyMobilePermissions:
		writeJSON(w, http.StatusOK, s.repos.MobilePermissions.Get())
	case ledger.KeyAdminSecurity:
		writeJSON(w, http.StatusOK, s.repos.Security.Get())
	default:
		writeError(w, http.StatusNotFound, "unknown_kind", "unknown entity kind: "+kind)
	}
}

func (s *Server) handleEntitySave(w http.ResponseWriter, r *http.Request, kind string) {
	body := json.NewDecoder(r.Body)
	var saveErr string
	switch kind {
	case ledger.KeyCustomers:
		saveErr = saveRecord(body, s.repos.Customers)
	case ledger.KeyExpenses:
		saveErr = saveRecord(body, s.repos.Expenses)
	case ledger.KeyCollections:
		saveErr = saveRecord(body, s.repos.Collections)
	case ledger.KeyStaff:
		saveErr = saveRecord(body, s.repos.Staff)
	case ledger.KeyDealers:
		saveErr = saveRecord(body, s.repos.Dealers)
	case ledger.KeyZones:
		saveErr = saveRecord(body, s.repos.Zones)
	case ledger.KeyAlerts:
		saveErr = saveRecord(body, s.repos.Alerts)
	case ledger.KeyStaffAlerts:
		saveErr = saveRecord(body, s.repos.StaffAlerts)
	case ledger.KeyAppSettings:
		saveErr = saveSingleton(body, s.repos.Settings)
	case ledger.KeyCompanyDetails:
		saveErr = saveSingleton(body, s.repos.Company)
	case ledger.KeyAdminProfile:
		saveErr = saveSingleton(body, s.repos.Profile)
	case ledger.KeyNotificationSettings:
		saveErr = saveSingleton(body, s.repos.NotificationSettings)
	case ledger.KeyMobilePermissions:
		saveErr = saveSingleton(body, s.repos.MobilePermissions)
	case ledger.KeyAdminSecurity:
		saveErr = saveSingleton(body, s.repos.Security)
	default:
		writeError(w, http.StatusNotFound, "unknown_kind", "unknown entity kind: "+kind)
		return
	}
	if saveErr != "" {
		writeError(w, http.StatusBadRequest, "bad_request", saveErr)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func saveRecord[T ledger.Entity](body *json.Decoder, repo *ledger.ListRepo[T]) string {
	var item T
	if err := body.Decode(&item); err != nil {
		return "invalid json body"
	}
	if item.Key() == "" {
		return "record is missing an id"
	}
	repo.Save(item)
	return ""
}

func saveSingleton[T any](body *json.Decoder, repo *ledger.SingletonRepo[T]) string {
	var value T
	if err := body.Decode(&value); err != nil {
		return "invalid json body"
	}
	repo.Save(value)
	return ""
}

func (s *Server) handleEntityDelete(w http.ResponseWriter, _ *http.Request, kind, id string) {
	switch kind {
	case ledger.KeyCustomers:
		s.repos.Customers.Delete(id)
	case ledger.KeyExpenses:
		s.repos.Expenses.Delete(id)
	case ledger.KeyCollections:
		s.repos.Collections.Delete(id)
	case ledger.KeyStaff:
		s.repos.Staff.Delete(id)
	case ledger.KeyDealers:
		s.repos.Dealers.Delete(id)
	case ledger.KeyZones:
		s.repos.Zones.Delete(id)
	case ledger.KeyAlerts:
		s.repos.Alerts.Delete(id)
	case ledger.KeyStaffAlerts:
		s.repos.StaffAlerts.Delete(id)
	default:
		writeError(w, http.StatusNotFound, "unknown_kind", "unknown entity kind: "+kind)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleStaffCash(w http.ResponseWriter, _ *http.Request, name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing staff name")
		return
	}
	collections := s.repos.Collections.List()
	expenses := s.repos.Expenses.List()
	position := ledger.CashInHand(collections, expenses, name)
	writeJSON(w, http.StatusOK, struct {
		Staff         string              `json:"staff"`
		Cash          ledger.CashPosition `json:"cash"`
		OnlineTotal   string              `json:"onlineTotal"`
		WalletBalance string              `json:"walletBalance"`
	}{
		Staff:         name,
		Cash:          position,
		OnlineTotal:   ledger.LifetimeOnlineTotal(collections, name).String(),
		WalletBalance: ledger.WalletBalance(collections, name).String(),
	})
}

// handleWatch streams change-event names over a websocket. The feed is
// payload-less, same as the in-process bus: a client that receives
// "transactions-changed" re-fetches /v1/entities/collections.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events := make(chan ledger.ChangeEvent, 64)
	var cancels []func()
	for _, event := range watchedEvents() {
		event := event
		cancels = append(cancels, s.bus.Subscribe(event, func() {
			select {
			case events <- event:
			default:
			}
		}))
	}
	defer func() {
		for _, cancelSub := range cancels {
			cancelSub()
		}
	}()

	// Reads only detect disconnect; clients never send anything useful.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-events:
			if err := wsjson.Write(ctx, conn, map[string]string{"event": string(event)}); err != nil {
				return
			}
		}
	}
}

func watchedEvents() []ledger.ChangeEvent {
	return []ledger.ChangeEvent{
		ledger.EventCustomers,
		ledger.EventExpenses,
		ledger.EventCollections,
		ledger.EventStaff,
		ledger.EventDealers,
		ledger.EventZones,
		ledger.EventSettings,
		ledger.EventAlerts,
		ledger.EventStaffAlerts,
		ledger.EventSecurity,
		ledger.EventStorageReload,
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeRaw(w http.ResponseWriter, status int, data json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":    code,
		"message": message,
	})
}
