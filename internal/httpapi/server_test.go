package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/collectops/ledgersync/internal/ledger"
)

func newTestServer(t *testing.T) (*Server, *ledger.MemoryRemoteStore) {
	t.Helper()
	store, err := ledger.OpenStore(filepath.Join(t.TempDir(), "state.json"), nil)
	if err != nil {
		t.Fatalf("open store failed: %v", err)
	}
	bus := ledger.NewBus()
	remote := ledger.NewMemoryRemoteStore()
	metrics := NewMetrics(nil)
	outbox := ledger.NewOutbox(ledger.OutboxOptions{Remote: remote, Notifier: metrics})
	t.Cleanup(outbox.Close)
	repos := ledger.NewRepositories(ledger.Deps{Store: store, Bus: bus, Outbox: outbox})
	syncManager := ledger.NewSyncManager(ledger.SyncOptions{
		Store:   store,
		Bus:     bus,
		Remote:  remote,
		OnMerge: metrics.SnapshotMerged,
	})
	return NewServer(ServerOptions{
		Repos:   repos,
		Store:   store,
		Bus:     bus,
		Outbox:  outbox,
		Sync:    syncManager,
		Remote:  remote,
		Metrics: metrics,
	}), remote
}

func doJSON(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doJSON(t, server, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doJSON(t, server, http.MethodGet, "/v1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var status struct {
		SyncState      string `json:"syncState"`
		OutboxCapacity int    `json:"outboxCapacity"`
		RemoteKind     string `json:"remoteKind"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.SyncState != "not-started" {
		t.Fatalf("expected not-started before Start, got %s", status.SyncState)
	}
	if status.RemoteKind != "memory" {
		t.Fatalf("expected memory remote kind, got %s", status.RemoteKind)
	}
	if status.OutboxCapacity == 0 {
		t.Fatalf("expected non-zero outbox capacity")
	}
}

func TestEntityLifecycle(t *testing.T) {
	server, _ := newTestServer(t)

	create := doJSON(t, server, http.MethodPost, "/v1/entities/customers", ledger.Customer{ID: "c1", Name: "Ramesh"})
	if create.Code != http.StatusAccepted {
		t.Fatalf("expected 202 on save, got %d (%s)", create.Code, create.Body.String())
	}

	list := doJSON(t, server, http.MethodGet, "/v1/entities/customers", nil)
	if list.Code != http.StatusOK {
		t.Fatalf("expected 200 on list, got %d", list.Code)
	}
	var customers []ledger.Customer
	if err := json.NewDecoder(list.Body).Decode(&customers); err != nil {
		t.Fatalf("decode customers: %v", err)
	}
	if len(customers) != 1 || customers[0].Name != "Ramesh" {
		t.Fatalf("expected saved customer back, got %+v", customers)
	}

	del := doJSON(t, server, http.MethodDelete, "/v1/entities/customers/c1", nil)
	if del.Code != http.StatusAccepted {
		t.Fatalf("expected 202 on delete, got %d", del.Code)
	}
	list = doJSON(t, server, http.MethodGet, "/v1/entities/customers", nil)
	customers = nil
	if err := json.NewDecoder(list.Body).Decode(&customers); err != nil {
		t.Fatalf("decode customers after delete: %v", err)
	}
	if len(customers) != 0 {
		t.Fatalf("expected empty list after delete, got %+v", customers)
	}
}

func TestEntitySaveRejectsMissingID(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doJSON(t, server, http.MethodPost, "/v1/entities/zones", ledger.Zone{Name: "no id"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing id, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestEntityUnknownKind(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doJSON(t, server, http.MethodGet, "/v1/entities/unknown", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown kind, got %d", rec.Code)
	}
}

func TestSingletonEntityEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	get := doJSON(t, server, http.MethodGet, "/v1/entities/app_settings", nil)
	if get.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", get.Code)
	}
	var settings ledger.AppSettings
	if err := json.NewDecoder(get.Body).Decode(&settings); err != nil {
		t.Fatalf("decode settings: %v", err)
	}
	if settings.Currency != "INR" {
		t.Fatalf("expected default currency, got %+v", settings)
	}

	settings.Theme = "dark"
	save := doJSON(t, server, http.MethodPut, "/v1/entities/app_settings", settings)
	if save.Code != http.StatusAccepted {
		t.Fatalf("expected 202 on singleton save, got %d (%s)", save.Code, save.Body.String())
	}
	get = doJSON(t, server, http.MethodGet, "/v1/entities/app_settings", nil)
	if err := json.NewDecoder(get.Body).Decode(&settings); err != nil {
		t.Fatalf("decode settings after save: %v", err)
	}
	if settings.Theme != "dark" {
		t.Fatalf("expected saved theme back, got %+v", settings)
	}
}

func TestStaffCashEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	saves := []ledger.Collection{
		{ID: "1000", Customer: "Shop A", Staff: "Vijay", Amount: "500", Status: "Paid", Mode: "Cash", Date: "2026-08-01", Time: "10:00"},
		{ID: "2000", Customer: "HANDOVER:Vijay", Amount: "500", Status: "Paid", Date: "2026-08-01", Time: "18:00"},
		{ID: "3000", Customer: "Shop B", Staff: "Vijay", Amount: "300", Status: "Paid", Mode: "Cash", Date: "2026-08-02", Time: "11:00"},
		{ID: "4000", Customer: "Shop C", Staff: "Vijay", Amount: "250", Status: "Paid", Mode: "UPI", Date: "2026-08-02", Time: "12:00"},
	}
	for _, c := range saves {
		rec := doJSON(t, server, http.MethodPost, "/v1/entities/collections", c)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected 202 saving collection, got %d (%s)", rec.Code, rec.Body.String())
		}
	}

	rec := doJSON(t, server, http.MethodGet, "/v1/staff/Vijay/cash", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var payload struct {
		Staff string `json:"staff"`
		Cash  struct {
			LastHandoverAt int64  `json:"lastHandoverAt"`
			Net            string `json:"net"`
		} `json:"cash"`
		OnlineTotal string `json:"onlineTotal"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode cash payload: %v", err)
	}
	if payload.Cash.LastHandoverAt != 2000 {
		t.Fatalf("expected handover at 2000, got %d", payload.Cash.LastHandoverAt)
	}
	if payload.Cash.Net != "300" {
		t.Fatalf("expected 300 in hand, got %s", payload.Cash.Net)
	}
	if payload.OnlineTotal != "250" {
		t.Fatalf("expected 250 online total, got %s", payload.OnlineTotal)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	server.metrics.SnapshotMerged(ledger.KeyCollections)

	rec := doJSON(t, server, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on metrics, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ledgersync_snapshot_merges_total") {
		t.Fatalf("expected merge counter in metrics output")
	}
}

func TestWatchStreamsChangeEvents(t *testing.T) {
	server, _ := newTestServer(t)
	httpServer := httptest.NewServer(server)
	defer httpServer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	endpoint := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/v1/watch"
	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		t.Fatalf("dial watch endpoint failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Give the handler a moment to register its subscriptions.
	time.Sleep(50 * time.Millisecond)
	rec := doJSON(t, server, http.MethodPost, "/v1/entities/collections", ledger.Collection{ID: "100", Customer: "A", Amount: "10", Status: "Paid"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 saving collection, got %d", rec.Code)
	}

	var msg map[string]string
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read watch message failed: %v", err)
	}
	if msg["event"] != string(ledger.EventCollections) {
		t.Fatalf("expected transactions-changed event, got %v", msg)
	}
}
