package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// wsTestServer is a minimal in-test document service speaking the
// put/delete/watch/snapshot protocol.
type wsTestServer struct {
	mu      sync.Mutex
	docs    map[string]map[string]json.RawMessage
	watched map[string]bool
}

func newWSTestServer() *wsTestServer {
	return &wsTestServer{
		docs:    map[string]map[string]json.RawMessage{},
		watched: map[string]bool{},
	}
}

func (s *wsTestServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()
		for {
			var msg wsMessage
			if err := wsjson.Read(ctx, conn, &msg); err != nil {
				return
			}
			s.mu.Lock()
			switch msg.Op {
			case wsOpPut:
				coll := s.docs[msg.Collection]
				if coll == nil {
					coll = map[string]json.RawMessage{}
					s.docs[msg.Collection] = coll
				}
				coll[msg.Key] = msg.Doc
			case wsOpDelete:
				delete(s.docs[msg.Collection], msg.Key)
			case wsOpWatch:
				s.watched[msg.Collection] = true
			}
			reply := msg.Op == wsOpWatch || (s.watched[msg.Collection] && msg.Op != wsOpSnapshot)
			var snapshot []Document
			if reply {
				for key, doc := range s.docs[msg.Collection] {
					snapshot = append(snapshot, Document{Key: key, Data: doc})
				}
			}
			s.mu.Unlock()
			if reply {
				out := wsMessage{Op: wsOpSnapshot, Collection: msg.Collection, Documents: snapshot}
				if err := wsjson.Write(ctx, conn, out); err != nil {
					return
				}
			}
		}
	}
}

func startWSRemote(t *testing.T) (*wsTestServer, *WSRemoteStore) {
	t.Helper()
	server := newWSTestServer()
	httpServer := httptest.NewServer(server.handler())
	t.Cleanup(httpServer.Close)
	endpoint := "ws" + strings.TrimPrefix(httpServer.URL, "http")
	store, err := NewWSRemoteStore(endpoint, nil)
	if err != nil {
		t.Fatalf("new websocket remote store failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return server, store
}

func TestWSRemoteStoreRejectsNonWebsocketEndpoint(t *testing.T) {
	if _, err := NewWSRemoteStore("http://example.com", nil); err == nil {
		t.Fatalf("expected error for http endpoint")
	}
	if _, err := NewWSRemoteStore("not a url at all ://", nil); err == nil {
		t.Fatalf("expected error for unparsable endpoint")
	}
}

func TestWSRemoteStorePutReachesServer(t *testing.T) {
	server, store := startWSRemote(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.Put(ctx, KeyCustomers, "c1", json.RawMessage(`{"id":"c1"}`)); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		server.mu.Lock()
		_, ok := server.docs[KeyCustomers]["c1"]
		server.mu.Unlock()
		if ok {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("expected document to reach the server")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestWSRemoteStoreWatchDeliversSnapshots(t *testing.T) {
	_, store := startWSRemote(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snapshots, err := store.Watch(ctx, KeyStaff)
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}

	// Initial snapshot of the (empty) collection answers the watch.
	select {
	case docs := <-snapshots:
		if len(docs) != 0 {
			t.Fatalf("expected empty initial snapshot, got %+v", docs)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected initial snapshot")
	}

	if err := store.Put(ctx, KeyStaff, "s1", json.RawMessage(`{"id":"s1"}`)); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	select {
	case docs := <-snapshots:
		if len(docs) != 1 || docs[0].Key != "s1" {
			t.Fatalf("expected snapshot with s1, got %+v", docs)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected snapshot after put")
	}
}

func TestWSRemoteStoreReplaysWatchesAfterReconnect(t *testing.T) {
	_, store := startWSRemote(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snapshots, err := store.Watch(ctx, KeyStaff)
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}
	select {
	case docs := <-snapshots:
		if len(docs) != 0 {
			t.Fatalf("expected empty initial snapshot, got %+v", docs)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected initial snapshot")
	}

	// Kill the connection out from under the store and wait until the
	// read loop has noticed the loss.
	store.mu.Lock()
	conn := store.conn
	store.mu.Unlock()
	_ = conn.Close(websocket.StatusGoingAway, "server restart")
	deadline := time.After(2 * time.Second)
	for {
		store.mu.Lock()
		idle := store.conn == nil
		store.mu.Unlock()
		if idle {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected store to drop the dead connection")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// The next write redials; the watch registration must come back
	// with it so the existing watcher sees the new document.
	if err := store.Put(ctx, KeyStaff, "s1", json.RawMessage(`{"id":"s1"}`)); err != nil {
		t.Fatalf("put after reconnect failed: %v", err)
	}
	expire := time.After(3 * time.Second)
	for {
		select {
		case docs := <-snapshots:
			for _, doc := range docs {
				if doc.Key == "s1" {
					return
				}
			}
		case <-expire:
			t.Fatalf("expected snapshot with s1 after reconnect")
		}
	}
}

func TestWSRemoteStoreClosedRefusesWrites(t *testing.T) {
	_, store := startWSRemote(t)
	if err := store.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	err := store.Put(context.Background(), KeyCustomers, "c1", json.RawMessage(`{}`))
	if err == nil {
		t.Fatalf("expected error after close")
	}
}
