package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	wsOpPut      = "put"
	wsOpDelete   = "delete"
	wsOpWatch    = "watch"
	wsOpSnapshot = "snapshot"
)

var wsRedialDelay = time.Second

type wsMessage struct {
	Op         string          `json:"op"`
	Collection string          `json:"collection,omitempty"`
	Key        string          `json:"key,omitempty"`
	Doc        json.RawMessage `json:"doc,omitempty"`
	Documents  []Document      `json:"documents,omitempty"`
}

// WSRemoteStore speaks a small put/delete/watch protocol against a
// remote document service over one websocket connection. The service
// answers every watch with full per-collection snapshots, initially
// and on every remote mutation.
type WSRemoteStore struct {
	endpoint string
	logger   Logger

	mu        sync.Mutex
	writeMu   sync.Mutex
	conn      *websocket.Conn
	watchers  map[string][]chan []Document
	announced map[string]bool
	closed    bool
}

func NewWSRemoteStore(endpoint string, logger Logger) (*WSRemoteStore, error) {
	endpoint = strings.TrimSpace(endpoint)
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "ws" && scheme != "wss" {
		return nil, fmt.Errorf("%w: websocket endpoint %s", ErrInvalidInput, endpoint)
	}
	return &WSRemoteStore{
		endpoint:  endpoint,
		logger:    logger,
		watchers:  map[string][]chan []Document{},
		announced: map[string]bool{},
	}, nil
}

func (w *WSRemoteStore) Kind() string { return "websocket" }

func (w *WSRemoteStore) Put(ctx context.Context, collection, key string, doc json.RawMessage) error {
	if collection == "" || key == "" {
		return ErrInvalidInput
	}
	return w.send(ctx, wsMessage{Op: wsOpPut, Collection: collection, Key: key, Doc: doc})
}

func (w *WSRemoteStore) Delete(ctx context.Context, collection, key string) error {
	if collection == "" || key == "" {
		return ErrInvalidInput
	}
	return w.send(ctx, wsMessage{Op: wsOpDelete, Collection: collection, Key: key})
}

func (w *WSRemoteStore) Watch(ctx context.Context, collection string) (<-chan []Document, error) {
	if collection == "" {
		return nil, ErrInvalidInput
	}
	ch := make(chan []Document, 16)
	w.mu.Lock()
	w.watchers[collection] = append(w.watchers[collection], ch)
	w.mu.Unlock()
	if err := w.announce(ctx, collection); err != nil {
		return nil, err
	}
	return ch, nil
}

// announce sends the watch op for a collection unless the current
// connection already carries it; a fresh dial replays every registered
// collection itself.
func (w *WSRemoteStore) announce(ctx context.Context, collection string) error {
	conn, err := w.ensureConn(ctx)
	if err != nil {
		return err
	}
	w.mu.Lock()
	sent := w.announced[collection]
	w.announced[collection] = true
	w.mu.Unlock()
	if sent {
		return nil
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return wsjson.Write(ctx, conn, wsMessage{Op: wsOpWatch, Collection: collection})
}

func (w *WSRemoteStore) Close() error {
	w.mu.Lock()
	w.closed = true
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "")
	}
	return nil
}

func (w *WSRemoteStore) send(ctx context.Context, msg wsMessage) error {
	conn, err := w.ensureConn(ctx)
	if err != nil {
		return err
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return wsjson.Write(ctx, conn, msg)
}

func (w *WSRemoteStore) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrClosed
	}
	if w.conn != nil {
		return w.conn, nil
	}
	conn, _, err := websocket.Dial(ctx, w.endpoint, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(1 << 22)
	w.conn = conn
	w.announced = map[string]bool{}
	go w.readLoop(conn)

	// Replay watch registrations so watchers survive a redial; without
	// this the sync watchers stop receiving snapshots after the first
	// dropped connection.
	w.writeMu.Lock()
	for collection := range w.watchers {
		if err := wsjson.Write(ctx, conn, wsMessage{Op: wsOpWatch, Collection: collection}); err != nil {
			logf(w.logger, "websocket watch replay failed for %s: %v", collection, err)
			break
		}
		w.announced[collection] = true
	}
	w.writeMu.Unlock()
	return conn, nil
}

// redialLoop restores the connection after a read failure so watch
// registrations come back without waiting for the next outbound write.
func (w *WSRemoteStore) redialLoop() {
	for {
		time.Sleep(wsRedialDelay)
		w.mu.Lock()
		done := w.closed || w.conn != nil
		w.mu.Unlock()
		if done {
			return
		}
		_, err := w.ensureConn(context.Background())
		if err == nil || err == ErrClosed {
			return
		}
		logf(w.logger, "websocket redial failed: %v", err)
	}
}

func (w *WSRemoteStore) readLoop(conn *websocket.Conn) {
	for {
		var msg wsMessage
		if err := wsjson.Read(context.Background(), conn, &msg); err != nil {
			w.mu.Lock()
			closed := w.closed
			if w.conn == conn {
				w.conn = nil
			}
			w.mu.Unlock()
			if !closed {
				logf(w.logger, "websocket read failed: %v", err)
				go w.redialLoop()
			}
			return
		}
		if msg.Op != wsOpSnapshot || msg.Collection == "" {
			continue
		}
		w.mu.Lock()
		for _, ch := range w.watchers[msg.Collection] {
			select {
			case ch <- msg.Documents:
			default:
			}
		}
		w.mu.Unlock()
	}
}
