package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
)

const (
	postgresDocumentsTableName = "ledger_documents"
	postgresNotifyChannel      = "ledger_changes"
	postgresOperationTimeout   = 5 * time.Second
	postgresReconnectMin       = time.Second
	postgresReconnectMax       = 30 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresRemoteStore keeps one row per (collection, document key)
// with a JSONB payload. Watch wakes on LISTEN/NOTIFY and re-reads the
// full collection, so every delivery is a complete snapshot.
type PostgresRemoteStore struct {
	dsn       string
	tableName string
	channel   string
	logger    Logger
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB

	listenOnce sync.Once
	listener   *pq.Listener

	mu     sync.Mutex
	wakers map[string][]chan struct{}
}

func NewPostgresRemoteStore(dsn string, logger Logger) (*PostgresRemoteStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresRemoteStore{
		dsn:       dsn,
		tableName: postgresDocumentsTableName,
		channel:   postgresNotifyChannel,
		logger:    logger,
		openDB:    sql.Open,
		wakers:    map[string][]chan struct{}{},
	}, nil
}

func (p *PostgresRemoteStore) Kind() string { return "postgres" }

func (p *PostgresRemoteStore) Put(ctx context.Context, collection, key string, doc json.RawMessage) error {
	if p == nil || collection == "" || key == "" {
		return ErrInvalidInput
	}
	if err := p.ensureReady(); err != nil {
		return err
	}
	if len(doc) == 0 {
		doc = json.RawMessage("null")
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (collection, doc_key, doc, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (collection, doc_key)
		DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()`, postgresQuoteIdentifier(p.tableName))
	if _, err := p.db.ExecContext(ctx, query, collection, key, string(doc)); err != nil {
		return err
	}
	return p.notify(ctx, collection)
}

func (p *PostgresRemoteStore) Delete(ctx context.Context, collection, key string) error {
	if p == nil || collection == "" || key == "" {
		return ErrInvalidInput
	}
	if err := p.ensureReady(); err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE collection = $1 AND doc_key = $2", postgresQuoteIdentifier(p.tableName))
	if _, err := p.db.ExecContext(ctx, query, collection, key); err != nil {
		return err
	}
	return p.notify(ctx, collection)
}

func (p *PostgresRemoteStore) notify(ctx context.Context, collection string) error {
	_, err := p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", p.channel, collection)
	return err
}

func (p *PostgresRemoteStore) Watch(ctx context.Context, collection string) (<-chan []Document, error) {
	if p == nil || collection == "" {
		return nil, ErrInvalidInput
	}
	if err := p.ensureReady(); err != nil {
		return nil, err
	}
	p.ensureListener()

	wake := make(chan struct{}, 1)
	p.mu.Lock()
	p.wakers[collection] = append(p.wakers[collection], wake)
	p.mu.Unlock()

	out := make(chan []Document, 4)
	go func() {
		defer close(out)
		p.deliverSnapshot(ctx, collection, out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-wake:
				p.deliverSnapshot(ctx, collection, out)
			}
		}
	}()
	return out, nil
}

func (p *PostgresRemoteStore) deliverSnapshot(ctx context.Context, collection string, out chan<- []Document) {
	snapshot, err := p.querySnapshot(ctx, collection)
	if err != nil {
		logf(p.logger, "snapshot query for %s failed: %v", collection, err)
		return
	}
	select {
	case out <- snapshot:
	case <-ctx.Done():
	}
}

func (p *PostgresRemoteStore) querySnapshot(ctx context.Context, collection string) ([]Document, error) {
	queryCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf(
		"SELECT doc_key, doc FROM %s WHERE collection = $1 ORDER BY doc_key",
		postgresQuoteIdentifier(p.tableName),
	)
	rows, err := p.db.QueryContext(queryCtx, query, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snapshot := make([]Document, 0)
	for rows.Next() {
		var key, doc string
		if err := rows.Scan(&key, &doc); err != nil {
			return nil, err
		}
		snapshot = append(snapshot, Document{Key: key, Data: json.RawMessage(doc)})
	}
	return snapshot, rows.Err()
}

func (p *PostgresRemoteStore) ensureReady() error {
	if p == nil {
		return ErrInvalidInput
	}
	p.initOnce.Do(func() {
		db, err := p.openDB("postgres", p.dsn)
		if err != nil {
			p.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()
		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				collection TEXT NOT NULL,
				doc_key TEXT NOT NULL,
				doc JSONB NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (collection, doc_key)
			)`, postgresQuoteIdentifier(p.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			p.initErr = err
			return
		}
		p.db = db
	})
	return p.initErr
}

func (p *PostgresRemoteStore) ensureListener() {
	p.listenOnce.Do(func() {
		listener := pq.NewListener(p.dsn, postgresReconnectMin, postgresReconnectMax, func(event pq.ListenerEventType, err error) {
			if err != nil {
				logf(p.logger, "postgres listener event %d: %v", event, err)
			}
		})
		if err := listener.Listen(p.channel); err != nil {
			logf(p.logger, "listen %s failed: %v", p.channel, err)
			_ = listener.Close()
			return
		}
		p.listener = listener
		go func() {
			for notification := range listener.Notify {
				if notification == nil {
					// Reconnect: state may have moved, wake everyone.
					p.wakeAll()
					continue
				}
				p.wakeCollection(notification.Extra)
			}
		}()
	})
}

func (p *PostgresRemoteStore) wakeCollection(collection string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, wake := range p.wakers[collection] {
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}

func (p *PostgresRemoteStore) wakeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, wakers := range p.wakers {
		for _, wake := range wakers {
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}
}

func (p *PostgresRemoteStore) Close() error {
	if p == nil {
		return nil
	}
	if p.listener != nil {
		_ = p.listener.Close()
	}
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
