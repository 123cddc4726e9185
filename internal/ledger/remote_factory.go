package ledger

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildRemoteStoreFromDSN picks a remote document store backend by
// scheme. An empty DSN yields nil: local-only operation, with the
// outbox writing into the void and sync never starting.
func BuildRemoteStoreFromDSN(dsn string, logger Logger) (RemoteStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(parsed.Scheme)) {
	case "memory", "mem", "inmem":
		return NewMemoryRemoteStore(), nil
	case "postgres", "postgresql":
		return NewPostgresRemoteStore(dsn, logger)
	case "ws", "wss":
		return NewWSRemoteStore(dsn, logger)
	default:
		return nil, fmt.Errorf("unsupported remote store scheme: %s", parsed.Scheme)
	}
}
