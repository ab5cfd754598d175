// Package storage implements snapshot persistence backends for the
// coordinator. A backend holds the last exported variable set so a restart
// restores registrations and committed values.
package storage

import (
	"fmt"

	"github.com/varhub/varhub/internal/protocol"
)

// Backend persists coordinator snapshots.
type Backend interface {
	// ReplaceAll atomically replaces the stored snapshot.
	ReplaceAll(vars []protocol.WireVariable) error

	// LoadAll returns the stored snapshot, empty when nothing was saved.
	LoadAll() ([]protocol.WireVariable, error)

	// Close closes the backend.
	Close() error
}

// New creates a backend by name. Supported: "memory", "sqlite", "postgres".
func New(backend, path, dsn string) (Backend, error) {
	switch backend {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "sqlite":
		if path == "" {
			return nil, fmt.Errorf("sqlite backend requires a path")
		}
		return NewSQLiteStorage(path)
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("postgres backend requires a dsn")
		}
		return NewPostgresStorage(dsn)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
