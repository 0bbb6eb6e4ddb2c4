// Package kv is the local key-value store that backs memo and theme
// persistence. Values are opaque byte slices stored under string keys.
package kv

import (
	"errors"
	"fmt"
)

const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
	BackendMemory = "memory"
)

// ErrPersistenceUnavailable is returned when the backing storage cannot be
// read or written. Callers treat it as non-fatal.
var ErrPersistenceUnavailable = errors.New("persistence unavailable")

// Store is a string-keyed blob store. Get reports ok=false for absent keys.
type Store interface {
	Get(key string) (value []byte, ok bool, err error)
	Set(key string, value []byte) error
	Close() error
}

// Open returns the backend named by kind rooted at dir.
func Open(kind, dir string) (Store, error) {
	switch kind {
	case BackendSQLite:
		return OpenSQLite(dir)
	case BackendFile:
		return OpenDir(dir)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", kind)
	}
}

func unavailable(op, key string, err error) error {
	return fmt.Errorf("kv %s %q: %w: %w", op, key, ErrPersistenceUnavailable, err)
}
