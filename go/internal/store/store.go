// Package store defines the shared document store the match clients
// coordinate through, plus typed helpers for the room, round and player
// documents.
package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrConflict = errors.New("transaction conflict: retries exhausted")
	ErrClosed   = errors.New("store closed")

	// ErrSkip aborts a transaction callback without writing anything.
	ErrSkip = errors.New("transaction skipped")
)

// DefaultMaxAttempts bounds how many times a transaction callback is re-run on conflict.
const DefaultMaxAttempts = 8

// Snapshot is a point-in-time read of one document.
type Snapshot struct {
	Key     string
	Data    []byte
	Exists  bool
	Version int64
}

// Getter reads a document by key. Missing documents return a snapshot
// with Exists false and a nil error.
type Getter interface {
	Get(ctx context.Context, key string) (Snapshot, error)
}

// Tx is the view a transaction callback has of the store. Reads are
// validated at commit time and writes are buffered until then.
type Tx interface {
	Getter
	Set(key string, data []byte)
}

// TxFunc may be invoked several times; it must have no side effects
// outside the Tx it is given.
type TxFunc func(ctx context.Context, tx Tx) error

type Store interface {
	Getter

	// RunTransaction runs fn in an isolated read-modify-write transaction,
	// retrying on conflict. If fn returns an error nothing is written and
	// the error is returned unchanged.
	RunTransaction(ctx context.Context, fn TxFunc) error

	// Subscribe delivers the current snapshot of key and then one snapshot
	// per committed change. Slow receivers only see the latest snapshot.
	// The channel closes when ctx is done.
	Subscribe(ctx context.Context, key string) (<-chan Snapshot, error)

	Close() error
}
