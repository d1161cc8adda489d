// Package memstore is an in-process store.Store with optimistic
// concurrency control. Every read in a transaction is re-validated at
// commit; a changed version discards the attempt and re-runs the callback.
package memstore

import (
	"context"
	"errors"
	"sync"

	"github.com/mcdev12/jemima/go/internal/store"
)

type document struct {
	data    []byte
	version int64
}

type Store struct {
	mu          sync.Mutex
	docs        map[string]document
	subs        map[string]map[*subscriber]struct{}
	maxAttempts int
	closed      bool
	commits     int64
}

type Option func(*Store)

// WithMaxAttempts overrides store.DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(s *Store) { s.maxAttempts = n }
}

func New(opts ...Option) *Store {
	s := &Store{
		docs:        make(map[string]document),
		subs:        make(map[string]map[*subscriber]struct{}),
		maxAttempts: store.DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Get(ctx context.Context, key string) (store.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return store.Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.Snapshot{}, store.ErrClosed
	}
	return s.snapshotLocked(key), nil
}

// Commits returns the number of successful transactions that wrote at least one document.
func (s *Store) Commits() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func (s *Store) RunTransaction(ctx context.Context, fn store.TxFunc) error {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := &txn{store: s, reads: make(map[string]int64), writes: make(map[string][]byte)}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		err := s.commit(tx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errStale) {
			return err
		}
	}
	return store.ErrConflict
}

var errStale = errors.New("stale read")

func (s *Store) commit(tx *txn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	for key, version := range tx.reads {
		if s.docs[key].version != version {
			return errStale
		}
	}
	if len(tx.order) == 0 {
		return nil
	}
	for _, key := range tx.order {
		doc := s.docs[key]
		s.docs[key] = document{data: tx.writes[key], version: doc.version + 1}
	}
	s.commits++
	for _, key := range tx.order {
		snap := s.snapshotLocked(key)
		for sub := range s.subs[key] {
			sub.offer(snap)
		}
	}
	return nil
}

func (s *Store) Subscribe(ctx context.Context, key string) (<-chan store.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	sub := &subscriber{ch: make(chan store.Snapshot, 1)}
	if s.subs[key] == nil {
		s.subs[key] = make(map[*subscriber]struct{})
	}
	s.subs[key][sub] = struct{}{}
	sub.offer(s.snapshotLocked(key))

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[key][sub]; ok {
			delete(s.subs[key], sub)
			close(sub.ch)
		}
	}()
	return sub.ch, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for key, subs := range s.subs {
		for sub := range subs {
			close(sub.ch)
		}
		delete(s.subs, key)
	}
	return nil
}

func (s *Store) snapshotLocked(key string) store.Snapshot {
	doc, ok := s.docs[key]
	if !ok {
		return store.Snapshot{Key: key}
	}
	data := make([]byte, len(doc.data))
	copy(data, doc.data)
	return store.Snapshot{Key: key, Data: data, Exists: true, Version: doc.version}
}

type txn struct {
	store  *Store
	reads  map[string]int64
	writes map[string][]byte
	order  []string
}

func (t *txn) Get(ctx context.Context, key string) (store.Snapshot, error) {
	if data, ok := t.writes[key]; ok {
		return store.Snapshot{Key: key, Data: data, Exists: true}, nil
	}
	snap, err := t.store.Get(ctx, key)
	if err != nil {
		return snap, err
	}
	if _, seen := t.reads[key]; !seen {
		t.reads[key] = snap.Version
	}
	return snap, nil
}

func (t *txn) Set(key string, data []byte) {
	if _, ok := t.writes[key]; !ok {
		t.order = append(t.order, key)
	}
	t.writes[key] = data
}

// subscriber holds at most one pending snapshot. offer is only called
// with the store mutex held, so a drained buffer always has room.
type subscriber struct {
	ch chan store.Snapshot
}

func (s *subscriber) offer(snap store.Snapshot) {
	select {
	case <-s.ch:
	default:
	}
	s.ch <- snap
}
