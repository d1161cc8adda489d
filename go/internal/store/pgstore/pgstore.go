// Package pgstore keeps documents in a single Postgres table. Each commit
// bumps the row version and emits pg_notify(key@version) so listeners on
// other processes learn about it.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/jemima/go/internal/changefeed"
	"github.com/mcdev12/jemima/go/internal/sqlutil"
	"github.com/mcdev12/jemima/go/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    key        TEXT PRIMARY KEY,
    body       JSONB NOT NULL,
    version    BIGINT NOT NULL DEFAULT 1,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS documents_updated_at_idx ON documents (updated_at);
`

type Config struct {
	NotifyChannel string
	MaxAttempts   int
	// PollInterval re-reads subscribed keys in case a notification was lost.
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.NotifyChannel == "" {
		c.NotifyChannel = changefeed.DefaultNotifyChannel
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = store.DefaultMaxAttempts
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	return c
}

type Store struct {
	pool *pgxpool.Pool
	hub  *changefeed.Hub
	cfg  Config
}

// New wraps pool. hub may be nil, in which case subscriptions only poll.
// The caller runs the hub.
func New(pool *pgxpool.Pool, hub *changefeed.Hub, cfg Config) *Store {
	return &Store{pool: pool, hub: hub, cfg: cfg.withDefaults()}
}

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Migrate creates the documents table if needed.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate documents: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (store.Snapshot, error) {
	return get(ctx, s.pool, key, false)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func get(ctx context.Context, q querier, key string, lock bool) (store.Snapshot, error) {
	query := `SELECT body::text, version FROM documents WHERE key = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var (
		body    string
		version int64
	)
	err := q.QueryRow(ctx, query, key).Scan(&body, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Snapshot{Key: key}, nil
	}
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("select %s: %w", key, err)
	}
	return store.Snapshot{Key: key, Data: []byte(body), Exists: true, Version: version}, nil
}

func (s *Store) RunTransaction(ctx context.Context, fn store.TxFunc) error {
	err := sqlutil.RunSerializable(ctx, s.pool, s.cfg.MaxAttempts, func(ptx pgx.Tx) error {
		tx := &txn{ptx: ptx, writes: make(map[string][]byte)}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return s.flush(ctx, tx)
	})
	if errors.Is(err, sqlutil.ErrRetriesExhausted) {
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	return err
}

func (s *Store) flush(ctx context.Context, tx *txn) error {
	for _, key := range tx.order {
		var version int64
		err := tx.ptx.QueryRow(ctx, `
			INSERT INTO documents (key, body, version, updated_at)
			VALUES ($1, $2::jsonb, 1, now())
			ON CONFLICT (key) DO UPDATE
			SET body = EXCLUDED.body, version = documents.version + 1, updated_at = now()
			RETURNING version`, key, string(tx.writes[key])).Scan(&version)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", key, err)
		}
		if _, err := tx.ptx.Exec(ctx, `SELECT pg_notify($1, $2)`, s.cfg.NotifyChannel, changefeed.Payload(key, version)); err != nil {
			return fmt.Errorf("notify %s: %w", key, err)
		}
	}
	return nil
}

// Subscribe re-reads key whenever the hub reports a change for it and on
// every poll tick. Unchanged versions are not re-delivered.
func (s *Store) Subscribe(ctx context.Context, key string) (<-chan store.Snapshot, error) {
	first, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var changes <-chan changefeed.Change
	if s.hub != nil {
		changes = s.hub.Watch(ctx, key)
	}

	out := make(chan store.Snapshot, 1)
	out <- first
	go func() {
		defer close(out)
		ticker := time.NewTicker(s.cfg.PollInterval)
		defer ticker.Stop()

		last := first.Version
		push := func() {
			snap, err := s.Get(ctx, key)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn().Err(err).Str("key", key).Msg("subscription re-read failed")
				}
				return
			}
			if snap.Version == last {
				return
			}
			last = snap.Version
			select {
			case <-out:
			default:
			}
			out <- snap
		}

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					changes = nil
					continue
				}
				push()
			case <-ticker.C:
				push()
			}
		}
	}()
	return out, nil
}

// ChangedSince lets the relay catch up on notifications it missed.
func (s *Store) ChangedSince(ctx context.Context, since time.Time, limit int) ([]changefeed.Change, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT key, version, updated_at FROM documents
		WHERE updated_at >= $1
		ORDER BY updated_at
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	defer rows.Close()

	var changes []changefeed.Change
	for rows.Next() {
		var c changefeed.Change
		if err := rows.Scan(&c.Key, &c.Version, &c.At); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

type txn struct {
	ptx    pgx.Tx
	writes map[string][]byte
	order  []string
}

func (t *txn) Get(ctx context.Context, key string) (store.Snapshot, error) {
	if data, ok := t.writes[key]; ok {
		return store.Snapshot{Key: key, Data: data, Exists: true}, nil
	}
	return get(ctx, t.ptx, key, true)
}

func (t *txn) Set(key string, data []byte) {
	if _, ok := t.writes[key]; !ok {
		t.order = append(t.order, key)
	}
	t.writes[key] = data
}

var (
	_ store.Store       = (*Store)(nil)
	_ changefeed.Source = (*Store)(nil)
)
