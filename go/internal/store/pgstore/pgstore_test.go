package pgstore

import (
	"context"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/jemima/go/internal/changefeed"
	"github.com/mcdev12/jemima/go/internal/store"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, changefeed.DefaultNotifyChannel, cfg.NotifyChannel)
	assert.Equal(t, store.DefaultMaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)

	cfg = Config{NotifyChannel: "x", MaxAttempts: 2, PollInterval: time.Second}.withDefaults()
	assert.Equal(t, Config{NotifyChannel: "x", MaxAttempts: 2, PollInterval: time.Second}, cfg)
}

// openTestStore needs a disposable database in JEMIMA_TEST_POSTGRES_DSN.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("JEMIMA_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("JEMIMA_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, Migrate(ctx, pool))
	s := New(pool, nil, Config{PollInterval: 50 * time.Millisecond, MaxAttempts: 32})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConcurrentIncrementsPostgres(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := "test/" + uuid.NewString()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
				snap, err := tx.Get(ctx, key)
				if err != nil {
					return err
				}
				n := 0
				if snap.Exists {
					n, _ = strconv.Atoi(string(snap.Data))
				}
				tx.Set(key, []byte(strconv.Itoa(n+1)))
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	snap, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "8", string(snap.Data))
	assert.EqualValues(t, 8, snap.Version)

	changes, err := s.ChangedSince(ctx, time.Now().Add(-time.Minute), 1000)
	require.NoError(t, err)
	found := false
	for _, c := range changes {
		if c.Key == key {
			found = true
		}
	}
	assert.True(t, found)
}

func TestSubscribePollsPostgres(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	key := "test/" + uuid.NewString()

	ch, err := s.Subscribe(ctx, key)
	require.NoError(t, err)
	first := <-ch
	assert.False(t, first.Exists)

	require.NoError(t, s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		tx.Set(key, []byte(`{"n":1}`))
		return nil
	}))
	select {
	case snap := <-ch:
		assert.True(t, snap.Exists)
		assert.JSONEq(t, `{"n":1}`, string(snap.Data))
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot after commit")
	}
}
