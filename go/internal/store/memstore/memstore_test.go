package memstore

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/jemima/go/internal/store"
)

func increment(ctx context.Context, tx store.Tx) error {
	snap, err := tx.Get(ctx, "counter")
	if err != nil {
		return err
	}
	n := 0
	if snap.Exists {
		n, _ = strconv.Atoi(string(snap.Data))
	}
	tx.Set("counter", []byte(strconv.Itoa(n+1)))
	return nil
}

func TestRunTransactionIsolatesConcurrentWriters(t *testing.T) {
	s := New(WithMaxAttempts(1000))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.RunTransaction(ctx, increment))
		}()
	}
	wg.Wait()

	snap, err := s.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, "20", string(snap.Data))
	assert.EqualValues(t, 20, snap.Version)
	assert.EqualValues(t, 20, s.Commits())
}

func TestRunTransactionCallbackErrorWritesNothing(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		tx.Set("a", []byte("1"))
		return boom
	})
	require.ErrorIs(t, err, boom)

	snap, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, snap.Exists)
	assert.Zero(t, s.Commits())
}

func TestRunTransactionReadOwnWrites(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		tx.Set("a", []byte("x"))
		snap, err := tx.Get(ctx, "a")
		if err != nil {
			return err
		}
		assert.Equal(t, "x", string(snap.Data))
		return nil
	})
	require.NoError(t, err)
}

func TestRunTransactionConflictExhausted(t *testing.T) {
	s := New(WithMaxAttempts(3))
	ctx := context.Background()
	calls := 0

	err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		calls++
		if _, err := tx.Get(ctx, "a"); err != nil {
			return err
		}
		// a competing writer commits between our read and our commit
		require.NoError(t, s.RunTransaction(ctx, func(ctx context.Context, inner store.Tx) error {
			inner.Set("a", []byte(strconv.Itoa(calls)))
			return nil
		}))
		tx.Set("a", []byte("mine"))
		return nil
	})
	require.ErrorIs(t, err, store.ErrConflict)
	assert.Equal(t, 3, calls)
}

func TestSubscribeDeliversCurrentThenChanges(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Subscribe(ctx, "counter")
	require.NoError(t, err)

	first := <-ch
	assert.False(t, first.Exists)

	require.NoError(t, s.RunTransaction(ctx, increment))
	next := <-ch
	assert.True(t, next.Exists)
	assert.Equal(t, "1", string(next.Data))
}

func TestSubscribeKeepsLatestForSlowReader(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Subscribe(ctx, "counter")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.RunTransaction(ctx, increment))
	}

	snap := <-ch
	assert.Equal(t, "5", string(snap.Data))
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra snapshot %q", extra.Data)
	default:
	}
}

func TestSubscribeClosesOnCancel(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := s.Subscribe(ctx, "k")
	require.NoError(t, err)
	<-ch
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestClosedStoreRejectsCalls(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())

	_, err := s.Get(context.Background(), "k")
	assert.ErrorIs(t, err, store.ErrClosed)
	_, err = s.Subscribe(context.Background(), "k")
	assert.ErrorIs(t, err, store.ErrClosed)
}
