package mongostore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/jemima/go/internal/store"
)

func TestBodyRoundTrip(t *testing.T) {
	in := `{"state":"questions","round":2,"meta":{"hostId":"h1","guestId":"g1"},` +
		`"answers":{"host":{"2":["Mars","56",""]}},"timestamps":{"updatedAt":1700000000123},` +
		`"flag":true,"missing":null,"ms":1000.5}`
	body, err := encodeBody([]byte(in))
	require.NoError(t, err)
	out, err := decodeBody(body)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
}

func TestEmptyBody(t *testing.T) {
	out, err := decodeBody(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(out))
}

// Needs a replica set in JEMIMA_TEST_MONGO_URI.
func TestTransactionsMongo(t *testing.T) {
	uri := os.Getenv("JEMIMA_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("JEMIMA_TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s, err := Connect(ctx, uri, "jemima_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	key := "test/" + uuid.NewString()

	ch, err := s.Subscribe(ctx, key)
	require.NoError(t, err)
	assert.False(t, (<-ch).Exists)

	for i := 0; i < 2; i++ {
		require.NoError(t, s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
			if _, err := tx.Get(ctx, key); err != nil {
				return err
			}
			tx.Set(key, []byte(`{"n":1}`))
			return nil
		}))
	}
	snap, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.EqualValues(t, 2, snap.Version)

	select {
	case got := <-ch:
		assert.True(t, got.Exists)
	case <-ctx.Done():
		t.Fatal("no change stream event")
	}
}
