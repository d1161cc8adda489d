package submission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/jemima/go/internal/models"
	"github.com/mcdev12/jemima/go/internal/store"
	"github.com/mcdev12/jemima/go/internal/store/memstore"
)

var testItems = []models.Item{
	{Prompt: "Red planet?", Options: []string{"Mars", "Venus"}, Correct: "A"},
	{Prompt: "7 x 9?", Options: []string{"56", "63"}, Correct: "B"},
	{Prompt: "Quickly is a?", Options: []string{"Adverb", "Noun"}, Correct: "A"},
}

type flakyStore struct {
	store.Store
	failures int
}

func (f *flakyStore) RunTransaction(ctx context.Context, fn store.TxFunc) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("unavailable")
	}
	return f.Store.RunTransaction(ctx, fn)
}

func newStore(t *testing.T) *memstore.Store {
	t.Helper()
	s := memstore.New()
	require.NoError(t, s.RunTransaction(context.Background(), func(ctx context.Context, tx store.Tx) error {
		room := &models.Room{State: models.PhaseQuestions, Round: 1, Meta: models.RoomMeta{HostID: "h", GuestID: "g"}}
		if err := store.PutRoom(tx, "ABC", room, time.UnixMilli(0)); err != nil {
			return err
		}
		return store.PutRound(tx, "ABC", 1, &models.Round{HostItems: testItems, GuestItems: testItems})
	}))
	return s
}

func hostSeat() Seat {
	return Seat{Code: "ABC", Round: 1, Role: models.RoleHost, Identity: "h"}
}

func TestTrackerWritesOnceOnThirdAnswer(t *testing.T) {
	s := newStore(t)
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_000_000))
	tr, err := NewTracker(s, hostSeat(), testItems, Config{Clock: clock})
	require.NoError(t, err)
	ctx := context.Background()
	commits := s.Commits()

	clock.Advance(400 * time.Millisecond)
	require.NoError(t, tr.Choose(ctx, 0))
	clock.Advance(300 * time.Millisecond)
	require.NoError(t, tr.Choose(ctx, 0))
	assert.Equal(t, commits, s.Commits(), "nothing is written before the third answer")

	clock.Advance(300 * time.Millisecond)
	require.NoError(t, tr.Choose(ctx, 0))
	assert.Equal(t, StatusSubmitted, tr.Status())
	assert.Equal(t, commits+1, s.Commits())

	room, err := store.GetRoom(ctx, s, "ABC")
	require.NoError(t, err)
	assert.True(t, room.IsSubmitted(models.RoleHost, 1))
	assert.Equal(t, []models.Answer{
		{Question: "Red planet?", Chosen: "Mars", Correct: "Mars"},
		{Question: "7 x 9?", Chosen: "56", Correct: "63"},
		{Question: "Quickly is a?", Chosen: "Adverb", Correct: "Adverb"},
	}, room.AnswersFor(models.RoleHost, 1))

	rd, err := store.GetRound(ctx, s, "ABC", 1)
	require.NoError(t, err)
	timing := rd.Timings["h"]
	assert.Equal(t, models.RoleHost, timing.Role)
	assert.Equal(t, 1000.0, timing.TotalMs.Value)

	assert.ErrorIs(t, tr.Choose(ctx, 0), ErrAlreadySubmitted)
}

func TestTrackerTimeoutAutoFills(t *testing.T) {
	s := newStore(t)
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_000_000))
	tr, err := NewTracker(s, hostSeat(), testItems, Config{Clock: clock})
	require.NoError(t, err)
	ctx := context.Background()

	clock.Advance(9 * time.Second)
	require.NoError(t, tr.Tick(ctx))
	idx, _, _, ok := tr.Current()
	require.True(t, ok)
	assert.Equal(t, 0, idx)

	for i := 0; i < 3; i++ {
		clock.Advance(DefaultQuestionTimeout)
		require.NoError(t, tr.Tick(ctx))
	}
	assert.Equal(t, StatusSubmitted, tr.Status())
	for _, a := range tr.Answers() {
		assert.Empty(t, a.Chosen)
	}

	room, err := store.GetRoom(ctx, s, "ABC")
	require.NoError(t, err)
	assert.Len(t, room.AnswersFor(models.RoleHost, 1), 3)
	// Timed-out rounds still record the elapsed time so finalization can decide.
	rd, err := store.GetRound(ctx, s, "ABC", 1)
	require.NoError(t, err)
	assert.Equal(t, 39000.0, rd.Timings["h"].TotalMs.Value)
}

func TestTrackerFailureNeedsExplicitRetry(t *testing.T) {
	base := newStore(t)
	s := &flakyStore{Store: base, failures: 1}
	clock := clockwork.NewFakeClock()
	tr, err := NewTracker(s, hostSeat(), testItems, Config{Clock: clock})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, tr.Choose(ctx, 0))
	require.NoError(t, tr.Choose(ctx, 1))
	require.Error(t, tr.Choose(ctx, 0))
	assert.Equal(t, StatusFailed, tr.Status())
	assert.Error(t, tr.Err())

	// time passing does not retry on its own
	clock.Advance(time.Minute)
	require.NoError(t, tr.Tick(ctx))
	assert.Equal(t, StatusFailed, tr.Status())
	room, err := store.GetRoom(ctx, base, "ABC")
	require.NoError(t, err)
	assert.False(t, room.IsSubmitted(models.RoleHost, 1))

	require.NoError(t, tr.Retry(ctx))
	assert.Equal(t, StatusSubmitted, tr.Status())
	room, err = store.GetRoom(ctx, base, "ABC")
	require.NoError(t, err)
	assert.True(t, room.IsSubmitted(models.RoleHost, 1))
}

func TestTrackerDoesNotOverwriteSubmittedAnswers(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	clock := clockwork.NewFakeClock()

	first, err := NewTracker(s, hostSeat(), testItems, Config{Clock: clock})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, first.Choose(ctx, 0))
	}

	second, err := NewTracker(s, hostSeat(), testItems, Config{Clock: clock})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, second.Choose(ctx, 1))
	}

	room, err := store.GetRoom(ctx, s, "ABC")
	require.NoError(t, err)
	assert.Equal(t, "Mars", room.AnswersFor(models.RoleHost, 1)[0].Chosen)
}

func TestTrackerValidation(t *testing.T) {
	_, err := NewTracker(memstore.New(), hostSeat(), testItems[:2], Config{})
	assert.ErrorIs(t, err, ErrIncomplete)

	tr, err := NewTracker(memstore.New(), hostSeat(), testItems, Config{})
	require.NoError(t, err)
	assert.ErrorIs(t, tr.Choose(context.Background(), 2), ErrInvalidOption)
}

func TestBothComplete(t *testing.T) {
	room := &models.Room{}
	three := make([]models.Answer, 3)
	room.SetAnswers(models.RoleHost, 1, three)
	room.SetSubmitted(models.RoleHost, 1)
	assert.False(t, BothComplete(room, 1))

	room.SetAnswers(models.RoleGuest, 1, three[:2])
	room.SetSubmitted(models.RoleGuest, 1)
	assert.False(t, BothComplete(room, 1))

	room.SetAnswers(models.RoleGuest, 1, three)
	assert.True(t, BothComplete(room, 1))
}
