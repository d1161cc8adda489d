package flow

import (
	"context"
	"strconv"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/jemima/go/internal/match/countdown"
	"github.com/mcdev12/jemima/go/internal/match/seeding"
	"github.com/mcdev12/jemima/go/internal/models"
	"github.com/mcdev12/jemima/go/internal/store"
	"github.com/mcdev12/jemima/go/internal/store/memstore"
)

func TestAddressRoundTrip(t *testing.T) {
	addr := Address{Phase: models.PhaseCountdown, Code: "ABC", Round: 2}
	assert.Equal(t, "/countdown?code=ABC&round=2", addr.String())

	got, err := ParseAddress(addr.String())
	require.NoError(t, err)
	assert.Equal(t, addr, got)

	got, err = ParseAddress("/rejoin?code=XYZ")
	require.NoError(t, err)
	assert.Equal(t, Address{Phase: models.PhaseRejoin, Code: "XYZ", Round: 1}, got)
}

func TestParseAddressRejects(t *testing.T) {
	for _, s := range []string{
		"/nowhere?code=ABC",
		"/award?round=2",
		"/award?code=ABC&round=6",
		"/award?code=ABC&round=x",
	} {
		t.Run(s, func(t *testing.T) {
			_, err := ParseAddress(s)
			assert.ErrorIs(t, err, ErrBadAddress)
		})
	}
}

type recorder struct {
	LogPresenter

	mu         sync.Mutex
	waiting    []string
	awards     []AwardSummary
	interludes []int
	final      *models.Room
}

func (r *recorder) Waiting(addr Address, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waiting = append(r.waiting, reason)
}

func (r *recorder) Award(s AwardSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.awards = append(r.awards, s)
}

func (r *recorder) Interlude(round int, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interludes = append(r.interludes, round)
}

func (r *recorder) Final(room *models.Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.final = room
}

func (r *recorder) sawWaiting(reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.waiting {
		if w == reason {
			return true
		}
	}
	return false
}

func fastTiming() Timing {
	return Timing{
		Countdown: countdown.Config{
			Lead:         30 * time.Millisecond,
			WaitAttempts: 3,
			WaitInterval: 5 * time.Millisecond,
		},
		QuestionTimeout: 2 * time.Second,
		TickInterval:    5 * time.Millisecond,
		AwardHold:       5 * time.Millisecond,
		InterludeHold:   5 * time.Millisecond,
		MathsHold:       5 * time.Millisecond,
	}
}

func sideItems(correct string) []models.Item {
	out := make([]models.Item, models.ItemsPerRole)
	for i := range out {
		out[i] = models.Item{
			Prompt:  "Q" + strconv.Itoa(i+1),
			Options: []string{"left " + strconv.Itoa(i), "right " + strconv.Itoa(i)},
			Correct: correct,
		}
	}
	return out
}

func testPack() *seeding.Pack {
	rounds := make(map[string]seeding.RoundPack)
	for n := models.FirstRound; n <= models.LastRound; n++ {
		rp := seeding.RoundPack{HostItems: sideItems("A"), GuestItems: sideItems("B")}
		if n == 3 {
			rp.Interlude = "Halftime"
		}
		rounds[strconv.Itoa(n)] = rp
	}
	return &seeding.Pack{
		Version: seeding.PackVersion,
		Meta:    seeding.PackMeta{RoomCode: "ABC", HostUID: "host-uid", GuestUID: "guest-uid"},
		Rounds:  rounds,
	}
}

func putRoom(t *testing.T, s store.Store, room *models.Room) {
	t.Helper()
	require.NoError(t, s.RunTransaction(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return store.PutRoom(tx, "ABC", room, time.Now())
	}))
}

func TestFullMatchBetweenHostAndGuest(t *testing.T) {
	s := memstore.New(memstore.WithMaxAttempts(64))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, seeding.Seed(ctx, s, clockwork.NewRealClock(), testPack(), seeding.Participants{}))

	hostRec, guestRec := &recorder{}, &recorder{}
	hostPlayer := NewAutoPlayer(hostRec, PickCorrect)
	host := NewController("ABC", "host-uid", Options{
		Store:     s,
		Presenter: hostPlayer,
		Input:     hostPlayer,
		Timing:    fastTiming(),
	})
	guestPlayer := NewAutoPlayer(guestRec, PickFirst)
	guest := NewController("ABC", "guest-uid", Options{
		Store:     s,
		Presenter: guestPlayer,
		Input:     guestPlayer,
		Timing:    fastTiming(),
	})

	errs := make(chan error, 2)
	go func() { errs <- host.Run(ctx) }()
	go func() { errs <- guest.Run(ctx) }()
	for i := 0; i < 2; i++ {
		require.NoError(t, <-errs)
	}

	assert.Equal(t, models.RoleHost, host.Role())
	assert.Equal(t, models.RoleGuest, guest.Role())

	room, err := store.GetRoom(ctx, s, "ABC")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseFinal, room.State)
	assert.Equal(t, models.LastRound, room.Round)
	assert.Equal(t, models.RoleScores{Host: 15, Guest: 0}, room.Scores.Questions)
	for n := models.FirstRound; n <= models.LastRound; n++ {
		assert.True(t, room.Acked(models.RoleHost, n), "host ack round %d", n)
		assert.True(t, room.Acked(models.RoleGuest, n), "guest ack round %d", n)
		assert.Len(t, room.AnswersFor(models.RoleGuest, n), models.ItemsPerRole)
	}

	hostDoc, err := store.GetPlayer(ctx, s, "host-uid")
	require.NoError(t, err)
	assert.Len(t, hostDoc.RetainedSnippets, models.LastRound)

	hostRec.mu.Lock()
	defer hostRec.mu.Unlock()
	require.Len(t, hostRec.awards, models.LastRound)
	assert.Equal(t, 15, hostRec.awards[4].Scores.Host)
	assert.Equal(t, []int{3}, hostRec.interludes)
	require.NotNil(t, hostRec.final)

	guestRec.mu.Lock()
	defer guestRec.mu.Unlock()
	assert.Equal(t, []int{3}, guestRec.interludes)
	assert.NotNil(t, guestRec.final)
}

var errUnavailable = errors.New("store unavailable")

// flakyStore fails the first budget transactions started while when holds
// for the stored room.
type flakyStore struct {
	store.Store
	when   func(room *models.Room) bool
	budget atomic.Int32
}

func newFlakyStore(inner store.Store, budget int32, when func(room *models.Room) bool) *flakyStore {
	f := &flakyStore{Store: inner, when: when}
	f.budget.Store(budget)
	return f
}

func (f *flakyStore) RunTransaction(ctx context.Context, fn store.TxFunc) error {
	room, err := store.GetRoom(ctx, f.Store, "ABC")
	if err == nil && f.when(room) && f.budget.Add(-1) >= 0 {
		return errUnavailable
	}
	return f.Store.RunTransaction(ctx, fn)
}

func (f *flakyStore) failed() bool {
	return f.budget.Load() < 0
}

func playMatch(t *testing.T, s store.Store) *models.Room {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, seeding.Seed(ctx, s, clockwork.NewRealClock(), testPack(), seeding.Participants{}))

	errs := make(chan error, 2)
	for uid, pick := range map[string]PickFunc{"host-uid": PickCorrect, "guest-uid": PickFirst} {
		p := NewAutoPlayer(&recorder{}, pick)
		c := NewController("ABC", uid, Options{Store: s, Presenter: p, Input: p, Timing: fastTiming()})
		go func() { errs <- c.Run(ctx) }()
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, <-errs)
	}
	room, err := store.GetRoom(ctx, s, "ABC")
	require.NoError(t, err)
	return room
}

func TestFinalizeRetriesAfterTransientErrors(t *testing.T) {
	s := newFlakyStore(memstore.New(memstore.WithMaxAttempts(64)), 2, func(room *models.Room) bool {
		return room.State == models.PhaseMarking && room.Round == 1 &&
			room.Acked(models.RoleHost, 1) && room.Acked(models.RoleGuest, 1)
	})

	room := playMatch(t, s)
	assert.True(t, s.failed())
	assert.Equal(t, models.PhaseFinal, room.State)
	assert.Equal(t, models.RoleScores{Host: 15, Guest: 0}, room.Scores.Questions)
}

func TestHostRetriesStartingMarking(t *testing.T) {
	s := newFlakyStore(memstore.New(memstore.WithMaxAttempts(64)), 1, func(room *models.Room) bool {
		return room.State == models.PhaseQuestions && room.Round == 1 &&
			room.Complete(models.RoleHost, 1) && room.Complete(models.RoleGuest, 1)
	})

	room := playMatch(t, s)
	assert.True(t, s.failed())
	assert.Equal(t, models.PhaseFinal, room.State)
}

func TestRejoiningHostFinishesFromMaths(t *testing.T) {
	s := memstore.New()
	putRoom(t, s, &models.Room{
		State: models.PhaseMaths,
		Round: models.LastRound,
		Meta:  models.RoomMeta{HostID: "host-uid", GuestID: "guest-uid"},
	})

	rec := &recorder{}
	c := NewController("ABC", "host-uid", Options{Store: s, Presenter: rec, Timing: fastTiming()})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Run(ctx))

	assert.True(t, rec.sawWaiting("rejoining"))
	room, err := store.GetRoom(ctx, s, "ABC")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseFinal, room.State)
}

func TestGuestNeverAdvancesPhase(t *testing.T) {
	s := memstore.New()
	putRoom(t, s, &models.Room{
		State: models.PhaseMaths,
		Round: models.LastRound,
		Meta:  models.RoomMeta{HostID: "host-uid", GuestID: "guest-uid"},
	})

	c := NewController("ABC", "guest-uid", Options{Store: s, Presenter: &recorder{}, Timing: fastTiming()})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Run(ctx), context.DeadlineExceeded)

	room, err := store.GetRoom(context.Background(), s, "ABC")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseMaths, room.State)
}

func TestWatcherFollowsToFinal(t *testing.T) {
	s := memstore.New()
	putRoom(t, s, &models.Room{State: models.PhaseFinal, Round: models.LastRound})

	rec := &recorder{}
	c := NewController("ABC", "someone", Options{Store: s, Presenter: rec, Timing: fastTiming(), Watch: true})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Run(ctx))
	assert.NotNil(t, rec.final)
	assert.EqualValues(t, 1, s.Commits())
}

func TestCountdownStallsWithoutRoundData(t *testing.T) {
	s := memstore.New()
	putRoom(t, s, &models.Room{
		State: models.PhaseCountdown,
		Round: 1,
		Meta:  models.RoomMeta{HostID: "host-uid", GuestID: "guest-uid"},
	})

	rec := &recorder{}
	c := NewController("ABC", "host-uid", Options{Store: s, Presenter: rec, Timing: fastTiming()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return rec.sawWaiting("waiting for round data") }, 5*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	room, err := store.GetRoom(context.Background(), s, "ABC")
	require.NoError(t, err)
	assert.Nil(t, room.Countdown.StartAt)
}

func TestControllerStartsAtDeepLink(t *testing.T) {
	s := memstore.New()
	putRoom(t, s, &models.Room{State: models.PhaseFinal, Round: models.LastRound})

	start, err := ParseAddress("/watcher?code=ABC&round=5")
	require.NoError(t, err)

	rec := &recorder{}
	c := NewController("ABC", "someone", Options{Store: s, Presenter: rec, Timing: fastTiming(), Start: start})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Run(ctx))
	assert.NotNil(t, rec.final)
	assert.EqualValues(t, 1, s.Commits())
}
