// Package countdown arms and reads the shared pre-round deadline.
//
// Every client derives the seconds left from the absolute startAt stored on
// the room, so a client that was suspended shows the right value as soon as
// it renders again. Only the host arms the deadline and flips the room into
// questions once it has passed.
package countdown

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/jemima/go/internal/match/phase"
	"github.com/mcdev12/jemima/go/internal/models"
	"github.com/mcdev12/jemima/go/internal/store"
)

const (
	DefaultLead = 3 * time.Second
	MaxDisplay  = 5

	DefaultWaitAttempts = 8
	DefaultWaitInterval = 400 * time.Millisecond
)

var ErrRoundNotReady = errors.New("round data not ready")

// Remaining returns whole seconds until startAtMs, clamped to [0, MaxDisplay].
func Remaining(startAtMs int64, now time.Time) int {
	diff := float64(startAtMs - now.UnixMilli())
	secs := int(math.Ceil(diff / 1000))
	return max(0, min(secs, MaxDisplay))
}

type Config struct {
	Clock        clockwork.Clock
	Lead         time.Duration
	WaitAttempts int
	WaitInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Lead <= 0 {
		c.Lead = DefaultLead
	}
	if c.WaitAttempts <= 0 {
		c.WaitAttempts = DefaultWaitAttempts
	}
	if c.WaitInterval <= 0 {
		c.WaitInterval = DefaultWaitInterval
	}
	return c
}

// Synchronizer tracks one client's view of a room's countdown.
type Synchronizer struct {
	store   store.Store
	machine *phase.Machine
	cfg     Config
	code    string

	mu         sync.Mutex
	guardStart int64
	flipped    bool
}

func NewSynchronizer(s store.Store, machine *phase.Machine, code string, cfg Config) *Synchronizer {
	return &Synchronizer{store: s, machine: machine, code: code, cfg: cfg.withDefaults()}
}

// Arm sets countdown.startAt to now+lead for the room's current round. It
// is a no-op when the deadline is already set, the room has left countdown
// or the round's items are incomplete.
func (s *Synchronizer) Arm(ctx context.Context, round int) (bool, error) {
	if s.machine.Role() != models.RoleHost {
		return false, phase.ErrNotHost
	}
	applied := false
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		applied = false
		room, err := store.GetRoom(ctx, tx, s.code)
		if err != nil {
			return err
		}
		if room.State != models.PhaseCountdown || room.Round != round || room.Countdown.StartAt != nil {
			return nil
		}
		rd, err := store.GetRound(ctx, tx, s.code, round)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !rd.Ready() {
			return nil
		}
		now := s.cfg.Clock.Now()
		startAt := now.Add(s.cfg.Lead).UnixMilli()
		room.Countdown.StartAt = &startAt
		if err := store.PutRoom(tx, s.code, room, now); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("arm countdown: %w", err)
	}
	if applied {
		log.Info().Str("room", s.code).Int("round", round).Msg("countdown armed")
	}
	return applied, nil
}

// Tick recomputes the seconds left for room and, on the host, flips the
// room into questions once the deadline has passed and the round is ready.
// Remaining is -1 while no deadline is armed.
func (s *Synchronizer) Tick(ctx context.Context, room *models.Room, ready bool) (int, error) {
	if room.State != models.PhaseCountdown || room.Countdown.StartAt == nil {
		return -1, nil
	}
	startAt := *room.Countdown.StartAt
	remaining := Remaining(startAt, s.cfg.Clock.Now())
	if remaining > 0 || !ready || s.machine.Role() != models.RoleHost {
		return remaining, nil
	}

	if !s.claimFlip(startAt) {
		return remaining, nil
	}
	if _, err := s.machine.Advance(ctx, s.code, phase.ToQuestions(s.code, room.Round)); err != nil {
		s.releaseFlip(startAt)
		return remaining, err
	}
	return remaining, nil
}

// claimFlip sets the local flip guard, resetting it whenever startAt changes.
func (s *Synchronizer) claimFlip(startAt int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.guardStart != startAt {
		s.guardStart = startAt
		s.flipped = false
	}
	if s.flipped {
		return false
	}
	s.flipped = true
	return true
}

func (s *Synchronizer) releaseFlip(startAt int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.guardStart == startAt {
		s.flipped = false
	}
}

// WaitForRound polls for the round document until its items are complete,
// giving up with ErrRoundNotReady after the configured number of attempts.
func (s *Synchronizer) WaitForRound(ctx context.Context, round int) (*models.Round, error) {
	for attempt := 1; ; attempt++ {
		rd, err := store.GetRound(ctx, s.store, s.code, round)
		switch {
		case err == nil && rd.Ready():
			return rd, nil
		case err != nil && !errors.Is(err, store.ErrNotFound):
			log.Error().Err(err).Str("room", s.code).Int("round", round).Int("attempt", attempt).Msg("failed to read round")
		}
		if attempt >= s.cfg.WaitAttempts {
			return nil, fmt.Errorf("round %d after %d attempts: %w", round, attempt, ErrRoundNotReady)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.cfg.Clock.After(s.cfg.WaitInterval):
		}
	}
}
