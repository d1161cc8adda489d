// Package marking finalizes a round: it decides the timing race, adds the
// round's scores and records retained snippets in one store transaction.
//
// Both clients call Finalize on every room change while in marking. The
// transaction re-checks every precondition against what it reads, and on
// success moves the room to award, so at most one call ever applies.
package marking

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/jemima/go/internal/models"
	"github.com/mcdev12/jemima/go/internal/store"
)

type Finalizer struct {
	store store.Store
	clock clockwork.Clock

	// warned keeps one warning per stuck room/round/reason.
	mu     sync.Mutex
	warned map[string]bool
}

func NewFinalizer(s store.Store, clock clockwork.Clock) *Finalizer {
	return &Finalizer{store: s, clock: clock, warned: make(map[string]bool)}
}

// Ack records that role has reached marking for round.
func (f *Finalizer) Ack(ctx context.Context, code string, round int, role models.Role) error {
	_, err := store.UpdateRoom(ctx, f.store, code, f.clock.Now, func(room *models.Room) error {
		if room.Acked(role, round) {
			return store.ErrSkip
		}
		room.SetAck(role, round)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ack marking: %w", err)
	}
	return nil
}

// Finalize applies the round outcome if every precondition holds. applied
// is false, with a nil error, when the room is not ready or already done.
func (f *Finalizer) Finalize(ctx context.Context, code string, round int) (bool, error) {
	var (
		applied bool
		reason  error
		outcome Outcome
	)
	err := f.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		applied, reason = false, nil

		room, err := store.GetRoom(ctx, tx, code)
		if errors.Is(err, store.ErrNotFound) {
			reason = err
			return nil
		}
		if err != nil {
			return err
		}
		if room.State != models.PhaseMarking {
			reason = ErrNotMarking
			return nil
		}
		rd, err := store.GetRound(ctx, tx, code, round)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		outcome, reason = Decide(room, rd, round)
		if reason != nil {
			return nil
		}

		players := make(map[string]*models.Player, len(outcome.Participants))
		for uid := range outcome.Participants {
			p, err := store.GetPlayer(ctx, tx, uid)
			if err != nil {
				return err
			}
			players[uid] = p
		}

		now := f.clock.Now()
		room.AddScore(models.RoleHost, outcome.HostScore)
		room.AddScore(models.RoleGuest, outcome.GuestScore)
		room.State = models.PhaseAward
		room.Countdown.StartAt = nil
		room.Marking.StartAt = nil
		if err := store.PutRoom(tx, code, room, now); err != nil {
			return err
		}

		rd.SnippetWinnerUID = outcome.WinnerUID
		rd.SnippetTie = outcome.Tie
		if err := store.PutRound(tx, code, round, rd); err != nil {
			return err
		}

		for uid, p := range players {
			p.SetRetained(round, outcome.Participants[uid])
			if err := store.PutPlayer(tx, uid, p); err != nil {
				return err
			}
		}
		applied = true
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("room", code).Int("round", round).Msg("finalize transaction failed")
		return false, fmt.Errorf("finalize round %d: %w", round, err)
	}

	if applied {
		log.Info().
			Str("room", code).
			Int("round", round).
			Bool("tie", outcome.Tie).
			Str("winner", string(outcome.Winner)).
			Int("host_score", outcome.HostScore).
			Int("guest_score", outcome.GuestScore).
			Msg("round finalized")
		return true, nil
	}
	f.noteReason(code, round, reason)
	return false, nil
}

// noteReason warns once about reasons that will not clear by waiting.
func (f *Finalizer) noteReason(code string, round int, reason error) {
	if !errors.Is(reason, ErrTimingUnresolved) && !errors.Is(reason, ErrTimingNotFinite) && !errors.Is(reason, ErrRoundMissing) {
		log.Debug().AnErr("reason", reason).Str("room", code).Int("round", round).Msg("finalize not applied")
		return
	}
	key := fmt.Sprintf("%s/%d/%v", code, round, reason)
	f.mu.Lock()
	seen := f.warned[key]
	f.warned[key] = true
	f.mu.Unlock()
	if !seen {
		log.Warn().AnErr("reason", reason).Str("room", code).Int("round", round).Msg("round stuck in marking")
	}
}
