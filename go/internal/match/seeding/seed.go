package seeding

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/jemima/go/internal/models"
	"github.com/mcdev12/jemima/go/internal/store"
)

var ErrAlreadyStarted = errors.New("room already past seeding")

// Participants overrides the identifiers recorded in the pack meta.
type Participants struct {
	HostID  string
	GuestID string
}

// Seed writes the pack's five round documents and leaves the room in
// seeding on round 1, creating it when absent. It is an operator bootstrap:
// pre-game rooms jump straight to seeding without going through phase.Machine.
func Seed(ctx context.Context, s store.Store, clock clockwork.Clock, pack *Pack, who Participants) error {
	code := pack.Meta.RoomCode
	hostID, guestID := pack.Meta.HostUID, pack.Meta.GuestUID
	if who.HostID != "" {
		hostID = who.HostID
	}
	if who.GuestID != "" {
		guestID = who.GuestID
	}

	err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		room, err := store.GetRoom(ctx, tx, code)
		switch {
		case errors.Is(err, store.ErrNotFound):
			room = &models.Room{}
		case err != nil:
			return err
		case !preGame(room.State):
			return fmt.Errorf("%w: %s is in %s", ErrAlreadyStarted, code, room.State)
		}

		room.State = models.PhaseSeeding
		room.Round = models.FirstRound
		room.Meta = models.RoomMeta{HostID: hostID, GuestID: guestID}
		room.Countdown.StartAt = nil
		room.Marking.StartAt = nil
		if err := store.PutRoom(tx, code, room, clock.Now()); err != nil {
			return err
		}

		for n := models.FirstRound; n <= models.LastRound; n++ {
			rp := pack.Round(n)
			rd := &models.Round{HostItems: rp.HostItems, GuestItems: rp.GuestItems, Interlude: rp.Interlude}
			if err := store.PutRound(tx, code, n, rd); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("seed room %s: %w", code, err)
	}
	log.Info().
		Str("room", code).
		Str("host", hostID).
		Str("guest", guestID).
		Msg("room seeded")
	return nil
}

func preGame(p models.Phase) bool {
	switch p {
	case "", models.PhaseLobby, models.PhaseKeyRoom, models.PhaseCodeRoom, models.PhaseSeeding:
		return true
	}
	return false
}
