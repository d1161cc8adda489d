package phase

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/jemima/go/internal/models"
	"github.com/mcdev12/jemima/go/internal/store"
)

// Transition is one requested advance. Round is the room round the caller
// observed; a room that has moved to another round is left alone.
type Transition struct {
	From  models.Phase
	To    models.Phase
	Round int

	// Apply runs inside the same store transaction after state has been set.
	Apply func(ctx context.Context, tx store.Tx, room *models.Room, now time.Time) error
}

func (t Transition) String() string {
	return fmt.Sprintf("%s -> %s (round %d)", t.From, t.To, t.Round)
}

// Machine writes phase-advancing fields on behalf of one client. Only a
// machine built for the host role is allowed to write.
type Machine struct {
	store store.Store
	clock clockwork.Clock
	role  models.Role
}

func NewMachine(s store.Store, clock clockwork.Clock, role models.Role) *Machine {
	return &Machine{store: s, clock: clock, role: role}
}

func (m *Machine) Role() models.Role {
	return m.role
}

// Advance applies t if the room is still in t.From for t.Round. A room
// already in t.To, or one that moved on, is a no-op with applied false.
func (m *Machine) Advance(ctx context.Context, code string, t Transition) (bool, error) {
	if m.role != models.RoleHost {
		log.Warn().
			Str("room", code).
			Str("role", string(m.role)).
			Str("transition", t.String()).
			Msg("rejected phase write from non-host")
		return false, ErrNotHost
	}
	if err := Validate(t.From, t.To); err != nil {
		return false, err
	}
	if err := validateRound(t.From, t.To, t.Round); err != nil {
		return false, err
	}

	applied := false
	err := m.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		applied = false
		room, err := store.GetRoom(ctx, tx, code)
		if err != nil {
			return err
		}
		if room.Round != t.Round || room.State != t.From {
			return nil
		}
		now := m.clock.Now()
		room.State = t.To
		if t.Apply != nil {
			if err := t.Apply(ctx, tx, room, now); err != nil {
				return err
			}
		}
		if err := store.PutRoom(tx, code, room, now); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("advance %s: %w", t, err)
	}
	if applied {
		log.Info().
			Str("room", code).
			Int("round", t.Round).
			Str("phase", string(t.To)).
			Msg("phase advanced")
	}
	return applied, nil
}
