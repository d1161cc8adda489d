package phase

import (
	"context"
	"time"

	"github.com/mcdev12/jemima/go/internal/models"
	"github.com/mcdev12/jemima/go/internal/store"
)

// Step is a plain advance with no extra writes.
func Step(from, to models.Phase, round int) Transition {
	return Transition{From: from, To: to, Round: round}
}

// ToQuestions flips an expired countdown and stamps the round's questions start.
func ToQuestions(code string, round int) Transition {
	return Transition{
		From:  models.PhaseCountdown,
		To:    models.PhaseQuestions,
		Round: round,
		Apply: func(ctx context.Context, tx store.Tx, room *models.Room, now time.Time) error {
			rd, err := store.GetRound(ctx, tx, code, round)
			if err != nil {
				return err
			}
			at := now.UnixMilli()
			rd.TimingsMeta.QuestionsStartAt = &at
			return store.PutRound(tx, code, round, rd)
		},
	}
}

// ToMarking moves the room into marking once both answer sets are in.
func ToMarking(round int) Transition {
	return Transition{
		From:  models.PhaseQuestions,
		To:    models.PhaseMarking,
		Round: round,
		Apply: func(_ context.Context, _ store.Tx, room *models.Room, now time.Time) error {
			at := now.UnixMilli()
			room.Marking.StartAt = &at
			return nil
		},
	}
}

// AfterAward leaves the award screen: maths after the last round, otherwise
// the next round's countdown. Interludes are shown by clients on the way
// into that countdown and never stored.
func AfterAward(round int) Transition {
	if round >= models.LastRound {
		return Step(models.PhaseAward, models.PhaseMaths, round)
	}
	return Transition{
		From:  models.PhaseAward,
		To:    models.PhaseCountdown,
		Round: round,
		Apply: func(_ context.Context, _ store.Tx, room *models.Room, _ time.Time) error {
			room.Round = round + 1
			room.Countdown.StartAt = nil
			room.Marking.StartAt = nil
			return nil
		},
	}
}

// Next returns the transition that follows from for the simple linear
// phases, or false when the step needs more context.
func Next(from models.Phase, round int) (Transition, bool) {
	switch from {
	case models.PhaseLobby, models.PhaseKeyRoom, models.PhaseCodeRoom, models.PhaseSeeding:
		return Step(from, allowedTransitions[from][0], round), true
	case models.PhaseMaths:
		return Step(models.PhaseMaths, models.PhaseFinal, round), true
	}
	return Transition{}, false
}
