// Package phase holds the match state machine: the closed set of phases,
// the legal transition graph and the host-only writer that advances a room.
package phase

import (
	"errors"
	"fmt"

	"github.com/mcdev12/jemima/go/internal/models"
)

var (
	ErrIllegalTransition = errors.New("illegal phase transition")
	ErrUnknownPhase      = errors.New("unknown phase")
	ErrRoutingOnly       = errors.New("routing-only phase")
	ErrNotHost           = errors.New("only the host may write phase fields")
)

// allowedTransitions is the forward graph. Staying in place is always allowed.
var allowedTransitions = map[models.Phase][]models.Phase{
	models.PhaseLobby:     {models.PhaseKeyRoom},
	models.PhaseKeyRoom:   {models.PhaseCodeRoom},
	models.PhaseCodeRoom:  {models.PhaseSeeding},
	models.PhaseSeeding:   {models.PhaseCountdown},
	models.PhaseCountdown: {models.PhaseQuestions},
	models.PhaseQuestions: {models.PhaseMarking},
	models.PhaseMarking:   {models.PhaseAward},
	models.PhaseAward:     {models.PhaseCountdown, models.PhaseMaths},
	models.PhaseMaths:     {models.PhaseFinal},
	models.PhaseFinal:     {},
}

var routingOnly = map[models.Phase]bool{
	models.PhaseWatcher:   true,
	models.PhaseRejoin:    true,
	models.PhaseInterlude: true,
}

// Known reports whether p is a member of the phase set.
func Known(p models.Phase) bool {
	_, stored := allowedTransitions[p]
	return stored || routingOnly[p]
}

// RoutingOnly reports whether p only exists as a client navigation target.
func RoutingOnly(p models.Phase) bool {
	return routingOnly[p]
}

// Validate checks a single step of the graph.
func Validate(from, to models.Phase) error {
	if !Known(from) {
		return fmt.Errorf("%w: %q", ErrUnknownPhase, from)
	}
	if !Known(to) {
		return fmt.Errorf("%w: %q", ErrUnknownPhase, to)
	}
	if RoutingOnly(from) || RoutingOnly(to) {
		return fmt.Errorf("%w: %s -> %s", ErrRoutingOnly, from, to)
	}
	if from == to {
		return nil
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
}

// validateRound checks the round-dependent edges out of award.
func validateRound(from, to models.Phase, round int) error {
	if round < models.FirstRound || round > models.LastRound {
		return fmt.Errorf("%w: round %d out of range", ErrIllegalTransition, round)
	}
	if from != models.PhaseAward {
		return nil
	}
	switch to {
	case models.PhaseMaths:
		if round != models.LastRound {
			return fmt.Errorf("%w: maths before round %d", ErrIllegalTransition, models.LastRound)
		}
	case models.PhaseCountdown:
		if round >= models.LastRound {
			return fmt.Errorf("%w: no round after %d", ErrIllegalTransition, round)
		}
	}
	return nil
}
