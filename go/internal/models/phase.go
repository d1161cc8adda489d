package models

// Phase names a stage of the match lifecycle as stored in a room's state field.
type Phase string

const (
	PhaseLobby     Phase = "lobby"
	PhaseKeyRoom   Phase = "keyroom"
	PhaseCodeRoom  Phase = "coderoom"
	PhaseSeeding   Phase = "seeding"
	PhaseCountdown Phase = "countdown"
	PhaseQuestions Phase = "questions"
	PhaseMarking   Phase = "marking"
	PhaseAward     Phase = "award"
	PhaseMaths     Phase = "maths"
	PhaseFinal     Phase = "final"

	// Auxiliary phases used only for client routing; rooms never store them.
	PhaseWatcher   Phase = "watcher"
	PhaseRejoin    Phase = "rejoin"
	PhaseInterlude Phase = "interlude"
)

// Role is one of the two seats in a room.
type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// Valid reports whether r is host or guest.
func (r Role) Valid() bool {
	return r == RoleHost || r == RoleGuest
}

// Other returns the opposing role.
func (r Role) Other() Role {
	if r == RoleHost {
		return RoleGuest
	}
	return RoleHost
}
