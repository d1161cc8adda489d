package models

import "strconv"

const (
	FirstRound = 1
	LastRound  = 5

	// ItemsPerRole is the number of questions each seat answers per round.
	ItemsPerRole = 3
)

// Room is the shared match document stored under rooms/{code}.
type Room struct {
	State      Phase                        `json:"state"`
	Round      int                          `json:"round"`
	Meta       RoomMeta                     `json:"meta"`
	Countdown  Deadline                     `json:"countdown"`
	Marking    Deadline                     `json:"marking"`
	Scores     Scores                       `json:"scores"`
	Answers    map[Role]map[string][]Answer `json:"answers,omitempty"`
	Submitted  map[Role]map[string]bool     `json:"submitted,omitempty"`
	MarkingAck map[Role]map[string]bool     `json:"markingAck,omitempty"`
	Timestamps Timestamps                   `json:"timestamps"`
}

// RoomMeta identifies the two participants.
type RoomMeta struct {
	HostID  string `json:"hostId"`
	GuestID string `json:"guestId"`
}

// Deadline holds an absolute epoch-millisecond start time, absent when cleared.
type Deadline struct {
	StartAt *int64 `json:"startAt,omitempty"`
}

type Scores struct {
	Questions RoleScores `json:"questions"`
}

type RoleScores struct {
	Host  int `json:"host"`
	Guest int `json:"guest"`
}

type Timestamps struct {
	UpdatedAt int64 `json:"updatedAt"`
}

// Answer is one question as answered by a participant.
type Answer struct {
	Question string `json:"question"`
	Chosen   string `json:"chosen"`
	Correct  string `json:"correct"`
}

// RoundField is the map key used for per-round entries.
func RoundField(round int) string {
	return strconv.Itoa(round)
}

// IDFor returns the participant identifier recorded for role.
func (r *Room) IDFor(role Role) string {
	if role == RoleHost {
		return r.Meta.HostID
	}
	return r.Meta.GuestID
}

func (r *Room) AnswersFor(role Role, round int) []Answer {
	return r.Answers[role][RoundField(round)]
}

func (r *Room) SetAnswers(role Role, round int, answers []Answer) {
	if r.Answers == nil {
		r.Answers = make(map[Role]map[string][]Answer)
	}
	if r.Answers[role] == nil {
		r.Answers[role] = make(map[string][]Answer)
	}
	r.Answers[role][RoundField(round)] = answers
}

func (r *Room) IsSubmitted(role Role, round int) bool {
	return r.Submitted[role][RoundField(round)]
}

func (r *Room) SetSubmitted(role Role, round int) {
	r.Submitted = setFlag(r.Submitted, role, round)
}

func (r *Room) Acked(role Role, round int) bool {
	return r.MarkingAck[role][RoundField(round)]
}

func (r *Room) SetAck(role Role, round int) {
	r.MarkingAck = setFlag(r.MarkingAck, role, round)
}

// Complete reports whether role has a submitted, full answer set for round.
func (r *Room) Complete(role Role, round int) bool {
	return r.IsSubmitted(role, round) && len(r.AnswersFor(role, round)) == ItemsPerRole
}

// AddScore adds points to role's cumulative question score.
func (r *Room) AddScore(role Role, points int) {
	if role == RoleHost {
		r.Scores.Questions.Host += points
		return
	}
	r.Scores.Questions.Guest += points
}

func setFlag(m map[Role]map[string]bool, role Role, round int) map[Role]map[string]bool {
	if m == nil {
		m = make(map[Role]map[string]bool)
	}
	if m[role] == nil {
		m[role] = make(map[string]bool)
	}
	m[role][RoundField(round)] = true
	return m
}
