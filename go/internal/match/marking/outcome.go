package marking

import (
	"errors"
	"math"
	"sort"
	"strings"

	"github.com/mcdev12/jemima/go/internal/models"
)

// TieToleranceMs is the largest time difference still scored as a tie.
const TieToleranceMs = 1.0

// Reasons a round cannot be finalized yet. None of them is a failure of
// the call; Finalize reports them as applied == false.
var (
	ErrNotMarking       = errors.New("room is not in marking")
	ErrRoundMismatch    = errors.New("room is on another round")
	ErrAcksMissing      = errors.New("marking acknowledgements missing")
	ErrRoundMissing     = errors.New("round document missing")
	ErrTimingUnresolved = errors.New("timing entry unresolved")
	ErrTimingNotFinite  = errors.New("timing total is not a finite number")
)

// Outcome is the scoring decision for one round.
type Outcome struct {
	Tie       bool
	Winner    models.Role
	WinnerUID *string

	HostMs     float64
	GuestMs    float64
	HostScore  int
	GuestScore int

	// Participants maps every identifier associated with a seat to whether
	// it keeps the round's snippet.
	Participants map[string]bool
}

// ResolveTiming finds the timing entry for role: by its role tag, then by
// the seat's participant id, then by the only entry present.
func ResolveTiming(timings map[string]models.Timing, role models.Role, hostID, guestID string) (string, models.Timing, bool) {
	uids := make([]string, 0, len(timings))
	for uid := range timings {
		uids = append(uids, uid)
	}
	sort.Strings(uids)

	for _, uid := range uids {
		if timings[uid].Role == role {
			return uid, timings[uid], true
		}
	}
	id := guestID
	if role == models.RoleHost {
		id = hostID
	}
	if id != "" {
		if t, ok := timings[id]; ok {
			return id, t, true
		}
	}
	if len(uids) == 1 {
		return uids[0], timings[uids[0]], true
	}
	return "", models.Timing{}, false
}

// Score counts answers whose chosen text matches the correct text,
// ignoring case and whitespace. Blank answers never score, even against the
// blank correct text of a malformed item.
func Score(answers []models.Answer) int {
	n := 0
	for _, a := range answers {
		chosen := normalize(a.Chosen)
		if chosen != "" && chosen == normalize(a.Correct) {
			n++
		}
	}
	return n
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Decide computes the round outcome without touching the store. It returns
// one of the reason errors above when a precondition does not hold.
func Decide(room *models.Room, rd *models.Round, round int) (Outcome, error) {
	if room.State != models.PhaseMarking {
		return Outcome{}, ErrNotMarking
	}
	if room.Round != round {
		return Outcome{}, ErrRoundMismatch
	}
	if !room.Acked(models.RoleHost, round) || !room.Acked(models.RoleGuest, round) {
		return Outcome{}, ErrAcksMissing
	}
	if rd == nil {
		return Outcome{}, ErrRoundMissing
	}

	hostUID, hostTiming, ok := ResolveTiming(rd.Timings, models.RoleHost, room.Meta.HostID, room.Meta.GuestID)
	if !ok {
		return Outcome{}, ErrTimingUnresolved
	}
	guestUID, guestTiming, ok := ResolveTiming(rd.Timings, models.RoleGuest, room.Meta.HostID, room.Meta.GuestID)
	if !ok {
		return Outcome{}, ErrTimingUnresolved
	}
	if !hostTiming.TotalMs.Finite() || !guestTiming.TotalMs.Finite() {
		return Outcome{}, ErrTimingNotFinite
	}

	out := Outcome{
		HostMs:     hostTiming.TotalMs.Value,
		GuestMs:    guestTiming.TotalMs.Value,
		HostScore:  Score(room.AnswersFor(models.RoleHost, round)),
		GuestScore: Score(room.AnswersFor(models.RoleGuest, round)),
	}
	out.Tie = math.Abs(out.HostMs-out.GuestMs) <= TieToleranceMs
	if !out.Tie {
		out.Winner = models.RoleHost
		if out.GuestMs < out.HostMs {
			out.Winner = models.RoleGuest
		}
	}

	seatIDs := map[models.Role][]string{
		models.RoleHost:  ids(room.Meta.HostID, hostUID),
		models.RoleGuest: ids(room.Meta.GuestID, guestUID),
	}
	if list := seatIDs[out.Winner]; out.Winner != "" && len(list) > 0 {
		uid := list[0]
		out.WinnerUID = &uid
	}
	out.Participants = make(map[string]bool)
	for seat, list := range seatIDs {
		kept := out.Tie || seat == out.Winner
		for _, id := range list {
			out.Participants[id] = out.Participants[id] || kept
		}
	}
	return out, nil
}

// ids returns the distinct non-empty identifiers, room meta first.
func ids(candidates ...string) []string {
	var out []string
	for _, c := range candidates {
		if c == "" {
			continue
		}
		dup := false
		for _, o := range out {
			dup = dup || o == c
		}
		if !dup {
			out = append(out, c)
		}
	}
	return out
}
