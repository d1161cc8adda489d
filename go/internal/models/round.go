package models

import (
	"encoding/json"
	"math"
	"strings"
)

// Round is the per-round document stored under rooms/{code}/rounds/{n}.
type Round struct {
	HostItems        []Item            `json:"hostItems"`
	GuestItems       []Item            `json:"guestItems"`
	Interlude        string            `json:"interlude,omitempty"`
	Timings          map[string]Timing `json:"timings,omitempty"`
	TimingsMeta      TimingsMeta       `json:"timingsMeta"`
	SnippetWinnerUID *string           `json:"snippetWinnerUid"`
	SnippetTie       bool              `json:"snippetTie"`
}

// Item is a two-option question. Correct is "A" or "B".
type Item struct {
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
	Correct string   `json:"correct"`
}

// CorrectText returns the text of the correct option, or "" when the item is malformed.
func (i Item) CorrectText() string {
	idx := 0
	if strings.EqualFold(i.Correct, "B") {
		idx = 1
	}
	if idx >= len(i.Options) {
		return ""
	}
	return i.Options[idx]
}

// Timing is one participant's answering time for a round.
type Timing struct {
	Role    Role   `json:"role,omitempty"`
	TotalMs Millis `json:"totalMs"`
}

type TimingsMeta struct {
	QuestionsStartAt *int64 `json:"questionsStartAt,omitempty"`
}

// ItemsFor returns the questions answered by role.
func (r *Round) ItemsFor(role Role) []Item {
	if role == RoleHost {
		return r.HostItems
	}
	return r.GuestItems
}

// Ready reports whether both seats have a full set of items.
func (r *Round) Ready() bool {
	return r != nil && len(r.HostItems) == ItemsPerRole && len(r.GuestItems) == ItemsPerRole
}

// SetTiming records uid's total answering time.
func (r *Round) SetTiming(uid string, role Role, totalMs float64) {
	if r.Timings == nil {
		r.Timings = make(map[string]Timing)
	}
	r.Timings[uid] = Timing{Role: role, TotalMs: Millis{Value: totalMs, Valid: true}}
}

// Millis is a client-written millisecond count. Values that are not JSON
// numbers decode as invalid instead of failing the whole document.
type Millis struct {
	Value float64
	Valid bool
}

func (m Millis) MarshalJSON() ([]byte, error) {
	if !m.Finite() {
		return []byte("null"), nil
	}
	return json.Marshal(m.Value)
}

func (m *Millis) UnmarshalJSON(b []byte) error {
	var v float64
	if err := json.Unmarshal(b, &v); err != nil || string(b) == "null" {
		*m = Millis{}
		return nil
	}
	*m = Millis{Value: v, Valid: true}
	return nil
}

// Finite reports whether m holds a usable number.
func (m Millis) Finite() bool {
	return m.Valid && !math.IsNaN(m.Value) && !math.IsInf(m.Value, 0)
}
