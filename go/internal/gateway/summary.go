// Package gateway is the read-only HTTP and WebSocket surface the
// presentation layer reads final and live match state from. It never
// writes to the store.
package gateway

import (
	"context"
	"errors"

	"github.com/mcdev12/jemima/go/internal/models"
	"github.com/mcdev12/jemima/go/internal/store"
)

// RoomSummary is the presentation view of a room and its rounds.
type RoomSummary struct {
	Code       string                                     `json:"code"`
	State      models.Phase                               `json:"state"`
	Round      int                                        `json:"round"`
	Scores     models.Scores                              `json:"scores"`
	Answers    map[models.Role]map[string][]models.Answer `json:"answers,omitempty"`
	MarkingAck map[models.Role]map[string]bool            `json:"markingAck,omitempty"`
	Rounds     []RoundSummary                             `json:"rounds"`
	UpdatedAt  int64                                      `json:"updatedAt"`
}

type RoundSummary struct {
	Round            int           `json:"round"`
	HostItems        []models.Item `json:"hostItems"`
	GuestItems       []models.Item `json:"guestItems"`
	Interlude        string        `json:"interlude,omitempty"`
	SnippetWinnerUID *string       `json:"snippetWinnerUid"`
	SnippetTie       bool          `json:"snippetTie"`
}

// BuildSummary reads the room and every seeded round. Unseeded rounds are skipped.
func BuildSummary(ctx context.Context, g store.Getter, code string) (*RoomSummary, error) {
	room, err := store.GetRoom(ctx, g, code)
	if err != nil {
		return nil, err
	}
	s := &RoomSummary{
		Code:       code,
		State:      room.State,
		Round:      room.Round,
		Scores:     room.Scores,
		Answers:    room.Answers,
		MarkingAck: room.MarkingAck,
		Rounds:     []RoundSummary{},
		UpdatedAt:  room.Timestamps.UpdatedAt,
	}
	for n := models.FirstRound; n <= models.LastRound; n++ {
		rd, err := store.GetRound(ctx, g, code, n)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		s.Rounds = append(s.Rounds, RoundSummary{
			Round:            n,
			HostItems:        rd.HostItems,
			GuestItems:       rd.GuestItems,
			Interlude:        rd.Interlude,
			SnippetWinnerUID: rd.SnippetWinnerUID,
			SnippetTie:       rd.SnippetTie,
		})
	}
	return s, nil
}
