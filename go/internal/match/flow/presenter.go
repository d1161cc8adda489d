package flow

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/jemima/go/internal/models"
)

// AwardSummary is what the award view shows once a round is finalized.
type AwardSummary struct {
	Round     int
	Tie       bool
	WinnerUID string
	Kept      bool // this client retained the round's snippet
	Scores    models.RoleScores
}

// Presenter renders what the views decide. It never writes to the store.
type Presenter interface {
	Waiting(addr Address, reason string)
	Countdown(round, remaining int)
	Question(round, index int, item models.Item, deadline time.Time)
	Submitted(round int)
	SubmitFailed(round int, err error)
	Marking(round int)
	Award(summary AwardSummary)
	Interlude(round int, text string)
	Maths(scores models.RoleScores)
	Final(room *models.Room)
	Watching(room *models.Room)
}

// Input delivers the player's choices and retry requests.
type Input interface {
	Choices() <-chan int
	Retries() <-chan struct{}
}

// LogPresenter renders every event as a structured log line.
type LogPresenter struct {
	Role models.Role
}

func (p LogPresenter) Waiting(addr Address, reason string) {
	log.Info().Str("role", string(p.Role)).Str("at", addr.String()).Str("reason", reason).Msg("waiting")
}

func (p LogPresenter) Countdown(round, remaining int) {
	log.Info().Str("role", string(p.Role)).Int("round", round).Int("remaining", remaining).Msg("countdown")
}

func (p LogPresenter) Question(round, index int, item models.Item, deadline time.Time) {
	log.Info().
		Str("role", string(p.Role)).
		Int("round", round).
		Int("question", index+1).
		Str("prompt", item.Prompt).
		Strs("options", item.Options).
		Time("deadline", deadline).
		Msg("question")
}

func (p LogPresenter) Submitted(round int) {
	log.Info().Str("role", string(p.Role)).Int("round", round).Msg("answers submitted, waiting for opponent")
}

func (p LogPresenter) SubmitFailed(round int, err error) {
	log.Warn().Err(err).Str("role", string(p.Role)).Int("round", round).Msg("submit failed, retry available")
}

func (p LogPresenter) Marking(round int) {
	log.Info().Str("role", string(p.Role)).Int("round", round).Msg("marking")
}

func (p LogPresenter) Award(s AwardSummary) {
	log.Info().
		Str("role", string(p.Role)).
		Int("round", s.Round).
		Bool("tie", s.Tie).
		Str("winner_uid", s.WinnerUID).
		Bool("kept", s.Kept).
		Int("host_score", s.Scores.Host).
		Int("guest_score", s.Scores.Guest).
		Msg("round awarded")
}

func (p LogPresenter) Interlude(round int, text string) {
	log.Info().Str("role", string(p.Role)).Int("round", round).Str("text", text).Msg("interlude")
}

func (p LogPresenter) Maths(scores models.RoleScores) {
	log.Info().Str("role", string(p.Role)).Int("host_score", scores.Host).Int("guest_score", scores.Guest).Msg("maths")
}

func (p LogPresenter) Final(room *models.Room) {
	log.Info().
		Str("role", string(p.Role)).
		Int("host_score", room.Scores.Questions.Host).
		Int("guest_score", room.Scores.Questions.Guest).
		Msg("match finished")
}

func (p LogPresenter) Watching(room *models.Room) {
	log.Info().Str("phase", string(room.State)).Int("round", room.Round).Msg("watching")
}
