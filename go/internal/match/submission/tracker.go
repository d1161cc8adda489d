// Package submission collects one client's answers for a round and writes
// them to the room in a single transaction.
package submission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/jemima/go/internal/models"
	"github.com/mcdev12/jemima/go/internal/store"
)

const DefaultQuestionTimeout = 10 * time.Second

var (
	ErrIncomplete       = errors.New("round needs exactly three items")
	ErrAlreadySubmitted = errors.New("answers already submitted")
	ErrInvalidOption    = errors.New("invalid option")
)

type Status int

const (
	StatusAnswering Status = iota
	StatusSubmitting
	StatusSubmitted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusAnswering:
		return "answering"
	case StatusSubmitting:
		return "submitting"
	case StatusSubmitted:
		return "submitted"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

type Config struct {
	Clock           clockwork.Clock
	QuestionTimeout time.Duration
}

// Seat identifies whose answers a tracker collects.
type Seat struct {
	Code     string
	Round    int
	Role     models.Role
	Identity string
}

// timingKey is the participant key used in the round's timings map.
func (s Seat) timingKey() string {
	if s.Identity != "" {
		return s.Identity
	}
	return string(s.Role)
}

// Tracker holds answers locally until the third question is answered or
// times out. A failed write leaves the tracker in StatusFailed until Retry.
type Tracker struct {
	store store.Store
	clock clockwork.Clock
	seat  Seat
	items []models.Item
	limit time.Duration

	mu       sync.Mutex
	answers  []models.Answer
	started  time.Time
	deadline time.Time
	totalMs  float64
	status   Status
	err      error
}

func NewTracker(s store.Store, seat Seat, items []models.Item, cfg Config) (*Tracker, error) {
	if len(items) != models.ItemsPerRole {
		return nil, fmt.Errorf("%w: got %d", ErrIncomplete, len(items))
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.QuestionTimeout <= 0 {
		cfg.QuestionTimeout = DefaultQuestionTimeout
	}
	now := cfg.Clock.Now()
	return &Tracker{
		store:    s,
		clock:    cfg.Clock,
		seat:     seat,
		items:    items,
		limit:    cfg.QuestionTimeout,
		started:  now,
		deadline: now.Add(cfg.QuestionTimeout),
	}, nil
}

// Current returns the question being answered and its deadline.
func (t *Tracker) Current() (int, models.Item, time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := len(t.answers)
	if t.status != StatusAnswering || idx >= len(t.items) {
		return idx, models.Item{}, time.Time{}, false
	}
	return idx, t.items[idx], t.deadline, true
}

// Choose answers the current question with the option at index option.
func (t *Tracker) Choose(ctx context.Context, option int) error {
	t.mu.Lock()
	if t.status != StatusAnswering {
		t.mu.Unlock()
		return ErrAlreadySubmitted
	}
	item := t.items[len(t.answers)]
	if option < 0 || option >= len(item.Options) {
		t.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrInvalidOption, option)
	}
	done := t.recordLocked(item.Options[option])
	t.mu.Unlock()

	if done {
		return t.write(ctx)
	}
	return nil
}

// Tick auto-fills an empty answer when the current question's deadline has passed.
func (t *Tracker) Tick(ctx context.Context) error {
	t.mu.Lock()
	if t.status != StatusAnswering || t.clock.Now().Before(t.deadline) {
		t.mu.Unlock()
		return nil
	}
	done := t.recordLocked("")
	t.mu.Unlock()

	if done {
		return t.write(ctx)
	}
	return nil
}

// Retry re-issues a failed write.
func (t *Tracker) Retry(ctx context.Context) error {
	t.mu.Lock()
	if t.status != StatusFailed {
		t.mu.Unlock()
		return nil
	}
	t.status = StatusSubmitting
	t.err = nil
	t.mu.Unlock()
	return t.write(ctx)
}

func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Err returns the last write failure.
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Tracker) Answers() []models.Answer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.Answer(nil), t.answers...)
}

// recordLocked stores chosen for the current question and reports whether
// that was the last one.
func (t *Tracker) recordLocked(chosen string) bool {
	item := t.items[len(t.answers)]
	t.answers = append(t.answers, models.Answer{
		Question: item.Prompt,
		Chosen:   chosen,
		Correct:  item.CorrectText(),
	})
	now := t.clock.Now()
	if len(t.answers) < len(t.items) {
		t.deadline = now.Add(t.limit)
		return false
	}
	t.totalMs = float64(now.Sub(t.started)) / float64(time.Millisecond)
	t.status = StatusSubmitting
	return true
}

func (t *Tracker) write(ctx context.Context) error {
	answers := t.Answers()
	t.mu.Lock()
	totalMs := t.totalMs
	t.mu.Unlock()

	err := t.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		room, err := store.GetRoom(ctx, tx, t.seat.Code)
		if err != nil {
			return err
		}
		if room.Complete(t.seat.Role, t.seat.Round) {
			return nil
		}
		rd, err := store.GetRound(ctx, tx, t.seat.Code, t.seat.Round)
		if err != nil {
			return err
		}
		room.SetAnswers(t.seat.Role, t.seat.Round, answers)
		room.SetSubmitted(t.seat.Role, t.seat.Round)
		rd.SetTiming(t.seat.timingKey(), t.seat.Role, totalMs)
		if err := store.PutRoom(tx, t.seat.Code, room, t.clock.Now()); err != nil {
			return err
		}
		return store.PutRound(tx, t.seat.Code, t.seat.Round, rd)
	})

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.status = StatusFailed
		t.err = err
		log.Error().
			Err(err).
			Str("room", t.seat.Code).
			Int("round", t.seat.Round).
			Str("role", string(t.seat.Role)).
			Msg("failed to submit answers")
		return fmt.Errorf("submit answers: %w", err)
	}
	t.status = StatusSubmitted
	log.Info().
		Str("room", t.seat.Code).
		Int("round", t.seat.Round).
		Str("role", string(t.seat.Role)).
		Float64("total_ms", totalMs).
		Msg("answers submitted")
	return nil
}

// BothComplete reports whether host and guest have submitted full answer sets.
func BothComplete(room *models.Room, round int) bool {
	return room.Complete(models.RoleHost, round) && room.Complete(models.RoleGuest, round)
}
