package flow

import (
	"time"

	"github.com/mcdev12/jemima/go/internal/models"
)

// PickFunc chooses an option index for a question; a negative index lets
// the question time out.
type PickFunc func(round, index int, item models.Item) int

// PickCorrect always chooses the right answer.
func PickCorrect(_, _ int, item models.Item) int {
	if item.Correct == "B" {
		return 1
	}
	return 0
}

// PickFirst always chooses option A.
func PickFirst(int, int, models.Item) int {
	return 0
}

// AutoPlayer is an Input that answers each presented question with Pick
// and retries every failed submission. Other events go to the wrapped Presenter.
type AutoPlayer struct {
	Presenter
	pick    PickFunc
	choices chan int
	retries chan struct{}
}

func NewAutoPlayer(p Presenter, pick PickFunc) *AutoPlayer {
	return &AutoPlayer{
		Presenter: p,
		pick:      pick,
		choices:   make(chan int, models.ItemsPerRole),
		retries:   make(chan struct{}, 1),
	}
}

func (a *AutoPlayer) Question(round, index int, item models.Item, deadline time.Time) {
	a.Presenter.Question(round, index, item, deadline)
	choice := a.pick(round, index, item)
	if choice < 0 {
		return
	}
	select {
	case a.choices <- choice:
	default:
	}
}

func (a *AutoPlayer) SubmitFailed(round int, err error) {
	a.Presenter.SubmitFailed(round, err)
	select {
	case a.retries <- struct{}{}:
	default:
	}
}

func (a *AutoPlayer) Choices() <-chan int {
	return a.choices
}

func (a *AutoPlayer) Retries() <-chan struct{} {
	return a.retries
}
