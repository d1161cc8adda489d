package flow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/jemima/go/internal/match/countdown"
	"github.com/mcdev12/jemima/go/internal/match/marking"
	"github.com/mcdev12/jemima/go/internal/match/phase"
	"github.com/mcdev12/jemima/go/internal/match/role"
	"github.com/mcdev12/jemima/go/internal/models"
	"github.com/mcdev12/jemima/go/internal/store"
)

// View is one phase screen. Mount starts it for addr; Teardown stops its
// subscriptions and timers and waits for them to finish.
type View interface {
	Mount(ctx context.Context, addr Address) error
	Teardown()
}

// Timing tunes how fast a client moves through a match.
type Timing struct {
	Countdown       countdown.Config
	QuestionTimeout time.Duration
	TickInterval    time.Duration
	AwardHold       time.Duration
	InterludeHold   time.Duration
	MathsHold       time.Duration
}

func (t Timing) withDefaults() Timing {
	if t.TickInterval <= 0 {
		t.TickInterval = 250 * time.Millisecond
	}
	if t.AwardHold <= 0 {
		t.AwardHold = 5 * time.Second
	}
	if t.InterludeHold <= 0 {
		t.InterludeHold = 5 * time.Second
	}
	if t.MathsHold <= 0 {
		t.MathsHold = 5 * time.Second
	}
	return t
}

type Options struct {
	Store     store.Store
	Clock     clockwork.Clock
	Roles     *role.Resolver
	Presenter Presenter
	Input     Input
	Timing    Timing

	// Watch follows the match as a spectator that never writes.
	Watch bool

	// Start overrides the first address, for example a deep link parsed
	// with ParseAddress. The zero value derives it from the room.
	Start Address
}

// Controller drives one client through a room. It resolves the client's
// role once, then mounts the view for each phase the room reaches.
type Controller struct {
	opts     Options
	code     string
	identity string

	role      models.Role
	machine   *phase.Machine
	countdown *countdown.Synchronizer
	finalizer *marking.Finalizer

	// interludes records rounds whose interlude was already considered.
	// Only touched from Mount, which runs on the Run goroutine.
	interludes map[int]bool

	navMu sync.Mutex
	navs  chan Address
}

func NewController(code, identity string, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Roles == nil {
		opts.Roles = role.NewResolver(role.NewMemoryCache())
	}
	if opts.Presenter == nil {
		opts.Presenter = LogPresenter{}
	}
	opts.Timing = opts.Timing.withDefaults()
	opts.Timing.Countdown.Clock = opts.Clock
	return &Controller{
		opts:     opts,
		code:     code,
		identity: identity,
		navs:     make(chan Address, 1),

		interludes: make(map[int]bool),
	}
}

// Role is the resolved seat, valid once Run has loaded the room.
func (c *Controller) Role() models.Role {
	return c.role
}

// Navigate requests a move to addr. Only the latest pending request is kept.
func (c *Controller) Navigate(addr Address) {
	c.navMu.Lock()
	defer c.navMu.Unlock()
	select {
	case <-c.navs:
	default:
	}
	c.navs <- addr
}

// Run returns nil once the final view is mounted, or ctx's error.
func (c *Controller) Run(ctx context.Context) error {
	room, err := store.GetRoom(ctx, c.opts.Store, c.code)
	if err != nil {
		return fmt.Errorf("load room %s: %w", c.code, err)
	}
	c.role = c.opts.Roles.Resolve(c.code, room, c.identity)
	c.machine = phase.NewMachine(c.opts.Store, c.opts.Clock, c.role)
	c.countdown = countdown.NewSynchronizer(c.opts.Store, c.machine, c.code, c.opts.Timing.Countdown)
	c.finalizer = marking.NewFinalizer(c.opts.Store, c.opts.Clock)

	start := AddressFor(c.code, room)
	switch {
	case c.opts.Watch:
		start.Phase = models.PhaseWatcher
	case midMatch(room.State):
		start.Phase = models.PhaseRejoin
	}
	if c.opts.Start.Phase != "" {
		start = c.opts.Start
	}
	c.Navigate(start)

	var (
		current View
		at      Address
		mounted bool
	)
	defer func() {
		if current != nil {
			current.Teardown()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case addr := <-c.navs:
			if mounted && addr == at {
				continue
			}
			if current != nil {
				current.Teardown()
				current = nil
			}
			at, mounted = addr, true

			log.Debug().
				Str("room", c.code).
				Str("role", string(c.role)).
				Str("at", addr.String()).
				Msg("navigating")

			v := c.viewFor(addr.Phase)
			if err := v.Mount(ctx, addr); err != nil {
				log.Error().Err(err).Str("room", c.code).Str("at", addr.String()).Msg("failed to mount view")
				c.opts.Presenter.Waiting(addr, "reconnecting")
				mounted = false
				c.retryLater(ctx, addr)
				continue
			}
			current = v
			if addr.Phase == models.PhaseFinal {
				return nil
			}
		}
	}
}

func (c *Controller) retryLater(ctx context.Context, addr Address) {
	go func() {
		select {
		case <-ctx.Done():
		case <-c.opts.Clock.After(4 * c.opts.Timing.TickInterval):
			c.Navigate(addr)
		}
	}()
}

func (c *Controller) viewFor(p models.Phase) View {
	switch p {
	case models.PhaseSeeding:
		return &seedingView{c: c}
	case models.PhaseCountdown:
		return &countdownView{c: c}
	case models.PhaseQuestions:
		return &questionsView{c: c}
	case models.PhaseMarking:
		return &markingView{c: c}
	case models.PhaseAward:
		return &awardView{c: c}
	case models.PhaseInterlude:
		return &interludeView{c: c}
	case models.PhaseMaths:
		return &mathsView{c: c}
	case models.PhaseFinal:
		return &finalView{c: c}
	case models.PhaseRejoin:
		return &rejoinView{c: c}
	case models.PhaseWatcher:
		return &watcherView{c: c}
	}
	return &waitingView{c: c}
}

func (c *Controller) host() bool {
	return c.role == models.RoleHost && !c.opts.Watch
}

// rooms decodes the room subscription. Undecodable snapshots are logged and dropped.
func (c *Controller) rooms(ctx context.Context) (<-chan *models.Room, error) {
	snaps, err := c.opts.Store.Subscribe(ctx, store.RoomKey(c.code))
	if err != nil {
		return nil, fmt.Errorf("subscribe room %s: %w", c.code, err)
	}
	out := make(chan *models.Room, 1)
	go func() {
		defer close(out)
		for snap := range snaps {
			room, err := store.DecodeRoom(snap)
			if err != nil {
				log.Warn().Err(err).Str("room", c.code).Msg("skipping room snapshot")
				continue
			}
			select {
			case <-out:
			default:
			}
			out <- room
		}
	}()
	return out, nil
}

// moved navigates away and reports true once room has left addr.
func (c *Controller) moved(addr Address, room *models.Room) bool {
	if room.State == addr.Phase && room.Round == addr.Round {
		return false
	}
	c.Navigate(AddressFor(c.code, room))
	return true
}

// interludeFirst reports whether the countdown at addr should be preceded
// by its round's interlude. Each round is considered once; the countdown
// deadline is absolute, so a client held in the interlude just joins late.
func (c *Controller) interludeFirst(ctx context.Context, addr Address) bool {
	if c.interludes[addr.Round] {
		return false
	}
	c.interludes[addr.Round] = true
	rd, err := store.GetRound(ctx, c.opts.Store, c.code, addr.Round)
	return err == nil && rd.Interlude != ""
}

func midMatch(p models.Phase) bool {
	switch p {
	case models.PhaseCountdown, models.PhaseQuestions, models.PhaseMarking,
		models.PhaseAward, models.PhaseMaths:
		return true
	}
	return false
}
