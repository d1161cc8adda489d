package flow

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/jemima/go/internal/match/countdown"
	"github.com/mcdev12/jemima/go/internal/match/phase"
	"github.com/mcdev12/jemima/go/internal/match/submission"
	"github.com/mcdev12/jemima/go/internal/models"
	"github.com/mcdev12/jemima/go/internal/store"
)

// waitingView covers the pre-game phases, which the host leaves through seeding.
type waitingView struct {
	loop
	c *Controller
}

func (v *waitingView) Mount(ctx context.Context, addr Address) error {
	v.c.opts.Presenter.Waiting(addr, "waiting for the room to be seeded")
	return v.c.follow(ctx, &v.loop, addr, hooks{})
}

type seedingView struct {
	loop
	c *Controller
}

func (v *seedingView) Mount(ctx context.Context, addr Address) error {
	c := v.c
	c.opts.Presenter.Waiting(addr, "loading questions")
	h := hooks{}
	if c.host() {
		// Round docs are not subscribed, so readiness is polled.
		h.tick = func(ctx context.Context, room *models.Room) {
			rd, err := store.GetRound(ctx, c.opts.Store, c.code, addr.Round)
			if err != nil || !rd.Ready() {
				return
			}
			t, _ := phase.Next(models.PhaseSeeding, addr.Round)
			if _, err := c.machine.Advance(ctx, c.code, t); err != nil {
				log.Error().Err(err).Str("room", c.code).Msg("failed to leave seeding")
			}
		}
	}
	return c.follow(ctx, &v.loop, addr, h)
}

type countdownView struct {
	loop
	c *Controller
}

func (v *countdownView) Mount(parent context.Context, addr Address) error {
	c := v.c
	if c.interludeFirst(parent, addr) {
		c.Navigate(Address{Phase: models.PhaseInterlude, Code: addr.Code, Round: addr.Round})
		return nil
	}
	ctx := v.begin(parent)
	rooms, err := c.rooms(ctx)
	if err != nil {
		return v.abort(err)
	}

	v.run(func() {
		ready := false
		_, err := c.countdown.WaitForRound(ctx, addr.Round)
		switch {
		case err == nil:
			ready = true
		case errors.Is(err, countdown.ErrRoundNotReady):
			c.opts.Presenter.Waiting(addr, "waiting for round data")
		case ctx.Err() != nil:
			return
		default:
			log.Error().Err(err).Str("room", c.code).Int("round", addr.Round).Msg("round wait failed")
		}

		ticker := c.opts.Clock.NewTicker(c.opts.Timing.TickInterval)
		defer ticker.Stop()

		var latest *models.Room
		shown := -2
		arm := func() {
			if !c.host() || !ready || latest.Countdown.StartAt != nil {
				return
			}
			if _, err := c.countdown.Arm(ctx, addr.Round); err != nil {
				log.Error().Err(err).Str("room", c.code).Int("round", addr.Round).Msg("failed to arm countdown")
			}
		}
		show := func() {
			remaining, err := c.countdown.Tick(ctx, latest, ready)
			if err != nil {
				log.Error().Err(err).Str("room", c.code).Int("round", addr.Round).Msg("failed to start questions")
			}
			if remaining >= 0 && remaining != shown {
				shown = remaining
				c.opts.Presenter.Countdown(addr.Round, remaining)
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case room, ok := <-rooms:
				if !ok {
					return
				}
				if c.moved(addr, room) {
					return
				}
				latest = room
				arm()
				show()
			case <-ticker.Chan():
				if latest == nil {
					continue
				}
				if !ready {
					rd, err := store.GetRound(ctx, c.opts.Store, c.code, addr.Round)
					ready = err == nil && rd.Ready()
					arm()
				}
				show()
			}
		}
	})
	return nil
}

type questionsView struct {
	loop
	c *Controller
}

func (v *questionsView) Mount(parent context.Context, addr Address) error {
	c := v.c
	ctx := v.begin(parent)
	rooms, err := c.rooms(ctx)
	if err != nil {
		return v.abort(err)
	}

	v.run(func() {
		tracker := v.tracker(ctx, addr)

		var choices <-chan int
		var retries <-chan struct{}
		if tracker != nil && c.opts.Input != nil {
			choices = c.opts.Input.Choices()
			retries = c.opts.Input.Retries()
		}
		ticker := c.opts.Clock.NewTicker(c.opts.Timing.TickInterval)
		defer ticker.Stop()

		// The host re-checks completeness on ticks too, so a failed flip
		// into marking is retried without waiting for another write.
		var latest *models.Room
		toMarking := func() {
			if !c.host() || latest == nil || !submission.BothComplete(latest, addr.Round) {
				return
			}
			if _, err := c.machine.Advance(ctx, c.code, phase.ToMarking(addr.Round)); err != nil {
				log.Error().Err(err).Str("room", c.code).Int("round", addr.Round).Msg("failed to start marking")
			}
		}

		shown := -1
		reported := submission.StatusAnswering
		refresh := func() {
			if tracker == nil {
				return
			}
			if idx, item, deadline, ok := tracker.Current(); ok && idx != shown {
				shown = idx
				c.opts.Presenter.Question(addr.Round, idx, item, deadline)
			}
			status := tracker.Status()
			if status == reported {
				return
			}
			reported = status
			switch status {
			case submission.StatusSubmitted:
				c.opts.Presenter.Submitted(addr.Round)
			case submission.StatusFailed:
				c.opts.Presenter.SubmitFailed(addr.Round, tracker.Err())
			}
		}
		refresh()

		for {
			select {
			case <-ctx.Done():
				return
			case room, ok := <-rooms:
				if !ok {
					return
				}
				if c.moved(addr, room) {
					return
				}
				latest = room
				toMarking()
			case option := <-choices:
				err := tracker.Choose(ctx, option)
				if errors.Is(err, submission.ErrInvalidOption) {
					log.Warn().Err(err).Str("room", c.code).Msg("ignoring choice")
				}
				refresh()
			case <-retries:
				_ = tracker.Retry(ctx)
				refresh()
			case <-ticker.Chan():
				if tracker != nil {
					_ = tracker.Tick(ctx)
					refresh()
				}
				toMarking()
			}
		}
	})
	return nil
}

// tracker is nil for spectators, when the round never loads, or when this
// seat already submitted before a reconnect.
func (v *questionsView) tracker(ctx context.Context, addr Address) *submission.Tracker {
	c := v.c
	if c.opts.Watch {
		return nil
	}
	rd, err := c.countdown.WaitForRound(ctx, addr.Round)
	if err != nil {
		if ctx.Err() == nil {
			c.opts.Presenter.Waiting(addr, "waiting for round data")
		}
		return nil
	}
	room, err := store.GetRoom(ctx, c.opts.Store, c.code)
	if err == nil && room.Complete(c.role, addr.Round) {
		c.opts.Presenter.Submitted(addr.Round)
		return nil
	}
	seat := submission.Seat{Code: c.code, Round: addr.Round, Role: c.role, Identity: c.identity}
	t, err := submission.NewTracker(c.opts.Store, seat, rd.ItemsFor(c.role), submission.Config{
		Clock:           c.opts.Clock,
		QuestionTimeout: c.opts.Timing.QuestionTimeout,
	})
	if err != nil {
		log.Error().Err(err).Str("room", c.code).Int("round", addr.Round).Msg("cannot track answers")
		c.opts.Presenter.Waiting(addr, "questions unavailable")
		return nil
	}
	return t
}

// markingView acks this seat and then races the other client to finalize
// on every room change; only one attempt can apply. A step that failed
// is retried on the next tick, since no further write may arrive.
type markingView struct {
	loop
	c *Controller
}

func (v *markingView) Mount(ctx context.Context, addr Address) error {
	c := v.c
	c.opts.Presenter.Marking(addr.Round)
	h := hooks{}
	if !c.opts.Watch {
		failed := false
		h.onRoom = func(ctx context.Context, room *models.Room) {
			failed = v.settle(ctx, addr.Round, room) != nil
		}
		h.tick = func(ctx context.Context, room *models.Room) {
			if failed {
				h.onRoom(ctx, room)
			}
		}
	}
	return c.follow(ctx, &v.loop, addr, h)
}

// settle writes this seat's ack, or once it is visible, tries to finalize.
func (v *markingView) settle(ctx context.Context, round int, room *models.Room) error {
	c := v.c
	if !room.Acked(c.role, round) {
		if err := c.finalizer.Ack(ctx, c.code, round, c.role); err != nil {
			log.Error().Err(err).Str("room", c.code).Int("round", round).Msg("failed to ack marking")
			return err
		}
		return nil
	}
	if _, err := c.finalizer.Finalize(ctx, c.code, round); err != nil {
		log.Error().Err(err).Str("room", c.code).Int("round", round).Msg("finalize attempt failed")
		return err
	}
	return nil
}

type awardView struct {
	loop
	c *Controller
}

func (v *awardView) Mount(ctx context.Context, addr Address) error {
	c := v.c
	shown := false
	h := hooks{
		onRoom: func(ctx context.Context, room *models.Room) {
			if shown {
				return
			}
			shown = true
			c.opts.Presenter.Award(v.summary(ctx, addr.Round, room))
		},
	}
	if c.host() {
		h.hold = c.opts.Timing.AwardHold
		h.onHold = func(ctx context.Context, _ *models.Room) error {
			_, err := c.machine.Advance(ctx, c.code, phase.AfterAward(addr.Round))
			return err
		}
	}
	return c.follow(ctx, &v.loop, addr, h)
}

func (v *awardView) summary(ctx context.Context, round int, room *models.Room) AwardSummary {
	c := v.c
	s := AwardSummary{Round: round, Scores: room.Scores.Questions}
	if rd, err := store.GetRound(ctx, c.opts.Store, c.code, round); err == nil {
		s.Tie = rd.SnippetTie
		if rd.SnippetWinnerUID != nil {
			s.WinnerUID = *rd.SnippetWinnerUID
		}
	}
	uid := room.IDFor(c.role)
	if uid == "" {
		uid = c.identity
	}
	if p, err := store.GetPlayer(ctx, c.opts.Store, uid); err == nil {
		s.Kept = p.RetainedSnippets[models.RoundField(round)]
	}
	return s
}

// interludeView shows a round's interlude text for InterludeHold on the
// way into its countdown. The room never stores this phase; afterwards the
// client goes wherever the room is.
type interludeView struct {
	loop
	c *Controller
}

func (v *interludeView) Mount(parent context.Context, addr Address) error {
	c := v.c
	c.interludes[addr.Round] = true
	text := ""
	if rd, err := store.GetRound(parent, c.opts.Store, c.code, addr.Round); err == nil {
		text = rd.Interlude
	}
	c.opts.Presenter.Interlude(addr.Round, text)

	ctx := v.begin(parent)
	v.run(func() {
		select {
		case <-ctx.Done():
			return
		case <-c.opts.Clock.After(c.opts.Timing.InterludeHold):
		}
		room, err := store.GetRoom(ctx, c.opts.Store, c.code)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Str("room", c.code).Int("round", addr.Round).Msg("failed to reload room after interlude")
				c.Navigate(Address{Phase: models.PhaseCountdown, Code: addr.Code, Round: addr.Round})
			}
			return
		}
		c.Navigate(AddressFor(c.code, room))
	})
	return nil
}

type mathsView struct {
	loop
	c *Controller
}

func (v *mathsView) Mount(ctx context.Context, addr Address) error {
	c := v.c
	shown := false
	h := hooks{
		onRoom: func(_ context.Context, room *models.Room) {
			if !shown {
				shown = true
				c.opts.Presenter.Maths(room.Scores.Questions)
			}
		},
	}
	if c.host() {
		h.hold = c.opts.Timing.MathsHold
		h.onHold = func(ctx context.Context, _ *models.Room) error {
			t, _ := phase.Next(models.PhaseMaths, addr.Round)
			_, err := c.machine.Advance(ctx, c.code, t)
			return err
		}
	}
	return c.follow(ctx, &v.loop, addr, h)
}

type finalView struct {
	c *Controller
}

func (v *finalView) Mount(ctx context.Context, _ Address) error {
	room, err := store.GetRoom(ctx, v.c.opts.Store, v.c.code)
	if err != nil {
		return err
	}
	v.c.opts.Presenter.Final(room)
	return nil
}

func (v *finalView) Teardown() {}

// rejoinView sends a reconnecting client straight to the room's current phase.
type rejoinView struct {
	c *Controller
}

func (v *rejoinView) Mount(ctx context.Context, addr Address) error {
	v.c.opts.Presenter.Waiting(addr, "rejoining")
	room, err := store.GetRoom(ctx, v.c.opts.Store, v.c.code)
	if err != nil {
		return err
	}
	log.Info().
		Str("room", v.c.code).
		Str("role", string(v.c.role)).
		Str("phase", string(room.State)).
		Msg("rejoining match")
	v.c.Navigate(AddressFor(v.c.code, room))
	return nil
}

func (v *rejoinView) Teardown() {}

// watcherView follows every phase without writing.
type watcherView struct {
	loop
	c *Controller
}

func (v *watcherView) Mount(parent context.Context, _ Address) error {
	c := v.c
	ctx := v.begin(parent)
	rooms, err := c.rooms(ctx)
	if err != nil {
		return v.abort(err)
	}
	v.run(func() {
		var last Address
		for {
			select {
			case <-ctx.Done():
				return
			case room, ok := <-rooms:
				if !ok {
					return
				}
				at := AddressFor(c.code, room)
				if at != last {
					last = at
					c.opts.Presenter.Watching(room)
				}
				if room.State == models.PhaseFinal {
					c.Navigate(at)
					return
				}
			}
		}
	})
	return nil
}
