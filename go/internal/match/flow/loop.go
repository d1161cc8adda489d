package flow

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/jemima/go/internal/models"
)

// loop runs a view's body in the background until Teardown.
type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (l *loop) begin(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	l.cancel = cancel
	l.done = make(chan struct{})
	return ctx
}

func (l *loop) run(body func()) {
	go func() {
		defer close(l.done)
		body()
	}()
}

// abort undoes begin when Mount fails before run.
func (l *loop) abort(err error) error {
	l.cancel()
	close(l.done)
	return err
}

func (l *loop) Teardown() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
}

// hooks customise follow. onHold fires once after hold; returning an
// error re-arms it a tick later.
type hooks struct {
	onRoom func(ctx context.Context, room *models.Room)
	tick   func(ctx context.Context, room *models.Room)
	hold   time.Duration
	onHold func(ctx context.Context, room *models.Room) error
}

// follow mounts a view that reacts to room snapshots while the room stays at addr.
func (c *Controller) follow(parent context.Context, l *loop, addr Address, h hooks) error {
	ctx := l.begin(parent)
	rooms, err := c.rooms(ctx)
	if err != nil {
		return l.abort(err)
	}

	l.run(func() {
		var tickC <-chan time.Time
		if h.tick != nil {
			ticker := c.opts.Clock.NewTicker(c.opts.Timing.TickInterval)
			defer ticker.Stop()
			tickC = ticker.Chan()
		}
		var holdC <-chan time.Time
		if h.onHold != nil {
			holdC = c.opts.Clock.After(h.hold)
		}

		var latest *models.Room
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
				if h.onRoom != nil {
					h.onRoom(ctx, room)
				}
			case <-tickC:
				if latest != nil {
					h.tick(ctx, latest)
				}
			case <-holdC:
				holdC = nil
				if latest == nil {
					holdC = c.opts.Clock.After(c.opts.Timing.TickInterval)
					continue
				}
				if err := h.onHold(ctx, latest); err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Error().Err(err).Str("room", c.code).Str("at", addr.String()).Msg("host advance failed")
					holdC = c.opts.Clock.After(c.opts.Timing.TickInterval)
				}
			}
		}
	})
	return nil
}
