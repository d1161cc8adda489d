package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mcdev12/jemima/go/internal/match/flow"
	"github.com/mcdev12/jemima/go/internal/match/seeding"
	"github.com/mcdev12/jemima/go/internal/models"
)

const (
	demoHost  = "demo-host"
	demoGuest = "demo-guest"
)

func newDemoCmd(g *globalFlags) *cobra.Command {
	var (
		code string
		fast bool
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Seed a generated pack and play it out with two automatic clients.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !seeding.ValidRoomCode(code) {
				return fmt.Errorf("%w: room code %q", seeding.ErrInvalidPack, code)
			}
			return withServices(cmd.Context(), g, func(ctx context.Context, cfg *Config, svc *Services) error {
				timing := clientTiming(cfg)
				if fast {
					timing = demoTiming()
				}
				if err := seeding.Seed(ctx, svc.Store, clockwork.NewRealClock(), demoPack(code), seeding.Participants{}); err != nil {
					return err
				}

				players := map[string]*flow.AutoPlayer{
					demoHost:  flow.NewAutoPlayer(flow.LogPresenter{Role: models.RoleHost}, flow.PickCorrect),
					demoGuest: flow.NewAutoPlayer(flow.LogPresenter{Role: models.RoleGuest}, flow.PickFirst),
				}
				errc := make(chan error, len(players))
				for identity, p := range players {
					c := flow.NewController(code, identity, flow.Options{
						Store:     svc.Store,
						Presenter: p,
						Input:     p,
						Timing:    timing,
					})
					go func() { errc <- c.Run(ctx) }()
				}
				for range players {
					if err := <-errc; err != nil {
						return err
					}
				}
				log.Info().Str("room", code).Msg("demo match finished")
				return nil
			})
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&code, "room", "DEM", "room code for the demo match")
	fs.BoolVar(&fast, "fast", true, "use short countdowns and holds")
	return cmd
}

func demoTiming() flow.Timing {
	return flow.Timing{
		QuestionTimeout: 5 * time.Second,
		TickInterval:    50 * time.Millisecond,
		AwardHold:       500 * time.Millisecond,
		InterludeHold:   500 * time.Millisecond,
		MathsHold:       500 * time.Millisecond,
	}
}

// demoPack builds arithmetic questions. Host items have the sum first,
// guest items have it second.
func demoPack(code string) *seeding.Pack {
	rounds := make(map[string]seeding.RoundPack)
	for n := models.FirstRound; n <= models.LastRound; n++ {
		rp := seeding.RoundPack{
			HostItems:  demoItems(n, 0, "A"),
			GuestItems: demoItems(n, models.ItemsPerRole, "B"),
		}
		if n == 3 {
			rp.Interlude = "Halfway there."
		}
		rounds[strconv.Itoa(n)] = rp
	}
	return &seeding.Pack{
		Version: seeding.PackVersion,
		Meta:    seeding.PackMeta{RoomCode: code, HostUID: demoHost, GuestUID: demoGuest},
		Rounds:  rounds,
	}
}

func demoItems(round, offset int, correct string) []models.Item {
	items := make([]models.Item, models.ItemsPerRole)
	for i := range items {
		a, b := round*3, offset+i+1
		sum, wrong := strconv.Itoa(a+b), strconv.Itoa(a+b+1)
		options := []string{sum, wrong}
		if correct == "B" {
			options = []string{wrong, sum}
		}
		items[i] = models.Item{
			Prompt:  fmt.Sprintf("What is %d + %d?", a, b),
			Options: options,
			Correct: correct,
		}
	}
	return items
}
