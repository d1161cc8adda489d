package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mcdev12/jemima/go/internal/changefeed"
	"github.com/mcdev12/jemima/go/internal/match/flow"
	"github.com/mcdev12/jemima/go/internal/match/marking"
	"github.com/mcdev12/jemima/go/internal/match/role"
	"github.com/mcdev12/jemima/go/internal/match/seeding"
	"github.com/mcdev12/jemima/go/internal/store/mongostore"
	"github.com/mcdev12/jemima/go/internal/store/pgstore"
)

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "jemima",
		Short:         "Two-player trivia match clients coordinating through a shared document store.",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			level, err := zerolog.ParseLevel(g.logLevel)
			if err != nil {
				return fmt.Errorf("invalid --log-level: %w", err)
			}
			zerolog.SetGlobalLevel(level)
			return nil
		},
	}
	g.register(cmd.PersistentFlags())
	bindEnv(cmd.PersistentFlags())

	cmd.AddCommand(
		newPlayCmd(g),
		newSeedCmd(g),
		newFinalizeCmd(g),
		newGatewayCmd(g),
		newRelayCmd(g),
		newMigrateCmd(g),
		newDemoCmd(g),
	)
	cmd.CompletionOptions.HiddenDefaultCmd = true
	return cmd
}

// withServices resolves the config and opens the store around fn.
func withServices(ctx context.Context, g *globalFlags, fn func(ctx context.Context, cfg *Config, svc *Services) error) error {
	cfg, err := g.resolve()
	if err != nil {
		return err
	}
	svc, err := setupServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(ctx, cfg, svc)
}

func clientTiming(cfg *Config) flow.Timing {
	return flow.Timing{
		QuestionTimeout: cfg.Client.QuestionTimeout,
		TickInterval:    cfg.Client.TickInterval,
		AwardHold:       cfg.Client.AwardHold,
		InterludeHold:   cfg.Client.InterludeHold,
		MathsHold:       cfg.Client.MathsHold,
	}
}

func newPlayCmd(g *globalFlags) *cobra.Command {
	var (
		code      string
		at        string
		identity  string
		watch     bool
		roleCache string
	)
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Join a room as host, guest or spectator and play it through to the final screen.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			room, start, err := playTarget(code, at)
			if err != nil {
				return err
			}
			return withServices(cmd.Context(), g, func(ctx context.Context, cfg *Config, svc *Services) error {
				path := roleCache
				if path == "" {
					path = cfg.Client.RoleCache
				}
				if path == "" {
					p, err := role.DefaultCachePath()
					if err != nil {
						return err
					}
					path = p
				}
				if identity == "" {
					identity = uuid.NewString()
					log.Warn().Str("identity", identity).Msg("no --identity given, using a fresh one")
				}

				c := flow.NewController(room, identity, flow.Options{
					Store:     svc.Store,
					Roles:     role.NewResolver(role.NewFileCache(path)),
					Presenter: flow.LogPresenter{},
					Input:     newLineInput(ctx, os.Stdin),
					Timing:    clientTiming(cfg),
					Watch:     watch,
					Start:     start,
				})
				return c.Run(ctx)
			})
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&code, "room", "", "room code (env: JEMIMA_ROOM)")
	fs.StringVar(&at, "at", "", "start at an address such as /rejoin?code=ABC&round=2 (env: JEMIMA_AT)")
	fs.StringVar(&identity, "identity", "", "stable participant identifier (env: JEMIMA_IDENTITY)")
	fs.BoolVar(&watch, "watch", false, "follow the match without playing (env: JEMIMA_WATCH)")
	fs.StringVar(&roleCache, "role-cache", "", "file remembering this client's role per room (env: JEMIMA_ROLE_CACHE)")
	bindEnv(fs)
	return cmd
}

// playTarget combines --room and --at. The address's code wins when
// --room is empty and must agree with it otherwise.
func playTarget(code, at string) (string, flow.Address, error) {
	if at == "" {
		if code == "" {
			return "", flow.Address{}, errors.New("one of --room or --at is required")
		}
		return code, flow.Address{}, nil
	}
	start, err := flow.ParseAddress(at)
	if err != nil {
		return "", flow.Address{}, err
	}
	if code != "" && code != start.Code {
		return "", flow.Address{}, fmt.Errorf("--room %s does not match --at room %s", code, start.Code)
	}
	return start.Code, start, nil
}

func newSeedCmd(g *globalFlags) *cobra.Command {
	var (
		packPath string
		password string
		code     string
		host     string
		guest    string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a questions pack into a room and leave it ready to start.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(packPath)
			if err != nil {
				return fmt.Errorf("read pack: %w", err)
			}
			pack, err := seeding.LoadPack(data, password)
			if err != nil {
				return err
			}
			if code != "" {
				if !seeding.ValidRoomCode(code) {
					return fmt.Errorf("%w: room code %q", seeding.ErrInvalidPack, code)
				}
				pack.Meta.RoomCode = code
			}
			return withServices(cmd.Context(), g, func(ctx context.Context, _ *Config, svc *Services) error {
				return seeding.Seed(ctx, svc.Store, clockwork.NewRealClock(), pack, seeding.Participants{HostID: host, GuestID: guest})
			})
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&packPath, "pack", "", "questions pack, plain or sealed JSON (env: JEMIMA_PACK)")
	fs.StringVar(&password, "password", "", "password for a sealed pack (env: JEMIMA_PASSWORD)")
	fs.StringVar(&code, "room", "", "override the pack's room code (env: JEMIMA_ROOM)")
	fs.StringVar(&host, "host", "", "host identifier, overrides the pack (env: JEMIMA_HOST)")
	fs.StringVar(&guest, "guest", "", "guest identifier, overrides the pack (env: JEMIMA_GUEST)")
	_ = cmd.MarkFlagRequired("pack")
	bindEnv(fs)
	return cmd
}

func newFinalizeCmd(g *globalFlags) *cobra.Command {
	var (
		code  string
		round int
	)
	cmd := &cobra.Command{
		Use:   "finalize",
		Short: "Make one finalization attempt for a round stuck in marking.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withServices(cmd.Context(), g, func(ctx context.Context, _ *Config, svc *Services) error {
				applied, err := marking.NewFinalizer(svc.Store, clockwork.NewRealClock()).Finalize(ctx, code, round)
				if err != nil {
					return err
				}
				log.Info().Str("room", code).Int("round", round).Bool("applied", applied).Msg("finalize attempt done")
				return nil
			})
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&code, "room", "", "room code (env: JEMIMA_ROOM)")
	fs.IntVar(&round, "round", 1, "round number (env: JEMIMA_ROUND)")
	_ = cmd.MarkFlagRequired("room")
	bindEnv(fs)
	return cmd
}

func newGatewayCmd(g *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Serve read-only room summaries and live room streams over HTTP.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withServices(cmd.Context(), g, func(ctx context.Context, cfg *Config, svc *Services) error {
				override(&cfg.Gateway.Addr, addr)
				return serveGateway(ctx, cfg, svc)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, default :8080 (env: JEMIMA_ADDR)")
	bindEnv(cmd.Flags())
	return cmd
}

func newRelayCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Relay Postgres document changes into JetStream.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.resolve()
			if err != nil {
				return err
			}
			return runRelay(cmd.Context(), cfg)
		},
	}
}

func runRelay(ctx context.Context, cfg *Config) error {
	if cfg.Store.Backend != "postgres" {
		return errors.New("relay needs --store postgres")
	}
	pool, err := pgstore.Connect(ctx, cfg.Store.PostgresDSN)
	if err != nil {
		return err
	}
	source := pgstore.New(pool, nil, pgstore.Config{})
	defer source.Close()

	lc := changefeed.DefaultListenerConfig()
	lc.DatabaseURL = cfg.Store.PostgresDSN
	feed, err := changefeed.NewPQListener(lc)
	if err != nil {
		return err
	}
	publisher, err := changefeed.NewJetStreamPublisher(ctx, jetStreamConfig(cfg))
	if err != nil {
		return err
	}
	defer publisher.Close()

	instance := uuid.NewString()
	log.Info().Str("instance", instance).Str("nats_url", cfg.Feed.NATSURL).Msg("starting change relay")
	err = changefeed.NewRelay(feed, source, publisher, changefeed.DefaultRelayConfig()).Start(ctx)
	log.Info().Str("instance", instance).Msg("change relay stopped")
	return err
}

func newMigrateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the document table (postgres) or indexes (mongo).",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.resolve()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			switch cfg.Store.Backend {
			case "postgres":
				pool, err := pgstore.Connect(ctx, cfg.Store.PostgresDSN)
				if err != nil {
					return err
				}
				defer pool.Close()
				if err := pgstore.Migrate(ctx, pool); err != nil {
					return err
				}
			case "mongo":
				s, err := mongostore.Connect(ctx, cfg.Store.MongoURI, cfg.Store.MongoDB)
				if err != nil {
					return err
				}
				defer s.Close()
				if err := s.EnsureIndexes(ctx); err != nil {
					return err
				}
			default:
				log.Info().Msg("memory store needs no migration")
				return nil
			}
			log.Info().Str("store", cfg.Store.Backend).Msg("migration complete")
			return nil
		},
	}
}
