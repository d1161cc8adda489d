package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/jemima/go/internal/changefeed"
	"github.com/mcdev12/jemima/go/internal/store/mongostore"
	"github.com/mcdev12/jemima/go/internal/store/pgstore"
)

func setupPostgres(ctx context.Context, cfg *Config) (*Services, error) {
	pool, err := pgstore.Connect(ctx, cfg.Store.PostgresDSN)
	if err != nil {
		return nil, err
	}

	feed, closeFeed, err := openFeed(cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}
	hub := changefeed.NewHub(feed)
	hubCtx, cancel := context.WithCancel(ctx)
	go func() {
		if err := hub.Run(hubCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("change hub failed")
		}
	}()

	s := pgstore.New(pool, hub, pgstore.Config{
		NotifyChannel: changefeed.DefaultNotifyChannel,
		PollInterval:  cfg.Store.PollInterval,
	})
	log.Info().Str("feed", cfg.Feed.Kind).Msg("connected to postgres store")
	return &Services{Store: s, closers: []func(){closeFeed, cancel}}, nil
}

// openFeed returns the change feed the Postgres store's subscriptions listen on.
func openFeed(cfg *Config) (changefeed.Feed, func(), error) {
	switch cfg.Feed.Kind {
	case "jetstream":
		feed, err := changefeed.NewJetStreamFeed(jetStreamConfig(cfg))
		if err != nil {
			return nil, nil, fmt.Errorf("open jetstream feed: %w", err)
		}
		return feed, func() { _ = feed.Close() }, nil
	default:
		lc := changefeed.DefaultListenerConfig()
		lc.DatabaseURL = cfg.Store.PostgresDSN
		feed, err := changefeed.NewPQListener(lc)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres listener: %w", err)
		}
		// The listener closes itself when its Changes context ends.
		return feed, func() {}, nil
	}
}

func jetStreamConfig(cfg *Config) changefeed.JetStreamConfig {
	js := changefeed.DefaultJetStreamConfig()
	js.URL = cfg.Feed.NATSURL
	override(&js.StreamName, cfg.Feed.Stream)
	override(&js.SubjectPrefix, cfg.Feed.SubjectPrefix)
	return js
}

func setupMongo(ctx context.Context, cfg *Config) (*Services, error) {
	s, err := mongostore.Connect(ctx, cfg.Store.MongoURI, cfg.Store.MongoDB)
	if err != nil {
		return nil, err
	}
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	log.Info().Str("database", cfg.Store.MongoDB).Msg("connected to mongo store")
	return &Services{Store: s}, nil
}
