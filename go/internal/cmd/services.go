package main

import (
	"context"
	"fmt"

	"github.com/mcdev12/jemima/go/internal/store"
	"github.com/mcdev12/jemima/go/internal/store/memstore"
)

// Services is the store backend a command runs against, plus whatever
// has to be shut down with it.
type Services struct {
	Store   store.Store
	closers []func()
}

func setupServices(ctx context.Context, cfg *Config) (*Services, error) {
	switch cfg.Store.Backend {
	case "memory":
		return &Services{Store: memstore.New()}, nil
	case "postgres":
		return setupPostgres(ctx, cfg)
	case "mongo":
		return setupMongo(ctx, cfg)
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

// Close runs the closers in reverse order.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	_ = s.Store.Close()
}
