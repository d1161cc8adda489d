package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/jemima/go/internal/gateway"
)

const shutdownTimeout = 5 * time.Second

func gatewayConfig(cfg *Config) gateway.Config {
	gc := gateway.DefaultConfig()
	gc.Addr = cfg.Gateway.Addr
	if len(cfg.Gateway.AllowedOrigins) > 0 {
		gc.AllowedOrigins = cfg.Gateway.AllowedOrigins
	}
	return gc
}

// serveGateway runs the HTTP gateway until ctx is cancelled, then drains
// in-flight requests.
func serveGateway(ctx context.Context, cfg *Config, svc *Services) error {
	srv := gateway.New(svc.Store, gatewayConfig(cfg)).Server()

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("store", cfg.Store.Backend).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("gateway shutdown")
		return err
	}
	log.Info().Msg("gateway stopped")
	return nil
}
