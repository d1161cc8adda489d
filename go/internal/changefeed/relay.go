package changefeed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

type RelayConfig struct {
	MaxRetries       int
	RetryDelay       time.Duration
	FallbackInterval time.Duration // How often to sweep for missed changes
	BatchSize        int
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		MaxRetries:       5,
		RetryDelay:       200 * time.Millisecond,
		FallbackInterval: 30 * time.Second,
		BatchSize:        100,
	}
}

var errFeedClosed = errors.New("change feed closed")

// Relay forwards every change from feed to publisher. After a resync and
// on every fallback tick it re-publishes what source reports as changed
// since the last change it saw; duplicates are dropped downstream by ID.
type Relay struct {
	feed      Feed
	source    Source
	publisher Publisher
	cfg       RelayConfig

	lastSeen time.Time
}

func NewRelay(feed Feed, source Source, publisher Publisher, cfg RelayConfig) *Relay {
	return &Relay{feed: feed, source: source, publisher: publisher, cfg: cfg, lastSeen: time.Now()}
}

func (r *Relay) Start(ctx context.Context) error {
	changes, err := r.feed.Changes(ctx)
	if err != nil {
		return fmt.Errorf("open change feed: %w", err)
	}
	log.Info().
		Dur("fallback_interval", r.cfg.FallbackInterval).
		Msg("relay started")

	fallbackTicker := time.NewTicker(r.cfg.FallbackInterval)
	defer fallbackTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("relay shutting down")
			return nil
		case change, ok := <-changes:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errFeedClosed
			}
			if change.Resync() {
				if err := r.catchUp(ctx); err != nil {
					log.Error().Err(err).Msg("failed to catch up after resync")
				}
				continue
			}
			if err := r.publishWithRetry(ctx, change); err != nil {
				log.Error().Err(err).Str("key", change.Key).Msg("failed to relay change")
				continue
			}
			r.mark(change.At)
		case <-fallbackTicker.C:
			if err := r.catchUp(ctx); err != nil {
				log.Error().Err(err).Msg("failed to process missed changes")
			}
		}
	}
}

func (r *Relay) mark(at time.Time) {
	if at.After(r.lastSeen) {
		r.lastSeen = at
	}
}

// catchUp publishes changes the source reports since the last relayed one.
func (r *Relay) catchUp(ctx context.Context) error {
	if r.source == nil {
		return nil
	}
	// overlap a little to cover clock differences between here and the database
	since := r.lastSeen.Add(-time.Second)
	missed, err := r.source.ChangedSince(ctx, since, r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list changes since %s: %w", since, err)
	}
	for _, change := range missed {
		if err := r.publishWithRetry(ctx, change); err != nil {
			log.Error().Err(err).Str("key", change.Key).Msg("failed to relay missed change")
			continue
		}
		r.mark(change.At)
	}
	return nil
}

// publishWithRetry attempts to publish a change with a linear backoff.
func (r *Relay) publishWithRetry(ctx context.Context, change Change) error {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.cfg.RetryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if err := r.publisher.Publish(ctx, change); err != nil {
			lastErr = err
			log.Warn().Err(err).Int("attempt", attempt+1).Str("key", change.Key).Msg("publish failed")
			continue
		}
		return nil
	}
	return fmt.Errorf("after %d attempts: %w", r.cfg.MaxRetries+1, lastErr)
}
