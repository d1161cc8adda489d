package changefeed

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// DefaultNotifyChannel is the channel document commits are announced on.
const DefaultNotifyChannel = "jemima_documents"

type ListenerConfig struct {
	DatabaseURL   string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel string        // Channel name to LISTEN on
	PingInterval  time.Duration // Keepalive for idle connections
	MinReconnect  time.Duration
	MaxReconnect  time.Duration
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel: DefaultNotifyChannel,
		PingInterval:  90 * time.Second,
		MinReconnect:  10 * time.Second,
		MaxReconnect:  time.Minute,
	}
}

// PQListener is a Feed backed by pq.Listener.
type PQListener struct {
	listener *pq.Listener
	cfg      ListenerConfig
}

func NewPQListener(cfg ListenerConfig) (*PQListener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		cfg.MinReconnect,
		cfg.MaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for document changes")

	return &PQListener{listener: l, cfg: cfg}, nil
}

// Changes starts forwarding notifications. A dropped connection is
// reported as a resync change once pq has reconnected.
func (l *PQListener) Changes(ctx context.Context) (<-chan Change, error) {
	out := make(chan Change, 64)
	go func() {
		defer close(out)
		defer func() {
			if err := l.listener.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close listener")
			}
		}()

		pingTicker := time.NewTicker(l.cfg.PingInterval)
		defer pingTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("listener shutting down")
				return
			case note, ok := <-l.listener.Notify:
				if !ok {
					return
				}
				var change Change
				if note == nil {
					// nil notification means the connection was re-established
					change = Change{At: time.Now()}
				} else {
					parsed, err := ParsePayload(note.Extra)
					if err != nil {
						log.Error().Err(err).Msg("failed to handle notification")
						continue
					}
					change = parsed
					change.At = time.Now()
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			case <-pingTicker.C:
				if err := l.listener.Ping(); err != nil {
					log.Error().Err(err).Msg("failed to ping listener")
				}
			}
		}
	}()
	return out, nil
}
