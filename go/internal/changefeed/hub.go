package changefeed

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Hub fans a single Feed out to per-key watchers. Each watcher holds at
// most one pending change; a newer change replaces an unread one.
type Hub struct {
	feed Feed

	mu       sync.Mutex
	watchers map[string]map[chan Change]struct{}
}

func NewHub(feed Feed) *Hub {
	return &Hub{feed: feed, watchers: make(map[string]map[chan Change]struct{})}
}

// Run dispatches changes until ctx is done or the feed closes.
func (h *Hub) Run(ctx context.Context) error {
	changes, err := h.feed.Changes(ctx)
	if err != nil {
		return err
	}
	for change := range changes {
		h.dispatch(change)
	}
	log.Info().Msg("change hub stopped")
	return ctx.Err()
}

// Watch registers interest in key until ctx is done.
func (h *Hub) Watch(ctx context.Context, key string) <-chan Change {
	ch := make(chan Change, 1)
	h.mu.Lock()
	if h.watchers[key] == nil {
		h.watchers[key] = make(map[chan Change]struct{})
	}
	h.watchers[key][ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.watchers[key], ch)
		if len(h.watchers[key]) == 0 {
			delete(h.watchers, key)
		}
		close(ch)
	}()
	return ch
}

func (h *Hub) dispatch(change Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if change.Resync() {
		for key, set := range h.watchers {
			c := change
			c.Key = key
			for ch := range set {
				offer(ch, c)
			}
		}
		return
	}
	for ch := range h.watchers[change.Key] {
		offer(ch, change)
	}
}

// offer is called with h.mu held, which serializes all senders.
func offer(ch chan Change, change Change) {
	select {
	case <-ch:
	default:
	}
	ch <- change
}
