// Package changefeed carries document change notifications: Postgres
// LISTEN/NOTIFY in, JetStream out, and a per-key fan-out for subscribers.
package changefeed

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Change announces that a document was committed at Version. An empty Key
// asks subscribers to re-read everything, e.g. after a reconnect.
type Change struct {
	Key     string    `json:"key"`
	Version int64     `json:"version"`
	At      time.Time `json:"at"`
}

// Resync reports whether c is a re-read hint rather than a single-key change.
func (c Change) Resync() bool {
	return c.Key == ""
}

// ID is the dedupe identifier for c.
func (c Change) ID() string {
	return c.Key + "@" + strconv.FormatInt(c.Version, 10)
}

// Feed is a source of changes. The channel closes when ctx is done or the feed fails for good.
type Feed interface {
	Changes(ctx context.Context) (<-chan Change, error)
}

type Publisher interface {
	Publish(ctx context.Context, change Change) error
}

// Source lists changes committed at or after since, for catching up after missed notifications.
type Source interface {
	ChangedSince(ctx context.Context, since time.Time, limit int) ([]Change, error)
}

// ParsePayload decodes a NOTIFY payload of the form key@version.
func ParsePayload(payload string) (Change, error) {
	i := strings.LastIndex(payload, "@")
	if i <= 0 {
		return Change{}, fmt.Errorf("malformed change payload %q", payload)
	}
	version, err := strconv.ParseInt(payload[i+1:], 10, 64)
	if err != nil {
		return Change{}, fmt.Errorf("malformed change version in %q: %w", payload, err)
	}
	return Change{Key: payload[:i], Version: version}, nil
}

// Payload is the NOTIFY payload for a change.
func Payload(key string, version int64) string {
	return Change{Key: key, Version: version}.ID()
}

// SubjectFor maps a document key onto a NATS subject below prefix.
func SubjectFor(prefix, key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		p = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(p)
		if p == "" {
			p = "_"
		}
		parts[i] = p
	}
	return prefix + "." + strings.Join(parts, ".")
}
