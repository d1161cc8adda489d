// Package role maps a client identity to its seat in a room.
package role

import (
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/jemima/go/internal/models"
)

// Cache persists the role a client joined a room with, outside the shared store.
type Cache interface {
	Lookup(code string) (models.Role, bool)
	Remember(code string, role models.Role) error
}

// Resolve matches identity against the room's participants, falls back to
// the cached tag when that is ambiguous and finally defaults to guest.
func Resolve(room *models.Room, identity string, cached models.Role) models.Role {
	if r, ok := byIdentity(room, identity); ok {
		return r
	}
	if cached.Valid() {
		return cached
	}
	return models.RoleGuest
}

func byIdentity(room *models.Room, identity string) (models.Role, bool) {
	if room == nil || identity == "" {
		return "", false
	}
	isHost := identity == room.Meta.HostID
	isGuest := identity == room.Meta.GuestID
	switch {
	case isHost && !isGuest:
		return models.RoleHost, true
	case isGuest && !isHost:
		return models.RoleGuest, true
	}
	return "", false
}

type Resolver struct {
	cache Cache
}

func NewResolver(cache Cache) *Resolver {
	return &Resolver{cache: cache}
}

// Resolve resolves the role for identity in room code. An unambiguous
// identity match is written back to the cache so a later reconnect under
// a different session keeps the same seat.
func (r *Resolver) Resolve(code string, room *models.Room, identity string) models.Role {
	cached, _ := r.cache.Lookup(code)
	resolved, ok := byIdentity(room, identity)
	if !ok {
		resolved = Resolve(room, identity, cached)
		if !cached.Valid() {
			log.Warn().
				Str("room", code).
				Str("identity", identity).
				Msg("role unresolved, defaulting to guest")
		}
		return resolved
	}
	if resolved != cached {
		if err := r.cache.Remember(code, resolved); err != nil {
			log.Error().Err(err).Str("room", code).Msg("failed to cache role")
		}
	}
	return resolved
}
