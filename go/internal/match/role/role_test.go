package role

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/jemima/go/internal/models"
)

func TestResolve(t *testing.T) {
	room := &models.Room{Meta: models.RoomMeta{HostID: "h1", GuestID: "g1"}}
	same := &models.Room{Meta: models.RoomMeta{HostID: "x", GuestID: "x"}}

	tests := []struct {
		name     string
		room     *models.Room
		identity string
		cached   models.Role
		want     models.Role
	}{
		{"host by identity", room, "h1", "", models.RoleHost},
		{"guest by identity", room, "g1", models.RoleHost, models.RoleGuest},
		{"unknown identity uses cache", room, "other", models.RoleHost, models.RoleHost},
		{"ambiguous identity uses cache", same, "x", models.RoleHost, models.RoleHost},
		{"nothing resolves defaults to guest", room, "other", "", models.RoleGuest},
		{"empty identity with empty meta", &models.Room{}, "", "", models.RoleGuest},
		{"nil room uses cache", nil, "h1", models.RoleHost, models.RoleHost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.room, tt.identity, tt.cached))
		})
	}
}

func TestResolverRemembersIdentityMatch(t *testing.T) {
	cache := NewMemoryCache()
	r := NewResolver(cache)
	room := &models.Room{Meta: models.RoomMeta{HostID: "h1", GuestID: "g1"}}

	assert.Equal(t, models.RoleHost, r.Resolve("ABC", room, "h1"))
	cached, ok := cache.Lookup("ABC")
	require.True(t, ok)
	assert.Equal(t, models.RoleHost, cached)

	// reconnect under a new session id
	assert.Equal(t, models.RoleHost, r.Resolve("ABC", room, "new-session"))
}

func TestFileCacheSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "roles.json")

	c := NewFileCache(path)
	_, ok := c.Lookup("ABC")
	assert.False(t, ok)
	require.NoError(t, c.Remember("ABC", models.RoleHost))
	require.NoError(t, c.Remember("XYZ", models.RoleGuest))

	reopened := NewFileCache(path)
	got, ok := reopened.Lookup("ABC")
	require.True(t, ok)
	assert.Equal(t, models.RoleHost, got)
	got, ok = reopened.Lookup("XYZ")
	require.True(t, ok)
	assert.Equal(t, models.RoleGuest, got)
}

func TestFileCacheRejectsInvalidRole(t *testing.T) {
	c := NewFileCache(filepath.Join(t.TempDir(), "roles.json"))
	assert.Error(t, c.Remember("ABC", models.Role("spectator")))
}
