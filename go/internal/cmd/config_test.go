package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/jemima/go/internal/match/flow"
	"github.com/mcdev12/jemima/go/internal/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jemima.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestResolveDefaults(t *testing.T) {
	cfg, err := (&globalFlags{}).resolve()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "pq", cfg.Feed.Kind)
	assert.Equal(t, ":8080", cfg.Gateway.Addr)
	assert.NotEmpty(t, cfg.Store.PostgresDSN)
}

func TestResolveFileThenFlags(t *testing.T) {
	path := writeConfig(t, `
store:
  backend: mongo
  mongo_db: quiz
feed:
  kind: jetstream
gateway:
  addr: ":9000"
client:
  award_hold: 2s
  tick_interval: 100ms
`)
	cfg, err := (&globalFlags{configPath: path, store: "postgres"}).resolve()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Equal(t, "quiz", cfg.Store.MongoDB)
	assert.Equal(t, "jetstream", cfg.Feed.Kind)
	assert.Equal(t, ":9000", cfg.Gateway.Addr)
	assert.Equal(t, 2*time.Second, cfg.Client.AwardHold)
	assert.Equal(t, 100*time.Millisecond, cfg.Client.TickInterval)

	timing := clientTiming(cfg)
	assert.Equal(t, 2*time.Second, timing.AwardHold)
}

func TestResolveRejectsBadValues(t *testing.T) {
	_, err := (&globalFlags{store: "redis"}).resolve()
	assert.ErrorContains(t, err, "store backend")

	_, err = (&globalFlags{feed: "kafka"}).resolve()
	assert.ErrorContains(t, err, "feed")

	_, err = (&globalFlags{configPath: filepath.Join(t.TempDir(), "missing.yaml")}).resolve()
	assert.ErrorContains(t, err, "read config")

	_, err = (&globalFlags{configPath: writeConfig(t, "store: [")}).resolve()
	assert.ErrorContains(t, err, "parse config")
}

func TestBindEnvFillsUnsetFlags(t *testing.T) {
	t.Setenv("JEMIMA_STORE", "mongo")
	t.Setenv("JEMIMA_NATS_URL", "nats://example:4222")

	g := &globalFlags{}
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	g.register(fs)
	bindEnv(fs)

	assert.Equal(t, "mongo", g.store)
	assert.Equal(t, "nats://example:4222", g.natsURL)
	assert.Equal(t, "info", g.logLevel)

	require.NoError(t, fs.Parse([]string{"--store", "postgres"}))
	assert.Equal(t, "postgres", g.store)
}

func TestGatewayConfigKeepsDefaultOrigins(t *testing.T) {
	cfg := defaultConfig()
	cfg.Gateway.AllowedOrigins = nil
	cfg.Gateway.Addr = ":7000"
	gc := gatewayConfig(cfg)
	assert.Equal(t, ":7000", gc.Addr)
	assert.Equal(t, []string{"*"}, gc.AllowedOrigins)
}

func TestParseChoice(t *testing.T) {
	tests := []struct {
		in     string
		want   int
		wantOK bool
	}{
		{"a", 0, true},
		{"1", 0, true},
		{"b", 1, true},
		{"2", 1, true},
		{"c", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseChoice(tt.in)
		assert.Equal(t, tt.wantOK, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestLineInput(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in := newLineInput(ctx, strings.NewReader("  B \nnonsense\nr\na\n"))

	assert.Equal(t, 1, <-in.Choices())
	<-in.Retries()
	assert.Equal(t, 0, <-in.Choices())
}

func TestDemoPackIsValid(t *testing.T) {
	pack := demoPack("DEM")
	assert.Equal(t, "DEM", pack.Meta.RoomCode)
	for n := 1; n <= 5; n++ {
		rp := pack.Round(n)
		require.Len(t, rp.HostItems, 3)
		require.Len(t, rp.GuestItems, 3)
		for _, item := range rp.HostItems {
			assert.Equal(t, "A", item.Correct)
		}
		for _, item := range rp.GuestItems {
			assert.Equal(t, "B", item.Correct)
		}
	}
	assert.NotEmpty(t, pack.Round(3).Interlude)
}

func TestPlayTarget(t *testing.T) {
	code, start, err := playTarget("ABC", "")
	require.NoError(t, err)
	assert.Equal(t, "ABC", code)
	assert.Equal(t, flow.Address{}, start)

	code, start, err = playTarget("", "/rejoin?code=XYZ&round=2")
	require.NoError(t, err)
	assert.Equal(t, "XYZ", code)
	assert.Equal(t, flow.Address{Phase: models.PhaseRejoin, Code: "XYZ", Round: 2}, start)

	_, _, err = playTarget("ABC", "/rejoin?code=XYZ")
	assert.ErrorContains(t, err, "does not match")

	_, _, err = playTarget("", "/nowhere?code=XYZ")
	assert.ErrorIs(t, err, flow.ErrBadAddress)

	_, _, err = playTarget("", "")
	assert.Error(t, err)
}
