package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/jemima/go/internal/match/seeding"
	"github.com/mcdev12/jemima/go/internal/store"
)

type Config struct {
	Addr             string
	AllowedOrigins   []string
	ConnectionConfig ConnectionConfig
}

func DefaultConfig() Config {
	return Config{
		Addr:             ":8080",
		AllowedOrigins:   []string{"*"},
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// Gateway serves room summaries and live room streams.
type Gateway struct {
	store store.Store
	conns *ConnectionManager
	cfg   Config
}

func New(s store.Store, cfg Config) *Gateway {
	return &Gateway{store: s, conns: NewConnectionManager(s, cfg.ConnectionConfig), cfg: cfg}
}

// Handler returns the routed, CORS-wrapped handler.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", g.handleHealth)
	r.Get("/stats", g.handleStats)
	r.Get("/rooms/{code}", g.handleRoom)
	r.Get("/rooms/{code}/ws", g.handleRoomSocket)

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet},
		AllowedOrigins: g.cfg.AllowedOrigins,
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

// Server wraps Handler for HTTP/2 cleartext as well as HTTP/1.1.
func (g *Gateway) Server() *http.Server {
	return &http.Server{
		Addr:              g.cfg.Addr,
		Handler:           h2c.NewHandler(g.Handler(), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		log.Error().Err(err).Msg("failed to write health check response")
	}
}

func (g *Gateway) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"connections": g.conns.Stats()})
}

func (g *Gateway) handleRoom(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if !seeding.ValidRoomCode(code) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "room code must be three uppercase letters"})
		return
	}
	summary, err := BuildSummary(r.Context(), g.store, code)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "room not found"})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("room", code).Msg("failed to build room summary")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (g *Gateway) handleRoomSocket(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if !seeding.ValidRoomCode(code) {
		http.Error(w, "invalid room code", http.StatusBadRequest)
		return
	}
	if err := g.conns.Serve(r.Context(), w, r, code); err != nil {
		// The upgrader has already replied on handshake failures.
		log.Error().Err(err).Str("room", code).Msg("failed to serve room socket")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}
