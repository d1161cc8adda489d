package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/jemima/go/internal/store"
)

// ConnectionConfig sets socket buffer sizes, deadlines and the send queue depth.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	CheckOrigin     func(r *http.Request) bool
}

func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		SendBuffer:      16,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
}

// RoomMessage is pushed to every socket watching a room when it changes.
type RoomMessage struct {
	Type    string          `json:"type"`
	Code    string          `json:"code"`
	Version int64           `json:"version"`
	Room    json.RawMessage `json:"room"`
}

// ConnectionManager fans room snapshots out to WebSocket clients. One
// store subscription is held per watched room while any client is connected.
type ConnectionManager struct {
	store    store.Store
	upgrader websocket.Upgrader
	config   ConnectionConfig

	mu    sync.Mutex
	rooms map[string]*roomWatch
}

type roomWatch struct {
	conns  map[*Connection]struct{}
	cancel context.CancelFunc
	last   []byte
}

// Connection is one WebSocket client following a room.
type Connection struct {
	ID          string
	Code        string
	Conn        *websocket.Conn
	Send        chan []byte
	ConnectedAt time.Time

	manager *ConnectionManager
	once    sync.Once
}

func NewConnectionManager(s store.Store, config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		store: s,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
		rooms:  make(map[string]*roomWatch),
	}
}

// Serve upgrades the request and streams the room until either side hangs up.
func (cm *ConnectionManager) Serve(ctx context.Context, w http.ResponseWriter, r *http.Request, code string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	c := &Connection{
		ID:          uuid.NewString(),
		Code:        code,
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBuffer),
		ConnectedAt: time.Now(),
		manager:     cm,
	}
	if err := cm.register(ctx, c); err != nil {
		conn.Close()
		return err
	}

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", c.ID).
		Str("room", code).
		Msg("WebSocket connection established")
	return nil
}

func (cm *ConnectionManager) register(ctx context.Context, c *Connection) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	rw, ok := cm.rooms[c.Code]
	if !ok {
		// The watch outlives the request that started it.
		watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		snaps, err := cm.store.Subscribe(watchCtx, store.RoomKey(c.Code))
		if err != nil {
			cancel()
			return fmt.Errorf("subscribe room %s: %w", c.Code, err)
		}
		rw = &roomWatch{conns: make(map[*Connection]struct{}), cancel: cancel}
		cm.rooms[c.Code] = rw
		go cm.pump(c.Code, rw, snaps)
	}
	rw.conns[c] = struct{}{}
	if rw.last != nil {
		c.offer(rw.last)
	}
	return nil
}

func (cm *ConnectionManager) unregister(c *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	rw, ok := cm.rooms[c.Code]
	if !ok {
		return
	}
	if _, ok := rw.conns[c]; !ok {
		return
	}
	delete(rw.conns, c)
	close(c.Send)
	if len(rw.conns) == 0 {
		rw.cancel()
		delete(cm.rooms, c.Code)
	}
	log.Info().
		Str("connection_id", c.ID).
		Str("room", c.Code).
		Msg("connection unregistered")
}

// pump broadcasts every snapshot of one room until its watch is cancelled.
func (cm *ConnectionManager) pump(code string, rw *roomWatch, snaps <-chan store.Snapshot) {
	for snap := range snaps {
		if !snap.Exists {
			continue
		}
		msg, err := json.Marshal(RoomMessage{Type: "room", Code: code, Version: snap.Version, Room: snap.Data})
		if err != nil {
			log.Error().Err(err).Str("room", code).Msg("failed to marshal room snapshot")
			continue
		}

		cm.mu.Lock()
		rw.last = msg
		for c := range rw.conns {
			c.offer(msg)
		}
		cm.mu.Unlock()
	}
}

// Stats reports open connections per room.
func (cm *ConnectionManager) Stats() map[string]int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	out := make(map[string]int, len(cm.rooms))
	for code, rw := range cm.rooms {
		out[code] = len(rw.conns)
	}
	return out
}

// offer queues msg, dropping the connection when its buffer is full. It
// is called with cm.mu held, which orders it before unregister closes Send.
func (c *Connection) offer(msg []byte) {
	select {
	case c.Send <- msg:
	default:
		log.Warn().Str("connection_id", c.ID).Msg("connection send buffer full, closing connection")
		c.close()
	}
}

func (c *Connection) close() {
	c.once.Do(func() {
		go c.manager.unregister(c)
		c.Conn.Close()
	})
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("failed to write message to WebSocket")
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump only services control frames; clients never send commands.
func (c *Connection) readPump() {
	defer c.close()

	c.Conn.SetReadLimit(c.manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("connection_id", c.ID).Msg("unexpected WebSocket close error")
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	}
}
