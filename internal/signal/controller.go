// Package signal turns websocket lifecycle events into registry
// operations and fans membership changes back out to every connection.
package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/yaswanth-hue/jamroom/internal/config"
	"github.com/yaswanth-hue/jamroom/internal/domain"
	"github.com/yaswanth-hue/jamroom/internal/protocol"
	"github.com/yaswanth-hue/jamroom/internal/registry"
)

const (
	writeWait = 5 * time.Second
	pongWait  = 60 * time.Second

	createLimit  = 5
	createWindow = 10 * time.Second
)

// Controller is the signaling session manager. One instance owns the
// registry exclusively; nothing else mutates it.
type Controller struct {
	reg        *registry.Registry
	upgrader   websocket.Upgrader
	readLimit  int64
	pingPeriod time.Duration
	creates    *createLimiter

	mu    sync.RWMutex
	conns map[domain.ConnectionID]*wsConn
}

func NewController(reg *registry.Registry, cfg *config.Config) *Controller {
	origin := cfg.AllowedOrigin
	return &Controller{
		reg:        reg,
		readLimit:  cfg.ReadLimit,
		pingPeriod: cfg.PingPeriod,
		creates:    newCreateLimiter(createLimit, createWindow),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				got := r.Header.Get("Origin")
				return got == "" || origin == "*" || got == origin
			},
		},
		conns: make(map[domain.ConnectionID]*wsConn),
	}
}

// HandleSignal upgrades the request and runs the connection's pumps.
// Every connection gets a fresh id; reconnects are new identities.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	connID := domain.ConnectionID(uuid.NewString())
	log.Info().Str("module", "signal").Str("conn", string(connID)).
		Str("client_token", c.GetString("client_token")).Msg("connected")

	conn := newWSConn(ws)
	ctl.mu.Lock()
	ctl.conns[connID] = conn
	ctl.mu.Unlock()

	ctl.sendJSON(conn, protocol.Welcome{Type: protocol.TypeWelcome, ConnectionID: string(connID)})

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, connID, conn)
}

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(ctl.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, connID domain.ConnectionID, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(connID)).Msg("disconnected")
		cancel()
		ctl.onDisconnect(connID)
		ctl.creates.Forget(connID)
		ctl.mu.Lock()
		delete(ctl.conns, connID)
		ctl.mu.Unlock()
		c.Close()
	}()

	c.conn.SetReadLimit(ctl.readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				return
			}
			ctl.dispatch(connID, c, data)
		}
	}
}

func (ctl *Controller) dispatch(connID domain.ConnectionID, c *wsConn, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case protocol.TypeCreateRoom:
		ctl.handleCreateRoom(connID, data)
	case protocol.TypeJoinRoom:
		ctl.handleJoin(connID, c, data)
	case protocol.TypeMuteStatus:
		ctl.handleMuteStatus(connID, data)
	case protocol.TypeSendingSignal:
		ctl.handleSendingSignal(connID, data)
	case protocol.TypeReturnedSignal:
		ctl.handleReturnedSignal(connID, data)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

func (ctl *Controller) lookup(id domain.ConnectionID) (*wsConn, bool) {
	ctl.mu.RLock()
	defer ctl.mu.RUnlock()
	c, ok := ctl.conns[id]
	return c, ok
}

func (ctl *Controller) sendJSON(c *wsConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
