package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/dkeye/omnio/internal/app/orch"
	"github.com/dkeye/omnio/internal/config"
	"github.com/dkeye/omnio/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Cfg     config.SignalConfig
	Limiter *RoomRateLimiter
}

func NewSignalWSController(o *orch.Orchestrator, cfg config.SignalConfig) *SignalWSController {
	ctl := &SignalWSController{Orch: o, Cfg: cfg}
	if cfg.RateLimit > 0 && cfg.RateInterval > 0 {
		ctl.Limiter = NewRoomRateLimiter(cfg.RateLimit, cfg.RateInterval)
	}
	return ctl
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the connection until either
// side goes away. ctx bounds the connection's lifetime.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	buf := ctl.Cfg.SendBuffer
	if buf <= 0 {
		buf = 32
	}
	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, buf),
	}

	ctx, cancel := context.WithCancel(ctx)
	id, err := ctl.Orch.Connect(conn, cancel)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("connect")
	}
	log.Info().Str("module", "signal").Str("client", string(id)).Str("remote", c.Request.RemoteAddr).Msg("new WS connection")

	go ctl.writePump(ctx, id, conn)
	go ctl.readPump(ctx, cancel, id, conn)
}
