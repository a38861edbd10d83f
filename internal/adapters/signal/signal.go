package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Relay/internal/app/orch"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Options struct {
	SendBuffer int
	ReadLimit  int64
	PingPeriod time.Duration
	WebRTC     webrtc.Configuration
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Limiter *RoomRateLimiter
	opts    Options
}

func NewSignalWSController(o *orch.Orchestrator, limiter *RoomRateLimiter, opts Options) *SignalWSController {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}
	ctl := &SignalWSController{Orch: o, Limiter: limiter, opts: opts}
	o.Renegotiate = ctl.renegotiate
	return ctl
}

// wsSignalConn is one signaling socket. token is the client cookie that
// maps to the session's user.
type wsSignalConn struct {
	conn  *websocket.Conn
	send  chan core.Frame
	token string
	sid   core.SessionID

	mu     sync.RWMutex
	closed bool
}

func (c *wsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *wsSignalConn) Close() {
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

func (c *wsSignalConn) user(ctl *SignalWSController) domain.User {
	return ctl.Orch.Registry.GetOrCreateUser(c.token)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")
	sid := core.SessionID(uuid.NewString())
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	if ctl.opts.ReadLimit > 0 {
		ws.SetReadLimit(ctl.opts.ReadLimit)
	}

	conn := &wsSignalConn{
		conn:  ws,
		send:  make(chan core.Frame, ctl.opts.SendBuffer),
		token: token,
		sid:   sid,
	}

	user := conn.user(ctl)
	if _, ok := ctl.Orch.Open(sid, user.Username, conn); !ok {
		log.Error().Str("module", "signal").Str("sid", string(sid)).Msg("session id collision")
		conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, conn)

	ctl.sendJSON(conn, struct {
		Type    string         `json:"type"`
		Session core.SessionID `json:"session"`
		User    domain.UserID  `json:"user"`
	}{"hello", sid, user.ID})
}
