// Package signal is the WebSocket face of the engine: room requests go to the
// orchestrator, outcomes and room changes are pushed back as JSON frames, and
// WebRTC negotiation for the relay runs over the same socket.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/app/orch"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/metrics"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Frame is one text message on the socket.
type Frame []byte

// RoomFeed delivers committed changes of one room.
type RoomFeed interface {
	Subscribe(ctx context.Context, id domain.RoomID, fn func(core.RoomEvent)) error
}

// Muter pauses relaying of a user's audio.
type Muter interface {
	SetMuted(uid domain.UserID, muted bool)
}

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
	ICE        webrtc.Configuration
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32 << 10
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 32
	}
	if len(o.ICE.ICEServers) == 0 {
		o.ICE.ICEServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	return o
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Feed    RoomFeed
	Muter   Muter
	Limiter *RoomRateLimiter
	opts    Options
}

func NewSignalWSController(o *orch.Orchestrator, feed RoomFeed, muter Muter, limiter *RoomRateLimiter, opts Options) *SignalWSController {
	return &SignalWSController{
		Orch:    o,
		Feed:    feed,
		Muter:   muter,
		Limiter: limiter,
		opts:    opts.withDefaults(),
	}
}

// WsSignalConn is one socket of one user.
type WsSignalConn struct {
	uid  domain.UserID
	conn *websocket.Conn
	send chan Frame
	ctx  context.Context

	mu     sync.RWMutex
	closed bool

	state   sync.Mutex
	media   core.MediaConnection
	unwatch context.CancelFunc
}

func (c *WsSignalConn) TrySend(f Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
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

// Media returns the live peer connection of the socket, if any.
func (c *WsSignalConn) Media() core.MediaConnection {
	c.state.Lock()
	defer c.state.Unlock()
	if c.media == nil || c.media.IsClosed() {
		return nil
	}
	return c.media
}

func (c *WsSignalConn) setMedia(mc core.MediaConnection) {
	c.state.Lock()
	c.media = mc
	c.state.Unlock()
}

// stopWatching ends the room subscription, if any.
func (c *WsSignalConn) stopWatching() {
	c.state.Lock()
	defer c.state.Unlock()
	if c.unwatch != nil {
		c.unwatch()
	}
	c.unwatch = nil
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and serves the socket until the client
// goes away or ctx is done. The user id is the client token cookie.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	uid := domain.UserID(c.GetString("client_token"))
	if uid == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	log.Info().Str("module", "adapters.signal").Str("user", string(uid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.opts.ReadLimit)

	ctx, cancel := context.WithCancel(ctx)
	conn := &WsSignalConn{
		uid:  uid,
		conn: ws,
		send: make(chan Frame, ctl.opts.SendBuffer),
		ctx:  ctx,
	}
	ctl.Orch.Registry.GetOrCreateUser(uid)
	metrics.WSConnections.Inc()

	go ctl.writePump(ctx, conn)
	go func() {
		defer cancel()
		ctl.readPump(ctx, conn)
		ctl.cleanup(conn)
	}()
}

// cleanup leaves the room of a closed socket and drops its media.
func (ctl *SignalWSController) cleanup(c *WsSignalConn) {
	metrics.WSConnections.Dec()
	c.stopWatching()
	ctl.Orch.Disconnect(c.uid)
	if mc := c.Media(); mc != nil {
		mc.Close()
	}
	if ctl.Limiter != nil {
		ctl.Limiter.Forget(c.uid)
	}
	log.Info().Str("module", "adapters.signal").Str("user", string(c.uid)).Msg("connection cleaned up")
}
