package signal

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/domain"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ping := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ping.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "adapters.signal").Str("user", string(c.uid)).Msg("writePump ctx done")
			return
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "adapters.signal").Str("user", string(c.uid)).Msg("ping failed")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "adapters.signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "adapters.signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "adapters.signal").Str("user", string(c.uid)).Msg("readPump closing")
		c.Close()
	}()

	pongWait := ctl.opts.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "adapters.signal").Str("user", string(c.uid)).Msg("readPump read error")
			}
			return
		}
		ctl.handleSignal(ctx, c, data)
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, c *WsSignalConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "adapters.signal").Msg("bad json")
		ctl.sendError(c, domain.Invalid("bad json"))
		return
	}

	switch env.Type {
	case "create":
		ctl.handleCreate(ctx, c, data)
	case "join":
		ctl.handleJoin(ctx, c, data)
	case "leave":
		ctl.handleLeave(ctx, c)
	case "state":
		ctl.handleState(ctx, c, data)
	case "ping":
		ctl.handlePing(c)
	case "rename":
		ctl.handleRename(ctx, c, data)
	case "whoami":
		ctl.handleWhoAmI(ctx, c)
	case "offer":
		ctl.handleOffer(c, data)
	case "answer":
		ctl.handleAnswer(c, data)
	case "candidate":
		ctl.handleCandidate(c, data)
	default:
		log.Warn().Str("module", "adapters.signal").Str("type", env.Type).Msg("unknown signal")
		ctl.sendError(c, domain.Invalid("unknown message type %q", env.Type))
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil && !errors.Is(err, ErrConnClosed) {
		log.Warn().Err(err).Str("module", "adapters.signal").Str("user", string(c.uid)).Msg("frame dropped")
	}
}

type errorMsg struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, err error) {
	ctl.sendJSON(c, errorMsg{
		Type:      "error",
		Code:      domain.Code(err),
		Error:     err.Error(),
		Retryable: domain.Retryable(err),
	})
}

// decode unmarshals a payload and reports a validation error to the client.
func (ctl *SignalWSController) decode(c *WsSignalConn, data []byte, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		log.Warn().Err(err).Str("module", "adapters.signal").Msg("bad payload")
		ctl.sendError(c, domain.Invalid("bad payload"))
		return false
	}
	return true
}
