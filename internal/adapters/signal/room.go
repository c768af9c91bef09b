package signal

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/app"
	"github.com/dkeye/huddle/internal/app/orch"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
)

var errRateLimited = errors.New("too many room requests")

type roomMsg struct {
	Type       string           `json:"type"`
	LocalID    string           `json:"local_id,omitempty"`
	RoomID     domain.RoomID    `json:"room_id,omitempty"`
	Room       *domain.RoomView `json:"room,omitempty"`
	Redirected bool             `json:"redirected,omitempty"`
}

type failedMsg struct {
	Type        string `json:"type"`
	LocalID     string `json:"local_id"`
	Code        string `json:"code"`
	Error       string `json:"error"`
	Retryable   bool   `json:"retryable,omitempty"`
	Compensated bool   `json:"compensated,omitempty"`
}

func view(r *domain.Room, uid domain.UserID) *domain.RoomView {
	v := r.View(uid)
	return &v
}

func (ctl *SignalWSController) allow(c *WsSignalConn) bool {
	if ctl.Limiter == nil || ctl.Limiter.Allow(c.uid) {
		return true
	}
	log.Warn().Str("module", "adapters.signal").Str("user", string(c.uid)).Msg("rate limited")
	ctl.sendJSON(c, errorMsg{Type: "error", Code: "RATE_LIMITED", Error: errRateLimited.Error(), Retryable: true})
	return false
}

func (ctl *SignalWSController) handleCreate(ctx context.Context, c *WsSignalConn, data []byte) {
	var p app.CreateParams
	if !ctl.decode(c, data, &p) || !ctl.allow(c) {
		return
	}
	log.Info().Str("module", "adapters.signal").Str("user", string(c.uid)).Str("visibility", string(p.Visibility)).Msg("create")
	ctl.enter(ctx, c, orch.EnterRequest{
		Identity: ctl.Orch.Registry.GetOrCreateUser(c.uid),
		Create:   &p,
	})
}

func (ctl *SignalWSController) handleJoin(ctx context.Context, c *WsSignalConn, data []byte) {
	var p struct {
		Room      domain.RoomID `json:"room"`
		Name      string        `json:"name,omitempty"`
		Anonymous *bool         `json:"anonymous,omitempty"`
	}
	if !ctl.decode(c, data, &p) {
		return
	}
	if p.Room == "" {
		ctl.sendError(c, domain.Invalid("room id empty"))
		return
	}
	if !ctl.allow(c) {
		return
	}
	if p.Name != "" {
		if err := ctl.Orch.Registry.UpdateUsername(c.uid, p.Name); err != nil {
			ctl.sendError(c, err)
			return
		}
	}
	if p.Anonymous != nil {
		ctl.Orch.Registry.SetAnonymous(c.uid, *p.Anonymous)
	}

	// The snapshot only shapes the tentative view; a stale one is harmless.
	known, _ := ctl.Orch.Engine.Get(ctx, p.Room)

	log.Info().Str("module", "adapters.signal").Str("user", string(c.uid)).Str("room", string(p.Room)).Msg("join")
	ctl.enter(ctx, c, orch.EnterRequest{
		Identity: ctl.Orch.Registry.GetOrCreateUser(c.uid),
		RoomID:   p.Room,
		Known:    known,
	})
}

// enter answers with the tentative view at once and pushes the outcome when
// the task settles. The outcome never overtakes the tentative frame.
func (ctl *SignalWSController) enter(ctx context.Context, c *WsSignalConn, req orch.EnterRequest) {
	sent := make(chan struct{})
	defer close(sent)
	req.OnSettled = func(o orch.Outcome) {
		<-sent
		ctl.pushOutcome(c, o)
	}

	c.stopWatching()
	tent, _, err := ctl.Orch.Enter(ctx, req)
	if err != nil {
		ctl.sendError(c, err)
		return
	}
	ctl.sendJSON(c, roomMsg{Type: "tentative", LocalID: tent.LocalID, Room: view(tent.Room, c.uid)})
}

func (ctl *SignalWSController) pushOutcome(c *WsSignalConn, o orch.Outcome) {
	switch o := o.(type) {
	case orch.Confirmed:
		release := ctl.watch(c, o.Room)
		ctl.sendJSON(c, roomMsg{
			Type:       "confirmed",
			LocalID:    o.LocalID,
			RoomID:     o.Room.ID,
			Room:       view(o.Room, c.uid),
			Redirected: o.Redirected,
		})
		release()
	case orch.Failed:
		ctl.sendJSON(c, failedMsg{
			Type:        "failed",
			LocalID:     o.LocalID,
			Code:        domain.Code(o.Err),
			Error:       o.Err.Error(),
			Retryable:   domain.Retryable(o.Err),
			Compensated: o.Compensated,
		})
	}
}

// watch pushes every later change of room to the socket until the user is
// no longer listed or the room is deleted. Nothing is pushed before the
// returned release is called.
func (ctl *SignalWSController) watch(c *WsSignalConn, room *domain.Room) (release func()) {
	if ctl.Feed == nil {
		return func() {}
	}
	c.state.Lock()
	if c.unwatch != nil {
		c.unwatch()
	}
	wctx, cancel := context.WithCancel(c.ctx)
	c.unwatch = cancel
	c.state.Unlock()

	gate := make(chan struct{})
	// Events committed before the confirmed version may still be in flight.
	since := room.Version
	err := ctl.Feed.Subscribe(wctx, room.ID, func(ev core.RoomEvent) {
		<-gate
		if ev.Version <= since || wctx.Err() != nil {
			return
		}
		switch {
		case ev.Type == core.EventDeleted:
			ctl.sendJSON(c, roomMsg{Type: "room_closed", RoomID: ev.RoomID})
			cancel()
		case !ev.Room.Has(c.uid):
			ctl.sendJSON(c, roomMsg{Type: "left", RoomID: ev.RoomID})
			cancel()
		default:
			ctl.sendJSON(c, roomMsg{Type: "room_state", RoomID: ev.RoomID, Room: view(ev.Room, c.uid)})
		}
	})
	if err != nil {
		cancel()
		log.Error().Err(err).Str("module", "adapters.signal").Str("room", string(room.ID)).Msg("subscribe room")
	}
	return sync.OnceFunc(func() { close(gate) })
}

func (ctl *SignalWSController) handleLeave(ctx context.Context, c *WsSignalConn) {
	log.Info().Str("module", "adapters.signal").Str("user", string(c.uid)).Msg("leave")
	c.stopWatching()
	if err := ctl.Orch.Leave(ctx, c.uid); err != nil {
		ctl.sendError(c, err)
		return
	}
	ctl.sendJSON(c, roomMsg{Type: "left"})
}

func (ctl *SignalWSController) handleState(ctx context.Context, c *WsSignalConn, data []byte) {
	var p app.Patch
	if !ctl.decode(c, data, &p) {
		return
	}
	room, err := ctl.Orch.UpdateState(ctx, c.uid, p)
	if err != nil {
		ctl.sendError(c, err)
		return
	}
	if p.Muted != nil && ctl.Muter != nil {
		ctl.Muter.SetMuted(c.uid, *p.Muted)
	}
	ctl.sendJSON(c, roomMsg{Type: "room_state", RoomID: room.ID, Room: view(room, c.uid)})
}
