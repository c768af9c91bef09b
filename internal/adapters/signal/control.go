package signal

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/app/orch"
	"github.com/dkeye/huddle/internal/domain"
)

func (ctl *SignalWSController) handlePing(c *WsSignalConn) {
	ctl.sendJSON(c, struct {
		Type string `json:"type"`
	}{
		Type: "pong",
	})
}

type whoAmIMsg struct {
	Type      string           `json:"type"`
	UserID    domain.UserID    `json:"user_id"`
	Username  string           `json:"username"`
	Anonymous bool             `json:"anonymous"`
	Pending   bool             `json:"pending,omitempty"`
	LocalID   string           `json:"local_id,omitempty"`
	Room      *domain.RoomView `json:"room,omitempty"`
}

func (ctl *SignalWSController) handleWhoAmI(ctx context.Context, c *WsSignalConn) {
	ident := ctl.Orch.Registry.GetOrCreateUser(c.uid)
	resp := whoAmIMsg{
		Type:      "whoami",
		UserID:    ident.UserID,
		Username:  ident.DisplayName,
		Anonymous: ident.Anonymous,
	}
	if v, ok := ctl.Orch.Current(ctx, c.uid); ok {
		switch v := v.(type) {
		case orch.Tentative:
			resp.Pending, resp.LocalID, resp.Room = true, v.LocalID, view(v.Room, c.uid)
		case orch.Committed:
			resp.Room = view(v.Room, c.uid)
		}
	}
	ctl.sendJSON(c, resp)
}

// handleRename changes the identity used by the next create or join. The
// roster of the current room keeps the name the user entered with.
func (ctl *SignalWSController) handleRename(ctx context.Context, c *WsSignalConn, data []byte) {
	var p struct {
		Name      string `json:"name"`
		Anonymous *bool  `json:"anonymous,omitempty"`
	}
	if !ctl.decode(c, data, &p) {
		return
	}
	if err := ctl.Orch.Registry.UpdateUsername(c.uid, p.Name); err != nil {
		ctl.sendError(c, err)
		return
	}
	if p.Anonymous != nil {
		ctl.Orch.Registry.SetAnonymous(c.uid, *p.Anonymous)
	}
	log.Info().Str("module", "adapters.signal").Str("user", string(c.uid)).Str("name", p.Name).Msg("rename")
	ctl.handleWhoAmI(ctx, c)
}
