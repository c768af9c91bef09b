package orch

import (
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
)

// BindMedia hands a negotiated peer connection to the media side and
// detaches it when the connection closes.
func (o *Orchestrator) BindMedia(uid domain.UserID, mc core.MediaConnection) {
	if o.Media == nil {
		return
	}
	mc.OnClosed(func() { o.Media.DetachMedia(uid) })
	o.Media.AttachMedia(uid, mc)
}
