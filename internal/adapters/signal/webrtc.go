package signal

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/adapters/rtc"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
)

type sdpMsg struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type candidateMsg struct {
	Type          string  `json:"type"`
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

func (ctl *SignalWSController) sendCandidate(c *WsSignalConn, ci webrtc.ICECandidateInit) {
	ctl.sendJSON(c, candidateMsg{
		Type:          "candidate",
		Candidate:     ci.Candidate,
		SDPMid:        ci.SDPMid,
		SDPMLineIndex: ci.SDPMLineIndex,
	})
}

// handleOffer answers a client offer. The first offer of a socket creates its
// peer connection and hands it to the relay.
func (ctl *SignalWSController) handleOffer(c *WsSignalConn, data []byte) {
	var p sdpMsg
	if !ctl.decode(c, data, &p) {
		return
	}
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP}

	if mc := c.Media(); mc != nil {
		ctl.answer(c, mc, offer)
		return
	}

	wc, err := rtc.NewWebRTCConnection(ctl.opts.ICE, c.uid)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.signal").Msg("webrtc new pc")
		ctl.sendError(c, domain.ErrUnavailable)
		return
	}
	wc.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		ctl.sendCandidate(c, ci)
	})
	wc.OnNegotiationNeeded(func() {
		ctl.renegotiate(c, wc)
	})
	ctl.Orch.BindMedia(c.uid, wc)

	if err := wc.Start(c.ctx); err != nil {
		log.Error().Err(err).Str("module", "adapters.signal").Msg("webrtc start")
		wc.Close()
		return
	}
	c.setMedia(wc)
	ctl.answer(c, wc, offer)
}

func (ctl *SignalWSController) answer(c *WsSignalConn, mc core.MediaConnection, offer webrtc.SessionDescription) {
	answer, err := mc.ApplyOffer(offer)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.signal").Str("user", string(c.uid)).Msg("webrtc apply offer")
		ctl.sendError(c, domain.Invalid("offer rejected"))
		return
	}
	ctl.sendJSON(c, sdpMsg{Type: "answer", SDP: answer.SDP})
}

// renegotiate sends a server offer after the relay added tracks.
func (ctl *SignalWSController) renegotiate(c *WsSignalConn, mc core.MediaConnection) {
	offer, err := mc.CreateOffer()
	if err != nil {
		log.Warn().Err(err).Str("module", "adapters.signal").Str("user", string(c.uid)).Msg("server offer")
		return
	}
	ctl.sendJSON(c, sdpMsg{Type: "offer", SDP: offer.SDP})
}

func (ctl *SignalWSController) handleAnswer(c *WsSignalConn, data []byte) {
	var p sdpMsg
	if !ctl.decode(c, data, &p) {
		return
	}
	mc := c.Media()
	if mc == nil {
		ctl.sendError(c, domain.Invalid("no media connection"))
		return
	}
	if err := mc.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP}); err != nil {
		log.Error().Err(err).Str("module", "adapters.signal").Str("user", string(c.uid)).Msg("webrtc apply answer")
		ctl.sendError(c, domain.Invalid("answer rejected"))
	}
}

func (ctl *SignalWSController) handleCandidate(c *WsSignalConn, data []byte) {
	var p candidateMsg
	if !ctl.decode(c, data, &p) {
		return
	}
	mc := c.Media()
	if mc == nil {
		log.Warn().Str("module", "adapters.signal").Str("user", string(c.uid)).Msg("candidate: no media connection")
		return
	}
	cand := webrtc.ICECandidateInit{
		Candidate:     p.Candidate,
		SDPMid:        p.SDPMid,
		SDPMLineIndex: p.SDPMLineIndex,
	}
	if err := mc.AddICECandidate(cand); err != nil {
		log.Error().Err(err).Str("module", "adapters.signal").Msg("add ice candidate")
	}
}
