package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// MediaConnection is one user's peer connection to the relay.
type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close stops all underlying media resources. It is safe to call twice.
	Close()
	IsClosed() bool
	AddICECandidate(webrtc.ICECandidateInit) error
	// ApplyOffer handles a client offer and returns the gathered answer.
	ApplyOffer(webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	// CreateOffer starts a server side renegotiation.
	CreateOffer() (*webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	// OnNegotiationNeeded fires after local tracks were added to a live connection.
	OnNegotiationNeeded(func())
	AddLocalTrack(track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error)
	OnClosed(func())
}
