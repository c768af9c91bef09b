package rtc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/domain"
)

var ErrClosed = errors.New("rtc: connection closed")

// WebRTCConnection is one user's peer connection to the relay. The server
// only answers client offers until a local track is added to a live
// connection; from then on it may also offer.
type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	uid    domain.UserID
	cancel context.CancelFunc
	closed atomic.Bool

	mu          sync.RWMutex
	onICE       func(webrtc.ICECandidateInit)
	onTrack     func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	onNegotiate func()
	onClosed    func()
	closedOnce  sync.Once
}

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// ConfigWithICE returns the default configuration with urls as ICE servers,
// or the default STUN server when urls is empty.
func ConfigWithICE(urls []string) webrtc.Configuration {
	if len(urls) == 0 {
		return DefaultWebRTCConfig()
	}
	return webrtc.Configuration{ICEServers: []webrtc.ICEServer{{URLs: urls}}}
}

func NewWebRTCConnection(cfg webrtc.Configuration, uid domain.UserID) (*WebRTCConnection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &WebRTCConnection{pc: pc, uid: uid}, nil
}

func (c *WebRTCConnection) Start(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "adapters.rtc").Str("user", string(c.uid)).Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICEConnectionStateFailed || s == webrtc.ICEConnectionStateClosed {
			cancel()
		}
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "adapters.rtc").Str("user", string(c.uid)).Str("peer_connection_state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			c.Close()
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.RLock()
		fn := c.onICE
		c.mu.RUnlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "adapters.rtc").
			Str("user", string(c.uid)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track")
		c.mu.RLock()
		fn := c.onTrack
		c.mu.RUnlock()
		if fn != nil {
			fn(ctx, track, receiver)
		}
	})

	c.pc.OnNegotiationNeeded(func() {
		// The first offer always comes from the client.
		if c.pc.RemoteDescription() == nil {
			return
		}
		c.mu.RLock()
		fn := c.onNegotiate
		c.mu.RUnlock()
		if fn != nil {
			fn()
		}
	})

	return nil
}

func (c *WebRTCConnection) ApplyOffer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	return c.setLocal(answer)
}

func (c *WebRTCConnection) CreateOffer() (*webrtc.SessionDescription, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	return c.setLocal(offer)
}

func (c *WebRTCConnection) ApplyAnswer(answer webrtc.SessionDescription) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.pc.SetRemoteDescription(answer)
}

// setLocal applies sd and waits for ICE gathering so the returned
// description carries every candidate.
func (c *WebRTCConnection) setLocal(sd webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(sd); err != nil {
		return nil, err
	}
	<-gatherComplete
	return c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "adapters.rtc").Str("user", string(c.uid)).Msg("close error")
	} else {
		log.Info().Str("module", "adapters.rtc").Str("user", string(c.uid)).Msg("closed")
	}
	c.closedOnce.Do(func() {
		c.mu.RLock()
		fn := c.onClosed
		c.mu.RUnlock()
		if fn != nil {
			fn()
		}
	})
}

func (c *WebRTCConnection) IsClosed() bool { return c.closed.Load() }

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

// OnTrack sets the callback for remote tracks. ctx ends with the connection.
func (c *WebRTCConnection) OnTrack(fn func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *WebRTCConnection) OnNegotiationNeeded(fn func()) {
	c.mu.Lock()
	c.onNegotiate = fn
	c.mu.Unlock()
}

// OnClosed sets the cleanup callback. It runs once.
func (c *WebRTCConnection) OnClosed(fn func()) {
	c.mu.Lock()
	c.onClosed = fn
	c.mu.Unlock()
}

// AddLocalTrack attaches a local static RTP track to the PeerConnection and
// drains its RTCP so interceptors keep running.
func (c *WebRTCConnection) AddLocalTrack(track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return sender, nil
}
