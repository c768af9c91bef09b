package sfu

import (
	"context"
	"maps"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/huddle/internal/domain"
)

// Relay forwards one speaker's RTP to the out tracks of the listeners.
type Relay struct {
	Src *webrtc.TrackRemote

	mu        sync.RWMutex
	outTracks map[domain.UserID]*OutTrack
	muted     bool

	cancel context.CancelFunc
}

func NewRelay(src *webrtc.TrackRemote, cancel context.CancelFunc) *Relay {
	return &Relay{
		Src:       src,
		outTracks: make(map[domain.UserID]*OutTrack),
		cancel:    cancel,
	}
}

func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, marking all out tracks for delete")
			r.markAllDelete()
			return
		default:
		}
		pkt, _, err := r.Src.ReadRTP()
		if err != nil {
			logger.Warn().Err(err).Msg("relay read RTP error, stopping")
			r.markAllDelete()
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := maps.Clone(r.outTracks)
	r.mu.RUnlock()

	var dirty []domain.UserID
	for dst, ot := range snapshot {
		switch ot.State() {
		case TrackStateDelete:
			dirty = append(dirty, dst)
		case TrackStateMuted:
		case TrackStateOk:
			if err := ot.Track.WriteRTP(pkt); err != nil {
				logger.Warn().Err(err).Str("dst", string(dst)).Msg("relay write RTP error, dropping listener")
				ot.MarkDelete()
				dirty = append(dirty, dst)
			}
		}
	}
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dst := range dirty {
		if ot, ok := r.outTracks[dst]; ok && ot.State() == TrackStateDelete {
			delete(r.outTracks, dst)
		}
	}
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outTracks {
		ot.MarkDelete()
	}
}

// AddOutTrack registers dst unless it already listens. The new track
// inherits the speaker's mute state.
func (r *Relay) AddOutTrack(dst domain.UserID, ot *OutTrack) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.outTracks[dst]; ok && cur.State() != TrackStateDelete {
		return false
	}
	ot.SetMuted(r.muted)
	r.outTracks[dst] = ot
	return true
}

func (r *Relay) Listening(dst domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ot, ok := r.outTracks[dst]
	return ok && ot.State() != TrackStateDelete
}

func (r *Relay) markDelete(dst domain.UserID) {
	r.mu.RLock()
	ot, ok := r.outTracks[dst]
	r.mu.RUnlock()
	if ok {
		ot.MarkDelete()
	}
}

func (r *Relay) setMuted(muted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.muted = muted
	for _, ot := range r.outTracks {
		ot.SetMuted(muted)
	}
}
