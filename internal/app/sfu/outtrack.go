package sfu

import (
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateDelete
)

// OutTrack is one listener's copy of a speaker's track.
type OutTrack struct {
	Track *webrtc.TrackLocalStaticRTP
	state atomic.Int32
}

func NewOutTrack(track *webrtc.TrackLocalStaticRTP) *OutTrack {
	return &OutTrack{Track: track}
}

func (ot *OutTrack) State() TrackState { return TrackState(ot.state.Load()) }

// SetMuted flips between ok and muted. A deleted track stays deleted.
func (ot *OutTrack) SetMuted(muted bool) {
	from, to := TrackStateOk, TrackStateMuted
	if !muted {
		from, to = to, from
	}
	ot.state.CompareAndSwap(int32(from), int32(to))
}

func (ot *OutTrack) MarkDelete() { ot.state.Store(int32(TrackStateDelete)) }
