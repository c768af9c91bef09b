// Package sfu forwards each speaker's audio to the other members of the
// same room. Room membership is driven by the committed room lifecycle.
package sfu

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/metrics"
)

type RelayManager struct {
	mu      sync.RWMutex
	relays  map[domain.UserID]*Relay
	media   map[domain.UserID]core.MediaConnection
	roomOf  map[domain.UserID]domain.RoomID
	members map[domain.RoomID]map[domain.UserID]struct{}
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays:  make(map[domain.UserID]*Relay),
		media:   make(map[domain.UserID]core.MediaConnection),
		roomOf:  make(map[domain.UserID]domain.RoomID),
		members: make(map[domain.RoomID]map[domain.UserID]struct{}),
	}
}

// Connect puts uid in the voice channel of room, leaving any other one.
func (m *RelayManager) Connect(ctx context.Context, room domain.RoomID, uid domain.UserID) error {
	if room == "" || uid == "" {
		return errors.New("sfu: connect needs a room and a user")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	var left []domain.UserID
	if old, ok := m.roomOf[uid]; ok && old != room {
		left = m.leaveLocked(old, uid)
	}
	set, ok := m.members[room]
	if !ok {
		set = make(map[domain.UserID]struct{})
		m.members[room] = set
	}
	set[uid] = struct{}{}
	m.roomOf[uid] = room
	mates := m.matesLocked(room, uid)
	m.mu.Unlock()

	m.unwire(uid, left)
	for _, mate := range mates {
		m.subscribe(mate, uid)
		m.subscribe(uid, mate)
	}
	log.Info().Str("module", "sfu").Str("room", string(room)).Str("user", string(uid)).Int("mates", len(mates)).Msg("voice connected")
	return nil
}

// Disconnect removes uid from room. It is a no-op if uid moved on.
func (m *RelayManager) Disconnect(room domain.RoomID, uid domain.UserID) {
	m.mu.Lock()
	if m.roomOf[uid] != room {
		m.mu.Unlock()
		return
	}
	mates := m.leaveLocked(room, uid)
	m.mu.Unlock()
	m.unwire(uid, mates)
	log.Info().Str("module", "sfu").Str("room", string(room)).Str("user", string(uid)).Msg("voice disconnected")
}

// DropRoom disconnects every member of a room that no longer exists.
func (m *RelayManager) DropRoom(room domain.RoomID) {
	m.mu.RLock()
	var uids []domain.UserID
	for uid := range m.members[room] {
		uids = append(uids, uid)
	}
	m.mu.RUnlock()
	for _, uid := range uids {
		m.Disconnect(room, uid)
	}
}

// Mates lists the other voice members of uid's room.
func (m *RelayManager) Mates(uid domain.UserID) []domain.UserID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.roomOf[uid]
	if !ok {
		return nil
	}
	return m.matesLocked(room, uid)
}

// AttachMedia registers the peer connection of uid. Tracks it publishes are
// relayed to its roommates and it is subscribed to theirs.
func (m *RelayManager) AttachMedia(uid domain.UserID, mc core.MediaConnection) {
	mc.OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		m.StartRelay(ctx, uid, track)
		for _, mate := range m.Mates(uid) {
			m.subscribe(uid, mate)
		}
	})

	m.mu.Lock()
	old := m.media[uid]
	m.media[uid] = mc
	m.mu.Unlock()
	if old != nil && old != mc && !old.IsClosed() {
		// The replaced connection must not detach its successor.
		old.OnClosed(nil)
		old.Close()
	}
	for _, mate := range m.Mates(uid) {
		m.subscribe(mate, uid)
	}
}

// DetachMedia stops the relay of uid and closes its peer connection.
func (m *RelayManager) DetachMedia(uid domain.UserID) {
	m.mu.Lock()
	mc := m.media[uid]
	delete(m.media, uid)
	m.mu.Unlock()

	m.StopRelay(uid)
	for _, mate := range m.Mates(uid) {
		m.markDelete(mate, uid)
	}
	if mc != nil && !mc.IsClosed() {
		mc.Close()
	}
}

// SetMuted pauses or resumes forwarding of uid's audio.
func (m *RelayManager) SetMuted(uid domain.UserID, muted bool) {
	m.mu.RLock()
	relay, ok := m.relays[uid]
	m.mu.RUnlock()
	if ok {
		relay.setMuted(muted)
	}
}

// StartRelay creates the relay of a speaker and starts its loop.
func (m *RelayManager) StartRelay(ctx context.Context, uid domain.UserID, track *webrtc.TrackRemote) {
	logger := log.With().Str("module", "sfu").Str("user", string(uid)).Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(track, cancel)

	m.mu.Lock()
	if old, ok := m.relays[uid]; ok {
		logger.Info().Msg("replacing existing relay")
		old.markAllDelete()
		old.cancel()
	} else {
		metrics.ActiveRelays.Inc()
	}
	m.relays[uid] = relay
	m.mu.Unlock()

	logger.Info().Msg("starting relay loop")
	go relay.loop(relayCtx, &logger)
}

func (m *RelayManager) StopRelay(uid domain.UserID) {
	m.mu.Lock()
	relay, ok := m.relays[uid]
	delete(m.relays, uid)
	m.mu.Unlock()
	if !ok {
		return
	}
	metrics.ActiveRelays.Dec()
	relay.markAllDelete()
	if relay.cancel != nil {
		relay.cancel()
	}
}

// subscribe adds a copy of src's track to dst's peer connection.
func (m *RelayManager) subscribe(src, dst domain.UserID) {
	m.mu.RLock()
	relay := m.relays[src]
	mc := m.media[dst]
	m.mu.RUnlock()
	if relay == nil || mc == nil || relay.Listening(dst) {
		return
	}
	local, err := webrtc.NewTrackLocalStaticRTP(relay.Src.Codec().RTPCodecCapability, "audio", "user-"+string(src))
	if err != nil {
		log.Error().Err(err).Str("module", "sfu").Str("src", string(src)).Msg("local track")
		return
	}
	if _, err := mc.AddLocalTrack(local); err != nil {
		log.Error().Err(err).Str("module", "sfu").Str("src", string(src)).Str("dst", string(dst)).Msg("add local track")
		return
	}
	relay.AddOutTrack(dst, NewOutTrack(local))
	log.Debug().Str("module", "sfu").Str("src", string(src)).Str("dst", string(dst)).Msg("subscribed")
}

func (m *RelayManager) markDelete(src, dst domain.UserID) {
	m.mu.RLock()
	relay, ok := m.relays[src]
	m.mu.RUnlock()
	if ok {
		relay.markDelete(dst)
	}
}

// unwire stops forwarding between uid and its former mates.
func (m *RelayManager) unwire(uid domain.UserID, mates []domain.UserID) {
	for _, mate := range mates {
		m.markDelete(mate, uid)
		m.markDelete(uid, mate)
	}
}

// leaveLocked returns the users left behind in room.
func (m *RelayManager) leaveLocked(room domain.RoomID, uid domain.UserID) []domain.UserID {
	set := m.members[room]
	delete(set, uid)
	delete(m.roomOf, uid)
	if len(set) == 0 {
		delete(m.members, room)
	}
	return m.matesLocked(room, uid)
}

func (m *RelayManager) matesLocked(room domain.RoomID, uid domain.UserID) []domain.UserID {
	out := make([]domain.UserID, 0, len(m.members[room]))
	for mate := range m.members[room] {
		if mate != uid {
			out = append(out, mate)
		}
	}
	return out
}
