package orch

import (
	"context"
	"errors"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/app"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
)

// Leave cancels a pending enter of uid and fully leaves its active room.
func (o *Orchestrator) Leave(ctx context.Context, uid domain.UserID) error {
	o.mu.Lock()
	task := o.pending[uid]
	o.mu.Unlock()
	if task != nil {
		task.Cancel()
		select {
		case <-task.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	h, ok := o.Registry.Take(uid)
	if !ok {
		return nil
	}
	if h.Pending {
		// A newer enter raced in; it will compensate on its own.
		h.Cancel()
		return nil
	}
	return o.teardown(uid, h.Room)
}

// Disconnect is Leave for a session that went away.
func (o *Orchestrator) Disconnect(uid domain.UserID) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := o.Leave(ctx, uid); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("user", string(uid)).Msg("disconnect leave failed")
	}
	if o.Media != nil {
		o.Media.DetachMedia(uid)
	}
}

// UpdateState patches the participant of uid in its active room.
func (o *Orchestrator) UpdateState(ctx context.Context, uid domain.UserID, p app.Patch) (*domain.Room, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	h, ok := o.Registry.Current(uid)
	if !ok || h.Pending {
		return nil, domain.ErrNotParticipant
	}
	if o.Beats == nil {
		return nil, errors.New("orch: no heartbeat monitor")
	}
	room, err := o.Beats.Update(ctx, uid, p)
	if errors.Is(err, domain.ErrNotFound) {
		o.release(uid, h.Room)
	}
	return room, err
}

// OnParticipantLost is wired to the heartbeat monitor.
func (o *Orchestrator) OnParticipantLost(room domain.RoomID, uid domain.UserID) {
	o.release(uid, room)
}

// OnRoomEvent drops the handles of users the directory no longer lists in
// their room. Absence from an event is confirmed with a fresh read, since
// an event may predate the join that bound the handle.
func (o *Orchestrator) OnRoomEvent(ev core.RoomEvent) {
	members := o.Registry.MembersOfRoom(ev.RoomID)
	if len(members) == 0 {
		return
	}
	if ev.Type == core.EventDeleted {
		for _, uid := range members {
			o.release(uid, ev.RoomID)
		}
		log.Info().Str("module", "orch").Str("room", string(ev.RoomID)).Int("released", len(members)).Msg("room closed")
		return
	}

	missing := slices.DeleteFunc(members, func(uid domain.UserID) bool { return ev.Room.Has(uid) })
	if len(missing) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(o.base), teardownTimeout)
	defer cancel()
	fresh, err := o.Engine.Get(ctx, ev.RoomID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		log.Warn().Err(err).Str("module", "orch").Str("room", string(ev.RoomID)).Msg("confirm eviction")
		return
	}
	for _, uid := range missing {
		if fresh == nil || !fresh.Has(uid) {
			o.release(uid, ev.RoomID)
		}
	}
}

// teardown stops heartbeat and voice for uid and leaves room.
func (o *Orchestrator) teardown(uid domain.UserID, room domain.RoomID) error {
	if o.Beats != nil {
		o.Beats.Untrack(uid)
	}
	if o.Voice != nil {
		o.Voice.Disconnect(room, uid)
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(o.base), teardownTimeout)
	defer cancel()
	if _, err := o.Engine.Leave(ctx, room, uid); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	log.Info().Str("module", "orch").Str("room", string(room)).Str("user", string(uid)).Msg("left room")
	return nil
}

// release forgets a room uid is no longer part of, without writing.
func (o *Orchestrator) release(uid domain.UserID, room domain.RoomID) {
	if !o.Registry.Release(uid, room) {
		return
	}
	if o.Beats != nil {
		o.Beats.Untrack(uid)
	}
	if o.Voice != nil {
		o.Voice.Disconnect(room, uid)
	}
	log.Info().Str("module", "orch").Str("room", string(room)).Str("user", string(uid)).Msg("released")
}
