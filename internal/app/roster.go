package app

import (
	"slices"
	"time"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
)

// Roster transitions. Each function takes the private copy handed to a
// core.TxFunc and returns the next state, nil for deletion.

// Patch is a partial participant update. Nil fields are left alone.
type Patch struct {
	Muted    *bool                   `json:"is_muted,omitempty"`
	Speaking *bool                   `json:"is_speaking,omitempty"`
	State    *domain.ConnectionState `json:"connection_state,omitempty"`
}

func (p Patch) Empty() bool { return p.Muted == nil && p.Speaking == nil && p.State == nil }

func (p Patch) Validate() error {
	if p.State != nil && !p.State.Valid() {
		return domain.Invalid("unknown connection state %q", *p.State)
	}
	return nil
}

func joinRoster(cur *domain.Room, p domain.Participant) (*domain.Room, error) {
	if cur == nil || len(cur.Participants) == 0 {
		return nil, domain.ErrRoomGone
	}
	wasHost := false
	if i := cur.IndexOf(p.UserID); i >= 0 {
		wasHost = cur.Participants[i].IsHost
		cur.Participants = slices.Delete(cur.Participants, i, i+1)
	}
	if len(cur.Participants) >= cur.Capacity {
		return nil, domain.ErrRoomFull
	}
	p.IsHost = wasHost || len(cur.Participants) == 0
	if p.IsHost {
		cur.HostID = p.UserID
	}
	cur.Participants = append(cur.Participants, p)
	cur.SortRoster()
	return cur, nil
}

// leaveRoster reports whether the host role moved.
func leaveRoster(cur *domain.Room, uid domain.UserID) (*domain.Room, bool, error) {
	if cur == nil {
		return nil, false, domain.ErrRoomGone
	}
	i := cur.IndexOf(uid)
	if i < 0 {
		return nil, false, domain.ErrNotParticipant
	}
	wasHost := cur.Participants[i].IsHost
	cur.Participants = slices.Delete(cur.Participants, i, i+1)
	if len(cur.Participants) == 0 {
		return nil, false, nil
	}
	if wasHost {
		promote(cur)
	}
	return cur, wasHost, nil
}

func evictStale(cur *domain.Room, now time.Time, after time.Duration) (*domain.Room, []domain.UserID, bool, error) {
	if cur == nil {
		return nil, nil, false, core.ErrNoChange
	}
	var evicted []domain.UserID
	hostGone := false
	kept := cur.Participants[:0]
	for _, p := range cur.Participants {
		if p.Stale(now, after) {
			evicted = append(evicted, p.UserID)
			hostGone = hostGone || p.IsHost
			continue
		}
		kept = append(kept, p)
	}
	if len(evicted) == 0 {
		return nil, nil, false, core.ErrNoChange
	}
	cur.Participants = kept
	if len(kept) == 0 {
		return nil, evicted, false, nil
	}
	if hostGone {
		promote(cur)
	}
	return cur, evicted, hostGone, nil
}

func patchRoster(cur *domain.Room, uid domain.UserID, p Patch, now time.Time) (*domain.Room, error) {
	if cur == nil {
		return nil, domain.ErrRoomGone
	}
	i := cur.IndexOf(uid)
	if i < 0 {
		return nil, domain.ErrNotParticipant
	}
	part := &cur.Participants[i]
	if p.Muted != nil {
		part.IsMuted = *p.Muted
	}
	if p.Speaking != nil {
		part.IsSpeaking = *p.Speaking
	}
	if p.State != nil {
		part.ConnectionState = *p.State
	}
	part.LastHeartbeatAt = now
	return cur, nil
}

// promote hands the host role to the earliest joiner. The roster is kept
// ordered by JoinedAt, so that is the first entry.
func promote(r *domain.Room) {
	for i := range r.Participants {
		r.Participants[i].IsHost = i == 0
	}
	r.HostID = r.Participants[0].UserID
}
