package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/domain"
)

// Handle is a user's "current room" slot: at most one pending operation and
// at most one active room. Gen identifies the operation that owns it.
type Handle struct {
	Gen     uint64
	Room    domain.RoomID
	Pending bool
	cancel  context.CancelFunc
}

// Cancel aborts the pending operation of the handle, if any.
func (h Handle) Cancel() {
	if h.cancel != nil {
		h.cancel()
	}
}

type Registry struct {
	mu      sync.RWMutex
	users   map[domain.UserID]*domain.Identity
	handles map[domain.UserID]*Handle
	gen     uint64
}

func NewRegistry() *Registry {
	return &Registry{
		users:   make(map[domain.UserID]*domain.Identity),
		handles: make(map[domain.UserID]*Handle),
	}
}

func (r *Registry) GetOrCreateUser(uid domain.UserID) domain.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[uid]; ok {
		return *u
	}
	u := &domain.Identity{UserID: uid, DisplayName: "guest"}
	r.users[uid] = u
	log.Info().Str("module", "app.registry").Str("user", string(uid)).Msg("created new user")
	return *u
}

func (r *Registry) UpdateUsername(uid domain.UserID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[uid]
	if !ok {
		u = &domain.Identity{UserID: uid}
		r.users[uid] = u
	}
	if err := u.SetDisplayName(name); err != nil {
		return err
	}
	log.Info().Str("module", "app.registry").Str("user", string(uid)).Str("username", u.DisplayName).Msg("updated username")
	return nil
}

func (r *Registry) SetAnonymous(uid domain.UserID, anon bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[uid]; ok {
		u.Anonymous = anon
	}
}

// Begin opens a new pending operation for uid and returns the handle it
// replaced. The caller must cancel the old pending operation and leave the
// old room.
func (r *Registry) Begin(uid domain.UserID, cancel context.CancelFunc) (uint64, Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	prev, had := r.handles[uid]
	r.handles[uid] = &Handle{Gen: r.gen, Pending: true, cancel: cancel}
	log.Debug().Str("module", "app.registry").Str("user", string(uid)).Uint64("gen", r.gen).Msg("begin operation")
	if !had {
		return r.gen, Handle{}, false
	}
	return r.gen, *prev, true
}

// Commit binds room to uid if gen still owns the handle.
func (r *Registry) Commit(uid domain.UserID, gen uint64, room domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[uid]
	if !ok || h.Gen != gen {
		return false
	}
	h.Room, h.Pending, h.cancel = room, false, nil
	log.Info().Str("module", "app.registry").Str("user", string(uid)).Str("room", string(room)).Msg("bound room")
	return true
}

// Settle drops a failed operation if gen still owns the handle.
func (r *Registry) Settle(uid domain.UserID, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[uid]
	if !ok || h.Gen != gen {
		return false
	}
	delete(r.handles, uid)
	return true
}

func (r *Registry) Current(uid domain.UserID) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[uid]
	if !ok {
		return Handle{}, false
	}
	return *h, true
}

// Take removes and returns the handle of uid.
func (r *Registry) Take(uid domain.UserID) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[uid]
	if !ok {
		return Handle{}, false
	}
	delete(r.handles, uid)
	log.Info().Str("module", "app.registry").Str("user", string(uid)).Str("room", string(h.Room)).Msg("released handle")
	return *h, true
}

// Release removes the handle of uid only if it is bound to room.
func (r *Registry) Release(uid domain.UserID, room domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[uid]
	if !ok || h.Pending || h.Room != room {
		return false
	}
	delete(r.handles, uid)
	return true
}

// MembersOfRoom lists users whose active room is room.
func (r *Registry) MembersOfRoom(room domain.RoomID) []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.UserID, 0)
	for uid, h := range r.handles {
		if !h.Pending && h.Room == room {
			out = append(out, uid)
		}
	}
	return out
}
