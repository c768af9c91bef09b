// Package store holds the backends behind core.Directory.
package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
)

// MemoryStore keeps rooms in a map with per-room versions. Attempts snapshot
// under the read lock, run fn unlocked and validate the versions they read
// under the write lock.
type MemoryStore struct {
	mu     sync.RWMutex
	rooms  map[domain.RoomID]*domain.Room
	claims map[string]uint64

	inject atomic.Int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:  make(map[domain.RoomID]*domain.Room),
		claims: make(map[string]uint64),
	}
}

// InjectConflicts makes the next n attempts fail with core.ErrWriteConflict
// after running their TxFunc, as if a concurrent writer had won.
func (m *MemoryStore) InjectConflicts(n int) {
	m.inject.Store(int64(n))
}

func (m *MemoryStore) Load(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	if !ok {
		return nil, domain.ErrRoomGone
	}
	return r.Clone(), nil
}

func (m *MemoryStore) Scan(ctx context.Context, f core.Filter) ([]*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]*domain.Room, 0)
	for _, r := range m.rooms {
		if f.Match(r) {
			out = append(out, r.Clone())
		}
	}
	m.mu.RUnlock()
	return f.Finish(out), nil
}

func (m *MemoryStore) Guard(ctx context.Context, read []string, claim string) (*core.Guard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	g := &core.Guard{Read: make(map[string]uint64, len(read)), Claim: claim}
	for _, cell := range read {
		g.Read[cell] = m.claims[cell]
	}
	return g, nil
}

func (m *MemoryStore) Attempt(ctx context.Context, id domain.RoomID, fn core.TxFunc, g *core.Guard) (core.Commit, error) {
	m.mu.RLock()
	snap := m.rooms[id]
	m.mu.RUnlock()

	var readVersion uint64
	if snap != nil {
		readVersion = snap.Version
	}

	next, err := fn(snap.Clone())
	if errors.Is(err, core.ErrNoChange) || (err == nil && next == nil && snap == nil) {
		return core.Commit{Room: snap.Clone(), Previous: snap.Clone()}, nil
	}
	if err != nil {
		return core.Commit{}, err
	}

	if m.takeInjected() {
		return core.Commit{}, core.ErrWriteConflict
	}
	if err := ctx.Err(); err != nil {
		return core.Commit{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.rooms[id]
	var curVersion uint64
	if cur != nil {
		curVersion = cur.Version
	}
	if curVersion != readVersion || (cur == nil) != (snap == nil) {
		return core.Commit{}, core.ErrWriteConflict
	}
	if g != nil {
		for cell, seen := range g.Read {
			if m.claims[cell] != seen {
				return core.Commit{}, core.ErrWriteConflict
			}
		}
	}

	if next == nil {
		delete(m.rooms, id)
		return core.Commit{Previous: cur.Clone(), Deleted: true, Changed: true}, nil
	}
	stored := next.Clone()
	stored.Version = curVersion + 1
	m.rooms[id] = stored
	if g != nil && g.Claim != "" {
		m.claims[g.Claim]++
	}
	return core.Commit{Room: stored.Clone(), Previous: cur.Clone(), Changed: true}, nil
}

func (m *MemoryStore) takeInjected() bool {
	for {
		n := m.inject.Load()
		if n <= 0 {
			return false
		}
		if m.inject.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

// Len reports the number of stored rooms.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

func (m *MemoryStore) Close() error { return nil }
