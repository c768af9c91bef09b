package core

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/geo"
)

var (
	// ErrNoChange is returned by a TxFunc that decided not to write.
	ErrNoChange = errors.New("core: no change")
	// ErrWriteConflict means another commit won the race; the attempt may be retried.
	ErrWriteConflict = errors.New("core: write conflict")
	// ErrInvariant means a TxFunc produced a room that must never be persisted.
	ErrInvariant = errors.New("core: invariant violated")
)

// TxFunc receives a private copy of the current room, nil if absent.
// It returns the next room, nil to delete, or ErrNoChange.
type TxFunc func(current *domain.Room) (*domain.Room, error)

// Guard carries creation claims. Read holds the claim counters of the cells
// observed before the attempt; Claim is the cell bumped on commit.
type Guard struct {
	Read  map[string]uint64
	Claim string
}

// Commit describes the outcome of one transaction.
type Commit struct {
	Room     *domain.Room // committed state, nil when deleted or still absent
	Previous *domain.Room
	Deleted  bool
	Changed  bool
}

// Filter is the predicate of a QueryActive call. Zero values match everything.
type Filter struct {
	Visibility domain.Visibility
	Anonymous  *bool
	NotFull    bool
	Near       *geo.Candidates
	Limit      int
}

func (f Filter) Match(r *domain.Room) bool {
	if r == nil || len(r.Participants) == 0 {
		return false
	}
	if f.Visibility != "" && r.Visibility != f.Visibility {
		return false
	}
	if f.Anonymous != nil && r.IsAnonymous != *f.Anonymous {
		return false
	}
	if f.NotFull && r.IsFull() {
		return false
	}
	if f.Near != nil && !f.Near.Covers(r.Location) {
		return false
	}
	return true
}

// Finish orders matches oldest first and applies the limit.
func (f Filter) Finish(rooms []*domain.Room) []*domain.Room {
	slices.SortFunc(rooms, func(a, b *domain.Room) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(string(a.ID), string(b.ID))
	})
	if f.Limit > 0 && len(rooms) > f.Limit {
		rooms = rooms[:f.Limit]
	}
	return rooms
}

// Store is a backing document store. Attempt runs fn exactly once against a
// consistent snapshot and commits only if nothing it read changed meanwhile,
// returning ErrWriteConflict otherwise. Errors from fn are returned unwrapped,
// except ErrNoChange which yields an unchanged Commit and a nil error.
// Load returns domain.ErrRoomGone for an absent room.
type Store interface {
	Load(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	Scan(ctx context.Context, f Filter) ([]*domain.Room, error)
	Attempt(ctx context.Context, id domain.RoomID, fn TxFunc, g *Guard) (Commit, error)
	Guard(ctx context.Context, read []string, claim string) (*Guard, error)
	Close() error
}
