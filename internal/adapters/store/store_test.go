package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/geo"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type backend struct {
	name string
	open func(t *testing.T) core.Store
}

func backends() []backend {
	return []backend{
		{"memory", func(*testing.T) core.Store { return NewMemoryStore() }},
		{"badger", func(t *testing.T) core.Store {
			s, err := OpenBadger(t.TempDir())
			require.NoError(t, err)
			return s
		}},
	}
}

func newDir(t *testing.T, s core.Store) *core.Directory {
	d := core.NewDirectory(s, core.NewFeed(), core.RetryPolicy{MaxAttempts: 64, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func hostedRoom(id domain.RoomID, host domain.UserID, loc *domain.LocationToken) *domain.Room {
	p := domain.NewParticipant(domain.Identity{UserID: host, DisplayName: string(host)}, false, t0)
	p.IsHost = true
	return &domain.Room{
		ID:           id,
		Name:         "room " + string(id),
		Visibility:   domain.VisibilityPublic,
		Participants: []domain.Participant{p},
		Capacity:     domain.MaxRoomRoster,
		CreatedAt:    t0,
		CreatedBy:    host,
		HostID:       host,
		Location:     loc,
	}
}

func put(r *domain.Room) core.TxFunc {
	return func(*domain.Room) (*domain.Room, error) { return r, nil }
}

func addUser(uid domain.UserID, at time.Time) core.TxFunc {
	return func(cur *domain.Room) (*domain.Room, error) {
		if cur == nil {
			return nil, domain.ErrRoomGone
		}
		cur.Participants = append(cur.Participants, domain.NewParticipant(domain.Identity{UserID: uid, DisplayName: string(uid)}, false, at))
		cur.SortRoster()
		return cur, nil
	}
}

func TestTransactLifecycle(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			d := newDir(t, b.open(t))

			c, err := d.Transact(ctx, "r1", put(hostedRoom("r1", "alice", nil)))
			require.NoError(t, err)
			assert.True(t, c.Changed)
			assert.Nil(t, c.Previous)
			assert.Equal(t, uint64(1), c.Room.Version)

			c, err = d.Transact(ctx, "r1", addUser("bob", t0.Add(time.Second)))
			require.NoError(t, err)
			assert.Equal(t, uint64(2), c.Room.Version)
			assert.Len(t, c.Room.Participants, 2)

			got, err := d.Get(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, c.Room, got)

			c, err = d.Transact(ctx, "r1", func(*domain.Room) (*domain.Room, error) { return nil, core.ErrNoChange })
			require.NoError(t, err)
			assert.False(t, c.Changed)
			assert.Equal(t, uint64(2), c.Room.Version)

			c, err = d.Transact(ctx, "r1", func(*domain.Room) (*domain.Room, error) { return nil, nil })
			require.NoError(t, err)
			assert.True(t, c.Deleted)
			assert.Equal(t, domain.RoomID("r1"), c.Previous.ID)

			_, err = d.Get(ctx, "r1")
			assert.ErrorIs(t, err, domain.ErrNotFound)

			// Deleting an absent room is a no-op.
			c, err = d.Transact(ctx, "r1", func(*domain.Room) (*domain.Room, error) { return nil, nil })
			require.NoError(t, err)
			assert.False(t, c.Changed)
		})
	}
}

func TestTransactRejectsBadState(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			d := newDir(t, b.open(t))
			require.NoError(t, first(d.Transact(ctx, "r1", put(hostedRoom("r1", "alice", nil)))))

			_, err := d.Transact(ctx, "r1", func(cur *domain.Room) (*domain.Room, error) {
				cur.Participants = nil
				return cur, nil
			})
			assert.ErrorIs(t, err, core.ErrInvariant)

			_, err = d.Transact(ctx, "r1", func(cur *domain.Room) (*domain.Room, error) {
				cur.Participants[0].IsHost = false
				return cur, nil
			})
			assert.ErrorIs(t, err, core.ErrInvariant)

			_, err = d.Transact(ctx, "r1", func(*domain.Room) (*domain.Room, error) {
				return hostedRoom("other", "alice", nil), nil
			})
			assert.ErrorIs(t, err, core.ErrInvariant)

			_, err = d.Transact(ctx, "r1", func(*domain.Room) (*domain.Room, error) { return nil, domain.ErrRoomFull })
			assert.ErrorIs(t, err, domain.ErrCapacityExceeded)

			got, err := d.Get(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, uint64(1), got.Version, "nothing was written")
		})
	}
}

func TestTransactConcurrentWritersLoseNothing(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			d := newDir(t, b.open(t))
			require.NoError(t, first(d.Transact(ctx, "r1", put(hostedRoom("r1", "host", nil)))))

			var wg conc.WaitGroup
			for i := range 16 {
				wg.Go(func() {
					uid := domain.UserID(fmt.Sprintf("u%02d", i))
					_, err := d.Transact(ctx, "r1", addUser(uid, t0.Add(time.Duration(i+1)*time.Second)))
					assert.NoError(t, err)
				})
			}
			wg.Wait()

			got, err := d.Get(ctx, "r1")
			require.NoError(t, err)
			assert.Len(t, got.Participants, 17)
			assert.Equal(t, uint64(17), got.Version)
			assert.NoError(t, got.CheckInvariants())
		})
	}
}

func TestCancelledContextNeverCommits(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			d := newDir(t, b.open(t))
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err := d.Transact(ctx, "r1", put(hostedRoom("r1", "alice", nil)))
			assert.ErrorIs(t, err, context.Canceled)

			_, err = d.Get(context.Background(), "r1")
			assert.ErrorIs(t, err, domain.ErrRoomGone)
		})
	}
}

func TestGuardDetectsConcurrentClaim(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			d := newDir(t, b.open(t))

			gA, err := d.Guard(ctx, []string{"u33dc0", "u33dc1"}, "u33dc0")
			require.NoError(t, err)
			gB, err := d.Guard(ctx, []string{"u33dc1", "u33dc0"}, "u33dc1")
			require.NoError(t, err)

			_, err = d.Attempt(ctx, "b", put(hostedRoom("b", "bob", nil)), gB)
			require.NoError(t, err)

			_, err = d.Attempt(ctx, "a", put(hostedRoom("a", "alice", nil)), gA)
			assert.ErrorIs(t, err, core.ErrWriteConflict)

			// A fresh snapshot succeeds.
			gA, err = d.Guard(ctx, []string{"u33dc0", "u33dc1"}, "u33dc0")
			require.NoError(t, err)
			_, err = d.Attempt(ctx, "a", put(hostedRoom("a", "alice", nil)), gA)
			assert.NoError(t, err)

			// Unrelated cells do not interfere.
			gC, err := d.Guard(ctx, []string{"ezs42"}, "ezs42")
			require.NoError(t, err)
			_, err = d.Attempt(ctx, "c", put(hostedRoom("c", "carol", nil)), gC)
			assert.NoError(t, err)
		})
	}
}

func TestQueryActiveNear(t *testing.T) {
	ix := geo.NewIndex(domain.TierStreet)
	token := func(lat, lon float64) *domain.LocationToken {
		tok, err := ix.ToPrivacyToken(domain.Sample{Coordinate: domain.Coordinate{Lat: lat, Lon: lon}}, "")
		require.NoError(t, err)
		return &tok
	}
	coarse, err := ix.ToPrivacyToken(domain.Sample{Coordinate: domain.Coordinate{Lat: 52.5202, Lon: 13.4049}}, domain.TierDistrict)
	require.NoError(t, err)

	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			d := newDir(t, b.open(t))

			near := hostedRoom("near", "alice", token(52.5200, 13.4050))
			far := hostedRoom("far", "bob", token(48.8566, 2.3522))
			private := hostedRoom("private", "carol", token(52.5201, 13.4051))
			private.Visibility = domain.VisibilityPrivate
			district := hostedRoom("district", "dave", &coarse)
			district.CreatedAt = t0.Add(-time.Minute)
			unlocated := hostedRoom("nowhere", "erin", nil)
			for _, r := range []*domain.Room{near, far, private, district, unlocated} {
				require.NoError(t, first(d.Transact(ctx, r.ID, put(r))))
			}

			cands := ix.Candidates(*token(52.5201, 13.4051), 100)
			got, err := d.QueryActive(ctx, core.Filter{Visibility: domain.VisibilityPublic, Near: &cands})
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, domain.RoomID("district"), got[0].ID, "oldest first")
			assert.Equal(t, domain.RoomID("near"), got[1].ID)

			all, err := d.QueryActive(ctx, core.Filter{})
			require.NoError(t, err)
			assert.Len(t, all, 5)

			limited, err := d.QueryActive(ctx, core.Filter{Limit: 2})
			require.NoError(t, err)
			assert.Len(t, limited, 2)

			anon := true
			none, err := d.QueryActive(ctx, core.Filter{Anonymous: &anon})
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestQueryActiveNotFull(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			d := newDir(t, b.open(t))
			r := hostedRoom("r1", "alice", nil)
			r.Capacity = 2
			require.NoError(t, first(d.Transact(ctx, "r1", put(r))))
			require.NoError(t, first(d.Transact(ctx, "r1", addUser("bob", t0.Add(time.Second)))))

			got, err := d.QueryActive(ctx, core.Filter{NotFull: true})
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestInjectedConflictsAreRetried(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	d := core.NewDirectory(mem, core.NewFeed(), core.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	defer d.Close()

	calls := 0
	mem.InjectConflicts(2)
	_, err := d.Transact(ctx, "r1", func(*domain.Room) (*domain.Room, error) {
		calls++
		return hostedRoom("r1", "alice", nil), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls, "each retry re-runs fn on a fresh snapshot")

	mem.InjectConflicts(3)
	_, err = d.Transact(ctx, "r1", addUser("bob", t0.Add(time.Second)))
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, "CONFLICT", domain.Code(err))

	got, err := d.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, got.Participants, 1, "an exhausted transaction writes nothing")
}

func TestSubscribeDeliversUntilDeleted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := newDir(t, NewMemoryStore())

	events := make(chan core.RoomEvent, 16)
	require.NoError(t, d.Subscribe(ctx, "r1", func(ev core.RoomEvent) { events <- ev }))
	active := make(chan core.RoomEvent, 16)
	require.NoError(t, d.SubscribeActive(ctx, func(ev core.RoomEvent) { active <- ev }))

	require.NoError(t, first(d.Transact(ctx, "r1", put(hostedRoom("r1", "alice", nil)))))
	require.NoError(t, first(d.Transact(ctx, "other", put(hostedRoom("other", "bob", nil)))))
	require.NoError(t, first(d.Transact(ctx, "r1", func(*domain.Room) (*domain.Room, error) { return nil, nil })))

	// Delivery order is not guaranteed, the fence is: the deletion is
	// always the last event a subscriber sees.
	deadline := time.After(2 * time.Second)
	for done := false; !done; {
		select {
		case ev := <-events:
			assert.Equal(t, domain.RoomID("r1"), ev.RoomID)
			if ev.Type == core.EventDeleted {
				done = true
				continue
			}
			require.NotNil(t, ev.Room)
			assert.NotEmpty(t, ev.Room.Participants, "an empty room is never published")
		case <-deadline:
			t.Fatal("timed out waiting for the deletion")
		}
	}
	select {
	case ev := <-events:
		t.Fatalf("event after deletion: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	seen := map[domain.RoomID]bool{}
	for len(seen) < 2 {
		select {
		case ev := <-active:
			seen[ev.RoomID] = true
		case <-deadline:
			t.Fatal("active subscriber timed out")
		}
	}
}

func first(_ core.Commit, err error) error { return err }
