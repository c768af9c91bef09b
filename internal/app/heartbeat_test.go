package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/huddle/internal/domain"
)

type beatCall struct {
	room  domain.RoomID
	user  domain.UserID
	patch Patch
}

type fakeBeater struct {
	mu    sync.Mutex
	calls []beatCall
	err   map[domain.UserID]error
	block chan struct{}
}

func (f *fakeBeater) Heartbeat(ctx context.Context, id domain.RoomID, uid domain.UserID) (*domain.Room, error) {
	return f.UpdateParticipantState(ctx, id, uid, Patch{})
}

func (f *fakeBeater) UpdateParticipantState(ctx context.Context, id domain.RoomID, uid domain.UserID, p Patch) (*domain.Room, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, beatCall{id, uid, p})
	if err := f.err[uid]; err != nil {
		return nil, err
	}
	return &domain.Room{ID: id}, nil
}

func (f *fakeBeater) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newMonitor(t *testing.T, b Beater) (*HeartbeatMonitor, *fakeClock) {
	t.Helper()
	clock := newClock()
	h := NewHeartbeatMonitor(b, 30*time.Second)
	h.now = clock.Now
	t.Cleanup(h.Stop)
	return h, clock
}

func TestHeartbeatWritesOncePerInterval(t *testing.T) {
	b := &fakeBeater{}
	h, clock := newMonitor(t, b)
	ctx := context.Background()

	h.Track("r1", "alice")
	h.tick(ctx)
	assert.Zero(t, b.count(), "a fresh join already carries a heartbeat")

	clock.Advance(10 * time.Second)
	h.tick(ctx)
	assert.Zero(t, b.count())

	clock.Advance(20 * time.Second)
	h.tick(ctx)
	require.Equal(t, 1, b.count())
	assert.Equal(t, beatCall{"r1", "alice", Patch{}}, b.calls[0])

	clock.Advance(10 * time.Second)
	h.tick(ctx)
	assert.Equal(t, 1, b.count())
}

func TestStateUpdatePostponesHeartbeat(t *testing.T) {
	b := &fakeBeater{}
	h, clock := newMonitor(t, b)
	ctx := context.Background()
	h.Track("r1", "alice")

	clock.Advance(25 * time.Second)
	muted := true
	_, err := h.Update(ctx, "alice", Patch{Muted: &muted})
	require.NoError(t, err)

	clock.Advance(10 * time.Second)
	h.tick(ctx)
	assert.Equal(t, 1, b.count(), "only the update was written")

	_, err = h.Update(ctx, "bob", Patch{})
	assert.ErrorIs(t, err, domain.ErrNotParticipant)
}

func TestHeartbeatReportsLostParticipant(t *testing.T) {
	b := &fakeBeater{err: map[domain.UserID]error{"alice": domain.ErrNotParticipant}}
	h, clock := newMonitor(t, b)

	lost := make(chan domain.UserID, 1)
	h.OnLost(func(room domain.RoomID, uid domain.UserID) {
		assert.Equal(t, domain.RoomID("r1"), room)
		lost <- uid
	})
	h.Track("r1", "alice")
	h.Track("r1", "bob")

	clock.Advance(time.Minute)
	h.tick(context.Background())

	select {
	case uid := <-lost:
		assert.Equal(t, domain.UserID("alice"), uid)
	default:
		t.Fatal("onLost not called")
	}
	_, tracked := h.Tracked("alice")
	assert.False(t, tracked)
	room, tracked := h.Tracked("bob")
	assert.True(t, tracked)
	assert.Equal(t, domain.RoomID("r1"), room)
}

func TestUntrackCancelsWriteInFlight(t *testing.T) {
	b := &fakeBeater{block: make(chan struct{})}
	h, clock := newMonitor(t, b)
	called := false
	h.OnLost(func(domain.RoomID, domain.UserID) { called = true })
	h.Track("r1", "alice")
	clock.Advance(time.Minute)

	done := make(chan struct{})
	go func() {
		h.tick(context.Background())
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	h.Untrack("alice")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("write was not cancelled")
	}
	assert.Zero(t, b.count())
	assert.False(t, called)
}

func TestRetrackReplacesRoom(t *testing.T) {
	b := &fakeBeater{}
	h, clock := newMonitor(t, b)
	h.Track("r1", "alice")
	h.Track("r2", "alice")
	clock.Advance(time.Minute)
	h.tick(context.Background())

	require.Equal(t, 1, b.count())
	assert.Equal(t, domain.RoomID("r2"), b.calls[0].room)
}

func TestMonitorServeStops(t *testing.T) {
	h := NewHeartbeatMonitor(&fakeBeater{}, 30*time.Millisecond)
	errc := make(chan error, 1)
	go func() { errc <- h.Serve(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	h.Stop()
	select {
	case err := <-errc:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return")
	}
}
