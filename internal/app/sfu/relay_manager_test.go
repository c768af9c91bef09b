package sfu

import (
	"context"
	"testing"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
)

type fakeMedia struct {
	core.MediaConnection
	closed   bool
	onTrack  func(context.Context, *webrtc.TrackRemote, *webrtc.RTPReceiver)
	onClosed func()
}

func (f *fakeMedia) OnTrack(fn func(context.Context, *webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	f.onTrack = fn
}
func (f *fakeMedia) IsClosed() bool     { return f.closed }
func (f *fakeMedia) OnClosed(fn func()) { f.onClosed = fn }
func (f *fakeMedia) Close() {
	f.closed = true
	if f.onClosed != nil {
		f.onClosed()
	}
}

func TestConnectTracksMembership(t *testing.T) {
	m := NewRelayManager()
	ctx := context.Background()

	require.NoError(t, m.Connect(ctx, "r1", "alice"))
	require.NoError(t, m.Connect(ctx, "r1", "bob"))
	require.NoError(t, m.Connect(ctx, "r2", "carol"))
	assert.ElementsMatch(t, []domain.UserID{"bob"}, m.Mates("alice"))

	require.NoError(t, m.Connect(ctx, "r2", "bob"))
	assert.Empty(t, m.Mates("alice"))
	assert.ElementsMatch(t, []domain.UserID{"carol"}, m.Mates("bob"))

	// A late disconnect for a room bob already left does nothing.
	m.Disconnect("r1", "bob")
	assert.ElementsMatch(t, []domain.UserID{"carol"}, m.Mates("bob"))

	m.DropRoom("r2")
	assert.Nil(t, m.Mates("bob"))
	assert.Nil(t, m.Mates("carol"))

	assert.Error(t, m.Connect(ctx, "", "bob"))
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, m.Connect(cancelled, "r1", "bob"), context.Canceled)
}

func TestAttachAndDetachMedia(t *testing.T) {
	m := NewRelayManager()
	require.NoError(t, m.Connect(context.Background(), "r1", "alice"))

	first := &fakeMedia{}
	m.AttachMedia("alice", first)
	require.NotNil(t, first.onTrack, "track handler installed")
	first.OnClosed(func() { m.DetachMedia("alice") })

	second := &fakeMedia{}
	m.AttachMedia("alice", second)
	assert.True(t, first.closed, "a replaced connection is closed")
	assert.False(t, second.closed, "closing the old connection leaves the new one attached")

	m.DetachMedia("alice")
	assert.True(t, second.closed)
	m.DetachMedia("alice")
}

func testTrack(t *testing.T) *webrtc.TrackLocalStaticRTP {
	t.Helper()
	tr, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "test")
	require.NoError(t, err)
	return tr
}

func TestRelayForwardDropsDeletedListeners(t *testing.T) {
	r := NewRelay(nil, func() {})
	ok, muted, gone := NewOutTrack(testTrack(t)), NewOutTrack(testTrack(t)), NewOutTrack(testTrack(t))
	require.True(t, r.AddOutTrack("ok", ok))
	require.True(t, r.AddOutTrack("muted", muted))
	require.True(t, r.AddOutTrack("gone", gone))
	assert.False(t, r.AddOutTrack("ok", NewOutTrack(testTrack(t))), "a live listener is not replaced")

	muted.SetMuted(true)
	gone.MarkDelete()

	logger := zerolog.Nop()
	r.forward(&rtp.Packet{Header: rtp.Header{Version: 2, SequenceNumber: 1}}, &logger)

	assert.True(t, r.Listening("ok"))
	assert.True(t, r.Listening("muted"))
	assert.False(t, r.Listening("gone"))
	r.mu.RLock()
	assert.Len(t, r.outTracks, 2)
	r.mu.RUnlock()
}

func TestRelayMuteIsInherited(t *testing.T) {
	r := NewRelay(nil, func() {})
	a := NewOutTrack(testTrack(t))
	r.AddOutTrack("a", a)
	r.setMuted(true)
	assert.Equal(t, TrackStateMuted, a.State())

	b := NewOutTrack(testTrack(t))
	r.AddOutTrack("b", b)
	assert.Equal(t, TrackStateMuted, b.State())

	r.setMuted(false)
	assert.Equal(t, TrackStateOk, a.State())

	a.MarkDelete()
	a.SetMuted(true)
	assert.Equal(t, TrackStateDelete, a.State(), "deleted stays deleted")
	r.markAllDelete()
	assert.Equal(t, TrackStateDelete, b.State())
}
