package orch

//go:generate mockgen -source=ports.go -destination=mock_ports_test.go -package=orch

import (
	"context"

	"github.com/dkeye/huddle/internal/app"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
)

// Engine is the lifecycle controller as seen by the orchestrator.
type Engine interface {
	Precheck(p app.CreateParams) error
	Create(ctx context.Context, p app.CreateParams) (*app.Result, error)
	Join(ctx context.Context, id domain.RoomID, ident domain.Identity) (*app.Result, error)
	Leave(ctx context.Context, id domain.RoomID, uid domain.UserID) (*app.LeaveResult, error)
	Get(ctx context.Context, id domain.RoomID) (*domain.Room, error)
}

// VoiceTransport joins and leaves the audio channel keyed by the room id.
type VoiceTransport interface {
	Connect(ctx context.Context, room domain.RoomID, uid domain.UserID) error
	Disconnect(room domain.RoomID, uid domain.UserID)
}

// MediaBinder owns the peer connection of a user once negotiated.
type MediaBinder interface {
	AttachMedia(uid domain.UserID, mc core.MediaConnection)
	DetachMedia(uid domain.UserID)
}

// Heartbeats is the liveness side of an active room.
type Heartbeats interface {
	Track(room domain.RoomID, uid domain.UserID)
	Untrack(uid domain.UserID)
	Update(ctx context.Context, uid domain.UserID, p app.Patch) (*domain.Room, error)
}
