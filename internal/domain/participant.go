package domain

import (
	"encoding/hex"
	"time"

	"github.com/zeebo/blake3"
)

type ConnectionState string

const (
	StatePending    ConnectionState = "pending"
	StateConnecting ConnectionState = "connecting"
	StateConnected  ConnectionState = "connected"
	StateLeaving    ConnectionState = "leaving"
)

func (s ConnectionState) Valid() bool {
	switch s {
	case StatePending, StateConnecting, StateConnected, StateLeaving:
		return true
	}
	return false
}

// Participant represents user's membership in a room.
// Host flags are only ever flipped by the lifecycle controller.
type Participant struct {
	UserID          UserID          `json:"user_id"`
	DisplayName     string          `json:"display_name"`
	IsAnonymized    bool            `json:"is_anonymized"`
	IsMuted         bool            `json:"is_muted"`
	IsSpeaking      bool            `json:"is_speaking"`
	JoinedAt        time.Time       `json:"joined_at"`
	LastHeartbeatAt time.Time       `json:"last_heartbeat_at"`
	IsHost          bool            `json:"is_host"`
	ConnectionState ConnectionState `json:"connection_state"`
}

// NewParticipant returns a committed participant that has not yet reached
// the voice transport.
func NewParticipant(ident Identity, anonymized bool, now time.Time) Participant {
	return Participant{
		UserID:          ident.UserID,
		DisplayName:     ident.DisplayName,
		IsAnonymized:    anonymized || ident.Anonymous,
		JoinedAt:        now,
		LastHeartbeatAt: now,
		ConnectionState: StateConnecting,
	}
}

// PublicName is the only name a read path may show.
func (p Participant) PublicName(roomID RoomID) string {
	if p.IsAnonymized {
		return AnonymousHandle(roomID, p.UserID)
	}
	return p.DisplayName
}

// Stale reports whether the last heartbeat is older than after.
func (p Participant) Stale(now time.Time, after time.Duration) bool {
	return now.Sub(p.LastHeartbeatAt) > after
}

// AnonymousHandle derives a stable per-room handle that does not reveal the user id.
func AnonymousHandle(roomID RoomID, userID UserID) string {
	sum := blake3.Sum256([]byte(string(roomID) + "\x00" + string(userID)))
	return "anon-" + hex.EncodeToString(sum[:3])
}

// ParticipantView is a read-only projection for APIs.
type ParticipantView struct {
	Name            string          `json:"name"`
	IsAnonymized    bool            `json:"is_anonymized"`
	IsMuted         bool            `json:"is_muted"`
	IsSpeaking      bool            `json:"is_speaking"`
	IsHost          bool            `json:"is_host"`
	JoinedAt        time.Time       `json:"joined_at"`
	ConnectionState ConnectionState `json:"connection_state"`
	IsSelf          bool            `json:"is_self,omitempty"`
}
