package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

type RoomID string

type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityPrivate  Visibility = "private"
	VisibilityRegional Visibility = "regional"
	VisibilityGhost    Visibility = "ephemeral-ghost"
)

func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityPrivate, VisibilityRegional, VisibilityGhost:
		return true
	}
	return false
}

const (
	MinCapacity   = 2
	MaxRoomName   = 64
	MaxRoomRoster = 64
)

// Room is the persisted document. Version is owned by the store and bumps on every commit.
type Room struct {
	ID           RoomID         `json:"id"`
	Name         string         `json:"name"`
	Visibility   Visibility     `json:"visibility"`
	IsAnonymous  bool           `json:"is_anonymous"`
	Participants []Participant  `json:"participants"`
	Capacity     int            `json:"capacity"`
	CreatedAt    time.Time      `json:"created_at"`
	CreatedBy    UserID         `json:"created_by"`
	HostID       UserID         `json:"host_id,omitempty"`
	Location     *LocationToken `json:"location,omitempty"`
	Version      uint64         `json:"version"`
}

// Clone returns a deep copy safe to mutate.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	out := *r
	out.Participants = slices.Clone(r.Participants)
	if r.Location != nil {
		loc := *r.Location
		out.Location = &loc
	}
	return &out
}

func (r *Room) IndexOf(id UserID) int {
	return slices.IndexFunc(r.Participants, func(p Participant) bool { return p.UserID == id })
}

func (r *Room) Has(id UserID) bool { return r.IndexOf(id) >= 0 }

func (r *Room) IsFull() bool { return len(r.Participants) >= r.Capacity }

// Host returns the current host, or nil for an empty roster.
func (r *Room) Host() *Participant {
	for i := range r.Participants {
		if r.Participants[i].IsHost {
			return &r.Participants[i]
		}
	}
	return nil
}

// SortRoster keeps the roster ordered by JoinedAt; ties keep insertion order.
func (r *Room) SortRoster() {
	slices.SortStableFunc(r.Participants, func(a, b Participant) int {
		return a.JoinedAt.Compare(b.JoinedAt)
	})
}

// CheckInvariants is run on every document about to be committed.
func (r *Room) CheckInvariants() error {
	if len(r.Participants) == 0 {
		return fmt.Errorf("room %s: empty roster must be deleted", r.ID)
	}
	if len(r.Participants) > r.Capacity {
		return fmt.Errorf("room %s: %d participants over capacity %d", r.ID, len(r.Participants), r.Capacity)
	}
	hosts := 0
	seen := make(map[UserID]struct{}, len(r.Participants))
	for i, p := range r.Participants {
		if _, dup := seen[p.UserID]; dup {
			return fmt.Errorf("room %s: duplicate participant %s", r.ID, p.UserID)
		}
		seen[p.UserID] = struct{}{}
		if p.IsHost {
			hosts++
			if p.UserID != r.HostID {
				return fmt.Errorf("room %s: host flag on %s but host id %s", r.ID, p.UserID, r.HostID)
			}
		}
		if i > 0 && p.JoinedAt.Before(r.Participants[i-1].JoinedAt) {
			return fmt.Errorf("room %s: roster not ordered by join time", r.ID)
		}
	}
	if hosts != 1 {
		return fmt.Errorf("room %s: %d hosts", r.ID, hosts)
	}
	return nil
}

// ValidateRoomName trims and checks a user supplied room name.
func ValidateRoomName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", Invalid("room name empty")
	}
	if len(name) > MaxRoomName {
		return "", Invalid("room name too long")
	}
	return name, nil
}

// RoomView is a read-only projection: anonymized names, no user ids.
type RoomView struct {
	ID           RoomID            `json:"id"`
	Name         string            `json:"name"`
	Visibility   Visibility        `json:"visibility"`
	IsAnonymous  bool              `json:"is_anonymous"`
	Capacity     int               `json:"capacity"`
	Count        int               `json:"count"`
	CreatedAt    time.Time         `json:"created_at"`
	Host         string            `json:"host,omitempty"`
	Participants []ParticipantView `json:"participants"`
	Location     *LocationToken    `json:"location,omitempty"`
}

// View projects the room for viewer; viewer may be empty.
func (r *Room) View(viewer UserID) RoomView {
	v := RoomView{
		ID:           r.ID,
		Name:         r.Name,
		Visibility:   r.Visibility,
		IsAnonymous:  r.IsAnonymous,
		Capacity:     r.Capacity,
		Count:        len(r.Participants),
		CreatedAt:    r.CreatedAt,
		Participants: make([]ParticipantView, 0, len(r.Participants)),
	}
	if r.Location != nil {
		loc := *r.Location
		v.Location = &loc
	}
	for _, p := range r.Participants {
		name := p.PublicName(r.ID)
		if p.IsHost {
			v.Host = name
		}
		v.Participants = append(v.Participants, ParticipantView{
			Name:            name,
			IsAnonymized:    p.IsAnonymized,
			IsMuted:         p.IsMuted,
			IsSpeaking:      p.IsSpeaking,
			IsHost:          p.IsHost,
			JoinedAt:        p.JoinedAt,
			ConnectionState: p.ConnectionState,
			IsSelf:          viewer != "" && p.UserID == viewer,
		})
	}
	return v
}
