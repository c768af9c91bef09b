// Package domain contains the room/participant data model and its invariants.
// No storage, transport or scheduling logic lives here.
package domain

import (
	"strings"
)

const (
	MaxUserIDLen      = 64
	MaxDisplayNameLen = 36
)

type UserID string

// Identity is what the identity provider hands the engine for one request.
// The engine does not authenticate it.
type Identity struct {
	UserID      UserID `json:"user_id"`
	DisplayName string `json:"display_name"`
	Anonymous   bool   `json:"anonymous"`
}

// NewIdentity is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewIdentity(id UserID, displayName string, anonymous bool) (Identity, error) {
	ident := Identity{UserID: id, Anonymous: anonymous}
	if err := ident.SetDisplayName(displayName); err != nil {
		return Identity{}, err
	}
	return ident, ident.Validate()
}

func (i *Identity) SetDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if len(name) == 0 {
		return Invalid("display name empty")
	}
	if len(name) > MaxDisplayNameLen {
		return Invalid("display name too long")
	}
	i.DisplayName = name
	return nil
}

func (i Identity) Validate() error {
	if len(i.UserID) == 0 {
		return Invalid("user id empty")
	}
	if len(i.UserID) > MaxUserIDLen {
		return Invalid("user id too long")
	}
	if len(i.DisplayName) == 0 {
		return Invalid("display name empty")
	}
	return nil
}
