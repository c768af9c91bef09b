// Package authz decides who may create rooms without a location token.
package authz

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/domain"
)

const (
	roleGhost = "ghost"
	objLoc    = "location"
	actBypass = "bypass"
)

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

// BypassAuthorizer answers whether a user holds the ghost role.
type BypassAuthorizer struct {
	enforcer *casbin.SyncedEnforcer
}

// NewBypassAuthorizer grants the location bypass to ghosts.
func NewBypassAuthorizer(ghosts ...domain.UserID) (*BypassAuthorizer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("authz model: %w", err)
	}
	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("authz enforcer: %w", err)
	}
	if _, err := e.AddPolicy(roleGhost, objLoc, actBypass); err != nil {
		return nil, err
	}
	a := &BypassAuthorizer{enforcer: e}
	for _, g := range ghosts {
		if err := a.Grant(g); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *BypassAuthorizer) Grant(uid domain.UserID) error {
	_, err := a.enforcer.AddGroupingPolicy(string(uid), roleGhost)
	if err == nil {
		log.Info().Str("module", "authz").Str("user", string(uid)).Msg("granted location bypass")
	}
	return err
}

func (a *BypassAuthorizer) Revoke(uid domain.UserID) error {
	_, err := a.enforcer.RemoveGroupingPolicy(string(uid), roleGhost)
	return err
}

// CanBypassLocation fails closed: an enforcer error denies.
func (a *BypassAuthorizer) CanBypassLocation(uid domain.UserID) bool {
	ok, err := a.enforcer.Enforce(string(uid), objLoc, actBypass)
	if err != nil {
		log.Error().Err(err).Str("module", "authz").Str("user", string(uid)).Msg("enforce")
		return false
	}
	return ok
}
