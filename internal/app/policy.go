package app

import (
	"time"

	"github.com/dkeye/huddle/internal/domain"
)

const (
	DefaultMergeRadiusM   = 100.0
	DefaultStaleAfter     = 60 * time.Second
	DefaultCapacity       = 8
	DefaultHeartbeatEvery = 30 * time.Second

	// DefaultMaxDiscoveryRadiusM bounds nearby discovery.
	DefaultMaxDiscoveryRadiusM = 5000.0
)

// Policy supplies the per-room-type constants of the engine.
type Policy interface {
	MergeRadius(v domain.Visibility) float64
	StaleAfter(v domain.Visibility) time.Duration
}

// Override replaces the defaults for one visibility. Zero fields keep the default.
type Override struct {
	MergeRadiusM float64
	StaleAfter   time.Duration
}

type StaticPolicy struct {
	MergeRadiusM float64
	Stale        time.Duration
	Overrides    map[domain.Visibility]Override
}

func DefaultPolicy() StaticPolicy {
	return StaticPolicy{MergeRadiusM: DefaultMergeRadiusM, Stale: DefaultStaleAfter}
}

func (p StaticPolicy) MergeRadius(v domain.Visibility) float64 {
	if o, ok := p.Overrides[v]; ok && o.MergeRadiusM > 0 {
		return o.MergeRadiusM
	}
	if p.MergeRadiusM > 0 {
		return p.MergeRadiusM
	}
	return DefaultMergeRadiusM
}

func (p StaticPolicy) StaleAfter(v domain.Visibility) time.Duration {
	if o, ok := p.Overrides[v]; ok && o.StaleAfter > 0 {
		return o.StaleAfter
	}
	if p.Stale > 0 {
		return p.Stale
	}
	return DefaultStaleAfter
}
