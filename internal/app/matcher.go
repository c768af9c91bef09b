package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/geo"
	"github.com/dkeye/huddle/internal/metrics"
)

const DefaultMatchTimeout = 500 * time.Millisecond

// RoomQuerier is the read side of the directory the matcher needs.
type RoomQuerier interface {
	QueryActive(ctx context.Context, f core.Filter) ([]*domain.Room, error)
}

type MatchRequest struct {
	Location   domain.LocationToken
	Visibility domain.Visibility
	Anonymous  bool
	// Epoch identifies the creation-claim snapshot the caller holds. Lookups
	// are only shared between callers holding the same snapshot.
	Epoch   string
	Exclude map[domain.RoomID]struct{}
}

// Matcher finds an existing compatible room near a prospective creation.
// It never fails: any lookup problem is reported as "no match".
type Matcher struct {
	rooms   RoomQuerier
	index   *geo.Index
	policy  Policy
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[[]*domain.Room]
	group   singleflight.Group
}

func NewMatcher(rooms RoomQuerier, index *geo.Index, policy Policy, timeout time.Duration) *Matcher {
	if timeout <= 0 {
		timeout = DefaultMatchTimeout
	}
	cb := gobreaker.NewCircuitBreaker[[]*domain.Room](gobreaker.Settings{
		Name:        "matcher",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= 10 && float64(c.TotalFailures)/float64(c.Requests) >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("module", "app.matcher").Str("from", from.String()).Str("to", to.String()).Msg("breaker state change")
			metrics.BreakerState.Set(breakerGauge(to))
		},
	})
	return &Matcher{rooms: rooms, index: index, policy: policy, timeout: timeout, breaker: cb}
}

// FindNearby returns the oldest compatible room whose fuzzy center lies
// within the merge radius of req.Location, or nil.
func (m *Matcher) FindNearby(ctx context.Context, req MatchRequest) *domain.Room {
	radius := m.policy.MergeRadius(req.Visibility)
	cands := m.index.Candidates(req.Location, radius)
	key := fmt.Sprintf("%s|%t|%s|%s|%g|%s", req.Visibility, req.Anonymous, req.Location.Geohash, req.Location.HexCell, radius, req.Epoch)

	v, err, shared := m.group.Do(key, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		defer cancel()
		return m.breaker.Execute(func() ([]*domain.Room, error) {
			anon := req.Anonymous
			return m.rooms.QueryActive(lookupCtx, core.Filter{
				Visibility: req.Visibility,
				Anonymous:  &anon,
				NotFull:    true,
				Near:       &cands,
			})
		})
	})
	if err != nil {
		metrics.MatchLookups.WithLabelValues("degraded").Inc()
		log.Warn().Err(err).Str("module", "app.matcher").Str("cell", req.Location.Geohash).Msg("lookup degraded to no match")
		return nil
	}

	rooms, _ := v.([]*domain.Room)
	for _, r := range rooms {
		if _, skip := req.Exclude[r.ID]; skip {
			continue
		}
		metrics.MatchDistanceChecks.Inc()
		if d, ok := cands.Within(r.Location); ok {
			metrics.MatchLookups.WithLabelValues("match").Inc()
			log.Debug().Str("module", "app.matcher").Str("room", string(r.ID)).Float64("distance_m", d).Bool("shared", shared).Msg("nearby room")
			return r
		}
	}
	metrics.MatchLookups.WithLabelValues("none").Inc()
	return nil
}

// Epoch fingerprints a claim snapshot.
func Epoch(g *core.Guard, cells []string) string {
	if g == nil {
		return ""
	}
	var sb strings.Builder
	for _, c := range cells {
		fmt.Fprintf(&sb, "%s=%d;", c, g.Read[c])
	}
	return sb.String()
}

func breakerGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
