package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
)

const DefaultSweepEvery = 15 * time.Second

// StaleSweeper is what the sweeper calls for a room holding a stale participant.
type StaleSweeper interface {
	SweepStale(ctx context.Context, id domain.RoomID) (*SweepResult, error)
}

// Sweeper is the safety net for sessions that vanished without leaving.
type Sweeper struct {
	rooms    RoomQuerier
	ctrl     StaleSweeper
	policy   Policy
	interval time.Duration
	now      func() time.Time
}

func NewSweeper(rooms RoomQuerier, ctrl StaleSweeper, policy Policy, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepEvery
	}
	return &Sweeper{rooms: rooms, ctrl: ctrl, policy: policy, interval: interval, now: time.Now}
}

func (s *Sweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				log.Warn().Err(err).Str("module", "app.sweeper").Msg("sweep failed")
			}
		}
	}
}

func (s *Sweeper) String() string { return "stale-sweeper" }

// SweepOnce runs SweepStale for rooms whose snapshot holds a stale
// participant and returns the number of evicted participants. The snapshot
// only selects rooms; the transaction re-checks staleness.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	rooms, err := s.rooms.QueryActive(ctx, core.Filter{})
	if err != nil {
		return 0, err
	}
	now := s.now()
	var evicted atomic.Int64
	p := pool.New().WithMaxGoroutines(4)
	for _, r := range rooms {
		if !hasStale(r, now, s.policy.StaleAfter(r.Visibility)) {
			continue
		}
		p.Go(func() {
			res, err := s.ctrl.SweepStale(ctx, r.ID)
			if err != nil {
				log.Warn().Err(err).Str("module", "app.sweeper").Str("room", string(r.ID)).Msg("sweep room")
				return
			}
			evicted.Add(int64(len(res.Evicted)))
		})
	}
	p.Wait()
	return int(evicted.Load()), nil
}

func hasStale(r *domain.Room, now time.Time, after time.Duration) bool {
	for _, p := range r.Participants {
		if p.Stale(now, after) {
			return true
		}
	}
	return false
}
