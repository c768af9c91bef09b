package signal

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dkeye/huddle/internal/domain"
)

// RoomRateLimiter caps how often one user may create or join rooms: limit
// attempts per interval, refilled evenly.
type RoomRateLimiter struct {
	mu       sync.Mutex
	limiters map[domain.UserID]*rate.Limiter
	every    rate.Limit
	burst    int
}

func NewRoomRateLimiter(limit int, interval time.Duration) *RoomRateLimiter {
	if limit <= 0 {
		limit = 1
	}
	return &RoomRateLimiter{
		limiters: make(map[domain.UserID]*rate.Limiter),
		every:    rate.Every(interval / time.Duration(limit)),
		burst:    limit,
	}
}

func (rl *RoomRateLimiter) Allow(uid domain.UserID) bool {
	rl.mu.Lock()
	l, ok := rl.limiters[uid]
	if !ok {
		l = rate.NewLimiter(rl.every, rl.burst)
		rl.limiters[uid] = l
	}
	rl.mu.Unlock()
	return l.Allow()
}

// Forget drops the state of uid if its bucket has refilled, so a reconnect
// does not reset the limit.
func (rl *RoomRateLimiter) Forget(uid domain.UserID) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if l, ok := rl.limiters[uid]; ok && l.Tokens() >= float64(rl.burst) {
		delete(rl.limiters, uid)
	}
}
