package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
	"github.com/thejerf/suture/v4"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/metrics"
)

// Beater is the write side the monitor needs from the controller.
type Beater interface {
	Heartbeat(ctx context.Context, id domain.RoomID, uid domain.UserID) (*domain.Room, error)
	UpdateParticipantState(ctx context.Context, id domain.RoomID, uid domain.UserID, p Patch) (*domain.Room, error)
}

type beat struct {
	room      domain.RoomID
	lastWrite time.Time
	ctx       context.Context
	cancel    context.CancelFunc
}

// HeartbeatMonitor keeps tracked participants alive. It checks every third
// of the interval and writes only for participants whose last successful
// write is at least one interval old, so any other state update postpones
// the next heartbeat.
type HeartbeatMonitor struct {
	beater      Beater
	interval    time.Duration
	timeout     time.Duration
	maxInFlight int
	now         func() time.Time
	onLost      func(domain.RoomID, domain.UserID)

	mu      sync.Mutex
	entries map[domain.UserID]*beat

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewHeartbeatMonitor(beater Beater, interval time.Duration) *HeartbeatMonitor {
	if interval <= 0 {
		interval = DefaultHeartbeatEvery
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &HeartbeatMonitor{
		beater:      beater,
		interval:    interval,
		timeout:     5 * time.Second,
		maxInFlight: 16,
		now:         time.Now,
		entries:     make(map[domain.UserID]*beat),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// OnLost is called when a tracked participant turns out to be gone from its
// room. The participant is untracked before the callback runs.
func (h *HeartbeatMonitor) OnLost(fn func(domain.RoomID, domain.UserID)) { h.onLost = fn }

// Track starts heartbeats for uid in room. A join has just written the
// heartbeat, so the first write is one interval away.
func (h *HeartbeatMonitor) Track(room domain.RoomID, uid domain.UserID) {
	ctx, cancel := context.WithCancel(h.ctx)
	h.mu.Lock()
	if old, ok := h.entries[uid]; ok {
		old.cancel()
	}
	h.entries[uid] = &beat{room: room, lastWrite: h.now(), ctx: ctx, cancel: cancel}
	n := len(h.entries)
	h.mu.Unlock()
	metrics.TrackedParticipants.Set(float64(n))
	log.Debug().Str("module", "app.heartbeat").Str("room", string(room)).Str("user", string(uid)).Msg("tracking")
}

// Untrack stops heartbeats for uid and cancels a write in flight.
func (h *HeartbeatMonitor) Untrack(uid domain.UserID) {
	h.mu.Lock()
	b, ok := h.entries[uid]
	if ok {
		delete(h.entries, uid)
	}
	n := len(h.entries)
	h.mu.Unlock()
	if !ok {
		return
	}
	b.cancel()
	metrics.TrackedParticipants.Set(float64(n))
	log.Debug().Str("module", "app.heartbeat").Str("room", string(b.room)).Str("user", string(uid)).Msg("untracked")
}

// Tracked reports the room uid is tracked in.
func (h *HeartbeatMonitor) Tracked(uid domain.UserID) (domain.RoomID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.entries[uid]
	if !ok {
		return "", false
	}
	return b.room, true
}

// Update writes a state patch for a tracked participant. It counts as a heartbeat.
func (h *HeartbeatMonitor) Update(ctx context.Context, uid domain.UserID, p Patch) (*domain.Room, error) {
	h.mu.Lock()
	b, ok := h.entries[uid]
	h.mu.Unlock()
	if !ok {
		return nil, domain.ErrNotParticipant
	}
	ctx, cancel := mergeCancel(ctx, b.ctx)
	defer cancel()
	room, err := h.beater.UpdateParticipantState(ctx, b.room, uid, p)
	h.settle(uid, b, err)
	return room, err
}

// Serve runs the ticker loop until ctx is done or Stop is called.
func (h *HeartbeatMonitor) Serve(ctx context.Context) error {
	h.wg.Add(1)
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval / 3)
	defer ticker.Stop()
	log.Info().Str("module", "app.heartbeat").Dur("interval", h.interval).Msg("heartbeat monitor started")
	for {
		select {
		case <-ticker.C:
			h.tick(ctx)
		case <-ctx.Done():
			return ctx.Err()
		case <-h.ctx.Done():
			return suture.ErrDoNotRestart
		}
	}
}

func (h *HeartbeatMonitor) String() string { return "heartbeat-monitor" }

func (h *HeartbeatMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
	log.Info().Str("module", "app.heartbeat").Msg("heartbeat monitor stopped")
}

// tick writes heartbeats for every due participant, bounded in parallelism.
func (h *HeartbeatMonitor) tick(ctx context.Context) {
	now := h.now()
	type due struct {
		uid domain.UserID
		b   *beat
	}
	var work []due
	skipped := 0
	h.mu.Lock()
	for uid, b := range h.entries {
		if now.Sub(b.lastWrite) >= h.interval {
			work = append(work, due{uid, b})
		} else {
			skipped++
		}
	}
	h.mu.Unlock()
	metrics.HeartbeatWrites.WithLabelValues("skipped").Add(float64(skipped))
	if len(work) == 0 {
		return
	}

	p := pool.New().WithMaxGoroutines(h.maxInFlight)
	for _, w := range work {
		p.Go(func() {
			bctx, cancel := mergeCancel(ctx, w.b.ctx)
			defer cancel()
			bctx, cancelT := context.WithTimeout(bctx, h.timeout)
			defer cancelT()
			_, err := h.beater.Heartbeat(bctx, w.b.room, w.uid)
			h.settle(w.uid, w.b, err)
		})
	}
	p.Wait()
}

// settle records the outcome of a write made for entry b.
func (h *HeartbeatMonitor) settle(uid domain.UserID, b *beat, err error) {
	switch {
	case err == nil:
		h.mu.Lock()
		if h.entries[uid] == b {
			b.lastWrite = h.now()
		}
		h.mu.Unlock()
		metrics.HeartbeatWrites.WithLabelValues("written").Inc()
	case errors.Is(err, domain.ErrNotFound):
		h.mu.Lock()
		current := h.entries[uid] == b
		if current {
			delete(h.entries, uid)
		}
		n := len(h.entries)
		h.mu.Unlock()
		if !current {
			return
		}
		b.cancel()
		metrics.TrackedParticipants.Set(float64(n))
		metrics.HeartbeatWrites.WithLabelValues("lost").Inc()
		log.Info().Str("module", "app.heartbeat").Str("room", string(b.room)).Str("user", string(uid)).Msg("participant gone")
		if h.onLost != nil {
			h.onLost(b.room, uid)
		}
	case b.ctx.Err() != nil:
		// untracked mid-write
	default:
		metrics.HeartbeatWrites.WithLabelValues("error").Inc()
		log.Warn().Err(err).Str("module", "app.heartbeat").Str("room", string(b.room)).Str("user", string(uid)).Msg("heartbeat failed")
	}
}

// mergeCancel returns a context that carries a's values and is done when
// either a or b is done.
func mergeCancel(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
