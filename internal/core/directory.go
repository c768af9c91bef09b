package core

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/metrics"
)

// RetryPolicy bounds how often a conflicting transaction is re-run.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: 5 * time.Millisecond, MaxDelay: 100 * time.Millisecond}
}

// backoff returns the full-jitter delay before attempt n+1.
func (p RetryPolicy) backoff(n int) time.Duration {
	d := p.BaseDelay << min(n, 16)
	if d <= 0 || d > p.MaxDelay {
		d = p.MaxDelay
	}
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d)) + 1)
}

// Directory is the only write path to rooms. It owns the retry policy,
// checks room invariants before every commit and publishes committed changes.
type Directory struct {
	store  Store
	feed   *Feed
	policy RetryPolicy
}

func NewDirectory(store Store, feed *Feed, policy RetryPolicy) *Directory {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	return &Directory{store: store, feed: feed, policy: policy}
}

func (d *Directory) Get(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	r, err := d.store.Load(ctx, id)
	if err != nil {
		return nil, d.mapErr(err, nil)
	}
	return r, nil
}

func (d *Directory) QueryActive(ctx context.Context, f Filter) ([]*domain.Room, error) {
	rooms, err := d.store.Scan(ctx, f)
	if err != nil {
		return nil, d.mapErr(err, nil)
	}
	return rooms, nil
}

// Transact runs fn under optimistic concurrency, retrying on write conflicts.
func (d *Directory) Transact(ctx context.Context, id domain.RoomID, fn TxFunc) (Commit, error) {
	var c Commit
	err := d.Retry(ctx, "transact", func(int) error {
		var err error
		c, err = d.Attempt(ctx, id, fn, nil)
		return err
	})
	return c, err
}

// Guard snapshots the claim counters of read for a guarded Attempt.
func (d *Directory) Guard(ctx context.Context, read []string, claim string) (*Guard, error) {
	g, err := d.store.Guard(ctx, read, claim)
	if err != nil {
		return nil, d.mapErr(err, nil)
	}
	return g, nil
}

// Attempt is a single try. It returns ErrWriteConflict when the caller should
// start over from a fresh snapshot; callers normally go through Retry.
func (d *Directory) Attempt(ctx context.Context, id domain.RoomID, fn TxFunc, g *Guard) (Commit, error) {
	if err := ctx.Err(); err != nil {
		return Commit{}, err
	}
	var fnErr error
	checked := func(cur *domain.Room) (*domain.Room, error) {
		next, err := fn(cur)
		if err != nil {
			fnErr = err
			return nil, err
		}
		if next == nil {
			return nil, nil
		}
		if next.ID != id {
			fnErr = fmt.Errorf("%w: room id %q written under %q", ErrInvariant, next.ID, id)
			return nil, fnErr
		}
		if err := next.CheckInvariants(); err != nil {
			fnErr = fmt.Errorf("%w: %v", ErrInvariant, err)
			return nil, fnErr
		}
		return next, nil
	}

	c, err := d.store.Attempt(ctx, id, checked, g)
	switch {
	case err == nil:
	case errors.Is(err, ErrNoChange):
		metrics.TxAttempts.WithLabelValues("unchanged").Inc()
		return Commit{Room: c.Room, Previous: c.Previous}, nil
	case errors.Is(err, ErrWriteConflict):
		metrics.TxAttempts.WithLabelValues("conflict").Inc()
		return Commit{}, err
	default:
		if fnErr != nil && errors.Is(err, fnErr) {
			metrics.TxAttempts.WithLabelValues("aborted").Inc()
		} else {
			metrics.TxAttempts.WithLabelValues("error").Inc()
		}
		return Commit{}, d.mapErr(err, fnErr)
	}

	if !c.Changed {
		metrics.TxAttempts.WithLabelValues("unchanged").Inc()
		return c, nil
	}
	metrics.TxAttempts.WithLabelValues("committed").Inc()
	d.publish(c)
	return c, nil
}

// Retry re-runs op while it reports ErrWriteConflict, with jittered
// exponential backoff. Exhaustion surfaces as domain.ErrConflict.
func (d *Directory) Retry(ctx context.Context, name string, op func(attempt int) error) error {
	start := time.Now()
	defer func() { metrics.TxDuration.Observe(time.Since(start).Seconds()) }()

	for attempt := 0; ; attempt++ {
		err := op(attempt)
		if !errors.Is(err, ErrWriteConflict) {
			return err
		}
		if attempt+1 >= d.policy.MaxAttempts {
			metrics.TxRetriesExhausted.Inc()
			log.Warn().Str("module", "core.directory").Str("op", name).Int("attempts", attempt+1).Msg("retries exhausted")
			return fmt.Errorf("%w: %s gave up after %d attempts", domain.ErrConflict, name, attempt+1)
		}
		delay := d.policy.backoff(attempt)
		log.Debug().Str("module", "core.directory").Str("op", name).Int("attempt", attempt+1).Dur("backoff", delay).Msg("write conflict, retrying")
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Subscribe calls fn for every committed change of room id, in version
// order, until ctx is done. Nothing is delivered after the deletion event.
func (d *Directory) Subscribe(ctx context.Context, id domain.RoomID, fn func(RoomEvent)) error {
	f := newFence()
	var closed bool
	return d.feed.Subscribe(ctx, func(ev RoomEvent) {
		if ev.RoomID != id || closed || !f.admit(ev) {
			return
		}
		closed = ev.Type == EventDeleted
		fn(ev)
	})
}

// SubscribeActive calls fn for every committed change of any room.
func (d *Directory) SubscribeActive(ctx context.Context, fn func(RoomEvent)) error {
	f := newFence()
	return d.feed.Subscribe(ctx, func(ev RoomEvent) {
		if f.admit(ev) {
			fn(ev)
		}
	})
}

func (d *Directory) Close() error {
	var errs []error
	if d.feed != nil {
		errs = append(errs, d.feed.Close())
	}
	errs = append(errs, d.store.Close())
	return errors.Join(errs...)
}

func (d *Directory) publish(c Commit) {
	if d.feed == nil {
		return
	}
	ev := RoomEvent{Type: EventUpserted, Room: c.Room}
	if c.Deleted {
		ev.Type = EventDeleted
		ev.RoomID = c.Previous.ID
		ev.Version = c.Previous.Version + 1
	} else {
		ev.RoomID = c.Room.ID
		ev.Version = c.Room.Version
	}
	if err := d.feed.Publish(ev); err != nil {
		log.Error().Err(err).Str("module", "core.directory").Str("room", string(ev.RoomID)).Msg("publish change")
	}
}

// mapErr keeps domain and context errors, and treats anything else coming
// from the store as the backend being unavailable.
func (d *Directory) mapErr(err, fnErr error) error {
	switch {
	case fnErr != nil && errors.Is(err, fnErr):
		return fnErr
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, ErrInvariant):
		return err
	case isDomain(err):
		return err
	default:
		return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
}

func isDomain(err error) bool {
	for _, target := range []error{
		domain.ErrValidation, domain.ErrNotFound, domain.ErrCapacityExceeded,
		domain.ErrConflict, domain.ErrUnavailable, domain.ErrPermissionDenied,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
