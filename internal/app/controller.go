package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/geo"
	"github.com/dkeye/huddle/internal/metrics"
)

// maxRedirects bounds how many vanished or filled-up matches one create skips
// before giving up on smooth-join and creating a fresh room.
const maxRedirects = 3

// Directory is the part of core.Directory the controller writes through.
type Directory interface {
	RoomQuerier
	Get(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	Transact(ctx context.Context, id domain.RoomID, fn core.TxFunc) (core.Commit, error)
	Attempt(ctx context.Context, id domain.RoomID, fn core.TxFunc, g *core.Guard) (core.Commit, error)
	Guard(ctx context.Context, read []string, claim string) (*core.Guard, error)
	Retry(ctx context.Context, name string, op func(attempt int) error) error
}

type Authorizer interface {
	CanBypassLocation(uid domain.UserID) bool
}

type CreateParams struct {
	Name       string               `json:"name" validate:"required,max=64"`
	Visibility domain.Visibility    `json:"visibility" validate:"required,oneof=public private regional ephemeral-ghost"`
	Anonymous  bool                 `json:"is_anonymous"`
	Capacity   int                  `json:"capacity" validate:"omitempty,min=2,max=64"`
	Location   *domain.Sample       `json:"location,omitempty"`
	Tier       domain.PrecisionTier `json:"tier,omitempty" validate:"omitempty,oneof=district neighborhood block street"`
	Bypass     bool                 `json:"bypass_location"`
	Identity   domain.Identity      `json:"-"`
}

// Result is a committed create or join.
type Result struct {
	Room       *domain.Room
	Created    bool
	Redirected bool
}

type LeaveResult struct {
	Room         *domain.Room // nil when the room was deleted
	Deleted      bool
	HostMigrated bool
}

type SweepResult struct {
	Room    *domain.Room
	Evicted []domain.UserID
	Deleted bool
}

type Option func(*Controller)

func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

func WithRoomIDs(next func() domain.RoomID) Option { return func(c *Controller) { c.newID = next } }

func WithCapacity(def, max int) Option {
	return func(c *Controller) {
		c.defaultCapacity, c.maxCapacity = def, max
	}
}

// WithMaxDiscoveryRadius caps the radius Nearby accepts.
func WithMaxDiscoveryRadius(m float64) Option {
	return func(c *Controller) { c.maxRadiusM = m }
}

// Controller is the only component that changes rosters.
type Controller struct {
	dir      Directory
	index    *geo.Index
	matcher  *Matcher
	policy   Policy
	authz    Authorizer
	validate *validator.Validate

	now             func() time.Time
	newID           func() domain.RoomID
	defaultCapacity int
	maxCapacity     int
	maxRadiusM      float64
}

func NewController(dir Directory, index *geo.Index, matcher *Matcher, policy Policy, authz Authorizer, opts ...Option) *Controller {
	c := &Controller{
		dir:             dir,
		index:           index,
		matcher:         matcher,
		policy:          policy,
		authz:           authz,
		validate:        validator.New(validator.WithRequiredStructEnabled()),
		now:             time.Now,
		newID:           func() domain.RoomID { return domain.RoomID(uuid.NewString()) },
		defaultCapacity: DefaultCapacity,
		maxCapacity:     domain.MaxRoomRoster,
		maxRadiusM:      DefaultMaxDiscoveryRadiusM,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Create commits a new room or, when a compatible room exists within the
// merge radius, joins that one instead. Either way one transaction commits.
func (c *Controller) Create(ctx context.Context, p CreateParams) (res *Result, err error) {
	defer func() { c.record("create", err) }()

	name, tok, err := c.checkCreate(&p)
	if err != nil {
		return nil, err
	}
	uid := p.Identity.UserID
	now := c.now()
	host := domain.NewParticipant(p.Identity, p.Anonymous, now)
	host.IsHost = true
	room := &domain.Room{
		ID:           c.newID(),
		Name:         name,
		Visibility:   p.Visibility,
		IsAnonymous:  p.Anonymous,
		Participants: []domain.Participant{host},
		Capacity:     p.Capacity,
		CreatedAt:    now,
		CreatedBy:    uid,
		HostID:       uid,
		Location:     tok,
	}
	insert := func(cur *domain.Room) (*domain.Room, error) {
		if cur != nil {
			return nil, fmt.Errorf("%w: room id %s taken", domain.ErrConflict, room.ID)
		}
		return room.Clone(), nil
	}

	if tok == nil {
		commit, err := c.dir.Transact(ctx, room.ID, insert)
		if err != nil {
			return nil, err
		}
		log.Info().Str("module", "app.controller").Str("room", string(room.ID)).Str("user", string(uid)).Bool("located", false).Msg("room created")
		return &Result{Room: commit.Room, Created: true}, nil
	}

	cands := c.index.Candidates(*tok, c.policy.MergeRadius(p.Visibility))
	read, claim := cands.ClaimCells()

	err = c.dir.Retry(ctx, "create", func(int) error {
		g, err := c.dir.Guard(ctx, read, claim)
		if err != nil {
			return err
		}
		req := MatchRequest{
			Location:   *tok,
			Visibility: p.Visibility,
			Anonymous:  p.Anonymous,
			Epoch:      Epoch(g, read),
			Exclude:    map[domain.RoomID]struct{}{},
		}
		for range maxRedirects {
			target := c.matcher.FindNearby(ctx, req)
			if target == nil {
				break
			}
			res, err = c.join(ctx, target.ID, p.Identity, now)
			if err == nil {
				res.Redirected = true
				log.Info().Str("module", "app.controller").Str("room", string(target.ID)).Str("user", string(uid)).Msg("create redirected into nearby room")
				return nil
			}
			if !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrCapacityExceeded) {
				return err
			}
			log.Debug().Err(err).Str("module", "app.controller").Str("room", string(target.ID)).Msg("redirect target unusable")
			req.Exclude[target.ID] = struct{}{}
		}

		commit, err := c.dir.Attempt(ctx, room.ID, insert, g)
		if err != nil {
			return err
		}
		res = &Result{Room: commit.Room, Created: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.Created {
		log.Info().Str("module", "app.controller").Str("room", string(room.ID)).Str("user", string(uid)).Str("cell", tok.Geohash).Msg("room created")
	}
	return res, nil
}

// Precheck runs the synchronous validation and privilege checks of Create
// without touching the directory.
func (c *Controller) Precheck(p CreateParams) error {
	_, _, err := c.checkCreate(&p)
	return err
}

func (c *Controller) checkCreate(p *CreateParams) (string, *domain.LocationToken, error) {
	if err := c.validate.Struct(p); err != nil {
		return "", nil, domain.Invalid("%v", err)
	}
	if err := p.Identity.Validate(); err != nil {
		return "", nil, err
	}
	name, err := domain.ValidateRoomName(p.Name)
	if err != nil {
		return "", nil, err
	}
	if p.Capacity == 0 {
		p.Capacity = c.defaultCapacity
	}
	if p.Capacity < domain.MinCapacity || p.Capacity > c.maxCapacity {
		return "", nil, domain.Invalid("capacity %d outside [%d, %d]", p.Capacity, domain.MinCapacity, c.maxCapacity)
	}
	if p.Visibility == domain.VisibilityGhost && !p.Bypass {
		return "", nil, domain.Invalid("ghost rooms require the location bypass")
	}
	if p.Bypass {
		if c.authz == nil || !c.authz.CanBypassLocation(p.Identity.UserID) {
			return "", nil, fmt.Errorf("%w: location bypass", domain.ErrPermissionDenied)
		}
		return name, nil, nil
	}
	if p.Location == nil {
		return name, nil, nil
	}
	tok, err := c.index.ToPrivacyToken(*p.Location, p.Tier)
	if err != nil {
		return "", nil, err
	}
	p.Location = nil
	return name, &tok, nil
}

// Join adds ident to room id. A stale entry of the same user is replaced.
func (c *Controller) Join(ctx context.Context, id domain.RoomID, ident domain.Identity) (res *Result, err error) {
	defer func() { c.record("join", err) }()
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, domain.Invalid("room id empty")
	}
	return c.join(ctx, id, ident, c.now())
}

func (c *Controller) join(ctx context.Context, id domain.RoomID, ident domain.Identity, now time.Time) (*Result, error) {
	commit, err := c.dir.Transact(ctx, id, func(cur *domain.Room) (*domain.Room, error) {
		if cur == nil {
			return nil, domain.ErrRoomGone
		}
		return joinRoster(cur, domain.NewParticipant(ident, cur.IsAnonymous, now))
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "app.controller").Str("room", string(id)).Str("user", string(ident.UserID)).Int("count", len(commit.Room.Participants)).Msg("joined")
	return &Result{Room: commit.Room}, nil
}

// Leave removes uid. The last leave deletes the room in the same commit.
func (c *Controller) Leave(ctx context.Context, id domain.RoomID, uid domain.UserID) (res *LeaveResult, err error) {
	defer func() { c.record("leave", err) }()
	var migrated bool
	commit, err := c.dir.Transact(ctx, id, func(cur *domain.Room) (*domain.Room, error) {
		next, m, err := leaveRoster(cur, uid)
		migrated = m
		return next, err
	})
	if err != nil {
		return nil, err
	}
	if migrated {
		metrics.HostMigrations.Inc()
		log.Info().Str("module", "app.controller").Str("room", string(id)).Str("host", string(commit.Room.HostID)).Msg("host migrated")
	}
	if commit.Deleted {
		metrics.RoomsDeleted.WithLabelValues("leave").Inc()
		log.Info().Str("module", "app.controller").Str("room", string(id)).Msg("room deleted")
	}
	log.Info().Str("module", "app.controller").Str("room", string(id)).Str("user", string(uid)).Msg("left")
	return &LeaveResult{Room: commit.Room, Deleted: commit.Deleted, HostMigrated: migrated}, nil
}

// UpdateParticipantState patches one participant and refreshes its heartbeat.
func (c *Controller) UpdateParticipantState(ctx context.Context, id domain.RoomID, uid domain.UserID, p Patch) (room *domain.Room, err error) {
	defer func() { c.record("update", err) }()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	now := c.now()
	commit, err := c.dir.Transact(ctx, id, func(cur *domain.Room) (*domain.Room, error) {
		return patchRoster(cur, uid, p, now)
	})
	if err != nil {
		return nil, err
	}
	return commit.Room, nil
}

// Heartbeat only refreshes the liveness timestamp.
func (c *Controller) Heartbeat(ctx context.Context, id domain.RoomID, uid domain.UserID) (*domain.Room, error) {
	return c.UpdateParticipantState(ctx, id, uid, Patch{})
}

// SweepStale evicts participants whose heartbeat is older than the policy
// threshold of the room's visibility.
func (c *Controller) SweepStale(ctx context.Context, id domain.RoomID) (res *SweepResult, err error) {
	defer func() { c.record("sweep", err) }()
	now := c.now()
	var evicted []domain.UserID
	var migrated bool
	commit, err := c.dir.Transact(ctx, id, func(cur *domain.Room) (*domain.Room, error) {
		var after time.Duration
		if cur != nil {
			after = c.policy.StaleAfter(cur.Visibility)
		}
		next, ev, m, err := evictStale(cur, now, after)
		evicted, migrated = ev, m
		return next, err
	})
	if err != nil {
		return nil, err
	}
	if !commit.Changed {
		return &SweepResult{Room: commit.Room}, nil
	}
	metrics.ParticipantsEvicted.Add(float64(len(evicted)))
	if migrated {
		metrics.HostMigrations.Inc()
	}
	if commit.Deleted {
		metrics.RoomsDeleted.WithLabelValues("sweep").Inc()
	}
	log.Info().Str("module", "app.controller").Str("room", string(id)).Int("evicted", len(evicted)).Bool("deleted", commit.Deleted).Msg("stale participants swept")
	return &SweepResult{Room: commit.Room, Evicted: evicted, Deleted: commit.Deleted}, nil
}

// Get is a plain directory read.
func (c *Controller) Get(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	return c.dir.Get(ctx, id)
}

// Nearby lists active rooms around a sample for discovery. Only tokens are
// compared; the sample never leaves this call.
func (c *Controller) Nearby(ctx context.Context, s domain.Sample, radiusM float64, limit int) ([]*domain.Room, error) {
	if math.IsNaN(radiusM) || math.IsInf(radiusM, 0) || radiusM < 0 || radiusM > c.maxRadiusM {
		return nil, domain.Invalid("radius must be in [0, %g] m", c.maxRadiusM)
	}
	tok, err := c.index.ToPrivacyToken(s, "")
	if err != nil {
		return nil, err
	}
	if radiusM <= 0 {
		radiusM = c.policy.MergeRadius(domain.VisibilityPublic)
	}
	cands := c.index.Candidates(tok, radiusM)
	rooms, err := c.dir.QueryActive(ctx, core.Filter{Near: &cands})
	if err != nil {
		return nil, err
	}
	out := rooms[:0]
	for _, r := range rooms {
		if r.Visibility == domain.VisibilityPrivate || r.Visibility == domain.VisibilityGhost {
			continue
		}
		if _, ok := cands.Within(r.Location); ok {
			out = append(out, r)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (c *Controller) record(op string, err error) {
	code := domain.Code(err)
	if code == "" {
		code = "OK"
	}
	metrics.RoomOps.WithLabelValues(op, code).Inc()
}
