// Package orch is the client-facing side of the engine. It answers every
// enter request immediately with a tentative view and reconciles it with
// the committed outcome of a background task.
package orch

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/app"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/metrics"
)

// ErrSuperseded settles a task replaced by a newer request of the same user.
var ErrSuperseded = errors.New("orch: superseded by a newer request")

const teardownTimeout = 5 * time.Second

// EnterRequest is either a join of RoomID or a Create.
type EnterRequest struct {
	Identity domain.Identity
	RoomID   domain.RoomID
	Create   *app.CreateParams
	// Known is an optional snapshot of RoomID used for the tentative view.
	Known     *domain.Room
	OnSettled func(Outcome)
}

type Orchestrator struct {
	Registry *app.Registry
	Engine   Engine
	Voice    VoiceTransport
	Media    MediaBinder
	Beats    Heartbeats

	now  func() time.Time
	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu      sync.Mutex
	pending map[domain.UserID]*Task
	views   map[domain.UserID]Tentative
}

func New(reg *app.Registry, engine Engine, voice VoiceTransport, media MediaBinder, beats Heartbeats) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		Registry: reg,
		Engine:   engine,
		Voice:    voice,
		Media:    media,
		Beats:    beats,
		now:      time.Now,
		base:     ctx,
		stop:     cancel,
		pending:  make(map[domain.UserID]*Task),
		views:    make(map[domain.UserID]Tentative),
	}
}

// Enter validates synchronously and starts the create or join in the
// background. Validation and permission errors return without a task.
func (o *Orchestrator) Enter(ctx context.Context, req EnterRequest) (Tentative, *Task, error) {
	tent, err := o.tentative(req)
	if err != nil {
		return Tentative{}, nil, err
	}
	uid := req.Identity.UserID

	tctx, cancel := context.WithCancel(ctx)
	stopBase := context.AfterFunc(o.base, cancel)
	task := newTask(tent.LocalID, func() {
		stopBase()
		cancel()
	}, req.OnSettled)

	o.mu.Lock()
	gen, prev, had := o.Registry.Begin(uid, task.Cancel)
	prevTask := o.pending[uid]
	o.pending[uid] = task
	o.views[uid] = tent
	o.mu.Unlock()

	metrics.PendingTasks.Inc()
	log.Info().Str("module", "orch").Str("user", string(uid)).Str("local_id", tent.LocalID).Uint64("gen", gen).Msg("enter started")

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer metrics.PendingTasks.Dec()
		o.run(tctx, gen, req, task, prevTask, prev, had)
	}()
	return tent, task, nil
}

func (o *Orchestrator) tentative(req EnterRequest) (Tentative, error) {
	if err := req.Identity.Validate(); err != nil {
		return Tentative{}, err
	}
	localID := uuid.NewString()
	now := o.now()
	pending := func(anon bool) domain.Participant {
		p := domain.NewParticipant(req.Identity, anon, now)
		p.ConnectionState = domain.StatePending
		return p
	}

	var room *domain.Room
	switch {
	case req.Create != nil:
		p := *req.Create
		p.Identity = req.Identity
		if err := o.Engine.Precheck(p); err != nil {
			return Tentative{}, err
		}
		name, _ := domain.ValidateRoomName(p.Name)
		capacity := p.Capacity
		if capacity == 0 {
			capacity = app.DefaultCapacity
		}
		self := pending(p.Anonymous)
		self.IsHost = true
		room = &domain.Room{
			ID:           domain.RoomID(localID),
			Name:         name,
			Visibility:   p.Visibility,
			IsAnonymous:  p.Anonymous,
			Capacity:     capacity,
			CreatedAt:    now,
			CreatedBy:    req.Identity.UserID,
			HostID:       req.Identity.UserID,
			Participants: []domain.Participant{self},
		}
	case req.RoomID != "":
		room = &domain.Room{ID: req.RoomID}
		if req.Known != nil && req.Known.ID == req.RoomID {
			room = req.Known.Clone()
			if i := room.IndexOf(req.Identity.UserID); i >= 0 {
				room.Participants = slices.Delete(room.Participants, i, i+1)
			}
		}
		room.Participants = append(room.Participants, pending(room.IsAnonymous))
	default:
		return Tentative{}, domain.Invalid("enter needs a room id or create parameters")
	}
	return Tentative{LocalID: localID, Room: room}, nil
}

// run executes one task. Per user, tasks are serialized: a task first waits
// for the one it replaced to settle, then leaves the previous room.
func (o *Orchestrator) run(ctx context.Context, gen uint64, req EnterRequest, task, prevTask *Task, prev app.Handle, had bool) {
	uid := req.Identity.UserID
	defer o.forget(uid, task)

	if prevTask != nil {
		prevTask.Cancel()
		<-prevTask.Done()
	}
	if had && !prev.Pending && prev.Room != "" {
		// Never hold two rooms: a failed leave fails the enter.
		if err := o.teardown(uid, prev.Room); err != nil {
			o.Registry.Settle(uid, gen)
			o.fail(task, uid, err, false)
			return
		}
	}

	var (
		res *app.Result
		err error
	)
	if err = ctx.Err(); err == nil {
		if req.Create != nil {
			p := *req.Create
			p.Identity = req.Identity
			res, err = o.Engine.Create(ctx, p)
		} else {
			res, err = o.Engine.Join(ctx, req.RoomID, req.Identity)
		}
	}
	if err != nil {
		o.Registry.Settle(uid, gen)
		o.fail(task, uid, err, false)
		return
	}

	room := res.Room
	if ctx.Err() != nil || !o.Registry.Commit(uid, gen, room.ID) {
		cause := ErrSuperseded
		if ctx.Err() != nil {
			cause = context.Cause(ctx)
		}
		o.Registry.Settle(uid, gen)
		o.fail(task, uid, cause, o.compensate(room.ID, uid))
		return
	}

	if o.Beats != nil {
		o.Beats.Track(room.ID, uid)
	}
	if o.Voice != nil {
		if err := o.Voice.Connect(ctx, room.ID, uid); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("room", string(room.ID)).Str("user", string(uid)).Msg("voice connect failed")
		} else if o.Beats != nil {
			connected := domain.StateConnected
			if r, err := o.Beats.Update(ctx, uid, app.Patch{State: &connected}); err == nil {
				room = r
			}
		}
	}

	metrics.TaskOutcomes.WithLabelValues("confirmed").Inc()
	log.Info().Str("module", "orch").Str("user", string(uid)).Str("local_id", task.LocalID).Str("room", string(room.ID)).Bool("redirected", res.Redirected).Msg("enter confirmed")
	task.settle(Confirmed{LocalID: task.LocalID, Room: room, Redirected: res.Redirected})
}

// compensate undoes a join or create nobody wants anymore.
func (o *Orchestrator) compensate(room domain.RoomID, uid domain.UserID) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(o.base), teardownTimeout)
	defer cancel()
	_, err := o.Engine.Leave(ctx, room, uid)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		log.Error().Err(err).Str("module", "orch").Str("room", string(room)).Str("user", string(uid)).Msg("compensating leave failed")
		return false
	}
	log.Info().Str("module", "orch").Str("room", string(room)).Str("user", string(uid)).Msg("abandoned commit compensated")
	return true
}

func (o *Orchestrator) fail(task *Task, uid domain.UserID, err error, compensated bool) {
	label := "failed"
	if compensated {
		label = "compensated"
	}
	metrics.TaskOutcomes.WithLabelValues(label).Inc()
	log.Info().Err(err).Str("module", "orch").Str("user", string(uid)).Str("local_id", task.LocalID).Str("code", domain.Code(err)).Msg("enter rolled back")
	task.settle(Failed{LocalID: task.LocalID, Err: err, Compensated: compensated})
}

func (o *Orchestrator) forget(uid domain.UserID, task *Task) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending[uid] == task {
		delete(o.pending, uid)
		delete(o.views, uid)
	}
}

// Current returns the view the client should render. A committed view is
// read fresh from the directory.
func (o *Orchestrator) Current(ctx context.Context, uid domain.UserID) (View, bool) {
	h, ok := o.Registry.Current(uid)
	if !ok {
		return nil, false
	}
	if h.Pending {
		o.mu.Lock()
		tent, ok := o.views[uid]
		o.mu.Unlock()
		if !ok {
			return nil, false
		}
		return tent, true
	}
	room, err := o.Engine.Get(ctx, h.Room)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			o.release(uid, h.Room)
		}
		return nil, false
	}
	if !room.Has(uid) {
		o.release(uid, h.Room)
		return nil, false
	}
	return Committed{Room: room}, true
}

// Close cancels every pending task and waits for them to settle.
func (o *Orchestrator) Close() {
	o.stop()
	o.wg.Wait()
}
