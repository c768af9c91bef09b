package http

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/adapters/signal"
	"github.com/dkeye/huddle/internal/app"
	"github.com/dkeye/huddle/internal/app/orch"
	"github.com/dkeye/huddle/internal/domain"
)

// RoomReader is the read side of the engine.
type RoomReader interface {
	Get(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	Nearby(ctx context.Context, s domain.Sample, radiusM float64, limit int) ([]*domain.Room, error)
}

// RoomHandlers is the REST surface of the engine. Writes go through the
// orchestrator so a REST client and a socket of the same user share one
// current room.
type RoomHandlers struct {
	Orch  *orch.Orchestrator
	Rooms RoomReader
	Muter signal.Muter
	// Wait bounds how long a create or join request waits for its outcome
	// before answering 202 with the tentative view.
	Wait time.Duration
}

func NewRoomHandlers(o *orch.Orchestrator, rooms RoomReader, muter signal.Muter, wait time.Duration) *RoomHandlers {
	if wait <= 0 {
		wait = 3 * time.Second
	}
	return &RoomHandlers{Orch: o, Rooms: rooms, Muter: muter, Wait: wait}
}

func (h *RoomHandlers) Register(g *gin.RouterGroup) {
	g.GET("/me", h.me)
	g.PUT("/me", h.updateMe)
	g.GET("/rooms", h.nearby)
	g.POST("/rooms", h.create)
	g.POST("/rooms/leave", h.leave)
	g.GET("/rooms/:id", h.get)
	g.POST("/rooms/:id/join", h.join)
	g.PATCH("/rooms/:id/me", h.patchMe)
}

// statusOf maps an engine error to its HTTP status.
func statusOf(err error) int {
	switch domain.Code(err) {
	case "VALIDATION":
		return http.StatusBadRequest
	case "NOT_FOUND":
		return http.StatusNotFound
	case "CAPACITY_EXCEEDED", "CONFLICT":
		return http.StatusConflict
	case "PERMISSION_DENIED":
		return http.StatusForbidden
	case "DEPENDENCY_UNAVAILABLE", "CANCELED":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abort(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{
		"code":      domain.Code(err),
		"error":     err.Error(),
		"retryable": domain.Retryable(err),
	})
}

func userOf(c *gin.Context) domain.UserID {
	return domain.UserID(c.GetString(clientTokenKey))
}

// identity returns the registry identity of the caller, restoring the
// profile kept in the session after a restart.
func (h *RoomHandlers) identity(c *gin.Context) domain.Identity {
	uid := userOf(c)
	ident := h.Orch.Registry.GetOrCreateUser(uid)
	sess := sessions.Default(c)
	if name, ok := sess.Get("display_name").(string); ok && name != ident.DisplayName {
		if err := h.Orch.Registry.UpdateUsername(uid, name); err == nil {
			ident.DisplayName = name
		}
	}
	if anon, ok := sess.Get("anonymous").(bool); ok && anon != ident.Anonymous {
		h.Orch.Registry.SetAnonymous(uid, anon)
		ident.Anonymous = anon
	}
	return ident
}

type profile struct {
	DisplayName string `json:"display_name"`
	Anonymous   *bool  `json:"anonymous"`
}

func (h *RoomHandlers) updateMe(c *gin.Context) {
	var p profile
	if err := c.ShouldBindJSON(&p); err != nil {
		abort(c, domain.Invalid("bad body: %v", err))
		return
	}
	uid := userOf(c)
	h.identity(c)
	sess := sessions.Default(c)
	if p.DisplayName != "" {
		if err := h.Orch.Registry.UpdateUsername(uid, p.DisplayName); err != nil {
			abort(c, err)
			return
		}
		sess.Set("display_name", h.Orch.Registry.GetOrCreateUser(uid).DisplayName)
	}
	if p.Anonymous != nil {
		h.Orch.Registry.SetAnonymous(uid, *p.Anonymous)
		sess.Set("anonymous", *p.Anonymous)
	}
	if err := sess.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
	}
	h.me(c)
}

func (h *RoomHandlers) me(c *gin.Context) {
	ident := h.identity(c)
	resp := gin.H{
		"user_id":      ident.UserID,
		"display_name": ident.DisplayName,
		"anonymous":    ident.Anonymous,
	}
	if v, ok := h.Orch.Current(c.Request.Context(), ident.UserID); ok {
		switch v := v.(type) {
		case orch.Tentative:
			resp["pending"] = true
			resp["local_id"] = v.LocalID
			resp["room"] = v.Room.View(ident.UserID)
		case orch.Committed:
			resp["room"] = v.Room.View(ident.UserID)
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *RoomHandlers) nearby(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lon, errLon := strconv.ParseFloat(c.Query("lon"), 64)
	if errLat != nil || errLon != nil {
		abort(c, domain.Invalid("lat and lon are required"))
		return
	}
	radius, err := strconv.ParseFloat(c.DefaultQuery("radius", "0"), 64)
	if err != nil || math.IsNaN(radius) || math.IsInf(radius, 0) || radius < 0 {
		abort(c, domain.Invalid("bad radius"))
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 100 {
		abort(c, domain.Invalid("limit must be in [1, 100]"))
		return
	}

	sample := domain.Sample{Coordinate: domain.Coordinate{Lat: lat, Lon: lon}}
	rooms, err := h.Rooms.Nearby(c.Request.Context(), sample, radius, limit)
	if err != nil {
		abort(c, err)
		return
	}
	uid := userOf(c)
	views := make([]domain.RoomView, 0, len(rooms))
	for _, r := range rooms {
		views = append(views, r.View(uid))
	}
	c.JSON(http.StatusOK, gin.H{"rooms": views})
}

func (h *RoomHandlers) get(c *gin.Context) {
	room, err := h.Rooms.Get(c.Request.Context(), domain.RoomID(c.Param("id")))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, room.View(userOf(c)))
}

func (h *RoomHandlers) create(c *gin.Context) {
	var p app.CreateParams
	if err := c.ShouldBindJSON(&p); err != nil {
		abort(c, domain.Invalid("bad body: %v", err))
		return
	}
	h.enter(c, orch.EnterRequest{Identity: h.identity(c), Create: &p}, http.StatusCreated)
}

func (h *RoomHandlers) join(c *gin.Context) {
	id := domain.RoomID(c.Param("id"))
	known, _ := h.Rooms.Get(c.Request.Context(), id)
	h.enter(c, orch.EnterRequest{Identity: h.identity(c), RoomID: id, Known: known}, http.StatusOK)
}

// enter starts the request detached from the HTTP request and waits a
// bounded time for its outcome.
func (h *RoomHandlers) enter(c *gin.Context, req orch.EnterRequest, okStatus int) {
	uid := req.Identity.UserID
	tent, task, err := h.Orch.Enter(context.WithoutCancel(c.Request.Context()), req)
	if err != nil {
		abort(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.Wait)
	defer cancel()
	out, err := task.Wait(ctx)
	if err != nil {
		c.JSON(http.StatusAccepted, gin.H{
			"pending":  true,
			"local_id": tent.LocalID,
			"room":     tent.Room.View(uid),
		})
		return
	}

	switch out := out.(type) {
	case orch.Confirmed:
		c.JSON(okStatus, gin.H{
			"local_id":   out.LocalID,
			"room":       out.Room.View(uid),
			"redirected": out.Redirected,
		})
	case orch.Failed:
		abort(c, out.Err)
	}
}

func (h *RoomHandlers) leave(c *gin.Context) {
	if err := h.Orch.Leave(c.Request.Context(), userOf(c)); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *RoomHandlers) patchMe(c *gin.Context) {
	var p app.Patch
	if err := c.ShouldBindJSON(&p); err != nil {
		abort(c, domain.Invalid("bad body: %v", err))
		return
	}
	uid := userOf(c)
	if cur, ok := h.Orch.Registry.Current(uid); !ok || cur.Pending || cur.Room != domain.RoomID(c.Param("id")) {
		abort(c, domain.ErrNotParticipant)
		return
	}
	room, err := h.Orch.UpdateState(c.Request.Context(), uid, p)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Info().Str("module", "adapters.http").Str("user", string(uid)).Msg("state update on a room the user lost")
		}
		abort(c, err)
		return
	}
	if p.Muted != nil && h.Muter != nil {
		h.Muter.SetMuted(uid, *p.Muted)
	}
	c.JSON(http.StatusOK, room.View(uid))
}
