package http

import (
	"bytes"
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/huddle/internal/adapters/store"
	"github.com/dkeye/huddle/internal/app"
	"github.com/dkeye/huddle/internal/app/orch"
	"github.com/dkeye/huddle/internal/authz"
	"github.com/dkeye/huddle/internal/config"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/geo"
)

var berlin = domain.Coordinate{Lat: 52.5200, Lon: 13.4050}

type body map[string]any

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := core.NewDirectory(store.NewMemoryStore(), core.NewFeed(), core.DefaultRetryPolicy())
	ix := geo.NewIndex(domain.TierStreet)
	policy := app.DefaultPolicy()
	az, err := authz.NewBypassAuthorizer()
	require.NoError(t, err)
	ctrl := app.NewController(dir, ix, app.NewMatcher(dir, ix, policy, time.Second), policy, az)
	o := orch.New(app.NewRegistry(), ctrl, nil, nil, nil)

	cfg := config.ServerConfig{Mode: gin.TestMode, Secret: "0123456789abcdef"}
	r := SetupRouter(context.Background(), cfg, NewRoomHandlers(o, ctrl, nil, 2*time.Second), nil)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		o.Close()
		_ = dir.Close()
	})
	return srv
}

type client struct {
	t    *testing.T
	base string
	http *http.Client
}

func newClient(t *testing.T, srv *httptest.Server) *client {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &client{t: t, base: srv.URL, http: &http.Client{Jar: jar}}
}

func (c *client) do(method, path string, in any) (int, body) {
	c.t.Helper()
	var rd *bytes.Reader
	if in != nil {
		b, err := json.Marshal(in)
		require.NoError(c.t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	var out body
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(c.t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func (b body) obj(key string) body {
	m, _ := b[key].(map[string]any)
	return m
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRoomLifecycleOverREST(t *testing.T) {
	srv := newServer(t)
	alice, bob := newClient(t, srv), newClient(t, srv)

	status, out := alice.do(http.MethodPost, "/api/rooms", body{
		"name":       "corner",
		"visibility": "public",
		"capacity":   4,
		"location":   body{"lat": berlin.Lat, "lon": berlin.Lon},
	})
	require.Equal(t, http.StatusCreated, status, out)
	room := out.obj("room")
	id := room["id"].(string)
	assert.NotEqual(t, out["local_id"], id)
	assert.EqualValues(t, 1, room["count"])

	status, out = bob.do(http.MethodGet, "/api/rooms?lat=52.5201&lon=13.4051&radius=500", nil)
	require.Equal(t, http.StatusOK, status)
	rooms := out["rooms"].([]any)
	require.Len(t, rooms, 1)
	assert.Equal(t, id, rooms[0].(map[string]any)["id"])

	status, out = bob.do(http.MethodPost, "/api/rooms/"+id+"/join", nil)
	require.Equal(t, http.StatusOK, status, out)
	assert.EqualValues(t, 2, out.obj("room")["count"])

	status, out = bob.do(http.MethodPatch, "/api/rooms/"+id+"/me", body{"is_muted": true})
	require.Equal(t, http.StatusOK, status, out)
	var mutedSelf bool
	for _, p := range out["participants"].([]any) {
		pv := p.(map[string]any)
		if pv["is_self"] == true {
			mutedSelf = pv["is_muted"] == true
		}
	}
	assert.True(t, mutedSelf)

	status, _ = alice.do(http.MethodPatch, "/api/rooms/elsewhere/me", body{"is_muted": true})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = bob.do(http.MethodPost, "/api/rooms/leave", nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, out = bob.do(http.MethodGet, "/api/rooms/"+id, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, out["count"])

	status, _ = alice.do(http.MethodPost, "/api/rooms/leave", nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, out = alice.do(http.MethodGet, "/api/rooms/"+id, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", out["code"])

	// Leaving twice is a no-op.
	status, _ = alice.do(http.MethodPost, "/api/rooms/leave", nil)
	assert.Equal(t, http.StatusNoContent, status)
}

func TestRESTErrors(t *testing.T) {
	srv := newServer(t)
	c := newClient(t, srv)

	status, out := c.do(http.MethodGet, "/api/rooms?lat=north", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION", out["code"])

	for _, radius := range []string{"NaN", "Inf", "-1", "1e9"} {
		status, out = c.do(http.MethodGet, "/api/rooms?lat=52.52&lon=13.40&radius="+radius, nil)
		assert.Equal(t, http.StatusBadRequest, status, radius)
		assert.Equal(t, "VALIDATION", out["code"], radius)
	}

	status, _ = c.do(http.MethodPost, "/api/rooms", body{"name": "", "visibility": "public"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, out = c.do(http.MethodPost, "/api/rooms", body{"name": "x", "visibility": "public", "bypass_location": true})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "PERMISSION_DENIED", out["code"])

	status, out = c.do(http.MethodPost, "/api/rooms/missing/join", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, false, out["retryable"])
}

func TestProfileSurvivesInSession(t *testing.T) {
	srv := newServer(t)
	c := newClient(t, srv)

	status, out := c.do(http.MethodPut, "/api/me", body{"display_name": "Alice", "anonymous": true})
	require.Equal(t, http.StatusOK, status, out)
	assert.Equal(t, "Alice", out["display_name"])

	status, out = c.do(http.MethodPost, "/api/rooms", body{"name": "hideout", "visibility": "private"})
	require.Equal(t, http.StatusCreated, status, out)

	status, out = c.do(http.MethodGet, "/api/me", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, out["anonymous"])
	assert.Equal(t, "hideout", out.obj("room")["name"])
}

func TestStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusOf(domain.ErrRoomFull))
	assert.Equal(t, http.StatusConflict, statusOf(domain.ErrConflict))
	assert.Equal(t, http.StatusServiceUnavailable, statusOf(domain.ErrUnavailable))
	assert.Equal(t, http.StatusServiceUnavailable, statusOf(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, statusOf(assert.AnError))
}
