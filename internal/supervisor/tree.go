// Package supervisor runs the long-lived services of the server under a
// suture tree: an engine layer (heartbeats, stale sweeps) and an api layer
// (HTTP). A crashing service is restarted with backoff; one that returns
// suture.ErrDoNotRestart stays down.
package supervisor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/thejerf/suture/v4"
)

type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	FailureThreshold float64
	// FailureDecay is the rate at which failures decay, in seconds.
	FailureDecay    float64
	FailureBackoff  time.Duration
	ShutdownTimeout time.Duration
}

func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

func (c TreeConfig) withDefaults() TreeConfig {
	def := DefaultTreeConfig()
	if c.FailureThreshold == 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.FailureDecay == 0 {
		c.FailureDecay = def.FailureDecay
	}
	if c.FailureBackoff == 0 {
		c.FailureBackoff = def.FailureBackoff
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	return c
}

type Tree struct {
	root   *suture.Supervisor
	engine *suture.Supervisor
	api    *suture.Supervisor
	config TreeConfig
}

func NewTree(config TreeConfig) *Tree {
	config = config.withDefaults()
	spec := func(hook suture.EventHook) suture.Spec {
		return suture.Spec{
			EventHook:        hook,
			FailureThreshold: config.FailureThreshold,
			FailureDecay:     config.FailureDecay,
			FailureBackoff:   config.FailureBackoff,
			Timeout:          config.ShutdownTimeout,
		}
	}

	// Children inherit the hook when added to the root.
	root := suture.New("huddle", spec(EventHook(log.Logger)))
	engine := suture.New("engine-layer", spec(nil))
	api := suture.New("api-layer", spec(nil))
	root.Add(engine)
	root.Add(api)

	return &Tree{root: root, engine: engine, api: api, config: config}
}

// AddEngineService adds a background worker of the room engine.
func (t *Tree) AddEngineService(svc suture.Service) suture.ServiceToken {
	return t.engine.Add(svc)
}

func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}

// EventHook logs supervisor events through logger.
func EventHook(logger zerolog.Logger) suture.EventHook {
	return func(ev suture.Event) {
		var e *zerolog.Event
		switch ev.Type() {
		case suture.EventTypeServicePanic, suture.EventTypeStopTimeout:
			e = logger.Error()
		case suture.EventTypeServiceTerminate, suture.EventTypeBackoff:
			e = logger.Warn()
		default:
			e = logger.Info()
		}
		e.Str("module", "supervisor").Fields(ev.Map()).Msg(ev.String())
	}
}
