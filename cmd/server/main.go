package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/huddle/internal/adapters/http"
	"github.com/dkeye/huddle/internal/adapters/rtc"
	signaling "github.com/dkeye/huddle/internal/adapters/signal"
	"github.com/dkeye/huddle/internal/adapters/store"
	"github.com/dkeye/huddle/internal/app"
	"github.com/dkeye/huddle/internal/app/orch"
	"github.com/dkeye/huddle/internal/app/sfu"
	"github.com/dkeye/huddle/internal/authz"
	"github.com/dkeye/huddle/internal/config"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/geo"
	"github.com/dkeye/huddle/internal/supervisor"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Logger first so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Server.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("Server exited gracefully")
}

func openStore(cfg config.StoreConfig) (core.Store, error) {
	if cfg.Backend == "badger" {
		return store.OpenBadger(cfg.Path)
	}
	return store.NewMemoryStore(), nil
}

func run(ctx context.Context, cfg *config.Config) error {
	st, err := openStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	dir := core.NewDirectory(st, core.NewFeed(), cfg.Engine.RetryPolicy())
	defer func() {
		if err := dir.Close(); err != nil {
			log.Error().Err(err).Msg("close directory")
		}
	}()

	ix := geo.NewIndex(domain.PrecisionTier(cfg.Engine.LocationTier))
	policy := cfg.Engine.Policy()
	matcher := app.NewMatcher(dir, ix, policy, cfg.Engine.MatchTimeout)
	az, err := authz.NewBypassAuthorizer(cfg.Authz.GhostIDs()...)
	if err != nil {
		return fmt.Errorf("authorizer: %w", err)
	}
	ctrl := app.NewController(dir, ix, matcher, policy, az,
		app.WithCapacity(cfg.Engine.DefaultCapacity, cfg.Engine.MaxCapacity),
		app.WithMaxDiscoveryRadius(cfg.Engine.MaxDiscoveryRadiusM))

	beats := app.NewHeartbeatMonitor(ctrl, cfg.Engine.HeartbeatInterval)
	sweeper := app.NewSweeper(dir, ctrl, policy, cfg.Engine.SweepInterval)
	relays := sfu.NewRelayManager()

	o := orch.New(app.NewRegistry(), ctrl, relays, relays, beats)
	defer o.Close()
	beats.OnLost(o.OnParticipantLost)

	if err := dir.SubscribeActive(ctx, func(ev core.RoomEvent) {
		if ev.Type == core.EventDeleted {
			relays.DropRoom(ev.RoomID)
		}
		o.OnRoomEvent(ev)
	}); err != nil {
		return fmt.Errorf("subscribe to room feed: %w", err)
	}

	ws := signaling.NewSignalWSController(o, dir, relays,
		signaling.NewRoomRateLimiter(cfg.Server.RoomRequests, cfg.Server.RoomRequestWindow),
		signaling.Options{
			ReadLimit:  cfg.Server.ReadLimit,
			PingPeriod: cfg.Server.PingPeriod,
			ICE:        rtc.ConfigWithICE(cfg.Server.ICEServers),
		})
	rooms := router.NewRoomHandlers(o, ctrl, relays, cfg.Server.EnterWait)
	r := router.SetupRouter(ctx, cfg.Server, rooms, ws)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	tree := supervisor.NewTree(supervisor.TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout})
	tree.AddEngineService(beats)
	tree.AddEngineService(sweeper)
	tree.AddAPIService(supervisor.NewHTTPServerService(srv, cfg.Server.ShutdownTimeout))

	log.Info().Str("addr", addr).Str("store", cfg.Store.Backend).Msg("Huddle server started")
	err = tree.Serve(ctx)
	log.Info().Msg("Shutting down")
	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		log.Warn().Int("count", len(report)).Msg("services did not stop in time")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
