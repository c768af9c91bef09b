package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dkeye/huddle/internal/app"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Store  StoreConfig  `mapstructure:"store"`
	Engine EngineConfig `mapstructure:"engine"`
	Authz  AuthzConfig  `mapstructure:"authz"`
}

type ServerConfig struct {
	Mode            string        `mapstructure:"mode"`
	Port            int           `mapstructure:"port"`
	StaticPath      string        `mapstructure:"static_path"`
	ReadLimit       int64         `mapstructure:"read_limit"`
	PingPeriod      time.Duration `mapstructure:"ping_period"`
	Secret          string        `mapstructure:"secret"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	ICEServers      []string      `mapstructure:"ice_servers"`
	// RoomRequests per RoomRequestWindow are allowed per user.
	RoomRequests      int           `mapstructure:"room_requests"`
	RoomRequestWindow time.Duration `mapstructure:"room_request_window"`
	EnterWait         time.Duration `mapstructure:"enter_wait"`
}

type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

type OverrideConfig struct {
	MergeRadiusM float64       `mapstructure:"merge_radius_m"`
	StaleAfter   time.Duration `mapstructure:"stale_after"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

type EngineConfig struct {
	MergeRadiusM      float64                   `mapstructure:"merge_radius_m"`
	StaleAfter        time.Duration             `mapstructure:"stale_after"`
	Overrides         map[string]OverrideConfig `mapstructure:"overrides"`
	HeartbeatInterval time.Duration             `mapstructure:"heartbeat_interval"`
	SweepInterval     time.Duration             `mapstructure:"sweep_interval"`
	MatchTimeout      time.Duration             `mapstructure:"match_timeout"`
	LocationTier      string                    `mapstructure:"location_tier"`
	DefaultCapacity   int                       `mapstructure:"default_capacity"`
	MaxCapacity       int                       `mapstructure:"max_capacity"`
	Retry             RetryConfig               `mapstructure:"retry"`
	// MaxDiscoveryRadiusM is the largest radius nearby discovery accepts.
	MaxDiscoveryRadiusM float64 `mapstructure:"max_discovery_radius_m"`
}

type AuthzConfig struct {
	// Ghosts may create rooms without a location.
	Ghosts []string `mapstructure:"ghosts"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.static_path", "./web")
	v.SetDefault("server.read_limit", 32768)
	v.SetDefault("server.ping_period", "54s")
	v.SetDefault("server.secret", "")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("server.room_requests", 10)
	v.SetDefault("server.room_request_window", "1m")
	v.SetDefault("server.enter_wait", "3s")

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.path", "./data/rooms")

	v.SetDefault("engine.merge_radius_m", app.DefaultMergeRadiusM)
	v.SetDefault("engine.stale_after", app.DefaultStaleAfter)
	v.SetDefault("engine.heartbeat_interval", app.DefaultHeartbeatEvery)
	v.SetDefault("engine.sweep_interval", "15s")
	v.SetDefault("engine.match_timeout", "500ms")
	v.SetDefault("engine.location_tier", string(domain.TierStreet))
	v.SetDefault("engine.default_capacity", app.DefaultCapacity)
	v.SetDefault("engine.max_capacity", domain.MaxRoomRoster)
	v.SetDefault("engine.max_discovery_radius_m", app.DefaultMaxDiscoveryRadiusM)
	retry := core.DefaultRetryPolicy()
	v.SetDefault("engine.retry.max_attempts", retry.MaxAttempts)
	v.SetDefault("engine.retry.base_delay", retry.BaseDelay)
	v.SetDefault("engine.retry.max_delay", retry.MaxDelay)

	v.SetDefault("authz.ghosts", []string{})
}

// Flags returns the command line flags Load understands.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("huddle", pflag.ContinueOnError)
	fs.String("config", "", "config file (default config/config.$CONFIG_ENV.yaml)")
	fs.String("mode", "", "gin mode: debug or release")
	fs.Int("port", 0, "HTTP port")
	fs.String("store", "", "room store backend: memory or badger")
	fs.String("store-path", "", "badger data directory")
	return fs
}

var flagKeys = map[string]string{
	"mode":       "server.mode",
	"port":       "server.port",
	"store":      "store.backend",
	"store-path": "store.path",
}

// Load reads, in increasing priority: defaults, the config file, HUDDLE_*
// environment variables and command line flags.
func Load(args []string) (*Config, error) {
	fs := Flags()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	fileName, _ := fs.GetString("config")
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(fileName)
	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	v.SetEnvPrefix("HUDDLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if f := fs.Lookup(name); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Server.Mode).Int("port", cfg.Server.Port).Str("store", cfg.Store.Backend).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	s := c.Server
	if s.Mode != "debug" && s.Mode != "release" && s.Mode != "test" {
		bad("server.mode %q: want debug, release or test", s.Mode)
	}
	if s.Port <= 0 || s.Port > 65535 {
		bad("server.port %d out of range", s.Port)
	}
	if s.ReadLimit <= 0 {
		bad("server.read_limit must be positive")
	}
	if s.PingPeriod <= 0 {
		bad("server.ping_period must be positive")
	}
	if s.RoomRequests <= 0 || s.RoomRequestWindow <= 0 {
		bad("server.room_requests and server.room_request_window must be positive")
	}

	switch c.Store.Backend {
	case "memory":
	case "badger":
		if c.Store.Path == "" {
			bad("store.path is required for the badger backend")
		}
	default:
		bad("store.backend %q: want memory or badger", c.Store.Backend)
	}

	e := c.Engine
	if e.MergeRadiusM <= 0 {
		bad("engine.merge_radius_m must be positive")
	}
	if e.MaxDiscoveryRadiusM < e.MergeRadiusM || e.MaxDiscoveryRadiusM > 50000 {
		bad("engine.max_discovery_radius_m %g outside [merge_radius_m, 50000]", e.MaxDiscoveryRadiusM)
	}
	if e.StaleAfter <= 0 || e.HeartbeatInterval <= 0 || e.SweepInterval <= 0 || e.MatchTimeout <= 0 {
		bad("engine intervals must be positive")
	}
	if e.HeartbeatInterval >= e.StaleAfter {
		bad("engine.heartbeat_interval %s must be shorter than engine.stale_after %s", e.HeartbeatInterval, e.StaleAfter)
	}
	for name, o := range e.Overrides {
		if !domain.Visibility(name).Valid() {
			bad("engine.overrides: unknown visibility %q", name)
		}
		if o.MergeRadiusM < 0 || o.StaleAfter < 0 {
			bad("engine.overrides.%s: negative value", name)
		}
		if o.MergeRadiusM > e.MaxDiscoveryRadiusM {
			bad("engine.overrides.%s: merge_radius_m above max_discovery_radius_m", name)
		}
	}
	if !domain.PrecisionTier(e.LocationTier).Valid() {
		bad("engine.location_tier %q unknown", e.LocationTier)
	}
	if e.MaxCapacity < domain.MinCapacity || e.MaxCapacity > domain.MaxRoomRoster {
		bad("engine.max_capacity %d outside [%d, %d]", e.MaxCapacity, domain.MinCapacity, domain.MaxRoomRoster)
	}
	if e.DefaultCapacity < domain.MinCapacity || e.DefaultCapacity > e.MaxCapacity {
		bad("engine.default_capacity %d outside [%d, %d]", e.DefaultCapacity, domain.MinCapacity, e.MaxCapacity)
	}
	if e.Retry.MaxAttempts <= 0 || e.Retry.BaseDelay < 0 || e.Retry.MaxDelay < e.Retry.BaseDelay {
		bad("engine.retry: want max_attempts > 0 and 0 <= base_delay <= max_delay")
	}
	return errors.Join(errs...)
}

// Policy is the per-visibility engine policy described by the config.
func (e EngineConfig) Policy() app.StaticPolicy {
	p := app.StaticPolicy{MergeRadiusM: e.MergeRadiusM, Stale: e.StaleAfter}
	if len(e.Overrides) > 0 {
		p.Overrides = make(map[domain.Visibility]app.Override, len(e.Overrides))
		for name, o := range e.Overrides {
			p.Overrides[domain.Visibility(name)] = app.Override{MergeRadiusM: o.MergeRadiusM, StaleAfter: o.StaleAfter}
		}
	}
	return p
}

func (e EngineConfig) RetryPolicy() core.RetryPolicy {
	return core.RetryPolicy{MaxAttempts: e.Retry.MaxAttempts, BaseDelay: e.Retry.BaseDelay, MaxDelay: e.Retry.MaxDelay}
}

func (a AuthzConfig) GhostIDs() []domain.UserID {
	out := make([]domain.UserID, 0, len(a.Ghosts))
	for _, g := range a.Ghosts {
		out = append(out, domain.UserID(g))
	}
	return out
}
