package factory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mcoot/mpserver/internal/config"
	"github.com/mcoot/mpserver/internal/dependencies/clock"
	"github.com/mcoot/mpserver/internal/dependencies/random"
	"github.com/mcoot/mpserver/internal/server"
	"github.com/mcoot/mpserver/internal/services/auth"
	"github.com/mcoot/mpserver/internal/services/ban"
	"github.com/mcoot/mpserver/internal/services/game"
	"github.com/mcoot/mpserver/internal/services/lobby"
	"github.com/mcoot/mpserver/internal/services/registry"
	"github.com/mcoot/mpserver/internal/services/replay"
	"github.com/mcoot/mpserver/internal/storage"
	"github.com/mcoot/mpserver/internal/storage/banfile"
	"github.com/mcoot/mpserver/internal/storage/memory"
	redisstorage "github.com/mcoot/mpserver/internal/storage/redis"
)

// Storage type constants
const (
	StorageTypeMemory = "memory"
	StorageTypeRedis  = "redis"
)

// App contains all wired application components
type App struct {
	Config  config.Config
	Session string

	// Storage holds registered nicks, and bans when no ban file is set
	Storage  storage.Storage
	BanStore storage.BanStore

	// External dependencies
	Clock  clock.Clock
	Random random.Random

	// Services
	Registry    *registry.Registry
	Lobby       *lobby.Broadcaster
	Games       *game.Controller
	Bans        *ban.Manager
	Auth        *auth.Service
	Replays     *replay.Writer
	Server      *server.Server
	Logger      *slog.Logger
	closeStore  func() error
	persistence bool
}

// New creates a new application with all dependencies wired. Call Start
// before serving and Close afterwards.
func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	// Use no-op logger if not provided
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	store, closeStore, err := newStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}

	app, err := newWithDependencies(cfg, store, clock.New(), random.New(), cfg.AuthConfig(), uuid.NewString(), logger)
	if err != nil {
		if closeStore != nil {
			_ = closeStore()
		}
		return nil, err
	}
	app.closeStore = closeStore
	app.persistence = true
	return app, nil
}

func newStorage(cfg config.StorageConfig) (storage.Storage, func() error, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = StorageTypeMemory
	}

	switch storageType {
	case StorageTypeMemory:
		return memory.New(), nil, nil
	case StorageTypeRedis:
		if cfg.RedisURL == "" {
			return nil, nil, errors.New("redis_url required when storage type is redis")
		}
		redisCfg := redisstorage.DefaultConfig()
		redisCfg.URL = cfg.RedisURL
		if cfg.KeyPrefix != "" {
			redisCfg.KeyPrefix = cfg.KeyPrefix
		}
		store, err := redisstorage.New(redisCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("invalid storage type %q: must be 'memory' or 'redis'", storageType)
	}
}

// newWithDependencies creates an App with the given dependencies (useful for testing)
func newWithDependencies(
	cfg config.Config,
	store storage.Storage,
	clk clock.Clock,
	rnd random.Random,
	authCfg auth.Config,
	session string,
	logger *slog.Logger,
) (*App, error) {
	var banStore storage.BanStore = store
	if cfg.Bans.File != "" {
		banStore = banfile.New(cfg.Bans.File)
	}

	reg := registry.New(logger)
	lob := lobby.NewBroadcaster(reg, logger)
	replays := replay.New(replay.Config{Dir: cfg.Replays.Dir, Session: session}, clk, logger)
	var sink game.ReplaySink
	if cfg.Replays.Dir != "" {
		sink = replays
	}
	games := game.NewController(reg, lob, sink, clk, rnd, cfg.GameConfig(), logger)
	bans := ban.New(banStore, clk, cfg.BanConfig(), logger)
	authService := auth.New(store, clk, authCfg)

	srv, err := server.New(cfg, server.Deps{
		Registry: reg,
		Lobby:    lob,
		Games:    games,
		Bans:     bans,
		Auth:     authService,
		Clock:    clk,
		Session:  session,
	}, logger)
	if err != nil {
		return nil, err
	}

	return &App{
		Config:   cfg,
		Session:  session,
		Storage:  store,
		BanStore: banStore,
		Clock:    clk,
		Random:   rnd,
		Registry: reg,
		Lobby:    lob,
		Games:    games,
		Bans:     bans,
		Auth:     authService,
		Replays:  replays,
		Server:   srv,
		Logger:   logger,
	}, nil
}

// Start loads persisted bans and moves ban and replay writes onto their
// background writers
func (a *App) Start(ctx context.Context) error {
	if err := a.Bans.Load(ctx); err != nil {
		return fmt.Errorf("load bans: %w", err)
	}
	if a.persistence {
		a.Bans.Start()
		a.Replays.Start()
	}
	a.Logger.Info("application started",
		slog.String("session", a.Session),
		slog.Int("bans", a.Bans.Count()),
	)
	return nil
}

// Close flushes bans and replays and releases the storage backend
func (a *App) Close(ctx context.Context) error {
	errs := []error{a.Bans.Close(ctx)}
	a.Replays.Close()
	if a.closeStore != nil {
		errs = append(errs, a.closeStore())
	}
	return errors.Join(errs...)
}
