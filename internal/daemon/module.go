// Package daemon composes the engine into a running filod process.
package daemon

import (
	"context"
	"fmt"
	"io"

	"github.com/lmoretti/filo/internal/bus"
	"github.com/lmoretti/filo/internal/call"
	"github.com/lmoretti/filo/internal/chat"
	"github.com/lmoretti/filo/internal/config"
	"github.com/lmoretti/filo/internal/controller"
	"github.com/lmoretti/filo/internal/gateway"
	"github.com/lmoretti/filo/internal/lock"
	"github.com/lmoretti/filo/internal/logging"
	"github.com/lmoretti/filo/internal/media"
	"github.com/lmoretti/filo/internal/mirror"
	"github.com/lmoretti/filo/internal/paths"
	"github.com/lmoretti/filo/internal/presence"
	"github.com/lmoretti/filo/internal/remote"
	"github.com/lmoretti/filo/internal/remote/fsblob"
	"github.com/lmoretti/filo/internal/remote/memstore"
	"github.com/lmoretti/filo/internal/remote/redisstore"
	"github.com/lmoretti/filo/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideMirrorDB,
			provideRemote,
			provideObjectStorage,
			provideMediaPipeline,
			provideCallCoordinator,
			providePresenceTracker,
			provideMirrorEngine,
			provideManager,
			provideGateway,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	return config.Load(paths.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := paths.EnsureDirs(p.ProfileName); err != nil {
		return nil, err
	}
	return logging.New(paths.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(paths.ProfileDir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideMirrorDB(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := paths.MirrorDBPath(p.ProfileName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("mirror store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRemote(cfg *config.Config, logger *zap.Logger) (remote.DocumentStore, remote.CallSignaler, error) {
	switch cfg.Remote.Backend {
	case "redis", "":
		s, err := redisstore.New(context.Background(), cfg.Remote.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		logger.Info("remote store connected", zap.String("backend", "redis"))
		return s, s, nil
	case "memory":
		s := memstore.New()
		logger.Warn("remote store is in-memory, nothing persists")
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown remote backend %q", cfg.Remote.Backend)
	}
}

func provideObjectStorage(p Params, cfg *config.Config, logger *zap.Logger) (remote.ObjectStorage, error) {
	switch cfg.Storage.Backend {
	case "fs", "":
		root := cfg.Storage.Root
		if root == "" {
			root = paths.MediaDir(p.ProfileName)
		}
		s, err := fsblob.New(root)
		if err != nil {
			return nil, err
		}
		logger.Info("object storage ready", zap.String("backend", "fs"), zap.String("root", root))
		return s, nil
	case "memory":
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func provideMediaPipeline(storage remote.ObjectStorage, cfg *config.Config, logger *zap.Logger) *media.Pipeline {
	return media.NewPipeline(storage, cfg.Media, logger)
}

func provideCallCoordinator(signaler remote.CallSignaler, b *bus.Bus, logger *zap.Logger) *call.Coordinator {
	return call.NewCoordinator(signaler, b, logger)
}

func providePresenceTracker(rs remote.DocumentStore, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *presence.Tracker {
	return presence.NewTracker(rs, b, logger, cfg.User.ID)
}

func provideMirrorEngine(db *store.DB, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *mirror.Engine {
	return mirror.NewEngine(db, b, logger, cfg.User.ID)
}

func provideManager(rs remote.DocumentStore, pipeline *media.Pipeline, calls *call.Coordinator, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *controller.Manager {
	userID := cfg.User.ID
	return controller.NewManager(func(chatID string) *controller.Controller {
		session := chat.NewSession(rs, b, logger, chatID, userID)
		return controller.New(session, pipeline, calls, b, logger, chatID, userID)
	})
}

func provideGateway(p Params, manager *controller.Manager, db *store.DB, b *bus.Bus, calls *call.Coordinator, tracker *presence.Tracker, logger *zap.Logger) *gateway.Server {
	return gateway.New(manager, db, b, calls, tracker, logger, p.ProfileName)
}

func registerLifecycle(lc fx.Lifecycle, p Params, cfg *config.Config, gw *gateway.Server, lk *lock.Lock, manager *controller.Manager, engine *mirror.Engine, tracker *presence.Tracker, rs remote.DocumentStore, calls *call.Coordinator, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Mirror engine first so nothing published on "chat." is missed.
			engine.Start(context.Background())

			if err := gw.Start(cfg.Gateway.Listen); err != nil {
				return err
			}

			tracker.Start(ctx)
			logger.Info("daemon started", zap.String("profile", p.ProfileName))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := calls.End(ctx); err != nil {
				logger.Warn("call teardown at shutdown", zap.Error(err))
			}
			manager.CloseAll()
			tracker.Stop()
			engine.Stop()
			if err := gw.Stop(ctx); err != nil {
				logger.Warn("gateway shutdown", zap.Error(err))
			}
			if c, ok := rs.(io.Closer); ok {
				_ = c.Close()
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
