// Package daemon composes the QuickTalk daemon out of its parts.
package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elizkhv/quicktalk/internal/api"
	"github.com/elizkhv/quicktalk/internal/bus"
	"github.com/elizkhv/quicktalk/internal/config"
	"github.com/elizkhv/quicktalk/internal/fanout"
	"github.com/elizkhv/quicktalk/internal/identity"
	"github.com/elizkhv/quicktalk/internal/lock"
	"github.com/elizkhv/quicktalk/internal/logging"
	"github.com/elizkhv/quicktalk/internal/outbox"
	"github.com/elizkhv/quicktalk/internal/profile"
	"github.com/elizkhv/quicktalk/internal/projector"
	"github.com/elizkhv/quicktalk/internal/status"
	"github.com/elizkhv/quicktalk/internal/store"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	Config      *config.Config
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideTokenManager,
			provideWriter,
			provideDispatcher,
			provideProjector,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideTokenManager(p Params) *identity.Manager {
	return identity.NewManager(p.Config.JWTSecret, p.Config.TokenTTL())
}

func provideWriter(db *store.DB, b *bus.Bus, logger *zap.Logger) *fanout.Writer {
	return fanout.NewWriter(db, b, logger)
}

func provideDispatcher(db *store.DB, writer *fanout.Writer, b *bus.Bus, logger *zap.Logger) *outbox.Dispatcher {
	return outbox.NewDispatcher(db, writer, b, logger)
}

func provideProjector(db *store.DB, b *bus.Bus, logger *zap.Logger) *projector.Projector {
	return projector.New(db, b, logger)
}

func provideServer(db *store.DB, proj *projector.Projector, tokens *identity.Manager, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *api.Server {
	return api.New(db, proj, tokens, b, machine, logger)
}

func registerLifecycle(lc fx.Lifecycle, p Params, srv *api.Server, lk *lock.Lock, dispatcher *outbox.Dispatcher, machine *status.Machine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			dispatcher.Start(context.Background())

			go func() {
				if err := srv.Listen(p.Config.ListenAddr); err != nil {
					logger.Error("http server error", zap.Error(err))
					_ = machine.Transition(status.Error)
				}
			}()

			logger.Info("daemon started", zap.String("addr", p.Config.ListenAddr))
			return machine.Transition(status.Ready)
		},
		OnStop: func(ctx context.Context) error {
			_ = machine.Transition(status.Draining)
			dispatcher.Stop()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("error shutting down http server", zap.Error(err))
			}
			_ = machine.Transition(status.Stopped)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
