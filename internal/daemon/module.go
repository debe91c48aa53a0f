// Package daemon composes the client: one fx module wiring the logger,
// bus, stores, session manager and sync engine, with a lifecycle hook
// that brings the commit loop and feeds up and tears them down in order.
package daemon

import (
	"context"
	"errors"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/vchat-dev/vchat/internal/account"
	"github.com/vchat-dev/vchat/internal/api"
	"github.com/vchat-dev/vchat/internal/auth"
	"github.com/vchat-dev/vchat/internal/bus"
	"github.com/vchat-dev/vchat/internal/config"
	"github.com/vchat-dev/vchat/internal/docstore"
	"github.com/vchat-dev/vchat/internal/lock"
	"github.com/vchat-dev/vchat/internal/logging"
	"github.com/vchat-dev/vchat/internal/session"
	"github.com/vchat-dev/vchat/internal/status"
	intsync "github.com/vchat-dev/vchat/internal/sync"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
}

// Module returns the fx module for the client daemon, composing all
// providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideDocstore,
			provideAuth,
			provideCache,
			provideWriter,
			provideReconciler,
			provideEngine,
			provideManager,
			provideSessionService,
			provideChatService,
			provideMessageService,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	cfg, err := config.Load(session.ConfigPath())
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.LockPath(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideDocstore(p Params, b *bus.Bus, logger *zap.Logger) (*docstore.DB, error) {
	dbPath := session.StoreDBPath(p.SessionName)
	db, err := docstore.Open(dbPath, b, logger)
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
	logger.Info("document store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideAuth(p Params, cfg *config.Config, logger *zap.Logger) (*auth.Local, error) {
	return auth.Open(session.AuthDBPath(p.SessionName), auth.Options{
		Disabled: cfg.AuthDisabled,
		TokenTTL: cfg.TokenTTL(),
	}, logger)
}

func provideCache() *intsync.Cache {
	return intsync.NewCache()
}

func provideWriter(db *docstore.DB, logger *zap.Logger) *intsync.Writer {
	return intsync.NewWriter(db, logger)
}

func provideReconciler(db *docstore.DB, cache *intsync.Cache, writer *intsync.Writer) *intsync.Reconciler {
	return intsync.NewReconciler(db, cache, writer)
}

func provideEngine(db *docstore.DB, b *bus.Bus, cache *intsync.Cache, writer *intsync.Writer, rec *intsync.Reconciler, cfg *config.Config, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, cache, writer, rec, cfg.PageSize, logger)
}

func provideManager(provider *auth.Local, db *docstore.DB, writer *intsync.Writer, logger *zap.Logger) *account.Manager {
	return account.NewManager(provider, db, writer, logger)
}

func provideSessionService(manager *account.Manager, machine *status.Machine) *api.SessionService {
	return api.NewSessionService(manager, machine)
}

func provideChatService(engine *intsync.Engine, manager *account.Manager) *api.ChatService {
	return api.NewChatService(engine, manager)
}

func provideMessageService(engine *intsync.Engine, manager *account.Manager) *api.MessageService {
	return api.NewMessageService(engine, manager)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *docstore.DB, provider *auth.Local, manager *account.Manager, engine *intsync.Engine, machine *status.Machine, cfg *config.Config, logger *zap.Logger, _ *api.SessionService, _ *api.ChatService, _ *api.MessageService) {
	// The machine owns the store's connectivity from here on; transitions
	// below and any future Online/Offline flips reach the store through it.
	unbindStatus := status.Bind(machine, db)
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			db.StartCommitLoop(context.Background(), cfg.FlushInterval())
			_ = machine.Transition(status.Online)

			// Feeds follow the session from here on.
			engine.Bind(manager.OnSessionChange)

			if user, err := manager.Restore(context.Background()); err != nil {
				logger.Warn("session restore failed", zap.Error(err))
			} else if user != nil {
				logger.Info("session restored", zap.String("handle", user.Handle))
			} else {
				logger.Info("no persisted session")
			}
			return nil
		},
		OnStop: func(_ context.Context) error {
			engine.Close()
			manager.Close()
			db.StopCommitLoop()
			_ = machine.Transition(status.Closed)
			unbindStatus()
			if err := provider.Close(); err != nil {
				logger.Warn("error closing auth store", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing document store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
