package daemon

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/msgdb/internal/bus"
	"github.com/matheus3301/msgdb/internal/config"
	"github.com/matheus3301/msgdb/internal/expiring"
	"github.com/matheus3301/msgdb/internal/groups"
	"github.com/matheus3301/msgdb/internal/ingest"
	"github.com/matheus3301/msgdb/internal/lock"
	"github.com/matheus3301/msgdb/internal/logging"
	"github.com/matheus3301/msgdb/internal/profile"
	"github.com/matheus3301/msgdb/internal/receipts"
	"github.com/matheus3301/msgdb/internal/status"
	"github.com/matheus3301/msgdb/internal/store"
)

// Params selects the profile the daemon serves.
type Params struct {
	ProfileName string
	SocketPath  string         // optional override; empty uses the profile socket
	Config      *config.Config // optional; nil loads the config file
}

// Module composes the daemon: one store handle shared by every component.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideExpiring,
			provideEarlyCache,
			provideReconciler,
			provideMigrator,
			provideEngine,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, nil
	}
	return config.LoadOrDefault(profile.ConfigPath())
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName, cfg.Log.Level)
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

// provideStore depends on the lock so the database is never opened by two
// daemons.
func provideStore(p Params, cfg *config.Config, _ *lock.Lock, b *bus.Bus, m *status.Machine, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
	_ = m.Transition(status.Migrating)
	db, err := store.Open(dbPath,
		store.WithLogger(logger.Named("store")),
		store.WithNotifier(b),
		store.WithBusyTimeout(cfg.Store.BusyTimeoutMS),
		store.WithDirectory(store.StaticDirectory{
			SelfID:     cfg.Store.SelfRecipientID,
			Persistent: cfg.Store.PersistentRecipients,
		}),
	)
	if err != nil {
		_ = m.TransitionWithReason(status.Error, err.Error())
		return nil, err
	}
	logger.Info("schema ready", zap.Uint("version", db.Schema().Version), zap.Bool("upgraded", db.Schema().Changed))
	logger.Info("store initialized", zap.String("path", dbPath))
	_ = m.Transition(status.Loading)
	return db, nil
}

func provideExpiring(db *store.DB, cfg *config.Config, logger *zap.Logger) *expiring.Manager {
	return expiring.NewManager(db, cfg.Expiring.SweepInterval.Duration, logger.Named("expiring"))
}

func provideEarlyCache(cfg *config.Config) *receipts.EarlyCache {
	return receipts.NewEarlyCache(cfg.Receipts.EarlyCacheTTL.Duration, cfg.Receipts.EarlyCacheSize)
}

func provideReconciler(db *store.DB, cache *receipts.EarlyCache, mgr *expiring.Manager, logger *zap.Logger) *receipts.Reconciler {
	return receipts.NewReconciler(db, cache, mgr, logger.Named("receipts"))
}

func provideMigrator(db *store.DB, logger *zap.Logger) *groups.Migrator {
	return groups.NewMigrator(db, logger.Named("groups"))
}

func provideEngine(db *store.DB, b *bus.Bus, r *receipts.Reconciler, m *groups.Migrator, logger *zap.Logger) *ingest.Engine {
	return ingest.NewEngine(db, b, r, m, logger.Named("ingest"))
}

// provideServer waits for the lock so a second daemon never replaces the
// socket of a running one.
func provideServer(p Params, _ *lock.Lock, machine *status.Machine, b *bus.Bus, logger *zap.Logger) (*Server, error) {
	return NewServer(p, machine, b, logger.Named("health"))
}

// pruneEvery drops expired early receipts until ctx ends.
func pruneEvery(ctx context.Context, cache *receipts.EarlyCache, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := cache.Prune(); n > 0 {
				logger.Debug("early receipts expired", zap.Int("dropped", n), zap.Int("held", cache.Len()))
			}
		case <-ctx.Done():
			return
		}
	}
}

func registerLifecycle(
	lc fx.Lifecycle,
	cfg *config.Config,
	srv *Server,
	lk *lock.Lock,
	db *store.DB,
	mgr *expiring.Manager,
	cache *receipts.EarlyCache,
	engine *ingest.Engine,
	machine *status.Machine,
	logger *zap.Logger,
) {
	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := mgr.Start(runCtx); err != nil {
				logger.Error("loading expiring messages failed", zap.Error(err))
				_ = machine.TransitionWithReason(status.Degraded, "expiring timers not loaded")
			}
			engine.Start(runCtx)

			pruneInterval := cfg.Receipts.EarlyCacheTTL.Duration / 4
			if pruneInterval < time.Second {
				pruneInterval = time.Second
			}
			go pruneEvery(runCtx, cache, pruneInterval, logger)

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("health server error", zap.Error(err))
				}
			}()

			if machine.Current() == status.Loading {
				_ = machine.Transition(status.Ready)
			}
			logger.Info("daemon ready")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			_ = machine.Transition(status.Closing)
			cancel()
			engine.Stop()
			mgr.Stop()
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			_ = machine.Transition(status.Closed)
			logger.Info("daemon stopped")
			return nil
		},
	})
}
