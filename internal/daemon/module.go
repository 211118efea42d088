package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/engine"
	"github.com/matheus3301/chatsync/internal/live"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/remote"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	Config      *config.Config
	Debug       bool
	Dir         string // optional profile directory override for testing; empty = use default
	SocketPath  string // optional override for testing; empty = use default
}

func (p Params) dir() string {
	if p.Dir != "" {
		return p.Dir
	}
	return session.Dir(p.ProfileName)
}

func (p Params) socketPath() string {
	if p.SocketPath != "" {
		return p.SocketPath
	}
	return filepath.Join(p.dir(), "daemon.sock")
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
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
			provideRemote,
			provideEngine,
			provideChatService,
			provideCron,
			NewMetricsServer,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg := p.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if p.Debug {
		level = zapcore.DebugLevel
	}
	return logging.New(logging.Options{
		Path:    filepath.Join(p.dir(), "logs", "chatsyncd.log"),
		Profile: p.ProfileName,
		Level:   level,
		Console: os.Stderr,
	})
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(p.dir())
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired", zap.String("path", l.Path()))
	return l, nil
}

// provideStore opens the database. The lock parameter orders it after the
// profile lock.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := filepath.Join(p.dir(), "chatsync.db")
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

func provideRemote(cfg *config.Config) (*remote.Client, error) {
	return remote.New(cfg.ServerURL, cfg.RequestTimeoutDuration())
}

func provideEngine(cfg *config.Config, db *store.DB, b *bus.Bus, rc *remote.Client, logger *zap.Logger) *engine.Engine {
	return engine.New(db, b, rc, engine.Options{
		Token:              cfg.AuthToken,
		UserID:             cfg.UserID,
		MaxPushAttempts:    cfg.MaxPushAttempts,
		MaxConcurrentSyncs: cfg.MaxConcurrentSyncs,
		Live: live.Options{
			ReconnectInitial: cfg.ReconnectInitialDuration(),
			ReconnectMax:     cfg.ReconnectMaxDuration(),
		},
	}, logger)
}

func provideChatService(p Params, e *engine.Engine, m *status.Machine, logger *zap.Logger) *api.ChatService {
	return api.NewChatService(p.ProfileName, e, m, logger)
}

// provideCron schedules the periodic outbox flush. An empty sync_schedule
// leaves the cron engine without jobs.
func provideCron(cfg *config.Config, e *engine.Engine, logger *zap.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithLogger(cronLogger{logger.Sugar().Named("cron")}))
	if cfg.SyncSchedule == "" {
		return c, nil
	}
	if _, err := c.AddFunc(cfg.SyncSchedule, e.Flush); err != nil {
		return nil, err
	}
	return c, nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

func registerLifecycle(
	lc fx.Lifecycle,
	srv *Server,
	metricsSrv *MetricsServer,
	lk *lock.Lock,
	db *store.DB,
	e *engine.Engine,
	c *cron.Cron,
	machine *status.Machine,
	logger *zap.Logger,
) {
	trackCtx, stopTracking := context.WithCancel(context.Background())
	var tracked <-chan struct{}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// fx skips OnStop when OnStart fails, so nothing may be running yet.
			if err := metricsSrv.Start(); err != nil {
				srv.Stop(ctx)
				e.Shutdown()
				_ = db.Close()
				_ = lk.Release()
				return err
			}

			// Follow sync and live events before anything can publish them.
			tracked = machine.Track(trackCtx)

			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			c.Start()

			if !e.HasToken() {
				logger.Warn("no auth token configured, remote sync disabled")
				_ = machine.Transition(status.Degraded, "no auth token")
				return nil
			}
			// Push whatever a previous run left pending.
			e.Flush()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			<-c.Stop().Done()
			srv.Stop(ctx)
			e.Shutdown()
			stopTracking()
			<-tracked
			var errs []error
			errs = append(errs, metricsSrv.Stop(ctx))
			errs = append(errs, db.Close())
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return errors.Join(errs...)
		},
	})
}
