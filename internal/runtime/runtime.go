// Package runtime wires the whole task runtime into one explicit value —
// adapters, per-robot gateways and engines, and the dispatcher — so there
// is no package-level mutable state beyond the logger/metrics globals the
// ambient stack already owns.
package runtime

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"biopatrol/internal/biosensor"
	"biopatrol/internal/dispatcher"
	"biopatrol/internal/engine"
	"biopatrol/internal/fleet"
	"biopatrol/internal/notifier"
	"biopatrol/internal/robotrpc"
	"biopatrol/internal/scanrecorder"
	"biopatrol/pkg/cache"
	"biopatrol/pkg/config"
	"biopatrol/pkg/database"
	"biopatrol/pkg/logger"
	"biopatrol/pkg/ratelimit"
)

// Runtime owns every long-lived component of the patrol service.
type Runtime struct {
	Cfg        *config.Config
	Dispatcher *dispatcher.Dispatcher

	gateways []*fleet.Gateway
	db       *database.PostgresDB
	cache    cache.Cache
	limiter  ratelimit.Limiter
	sensor   *biosensor.MQTTClient
}

// New connects every adapter and builds one engine per registered robot.
// A failure to reach any robot endpoint is fatal: a patrol service that
// cannot command its fleet has nothing to do.
func New(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	rt := &Runtime{Cfg: cfg}

	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("runtime: connect database: %w", err)
	}
	rt.db = db

	if cfg.Database.AutoMigrate {
		if err := database.RunMigrations(ctx, db.Pool(), &cfg.Database, scanrecorder.Migrations, "migrations"); err != nil {
			rt.Close()
			return nil, fmt.Errorf("runtime: migrations: %w", err)
		}
	}
	recorder := scanrecorder.NewPostgresRecorder(db)

	var resolverCache cache.Cache
	if cfg.Cache.Enabled {
		c, err := cache.New(cache.FromConfig(&cfg.Cache))
		if err != nil {
			logger.Log.Warn("cache init failed, resolver runs in-process only", "error", err)
		} else {
			rt.cache = c
			resolverCache = c
		}
	}

	sensor, err := biosensor.NewMQTTClient(cfg.BioSensor, recorder)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("runtime: bio-sensor: %w", err)
	}
	rt.sensor = sensor

	notify := rt.buildNotifier()

	var mu sync.Mutex
	executors := make(map[string]dispatcher.Executor, len(cfg.Robots.Fleet))
	g, gctx := errgroup.WithContext(ctx)
	for robotID, endpoint := range cfg.Robots.Fleet {
		g.Go(func() error {
			client, err := robotrpc.Dial(gctx, robotID, endpoint.Address(), endpoint.TLS)
			if err != nil {
				return fmt.Errorf("runtime: dial robot %s: %w", robotID, err)
			}
			resolver := fleet.NewResolver(robotID, resolverCache, cfg.Cache.DefaultTTL)
			gw := fleet.New(robotID, client, resolver)

			mu.Lock()
			rt.gateways = append(rt.gateways, gw)
			executors[robotID] = engine.New(robotID, gw, sensor, recorder, notify, cfg.Engine)
			mu.Unlock()

			logger.Log.Info("robot registered", "robot_id", robotID, "address", endpoint.Address())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		rt.Close()
		return nil, err
	}

	rt.Dispatcher = dispatcher.New(executors)
	return rt, nil
}

// buildNotifier picks the configured notifier, falling back to Noop so
// the engine never has to nil-check.
func (rt *Runtime) buildNotifier() notifier.Notifier {
	cfg := rt.Cfg
	if !cfg.Notifier.Enabled {
		return notifier.Noop{}
	}

	var limiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		l, err := ratelimit.New(&ratelimit.Config{
			Requests:        cfg.RateLimit.Requests,
			Window:          cfg.RateLimit.Window,
			Backend:         cfg.RateLimit.Backend,
			CleanupInterval: cfg.RateLimit.CleanupInterval,
			RedisAddr:       cfg.RateLimit.RedisAddr,
		})
		if err != nil {
			logger.Log.Warn("rate limiter init failed, notifier unthrottled", "error", err)
		} else {
			rt.limiter = l
			limiter = l
		}
	}

	tg, err := notifier.NewTelegram(cfg.Notifier, limiter)
	if err != nil {
		logger.Log.Warn("telegram notifier init failed, notifications disabled", "error", err)
		return notifier.Noop{}
	}
	return tg
}

// Start launches the dispatcher loops.
func (rt *Runtime) Start(ctx context.Context) {
	rt.Dispatcher.Start(ctx)
}

// Close releases every connection the runtime holds. Safe to call on a
// partially-constructed runtime.
func (rt *Runtime) Close() {
	for _, gw := range rt.gateways {
		if err := gw.Close(); err != nil {
			logger.Log.Warn("gateway close failed", "robot_id", gw.RobotID, "error", err)
		}
	}
	if rt.sensor != nil {
		rt.sensor.Close()
	}
	if rt.limiter != nil {
		_ = rt.limiter.Close()
	}
	if rt.cache != nil {
		_ = rt.cache.Close()
	}
	if rt.db != nil {
		rt.db.Close()
	}
}
