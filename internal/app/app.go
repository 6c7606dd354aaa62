// Package app assembles a running coordinator from configuration: the store,
// the engine, the change feed and the background workers.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/fmeleard84/team-dash-manager-sub011/internal/config"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/db"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/engine"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/events"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/migrate"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/provisioning"
)

// App holds the wired components of one coordinator instance.
type App struct {
	Config     *config.Config
	Runtime    config.Runtime
	DB         *sql.DB
	Dialect    db.Dialect
	Engine     engine.Engine
	Feed       *events.Feed
	Bridge     *events.RedisBridge
	Dispatcher *provisioning.Dispatcher
	Logger     *slog.Logger

	redis *redis.Client
}

// Open loads teamdash.yml from the runtime workspace (defaults when absent),
// opens and migrates the database and builds the engine and its collaborators.
// Nothing runs in the background until Run is called.
func Open(ctx context.Context, rt config.Runtime, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := config.LoadOptional(rt.Workspace)
	if err != nil {
		return nil, err
	}
	conn, dialect, err := db.Open(db.Config{Driver: rt.DBDriver, DSN: rt.DBDSN, Workspace: rt.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.Migrate(conn, dialect); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	eng := engine.New(conn, dialect, cfg)
	eng.Logger = logger
	feed := events.NewFeed(eng.Repo, events.FeedOptions{
		PollInterval: cfg.Feed.PollInterval,
		GapTimeout:   cfg.Feed.GapTimeout,
		Logger:       logger,
	})
	a := &App{
		Config:  cfg,
		Runtime: rt,
		DB:      conn,
		Dialect: dialect,
		Feed:    feed,
		Logger:  logger,
	}
	eng.Notifier = feed
	if rt.RedisAddr != "" {
		instance := rt.InstanceID
		if instance == "" {
			instance = defaultInstanceID()
		}
		a.redis = events.NewRedisClient(rt.RedisAddr, rt.RedisPassword, rt.RedisDB)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable; peers will rely on polling", "addr", rt.RedisAddr, "err", err)
		}
		a.Bridge = events.NewRedisBridge(a.redis, rt.RedisChannel, instance, feed, logger)
		eng.Notifier = a.Bridge
	}
	a.Engine = eng

	var hooks provisioning.Hooks = provisioning.LogHooks{Logger: logger}
	var notifier provisioning.Notifier = provisioning.LogHooks{Logger: logger}
	if webhooks := provisioning.NewWebhooks(cfg.Provisioning.Webhooks); webhooks.Len() > 0 {
		hooks, notifier = webhooks, webhooks
	}
	a.Dispatcher = provisioning.NewDispatcher(eng.Repo, hooks, notifier, provisioning.Options{
		MaxAttempts:   cfg.Provisioning.MaxAttempts,
		RetryBackoff:  cfg.Provisioning.RetryBackoff,
		RetryMaxDelay: cfg.Provisioning.RetryMaxDelay,
		RatePerSecond: cfg.Provisioning.RatePerSecond,
		PollInterval:  cfg.Provisioning.PollInterval,
		LeaseTTL:      cfg.Provisioning.LeaseTTL,
		Logger:        logger,
	})
	return a, nil
}

func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "tdm"
	}
	return host + "-" + uuid.NewString()[:8]
}

// Run drives the background work until ctx ends: the outbox dispatcher, the
// expiry sweep and, with Redis configured, the cross-instance bridge.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Dispatcher.Run(ctx) })
	g.Go(func() error { return a.RunSweeper(ctx) })
	if a.Bridge != nil {
		g.Go(func() error {
			for {
				err := a.Bridge.Run(ctx)
				if ctx.Err() != nil {
					return ctx.Err()
				}
				a.Logger.Warn("redis bridge stopped; resubscribing", "err", err)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Second):
				}
			}
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// RunSweeper expires overdue searching requirements every sweep interval.
func (a *App) RunSweeper(ctx context.Context) error {
	ticker := time.NewTicker(a.Config.Booking.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		n, err := a.Engine.ExpireDue(ctx, time.Now(), "system")
		if err != nil && ctx.Err() == nil {
			a.Logger.Warn("expiry sweep failed", "err", err)
			continue
		}
		if n > 0 {
			a.Logger.Info("expired overdue requirements", "count", n)
		}
	}
}

// Close releases the database and Redis connections.
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, a.DB.Close())
	return errors.Join(errs...)
}
