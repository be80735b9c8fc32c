// Package chessbuilder assembles the chess bot from configuration.
package chessbuilder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Chess-bot/internal/adapter/chesspresenter"
	"github.com/park285/Cheese-Chess-bot/internal/bot"
	corechess "github.com/park285/Cheese-Chess-bot/internal/chess"
	"github.com/park285/Cheese-Chess-bot/internal/chess/uci"
	"github.com/park285/Cheese-Chess-bot/internal/command"
	"github.com/park285/Cheese-Chess-bot/internal/config"
	"github.com/park285/Cheese-Chess-bot/internal/dispatch"
	"github.com/park285/Cheese-Chess-bot/internal/metrics"
	"github.com/park285/Cheese-Chess-bot/internal/msgcat"
	svcchess "github.com/park285/Cheese-Chess-bot/internal/service/chess"
)

const (
	pingTimeout   = 5 * time.Second
	sweepInterval = time.Minute
)

// Deps holds the long-lived parts of a running bot.
type Deps struct {
	Pool     *uci.Pool
	Registry *svcchess.Registry
	Service  *svcchess.Service
	Metrics  *metrics.Recorder
	Repo     svcchess.Repository
	Bot      *bot.Bot

	logger  *zap.Logger
	closers []func() error
}

type Option func(*options)

type options struct {
	launch *uci.LaunchConfig
}

// WithLaunch overrides how engine processes are started.
func WithLaunch(lc uci.LaunchConfig) Option {
	return func(o *options) { o.launch = &lc }
}

// New wires the engine pool, session registry, stores, service and bot.
// Replies go out through egress. Redis and Postgres are used when their URLs
// are set; otherwise sessions live in memory only and games are archived in
// memory.
func New(ctx context.Context, cfg *config.AppConfig, egress chesspresenter.Egress, logger *zap.Logger, opts ...Option) (_ *Deps, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if egress == nil {
		return nil, fmt.Errorf("egress required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	d := &Deps{logger: logger}
	defer func() {
		if err != nil {
			_ = d.closeAll()
		}
	}()

	launch := uci.LaunchConfig{Path: cfg.StockfishPath}
	if o.launch != nil {
		launch = *o.launch
	}
	launch.Logger = logger.Named("uci")
	pool, err := uci.NewPool(uci.PoolConfig{
		Launch: launch,
		Options: uci.Options{
			Threads:    cfg.EngineThreads,
			HashMB:     cfg.EngineHashMB,
			SkillLevel: cfg.EngineSkill,
			ShowWDL:    true,
		},
		MaxProcesses: cfg.EngineMaxProcesses,
	})
	if err != nil {
		return nil, fmt.Errorf("init engine pool: %w", err)
	}
	d.Pool = pool
	d.closers = append(d.closers, pool.Close)

	factory := func(ctx context.Context, skill int) (svcchess.EngineHandle, error) {
		return corechess.NewHandle(ctx, pool, corechess.HandleConfig{
			Skill:    skill,
			EvalTime: cfg.EngineMoveTime,
			Logger:   logger,
		})
	}

	regOpts := []svcchess.RegistryOption{svcchess.WithRegistryLogger(logger)}
	if cfg.RedisURL != "" {
		store, err := d.openRedis(ctx, cfg)
		if err != nil {
			return nil, err
		}
		regOpts = append(regOpts, svcchess.WithSnapshotStore(store))
	}
	registry, err := svcchess.NewRegistry(factory, svcchess.RegistryConfig{
		MoveTime:     cfg.EngineMoveTime,
		DefaultSkill: cfg.EngineSkill,
		IdleTTL:      cfg.SessionIdleTTL,
	}, regOpts...)
	if err != nil {
		return nil, fmt.Errorf("init session registry: %w", err)
	}
	d.Registry = registry
	d.closers = append(d.closers, registry.Close)

	repo := svcchess.NewMemoryRepository()
	if cfg.DatabaseURL != "" {
		if repo, err = d.openPostgres(ctx, cfg); err != nil {
			return nil, err
		}
	}
	d.Repo = repo

	d.Metrics = metrics.NewRecorder()
	d.Metrics.TrackSessions(registry.Len)
	d.Metrics.TrackEnginePool(pool.Stats)

	service, err := svcchess.NewService(registry, svcchess.NewSVGBoardRenderer(cfg.BoardSize), repo, d.Metrics,
		svcchess.Config{HistoryLimit: cfg.HistoryLimit}, logger)
	if err != nil {
		return nil, err
	}
	d.Service = service

	catalog, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	parser := command.NewParser(cfg.BotPrefix)
	formatter := chesspresenter.NewFormatter(catalog, parser, chesspresenter.WithSeeMoreFolding(cfg.SeeMoreLines))
	presenter := chesspresenter.NewPresenter(egress, formatter, logger)

	d.Bot = bot.New(parser, service, presenter, dispatch.New(context.WithoutCancel(ctx), cfg.QueueDepth, logger), logger)
	return d, nil
}

func (d *Deps) openRedis(ctx context.Context, cfg *config.AppConfig) (*svcchess.RedisStore, error) {
	ropts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(ropts)
	d.closers = append(d.closers, rdb.Close)

	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return svcchess.NewRedisStore(rdb, cfg.SessionTTL), nil
}

func (d *Deps) openPostgres(ctx context.Context, cfg *config.AppConfig) (svcchess.Repository, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	d.closers = append(d.closers, db.Close)
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := svcchess.EnsureSchema(pctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return svcchess.NewRepository(db), nil
}

// RunSweeper evicts idle sessions until ctx is done.
func (d *Deps) RunSweeper(ctx context.Context) {
	d.Registry.RunSweeper(ctx, sweepInterval)
}

// Close drains queued messages until ctx is done, then releases sessions,
// engine processes and store connections.
func (d *Deps) Close(ctx context.Context) error {
	var errs []error
	if d.Bot != nil {
		if err := d.Bot.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain messages: %w", err))
		}
	}
	errs = append(errs, d.closeAll())
	return errors.Join(errs...)
}

// closeAll runs closers in reverse order of acquisition.
func (d *Deps) closeAll() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	if err := errors.Join(errs...); err != nil {
		d.logger.Warn("chess_shutdown_errors", zap.Error(err))
		return err
	}
	return nil
}
