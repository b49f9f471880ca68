// Package app 负责配置加载与组件装配。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"startup-inspector/internal/adapters/host"
	"startup-inspector/internal/adapters/mutator"
	sqliteadapter "startup-inspector/internal/adapters/store/sqlite"
	"startup-inspector/internal/domain/model"
	"startup-inspector/internal/metrics"
	"startup-inspector/internal/platform/clock"
	"startup-inspector/internal/platform/execx"
	"startup-inspector/internal/services/inventory"
)

// Deps 允许替换外部依赖（测试中注入 FakeRunner / FakeClock）。
type Deps struct {
	Runner   execx.Runner
	Clock    clock.Clock
	Logger   *slog.Logger
	Registry *prom.Registry
	Actor    string
}

// App 持有一次进程生命周期内的全部组件。
type App struct {
	Config    Config
	DB        *sql.DB
	Store     *sqliteadapter.Store
	LoadState *host.LoadStateCache
	Sources   []host.Source
	Mutator   *mutator.Mac
	Engine    *inventory.Engine
	Registry  *prom.Registry
	Recorder  metrics.Recorder
	Logger    *slog.Logger
}

// New 打开数据库（含迁移）并装配来源、变更器与引擎。
func New(ctx context.Context, cfg Config, deps Deps) (*App, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	if deps.Runner == nil {
		deps.Runner = execx.NewExecRunner(cfg.CommandTimeout)
	}
	if deps.Registry == nil {
		deps.Registry = prom.NewRegistry()
	}

	db, err := sqliteadapter.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	store := sqliteadapter.NewStore(db)
	recorder := metrics.NewPrometheusRecorder(deps.Registry)
	logger := deps.Logger

	cache := host.NewLoadStateCache(deps.Runner, deps.Clock, logger)
	cache.OnRefresh(func(_ time.Duration, ok bool) { recorder.IncLoadStateFetch(ok) })

	sources := []host.Source{
		host.NewLoginItemSource(deps.Runner, cfg.LegacyLoginItemsPath, logger),
		host.NewAgentDaemonSource(model.CategoryLaunchAgents, scopedDirs(cfg.AgentDirs), cache, logger),
		host.NewAgentDaemonSource(model.CategoryLaunchDaemons, scopedDirs(cfg.DaemonDirs), cache, logger),
		host.NewBackgroundItemSource(deps.Runner, cfg.BTMPaths, logger),
	}
	mut := mutator.New(deps.Runner, logger)

	engine := inventory.NewEngine(sources, inventory.NewStore(), store, mut, inventory.Options{
		Namespace:    cfg.Namespace,
		FetchTimeout: cfg.FetchTimeout,
		Actor:        deps.Actor,
		Logger:       logger,
		Recorder:     recorder,
		Clock:        deps.Clock,
		LoadState:    cache,
	})

	return &App{
		Config:    cfg,
		DB:        db,
		Store:     store,
		LoadState: cache,
		Sources:   sources,
		Mutator:   mut,
		Engine:    engine,
		Registry:  deps.Registry,
		Recorder:  recorder,
		Logger:    logger,
	}, nil
}

// Close 释放数据库连接。
func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}
