// Package webapp 提供本机清单的 HTTP API 与 Prometheus 指标端点。
package webapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	sqliteadapter "startup-inspector/internal/adapters/store/sqlite"
	"startup-inspector/internal/metrics"
	"startup-inspector/internal/platform/logfields"
	"startup-inspector/internal/services/backup"
	"startup-inspector/internal/services/inventory"
)

// Options 定义服务启动参数。默认只监听本机回环地址，不做鉴权。
type Options struct {
	ListenAddr string
	DBPath     string
	// Masked 为 true 时接口输出的路径隐藏用户主目录。
	Masked bool
	Logger *slog.Logger
}

// Deps 是服务依赖的已装配组件。
type Deps struct {
	Engine   *inventory.Engine
	Store    *sqliteadapter.Store
	Backups  *backup.Manager
	Registry *prometheus.Registry
}

// NewServer 构造服务；Handler() 可直接用于 httptest。
func NewServer(deps Deps, opts Options) *Server {
	if opts.ListenAddr == "" {
		opts.ListenAddr = "127.0.0.1:8787"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		opts:    opts,
		engine:  deps.Engine,
		store:   deps.Store,
		backups: deps.Backups,
		reg:     deps.Registry,
		jobs:    newJobManager(),
	}
}

// Run 启动 HTTP 服务，ctx 结束时优雅关闭。
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.opts.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	s.opts.Logger.Info("webapp listening", slog.String("url", fmt.Sprintf("http://%s", s.opts.ListenAddr)))
	err := httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.opts.Logger.Error("webapp stopped", logfields.Error(err))
		return err
	}
	return nil
}

// Handler 返回注册好全部路由的 mux。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	if s.reg != nil {
		mux.Handle("/metrics", metrics.HTTPHandler(s.reg))
	}
	return mux
}
