package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"finagent/internal/agent"
	facfg "finagent/internal/config"
	"finagent/internal/logger"
	"finagent/internal/scheduler"
	"finagent/internal/store"
	httpapi "finagent/internal/transport/http"
)

// App 负责应用级编排：加载配置→初始化依赖→启动 HTTP 服务与代理循环。
type App struct {
	cfg    *facfg.Config
	store  *store.Store
	engine *agent.Engine
	server *httpapi.Server
	loop   *scheduler.Loop
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *facfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动 HTTP 服务与定时代理循环，直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer func() {
		if err := a.store.Close(); err != nil {
			logger.Warnf("close store: %v", err)
		}
	}()

	logger.Infof("finagent starting env=%s http=%s market=%s",
		a.cfg.App.Env, a.server.Addr(), a.cfg.Market.ActiveSource)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		a.loop.Start(ctx)
		return nil
	})
	return group.Wait()
}

// Engine 暴露底层引擎实例（测试与回放工具使用）。
func (a *App) Engine() *agent.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}
