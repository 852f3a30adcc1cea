package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"finagent/internal/agent"
	"finagent/internal/analysis/indicator"
	facfg "finagent/internal/config"
	"finagent/internal/gateway/alpaca"
	"finagent/internal/gateway/binance"
	"finagent/internal/gateway/exchange"
	"finagent/internal/gateway/finnhub"
	"finagent/internal/gateway/paper"
	"finagent/internal/gateway/provider"
	"finagent/internal/logger"
	"finagent/internal/market"
	"finagent/internal/risk"
	"finagent/internal/scheduler"
	"finagent/internal/sentiment"
	"finagent/internal/store"
	httpapi "finagent/internal/transport/http"
)

// AppBuilder 把配置逐步组装为可运行的 App。构建函数可在测试中替换。
type AppBuilder struct {
	cfg *facfg.Config

	marketStackFn func(*facfg.Config) (market.Source, market.NewsSource, error)
	estimatorFn   func(facfg.SentimentConfig) *sentiment.Estimator
	storeFn       func(string) (*store.Store, error)
	registryFn    func(string) (*risk.Registry, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *facfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:           cfg,
		marketStackFn: buildMarketStack,
		estimatorFn:   buildEstimator,
		storeFn:       store.Open,
		registryFn:    buildProfileRegistry,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// WithMarketStack 替换行情与新闻源的构建方式，测试用。
func WithMarketStack(fn func(*facfg.Config) (market.Source, market.NewsSource, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.marketStackFn = fn }
}

// Build 构建完整应用。
func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	cfg := b.cfg
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}

	loc, err := time.LoadLocation(cfg.App.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	st, err := b.storeFn(cfg.App.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	profiles, err := b.registryFn(cfg.Risk.ProfilesPath)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("load risk profiles: %w", err)
	}

	prices, news, err := b.marketStackFn(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	brokers := buildBrokers(cfg.Broker)
	engine := &agent.Engine{
		Store:    st,
		Gate:     risk.NewGate(),
		Profiles: profiles,
		Brokers:  brokers,
		Loc:      loc,
		Parallel: cfg.Agent.Parallel,
		Analyzer: &agent.Analyzer{
			Prices:    prices,
			News:      news,
			Estimator: b.estimatorFn(cfg.Sentiment),
			Settings:  indicator.Settings{},
			Interval:  cfg.Market.Interval,
			Bars:      cfg.Market.HistoryBars,
			NewsDays:  cfg.Market.NewsDays,
		},
	}

	server, err := httpapi.NewServer(httpapi.ServerConfig{
		Addr:   cfg.App.HTTPAddr,
		Router: httpapi.NewRouter(engine, st, profiles),
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	loop := scheduler.NewLoop(
		func(ctx context.Context) error {
			_, err := engine.RunCycle(ctx)
			return err
		},
		engine.CheckInterval,
	)
	loop.RunImmediately = cfg.Agent.RunImmediately

	return &App{
		cfg:    cfg,
		store:  st,
		engine: engine,
		server: server,
		loop:   loop,
	}, nil
}

// buildMarketStack 根据 active_source 选择行情源。新闻始终来自 finnhub，
// 未配置 api_key 时为 nil，代理以纯技术面降级运行。
func buildMarketStack(cfg *facfg.Config) (market.Source, market.NewsSource, error) {
	var prices market.Source
	switch cfg.Market.ActiveSource {
	case "binance":
		prices = binance.New(binance.Config{
			RESTBaseURL: cfg.Market.Binance.RESTBaseURL,
			HTTPTimeout: time.Duration(cfg.Market.Binance.TimeoutSeconds) * time.Second,
		})
	case "finnhub":
		prices = newFinnhubClient(cfg.Market.Finnhub)
	default:
		return nil, nil, fmt.Errorf("unsupported market source %q", cfg.Market.ActiveSource)
	}

	var news market.NewsSource
	if strings.TrimSpace(cfg.Market.Finnhub.APIKey) != "" {
		if fh, ok := prices.(*finnhub.Client); ok {
			news = fh
		} else {
			news = newFinnhubClient(cfg.Market.Finnhub)
		}
	} else {
		logger.Warnf("finnhub api_key not set, news sentiment disabled")
	}
	return prices, news, nil
}

func newFinnhubClient(cfg facfg.FinnhubConfig) *finnhub.Client {
	return finnhub.New(finnhub.Config{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
	})
}

func buildEstimator(cfg facfg.SentimentConfig) *sentiment.Estimator {
	if !cfg.Enabled {
		return sentiment.NewEstimator(nil)
	}
	model := provider.BuildModel(provider.ModelCfg{
		ID:          cfg.Model.Model,
		APIURL:      cfg.Model.APIURL,
		APIKey:      cfg.Model.APIKey,
		Model:       cfg.Model.Model,
		Enabled:     true,
		Headers:     cfg.Model.Headers,
		Timeout:     time.Duration(cfg.Model.TimeoutSeconds) * time.Second,
		Retries:     cfg.Model.MaxRetries,
		Temperature: cfg.Model.Temperature,
	})
	if model == nil {
		return sentiment.NewEstimator(nil)
	}
	logger.Infof("sentiment model enabled: %s", model.ID())
	return sentiment.NewEstimator(sentiment.NewLLMScorer(model))
}

// buildBrokers 组装执行通道。advisory 复用 paper 的账本做组合估算。
func buildBrokers(cfg facfg.BrokerConfig) map[agent.Mode]exchange.Broker {
	brokers := map[agent.Mode]exchange.Broker{
		agent.ModePaper: paper.New(cfg.Paper.StartingCash),
	}
	if cfg.Alpaca.Enabled {
		brokers[agent.ModeLive] = alpaca.New(alpaca.Config{
			BaseURL:   cfg.Alpaca.BaseURL,
			KeyID:     cfg.Alpaca.KeyID,
			SecretKey: cfg.Alpaca.SecretKey,
			Timeout:   time.Duration(cfg.Alpaca.TimeoutSeconds) * time.Second,
		})
		logger.Infof("alpaca broker enabled: %s", cfg.Alpaca.BaseURL)
	}
	return brokers
}

// buildProfileRegistry 加载风控预设，文件缺失时退回内置三档。
func buildProfileRegistry(path string) (*risk.Registry, error) {
	path = strings.TrimSpace(path)
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			logger.Warnf("risk profiles file %s not readable, using builtins: %v", path, err)
			path = ""
		}
	}
	return risk.NewRegistry(path)
}
