package config

import "strings"

// Config 是 finagent 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Market    MarketConfig    `toml:"market"`
	Sentiment SentimentConfig `toml:"sentiment"`
	Risk      RiskConfig      `toml:"risk"`
	Agent     AgentConfig     `toml:"agent"`
	Broker    BrokerConfig    `toml:"broker"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	DBPath   string `toml:"db_path"`
	Timezone string `toml:"timezone"`
}

// MarketConfig 描述行情与新闻数据源。
type MarketConfig struct {
	// ActiveSource 决定分析用的主行情源："binance" 或 "finnhub"。
	ActiveSource string `toml:"active_source"`
	Interval     string `toml:"interval"`
	HistoryBars  int    `toml:"history_bars"`
	NewsDays     int    `toml:"news_days"`

	Binance BinanceConfig `toml:"binance"`
	Finnhub FinnhubConfig `toml:"finnhub"`
}

type BinanceConfig struct {
	RESTBaseURL    string `toml:"rest_base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type FinnhubConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// SentimentConfig 控制新闻情绪估计。未启用或模型缺失时代理以纯技术面运行。
type SentimentConfig struct {
	Enabled     bool        `toml:"enabled"`
	MaxArticles int         `toml:"max_articles"`
	Model       ModelConfig `toml:"model"`
}

// ModelConfig 描述一个 OpenAI 兼容的对话模型接入点。
type ModelConfig struct {
	APIURL         string            `toml:"api_url"`
	APIKey         string            `toml:"api_key"`
	Model          string            `toml:"model"`
	Temperature    float64           `toml:"temperature"`
	TimeoutSeconds int               `toml:"timeout_seconds"`
	MaxRetries     int               `toml:"max_retries"`
	Headers        map[string]string `toml:"headers"`
}

type RiskConfig struct {
	ProfilesPath string `toml:"profiles_path"`
}

type AgentConfig struct {
	Parallel       int  `toml:"parallel"`
	RunImmediately bool `toml:"run_immediately"`
}

// BrokerConfig 描述执行通道。paper 始终可用，live 需要 alpaca 凭据。
type BrokerConfig struct {
	Paper  PaperConfig  `toml:"paper"`
	Alpaca AlpacaConfig `toml:"alpaca"`
}

type PaperConfig struct {
	StartingCash float64 `toml:"starting_cash"`
}

type AlpacaConfig struct {
	Enabled        bool   `toml:"enabled"`
	BaseURL        string `toml:"base_url"`
	KeyID          string `toml:"key_id"`
	SecretKey      string `toml:"secret_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
