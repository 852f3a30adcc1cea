package config

import "strings"

// 默认值常量
const (
	defaultAppEnv           = "dev"
	defaultAppLogLevel      = "info"
	defaultAppHTTPAddr      = ":9980"
	defaultAppDBPath        = "data/finagent.db"
	defaultAppTimezone      = "UTC"
	defaultMarketSource     = "finnhub"
	defaultMarketInterval   = "1d"
	defaultHistoryBars      = 200
	defaultNewsDays         = 7
	defaultBinanceREST      = "https://api.binance.com"
	defaultBinanceTimeout   = 10
	defaultFinnhubURL       = "https://finnhub.io/api/v1"
	defaultFinnhubTimeout   = 30
	defaultModelTimeout     = 60
	defaultModelMaxRetries  = 2
	defaultModelTemperature = 0.3
	defaultMaxArticles      = 20
	defaultProfilesPath     = "configs/risk_profiles.yaml"
	defaultAgentParallel    = 4
	defaultPaperCash        = 10000
	defaultAlpacaURL        = "https://paper-api.alpaca.markets"
	defaultAlpacaTimeout    = 15
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Sentiment.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Agent.applyDefaults(keys)
	c.Broker.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.db_path", &a.DBPath, defaultAppDBPath),
		stringFieldDefault("app.timezone", &a.Timezone, defaultAppTimezone),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.active_source", &m.ActiveSource, defaultMarketSource),
		stringFieldDefault("market.interval", &m.Interval, defaultMarketInterval),
		fieldDefault{
			key:   "market.history_bars",
			need:  func() bool { return m.HistoryBars <= 0 },
			apply: func() { m.HistoryBars = defaultHistoryBars },
		},
		fieldDefault{
			key:   "market.news_days",
			need:  func() bool { return m.NewsDays <= 0 },
			apply: func() { m.NewsDays = defaultNewsDays },
		},
		stringFieldDefault("market.binance.rest_base_url", &m.Binance.RESTBaseURL, defaultBinanceREST),
		fieldDefault{
			key:   "market.binance.timeout_seconds",
			need:  func() bool { return m.Binance.TimeoutSeconds <= 0 },
			apply: func() { m.Binance.TimeoutSeconds = defaultBinanceTimeout },
		},
		stringFieldDefault("market.finnhub.base_url", &m.Finnhub.BaseURL, defaultFinnhubURL),
		fieldDefault{
			key:   "market.finnhub.timeout_seconds",
			need:  func() bool { return m.Finnhub.TimeoutSeconds <= 0 },
			apply: func() { m.Finnhub.TimeoutSeconds = defaultFinnhubTimeout },
		},
	)
	m.ActiveSource = strings.ToLower(strings.TrimSpace(m.ActiveSource))
}

func (s *SentimentConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "sentiment.max_articles",
			need:  func() bool { return s.MaxArticles <= 0 },
			apply: func() { s.MaxArticles = defaultMaxArticles },
		},
		fieldDefault{
			key:   "sentiment.model.timeout_seconds",
			need:  func() bool { return s.Model.TimeoutSeconds <= 0 },
			apply: func() { s.Model.TimeoutSeconds = defaultModelTimeout },
		},
		fieldDefault{
			key:   "sentiment.model.max_retries",
			need:  func() bool { return s.Model.MaxRetries <= 0 },
			apply: func() { s.Model.MaxRetries = defaultModelMaxRetries },
		},
		fieldDefault{
			key:   "sentiment.model.temperature",
			need:  func() bool { return s.Model.Temperature <= 0 },
			apply: func() { s.Model.Temperature = defaultModelTemperature },
		},
	)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("risk.profiles_path", &r.ProfilesPath, defaultProfilesPath),
	)
}

func (a *AgentConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "agent.parallel",
			need:  func() bool { return a.Parallel <= 0 },
			apply: func() { a.Parallel = defaultAgentParallel },
		},
	)
}

func (b *BrokerConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "broker.paper.starting_cash",
			need:  func() bool { return b.Paper.StartingCash <= 0 },
			apply: func() { b.Paper.StartingCash = defaultPaperCash },
		},
		stringFieldDefault("broker.alpaca.base_url", &b.Alpaca.BaseURL, defaultAlpacaURL),
		fieldDefault{
			key:   "broker.alpaca.timeout_seconds",
			need:  func() bool { return b.Alpaca.TimeoutSeconds <= 0 },
			apply: func() { b.Alpaca.TimeoutSeconds = defaultAlpacaTimeout },
		},
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
