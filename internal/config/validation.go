package config

import (
	"fmt"
	"strings"
	"time"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Sentiment.validate(); err != nil {
		return err
	}
	if err := c.Broker.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(a.LogLevel)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app.log_level must be one of debug/info/warn/error, got %q", a.LogLevel)
	}
	if strings.TrimSpace(a.DBPath) == "" {
		return fmt.Errorf("app.db_path cannot be empty")
	}
	if _, err := time.LoadLocation(a.Timezone); err != nil {
		return fmt.Errorf("app.timezone invalid: %w", err)
	}
	return nil
}

func (m *MarketConfig) validate() error {
	switch m.ActiveSource {
	case "binance":
	case "finnhub":
		if strings.TrimSpace(m.Finnhub.APIKey) == "" {
			return fmt.Errorf("market.finnhub.api_key is required when finnhub is the active source")
		}
	default:
		return fmt.Errorf("market.active_source must be binance or finnhub, got %q", m.ActiveSource)
	}
	if m.HistoryBars < 30 {
		return fmt.Errorf("market.history_bars must be >= 30, got %d", m.HistoryBars)
	}
	return nil
}

func (s *SentimentConfig) validate() error {
	if !s.Enabled {
		return nil
	}
	if strings.TrimSpace(s.Model.APIURL) == "" {
		return fmt.Errorf("sentiment.model.api_url is required when sentiment is enabled")
	}
	if strings.TrimSpace(s.Model.Model) == "" {
		return fmt.Errorf("sentiment.model.model is required when sentiment is enabled")
	}
	return nil
}

func (b *BrokerConfig) validate() error {
	if !b.Alpaca.Enabled {
		return nil
	}
	if strings.TrimSpace(b.Alpaca.KeyID) == "" || strings.TrimSpace(b.Alpaca.SecretKey) == "" {
		return fmt.Errorf("broker.alpaca requires key_id and secret_key when enabled")
	}
	return nil
}
