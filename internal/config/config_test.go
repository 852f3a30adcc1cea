package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
market:
  finnhub:
    api_key: test-key
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":9980", cfg.App.HTTPAddr)
	assert.Equal(t, "finnhub", cfg.Market.ActiveSource)
	assert.Equal(t, "1d", cfg.Market.Interval)
	assert.Equal(t, 200, cfg.Market.HistoryBars)
	assert.Equal(t, 4, cfg.Agent.Parallel)
	assert.InDelta(t, 10000, cfg.Broker.Paper.StartingCash, 1e-9)
	assert.Equal(t, "https://paper-api.alpaca.markets", cfg.Broker.Alpaca.BaseURL)
}

func TestLoadExplicitValuesSurviveDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  log_level: debug
  http_addr: ":8000"
market:
  active_source: binance
  interval: 4h
  history_bars: 120
agent:
  parallel: 2
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, ":8000", cfg.App.HTTPAddr)
	assert.Equal(t, "binance", cfg.Market.ActiveSource)
	assert.Equal(t, "4h", cfg.Market.Interval)
	assert.Equal(t, 120, cfg.Market.HistoryBars)
	assert.Equal(t, 2, cfg.Agent.Parallel)
}

func TestLoadRejectsFinnhubWithoutKey(t *testing.T) {
	path := writeConfig(t, `
market:
  active_source: finnhub
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "finnhub.api_key")
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	path := writeConfig(t, `
app:
  log_level: verbose
market:
  active_source: binance
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}

func TestLoadRejectsSentimentWithoutModel(t *testing.T) {
	path := writeConfig(t, `
market:
  active_source: binance
sentiment:
  enabled: true
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sentiment.model")
}

func TestLoadRejectsAlpacaWithoutCredentials(t *testing.T) {
	path := writeConfig(t, `
market:
  active_source: binance
broker:
  alpaca:
    enabled: true
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alpaca")
}

func TestLoadRejectsTooFewHistoryBars(t *testing.T) {
	path := writeConfig(t, `
market:
  active_source: binance
  history_bars: 10
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history_bars")
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "finnhub", cfg.Market.ActiveSource)
	assert.Equal(t, 20, cfg.Sentiment.MaxArticles)
	assert.Equal(t, "configs/risk_profiles.yaml", cfg.Risk.ProfilesPath)
}
