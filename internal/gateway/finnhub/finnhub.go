// Package finnhub fetches company news from the Finnhub API.
package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"finagent/internal/market"
)

// Config 描述新闻源参数，APIKey 为空时视为未配置。
type Config struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "https://finnhub.io/api/v1"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// Client 实现 market.NewsSource。
type Client struct {
	client *resty.Client
	apiKey string
}

func New(cfg Config) *Client {
	final := cfg.withDefaults()
	return &Client{
		client: resty.New().SetBaseURL(final.BaseURL).SetTimeout(final.Timeout),
		apiKey: final.APIKey,
	}
}

func (c *Client) Name() string { return "finnhub" }

type candleResp struct {
	Status  string    `json:"s"`
	Open    []float64 `json:"o"`
	High    []float64 `json:"h"`
	Low     []float64 `json:"l"`
	Close   []float64 `json:"c"`
	Volume  []float64 `json:"v"`
	OpenTs  []int64   `json:"t"`
}

// FetchHistory 拉取股票日内/日线K线，满足 market.Source 契约。
func (c *Client) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("finnhub api key not configured")
	}
	resolution, span, err := resolutionFor(interval)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	to := time.Now()
	from := to.Add(-time.Duration(limit+5) * span)

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":     symbol,
			"resolution": resolution,
			"from":       fmt.Sprintf("%d", from.Unix()),
			"to":         fmt.Sprintf("%d", to.Unix()),
			"token":      c.apiKey,
		}).
		Get("/stock/candle")
	if err != nil {
		return nil, fmt.Errorf("fetch candles for %s: %w", symbol, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("finnhub status=%d: %s", resp.StatusCode(), resp.String())
	}
	var body candleResp
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("parse candle response: %w", err)
	}
	if body.Status != "ok" {
		return nil, fmt.Errorf("no candle data for %s", symbol)
	}
	n := len(body.Close)
	if len(body.OpenTs) != n || len(body.Open) != n || len(body.High) != n ||
		len(body.Low) != n || len(body.Volume) != n {
		return nil, fmt.Errorf("finnhub candle arrays for %s have mismatched lengths", symbol)
	}
	out := make([]market.Candle, 0, n)
	for i := 0; i < n; i++ {
		openMs := body.OpenTs[i] * 1000
		out = append(out, market.Candle{
			OpenTime:  openMs,
			CloseTime: openMs + span.Milliseconds() - 1,
			Open:      body.Open[i],
			High:      body.High[i],
			Low:       body.Low[i],
			Close:     body.Close[i],
			Volume:    body.Volume[i],
		})
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// LatestPrice 取实时报价的当前价。
func (c *Client) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	if c.apiKey == "" {
		return 0, fmt.Errorf("finnhub api key not configured")
	}
	var quote struct {
		Current float64 `json:"c"`
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"symbol": symbol, "token": c.apiKey}).
		SetResult(&quote).
		Get("/quote")
	if err != nil {
		return 0, fmt.Errorf("fetch quote for %s: %w", symbol, err)
	}
	if resp.StatusCode() != 200 {
		return 0, fmt.Errorf("finnhub status=%d: %s", resp.StatusCode(), resp.String())
	}
	if quote.Current <= 0 {
		return 0, fmt.Errorf("no quote for %s", symbol)
	}
	return quote.Current, nil
}

func resolutionFor(interval string) (string, time.Duration, error) {
	switch interval {
	case "", "1d", "D":
		return "D", 24 * time.Hour, nil
	case "1m":
		return "1", time.Minute, nil
	case "5m":
		return "5", 5 * time.Minute, nil
	case "15m":
		return "15", 15 * time.Minute, nil
	case "30m":
		return "30", 30 * time.Minute, nil
	case "1h", "60m":
		return "60", time.Hour, nil
	case "1w", "W":
		return "W", 7 * 24 * time.Hour, nil
	default:
		return "", 0, fmt.Errorf("unsupported interval %q", interval)
	}
}

type newsRow struct {
	DateTime int64  `json:"datetime"`
	Headline string `json:"headline"`
	Source   string `json:"source"`
	Summary  string `json:"summary"`
	URL      string `json:"url"`
}

// FetchNews 返回 symbol 最近 days 天的新闻，按发布时间升序。
func (c *Client) FetchNews(ctx context.Context, symbol string, days int) ([]market.NewsItem, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("finnhub api key not configured")
	}
	if days <= 0 {
		days = 7
	}
	to := time.Now()
	from := to.AddDate(0, 0, -days)

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol": symbol,
			"from":   from.Format("2006-01-02"),
			"to":     to.Format("2006-01-02"),
			"token":  c.apiKey,
		}).
		Get("/company-news")
	if err != nil {
		return nil, fmt.Errorf("fetch news for %s: %w", symbol, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("finnhub status=%d: %s", resp.StatusCode(), resp.String())
	}

	var rows []newsRow
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		return nil, fmt.Errorf("parse news response: %w", err)
	}
	out := make([]market.NewsItem, 0, len(rows))
	for _, r := range rows {
		if r.Headline == "" {
			continue
		}
		out = append(out, market.NewsItem{
			Headline:    r.Headline,
			Summary:     r.Summary,
			Source:      r.Source,
			URL:         r.URL,
			PublishedAt: time.Unix(r.DateTime, 0).UTC(),
		})
	}
	// Finnhub 返回倒序，统一转为升序。
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
