package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finagent/internal/analysis/indicator"
	"finagent/internal/decision"
	"finagent/internal/logger"
	"finagent/internal/market"
	"finagent/internal/sentiment"
)

// Analyzer 负责单个 symbol 的取数与信号合成：行情 → 指标，新闻 → 情绪，再合并。
type Analyzer struct {
	Prices    market.Source
	News      market.NewsSource // 可为 nil：无新闻源的降级态
	Estimator *sentiment.Estimator
	Settings  indicator.Settings
	Interval  string
	Bars      int
	NewsDays  int
	Timeout   time.Duration
}

func (a *Analyzer) withDefaults() Analyzer {
	out := *a
	if out.Interval == "" {
		out.Interval = "1d"
	}
	if out.Bars <= 0 {
		out.Bars = 200
	}
	if out.NewsDays <= 0 {
		out.NewsDays = 7
	}
	if out.Timeout <= 0 {
		out.Timeout = 30 * time.Second
	}
	return out
}

// Analyze 产出一个 symbol 的合成信号。新闻或情绪能力的瞬时故障只降级为
// 纯技术面信号，不会让整个 symbol 失败；行情或指标失败则返回错误。
func (a *Analyzer) Analyze(ctx context.Context, symbol string) (decision.Composite, error) {
	cfg := a.withDefaults()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	candles, err := cfg.Prices.FetchHistory(ctx, symbol, cfg.Interval, cfg.Bars)
	if err != nil {
		return decision.Composite{}, fmt.Errorf("fetch history %s: %w", symbol, err)
	}
	tech, err := indicator.Analyze(symbol, cfg.Interval, candles, cfg.Settings)
	if err != nil {
		return decision.Composite{}, err
	}

	fund := a.estimateSentiment(ctx, symbol, cfg)
	return decision.Combine(tech, fund, time.Now()), nil
}

func (a *Analyzer) estimateSentiment(ctx context.Context, symbol string, cfg Analyzer) *sentiment.Result {
	if cfg.News == nil || cfg.Estimator == nil || !cfg.Estimator.Enabled() {
		return nil
	}
	items, err := cfg.News.FetchNews(ctx, symbol, cfg.NewsDays)
	if err != nil {
		logger.Warnf("news fetch failed for %s, continuing technical-only: %v", symbol, err)
		return nil
	}
	res, err := cfg.Estimator.Estimate(ctx, symbol, items)
	if err != nil {
		if errors.Is(err, sentiment.ErrSourceUnavailable) {
			logger.Warnf("sentiment unavailable for %s, continuing technical-only: %v", symbol, err)
			return nil
		}
		logger.Errorf("sentiment failed for %s: %v", symbol, err)
		return nil
	}
	return res
}
