package sentiment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"finagent/internal/market"
	"finagent/internal/signal"
)

// ErrSourceUnavailable 表示情绪能力已配置但暂时不可用，调用方可重试。
var ErrSourceUnavailable = errors.New("sentiment source unavailable")

// Label 是五档情绪标签。
type Label string

const (
	VeryPositive Label = "VERY_POSITIVE"
	Positive     Label = "POSITIVE"
	Neutral      Label = "NEUTRAL"
	Negative     Label = "NEGATIVE"
	VeryNegative Label = "VERY_NEGATIVE"
)

// Scored 是打分能力返回的原始结果。PerArticle 可为空，表示只有聚合分。
type Scored struct {
	Score      float64
	Reasoning  string
	PerArticle []float64
}

// Scorer 是外部文本情绪能力的抽象，LLM 实现见 llm.go。
type Scorer interface {
	Name() string
	Score(ctx context.Context, symbol string, items []market.NewsItem) (Scored, error)
}

// Result 汇总单个 symbol 的新闻情绪输出。
type Result struct {
	Symbol     string       `json:"symbol"`
	Label      Label        `json:"label"`
	Score      float64      `json:"score"`
	Signal     signal.Label `json:"signal"`
	Confidence float64      `json:"confidence"`
	Articles   int          `json:"articles"`
	Reasoning  string       `json:"reasoning,omitempty"`
}

// Estimator 把一批新闻折算为情绪结果。scorer 为 nil 时处于降级模式。
type Estimator struct {
	scorer Scorer
}

func NewEstimator(scorer Scorer) *Estimator {
	return &Estimator{scorer: scorer}
}

// Enabled 返回是否配置了打分能力。
func (e *Estimator) Enabled() bool {
	return e != nil && e.scorer != nil
}

// Estimate 返回 symbol 的情绪结果。没有能力或没有文章时返回 (nil, nil)，
// 这是设计内的降级态而非错误；能力瞬时故障时返回 ErrSourceUnavailable。
func (e *Estimator) Estimate(ctx context.Context, symbol string, items []market.NewsItem) (*Result, error) {
	if !e.Enabled() || len(items) == 0 {
		return nil, nil
	}
	// 新的文章权重更高，先按时间升序排好。
	sorted := make([]market.NewsItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].PublishedAt.Before(sorted[j].PublishedAt)
	})

	scored, err := e.scorer.Score(ctx, symbol, sorted)
	if err != nil {
		return nil, fmt.Errorf("%s via %s: %v: %w", symbol, e.scorer.Name(), err, ErrSourceUnavailable)
	}

	score := scored.Score
	if len(scored.PerArticle) > 0 {
		score = recencyWeightedMean(scored.PerArticle)
	}
	score = clamp(score, -1, 1)

	res := &Result{
		Symbol:     symbol,
		Label:      labelFor(score),
		Score:      score,
		Signal:     signalFor(score),
		Confidence: confidenceFor(score, len(sorted)),
		Articles:   len(sorted),
		Reasoning:  scored.Reasoning,
	}
	return res, nil
}

// recencyWeightedMean gives article i weight i+1, so the latest dominates.
func recencyWeightedMean(scores []float64) float64 {
	var sum, weights float64
	for i, s := range scores {
		w := float64(i + 1)
		sum += s * w
		weights += w
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}

func labelFor(score float64) Label {
	switch {
	case score >= 0.5:
		return VeryPositive
	case score >= 0.15:
		return Positive
	case score > -0.15:
		return Neutral
	case score > -0.5:
		return Negative
	default:
		return VeryNegative
	}
}

func signalFor(score float64) signal.Label {
	switch {
	case score > 0.6:
		return signal.Buy
	case score > 0.3:
		return signal.WeakBuy
	case score < -0.6:
		return signal.Sell
	case score < -0.3:
		return signal.WeakSell
	default:
		return signal.Hold
	}
}

// confidenceFor 随分值强度与文章数量单调上升，封顶 1。
func confidenceFor(score float64, articles int) float64 {
	n := articles
	if n > 10 {
		n = 10
	}
	return math.Min(0.3+math.Abs(score)*0.5+float64(n)*0.02, 1.0)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
