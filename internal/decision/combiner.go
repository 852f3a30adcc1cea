package decision

import (
	"math"
	"time"

	"finagent/internal/analysis/indicator"
	"finagent/internal/sentiment"
	"finagent/internal/signal"
)

// 技术面与基本面（情绪）的固定权重；情绪缺席时技术面权重归一为 1。
const (
	technicalWeight   = 0.6
	fundamentalWeight = 0.4
)

// Composite 是指标与情绪合并后的最终信号。
type Composite struct {
	Symbol      string            `json:"symbol"`
	Label       signal.Label      `json:"label"`
	Score       float64           `json:"score"`
	Confidence  float64           `json:"confidence"`
	Agreement   signal.Agreement  `json:"agreement"`
	Technical   indicator.Result  `json:"technical"`
	Sentiment   *sentiment.Result `json:"sentiment,omitempty"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// Combine 合并技术面结果与可选的情绪结果。纯函数，不做任何 I/O。
func Combine(tech indicator.Result, fund *sentiment.Result, now time.Time) Composite {
	techScore := tech.Label.Score()

	out := Composite{
		Symbol:      tech.Symbol,
		Technical:   tech,
		Sentiment:   fund,
		GeneratedAt: now,
	}

	if fund == nil {
		// 单一来源：权重归一，彼此无从分歧。
		out.Score = techScore * tech.Confidence
		out.Confidence = tech.Confidence
		out.Agreement = signal.AgreementHigh
		out.Label = labelForCombined(out.Score)
		return out
	}

	fundScore := fund.Signal.Score()
	out.Score = technicalWeight*techScore*tech.Confidence + fundamentalWeight*fundScore*fund.Confidence
	out.Confidence = technicalWeight*tech.Confidence + fundamentalWeight*fund.Confidence
	out.Agreement = agreementFor(techScore, fundScore)

	// Opposite-signed sources shrink confidence toward zero, more so the
	// further apart they are.
	if techScore*fundScore < 0 {
		out.Confidence *= 1 - math.Min(math.Abs(techScore-fundScore)/4, 0.5)
	}
	out.Confidence = math.Min(math.Max(out.Confidence, 0), 1)
	out.Label = labelForCombined(out.Score)
	return out
}

func labelForCombined(score float64) signal.Label {
	switch {
	case score > 1.5:
		return signal.StrongBuy
	case score > 0.5:
		return signal.Buy
	case score > 0.2:
		return signal.WeakBuy
	case score < -1.5:
		return signal.StrongSell
	case score < -0.5:
		return signal.Sell
	case score < -0.2:
		return signal.WeakSell
	default:
		return signal.Hold
	}
}

func agreementFor(techScore, fundScore float64) signal.Agreement {
	diff := math.Abs(techScore - fundScore)
	switch {
	case diff < 0.5:
		return signal.AgreementHigh
	case diff < 1.5:
		return signal.AgreementModerate
	default:
		return signal.AgreementLow
	}
}
