package indicator

import (
	"errors"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"finagent/internal/market"
	"finagent/internal/signal"
)

// MinBars 是产出可信评分所需的最少 K 线数量。
const MinBars = 30

// ErrInsufficientData 表示历史数据不足以计算指标。
var ErrInsufficientData = errors.New("insufficient candle data")

// Settings 描述指标引擎的全部可调参数，零值字段在计算前回填默认值。
type Settings struct {
	SMA        SMASettings     `json:"sma,omitempty" mapstructure:"sma"`
	EMA        EMASettings     `json:"ema,omitempty" mapstructure:"ema"`
	RSI        RSISettings     `json:"rsi,omitempty" mapstructure:"rsi"`
	MACD       MACDSettings    `json:"macd,omitempty" mapstructure:"macd"`
	Bollinger  BBSettings      `json:"bollinger,omitempty" mapstructure:"bollinger"`
	Volume     VolumeSettings  `json:"volume,omitempty" mapstructure:"volume"`
	ATRPeriod  int             `json:"atr_period,omitempty" mapstructure:"atr_period"`
	Thresholds ScoreThresholds `json:"thresholds,omitempty" mapstructure:"thresholds"`
}

// SMASettings 描述简单均线组参数。
type SMASettings struct {
	Short int `json:"short,omitempty" mapstructure:"short"`
	Mid   int `json:"mid,omitempty" mapstructure:"mid"`
	Long  int `json:"long,omitempty" mapstructure:"long"`
}

// EMASettings 描述指数均线对参数。
type EMASettings struct {
	Fast int `json:"fast,omitempty" mapstructure:"fast"`
	Slow int `json:"slow,omitempty" mapstructure:"slow"`
}

// RSISettings 描述 RSI 指标参数。
type RSISettings struct {
	Period     int     `json:"period,omitempty" mapstructure:"period"`
	Oversold   float64 `json:"oversold,omitempty" mapstructure:"oversold"`
	Overbought float64 `json:"overbought,omitempty" mapstructure:"overbought"`
}

// MACDSettings 描述 MACD 指标参数。
type MACDSettings struct {
	Fast   int `json:"fast,omitempty" mapstructure:"fast"`
	Slow   int `json:"slow,omitempty" mapstructure:"slow"`
	Signal int `json:"signal,omitempty" mapstructure:"signal"`
}

// BBSettings 描述布林带参数。
type BBSettings struct {
	Period int     `json:"period,omitempty" mapstructure:"period"`
	StdDev float64 `json:"std_dev,omitempty" mapstructure:"std_dev"`
}

// VolumeSettings 描述成交量异动检测参数。
type VolumeSettings struct {
	Period     int     `json:"period,omitempty" mapstructure:"period"`
	SpikeRatio float64 `json:"spike_ratio,omitempty" mapstructure:"spike_ratio"`
}

// ScoreThresholds 把综合得分映射为交易标签，取值对称作用于买卖两侧。
type ScoreThresholds struct {
	StrongAt       float64 `json:"strong_at,omitempty" mapstructure:"strong_at"`
	BuyAt          float64 `json:"buy_at,omitempty" mapstructure:"buy_at"`
	WeakAt         float64 `json:"weak_at,omitempty" mapstructure:"weak_at"`
	ConfidenceSpan float64 `json:"confidence_span,omitempty" mapstructure:"confidence_span"`
}

// Reading 保存单个指标的最新值与方向判断。
type Reading struct {
	Name      string           `json:"name"`
	Value     float64          `json:"value"`
	Direction signal.Direction `json:"direction"`
	Weight    float64          `json:"weight"`
	Note      string           `json:"note,omitempty"`
}

// Result 汇总单个 symbol 的技术面评分输出。
type Result struct {
	Symbol     string       `json:"symbol"`
	Interval   string       `json:"interval"`
	Bars       int          `json:"bars"`
	Label      signal.Label `json:"label"`
	Score      float64      `json:"score"`
	Confidence float64      `json:"confidence"`
	LastClose  float64      `json:"last_close"`
	ATR        float64      `json:"atr"`
	Readings   []Reading    `json:"readings"`
}

func (s *Settings) applyDefaults() {
	if s.SMA.Short <= 0 {
		s.SMA.Short = 20
	}
	if s.SMA.Mid <= 0 {
		s.SMA.Mid = 50
	}
	if s.SMA.Long <= 0 {
		s.SMA.Long = 200
	}
	if s.EMA.Fast <= 0 {
		s.EMA.Fast = 12
	}
	if s.EMA.Slow <= 0 {
		s.EMA.Slow = 26
	}
	if s.RSI.Period <= 0 {
		s.RSI.Period = 14
	}
	if s.RSI.Oversold == 0 {
		s.RSI.Oversold = 30
	}
	if s.RSI.Overbought == 0 {
		s.RSI.Overbought = 70
	}
	if s.MACD.Fast <= 0 {
		s.MACD.Fast = 12
	}
	if s.MACD.Slow <= 0 {
		s.MACD.Slow = 26
	}
	if s.MACD.Signal <= 0 {
		s.MACD.Signal = 9
	}
	if s.Bollinger.Period <= 0 {
		s.Bollinger.Period = 20
	}
	if s.Bollinger.StdDev == 0 {
		s.Bollinger.StdDev = 2.0
	}
	if s.Volume.Period <= 0 {
		s.Volume.Period = 20
	}
	if s.Volume.SpikeRatio == 0 {
		s.Volume.SpikeRatio = 2.0
	}
	if s.ATRPeriod <= 0 {
		s.ATRPeriod = 14
	}
	if s.Thresholds.StrongAt == 0 {
		s.Thresholds.StrongAt = 3.0
	}
	if s.Thresholds.BuyAt == 0 {
		s.Thresholds.BuyAt = 1.25
	}
	if s.Thresholds.WeakAt == 0 {
		s.Thresholds.WeakAt = 0.5
	}
	if s.Thresholds.ConfidenceSpan == 0 {
		s.Thresholds.ConfidenceSpan = 2.5
	}
}

// Analyze 对一段 K 线序列计算全部指标并折算为带置信度的标签。
func Analyze(symbol, interval string, candles []market.Candle, cfg Settings) (Result, error) {
	res := Result{Symbol: symbol, Interval: interval, Bars: len(candles)}
	if len(candles) < MinBars {
		return res, fmt.Errorf("%s: have %d bars, need %d: %w", symbol, len(candles), MinBars, ErrInsufficientData)
	}
	cfg.applyDefaults()

	closes := market.Closes(candles)
	highs := market.Highs(candles)
	lows := market.Lows(candles)
	volumes := market.Volumes(candles)
	lastClose := closes[len(closes)-1]
	res.LastClose = lastClose

	var score float64
	add := func(r Reading) {
		score += r.Weight
		res.Readings = append(res.Readings, r)
	}

	// Moving average stack. Falls back to the short average alone when the
	// series is too short for the mid one.
	smaShort := lastValid(talib.Sma(closes, cfg.SMA.Short))
	if len(closes) >= cfg.SMA.Mid {
		smaMid := lastValid(talib.Sma(closes, cfg.SMA.Mid))
		r := Reading{Name: "ma_stack", Value: smaShort, Note: fmt.Sprintf("sma%d=%.4f sma%d=%.4f", cfg.SMA.Short, smaShort, cfg.SMA.Mid, smaMid)}
		switch {
		case above(lastClose, smaShort) && above(smaShort, smaMid):
			r.Direction, r.Weight = signal.Bullish, 1.0
		case below(lastClose, smaShort) && below(smaShort, smaMid):
			r.Direction, r.Weight = signal.Bearish, -1.0
		default:
			r.Direction = signal.Neutral
		}
		add(r)
	} else {
		r := Reading{Name: "ma_stack", Value: smaShort, Note: fmt.Sprintf("sma%d only, %d bars", cfg.SMA.Short, len(closes))}
		switch {
		case above(lastClose, smaShort):
			r.Direction, r.Weight = signal.Bullish, 0.5
		case below(lastClose, smaShort):
			r.Direction, r.Weight = signal.Bearish, -0.5
		default:
			r.Direction = signal.Neutral
		}
		add(r)
	}

	// Long-horizon trend filter, only when the history reaches back far enough.
	if len(closes) >= cfg.SMA.Long {
		smaMid := lastValid(talib.Sma(closes, cfg.SMA.Mid))
		smaLong := lastValid(talib.Sma(closes, cfg.SMA.Long))
		r := Reading{Name: "ma_long", Value: smaLong, Note: fmt.Sprintf("sma%d vs sma%d", cfg.SMA.Mid, cfg.SMA.Long)}
		switch {
		case above(smaMid, smaLong):
			r.Direction, r.Weight = signal.Bullish, 0.5
		case below(smaMid, smaLong):
			r.Direction, r.Weight = signal.Bearish, -0.5
		default:
			r.Direction = signal.Neutral
		}
		add(r)
	}

	// EMA pair confirms the short-term trend independent of the SMA stack.
	emaFast := lastValid(talib.Ema(closes, cfg.EMA.Fast))
	emaSlow := lastValid(talib.Ema(closes, cfg.EMA.Slow))
	{
		r := Reading{Name: "ema_trend", Value: emaFast, Note: fmt.Sprintf("ema%d=%.4f ema%d=%.4f", cfg.EMA.Fast, emaFast, cfg.EMA.Slow, emaSlow)}
		switch {
		case above(lastClose, emaFast) && above(lastClose, emaSlow):
			r.Direction, r.Weight = signal.Bullish, 1.0
		case below(lastClose, emaFast) && below(lastClose, emaSlow):
			r.Direction, r.Weight = signal.Bearish, -1.0
		default:
			r.Direction = signal.Neutral
		}
		add(r)
	}

	// RSI extremes weigh heavier than trend confirmations.
	rsiVal := lastValid(talib.Rsi(closes, cfg.RSI.Period))
	if rsiVal == 0 && flatTail(closes, cfg.RSI.Period) {
		// 零波动窗口没有涨也没有跌，talib 输出 0；按中性 50 处理。
		rsiVal = 50
	}
	{
		r := Reading{Name: "rsi", Value: rsiVal, Note: fmt.Sprintf("period=%d thresholds=%.0f/%.0f", cfg.RSI.Period, cfg.RSI.Oversold, cfg.RSI.Overbought)}
		switch {
		case rsiVal <= cfg.RSI.Oversold:
			r.Direction, r.Weight = signal.Bullish, 1.5
			r.Note += " oversold"
		case rsiVal >= cfg.RSI.Overbought:
			r.Direction, r.Weight = signal.Bearish, -1.5
			r.Note += " overbought"
		default:
			r.Direction = signal.Neutral
		}
		add(r)
	}

	// MACD counts only when the line and the cross agree in sign.
	macd, macdSignal, hist := talib.Macd(closes, cfg.MACD.Fast, cfg.MACD.Slow, cfg.MACD.Signal)
	macdVal := lastValid(macd)
	signalVal := lastValid(macdSignal)
	{
		// A floor relative to price keeps near-zero MACD noise from counting.
		floor := math.Abs(lastClose) * macdFloor
		r := Reading{Name: "macd", Value: macdVal, Note: fmt.Sprintf("signal=%.4f hist=%.4f", signalVal, lastValid(hist))}
		switch {
		case macdVal > signalVal && macdVal > floor:
			r.Direction, r.Weight = signal.Bullish, 1.0
		case macdVal < signalVal && macdVal < -floor:
			r.Direction, r.Weight = signal.Bearish, -1.0
		default:
			r.Direction = signal.Neutral
		}
		add(r)
	}

	// Bollinger band breakouts.
	upper, _, lower := talib.BBands(closes, cfg.Bollinger.Period, cfg.Bollinger.StdDev, cfg.Bollinger.StdDev, talib.SMA)
	upperVal := lastValid(upper)
	lowerVal := lastValid(lower)
	{
		r := Reading{Name: "bollinger", Value: lastClose, Note: fmt.Sprintf("upper=%.4f lower=%.4f", upperVal, lowerVal)}
		switch {
		case upperVal > 0 && lastClose > upperVal:
			r.Direction, r.Weight = signal.Bullish, 1.0
			r.Note += " upper breakout"
		case lowerVal > 0 && lastClose < lowerVal:
			r.Direction, r.Weight = signal.Bearish, -1.0
			r.Note += " lower breakdown"
		default:
			r.Direction = signal.Neutral
		}
		add(r)
	}

	// Volume spikes reinforce the direction of the bar they occur on.
	if len(volumes) > cfg.Volume.Period {
		avg := mean(volumes[len(volumes)-cfg.Volume.Period-1 : len(volumes)-1])
		lastVol := volumes[len(volumes)-1]
		lastBar := candles[len(candles)-1]
		r := Reading{Name: "volume", Value: lastVol, Note: fmt.Sprintf("avg%d=%.2f", cfg.Volume.Period, avg)}
		if avg > 0 && lastVol > avg*cfg.Volume.SpikeRatio {
			switch {
			case lastBar.Close > lastBar.Open:
				r.Direction, r.Weight = signal.Bullish, 0.5
				r.Note += " spike on up bar"
			case lastBar.Close < lastBar.Open:
				r.Direction, r.Weight = signal.Bearish, -0.5
				r.Note += " spike on down bar"
			default:
				r.Direction = signal.Neutral
			}
		} else {
			r.Direction = signal.Neutral
		}
		add(r)
	}

	res.ATR = lastValid(talib.Atr(highs, lows, closes, cfg.ATRPeriod))
	res.Score = score
	res.Label = cfg.Thresholds.labelFor(score)
	res.Confidence = cfg.Thresholds.confidenceFor(res.Label, score)
	return res, nil
}

func (t ScoreThresholds) labelFor(score float64) signal.Label {
	switch {
	case score > t.StrongAt:
		return signal.StrongBuy
	case score > t.BuyAt:
		return signal.Buy
	case score > t.WeakAt:
		return signal.WeakBuy
	case score < -t.StrongAt:
		return signal.StrongSell
	case score < -t.BuyAt:
		return signal.Sell
	case score < -t.WeakAt:
		return signal.WeakSell
	default:
		return signal.Hold
	}
}

// confidenceFor 把得分绝对值折算为 [0,1] 置信度，HOLD 固定给中性置信度。
func (t ScoreThresholds) confidenceFor(label signal.Label, score float64) float64 {
	if label == signal.Hold {
		return 0.5
	}
	return math.Min(math.Abs(score)/t.ConfidenceSpan, 1.0)
}

// ATRSeries 单独计算 ATR，供风控在指标评分之外估算止损距离。
func ATRSeries(candles []market.Candle, period int) ([]float64, error) {
	if period <= 0 {
		period = 14
	}
	if len(candles) <= period {
		return nil, fmt.Errorf("atr: have %d bars, need %d: %w", len(candles), period+1, ErrInsufficientData)
	}
	return talib.Atr(market.Highs(candles), market.Lows(candles), market.Closes(candles), period), nil
}

// deadband mirrors the tolerance used when comparing price with a moving
// average: anything inside ±0.2% reads as "touching".
const deadband = 0.002

// macdFloor 是 MACD 视为有效的最小幅度（相对最新收盘价）。
const macdFloor = 0.0005

func above(v, ref float64) bool {
	return ref != 0 && v > ref*(1+deadband)
}

func below(v, ref float64) bool {
	return ref != 0 && v < ref*(1-deadband)
}

// flatTail 报告最近 period+1 个收盘价是否完全无变动。
func flatTail(closes []float64, period int) bool {
	if len(closes) < period+1 {
		return false
	}
	tail := closes[len(closes)-period-1:]
	for _, v := range tail[1:] {
		if v != tail[0] {
			return false
		}
	}
	return true
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) && !math.IsInf(series[i], 0) {
			return series[i]
		}
	}
	return 0
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
