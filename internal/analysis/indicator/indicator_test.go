package indicator

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finagent/internal/market"
	"finagent/internal/signal"
)

func makeCandles(n int, closeAt func(i int) float64) []market.Candle {
	base := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)
	out := make([]market.Candle, n)
	for i := 0; i < n; i++ {
		c := closeAt(i)
		prev := c
		if i > 0 {
			prev = closeAt(i - 1)
		}
		hi, lo := c, prev
		if lo > hi {
			hi, lo = lo, hi
		}
		out[i] = market.Candle{
			OpenTime:  base.Add(time.Duration(i) * 24 * time.Hour).UnixMilli(),
			CloseTime: base.Add(time.Duration(i)*24*time.Hour + 23*time.Hour).UnixMilli(),
			Open:      prev,
			High:      hi * 1.001,
			Low:       lo * 0.999,
			Close:     c,
			Volume:    1000,
		}
	}
	return out
}

func TestAnalyzeInsufficientData(t *testing.T) {
	candles := makeCandles(MinBars-1, func(i int) float64 { return 100 + float64(i) })
	_, err := Analyze("AAPL", "1d", candles, Settings{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientData))
}

func TestAnalyzeBullishTrend(t *testing.T) {
	// 90 monotonically rising bars: a clean trend should come out as an
	// actionable buy even with the RSI pinned overbought.
	candles := makeCandles(90, func(i int) float64 { return 100 + float64(i) })
	res, err := Analyze("AAPL", "1d", candles, Settings{})
	require.NoError(t, err)

	assert.True(t, res.Label == signal.Buy || res.Label == signal.StrongBuy, "got %s", res.Label)
	assert.Greater(t, res.Confidence, 0.5)
	assert.Greater(t, res.Score, 0.0)
	assert.Greater(t, res.ATR, 0.0)
	assert.Equal(t, 189.0, res.LastClose)

	byName := readingsByName(res)
	assert.Equal(t, signal.Bullish, byName["ma_stack"].Direction)
	assert.Equal(t, signal.Bullish, byName["ema_trend"].Direction)
	assert.Equal(t, signal.Bearish, byName["rsi"].Direction, "monotonic rise pins RSI overbought")
	assert.Equal(t, signal.Bullish, byName["macd"].Direction)
}

func TestAnalyzeBearishTrend(t *testing.T) {
	candles := makeCandles(90, func(i int) float64 { return 200 - float64(i) })
	res, err := Analyze("AAPL", "1d", candles, Settings{})
	require.NoError(t, err)

	assert.True(t, res.Label.IsSell(), "got %s", res.Label)
	assert.Less(t, res.Score, 0.0)

	byName := readingsByName(res)
	assert.Equal(t, signal.Bearish, byName["ma_stack"].Direction)
	assert.Equal(t, signal.Bearish, byName["macd"].Direction)
	assert.Equal(t, signal.Bullish, byName["rsi"].Direction, "monotonic fall pins RSI oversold")
}

func TestAnalyzeSidewaysMarket(t *testing.T) {
	// Tiny oscillation around 100: every reading should sit inside its
	// deadband and the verdict must be a neutral hold.
	candles := makeCandles(90, func(i int) float64 {
		if i%2 == 0 {
			return 100.0
		}
		return 100.2
	})
	res, err := Analyze("AAPL", "1d", candles, Settings{})
	require.NoError(t, err)

	assert.Equal(t, signal.Hold, res.Label)
	assert.InDelta(t, 0.0, res.Score, 1e-9)
	assert.Equal(t, 0.5, res.Confidence)

	byName := readingsByName(res)
	assert.InDelta(t, 50.0, byName["rsi"].Value, 10.0)
	assert.InDelta(t, 0.0, byName["macd"].Value, 0.1)
}

func TestAnalyzeFlatMarket(t *testing.T) {
	// Constant closes produce zero gains and zero losses, where talib
	// degenerates RSI to 0. That must read as neutral, not oversold.
	candles := makeCandles(90, func(int) float64 { return 100.0 })
	res, err := Analyze("AAPL", "1d", candles, Settings{})
	require.NoError(t, err)

	assert.Equal(t, signal.Hold, res.Label)
	assert.InDelta(t, 0.0, res.Score, 1e-9)
	assert.Equal(t, 0.5, res.Confidence)

	byName := readingsByName(res)
	assert.Equal(t, signal.Neutral, byName["rsi"].Direction)
	assert.InDelta(t, 50.0, byName["rsi"].Value, 1e-9)
}

func TestAnalyzeVolumeSpike(t *testing.T) {
	candles := makeCandles(90, func(i int) float64 { return 100 + float64(i) })
	candles[89].Volume = 5000

	res, err := Analyze("AAPL", "1d", candles, Settings{})
	require.NoError(t, err)

	byName := readingsByName(res)
	require.Contains(t, byName, "volume")
	assert.Equal(t, signal.Bullish, byName["volume"].Direction)
	assert.Equal(t, 0.5, byName["volume"].Weight)
}

func TestAnalyzeShortHistoryUsesShortAverageOnly(t *testing.T) {
	candles := makeCandles(35, func(i int) float64 { return 100 + float64(i) })
	res, err := Analyze("AAPL", "1d", candles, Settings{})
	require.NoError(t, err)

	byName := readingsByName(res)
	assert.Equal(t, 0.5, byName["ma_stack"].Weight, "35 bars cannot feed the 50-bar average")
	_, hasLong := byName["ma_long"]
	assert.False(t, hasLong)
}

func TestLabelThresholdsAreSymmetric(t *testing.T) {
	th := ScoreThresholds{StrongAt: 3.0, BuyAt: 1.25, WeakAt: 0.5, ConfidenceSpan: 2.5}
	cases := []struct {
		score float64
		want  signal.Label
	}{
		{3.5, signal.StrongBuy},
		{2.0, signal.Buy},
		{0.75, signal.WeakBuy},
		{0.0, signal.Hold},
		{-0.75, signal.WeakSell},
		{-2.0, signal.Sell},
		{-3.5, signal.StrongSell},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, th.labelFor(tc.score), "score=%f", tc.score)
	}
}

func TestConfidenceCappedAtOne(t *testing.T) {
	th := ScoreThresholds{StrongAt: 3.0, BuyAt: 1.25, WeakAt: 0.5, ConfidenceSpan: 2.5}
	assert.Equal(t, 1.0, th.confidenceFor(signal.StrongBuy, 5.0))
	assert.Equal(t, 0.5, th.confidenceFor(signal.Hold, 0.0))
	assert.InDelta(t, 0.6, th.confidenceFor(signal.Buy, 1.5), 1e-9)
}

func TestATRSeries(t *testing.T) {
	candles := makeCandles(40, func(i int) float64 { return 100 + float64(i) })
	series, err := ATRSeries(candles, 14)
	require.NoError(t, err)
	assert.Len(t, series, 40)
	assert.Greater(t, series[len(series)-1], 0.0)

	_, err = ATRSeries(candles[:10], 14)
	assert.True(t, errors.Is(err, ErrInsufficientData))
}

func readingsByName(res Result) map[string]Reading {
	out := make(map[string]Reading, len(res.Readings))
	for _, r := range res.Readings {
		out[r.Name] = r
	}
	return out
}
