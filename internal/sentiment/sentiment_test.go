package sentiment

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finagent/internal/market"
	"finagent/internal/signal"
)

type stubScorer struct {
	scored Scored
	err    error
	calls  int
}

func (s *stubScorer) Name() string { return "stub" }

func (s *stubScorer) Score(ctx context.Context, symbol string, items []market.NewsItem) (Scored, error) {
	s.calls++
	return s.scored, s.err
}

func newsItems(n int) []market.NewsItem {
	base := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	out := make([]market.NewsItem, n)
	for i := 0; i < n; i++ {
		out[i] = market.NewsItem{
			Headline:    fmt.Sprintf("headline %d", i),
			Source:      "wire",
			PublishedAt: base.Add(time.Duration(i) * time.Hour),
		}
	}
	return out
}

func TestEstimateDegradedModeReturnsNil(t *testing.T) {
	e := NewEstimator(nil)
	res, err := e.Estimate(context.Background(), "AAPL", newsItems(3))
	assert.NoError(t, err)
	assert.Nil(t, res, "no scorer configured is the degraded mode, not an error")

	e = NewEstimator(&stubScorer{})
	res, err = e.Estimate(context.Background(), "AAPL", nil)
	assert.NoError(t, err)
	assert.Nil(t, res, "zero articles is the degraded mode")
}

func TestEstimateWrapsTransientErrors(t *testing.T) {
	e := NewEstimator(&stubScorer{err: errors.New("upstream 503")})
	res, err := e.Estimate(context.Background(), "AAPL", newsItems(2))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
}

func TestEstimateAggregateScore(t *testing.T) {
	e := NewEstimator(&stubScorer{scored: Scored{Score: 0.7, Reasoning: "strong earnings"}})
	res, err := e.Estimate(context.Background(), "AAPL", newsItems(4))
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, VeryPositive, res.Label)
	assert.Equal(t, signal.Buy, res.Signal)
	assert.Equal(t, 0.7, res.Score)
	assert.Equal(t, 4, res.Articles)
	assert.Equal(t, "strong earnings", res.Reasoning)
	assert.Greater(t, res.Confidence, 0.5)
	assert.LessOrEqual(t, res.Confidence, 1.0)
}

func TestEstimateRecencyWeightedMean(t *testing.T) {
	// Later articles weigh more: [-1, -1, 1] → (-1-2+3)/6 = 0.
	scorer := &stubScorer{scored: Scored{Score: 0.9, PerArticle: []float64{-1, -1, 1}}}
	e := NewEstimator(scorer)
	res, err := e.Estimate(context.Background(), "AAPL", newsItems(3))
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.InDelta(t, 0.0, res.Score, 1e-9, "per-article detail overrides the aggregate score")
	assert.Equal(t, Neutral, res.Label)
	assert.Equal(t, signal.Hold, res.Signal)
}

func TestEstimateClampsScore(t *testing.T) {
	e := NewEstimator(&stubScorer{scored: Scored{Score: 3.2}})
	res, err := e.Estimate(context.Background(), "AAPL", newsItems(1))
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Score)
}

func TestLabelBands(t *testing.T) {
	cases := []struct {
		score float64
		want  Label
	}{
		{0.8, VeryPositive},
		{0.5, VeryPositive},
		{0.3, Positive},
		{0.0, Neutral},
		{-0.1, Neutral},
		{-0.3, Negative},
		{-0.5, VeryNegative},
		{-0.9, VeryNegative},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, labelFor(tc.score), "score=%f", tc.score)
	}
}

func TestSignalMapping(t *testing.T) {
	assert.Equal(t, signal.Buy, signalFor(0.7))
	assert.Equal(t, signal.WeakBuy, signalFor(0.4))
	assert.Equal(t, signal.Hold, signalFor(0.2))
	assert.Equal(t, signal.Hold, signalFor(-0.2))
	assert.Equal(t, signal.WeakSell, signalFor(-0.4))
	assert.Equal(t, signal.Sell, signalFor(-0.7))
}

func TestParseReply(t *testing.T) {
	raw := "Here you go:\n```json\n{\"score\": 0.45, \"reasoning\": \"upbeat guidance\", \"articles\": [0.2, 0.7]}\n```"
	scored, err := parseReply(raw)
	require.NoError(t, err)
	assert.Equal(t, 0.45, scored.Score)
	assert.Equal(t, "upbeat guidance", scored.Reasoning)
	assert.Equal(t, []float64{0.2, 0.7}, scored.PerArticle)
}

func TestParseReplyRejectsMalformed(t *testing.T) {
	_, err := parseReply("the market feels bullish today")
	assert.Error(t, err)

	_, err = parseReply(`{"reasoning": "missing score"}`)
	assert.Error(t, err)

	_, err = parseReply(`{"score": 7, "reasoning": "out of range"}`)
	assert.Error(t, err)
}

func TestTruncateCutsOnRuneBoundary(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))

	// 业绩 is 6 bytes; a 7-byte cap cannot split the second rune.
	got := truncate("业绩超预期", 7)
	assert.True(t, utf8.ValidString(got), "got %q", got)
	assert.Equal(t, "业绩…", got)

	got = truncate("abc业绩", 4)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "abc…", got)
}
