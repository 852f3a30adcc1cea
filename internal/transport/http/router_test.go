package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finagent/internal/agent"
	"finagent/internal/gateway/exchange"
	"finagent/internal/gateway/paper"
	"finagent/internal/market"
	"finagent/internal/risk"
	"finagent/internal/store"
	"finagent/internal/store/model"
)

type stubSource struct {
	candles map[string][]market.Candle
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	candles, ok := s.candles[symbol]
	if !ok {
		return nil, fmt.Errorf("no fixture for %s", symbol)
	}
	return candles, nil
}

func (s *stubSource) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	candles := s.candles[symbol]
	if len(candles) == 0 {
		return 0, fmt.Errorf("no fixture for %s", symbol)
	}
	return candles[len(candles)-1].Close, nil
}

func risingCandles(n int) []market.Candle {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, n)
	for i := range out {
		close := 100.0 + float64(i)
		open := base.Add(time.Duration(i) * 24 * time.Hour)
		out[i] = market.Candle{
			OpenTime:  open.UnixMilli(),
			CloseTime: open.Add(24*time.Hour - time.Millisecond).UnixMilli(),
			Open:      close - 0.5,
			High:      close + 1,
			Low:       close - 1,
			Close:     close,
			Volume:    1000,
		}
	}
	return out
}

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	profiles, err := risk.NewRegistry("")
	require.NoError(t, err)

	pb := paper.New(paper.DefaultStartingCash)
	eng := &agent.Engine{
		Store:    st,
		Gate:     risk.NewGate(),
		Profiles: profiles,
		Analyzer: &agent.Analyzer{Prices: &stubSource{candles: map[string][]market.Candle{"AAPL": risingCandles(90)}}},
		Brokers:  map[agent.Mode]exchange.Broker{agent.ModePaper: pb, agent.ModeLive: pb},
		Loc:      time.UTC,
	}
	srv, err := NewServer(ServerConfig{Router: NewRouter(eng, st, profiles)})
	require.NoError(t, err)
	return srv, st
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetConfigReturnsDefaults(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/api/agent/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Config agent.Config `json:"config"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Config.Enabled)
	assert.Equal(t, agent.ModeAdvisory, resp.Config.Mode)
	assert.Equal(t, "moderate", resp.Config.RiskProfile)
}

func TestUpdateConfigPresetThenOverride(t *testing.T) {
	srv, _ := newTestServer(t)

	// 预设先套用，同一请求中的单项覆盖后生效。
	rec := doJSON(t, srv, http.MethodPut, "/api/agent/config", map[string]any{
		"risk_profile":  "conservative",
		"max_trade_pct": 3.0,
		"enabled":       true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Config agent.Config `json:"config"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Config.Enabled)
	assert.Equal(t, "conservative", resp.Config.RiskProfile)
	assert.InDelta(t, 3.0, resp.Config.MaxTradePct, 1e-9)
	// Other fields come straight from the conservative preset.
	assert.InDelta(t, 10.0, resp.Config.MaxPositionPct, 1e-9)
	assert.InDelta(t, 100.0, resp.Config.ConfirmAboveUSD, 1e-9)
}

func TestUpdateConfigRejectsUnknownProfile(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPut, "/api/agent/config", map[string]any{"risk_profile": "yolo"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateConfigRejectsInvalidValues(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPut, "/api/agent/config", map[string]any{"max_trade_pct": -1.0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateConfigVersionConflict(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPut, "/api/agent/config", map[string]any{"min_confidence": 0.4})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Config agent.Config `json:"config"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	stale := resp.Config.Version - 1
	rec = doJSON(t, srv, http.MethodPut, "/api/agent/config", map[string]any{
		"min_confidence": 0.5,
		"version":        stale,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAnalyzeEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/analyze", map[string]any{
		"symbol":          "aapl",
		"portfolio_value": 10000.0,
		"risk_per_trade":  0.02,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Signal struct {
			Symbol string  `json:"symbol"`
			Label  string  `json:"label"`
			Score  float64 `json:"score"`
		} `json:"signal"`
		Risk struct {
			Approved bool   `json:"approved"`
			Status   string `json:"status"`
			Quantity int64  `json:"quantity"`
		} `json:"risk"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "AAPL", resp.Signal.Symbol)
	assert.Contains(t, []string{"BUY", "STRONG_BUY"}, resp.Signal.Label)
	// risk_per_trade sizes 50 shares; the 10% trade cap trims it to 5 at close 189.
	assert.True(t, resp.Risk.Approved, rec.Body.String())
	assert.Equal(t, int64(5), resp.Risk.Quantity)
	assert.Equal(t, string(risk.StatusPendingConfirmation), resp.Risk.Status)
}

func TestAnalyzeEndpointUpstreamFailure(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/analyze", map[string]any{"symbol": "NOPE"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestAgentRunEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/agent/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Summary agent.RunSummary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, agent.RunDisabled, resp.Summary.Status)
}

func TestTradeLookupAndCancel(t *testing.T) {
	srv, st := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/trades/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	trade := &model.TradeModel{Symbol: "AAPL", Action: "buy", Quantity: 2, Price: 100, Status: model.TradeStatusPending}
	require.NoError(t, st.CreateTrade(context.Background(), trade))

	rec = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/trades/%d", trade.ID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/trades/%d/cancel", trade.ID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Cancelling twice hits the terminal-state guard.
	rec = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/trades/%d/cancel", trade.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestConfirmNonPendingTradeConflicts(t *testing.T) {
	srv, st := newTestServer(t)
	trade := &model.TradeModel{Symbol: "AAPL", Action: "buy", Quantity: 2, Price: 100, Status: model.TradeStatusAdvisory}
	require.NoError(t, st.CreateTrade(context.Background(), trade))

	rec := doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/trades/%d/confirm", trade.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAgentScopedTradeRoutes(t *testing.T) {
	srv, st := newTestServer(t)
	trade := &model.TradeModel{Symbol: "AAPL", Action: "buy", Quantity: 2, Price: 100, Status: model.TradeStatusPending}
	require.NoError(t, st.CreateTrade(context.Background(), trade))

	rec := doJSON(t, srv, http.MethodGet, "/api/agent/trades?status=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listResp struct {
		Trades []model.TradeModel `json:"trades"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listResp))
	require.Len(t, listResp.Trades, 1)

	rec = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/agent/cancel/%d", trade.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/agent/confirm/%d", trade.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWatchlistCRUD(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/watchlist", map[string]any{"symbol": "msft"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/watchlist", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Symbols []string `json:"symbols"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"MSFT"}, resp.Symbols)

	rec = doJSON(t, srv, http.MethodDelete, "/api/watchlist/TSLA", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, srv, http.MethodDelete, "/api/watchlist/MSFT", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/watchlist", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Symbols)
}

func TestRiskProfilesEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/api/risk/profiles", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Profiles map[string]risk.Profile `json:"profiles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Profiles, "conservative")
	assert.Contains(t, resp.Profiles, "moderate")
	assert.Contains(t, resp.Profiles, "aggressive")
}
