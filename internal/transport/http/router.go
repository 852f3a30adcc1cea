package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"finagent/internal/agent"
	"finagent/internal/analysis/indicator"
	"finagent/internal/logger"
	"finagent/internal/risk"
	"finagent/internal/store"
	"finagent/internal/store/model"
)

// errBadConfig 标记配置更新中的校验类错误，统一映射为 400。
var errBadConfig = errors.New("invalid agent config")

// Router 暴露代理控制、交易查询与风控预设接口。
type Router struct {
	Engine   *agent.Engine
	Store    *store.Store
	Profiles *risk.Registry
}

func NewRouter(engine *agent.Engine, st *store.Store, profiles *risk.Registry) *Router {
	return &Router{Engine: engine, Store: st, Profiles: profiles}
}

// Register 将全部路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.POST("/analyze", r.handleAnalyze)

	group.POST("/agent/run", r.handleAgentRun)
	group.GET("/agent/status", r.handleAgentStatus)
	group.GET("/agent/config", r.handleGetConfig)
	group.PUT("/agent/config", r.handleUpdateConfig)
	group.POST("/agent/confirm/:id", r.handleConfirmTrade)
	group.POST("/agent/cancel/:id", r.handleCancelTrade)
	group.GET("/agent/trades", r.handleListTrades)

	group.GET("/trades", r.handleListTrades)
	group.GET("/trades/:id", r.handleTradeByID)
	group.POST("/trades/:id/confirm", r.handleConfirmTrade)
	group.POST("/trades/:id/cancel", r.handleCancelTrade)

	group.GET("/watchlist", r.handleWatchlist)
	group.POST("/watchlist", r.handleAddWatchSymbol)
	group.DELETE("/watchlist/:symbol", r.handleRemoveWatchSymbol)

	group.GET("/risk/profiles", r.handleRiskProfiles)
}

type analyzeRequest struct {
	Symbol         string   `json:"symbol" binding:"required"`
	PortfolioValue *float64 `json:"portfolio_value"`
	RiskPerTrade   *float64 `json:"risk_per_trade"`
	MaxPositionPct *float64 `json:"max_position_pct"`
	MinConfidence  *float64 `json:"min_confidence"`
}

// defaultAdHocPortfolio 是未提供 portfolio_value 时的假想组合市值。
const defaultAdHocPortfolio = 10000.0

// handleAnalyze 对单个 symbol 做一次只读分析：信号合成加一轮风控评估，
// 组合参数取自请求，不读券商账户也不产生任何交易记录。
func (r *Router) handleAnalyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol 不能为空"})
		return
	}
	sig, err := r.Engine.Analyzer.Analyze(c.Request.Context(), symbol)
	if err != nil {
		if errors.Is(err, indicator.ErrInsufficientData) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		logger.Errorf("[api] analyze failed ip=%s symbol=%s err=%v", c.ClientIP(), symbol, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	limits := agent.DefaultConfig().Limits()
	limits.Whitelist = nil
	if req.RiskPerTrade != nil {
		limits.RiskPerTrade = *req.RiskPerTrade
	}
	if req.MaxPositionPct != nil {
		limits.MaxPositionPct = *req.MaxPositionPct
	}
	if req.MinConfidence != nil {
		limits.MinConfidence = *req.MinConfidence
	}
	value := defaultAdHocPortfolio
	if req.PortfolioValue != nil && *req.PortfolioValue > 0 {
		value = *req.PortfolioValue
	}
	dec := r.Engine.Gate.Validate(sig, risk.Portfolio{Value: value, Cash: value}, limits)
	c.JSON(http.StatusOK, gin.H{"signal": sig, "risk": dec})
}

func (r *Router) handleAgentRun(c *gin.Context) {
	summary, err := r.Engine.RunCycle(c.Request.Context())
	if err != nil {
		logger.Errorf("[api] agent run failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "summary": summary})
		return
	}
	if summary.Status == agent.RunAlreadyRunning {
		c.JSON(http.StatusConflict, gin.H{"summary": summary})
		return
	}
	logger.Infof("[api] agent run ip=%s status=%s analyzed=%d created=%d executed=%d",
		c.ClientIP(), summary.Status, summary.SymbolsAnalyzed, summary.TradesCreated, summary.TradesExecuted)
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

func (r *Router) handleAgentStatus(c *gin.Context) {
	report, err := r.Engine.Status(c.Request.Context())
	if err != nil {
		logger.Errorf("[api] agent status failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (r *Router) handleGetConfig(c *gin.Context) {
	var defaults model.AgentConfigModel
	if err := agent.DefaultConfig().ApplyToModel(&defaults); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	row, err := r.Store.GetOrCreateAgentConfig(c.Request.Context(), defaults)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"config": agent.ConfigFromModel(row)})
}

type configUpdateRequest struct {
	Enabled           *bool     `json:"enabled"`
	Mode              *string   `json:"mode"`
	RiskProfile       *string   `json:"risk_profile"`
	MaxTradePct       *float64  `json:"max_trade_pct"`
	MaxPositionPct    *float64  `json:"max_position_pct"`
	DailyLossLimitPct *float64  `json:"daily_loss_limit_pct"`
	ConfirmAboveUSD   *float64  `json:"confirm_above_usd"`
	MinConfidence     *float64  `json:"min_confidence"`
	RiskPerTrade      *float64  `json:"risk_per_trade"`
	Whitelist         *[]string `json:"symbol_whitelist"`
	CheckIntervalMin  *int      `json:"check_interval_min"`
	Version           *int64    `json:"version"`
}

// handleUpdateConfig 更新代理配置。请求含 risk_profile 时先整体套预设，
// 再应用同一请求中的逐项覆盖，最后整体校验后落库。
func (r *Router) handleUpdateConfig(c *gin.Context) {
	var req configUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var defaults model.AgentConfigModel
	if err := agent.DefaultConfig().ApplyToModel(&defaults); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if _, err := r.Store.GetOrCreateAgentConfig(c.Request.Context(), defaults); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	row, err := r.Store.UpdateAgentConfig(c.Request.Context(), func(m *model.AgentConfigModel) error {
		cfg := agent.ConfigFromModel(m)
		if req.Version != nil && *req.Version != cfg.Version {
			return fmt.Errorf("version %d is stale (current %d): %w", *req.Version, cfg.Version, store.ErrVersionConflict)
		}
		if req.RiskProfile != nil {
			p, ok := r.Profiles.Profile(*req.RiskProfile)
			if !ok {
				return fmt.Errorf("unknown risk profile %q: %w", *req.RiskProfile, errBadConfig)
			}
			cfg.ApplyProfile(p)
		}
		if req.Enabled != nil {
			cfg.Enabled = *req.Enabled
		}
		if req.Mode != nil {
			cfg.Mode = agent.Mode(strings.ToLower(strings.TrimSpace(*req.Mode)))
		}
		if req.MaxTradePct != nil {
			cfg.MaxTradePct = *req.MaxTradePct
		}
		if req.MaxPositionPct != nil {
			cfg.MaxPositionPct = *req.MaxPositionPct
		}
		if req.DailyLossLimitPct != nil {
			cfg.DailyLossLimitPct = *req.DailyLossLimitPct
		}
		if req.ConfirmAboveUSD != nil {
			cfg.ConfirmAboveUSD = *req.ConfirmAboveUSD
		}
		if req.MinConfidence != nil {
			cfg.MinConfidence = *req.MinConfidence
		}
		if req.RiskPerTrade != nil {
			cfg.RiskPerTrade = *req.RiskPerTrade
		}
		if req.Whitelist != nil {
			cfg.Whitelist = *req.Whitelist
		}
		if req.CheckIntervalMin != nil {
			cfg.CheckIntervalMin = *req.CheckIntervalMin
		}
		cfg.NormalizeWhitelist()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("%v: %w", err, errBadConfig)
		}
		return cfg.ApplyToModel(m)
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrVersionConflict):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, errBadConfig):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			logger.Errorf("[api] update config failed ip=%s err=%v", c.ClientIP(), err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	logger.Infof("[api] agent config updated ip=%s version=%d", c.ClientIP(), row.Version)
	c.JSON(http.StatusOK, gin.H{"config": agent.ConfigFromModel(row)})
}

func (r *Router) handleListTrades(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	filter := store.TradeFilter{
		Symbol: strings.ToUpper(strings.TrimSpace(c.Query("symbol"))),
		Status: model.TradeStatus(strings.ToLower(strings.TrimSpace(c.Query("status")))),
		Limit:  limit,
		Offset: offset,
	}
	trades, total, err := r.Store.ListTrades(c.Request.Context(), filter)
	if err != nil {
		logger.Errorf("[api] list trades failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trades":      trades,
		"total_count": total,
		"limit":       filter.Limit,
		"offset":      filter.Offset,
	})
}

func (r *Router) handleTradeByID(c *gin.Context) {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	if id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid trade id"})
		return
	}
	trade, err := r.Store.TradeByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "trade not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trade": trade})
}

func (r *Router) handleConfirmTrade(c *gin.Context) {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	if id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid trade id"})
		return
	}
	trade, err := r.Engine.Confirm(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "trade not found"})
		case errors.Is(err, agent.ErrNotConfirmable):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			logger.Errorf("[api] confirm trade failed ip=%s id=%d err=%v", c.ClientIP(), id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	logger.Infof("[api] trade confirmed ip=%s id=%d status=%s", c.ClientIP(), id, trade.Status)
	c.JSON(http.StatusOK, gin.H{"trade": trade})
}

func (r *Router) handleCancelTrade(c *gin.Context) {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	if id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid trade id"})
		return
	}
	trade, err := r.Engine.CancelTrade(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "trade not found"})
		case errors.Is(err, store.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			logger.Errorf("[api] cancel trade failed ip=%s id=%d err=%v", c.ClientIP(), id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	logger.Infof("[api] trade cancelled ip=%s id=%d", c.ClientIP(), id)
	c.JSON(http.StatusOK, gin.H{"trade": trade})
}

func (r *Router) handleWatchlist(c *gin.Context) {
	symbols, err := r.Store.Watchlist(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbols": symbols})
}

type watchlistRequest struct {
	Symbol string `json:"symbol" binding:"required"`
}

func (r *Router) handleAddWatchSymbol(c *gin.Context) {
	var req watchlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol 不能为空"})
		return
	}
	if err := r.Store.AddWatchSymbol(c.Request.Context(), symbol); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] watchlist add ip=%s symbol=%s", c.ClientIP(), symbol)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "symbol": symbol})
}

func (r *Router) handleRemoveWatchSymbol(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol 不能为空"})
		return
	}
	if err := r.Store.RemoveWatchSymbol(c.Request.Context(), symbol); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("symbol %s not in watchlist", symbol)})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] watchlist remove ip=%s symbol=%s", c.ClientIP(), symbol)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r *Router) handleRiskProfiles(c *gin.Context) {
	snap := r.Profiles.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"version":  snap.Version,
		"profiles": snap.Profiles,
	})
}
