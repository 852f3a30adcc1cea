package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"finagent/internal/analysis/indicator"
	"finagent/internal/decision"
	"finagent/internal/gateway/exchange"
	"finagent/internal/logger"
	"finagent/internal/risk"
	"finagent/internal/signal"
	"finagent/internal/store"
	"finagent/internal/store/model"
)

// RunStatus 是一次代理运行的最终状态。
type RunStatus string

const (
	RunDisabled       RunStatus = "disabled"
	RunKilled         RunStatus = "killed"
	RunNoSymbols      RunStatus = "no_symbols"
	RunAlreadyRunning RunStatus = "already_running"
	RunCompleted      RunStatus = "completed"
)

// ErrNotConfirmable 表示交易不处于可确认状态。
var ErrNotConfirmable = errors.New("trade is not awaiting confirmation")

// SymbolError 记录单个 symbol 的分析失败，不影响其余 symbol。
type SymbolError struct {
	Symbol string `json:"symbol"`
	Err    string `json:"error"`
}

// RunSummary 是一次运行的摘要。
type RunSummary struct {
	Status          RunStatus     `json:"status"`
	SymbolsAnalyzed int           `json:"symbols_analyzed"`
	TradesCreated   int           `json:"trades_created"`
	TradesExecuted  int           `json:"trades_executed"`
	Errors          []SymbolError `json:"errors,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      time.Time     `json:"finished_at"`
}

// Engine 是交易代理的编排核心：分析并行、风控与执行串行。
type Engine struct {
	Store    *store.Store
	Gate     *risk.Gate
	Profiles *risk.Registry
	Analyzer *Analyzer
	Brokers  map[Mode]exchange.Broker
	Loc      *time.Location
	Parallel int

	runMu sync.Mutex
}

type analysisOutcome struct {
	symbol string
	sig    decision.Composite
	err    error
}

// RunCycle 执行一次完整的代理循环。同一时刻只允许一次运行，重入时
// 返回 already_running 而不是排队。
func (e *Engine) RunCycle(ctx context.Context) (RunSummary, error) {
	summary := RunSummary{StartedAt: time.Now()}
	if !e.runMu.TryLock() {
		summary.Status = RunAlreadyRunning
		summary.FinishedAt = time.Now()
		return summary, nil
	}
	defer e.runMu.Unlock()

	cfg, err := e.loadConfig(ctx)
	if err != nil {
		summary.FinishedAt = time.Now()
		return summary, err
	}
	limits := cfg.Limits()

	if !cfg.Enabled {
		return e.finishRun(ctx, summary, RunDisabled), nil
	}

	port, err := e.portfolio(ctx, cfg.Mode)
	if err != nil {
		summary.FinishedAt = time.Now()
		return summary, fmt.Errorf("portfolio snapshot: %w", err)
	}
	if risk.KillSwitchTripped(port, limits) {
		logger.Warnf("agent run skipped: daily loss limit tripped (pnl=%.2f)", port.DailyPnL)
		return e.finishRun(ctx, summary, RunKilled), nil
	}

	symbols, err := e.eligibleSymbols(ctx, cfg)
	if err != nil {
		summary.FinishedAt = time.Now()
		return summary, err
	}
	if len(symbols) == 0 {
		return e.finishRun(ctx, summary, RunNoSymbols), nil
	}

	outcomes := e.analyzeAll(ctx, symbols)
	summary.SymbolsAnalyzed = len(symbols)

	// 风控与执行严格串行：后面的 symbol 必须看到前面交易更新后的组合视图。
	for _, oc := range outcomes {
		if ctx.Err() != nil {
			summary.Errors = append(summary.Errors, SymbolError{Symbol: oc.symbol, Err: "run cancelled"})
			continue
		}
		// symbol 之间做协作式停止检查：运行中被禁用则不再处理后续 symbol。
		if cur, cerr := e.loadConfig(ctx); cerr == nil && !cur.Enabled {
			logger.Warnf("agent disabled mid-run, skipping remaining symbols")
			break
		}
		if oc.err != nil {
			summary.Errors = append(summary.Errors, SymbolError{Symbol: oc.symbol, Err: oc.err.Error()})
			continue
		}
		e.settle(ctx, cfg, limits, &port, oc.sig, &summary)
	}

	done := e.finishRun(ctx, summary, RunCompleted)
	return done, ctx.Err()
}

// analyzeAll 并行分析全部 symbol，每个失败单独记录。
func (e *Engine) analyzeAll(ctx context.Context, symbols []string) []analysisOutcome {
	parallel := e.Parallel
	if parallel <= 0 {
		parallel = 4
	}
	outcomes := make([]analysisOutcome, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, sym := range symbols {
		i, sym := i, sym
		g.Go(func() error {
			sig, err := e.Analyzer.Analyze(gctx, sym)
			outcomes[i] = analysisOutcome{symbol: sym, sig: sig, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// settle 对单个信号执行风控、建档与可能的执行，并更新组合视图。
func (e *Engine) settle(ctx context.Context, cfg Config, limits risk.Limits, port *risk.Portfolio, sig decision.Composite, summary *RunSummary) {
	dec := e.Gate.Validate(sig, *port, limits)

	trade := buildTrade(cfg, sig, dec)
	if !dec.Approved {
		trade.Status = model.TradeStatusAdvisory
		if err := e.Store.CreateTrade(ctx, trade); err != nil {
			summary.Errors = append(summary.Errors, SymbolError{Symbol: sig.Symbol, Err: err.Error()})
			return
		}
		summary.TradesCreated++
		return
	}

	switch {
	case cfg.Mode == ModeAdvisory:
		trade.Status = model.TradeStatusAdvisory
	case dec.Status == risk.StatusPendingConfirmation:
		trade.Status = model.TradeStatusPending
	default:
		trade.Status = model.TradeStatusReady
	}
	if err := e.Store.CreateTrade(ctx, trade); err != nil {
		summary.Errors = append(summary.Errors, SymbolError{Symbol: sig.Symbol, Err: err.Error()})
		return
	}
	summary.TradesCreated++

	if trade.Status != model.TradeStatusReady {
		return
	}

	executed, err := e.execute(ctx, cfg.Mode, trade)
	if err != nil {
		summary.Errors = append(summary.Errors, SymbolError{Symbol: sig.Symbol, Err: err.Error()})
		return
	}
	summary.TradesExecuted++
	applyFill(port, executed)
}

// execute 调用券商下单并完成状态迁移，券商失败迁为 failed 且不自动重试。
func (e *Engine) execute(ctx context.Context, mode Mode, trade *model.TradeModel) (*model.TradeModel, error) {
	broker, ok := e.Brokers[mode]
	if !ok || broker == nil {
		_, _ = e.Store.TransitionTrade(ctx, trade.ID, model.TradeStatusFailed, "")
		return nil, fmt.Errorf("no broker configured for mode %s", mode)
	}
	ack, err := broker.PlaceOrder(ctx, exchange.OrderRequest{
		TradeID:    trade.ID,
		Symbol:     trade.Symbol,
		Side:       exchange.Side(trade.Action),
		Quantity:   trade.Quantity,
		LimitPrice: trade.Price,
	})
	if err != nil {
		if _, terr := e.Store.TransitionTrade(ctx, trade.ID, model.TradeStatusFailed, ""); terr != nil {
			logger.Errorf("trade %d: mark failed: %v", trade.ID, terr)
		}
		_ = e.Store.AppendFailureNote(ctx, trade.ID, "execution failed: "+err.Error())
		return nil, fmt.Errorf("execute trade %d: %w", trade.ID, err)
	}
	return e.Store.TransitionTrade(ctx, trade.ID, model.TradeStatusExecuted, ack.OrderRef)
}

// applyFill 把成交反映到本轮运行的组合视图，供后续 symbol 的风控使用。
func applyFill(port *risk.Portfolio, trade *model.TradeModel) {
	if port.Positions == nil {
		port.Positions = make(map[string]risk.Position)
	}
	flow := trade.Price * float64(trade.Quantity)
	pos := port.Positions[trade.Symbol]
	if trade.Action == "buy" {
		port.Cash -= flow
		port.DailyPnL -= flow
		pos.Quantity += trade.Quantity
		pos.Value += flow
	} else {
		port.Cash += flow
		port.DailyPnL += flow
		pos.Quantity -= trade.Quantity
		pos.Value -= flow
	}
	if pos.Quantity <= 0 {
		delete(port.Positions, trade.Symbol)
	} else {
		port.Positions[trade.Symbol] = pos
	}
}

func buildTrade(cfg Config, sig decision.Composite, dec risk.Decision) *model.TradeModel {
	reasoning := describeSignal(sig)
	if len(dec.Violations) > 0 {
		reasoning += "\nrejected: " + strings.Join(dec.Violations, "; ")
	}
	var warnings datatypes.JSON
	if len(dec.Warnings) > 0 {
		if raw, err := json.Marshal(dec.Warnings); err == nil {
			warnings = datatypes.JSON(raw)
		}
	}
	action := string(dec.Action)
	if action == "" {
		action = "buy"
		if sig.Label.IsSell() {
			action = "sell"
		}
	}
	return &model.TradeModel{
		Symbol:      sig.Symbol,
		Action:      action,
		Quantity:    dec.Quantity,
		Price:       dec.Price,
		TotalValue:  dec.PositionValue,
		Mode:        string(cfg.Mode),
		SignalLabel: string(sig.Label),
		Confidence:  sig.Confidence,
		StopLoss:    dec.StopLoss,
		Reasoning:   reasoning,
		Warnings:    warnings,
	}
}

func describeSignal(sig decision.Composite) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s score=%.2f confidence=%.2f agreement=%s", sig.Symbol, sig.Label, sig.Score, sig.Confidence, sig.Agreement)
	if sig.Sentiment != nil {
		fmt.Fprintf(&b, "; sentiment %s (%.2f over %d articles)", sig.Sentiment.Label, sig.Sentiment.Score, sig.Sentiment.Articles)
	}
	for _, r := range sig.Technical.Readings {
		if r.Direction != signal.Neutral {
			fmt.Fprintf(&b, "; %s %s", r.Name, r.Direction)
		}
	}
	return b.String()
}

// Confirm 确认一笔 pending 交易：先用当前组合重新过一遍风控，
// 通过才执行；不再通过则迁为 failed 并记录新的拒绝原因。
func (e *Engine) Confirm(ctx context.Context, tradeID int64) (*model.TradeModel, error) {
	trade, err := e.Store.TradeByID(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if trade.Status != model.TradeStatusPending {
		return nil, fmt.Errorf("trade %d is %s: %w", tradeID, trade.Status, ErrNotConfirmable)
	}

	cfg, err := e.loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	port, err := e.portfolio(ctx, cfg.Mode)
	if err != nil {
		return nil, fmt.Errorf("portfolio snapshot: %w", err)
	}

	sig := compositeFromTrade(trade)
	limits := cfg.Limits()
	dec := e.Gate.Validate(sig, port, limits)
	violations := dec.Violations
	if dec.Approved {
		// Validate 重新估算的是新数量；存量数量要单独对着当前上限复核。
		violations = e.Gate.RecheckOrder(trade.Symbol, risk.Action(trade.Action), trade.Price, trade.Quantity, port, limits)
	}
	if len(violations) > 0 {
		failed, terr := e.Store.TransitionTrade(ctx, trade.ID, model.TradeStatusFailed, "")
		if terr != nil {
			return nil, terr
		}
		_ = e.Store.AppendFailureNote(ctx, trade.ID, "re-validation rejected: "+strings.Join(violations, "; "))
		logger.Warnf("trade %d confirmation rejected on re-validation: %v", trade.ID, violations)
		return failed, nil
	}
	return e.execute(ctx, cfg.Mode, trade)
}

// CancelTrade 取消一笔尚未执行的交易，无任何副作用。
func (e *Engine) CancelTrade(ctx context.Context, tradeID int64) (*model.TradeModel, error) {
	return e.Store.TransitionTrade(ctx, tradeID, model.TradeStatusCancelled, "")
}

// compositeFromTrade 从审计行重建可供风控复核的最小信号。
// ATR 不再可得，风控将回退到按价格比例估算止损距离。
func compositeFromTrade(trade *model.TradeModel) decision.Composite {
	label := trade.SignalLabel
	return decision.Composite{
		Symbol:     trade.Symbol,
		Label:      labelOrDefault(label),
		Confidence: trade.Confidence,
		Technical: indicator.Result{
			Symbol:     trade.Symbol,
			Label:      labelOrDefault(label),
			Confidence: trade.Confidence,
			LastClose:  trade.Price,
		},
		GeneratedAt: time.Now(),
	}
}

func labelOrDefault(s string) signal.Label {
	if s == "" {
		return signal.Hold
	}
	return signal.Label(s)
}

// StatusReport 汇总代理当前状态，供状态接口使用。
type StatusReport struct {
	Config        Config                `json:"config"`
	PendingTrades int                   `json:"pending_trades"`
	DailyPnL      float64               `json:"daily_pnl"`
	KillSwitch    bool                  `json:"kill_switch"`
	RecentRuns    []model.AgentRunModel `json:"recent_runs"`
}

func (e *Engine) Status(ctx context.Context) (StatusReport, error) {
	cfg, err := e.loadConfig(ctx)
	if err != nil {
		return StatusReport{}, err
	}
	pending, err := e.Store.PendingTrades(ctx)
	if err != nil {
		return StatusReport{}, err
	}
	pnl, err := e.Store.DailyRealizedPnL(ctx, time.Now(), e.Loc)
	if err != nil {
		return StatusReport{}, err
	}
	runs, err := e.Store.RecentRuns(ctx, 10)
	if err != nil {
		return StatusReport{}, err
	}
	port, perr := e.portfolio(ctx, cfg.Mode)
	killed := false
	if perr == nil {
		killed = risk.KillSwitchTripped(port, cfg.Limits())
	}
	return StatusReport{
		Config:        cfg,
		PendingTrades: len(pending),
		DailyPnL:      pnl,
		KillSwitch:    killed,
		RecentRuns:    runs,
	}, nil
}

// CheckInterval 返回当前配置的循环间隔，供调度器在每轮后重新读取。
func (e *Engine) CheckInterval(ctx context.Context) time.Duration {
	cfg, err := e.loadConfig(ctx)
	if err != nil {
		logger.Warnf("read check interval failed, using zero: %v", err)
		return 0
	}
	return time.Duration(cfg.CheckIntervalMin) * time.Minute
}

func (e *Engine) loadConfig(ctx context.Context) (Config, error) {
	var defaults model.AgentConfigModel
	if err := DefaultConfig().ApplyToModel(&defaults); err != nil {
		return Config{}, err
	}
	row, err := e.Store.GetOrCreateAgentConfig(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return ConfigFromModel(row), nil
}

// portfolio 组装风控视角的组合快照：券商账户 + 今日已实现盈亏。
// advisory 模式没有真实账户，用 paper 券商的账本做估算基础。
func (e *Engine) portfolio(ctx context.Context, mode Mode) (risk.Portfolio, error) {
	brokerMode := mode
	if brokerMode == ModeAdvisory {
		brokerMode = ModePaper
	}
	broker, ok := e.Brokers[brokerMode]
	if !ok || broker == nil {
		return risk.Portfolio{}, fmt.Errorf("no broker configured for mode %s", brokerMode)
	}
	acct, err := broker.Account(ctx)
	if err != nil {
		return risk.Portfolio{}, err
	}
	positions, err := broker.Positions(ctx)
	if err != nil {
		return risk.Portfolio{}, err
	}
	pnl, err := e.Store.DailyRealizedPnL(ctx, time.Now(), e.Loc)
	if err != nil {
		return risk.Portfolio{}, err
	}
	port := risk.Portfolio{
		Value:     acct.Equity,
		Cash:      acct.Cash,
		DailyPnL:  pnl,
		Positions: make(map[string]risk.Position, len(positions)),
	}
	for _, p := range positions {
		port.Positions[p.Symbol] = risk.Position{Quantity: p.Quantity, Value: p.MarketValue}
	}
	return port, nil
}

// eligibleSymbols 返回本轮要分析的 symbol：白名单优先，空则用观察列表。
func (e *Engine) eligibleSymbols(ctx context.Context, cfg Config) ([]string, error) {
	if len(cfg.Whitelist) > 0 {
		out := append([]string(nil), cfg.Whitelist...)
		sort.Strings(out)
		return out, nil
	}
	return e.Store.Watchlist(ctx)
}

func (e *Engine) finishRun(ctx context.Context, summary RunSummary, status RunStatus) RunSummary {
	summary.Status = status
	summary.FinishedAt = time.Now()

	var errsJSON datatypes.JSON
	if len(summary.Errors) > 0 {
		if raw, err := json.Marshal(summary.Errors); err == nil {
			errsJSON = datatypes.JSON(raw)
		}
	}
	run := &model.AgentRunModel{
		Status:          string(status),
		SymbolsAnalyzed: summary.SymbolsAnalyzed,
		TradesCreated:   summary.TradesCreated,
		TradesExecuted:  summary.TradesExecuted,
		Errors:          errsJSON,
		StartedAtUnix:   summary.StartedAt.Unix(),
		FinishedAtUnix:  summary.FinishedAt.Unix(),
	}
	if err := e.Store.RecordRun(ctx, run); err != nil {
		logger.Errorf("record run failed: %v", err)
	}
	logger.Infof("agent run %s: analyzed=%d created=%d executed=%d errors=%d",
		status, summary.SymbolsAnalyzed, summary.TradesCreated, summary.TradesExecuted, len(summary.Errors))
	return summary
}
