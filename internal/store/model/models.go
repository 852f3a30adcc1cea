package model

import (
	"gorm.io/datatypes"
)

// TradeStatus 是交易记录的生命周期状态。
type TradeStatus string

const (
	TradeStatusReady     TradeStatus = "ready"
	TradeStatusPending   TradeStatus = "pending"
	TradeStatusExecuted  TradeStatus = "executed"
	TradeStatusCancelled TradeStatus = "cancelled"
	TradeStatusFailed    TradeStatus = "failed"
	TradeStatusAdvisory  TradeStatus = "advisory"
)

// Terminal 报告该状态是否不可再迁移。
func (s TradeStatus) Terminal() bool {
	switch s {
	case TradeStatusExecuted, TradeStatusCancelled, TradeStatusFailed, TradeStatusAdvisory:
		return true
	}
	return false
}

// TradeModel 是审计轨迹中的一行，executed/cancelled 后不可变。
type TradeModel struct {
	ID             int64          `gorm:"column:id;primaryKey;autoIncrement"`
	Symbol         string         `gorm:"column:symbol;index"`
	Action         string         `gorm:"column:action"`
	Quantity       int64          `gorm:"column:quantity"`
	Price          float64        `gorm:"column:price"`
	TotalValue     float64        `gorm:"column:total_value"`
	Status         TradeStatus    `gorm:"column:status;index"`
	Mode           string         `gorm:"column:mode"`
	SignalLabel    string         `gorm:"column:signal_label"`
	Confidence     float64        `gorm:"column:confidence"`
	StopLoss       float64        `gorm:"column:stop_loss"`
	Reasoning      string         `gorm:"column:reasoning;type:TEXT"`
	Warnings       datatypes.JSON `gorm:"column:warnings;type:TEXT"`
	OrderRef       string         `gorm:"column:order_ref"`
	CreatedAtUnix  int64          `gorm:"column:created_at;index"`
	ExecutedAtUnix *int64         `gorm:"column:executed_at"`
}

func (TradeModel) TableName() string { return "trades" }

// AgentConfigModel 是全局唯一的代理配置行，带乐观版本号。
type AgentConfigModel struct {
	ID                int64          `gorm:"column:id;primaryKey"`
	Enabled           bool           `gorm:"column:enabled"`
	Mode              string         `gorm:"column:mode"`
	RiskProfile       string         `gorm:"column:risk_profile"`
	MaxTradePct       float64        `gorm:"column:max_trade_pct"`
	MaxPositionPct    float64        `gorm:"column:max_position_pct"`
	DailyLossLimitPct float64        `gorm:"column:daily_loss_limit_pct"`
	ConfirmAboveUSD   float64        `gorm:"column:confirm_above_usd"`
	MinConfidence     float64        `gorm:"column:min_confidence"`
	RiskPerTrade      float64        `gorm:"column:risk_per_trade"`
	Whitelist         datatypes.JSON `gorm:"column:whitelist;type:TEXT"`
	CheckIntervalMin  int            `gorm:"column:check_interval_min"`
	Version           int64          `gorm:"column:version"`
	UpdatedAtUnix     int64          `gorm:"column:updated_at"`
}

func (AgentConfigModel) TableName() string { return "agent_config" }

// WatchlistModel 是回退观察列表（whitelist 为空时生效）。
type WatchlistModel struct {
	ID          int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Symbol      string `gorm:"column:symbol;uniqueIndex"`
	AddedAtUnix int64  `gorm:"column:added_at"`
}

func (WatchlistModel) TableName() string { return "watchlist" }

// AgentRunModel 记录每次代理运行的摘要。
type AgentRunModel struct {
	ID              int64          `gorm:"column:id;primaryKey;autoIncrement"`
	Status          string         `gorm:"column:status"`
	SymbolsAnalyzed int            `gorm:"column:symbols_analyzed"`
	TradesCreated   int            `gorm:"column:trades_created"`
	TradesExecuted  int            `gorm:"column:trades_executed"`
	Errors          datatypes.JSON `gorm:"column:errors;type:TEXT"`
	StartedAtUnix   int64          `gorm:"column:started_at;index"`
	FinishedAtUnix  int64          `gorm:"column:finished_at"`
}

func (AgentRunModel) TableName() string { return "agent_runs" }
