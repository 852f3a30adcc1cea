package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gorm.io/datatypes"

	"finagent/internal/risk"
	"finagent/internal/store/model"
)

// Mode 是代理的执行模式。
type Mode string

const (
	ModeAdvisory Mode = "advisory"
	ModePaper    Mode = "paper"
	ModeLive     Mode = "live"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeAdvisory, ModePaper, ModeLive:
		return true
	}
	return false
}

// Config 是代理配置的领域视图，持久化形态见 store/model.AgentConfigModel。
type Config struct {
	Enabled           bool     `json:"enabled"`
	Mode              Mode     `json:"mode"`
	RiskProfile       string   `json:"risk_profile"`
	MaxTradePct       float64  `json:"max_trade_pct"`
	MaxPositionPct    float64  `json:"max_position_pct"`
	DailyLossLimitPct float64  `json:"daily_loss_limit_pct"`
	ConfirmAboveUSD   float64  `json:"confirm_above_usd"`
	MinConfidence     float64  `json:"min_confidence"`
	RiskPerTrade      float64  `json:"risk_per_trade"`
	Whitelist         []string `json:"symbol_whitelist"`
	CheckIntervalMin  int      `json:"check_interval_min"`
	Version           int64    `json:"version"`
}

// DefaultConfig 是首次启动时落库的初始配置：moderate 预设、仅建议模式。
func DefaultConfig() Config {
	cfg := Config{
		Enabled:          false,
		Mode:             ModeAdvisory,
		RiskProfile:      "moderate",
		MinConfidence:    0.3,
		RiskPerTrade:     0.02,
		CheckIntervalMin: 30,
	}
	cfg.ApplyProfile(risk.Profile{Name: "moderate", MaxTradePct: 10, MaxPositionPct: 20, DailyLossLimitPct: 5, ConfirmAboveUSD: 500})
	return cfg
}

// ApplyProfile 把预设整体套到数值字段上；调用方随后可再逐项覆盖。
func (c *Config) ApplyProfile(p risk.Profile) {
	c.RiskProfile = p.Name
	c.MaxTradePct = p.MaxTradePct
	c.MaxPositionPct = p.MaxPositionPct
	c.DailyLossLimitPct = p.DailyLossLimitPct
	c.ConfirmAboveUSD = p.ConfirmAboveUSD
}

// Limits 折算为风控参数。
func (c Config) Limits() risk.Limits {
	return risk.Limits{
		MinConfidence:     c.MinConfidence,
		RiskPerTrade:      c.RiskPerTrade,
		MaxTradePct:       c.MaxTradePct,
		MaxPositionPct:    c.MaxPositionPct,
		DailyLossLimitPct: c.DailyLossLimitPct,
		ConfirmAboveUSD:   c.ConfirmAboveUSD,
		Whitelist:         c.Whitelist,
	}
}

// Validate 检查配置自洽性。
func (c Config) Validate() error {
	if !c.Mode.Valid() {
		return fmt.Errorf("invalid mode %q", c.Mode)
	}
	if c.MaxTradePct <= 0 || c.MaxTradePct > 100 {
		return fmt.Errorf("max_trade_pct %.2f out of (0,100]", c.MaxTradePct)
	}
	if c.MaxPositionPct <= 0 || c.MaxPositionPct > 100 {
		return fmt.Errorf("max_position_pct %.2f out of (0,100]", c.MaxPositionPct)
	}
	if c.MaxTradePct > c.MaxPositionPct {
		return fmt.Errorf("max_trade_pct %.2f exceeds max_position_pct %.2f", c.MaxTradePct, c.MaxPositionPct)
	}
	if c.DailyLossLimitPct <= 0 || c.DailyLossLimitPct > 100 {
		return fmt.Errorf("daily_loss_limit_pct %.2f out of (0,100]", c.DailyLossLimitPct)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min_confidence %.2f out of [0,1]", c.MinConfidence)
	}
	if c.RiskPerTrade <= 0 || c.RiskPerTrade > 0.2 {
		return fmt.Errorf("risk_per_trade %.4f out of (0,0.2]", c.RiskPerTrade)
	}
	if c.CheckIntervalMin <= 0 {
		return fmt.Errorf("check_interval_min must be positive")
	}
	return nil
}

// NormalizeWhitelist 去重、去空白并统一大写。
func (c *Config) NormalizeWhitelist() {
	seen := make(map[string]struct{}, len(c.Whitelist))
	out := make([]string, 0, len(c.Whitelist))
	for _, s := range c.Whitelist {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	c.Whitelist = out
}

// ConfigFromModel 从持久化行恢复领域配置。
func ConfigFromModel(m *model.AgentConfigModel) Config {
	cfg := Config{
		Enabled:           m.Enabled,
		Mode:              Mode(m.Mode),
		RiskProfile:       m.RiskProfile,
		MaxTradePct:       m.MaxTradePct,
		MaxPositionPct:    m.MaxPositionPct,
		DailyLossLimitPct: m.DailyLossLimitPct,
		ConfirmAboveUSD:   m.ConfirmAboveUSD,
		MinConfidence:     m.MinConfidence,
		RiskPerTrade:      m.RiskPerTrade,
		CheckIntervalMin:  m.CheckIntervalMin,
		Version:           m.Version,
	}
	if len(m.Whitelist) > 0 {
		_ = json.Unmarshal(m.Whitelist, &cfg.Whitelist)
	}
	return cfg
}

// ApplyToModel 把领域配置写回持久化行（版本号由存储层维护）。
func (c Config) ApplyToModel(m *model.AgentConfigModel) error {
	raw, err := json.Marshal(c.Whitelist)
	if err != nil {
		return err
	}
	m.Enabled = c.Enabled
	m.Mode = string(c.Mode)
	m.RiskProfile = c.RiskProfile
	m.MaxTradePct = c.MaxTradePct
	m.MaxPositionPct = c.MaxPositionPct
	m.DailyLossLimitPct = c.DailyLossLimitPct
	m.ConfirmAboveUSD = c.ConfirmAboveUSD
	m.MinConfidence = c.MinConfidence
	m.RiskPerTrade = c.RiskPerTrade
	m.Whitelist = datatypes.JSON(raw)
	m.CheckIntervalMin = c.CheckIntervalMin
	return nil
}
