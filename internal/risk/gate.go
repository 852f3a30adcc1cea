package risk

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"finagent/internal/decision"
)

// Status 是风控结论的三态。
type Status string

const (
	StatusApproved            Status = "APPROVED"
	StatusRejected            Status = "REJECTED"
	StatusPendingConfirmation Status = "PENDING_CONFIRMATION"
)

// Action 是拟下单方向。
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionNone Action = ""
)

// Limits 是一次校验使用的风控参数，百分比字段以百分数表示（5 = 5%）。
type Limits struct {
	MinConfidence     float64  `json:"min_confidence"`
	RiskPerTrade      float64  `json:"risk_per_trade"`
	MaxTradePct       float64  `json:"max_trade_pct"`
	MaxPositionPct    float64  `json:"max_position_pct"`
	DailyLossLimitPct float64  `json:"daily_loss_limit_pct"`
	ConfirmAboveUSD   float64  `json:"confirm_above_usd"`
	Whitelist         []string `json:"whitelist,omitempty"`
}

// Position 是组合中单个标的的持仓。
type Position struct {
	Quantity int64
	Value    float64
}

// Portfolio 是校验时刻的组合快照。DailyPnL 为当日已实现盈亏，亏损为负。
type Portfolio struct {
	Value     float64
	Cash      float64
	DailyPnL  float64
	Positions map[string]Position
}

// Decision 是风控结论。Approved 为 true 时 Violations 必为空。
type Decision struct {
	Symbol        string   `json:"symbol"`
	Approved      bool     `json:"approved"`
	Status        Status   `json:"status"`
	Action        Action   `json:"action"`
	Quantity      int64    `json:"quantity"`
	Price         float64  `json:"price"`
	PositionValue float64  `json:"position_value"`
	PositionPct   float64  `json:"position_pct"`
	StopLoss      float64  `json:"stop_loss"`
	Warnings      []string `json:"warnings,omitempty"`
	Violations    []string `json:"violations,omitempty"`
}

// Gate 对合成信号做最终风控校验与头寸计算，无内部状态。
type Gate struct{}

func NewGate() *Gate { return &Gate{} }

// atrStopMultiple 与 fallbackStopPct 决定止损距离：2 倍 ATR，无 ATR 时退化为 5% 价格。
const (
	atrStopMultiple = 2.0
	fallbackStopPct = 0.05
)

// Validate 给出 approve/deny 结论与建议头寸。对同一输入是确定性的。
func (g *Gate) Validate(sig decision.Composite, port Portfolio, limits Limits) Decision {
	out := Decision{
		Symbol: sig.Symbol,
		Status: StatusRejected,
		Price:  sig.Technical.LastClose,
	}

	// 熔断优先于一切信号质量判断。
	if tripped, limit := killSwitchTripped(port, limits); tripped {
		out.Violations = append(out.Violations,
			fmt.Sprintf("daily loss limit reached: pnl=%.2f limit=-%.2f", port.DailyPnL, limit))
		return out
	}

	if !sig.Label.Actionable() {
		out.Violations = append(out.Violations, fmt.Sprintf("signal %s is not actionable", sig.Label))
		return out
	}
	out.Action = ActionBuy
	if sig.Label.IsSell() {
		out.Action = ActionSell
	}

	if sig.Confidence < limits.MinConfidence {
		out.Violations = append(out.Violations,
			fmt.Sprintf("confidence %.2f below minimum %.2f", sig.Confidence, limits.MinConfidence))
	}
	if len(limits.Whitelist) > 0 && !whitelisted(sig.Symbol, limits.Whitelist) {
		out.Violations = append(out.Violations, fmt.Sprintf("symbol %s not in whitelist", sig.Symbol))
	}

	price := decimal.NewFromFloat(sig.Technical.LastClose)
	if price.Sign() <= 0 {
		out.Violations = append(out.Violations, "no valid price for sizing")
		return out
	}

	stopDistance := stopDistanceFor(sig.Technical.ATR, price)
	qty, posValue := g.size(sig, port, limits, price, stopDistance, out.Action, &out)

	if qty <= 0 && len(out.Violations) == 0 {
		out.Violations = append(out.Violations, "position size rounds to zero")
	}
	out.Quantity = qty
	out.PositionValue, _ = posValue.Float64()
	if port.Value > 0 {
		out.PositionPct, _ = posValue.Div(decimal.NewFromFloat(port.Value)).Mul(decimal.NewFromInt(100)).Float64()
	}
	if out.Action == ActionBuy {
		out.StopLoss, _ = price.Sub(stopDistance).Float64()
	} else {
		out.StopLoss, _ = price.Add(stopDistance).Float64()
	}

	if len(out.Violations) > 0 {
		out.Quantity = 0
		return out
	}

	out.Approved = true
	out.Status = StatusApproved
	if limits.ConfirmAboveUSD > 0 && posValue.GreaterThan(decimal.NewFromFloat(limits.ConfirmAboveUSD)) {
		out.Status = StatusPendingConfirmation
	}
	return out
}

// size 计算建议股数：风险预算除以止损距离，再套用交易与持仓上限。
func (g *Gate) size(sig decision.Composite, port Portfolio, limits Limits, price, stopDistance decimal.Decimal, action Action, out *Decision) (int64, decimal.Decimal) {
	value := decimal.NewFromFloat(port.Value)
	if value.Sign() <= 0 {
		out.Violations = append(out.Violations, "portfolio value is zero")
		return 0, decimal.Zero
	}

	if action == ActionSell {
		held, ok := port.Positions[sig.Symbol]
		if !ok || held.Quantity <= 0 {
			out.Violations = append(out.Violations, fmt.Sprintf("no %s position to sell", sig.Symbol))
			return 0, decimal.Zero
		}
		qty := held.Quantity
		return qty, price.Mul(decimal.NewFromInt(qty))
	}

	riskAmount := value.Mul(decimal.NewFromFloat(limits.RiskPerTrade))
	qty := riskAmount.Div(stopDistance).Floor().IntPart()

	hundred := decimal.NewFromInt(100)
	tradeCap := value.Mul(decimal.NewFromFloat(limits.MaxTradePct)).Div(hundred)
	if maxQty := tradeCap.Div(price).Floor().IntPart(); qty > maxQty {
		qty = maxQty
		out.Warnings = append(out.Warnings, "size capped by max trade limit")
	}

	positionCap := value.Mul(decimal.NewFromFloat(limits.MaxPositionPct)).Div(hundred)
	var heldValue decimal.Decimal
	if held, ok := port.Positions[sig.Symbol]; ok {
		heldValue = decimal.NewFromFloat(held.Value)
	}
	room := positionCap.Sub(heldValue)
	if room.Sign() <= 0 {
		out.Violations = append(out.Violations,
			fmt.Sprintf("existing %s position already at max concentration", sig.Symbol))
		return 0, decimal.Zero
	}
	if maxQty := room.Div(price).Floor().IntPart(); qty > maxQty {
		qty = maxQty
		out.Warnings = append(out.Warnings, "size capped by max position limit")
	}

	posValue := price.Mul(decimal.NewFromInt(qty))

	// Non-blocking advisory when this order brings the position near its cap.
	if qty > 0 && heldValue.Add(posValue).GreaterThanOrEqual(positionCap.Mul(decimal.NewFromFloat(0.8))) {
		out.Warnings = append(out.Warnings, "position near max concentration")
	}
	return qty, posValue
}

// RecheckOrder 以当前组合复核一笔数量已定的存量委托是否仍满足集中度上限。
// 建议时刻与执行时刻之间组合可能缩水，Validate 重新估算的数量不约束存量
// 数量，必须单独校验。卖出缩减敞口，不受上限约束。
func (g *Gate) RecheckOrder(symbol string, action Action, price float64, qty int64, port Portfolio, limits Limits) []string {
	if action != ActionBuy {
		return nil
	}
	total := decimal.NewFromFloat(port.Value)
	if total.Sign() <= 0 {
		return []string{"portfolio value is zero"}
	}
	var violations []string
	value := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(qty))
	hundred := decimal.NewFromInt(100)

	tradeCap := total.Mul(decimal.NewFromFloat(limits.MaxTradePct)).Div(hundred)
	if value.GreaterThan(tradeCap) {
		violations = append(violations,
			fmt.Sprintf("order value %s exceeds max trade size %s", value.StringFixed(2), tradeCap.StringFixed(2)))
	}

	var heldValue decimal.Decimal
	if held, ok := port.Positions[symbol]; ok {
		heldValue = decimal.NewFromFloat(held.Value)
	}
	positionCap := total.Mul(decimal.NewFromFloat(limits.MaxPositionPct)).Div(hundred)
	if heldValue.Add(value).GreaterThan(positionCap) {
		violations = append(violations,
			fmt.Sprintf("resulting %s position %s exceeds max concentration %s",
				symbol, heldValue.Add(value).StringFixed(2), positionCap.StringFixed(2)))
	}
	return violations
}

func stopDistanceFor(atr float64, price decimal.Decimal) decimal.Decimal {
	if atr > 0 {
		return decimal.NewFromFloat(atr).Mul(decimal.NewFromFloat(atrStopMultiple))
	}
	return price.Mul(decimal.NewFromFloat(fallbackStopPct))
}

// killSwitchTripped 判断当日亏损是否已触达组合价值的比例上限。
func killSwitchTripped(port Portfolio, limits Limits) (bool, float64) {
	if limits.DailyLossLimitPct <= 0 || port.Value <= 0 {
		return false, 0
	}
	limit := port.Value * limits.DailyLossLimitPct / 100
	return port.DailyPnL <= -limit, limit
}

// KillSwitchTripped 暴露给编排层，用于 run 开始前的整体熔断检查。
func KillSwitchTripped(port Portfolio, limits Limits) bool {
	tripped, _ := killSwitchTripped(port, limits)
	return tripped
}

func whitelisted(symbol string, whitelist []string) bool {
	for _, s := range whitelist {
		if strings.EqualFold(strings.TrimSpace(s), symbol) {
			return true
		}
	}
	return false
}
