package signal

// Label 是 7 档交易信号枚举，技术面与基本面共用同一刻度。
type Label string

const (
	StrongBuy  Label = "STRONG_BUY"
	Buy        Label = "BUY"
	WeakBuy    Label = "WEAK_BUY"
	Hold       Label = "HOLD"
	WeakSell   Label = "WEAK_SELL"
	Sell       Label = "SELL"
	StrongSell Label = "STRONG_SELL"
)

// Score maps a label onto the symmetric 7-point numeric scale used by the
// combiner. Unknown labels count as HOLD.
func (l Label) Score() float64 {
	switch l {
	case StrongBuy:
		return 2.0
	case Buy:
		return 1.0
	case WeakBuy:
		return 0.5
	case WeakSell:
		return -0.5
	case Sell:
		return -1.0
	case StrongSell:
		return -2.0
	default:
		return 0.0
	}
}

// IsBuy reports whether the label is on the buy side of the scale.
func (l Label) IsBuy() bool {
	return l == StrongBuy || l == Buy || l == WeakBuy
}

// IsSell reports whether the label is on the sell side of the scale.
func (l Label) IsSell() bool {
	return l == StrongSell || l == Sell || l == WeakSell
}

// Actionable reports whether the label calls for an order at all.
func (l Label) Actionable() bool {
	return l.IsBuy() || l.IsSell()
}

// Direction 描述单个指标的方向判定。
type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
	Neutral Direction = "neutral"
)

// Agreement 描述两个独立信号源的一致程度。
type Agreement string

const (
	AgreementHigh     Agreement = "HIGH"
	AgreementModerate Agreement = "MODERATE"
	AgreementLow      Agreement = "LOW"
)
