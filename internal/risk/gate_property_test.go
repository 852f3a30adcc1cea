package risk

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"finagent/internal/signal"
)

func TestProperty_SizingNeverExceedsCaps(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())
	parameters.MaxShrinkCount = 0

	properties := gopter.NewProperties(parameters)
	g := NewGate()

	properties.Property("approved buys respect trade and concentration caps", prop.ForAll(
		func(value, price, atr, conf float64) bool {
			limits := moderateLimits()
			port := Portfolio{Value: value, Cash: value}
			dec := g.Validate(composite("AAPL", signal.Buy, conf, price, atr), port, limits)
			if !dec.Approved {
				return true
			}
			tradeCap := value * limits.MaxTradePct / 100
			posCap := value * limits.MaxPositionPct / 100
			// Allow one share of rounding slack for float comparison.
			return dec.PositionValue <= tradeCap+price && dec.PositionValue <= posCap+price && dec.Quantity >= 0
		},
		gen.Float64Range(100, 1e6),
		gen.Float64Range(1, 5000),
		gen.Float64Range(0, 200),
		gen.Float64Range(0.3, 1.0),
	))

	properties.Property("tripped kill switch rejects any signal", prop.ForAll(
		func(value, price float64, labelIdx int) bool {
			labels := []signal.Label{signal.StrongBuy, signal.Buy, signal.WeakBuy, signal.Sell, signal.StrongSell}
			limits := moderateLimits()
			port := Portfolio{
				Value:    value,
				DailyPnL: -(value*limits.DailyLossLimitPct/100 + 1),
			}
			dec := g.Validate(composite("AAPL", labels[labelIdx%len(labels)], 1.0, price, 1), port, limits)
			return !dec.Approved && dec.Quantity == 0
		},
		gen.Float64Range(100, 1e6),
		gen.Float64Range(1, 5000),
		gen.IntRange(0, 4),
	))

	properties.Property("approval implies an empty violation list", prop.ForAll(
		func(value, price, atr, conf float64) bool {
			dec := g.Validate(composite("AAPL", signal.Buy, conf, price, atr), Portfolio{Value: value}, moderateLimits())
			if dec.Approved {
				return len(dec.Violations) == 0 && dec.Quantity > 0
			}
			return len(dec.Violations) > 0
		},
		gen.Float64Range(100, 1e6),
		gen.Float64Range(1, 5000),
		gen.Float64Range(0, 200),
		gen.Float64Range(0, 1.0),
	))

	properties.TestingRun(t)
}
