package decision

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"finagent/internal/signal"
)

var allLabels = []signal.Label{
	signal.StrongBuy, signal.Buy, signal.WeakBuy, signal.Hold,
	signal.WeakSell, signal.Sell, signal.StrongSell,
}

func labelGen() gopter.Gen {
	return gen.IntRange(0, len(allLabels)-1).Map(func(i int) signal.Label {
		return allLabels[i]
	})
}

func TestProperty_CombineConfidenceBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())
	parameters.MaxShrinkCount = 0

	properties := gopter.NewProperties(parameters)

	properties.Property("confidence stays in [0,1] for any input pair", prop.ForAll(
		func(techLabel signal.Label, techConf float64, fundLabel signal.Label, fundConf float64) bool {
			out := Combine(techResult(techLabel, techConf), fundResult(fundLabel, fundConf), time.Now())
			return out.Confidence >= 0 && out.Confidence <= 1
		},
		labelGen(), gen.Float64Range(0, 1), labelGen(), gen.Float64Range(0, 1),
	))

	properties.Property("combined score is bounded by the label scale", prop.ForAll(
		func(techLabel signal.Label, techConf float64, fundLabel signal.Label, fundConf float64) bool {
			out := Combine(techResult(techLabel, techConf), fundResult(fundLabel, fundConf), time.Now())
			return out.Score >= -2.0 && out.Score <= 2.0
		},
		labelGen(), gen.Float64Range(0, 1), labelGen(), gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}

func TestProperty_CombineMonotonicInTechConfidence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())
	parameters.MaxShrinkCount = 0

	properties := gopter.NewProperties(parameters)

	properties.Property("raising tech confidence on a buy never lowers the combined score", prop.ForAll(
		func(lo, hi float64, fundLabel signal.Label, fundConf float64) bool {
			if lo > hi {
				lo, hi = hi, lo
			}
			now := time.Now()
			fund := fundResult(fundLabel, fundConf)
			low := Combine(techResult(signal.Buy, lo), fund, now)
			high := Combine(techResult(signal.Buy, hi), fund, now)
			return high.Score >= low.Score-1e-12
		},
		gen.Float64Range(0, 1), gen.Float64Range(0, 1), labelGen(), gen.Float64Range(0, 1),
	))

	properties.Property("technical-only combine renormalizes the weight to one", prop.ForAll(
		func(techLabel signal.Label, techConf float64) bool {
			out := Combine(techResult(techLabel, techConf), nil, time.Now())
			want := techLabel.Score() * techConf
			return out.Score == want && out.Agreement == signal.AgreementHigh
		},
		labelGen(), gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}
