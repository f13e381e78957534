package scoring

import (
	"fmt"
	"math"

	"github.com/spigell/grant-matcher/internal/utils"
)

// MinimumDistributionRate is the statutory share of qualifying assets a
// private foundation must distribute each year.
const MinimumDistributionRate = 0.05

// Payout sufficiency bands.
const (
	PayoutLevelInsufficient  = "insufficient"
	PayoutLevelBorderline    = "borderline"
	PayoutLevelAdequate      = "adequate"
	PayoutLevelStrongSurplus = "strong_surplus"
)

const (
	borderlineCeiling = 1.05
	surplusFloor      = 1.5
)

// ScorePayout compares annual distributions with the statutory minimum.
func ScorePayout(assets, distributions *float64) (ComponentResult, error) {
	switch {
	case assets == nil:
		return insufficient(ComponentPayout, "qualifying assets not reported"), nil
	case math.IsNaN(*assets) || math.IsInf(*assets, 0) || *assets < 0:
		return ComponentResult{}, fault(ComponentPayout, "qualifying assets must be non-negative, got %v", *assets)
	case *assets == 0:
		return insufficient(ComponentPayout, "qualifying assets reported as zero"), nil
	case distributions == nil:
		return insufficient(ComponentPayout, "annual distributions not reported"), nil
	case math.IsNaN(*distributions) || math.IsInf(*distributions, 0) || *distributions < 0:
		return ComponentResult{}, fault(ComponentPayout, "annual distributions must be non-negative, got %v", *distributions)
	}

	required := *assets * MinimumDistributionRate
	ratio := *distributions / required
	if required == 0 || !finite(ratio) {
		return ComponentResult{}, fault(ComponentPayout, "payout ratio of %v over required %v is not representable", *distributions, required)
	}

	var (
		level string
		score float64
	)
	switch {
	case ratio < 1:
		level = PayoutLevelInsufficient
	case ratio < borderlineCeiling:
		level = PayoutLevelBorderline
	case ratio < surplusFloor:
		level = PayoutLevelAdequate
	default:
		level = PayoutLevelStrongSurplus
	}
	if ratio < 1 {
		score = 0.5 * ratio
	} else {
		score = 0.6 + 0.4*math.Min(1, (ratio-1)/(surplusFloor-1))
	}

	result := measured(ComponentPayout, utils.Round(score, 4), level,
		fmt.Sprintf("distributed %s against a required %s (%.2fx)",
			utils.FormatMoney(*distributions), utils.FormatMoney(required), ratio))
	result.Metrics = map[string]float64{
		"assets":        *assets,
		"distributions": *distributions,
		"required":      required,
		"payout_ratio":  utils.Round(ratio, 4),
	}
	return result, nil
}
