package scoring

import (
	"fmt"
	"math"
	"slices"

	"github.com/spigell/grant-matcher/internal/foundation"
	"github.com/spigell/grant-matcher/internal/utils"
)

// Grant-size fit bands.
const (
	SizeLevelTooSmall   = "too_small"
	SizeLevelBelowRange = "below_range"
	SizeLevelGoodFit    = "good_fit"
	SizeLevelTooLarge   = "too_large"
)

const minSizeSample = 2

// ScoreGrantSize compares the seeker's funding need with the candidate's
// historical grant distribution. The score peaks when the need equals the
// median grant and decays with the log-distance from it.
func ScoreGrantSize(need foundation.FundingNeed, grants []foundation.GrantRecord, cfg Config) (ComponentResult, error) {
	if !finite(need.Min) || !finite(need.Max) || need.Min < 0 || need.Max < 0 {
		return ComponentResult{}, fault(ComponentGrantSize, "funding need must be non-negative, got [%v, %v]", need.Min, need.Max)
	}
	if need.Min > 0 && need.Max > 0 && need.Min > need.Max {
		return ComponentResult{}, fault(ComponentGrantSize, "funding need min %v exceeds max %v", need.Min, need.Max)
	}

	var (
		amounts  []float64
		skipped  int
		evidence []string
	)
	for i, g := range grants {
		switch {
		case math.IsNaN(g.Amount) || math.IsInf(g.Amount, 0) || g.Amount < 0:
			return ComponentResult{}, fault(ComponentGrantSize, "grant %d has invalid amount %v", i, g.Amount)
		case g.Amount == 0:
			skipped++
		default:
			amounts = append(amounts, g.Amount)
		}
	}
	if skipped > 0 {
		evidence = append(evidence, fmt.Sprintf("skipped %d zero-amount grants", skipped))
	}

	point := need.Point()
	if !finite(point) {
		return ComponentResult{}, fault(ComponentGrantSize, "funding need [%v, %v] overflows", need.Min, need.Max)
	}
	if point == 0 {
		return insufficient(ComponentGrantSize, append(evidence, "seeker has no funding need")...), nil
	}
	if len(amounts) < minSizeSample {
		return insufficient(ComponentGrantSize, append(evidence,
			fmt.Sprintf("%d usable grants, need at least %d", len(amounts), minSizeSample))...), nil
	}

	slices.Sort(amounts)
	low, high := amounts[0], amounts[len(amounts)-1]
	median := medianOf(amounts)
	if !finite(median) || !finite(point/median) {
		return ComponentResult{}, fault(ComponentGrantSize, "need %v against median grant %v is not representable", point, median)
	}

	level := SizeLevelGoodFit
	switch {
	case point < cfg.TooSmallRatio*median:
		level = SizeLevelTooSmall
	case point < low:
		level = SizeLevelBelowRange
	case point > high:
		level = SizeLevelTooLarge
	}

	distance := math.Log(point / median)
	score := utils.Round(math.Exp(-(distance*distance)/(2*cfg.SizeDecayWidth*cfg.SizeDecayWidth)), 4)

	evidence = append(evidence, fmt.Sprintf("need %s vs median grant %s (range %s to %s over %d grants)",
		utils.FormatMoney(point), utils.FormatMoney(median), utils.FormatMoney(low), utils.FormatMoney(high), len(amounts)))

	result := measured(ComponentGrantSize, score, level, evidence...)
	result.Metrics = map[string]float64{
		"min":            low,
		"median":         median,
		"max":            high,
		"need":           point,
		"need_to_median": utils.Round(point/median, 4),
	}
	return result, nil
}

// medianOf expects a sorted, non-empty slice.
func medianOf(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
