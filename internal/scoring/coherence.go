package scoring

import (
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/spigell/grant-matcher/internal/foundation"
	"github.com/spigell/grant-matcher/internal/utils"
)

// Coherence levels.
const (
	CoherenceLevelCoherent = "coherent"
	CoherenceLevelMixed    = "mixed"
	CoherenceLevelDiffuse  = "diffuse"
)

const (
	coherentCutoff = 0.75
	mixedCutoff    = 0.5
	neutralVote    = 0.5
)

// ScoreCoherence measures how concentrated a candidate's Schedule I giving is
// across NTEE major categories. Each tagged grant votes for its recipient's
// category with a weight that halves every HalfLifeYears before the newest
// filing. Small samples are pulled toward the neutral midpoint.
func ScoreCoherence(grants []foundation.GrantRecord, cfg Config) (ComponentResult, error) {
	if len(grants) == 0 {
		return insufficient(ComponentCoherence, "no Schedule I grants on file"), nil
	}

	refYear := 0
	for i, g := range grants {
		if g.FilingYear <= 0 {
			return ComponentResult{}, fault(ComponentCoherence, "grant %d has invalid filing year %d", i, g.FilingYear)
		}
		refYear = max(refYear, g.FilingYear)
	}

	votes := make(map[string]float64)
	var (
		tagged      int
		totalWeight float64
	)
	for _, g := range grants {
		code, ok := NormalizeNTEE(g.RecipientNTEE)
		if !ok {
			continue
		}
		w := math.Pow(0.5, float64(refYear-g.FilingYear)/cfg.HalfLifeYears)
		votes[MajorCategory(code)] += w
		totalWeight += w
		tagged++
	}

	if tagged == 0 {
		return insufficient(ComponentCoherence, fmt.Sprintf("none of %d grants carries a recipient NTEE code", len(grants))), nil
	}

	categories := slices.Sorted(maps.Keys(votes))
	dominant := categories[0]
	for _, c := range categories[1:] {
		if votes[c] > votes[dominant] {
			dominant = c
		}
	}
	dominantShare := votes[dominant] / totalWeight

	var entropy float64
	for _, c := range categories {
		p := votes[c] / totalWeight
		entropy -= p * math.Log(p)
	}

	raw := 1.0
	if k := len(categories); k > 1 {
		raw = 0.5*dominantShare + 0.5*(1-entropy/math.Log(float64(k)))
	}

	// Full confidence needs a sample larger than MinSampleSize.
	confidence := math.Min(1, float64(tagged)/float64(cfg.MinSampleSize+1))
	score := utils.Round(neutralVote+(raw-neutralVote)*confidence, 4)

	level := CoherenceLevelDiffuse
	switch {
	case score >= coherentCutoff:
		level = CoherenceLevelCoherent
	case score >= mixedCutoff:
		level = CoherenceLevelMixed
	}

	evidence := []string{
		fmt.Sprintf("%d of %d grants tagged across %d major categories; dominant %s at %.0f%%",
			tagged, len(grants), len(categories), dominant, dominantShare*100),
	}
	if tagged <= cfg.MinSampleSize {
		evidence = append(evidence, fmt.Sprintf("sample of %d does not exceed %d, pulled toward neutral", tagged, cfg.MinSampleSize))
	}

	result := measured(ComponentCoherence, score, level, evidence...)
	result.Metrics = map[string]float64{
		"raw_coherence":  utils.Round(raw, 4),
		"dominant_share": utils.Round(dominantShare, 4),
		"entropy":        utils.Round(entropy, 4),
		"coverage":       utils.Round(float64(tagged)/float64(len(grants)), 4),
		"recency_weight": utils.Round(totalWeight/float64(tagged), 4),
		"sample_size":    float64(tagged),
	}
	return result, nil
}
