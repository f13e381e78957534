package scoring

import (
	"fmt"
	"slices"
	"strings"
)

// NTEE match tiers.
const (
	NTEELevelExact       = "exact"
	NTEELevelSubcategory = "subcategory"
	NTEELevelMajor       = "major"
	NTEELevelNone        = "none"
)

var nteeTierScores = map[string]float64{
	NTEELevelExact:       1.0,
	NTEELevelSubcategory: 0.8,
	NTEELevelMajor:       0.5,
	NTEELevelNone:        0,
}

const maxNTEECodeLength = 5

// NormalizeNTEE upper-cases and trims a code and reports whether it has the
// shape of an NTEE code: a major-category letter followed by up to four
// alphanumeric characters.
func NormalizeNTEE(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || len(code) > maxNTEECodeLength {
		return code, false
	}
	if code[0] < 'A' || code[0] > 'Z' {
		return code, false
	}
	for i := 1; i < len(code); i++ {
		c := code[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'Z') {
			return code, false
		}
	}
	return code, true
}

// MajorCategory returns the major-category letter of a normalized NTEE code.
func MajorCategory(code string) string {
	if code == "" {
		return ""
	}
	return code[:1]
}

// NTEEMatchLevel classifies how two normalized codes align.
func NTEEMatchLevel(a, b string) string {
	switch {
	case a == "" || b == "":
		return NTEELevelNone
	case a == b:
		return NTEELevelExact
	case commonPrefixLen(a, b) >= 2, strings.HasPrefix(a, b), strings.HasPrefix(b, a):
		return NTEELevelSubcategory
	case a[0] == b[0]:
		return NTEELevelMajor
	default:
		return NTEELevelNone
	}
}

// ScoreNTEE scores the best alignment between the seeker's and the candidate's
// codes. The score is the maximum over all pairs; ties prefer the more specific
// (longer) code. An empty usable set on either side is InsufficientData.
func ScoreNTEE(seekerCodes, candidateCodes []string) ComponentResult {
	seeker, seekerInvalid := normalizeCodes(seekerCodes)
	candidate, candidateInvalid := normalizeCodes(candidateCodes)

	var evidence []string
	if len(seekerInvalid) > 0 {
		evidence = append(evidence, "ignored malformed seeker NTEE codes: "+strings.Join(seekerInvalid, ", "))
	}
	if len(candidateInvalid) > 0 {
		evidence = append(evidence, "ignored malformed candidate NTEE codes: "+strings.Join(candidateInvalid, ", "))
	}

	switch {
	case len(seeker) == 0:
		return insufficient(ComponentNTEE, append(evidence, "seeker has no NTEE codes")...)
	case len(candidate) == 0:
		return insufficient(ComponentNTEE, append(evidence, "candidate has no NTEE codes")...)
	}

	var (
		best      nteePair
		bestFound bool
	)
	for _, s := range seeker {
		for _, c := range candidate {
			level := NTEEMatchLevel(s, c)
			p := nteePair{seeker: s, candidate: c, level: level, score: nteeTierScores[level]}
			if !bestFound || p.better(best) {
				best, bestFound = p, true
			}
		}
	}

	if best.level == NTEELevelNone {
		evidence = append(evidence, fmt.Sprintf("no overlap between seeker codes [%s] and candidate codes [%s]",
			strings.Join(seeker, ", "), strings.Join(candidate, ", ")))
	} else {
		evidence = append(evidence, fmt.Sprintf("seeker %s matches candidate %s (%s)", best.seeker, best.candidate, best.level))
	}

	result := measured(ComponentNTEE, best.score, best.level, evidence...)
	result.Metrics = map[string]float64{
		"seeker_codes":    float64(len(seeker)),
		"candidate_codes": float64(len(candidate)),
	}
	return result
}

type nteePair struct {
	seeker    string
	candidate string
	level     string
	score     float64
}

// better orders pairs by score, then code specificity, then lexically for a stable choice.
func (p nteePair) better(o nteePair) bool {
	if p.score != o.score {
		return p.score > o.score
	}
	if len(p.candidate) != len(o.candidate) {
		return len(p.candidate) > len(o.candidate)
	}
	if len(p.seeker) != len(o.seeker) {
		return len(p.seeker) > len(o.seeker)
	}
	if p.candidate != o.candidate {
		return p.candidate < o.candidate
	}
	return p.seeker < o.seeker
}

func normalizeCodes(codes []string) (valid, invalid []string) {
	for _, raw := range codes {
		code, ok := NormalizeNTEE(raw)
		if !ok {
			if code != "" {
				invalid = append(invalid, code)
			}
			continue
		}
		if !slices.Contains(valid, code) {
			valid = append(valid, code)
		}
	}
	slices.Sort(valid)
	return valid, invalid
}

func commonPrefixLen(a, b string) int {
	n := min(len(a), len(b))
	for i := range n {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
