package scoring

import (
	"fmt"
	"strings"

	"github.com/spigell/grant-matcher/internal/foundation"
)

// Geographic match tiers.
const (
	GeoLevelExact      = "exact"
	GeoLevelContaining = "containing"
	GeoLevelNational   = "national"
	GeoLevelNone       = "none"
)

var geoTierScores = map[string]float64{
	GeoLevelExact:      1.0,
	GeoLevelContaining: 0.8,
	GeoLevelNational:   0.8,
	GeoLevelNone:       0,
}

// US Census regions.
const (
	RegionNortheast = "NORTHEAST"
	RegionMidwest   = "MIDWEST"
	RegionSouth     = "SOUTH"
	RegionWest      = "WEST"
)

var censusRegions = map[string][]string{
	RegionNortheast: {"CT", "ME", "MA", "NH", "RI", "VT", "NJ", "NY", "PA"},
	RegionMidwest:   {"IL", "IN", "MI", "OH", "WI", "IA", "KS", "MN", "MO", "NE", "ND", "SD"},
	RegionSouth:     {"DE", "DC", "FL", "GA", "MD", "NC", "SC", "VA", "WV", "AL", "KY", "MS", "TN", "AR", "LA", "OK", "TX"},
	RegionWest:      {"AZ", "CO", "ID", "MT", "NV", "NM", "UT", "WY", "AK", "CA", "HI", "OR", "WA"},
}

var stateRegion = func() map[string]string {
	m := make(map[string]string)
	for region, states := range censusRegions {
		for _, s := range states {
			m[s] = region
		}
	}
	return m
}()

// RegionOf returns the census region containing a state code, or "" when unknown.
func RegionOf(state string) string {
	return stateRegion[strings.ToUpper(strings.TrimSpace(state))]
}

// ScoreGeography scores the seeker's geographic scope against the candidate's location.
func ScoreGeography(scope foundation.Geography, loc foundation.Location) ComponentResult {
	state := strings.ToUpper(strings.TrimSpace(loc.State))
	if state == "" {
		return insufficient(ComponentGeographic, "candidate location has no state")
	}

	regions := make(map[string]struct{}, len(scope.Regions))
	for _, r := range scope.Regions {
		r = strings.ToUpper(strings.TrimSpace(r))
		if r != "" {
			regions[r] = struct{}{}
		}
	}

	if len(regions) == 0 && !scope.National {
		return insufficient(ComponentGeographic, "seeker has no geographic scope")
	}

	candidateRegion := RegionOf(state)

	level := GeoLevelNone
	var evidence string
	switch {
	case has(regions, state):
		level = GeoLevelExact
		evidence = fmt.Sprintf("seeker serves %s where the candidate is located", state)
	case candidateRegion != "" && has(regions, candidateRegion):
		level = GeoLevelContaining
		evidence = fmt.Sprintf("candidate state %s lies in seeker region %s", state, candidateRegion)
	case scope.National:
		level = GeoLevelNational
		evidence = fmt.Sprintf("national seeker covers candidate state %s", state)
	default:
		evidence = fmt.Sprintf("candidate state %s is outside the seeker's scope", state)
	}

	return measured(ComponentGeographic, geoTierScores[level], level, evidence)
}

func has(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}
