package foundation

import (
	"slices"
	"strings"
	"time"
)

// SeekerProfile is the organization looking for grants. It is treated as a
// read-only snapshot for the duration of a scoring run.
type SeekerProfile struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	NTEECodes       []string    `json:"ntee_codes,omitempty"`
	Geography       Geography   `json:"geography"`
	FundingNeed     FundingNeed `json:"funding_need"`
	MissionKeywords []string    `json:"mission_keywords,omitempty"`
}

// Geography describes where a seeker operates.
type Geography struct {
	// Regions holds state codes (e.g. "VA") or census regions (e.g. "SOUTH").
	Regions  []string `json:"regions,omitempty"`
	National bool     `json:"national,omitempty"`
}

// FundingNeed is the annual amount a seeker asks for. Min == Max is a point need.
type FundingNeed struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Point returns the representative value of the need: the midpoint of the range.
// A range with only one bound set collapses to that bound.
func (n FundingNeed) Point() float64 {
	switch {
	case n.Max == 0:
		return n.Min
	case n.Min == 0:
		return n.Max
	default:
		return (n.Min + n.Max) / 2
	}
}

// CandidateFoundation is a grant-making entity sourced from bulk filing ingestion.
type CandidateFoundation struct {
	EIN       string   `json:"ein"`
	Name      string   `json:"name"`
	NTEECodes []string `json:"ntee_codes,omitempty"`
	Location  Location `json:"location"`

	// QualifyingAssets and AnnualDistributions are nil when the filing did not report them.
	QualifyingAssets    *float64 `json:"qualifying_assets,omitempty"`
	AnnualDistributions *float64 `json:"annual_distributions,omitempty"`

	LastFilingDate time.Time     `json:"last_filing_date"`
	Grants         []GrantRecord `json:"grants,omitempty"`
}

// Location is the registered location of a candidate.
type Location struct {
	State string `json:"state,omitempty"`
	City  string `json:"city,omitempty"`
}

// GrantRecord is one Schedule I entry.
type GrantRecord struct {
	RecipientName string  `json:"recipient_name,omitempty"`
	RecipientEIN  string  `json:"recipient_ein,omitempty"`
	RecipientNTEE string  `json:"recipient_ntee,omitempty"`
	Amount        float64 `json:"amount"`
	FilingYear    int     `json:"filing_year"`
}

// SortedGrants returns a copy of the grants ordered by filing year, newest first.
// Grants from the same year keep their original relative order.
func (c *CandidateFoundation) SortedGrants() []GrantRecord {
	sorted := slices.Clone(c.Grants)
	slices.SortStableFunc(sorted, func(a, b GrantRecord) int {
		return b.FilingYear - a.FilingYear
	})
	return sorted
}

// GrantAmounts returns the amounts of all grants in filing order.
func (c *CandidateFoundation) GrantAmounts() []float64 {
	amounts := make([]float64, 0, len(c.Grants))
	for _, g := range c.Grants {
		amounts = append(amounts, g.Amount)
	}
	return amounts
}

// Label is a short human-readable identifier used in logs and tables.
func (c *CandidateFoundation) Label() string {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return c.EIN
	}
	return name + " (" + c.EIN + ")"
}

// Float returns a pointer to v. It keeps literal construction of optional
// financial fields readable.
func Float(v float64) *float64 {
	return &v
}
