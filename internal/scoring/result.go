package scoring

import (
	"time"
)

// Component names. They double as weight keys in the configuration.
const (
	ComponentNTEE       = "ntee"
	ComponentGeographic = "geographic"
	ComponentGrantSize  = "grant_size"
	ComponentCoherence  = "coherence"
	ComponentPayout     = "payout"
	ComponentScreening  = "ai_screening"
)

// LevelInsufficientData is shared by every component that had no usable input.
const LevelInsufficientData = "insufficient_data"

// KnownComponents lists every component name accepted by the configuration, in evaluation order.
var KnownComponents = []string{
	ComponentNTEE,
	ComponentGeographic,
	ComponentGrantSize,
	ComponentCoherence,
	ComponentPayout,
	ComponentScreening,
}

// ComponentResult is the output of one scorer.
type ComponentResult struct {
	Component        string             `json:"component"`
	Score            Score              `json:"score"`
	InsufficientData bool               `json:"insufficient_data"`
	Level            string             `json:"level"`
	Evidence         []string           `json:"evidence,omitempty"`
	Metrics          map[string]float64 `json:"metrics,omitempty"`
}

func measured(component string, score float64, level string, evidence ...string) ComponentResult {
	return ComponentResult{
		Component: component,
		Score:     Value(score),
		Level:     level,
		Evidence:  evidence,
	}
}

func insufficient(component string, evidence ...string) ComponentResult {
	return ComponentResult{
		Component:        component,
		Score:            InsufficientData(),
		InsufficientData: true,
		Level:            LevelInsufficientData,
		Evidence:         evidence,
	}
}

// Decision is the three-way outcome of the composite scorer.
type Decision string

const (
	DecisionPass    Decision = "PASS"
	DecisionAbstain Decision = "ABSTAIN"
	DecisionFail    Decision = "FAIL"
)

// Status tells a decided result apart from one whose scoring failed.
type Status string

const (
	StatusDecided       Status = "decided"
	StatusScoringFailed Status = "scoring_failed"
)

// Thresholds are the composite score cut-offs, on the 0..100 scale.
type Thresholds struct {
	Pass float64 `json:"pass"`
	Fail float64 `json:"fail"`
}

// SafeguardVerdict is the outcome of one reliability safeguard.
type SafeguardVerdict struct {
	Name      string `json:"name"`
	Triggered bool   `json:"triggered"`
	Reason    string `json:"reason"`
}

// CompositeResult is the flat, self-describing record produced for one seeker/candidate pair.
// InsufficientData is set when no weighted component had data; Score is then 0.
type CompositeResult struct {
	SeekerID         string             `json:"seeker_id"`
	CandidateEIN     string             `json:"candidate_ein"`
	CandidateName    string             `json:"candidate_name,omitempty"`
	AsOf             time.Time          `json:"as_of"`
	Status           Status             `json:"status"`
	Stage            Stage              `json:"stage"`
	Score            float64            `json:"score"`
	InsufficientData bool               `json:"insufficient_data,omitempty"`
	Decision         Decision           `json:"decision"`
	Reason           string             `json:"reason"`
	Thresholds       Thresholds         `json:"thresholds"`
	Components       []ComponentResult  `json:"components"`
	Safeguards       []SafeguardVerdict `json:"safeguards,omitempty"`
	Evidence         []string           `json:"evidence,omitempty"`
	Fault            string             `json:"fault,omitempty"`
}

// Failed reports whether scoring was aborted by a computation fault.
func (r *CompositeResult) Failed() bool {
	return r.Status == StatusScoringFailed
}

// NeedsReview reports whether the result must go to human triage.
func (r *CompositeResult) NeedsReview() bool {
	return r.Failed() || r.Decision == DecisionAbstain
}

// Component returns the named component result, if present.
func (r *CompositeResult) Component(name string) (ComponentResult, bool) {
	for _, c := range r.Components {
		if c.Component == name {
			return c, true
		}
	}
	return ComponentResult{}, false
}

// TriggeredSafeguards returns the names of safeguards that fired.
func (r *CompositeResult) TriggeredSafeguards() []string {
	var names []string
	for _, v := range r.Safeguards {
		if v.Triggered {
			names = append(names, v.Name)
		}
	}
	return names
}
