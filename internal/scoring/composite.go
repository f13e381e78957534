package scoring

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/grant-matcher/internal/foundation"
	"github.com/spigell/grant-matcher/internal/logger"
	"github.com/spigell/grant-matcher/internal/utils"
)

// Stage is a step of one scoring run.
type Stage string

const (
	StageScoring        Stage = "scoring"
	StageAggregating    Stage = "aggregating"
	StageSafeguardCheck Stage = "safeguard_check"
	StageDecided        Stage = "decided"
	StageFailed         Stage = "failed"
)

var stageTransitions = map[Stage][]Stage{
	StageScoring:        {StageAggregating, StageFailed},
	StageAggregating:    {StageSafeguardCheck, StageFailed},
	StageSafeguardCheck: {StageDecided, StageFailed},
}

// Input is one seeker/candidate pair to score.
type Input struct {
	Seeker    *foundation.SeekerProfile
	Candidate *foundation.CandidateFoundation
	// AsOf is the reference time for filing recency. Zero means now.
	AsOf time.Time
	// External holds results from components computed outside the scorer,
	// such as the LLM screening.
	External []ComponentResult
	// ExternalFault is a computation fault raised while producing External.
	// It fails the run like a fault in a built-in component.
	ExternalFault error
}

// Scorer combines the component scorers into a PASS/ABSTAIN/FAIL decision.
// It holds a validated copy of its configuration and is safe for concurrent use.
type Scorer struct {
	cfg        Config
	logger     *zap.Logger
	safeguards []Safeguard
}

// New validates cfg and builds a Scorer.
func New(cfg Config, log *zap.Logger) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	cfg = cfg.clone()
	return &Scorer{
		cfg:        cfg,
		logger:     log,
		safeguards: DefaultSafeguards(cfg),
	}, nil
}

// Config returns a copy of the scorer configuration.
func (s *Scorer) Config() Config {
	return s.cfg.clone()
}

// Safeguards describes the safeguards the scorer runs.
func (s *Scorer) Safeguards() []SafeguardStatus {
	return DescribeSafeguards(s.safeguards)
}

// run tracks the stage of one scoring invocation.
type run struct {
	result *CompositeResult
}

func (r *run) advance(next Stage) error {
	if !slices.Contains(stageTransitions[r.result.Stage], next) {
		return fault("composite", "illegal stage transition %s -> %s", r.result.Stage, next)
	}
	r.result.Stage = next
	return nil
}

// Score evaluates one pair. It never returns PASS for a pair whose scoring failed.
func (s *Scorer) Score(in Input) *CompositeResult {
	asOf := in.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	result := &CompositeResult{
		AsOf:       asOf,
		Stage:      StageScoring,
		Thresholds: s.cfg.Thresholds(),
	}
	if in.Seeker != nil {
		result.SeekerID = in.Seeker.ID
	}
	if in.Candidate != nil {
		result.CandidateEIN = in.Candidate.EIN
		result.CandidateName = in.Candidate.Name
	}
	log := logger.WithPair(s.logger, result.SeekerID, result.CandidateEIN)
	r := &run{result: result}

	components, err := s.scoreComponents(in)
	if err == nil {
		err = r.advance(StageAggregating)
	}
	if err != nil {
		s.fail(r, err)
		log.Warn("scoring failed", zap.Error(err))
		return result
	}
	result.Components = components

	score, evidence := s.aggregate(components)
	result.Score, _ = score.Float()
	result.InsufficientData = score.IsInsufficient()
	result.Evidence = evidence

	if err := r.advance(StageSafeguardCheck); err != nil {
		s.fail(r, err)
		return result
	}
	result.Safeguards = RunSafeguards(log, s.safeguards, &Bundle{
		Candidate:  in.Candidate,
		Components: components,
		Config:     s.cfg,
		AsOf:       asOf,
	})

	if err := r.advance(StageDecided); err != nil {
		s.fail(r, err)
		return result
	}
	result.Status = StatusDecided
	result.Decision, result.Reason = Decide(score, s.cfg.Thresholds(), result.Safeguards)

	log.Debug("candidate scored",
		zap.Stringer("score", score),
		zap.String("decision", string(result.Decision)),
		zap.Strings("safeguards", result.TriggeredSafeguards()),
	)
	return result
}

func (s *Scorer) fail(r *run, err error) {
	result := r.result
	if advErr := r.advance(StageFailed); advErr != nil {
		err = errors.Join(err, advErr)
		result.Stage = StageFailed
	}
	result.Status = StatusScoringFailed
	result.Decision = DecisionAbstain
	result.Score = 0
	result.Fault = err.Error()
	result.Reason = "scoring failed: " + err.Error()
}

// scoreComponents runs every built-in scorer plus the external results.
// A panic inside a scorer is reported as a computation fault.
func (s *Scorer) scoreComponents(in Input) (components []ComponentResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			components = nil
			err = &FaultError{Component: "composite", Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	switch {
	case in.Seeker == nil:
		return nil, fault("composite", "seeker profile is required")
	case in.Candidate == nil:
		return nil, fault("composite", "candidate foundation is required")
	case in.ExternalFault != nil:
		return nil, in.ExternalFault
	}

	seeker, candidate := in.Seeker, in.Candidate
	components = append(components,
		ScoreNTEE(seeker.NTEECodes, candidate.NTEECodes),
		ScoreGeography(seeker.Geography, candidate.Location),
	)

	grants := candidate.SortedGrants()
	size, err := ScoreGrantSize(seeker.FundingNeed, grants, s.cfg)
	if err != nil {
		return nil, err
	}
	coherence, err := ScoreCoherence(grants, s.cfg)
	if err != nil {
		return nil, err
	}
	payout, err := ScorePayout(candidate.QualifyingAssets, candidate.AnnualDistributions)
	if err != nil {
		return nil, err
	}
	components = append(components, size, coherence, payout)

	for _, ext := range in.External {
		if !slices.Contains(KnownComponents, ext.Component) || slices.ContainsFunc(components, func(c ComponentResult) bool {
			return c.Component == ext.Component
		}) {
			return nil, fault("composite", "unexpected external component %q", ext.Component)
		}
		components = append(components, ext)
	}

	// A weighted component nobody supplied counts as missing data.
	for _, name := range s.cfg.weightedComponents() {
		if !slices.ContainsFunc(components, func(c ComponentResult) bool { return c.Component == name }) {
			components = append(components, insufficient(name, "component was not evaluated"))
		}
	}

	for _, c := range components {
		if v, ok := c.Score.Float(); ok && !validUnit(v) {
			return nil, fault(c.Component, "score %v outside [0,1]", v)
		}
	}
	return components, nil
}

// aggregate computes the weighted score on the 0..100 scale, renormalised over
// the weights of components that have data. With no such component the score
// is InsufficientData.
func (s *Scorer) aggregate(components []ComponentResult) (Score, []string) {
	var (
		sum, weight float64
		evidence    []string
		missing     []string
	)
	for _, c := range components {
		w := s.cfg.Weight(c.Component)
		if w <= 0 {
			continue
		}
		v, ok := c.Score.Float()
		if !ok {
			missing = append(missing, c.Component)
			continue
		}
		sum += w * v
		weight += w
		evidence = append(evidence, fmt.Sprintf("%s %.2f x %.2f (%s)", c.Component, v, w, c.Level))
	}
	if len(missing) > 0 {
		evidence = append(evidence, "excluded for missing data: "+strings.Join(missing, ", "))
	}
	if weight == 0 {
		return InsufficientData(), append(evidence, noWeightedData)
	}
	return Value(utils.Round(sum/weight*100, 2)), evidence
}

const noWeightedData = "no weighted component has data"

// Decide maps a composite score and safeguard verdicts to a decision and a
// human-readable reason. It is a pure function of its arguments. An
// InsufficientData score is never PASS or FAIL.
func Decide(composite Score, t Thresholds, verdicts []SafeguardVerdict) (Decision, string) {
	score, ok := composite.Float()
	if !ok {
		return DecisionAbstain, "insufficient data: " + noWeightedData
	}

	var triggered []string
	for _, v := range verdicts {
		if v.Triggered {
			triggered = append(triggered, fmt.Sprintf("%s: %s", v.Name, v.Reason))
		}
	}
	if len(triggered) > 0 {
		return DecisionAbstain, "safeguard override: " + strings.Join(triggered, "; ")
	}

	switch {
	case score >= t.Pass:
		return DecisionPass, fmt.Sprintf("score %.2f meets the pass threshold %.2f", score, t.Pass)
	case score <= t.Fail:
		return DecisionFail, fmt.Sprintf("score %.2f is at or below the fail threshold %.2f", score, t.Fail)
	default:
		return DecisionAbstain, fmt.Sprintf("score %.2f falls between the fail threshold %.2f and the pass threshold %.2f",
			score, t.Fail, t.Pass)
	}
}
