package scoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"slices"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/grant-matcher/internal/foundation"
)

var testAsOf = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

func testSeeker(codes ...string) *foundation.SeekerProfile {
	return &foundation.SeekerProfile{
		ID:          "seeker-1",
		Name:        "Riverbend Youth Arts",
		NTEECodes:   codes,
		Geography:   foundation.Geography{Regions: []string{"VA"}},
		FundingNeed: foundation.FundingNeed{Min: 50000, Max: 50000},
	}
}

func strongCandidate(codes ...string) *foundation.CandidateFoundation {
	grants := make([]foundation.GrantRecord, 0, 3)
	for _, amount := range []float64{40000, 50000, 60000} {
		grants = append(grants, foundation.GrantRecord{RecipientNTEE: "E32", Amount: amount, FilingYear: 2023})
	}
	return &foundation.CandidateFoundation{
		EIN:                 "54-1234567",
		Name:                "Blue Ridge Health Trust",
		NTEECodes:           codes,
		Location:            foundation.Location{State: "VA", City: "Roanoke"},
		QualifyingAssets:    foundation.Float(2000000),
		AnnualDistributions: foundation.Float(110000),
		LastFilingDate:      time.Date(2024, time.June, 30, 0, 0, 0, 0, time.UTC),
		Grants:              grants,
	}
}

func newTestScorer(t *testing.T, cfg Config) *Scorer {
	t.Helper()
	s, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected config error: %v", err)
	}
	return s
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestScenarioStrongMatchPasses(t *testing.T) {
	t.Parallel()
	s := newTestScorer(t, DefaultConfig())

	result := s.Score(Input{Seeker: testSeeker("E32"), Candidate: strongCandidate("E32"), AsOf: testAsOf})

	if result.Decision != DecisionPass {
		t.Fatalf("expected PASS, got %s (%s)", result.Decision, result.Reason)
	}
	if result.Status != StatusDecided || result.Stage != StageDecided {
		t.Fatalf("unexpected status/stage: %s/%s", result.Status, result.Stage)
	}
	if !approxEqual(result.Score, 89.85) {
		t.Fatalf("expected score 89.85, got %v", result.Score)
	}

	payout, _ := result.Component(ComponentPayout)
	if payout.Level != PayoutLevelAdequate {
		t.Fatalf("expected adequate payout band, got %s", payout.Level)
	}
	size, _ := result.Component(ComponentGrantSize)
	if size.Level != SizeLevelGoodFit {
		t.Fatalf("expected good fit grant-size band, got %s", size.Level)
	}
	if triggered := result.TriggeredSafeguards(); len(triggered) != 0 {
		t.Fatalf("expected no safeguards, got %v", triggered)
	}
}

func TestScenarioMissingDataAbstains(t *testing.T) {
	t.Parallel()
	s := newTestScorer(t, DefaultConfig())

	candidate := strongCandidate("E32")
	candidate.Grants = nil
	candidate.QualifyingAssets = nil

	result := s.Score(Input{Seeker: testSeeker("E32"), Candidate: candidate, AsOf: testAsOf})

	for _, name := range []string{ComponentGrantSize, ComponentPayout} {
		c, ok := result.Component(name)
		if !ok || !c.InsufficientData {
			t.Fatalf("expected %s to report insufficient data, got %+v", name, c)
		}
	}
	if !slices.Contains(result.TriggeredSafeguards(), SafeguardCompleteness) {
		t.Fatalf("expected completeness safeguard, got %v", result.Safeguards)
	}
	if result.Decision != DecisionAbstain {
		t.Fatalf("expected ABSTAIN, got %s", result.Decision)
	}
	if !strings.Contains(result.Reason, SafeguardCompleteness) {
		t.Fatalf("expected reason to name the safeguard, got %q", result.Reason)
	}
}

func TestScenarioTaxonomyMismatch(t *testing.T) {
	t.Parallel()

	t.Run("default weights abstain on conflicting signals", func(t *testing.T) {
		t.Parallel()
		s := newTestScorer(t, DefaultConfig())
		result := s.Score(Input{Seeker: testSeeker("A20"), Candidate: strongCandidate("B30"), AsOf: testAsOf})

		ntee, _ := result.Component(ComponentNTEE)
		if v, _ := ntee.Score.Float(); v != 0 {
			t.Fatalf("expected zero taxonomy score, got %v", v)
		}
		if !approxEqual(result.Score, 59.85) {
			t.Fatalf("expected score 59.85, got %v", result.Score)
		}
		if result.Decision == DecisionFail {
			t.Fatalf("taxonomy alone must not force FAIL")
		}
		if !slices.Contains(result.TriggeredSafeguards(), SafeguardConflictingSignals) {
			t.Fatalf("expected conflicting signals safeguard, got %v", result.Safeguards)
		}
	})

	t.Run("taxonomy-heavy weights cross the fail threshold", func(t *testing.T) {
		t.Parallel()
		cfg := DefaultConfig()
		cfg.DivergenceThreshold = 1.0
		cfg.Weights = map[string]float64{
			ComponentNTEE:       0.70,
			ComponentGeographic: 0.10,
			ComponentGrantSize:  0.10,
			ComponentCoherence:  0.05,
			ComponentPayout:     0.05,
		}
		s := newTestScorer(t, cfg)
		result := s.Score(Input{Seeker: testSeeker("A20"), Candidate: strongCandidate("B30"), AsOf: testAsOf})

		if !approxEqual(result.Score, 27.15) {
			t.Fatalf("expected score 27.15, got %v", result.Score)
		}
		if result.Decision != DecisionFail {
			t.Fatalf("expected FAIL, got %s (%s)", result.Decision, result.Reason)
		}
	})
}

func TestSafeguardOverridesPassingScore(t *testing.T) {
	t.Parallel()
	s := newTestScorer(t, DefaultConfig())

	candidate := strongCandidate("E32")
	candidate.LastFilingDate = time.Date(2019, time.December, 31, 0, 0, 0, 0, time.UTC)

	result := s.Score(Input{Seeker: testSeeker("E32"), Candidate: candidate, AsOf: testAsOf})
	if result.Score < result.Thresholds.Pass {
		t.Fatalf("expected a passing numeric score, got %v", result.Score)
	}
	if result.Decision != DecisionAbstain {
		t.Fatalf("expected ABSTAIN, got %s", result.Decision)
	}
	if got := result.TriggeredSafeguards(); !slices.Equal(got, []string{SafeguardFilingRecency}) {
		t.Fatalf("expected only filing recency, got %v", got)
	}
}

func TestDisabledSafeguardIsSkipped(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.DisabledSafeguards = []string{SafeguardFilingRecency}
	s := newTestScorer(t, cfg)

	candidate := strongCandidate("E32")
	candidate.LastFilingDate = time.Time{}

	result := s.Score(Input{Seeker: testSeeker("E32"), Candidate: candidate, AsOf: testAsOf})
	if result.Decision != DecisionPass {
		t.Fatalf("expected PASS, got %s (%s)", result.Decision, result.Reason)
	}
	for _, v := range result.Safeguards {
		if v.Name == SafeguardFilingRecency {
			t.Fatalf("disabled safeguard must not produce a verdict")
		}
	}
}

func TestNoWeightedDataAbstainsWithSafeguardsOff(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.DisabledSafeguards = []string{SafeguardCompleteness, SafeguardFilingRecency}
	s := newTestScorer(t, cfg)

	seeker := &foundation.SeekerProfile{ID: "seeker-empty"}
	candidate := &foundation.CandidateFoundation{EIN: "00-0000000"}

	result := s.Score(Input{Seeker: seeker, Candidate: candidate, AsOf: testAsOf})
	if result.Failed() {
		t.Fatalf("expected a decided result, got fault %q", result.Fault)
	}
	if result.Decision != DecisionAbstain {
		t.Fatalf("expected ABSTAIN, got %s (%s)", result.Decision, result.Reason)
	}
	if !result.InsufficientData || result.Score != 0 {
		t.Fatalf("expected insufficient composite score, got score=%v insufficient=%v", result.Score, result.InsufficientData)
	}
	if !strings.Contains(result.Reason, "no weighted component has data") {
		t.Fatalf("expected reason to explain missing data, got %q", result.Reason)
	}
	if len(result.TriggeredSafeguards()) != 0 {
		t.Fatalf("expected no safeguard to fire, got %v", result.TriggeredSafeguards())
	}
	if !result.NeedsReview() {
		t.Fatalf("expected result without data to need review")
	}
}

func TestComputationFaultNeverPasses(t *testing.T) {
	t.Parallel()
	s := newTestScorer(t, DefaultConfig())

	candidate := strongCandidate("E32")
	candidate.QualifyingAssets = foundation.Float(-5)

	result := s.Score(Input{Seeker: testSeeker("E32"), Candidate: candidate, AsOf: testAsOf})
	if !result.Failed() || result.Stage != StageFailed {
		t.Fatalf("expected failed result, got %s/%s", result.Status, result.Stage)
	}
	if result.Decision != DecisionAbstain {
		t.Fatalf("expected ABSTAIN for a failed result, got %s", result.Decision)
	}
	if !strings.Contains(result.Fault, ComponentPayout) || result.Reason == "" {
		t.Fatalf("expected fault naming payout, got fault=%q reason=%q", result.Fault, result.Reason)
	}
	if !result.NeedsReview() {
		t.Fatalf("expected failed result to need review")
	}
}

func TestOverflowingInputsFailAndStillEncode(t *testing.T) {
	t.Parallel()
	s := newTestScorer(t, DefaultConfig())

	payout := strongCandidate("E32")
	payout.QualifyingAssets = foundation.Float(1e-300)
	payout.AnnualDistributions = foundation.Float(1e10)

	seeker := testSeeker("E32")
	seeker.FundingNeed = foundation.FundingNeed{Min: 1e308, Max: 1.5e308}

	tests := []struct {
		name      string
		seeker    *foundation.SeekerProfile
		candidate *foundation.CandidateFoundation
	}{
		{name: "payout ratio", seeker: testSeeker("E32"), candidate: payout},
		{name: "funding need", seeker: seeker, candidate: strongCandidate("E32")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			result := s.Score(Input{Seeker: tt.seeker, Candidate: tt.candidate, AsOf: testAsOf})
			if !result.Failed() || result.Decision == DecisionPass {
				t.Fatalf("expected failed non-pass result, got %s/%s", result.Status, result.Decision)
			}
			if _, err := json.Marshal(result); err != nil {
				t.Fatalf("failed result must encode: %v", err)
			}
		})
	}
}

func TestMissingInputsAreFaults(t *testing.T) {
	t.Parallel()
	s := newTestScorer(t, DefaultConfig())

	if r := s.Score(Input{Candidate: strongCandidate("E32")}); !r.Failed() {
		t.Fatalf("expected failure without seeker")
	}
	if r := s.Score(Input{Seeker: testSeeker("E32")}); !r.Failed() {
		t.Fatalf("expected failure without candidate")
	}
}

func screeningConfig() Config {
	cfg := DefaultConfig()
	cfg.Weights = map[string]float64{
		ComponentNTEE:       0.25,
		ComponentGeographic: 0.15,
		ComponentGrantSize:  0.20,
		ComponentCoherence:  0.10,
		ComponentPayout:     0.20,
		ComponentScreening:  0.10,
	}
	return cfg
}

func TestExternalComponentIsWeighted(t *testing.T) {
	t.Parallel()
	s := newTestScorer(t, screeningConfig())

	without := s.Score(Input{Seeker: testSeeker("E32"), Candidate: strongCandidate("E32"), AsOf: testAsOf})
	screening, ok := without.Component(ComponentScreening)
	if !ok || !screening.InsufficientData {
		t.Fatalf("expected missing screening to be insufficient, got %+v", screening)
	}

	with := s.Score(Input{
		Seeker:    testSeeker("E32"),
		Candidate: strongCandidate("E32"),
		AsOf:      testAsOf,
		External:  []ComponentResult{measured(ComponentScreening, 0.2, "weak", "llm says weak")},
	})
	if with.Score >= without.Score {
		t.Fatalf("expected a weak screening to lower the score: %v >= %v", with.Score, without.Score)
	}
}

func TestExternalComponentValidation(t *testing.T) {
	t.Parallel()
	s := newTestScorer(t, screeningConfig())

	tests := []struct {
		name     string
		external ComponentResult
	}{
		{name: "out of range", external: measured(ComponentScreening, 1.5, "bad")},
		{name: "unknown component", external: measured("gut_feeling", 0.5, "bad")},
		{name: "shadows a built-in", external: measured(ComponentNTEE, 0.5, "bad")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := s.Score(Input{
				Seeker:    testSeeker("E32"),
				Candidate: strongCandidate("E32"),
				AsOf:      testAsOf,
				External:  []ComponentResult{tt.external},
			})
			if !r.Failed() {
				t.Fatalf("expected failure, got %s", r.Decision)
			}
		})
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	t.Parallel()
	s := newTestScorer(t, DefaultConfig())

	encode := func() []byte {
		r := s.Score(Input{Seeker: testSeeker("E32", "A20"), Candidate: strongCandidate("E30", "B30"), AsOf: testAsOf})
		data, err := json.Marshal(r)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return data
	}

	first := encode()
	for range 5 {
		if next := encode(); !bytes.Equal(first, next) {
			t.Fatalf("results differ:\n%s\n%s", first, next)
		}
	}
}

func TestInsufficientScoreEncodesAsNull(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(insufficient(ComponentPayout, "missing"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"score":null`) || !strings.Contains(string(data), `"insufficient_data":true`) {
		t.Fatalf("unexpected encoding: %s", data)
	}

	var decoded ComponentResult
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decoded.Score.IsInsufficient() {
		t.Fatalf("expected null to decode as insufficient data")
	}
}

func TestDecide(t *testing.T) {
	t.Parallel()
	th := Thresholds{Pass: 70, Fail: 40}
	tripped := []SafeguardVerdict{{Name: SafeguardCompleteness, Triggered: true, Reason: "missing"}}

	tests := []struct {
		name     string
		score    Score
		verdicts []SafeguardVerdict
		expect   Decision
	}{
		{name: "at pass threshold", score: Value(70), expect: DecisionPass},
		{name: "at fail threshold", score: Value(40), expect: DecisionFail},
		{name: "between", score: Value(55), expect: DecisionAbstain},
		{name: "safeguard overrides pass", score: Value(99), verdicts: tripped, expect: DecisionAbstain},
		{name: "safeguard overrides fail", score: Value(10), verdicts: tripped, expect: DecisionAbstain},
		{name: "untriggered verdicts ignored", score: Value(80), verdicts: []SafeguardVerdict{{Name: SafeguardCompleteness}}, expect: DecisionPass},
		{name: "insufficient data never fails", score: InsufficientData(), expect: DecisionAbstain},
		{name: "insufficient data with untriggered verdicts", score: InsufficientData(), verdicts: []SafeguardVerdict{{Name: SafeguardCompleteness}}, expect: DecisionAbstain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, reason := Decide(tt.score, th, tt.verdicts)
			if got != tt.expect {
				t.Fatalf("expected %s, got %s", tt.expect, got)
			}
			if reason == "" {
				t.Fatalf("expected a reason")
			}
		})
	}
}

func TestIllegalStageTransition(t *testing.T) {
	t.Parallel()

	r := &run{result: &CompositeResult{Stage: StageDecided}}
	if err := r.advance(StageScoring); !errors.Is(err, ErrComputationFault) {
		t.Fatalf("expected fault for illegal transition, got %v", err)
	}
	if r.result.Stage != StageDecided {
		t.Fatalf("stage must not change on an illegal transition")
	}
}

func TestScoreLogsDecisionAtDebug(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	s, err := New(DefaultConfig(), zap.New(core))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.Score(Input{Seeker: testSeeker("E32"), Candidate: strongCandidate("E32"), AsOf: testAsOf})

	entries := logs.FilterMessage("candidate scored").All()
	if len(entries) != 1 {
		t.Fatalf("expected one decision log, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["candidate_ein"] != "54-1234567" || fields["decision"] != string(DecisionPass) {
		t.Fatalf("unexpected log fields: %v", fields)
	}
}
