package scoring

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/grant-matcher/internal/foundation"
)

func batchCandidates(n int) []*foundation.CandidateFoundation {
	candidates := make([]*foundation.CandidateFoundation, 0, n)
	for i := range n {
		c := strongCandidate("E32")
		c.EIN = fmt.Sprintf("00-%07d", i)
		if i%3 == 0 {
			c.QualifyingAssets = nil
			c.Grants = nil
		}
		candidates = append(candidates, c)
	}
	return candidates
}

func TestScoreBatchKeepsInputOrder(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	s, err := New(DefaultConfig(), zap.New(core))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	candidates := batchCandidates(25)
	results, err := s.ScoreBatch(context.Background(), testSeeker("E32"), candidates, BatchOptions{Workers: 4, AsOf: testAsOf})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(results) != len(candidates) {
		t.Fatalf("expected %d results, got %d", len(candidates), len(results))
	}
	for i, r := range results {
		if r.CandidateEIN != candidates[i].EIN {
			t.Fatalf("position %d: expected %s, got %s", i, candidates[i].EIN, r.CandidateEIN)
		}
		if !r.AsOf.Equal(testAsOf) {
			t.Fatalf("position %d: expected shared as-of time", i)
		}
	}

	summary := Summarize(results)
	if summary.Abstain != 9 || summary.Pass != 16 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	entries := logs.FilterMessage("batch scored").All()
	if len(entries) != 1 || entries[0].ContextMap()["candidates"] != int64(25) {
		t.Fatalf("expected one batch summary log, got %v", entries)
	}
}

func TestScoreBatchMatchesSequentialScoring(t *testing.T) {
	t.Parallel()
	s := newTestScorer(t, DefaultConfig())
	candidates := batchCandidates(10)
	seeker := testSeeker("E32")

	results, err := s.ScoreBatch(context.Background(), seeker, candidates, BatchOptions{Workers: 3, AsOf: testAsOf})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, c := range candidates {
		single := s.Score(Input{Seeker: seeker, Candidate: c, AsOf: testAsOf})
		if single.Score != results[i].Score || single.Decision != results[i].Decision {
			t.Fatalf("candidate %s: batch %v/%s vs single %v/%s",
				c.EIN, results[i].Score, results[i].Decision, single.Score, single.Decision)
		}
	}
}

func TestScoreBatchExternalComponents(t *testing.T) {
	t.Parallel()
	s := newTestScorer(t, screeningConfig())

	var calls atomic.Int32
	external := func(_ context.Context, _ *foundation.SeekerProfile, c *foundation.CandidateFoundation) ([]ComponentResult, error) {
		calls.Add(1)
		return []ComponentResult{measured(ComponentScreening, 0.9, "fit", "screened "+c.EIN)}, nil
	}

	results, err := s.ScoreBatch(context.Background(), testSeeker("E32"), batchCandidates(6), BatchOptions{AsOf: testAsOf, External: external})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 6 {
		t.Fatalf("expected 6 external calls, got %d", calls.Load())
	}
	for _, r := range results {
		c, ok := r.Component(ComponentScreening)
		if !ok || c.InsufficientData {
			t.Fatalf("expected screening component on %s", r.CandidateEIN)
		}
	}
}

func TestScoreBatchExternalErrorAborts(t *testing.T) {
	t.Parallel()
	s := newTestScorer(t, screeningConfig())

	boom := errors.New("provider unavailable")
	external := func(context.Context, *foundation.SeekerProfile, *foundation.CandidateFoundation) ([]ComponentResult, error) {
		return nil, boom
	}

	_, err := s.ScoreBatch(context.Background(), testSeeker("E32"), batchCandidates(4), BatchOptions{Workers: 2, External: external})
	if !errors.Is(err, boom) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestScoreBatchHonorsCancellation(t *testing.T) {
	t.Parallel()
	s := newTestScorer(t, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.ScoreBatch(ctx, testSeeker("E32"), batchCandidates(3), BatchOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}
