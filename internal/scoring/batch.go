package scoring

import (
	"context"
	"errors"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/grant-matcher/internal/foundation"
	"github.com/spigell/grant-matcher/internal/logger"
)

// ExternalFunc computes external component results for one candidate.
// An error matching ErrComputationFault fails only that candidate; any other
// error aborts the whole batch.
type ExternalFunc func(ctx context.Context, seeker *foundation.SeekerProfile, candidate *foundation.CandidateFoundation) ([]ComponentResult, error)

// BatchOptions tunes ScoreBatch.
type BatchOptions struct {
	// Workers bounds concurrent evaluations. Zero means GOMAXPROCS.
	Workers int
	// AsOf is shared by every candidate so a batch is evaluated against one clock.
	AsOf     time.Time
	External ExternalFunc
}

// BatchSummary counts decisions in a batch.
type BatchSummary struct {
	Total   int `json:"total"`
	Pass    int `json:"pass"`
	Abstain int `json:"abstain"`
	Fail    int `json:"fail"`
	Failed  int `json:"scoring_failed"`
}

// Summarize counts decisions over results.
func Summarize(results []*CompositeResult) BatchSummary {
	summary := BatchSummary{Total: len(results)}
	for _, r := range results {
		if r.Failed() {
			summary.Failed++
		}
		switch r.Decision {
		case DecisionPass:
			summary.Pass++
		case DecisionFail:
			summary.Fail++
		default:
			summary.Abstain++
		}
	}
	return summary
}

// ScoreBatch scores every candidate against the seeker using a bounded worker pool.
// Results are returned in input order.
func (s *Scorer) ScoreBatch(ctx context.Context, seeker *foundation.SeekerProfile, candidates []*foundation.CandidateFoundation, opts BatchOptions) ([]*CompositeResult, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	asOf := opts.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	results := make([]*CompositeResult, len(candidates))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, candidate := range candidates {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			in := Input{Seeker: seeker, Candidate: candidate, AsOf: asOf}
			if opts.External != nil {
				ext, err := opts.External(ctx, seeker, candidate)
				switch {
				case errors.Is(err, ErrComputationFault):
					in.ExternalFault = err
				case err != nil:
					return err
				}
				in.External = ext
			}

			results[i] = s.Score(in)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := Summarize(results)
	seekerID := ""
	if seeker != nil {
		seekerID = seeker.ID
	}
	s.logger.Info("batch scored",
		append(logger.StringFields(logger.StringField{Key: logger.FieldSeeker, Value: seekerID}),
			zap.Int("candidates", summary.Total),
			zap.Int("pass", summary.Pass),
			zap.Int("abstain", summary.Abstain),
			zap.Int("fail", summary.Fail),
			zap.Int("scoring_failed", summary.Failed),
			zap.Int("workers", workers),
		)...,
	)
	return results, nil
}
