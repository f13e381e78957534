package ai

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/spigell/grant-matcher/internal/foundation"
	"github.com/spigell/grant-matcher/internal/logger"
	"github.com/spigell/grant-matcher/internal/scoring"
)

// Screening levels reported on the ai_screening component.
const (
	LevelFit    = "fit"
	LevelNotFit = "not_fit"
)

// Screening is the structured verdict of an LLM screener.
type Screening struct {
	Fit    bool
	Score  float64
	Reason string
	Raw    string
}

// Screener asks an LLM whether a candidate suits a seeker.
type Screener interface {
	Screen(ctx context.Context, seeker *foundation.SeekerProfile, candidate *foundation.CandidateFoundation) (*Screening, error)
}

// ScreeningComponent turns a Screener into the ai_screening component result.
// FallbackOnError chooses how screener failures surface: as InsufficientData,
// or as a computation fault that fails the candidate's scoring.
type ScreeningComponent struct {
	screener        Screener
	fallbackOnError bool
	logger          *zap.Logger
}

// NewScreeningComponent wraps s.
func NewScreeningComponent(s Screener, fallbackOnError bool, log *zap.Logger) *ScreeningComponent {
	return &ScreeningComponent{
		screener:        s,
		fallbackOnError: fallbackOnError,
		logger:          logger.WithFields(log),
	}
}

// Evaluate matches scoring.ExternalFunc.
func (c *ScreeningComponent) Evaluate(ctx context.Context, seeker *foundation.SeekerProfile, candidate *foundation.CandidateFoundation) ([]scoring.ComponentResult, error) {
	var seekerID, ein string
	if seeker != nil {
		seekerID = seeker.ID
	}
	if candidate != nil {
		ein = candidate.EIN
	}
	log := logger.WithPair(c.logger, seekerID, ein)

	screening, err := c.screener.Screen(ctx, seeker, candidate)
	if err == nil {
		err = validate(screening)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, err
		}
		if c.fallbackOnError {
			log.Warn("AI screening failed, continuing without it", zap.Error(err))
			return []scoring.ComponentResult{{
				Component:        scoring.ComponentScreening,
				Score:            scoring.InsufficientData(),
				InsufficientData: true,
				Level:            scoring.LevelInsufficientData,
				Evidence:         []string{"screening unavailable: " + err.Error()},
			}}, nil
		}
		return nil, &scoring.FaultError{Component: scoring.ComponentScreening, Err: err}
	}

	level := LevelNotFit
	if screening.Fit {
		level = LevelFit
	}
	var evidence []string
	if screening.Reason != "" {
		evidence = append(evidence, screening.Reason)
	}

	log.Debug("AI screening completed",
		zap.Bool("fit", screening.Fit),
		zap.Float64("ai_score", screening.Score),
	)
	return []scoring.ComponentResult{{
		Component: scoring.ComponentScreening,
		Score:     scoring.Value(screening.Score),
		Level:     level,
		Evidence:  evidence,
	}}, nil
}

func validate(s *Screening) error {
	switch {
	case s == nil:
		return errors.New("screener returned no result")
	case math.IsNaN(s.Score) || s.Score < 0 || s.Score > 1:
		return fmt.Errorf("screening score %v outside [0,1]", s.Score)
	}
	return nil
}
