package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	_ "embed"

	"go.uber.org/zap"

	"github.com/spigell/grant-matcher/internal/ai"
	"github.com/spigell/grant-matcher/internal/foundation"
	"github.com/spigell/grant-matcher/internal/logger"
	"github.com/spigell/grant-matcher/internal/utils"
)

const (
	providerName        = "gemini"
	defaultMaxLogLength = 200
	// Only the newest grants go into the prompt.
	maxPromptGrants = 20
)

//go:embed prompt.md
var systemPrompt string

type contentGenerator interface {
	GenerateContent(ctx context.Context, system, message string) (string, error)
	Model() string
}

// Screener implements ai.Screener on top of a Gemini generator.
type Screener struct {
	generator contentGenerator
	minScore  float64
	logger    *zap.Logger
	maxLogLen int
}

var _ ai.Screener = (*Screener)(nil)

func NewScreener(generator contentGenerator, log *zap.Logger, minScore float64, maxLogLength int) *Screener {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Screener{
		generator: generator,
		minScore:  minScore,
		logger:    logger.WithFields(log, logger.AIFields(providerName, generator.Model())...),
		maxLogLen: maxLogLength,
	}
}

type candidatePayload struct {
	EIN                 string                   `json:"ein"`
	Name                string                   `json:"name"`
	NTEECodes           []string                 `json:"ntee_codes,omitempty"`
	Location            foundation.Location      `json:"location"`
	QualifyingAssets    *float64                 `json:"qualifying_assets,omitempty"`
	AnnualDistributions *float64                 `json:"annual_distributions,omitempty"`
	TotalGrants         int                      `json:"total_grants"`
	RecentGrants        []foundation.GrantRecord `json:"recent_grants,omitempty"`
}

func (s *Screener) Screen(ctx context.Context, seeker *foundation.SeekerProfile, candidate *foundation.CandidateFoundation) (*ai.Screening, error) {
	if seeker == nil {
		return nil, errors.New("seeker profile is required")
	}
	if candidate == nil {
		return nil, errors.New("candidate foundation is required")
	}

	message, err := buildMessage(seeker, candidate)
	if err != nil {
		return nil, err
	}

	log := logger.WithPair(s.logger, seeker.ID, candidate.EIN)
	log.Debug("gemini generate content request",
		zap.Int("prompt_length", utf8.RuneCountInString(message)),
		zap.String("prompt_preview", utils.TruncateForLog(message, s.maxLogLen)),
	)

	raw, err := s.generator.GenerateContent(ctx, systemPrompt, message)
	if err != nil {
		return nil, err
	}

	log.Debug("gemini generate content response",
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, s.maxLogLen)),
	)

	screening, err := parseResponse(raw)
	if err != nil {
		return nil, err
	}

	if s.minScore > 0 && screening.Score < s.minScore {
		log.Debug("set fit to false by score threshold",
			zap.Float64("score", screening.Score),
			zap.Float64("threshold", s.minScore),
		)
		screening.Fit = false
	}

	screening.Raw = raw
	return screening, nil
}

func buildMessage(seeker *foundation.SeekerProfile, candidate *foundation.CandidateFoundation) (string, error) {
	seekerJSON, err := json.MarshalIndent(seeker, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal seeker payload: %w", err)
	}

	grants := candidate.SortedGrants()
	payload := candidatePayload{
		EIN:                 candidate.EIN,
		Name:                candidate.Name,
		NTEECodes:           candidate.NTEECodes,
		Location:            candidate.Location,
		QualifyingAssets:    candidate.QualifyingAssets,
		AnnualDistributions: candidate.AnnualDistributions,
		TotalGrants:         len(grants),
		RecentGrants:        grants[:min(len(grants), maxPromptGrants)],
	}
	candidateJSON, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal candidate payload: %w", err)
	}

	return "SEEKER:\n" + string(seekerJSON) + "\n\nCANDIDATE:\n" + string(candidateJSON) + "\n\nJSON Response:", nil
}

func parseResponse(raw string) (*ai.Screening, error) {
	body, ok := jsonObject(raw)
	if !ok {
		return nil, fmt.Errorf("parse gemini response: no JSON object in %q", utils.TruncateForLog(raw, defaultMaxLogLength))
	}

	var reply screeningReply
	if err := json.Unmarshal([]byte(body), &reply); err != nil {
		return nil, fmt.Errorf("parse gemini response: %w", err)
	}
	if reply.Score == nil {
		return nil, errors.New("parse gemini response: score is missing")
	}
	score := float64(*reply.Score)
	if math.IsNaN(score) || score < 0 || score > 1 {
		return nil, fmt.Errorf("parse gemini response: score %v outside [0,1]", score)
	}

	return &ai.Screening{
		Fit:    bool(reply.Fit),
		Score:  score,
		Reason: strings.TrimSpace(reply.Reason),
	}, nil
}

// jsonObject returns the outermost {...} span of a model reply, dropping
// markdown fences and any prose around it.
func jsonObject(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return "", false
	}
	return raw[start : end+1], true
}
