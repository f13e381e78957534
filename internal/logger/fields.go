package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	// FieldSeeker is the structured log field key for the seeker profile id.
	FieldSeeker = "seeker_id"
	// FieldCandidate is the structured log field key for the candidate EIN.
	FieldCandidate = "candidate_ein"
	// FieldProvider is the structured log field key for the AI provider name.
	FieldProvider = "ai_provider"
	// FieldModel is the structured log field key for the AI model identifier.
	FieldModel = "ai_model"
)

// StringField describes a string-valued structured logging field.
type StringField struct {
	Key   string
	Value string
}

// StringFields converts the provided key/value pairs into zap fields, trimming
// whitespace and omitting entries with empty keys or values.
func StringFields(fields ...StringField) []zap.Field {
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		if key == "" {
			continue
		}

		value := strings.TrimSpace(field.Value)
		if value == "" {
			continue
		}

		result = append(result, zap.String(key, value))
	}

	return result
}

// WithFields safely attaches the provided fields to the logger.
// A nil logger is replaced by a no-op logger.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

// PairFields returns the fields identifying one seeker/candidate scoring pair.
func PairFields(seekerID, candidateEIN string) []zap.Field {
	return StringFields(
		StringField{Key: FieldSeeker, Value: seekerID},
		StringField{Key: FieldCandidate, Value: candidateEIN},
	)
}

// AIFields returns the fields describing the AI provider and model.
func AIFields(provider, model string) []zap.Field {
	return StringFields(
		StringField{Key: FieldProvider, Value: provider},
		StringField{Key: FieldModel, Value: model},
	)
}

// WithPair attaches the seeker/candidate pair fields to the provided logger.
func WithPair(logger *zap.Logger, seekerID, candidateEIN string) *zap.Logger {
	return WithFields(logger, PairFields(seekerID, candidateEIN)...)
}
