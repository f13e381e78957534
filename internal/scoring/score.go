package scoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Score is a component score in [0,1] or the InsufficientData marker.
// The zero value is InsufficientData, so a missing score can never be read as 0.
type Score struct {
	value float64
	valid bool
}

// Value wraps a measured score.
func Value(v float64) Score {
	return Score{value: v, valid: true}
}

// InsufficientData marks a component that had no usable input.
func InsufficientData() Score {
	return Score{}
}

// Float returns the measured value and whether one exists.
func (s Score) Float() (float64, bool) {
	return s.value, s.valid
}

// IsInsufficient reports whether the score carries no measurement.
func (s Score) IsInsufficient() bool {
	return !s.valid
}

func (s Score) String() string {
	if !s.valid {
		return "insufficient data"
	}
	return strconv.FormatFloat(s.value, 'f', 4, 64)
}

// MarshalJSON encodes InsufficientData as null.
func (s Score) MarshalJSON() ([]byte, error) {
	if !s.valid {
		return []byte("null"), nil
	}
	if math.IsNaN(s.value) || math.IsInf(s.value, 0) {
		return nil, fmt.Errorf("score %v is not a finite number", s.value)
	}
	return json.Marshal(s.value)
}

// UnmarshalJSON decodes null as InsufficientData.
func (s *Score) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = InsufficientData()
		return nil
	}

	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decode score: %w", err)
	}
	*s = Value(v)
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func validUnit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
