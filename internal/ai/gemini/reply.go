package gemini

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// screeningReply is the JSON object the model is asked to return. Models
// sometimes quote booleans and numbers, so both fields accept strings.
type screeningReply struct {
	Fit    looseBool   `json:"fit"`
	Score  *looseFloat `json:"score"`
	Reason string      `json:"reason"`
}

type looseBool bool

func (b *looseBool) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*b = false
		return nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case bool:
		*b = looseBool(val)
	case float64:
		*b = val != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "yes":
			*b = true
		default:
			*b = false
		}
	default:
		return fmt.Errorf("fit: unexpected value %s", data)
	}
	return nil
}

type looseFloat float64

func (f *looseFloat) UnmarshalJSON(data []byte) error {
	text := string(data)
	if unquoted, err := strconv.Unquote(text); err == nil {
		text = strings.TrimSpace(unquoted)
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return fmt.Errorf("score: %s is not a number", data)
	}
	*f = looseFloat(v)
	return nil
}
