package scoring

import (
	"time"

	"go.uber.org/zap"

	"github.com/spigell/grant-matcher/internal/foundation"
)

// Safeguard represents a single reliability check run after aggregation.
// A triggered safeguard forces the decision to ABSTAIN.
type Safeguard interface {
	Name() string
	Disable(reason string)
	IsEnabled() bool

	Check(b *Bundle) SafeguardVerdict
}

// Bundle aggregates everything a safeguard may inspect.
type Bundle struct {
	Candidate  *foundation.CandidateFoundation
	Components []ComponentResult
	Config     Config
	AsOf       time.Time
}

// SafeguardStatus represents runtime information about a safeguard.
type SafeguardStatus struct {
	Name    string            `json:"name"`
	Enabled bool              `json:"enabled"`
	Reason  string            `json:"reason,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

type safeguardStatusProvider interface {
	Status() SafeguardStatus
}

// DisableSafeguard marks the named safeguard as disabled while keeping it in the list.
func DisableSafeguard(steps []Safeguard, name, reason string) {
	for _, step := range steps {
		if step.Name() == name {
			step.Disable(reason)
		}
	}
}

// RunSafeguards executes the enabled safeguards in order and returns one verdict per enabled check.
func RunSafeguards(logger *zap.Logger, steps []Safeguard, b *Bundle) []SafeguardVerdict {
	verdicts := make([]SafeguardVerdict, 0, len(steps))
	for _, step := range steps {
		if !step.IsEnabled() {
			if logger != nil {
				logger.Debug("safeguard disabled", zap.String("name", step.Name()))
			}
			continue
		}

		v := step.Check(b)
		v.Name = step.Name()
		if logger != nil && v.Triggered {
			logger.Info("safeguard triggered",
				zap.String("name", v.Name),
				zap.String("reason", v.Reason),
			)
		}
		verdicts = append(verdicts, v)
	}
	return verdicts
}

// DescribeSafeguards returns status entries for the provided safeguards.
func DescribeSafeguards(steps []Safeguard) []SafeguardStatus {
	statuses := make([]SafeguardStatus, 0, len(steps))
	for _, step := range steps {
		if reporter, ok := step.(safeguardStatusProvider); ok {
			statuses = append(statuses, reporter.Status())
			continue
		}
		statuses = append(statuses, SafeguardStatus{Name: step.Name(), Enabled: step.IsEnabled()})
	}
	return statuses
}

// switchable carries the enable/disable state shared by all built-in safeguards.
type switchable struct {
	disabled bool
	reason   string
}

func (s *switchable) Disable(reason string) {
	s.disabled = true
	s.reason = reason
}

func (s *switchable) IsEnabled() bool { return !s.disabled }
