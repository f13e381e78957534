package scoring

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spigell/grant-matcher/internal/utils"
)

// Safeguard names. They are accepted by Config.DisabledSafeguards.
const (
	SafeguardFilingRecency      = "filing_recency"
	SafeguardCompleteness       = "completeness"
	SafeguardConflictingSignals = "conflicting_signals"
)

// KnownSafeguards lists the built-in safeguards in execution order.
var KnownSafeguards = []string{
	SafeguardFilingRecency,
	SafeguardCompleteness,
	SafeguardConflictingSignals,
}

// DefaultSafeguards builds the built-in safeguards and disables those named in cfg.
func DefaultSafeguards(cfg Config) []Safeguard {
	steps := []Safeguard{
		&filingRecency{window: cfg.StalenessWindow},
		&completeness{limit: cfg.MaxInsufficientFraction},
		&conflictingSignals{threshold: cfg.DivergenceThreshold},
	}
	for _, name := range cfg.DisabledSafeguards {
		DisableSafeguard(steps, name, "disabled by configuration")
	}
	return steps
}

type filingRecency struct {
	switchable
	window time.Duration
}

func (s *filingRecency) Name() string { return SafeguardFilingRecency }

func (s *filingRecency) Check(b *Bundle) SafeguardVerdict {
	if b.Candidate == nil || b.Candidate.LastFilingDate.IsZero() {
		return SafeguardVerdict{Triggered: true, Reason: "no filing date on record"}
	}
	age := b.AsOf.Sub(b.Candidate.LastFilingDate)
	if age > s.window {
		return SafeguardVerdict{
			Triggered: true,
			Reason: fmt.Sprintf("last filing %s is %d days old, beyond the %d-day window",
				b.Candidate.LastFilingDate.Format("2006-01-02"), int(age.Hours()/24), int(s.window.Hours()/24)),
		}
	}
	return SafeguardVerdict{Reason: fmt.Sprintf("last filing %s is within the window", b.Candidate.LastFilingDate.Format("2006-01-02"))}
}

func (s *filingRecency) Status() SafeguardStatus {
	return SafeguardStatus{
		Name:    s.Name(),
		Enabled: s.IsEnabled(),
		Reason:  s.reason,
		Details: map[string]string{"window_days": strconv.Itoa(int(s.window.Hours() / 24))},
	}
}

type completeness struct {
	switchable
	limit float64
}

func (s *completeness) Name() string { return SafeguardCompleteness }

func (s *completeness) Check(b *Bundle) SafeguardVerdict {
	var weighted, missing []string
	for _, c := range b.Components {
		if b.Config.Weight(c.Component) <= 0 {
			continue
		}
		weighted = append(weighted, c.Component)
		if c.InsufficientData {
			missing = append(missing, c.Component)
		}
	}
	if len(weighted) == 0 {
		return SafeguardVerdict{Triggered: true, Reason: "no weighted components were evaluated"}
	}

	fraction := float64(len(missing)) / float64(len(weighted))
	if fraction > s.limit {
		return SafeguardVerdict{
			Triggered: true,
			Reason: fmt.Sprintf("%d of %d weighted components lack data (%s)",
				len(missing), len(weighted), strings.Join(missing, ", ")),
		}
	}
	return SafeguardVerdict{Reason: fmt.Sprintf("%d of %d weighted components lack data", len(missing), len(weighted))}
}

func (s *completeness) Status() SafeguardStatus {
	return SafeguardStatus{
		Name:    s.Name(),
		Enabled: s.IsEnabled(),
		Reason:  s.reason,
		Details: map[string]string{"max_insufficient_fraction": strconv.FormatFloat(s.limit, 'f', -1, 64)},
	}
}

type conflictingSignals struct {
	switchable
	threshold float64
}

func (s *conflictingSignals) Name() string { return SafeguardConflictingSignals }

func (s *conflictingSignals) Check(b *Bundle) SafeguardVerdict {
	var (
		lowName, highName string
		low, high         float64
		count             int
	)
	for _, c := range b.Components {
		if b.Config.Weight(c.Component) <= 0 {
			continue
		}
		v, ok := c.Score.Float()
		if !ok {
			continue
		}
		if count == 0 || v < low {
			low, lowName = v, c.Component
		}
		if count == 0 || v > high {
			high, highName = v, c.Component
		}
		count++
	}
	if count < 2 {
		return SafeguardVerdict{Reason: "fewer than two components to compare"}
	}

	spread := utils.Round(high-low, 4)
	if spread > s.threshold {
		return SafeguardVerdict{
			Triggered: true,
			Reason: fmt.Sprintf("%s (%.2f) and %s (%.2f) diverge by %.2f",
				highName, high, lowName, low, spread),
		}
	}
	return SafeguardVerdict{Reason: fmt.Sprintf("component spread %.2f", spread)}
}

func (s *conflictingSignals) Status() SafeguardStatus {
	return SafeguardStatus{
		Name:    s.Name(),
		Enabled: s.IsEnabled(),
		Reason:  s.reason,
		Details: map[string]string{"divergence_threshold": strconv.FormatFloat(s.threshold, 'f', -1, 64)},
	}
}
