package scoring

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrComputationFault marks a violated invariant inside a component scorer.
	ErrComputationFault = errors.New("computation fault")
	// ErrConfiguration marks an invalid scoring configuration.
	ErrConfiguration = errors.New("invalid scoring configuration")
)

// FaultError is returned by a component scorer whose input breaks an invariant
// (negative assets, malformed numbers, panics). It is never recovered locally.
type FaultError struct {
	Component string
	Err       error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("%s: %v", e.Component, e.Err)
}

func (e *FaultError) Unwrap() error { return e.Err }

func (e *FaultError) Is(target error) bool { return target == ErrComputationFault }

func fault(component, format string, args ...any) error {
	return &FaultError{Component: component, Err: fmt.Errorf(format, args...)}
}

// ConfigError lists every problem found while validating a Config.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return ErrConfiguration.Error() + ": " + strings.Join(e.Problems, "; ")
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfiguration }
