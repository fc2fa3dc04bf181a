package montecarlo

import (
	"errors"
	"fmt"
)

// Error taxonomy. Callers test with errors.Is; the typed errors below carry detail.
var (
	// ErrInsufficientHistory means an asset has fewer than MinObservations returns.
	ErrInsufficientHistory = errors.New("insufficient history")
	// ErrInvalidConfiguration means the simulation inputs were rejected before any sampling.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrMisalignedHistory means the return series do not share one trading-day index.
	ErrMisalignedHistory = errors.New("misaligned history")
	// ErrNonFiniteReturn means a return series contains NaN or ±Inf.
	ErrNonFiniteReturn = errors.New("non-finite return")
)

// InsufficientHistoryError reports the asset that could not be parameterised.
type InsufficientHistoryError struct {
	Asset        string
	Observations int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("insufficient history for %s: %d return observations, need at least %d",
		e.Asset, e.Observations, MinObservations)
}

// Is makes errors.Is(err, ErrInsufficientHistory) hold.
func (e *InsufficientHistoryError) Is(target error) bool {
	return target == ErrInsufficientHistory
}

// ConfigError reports which simulation input was rejected.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidConfiguration) hold.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfiguration
}
