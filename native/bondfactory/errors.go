package bondfactory

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized marks calls from identities without the required role.
	ErrUnauthorized = errors.New("bondfactory: unauthorized")
	// ErrDenomNotAllowed marks series terms naming a principal asset outside
	// the configured allow-list.
	ErrDenomNotAllowed = errors.New("bondfactory: principal denom not allowed")
	// ErrRatioTooLow marks series terms whose initial collateral ratio falls
	// below the factory floor.
	ErrRatioTooLow = errors.New("bondfactory: initial collateral ratio below minimum")
	// ErrUnknownCorrelation marks completion callbacks carrying a correlation
	// id the factory never issued.
	ErrUnknownCorrelation = errors.New("bondfactory: unknown correlation id")
	// ErrPendingExists marks a create that would reuse a live correlation id.
	ErrPendingExists = errors.New("bondfactory: pending create already exists")
	// ErrSeriesNotFound marks lookups of unknown series indexes.
	ErrSeriesNotFound = errors.New("bondfactory: series not found")

	errNilState      = errors.New("bondfactory: state backend not configured")
	errNilConfig     = errors.New("bondfactory: factory not instantiated")
	errInvalidConfig = errors.New("bondfactory: invalid configuration")
)

// InvalidConfigError wraps a validation failure with its reason.
func InvalidConfigError(reason string) error {
	return fmt.Errorf("%w: %s", errInvalidConfig, reason)
}

// IsInvalidConfig reports whether err stems from configuration validation.
func IsInvalidConfig(err error) bool {
	return errors.Is(err, errInvalidConfig)
}
