package bond

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when the caller lacks the role an
	// operation requires (borrower, admin or price feeder).
	ErrUnauthorized = errors.New("bond engine: unauthorized")
	// ErrPaused is returned for value-moving operations while the series is
	// paused. Read-only projections are never blocked.
	ErrPaused = errors.New("bond engine: series paused")
	// ErrSaleNotOpen is returned when Buy is attempted before OpenSale.
	ErrSaleNotOpen = errors.New("bond engine: sale not open")
	// ErrMatured is returned when a pre-maturity operation is attempted at
	// or after the maturity timestamp.
	ErrMatured = errors.New("bond engine: series has matured")
	// ErrNotMatured is returned when redemption is attempted before
	// maturity.
	ErrNotMatured = errors.New("bond engine: series not yet matured")
	// ErrInsufficientFunds is returned for zero amounts and overdrafts.
	ErrInsufficientFunds = errors.New("bond engine: insufficient funds")
	// ErrOracleStale is returned when no price is recorded or the recorded
	// price is older than the configured freshness window. Operations that
	// depend on the collateral ratio fail closed on this condition.
	ErrOracleStale = errors.New("bond engine: oracle price stale or missing")
	// ErrCollateralTooLow is returned when a collateral withdrawal would
	// leave the position below the initial collateral ratio.
	ErrCollateralTooLow = errors.New("bond engine: collateral ratio too low")
	// ErrNotLiquidatable is returned when liquidation is attempted while the
	// collateral ratio sits at or above the liquidation threshold.
	ErrNotLiquidatable = errors.New("bond engine: position not liquidatable")
	// ErrNothingToClaim is returned when the caller has no accrued interest.
	ErrNothingToClaim = errors.New("bond engine: nothing to claim")
	// ErrPrincipalCapExceeded is returned when a purchase would push total
	// principal sold above the configured cap.
	ErrPrincipalCapExceeded = errors.New("bond engine: principal cap exceeded")
	// ErrInvalidAsset is returned when a payment arrives in a denom the
	// operation does not accept.
	ErrInvalidAsset = errors.New("bond engine: invalid payment asset")
	// ErrInvalidAmount is returned for nil or non-positive payment amounts.
	ErrInvalidAmount = errors.New("bond engine: amount must be positive")
	// ErrNoCheckpointDue is returned when CheckpointImpact runs before any
	// configured checkpoint timestamp has passed.
	ErrNoCheckpointDue = errors.New("bond engine: no impact checkpoint due")

	errNilState   = errors.New("bond engine: state not configured")
	errNilConfig  = errors.New("bond engine: series not instantiated")
	errInvalidCfg = errors.New("bond engine: invalid config")
)

// InvalidConfigError wraps errInvalidCfg with a human-readable reason so
// callers can both match the class and surface the cause.
func InvalidConfigError(reason string) error {
	return fmt.Errorf("%w: %s", errInvalidCfg, reason)
}

// IsInvalidConfig reports whether err belongs to the InvalidConfig class.
func IsInvalidConfig(err error) bool {
	return errors.Is(err, errInvalidCfg)
}
