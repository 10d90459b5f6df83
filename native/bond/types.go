package bond

import (
	"math/big"
	"strings"
)

// PriceSourceConfig identifies the external feed the series trusts for
// collateral pricing and bounds how old a reading may be before liquidation
// and ratio queries fail closed.
type PriceSourceConfig struct {
	// SourceID names the oracle adapter consulted for the
	// collateral/principal pair.
	SourceID string
	// MaxPriceAgeSeconds is the maximum acceptable age of a price reading.
	MaxPriceAgeSeconds uint64
}

// ImpactMode selects how retired-credit totals are sourced.
type ImpactMode uint8

const (
	// ImpactModeRetirementBatches reads cumulative retired supply for the
	// tracked batch ids from the retirement registry.
	ImpactModeRetirementBatches ImpactMode = iota
	// ImpactModeOracleScript defers the reading to an oracle script.
	ImpactModeOracleScript
)

// Valid reports whether the mode is within the supported range.
func (m ImpactMode) Valid() bool {
	switch m {
	case ImpactModeRetirementBatches, ImpactModeOracleScript:
		return true
	default:
		return false
	}
}

// ImpactCheckpoint is a scheduled point at which the retired total is
// evaluated against a target.
type ImpactCheckpoint struct {
	Timestamp     uint64
	TargetRetired *big.Int
}

// ImpactConfig describes the non-financial obligations attached to the
// series.
type ImpactConfig struct {
	Mode        ImpactMode
	BatchIDs    []string
	Checkpoints []ImpactCheckpoint
}

// SeriesTerms are the immutable economics of a bond series, set at
// instantiation and never changed afterwards.
type SeriesTerms struct {
	Borrower        string
	CollateralDenom string
	PrincipalDenom  string
	// PrincipalCap bounds total principal sold. Zero disables enforcement.
	PrincipalCap *big.Int
	MaturityTS   uint64
	// BaseRateAprBps accrues continuously; PenaltyRateAprBps is added while
	// the most recent impact checkpoint is missed.
	BaseRateAprBps      uint64
	PenaltyRateAprBps   uint64
	CouponPeriodSeconds uint64
	// Collateralisation thresholds, basis points of outstanding principal.
	InitialCollateralRatioBps uint64
	LiquidationRatioBps       uint64
	LiquidationBonusBps       uint64
	Oracle                    PriceSourceConfig
	Impact                    ImpactConfig
}

// Config is the mutable, admin-controlled configuration of a series.
type Config struct {
	Admin          string
	ProtocolFeeBps uint64
	FeeRecipient   string
	// PriceFeeders lists the identities allowed to push oracle readings in
	// addition to the admin.
	PriceFeeders []string
	Terms        SeriesTerms
}

// PricePoint records the last accepted oracle reading. Price is expressed in
// principal minor units per collateral unit, scaled by priceScale.
type PricePoint struct {
	Price     *big.Int
	Timestamp uint64
}

// ImpactPoint records the outcome of the most recent checkpoint evaluation.
// Re-running a checkpoint overwrites this record; history is not kept.
type ImpactPoint struct {
	CheckpointTS  uint64
	RetiredTotal  *big.Int
	TargetRetired *big.Int
	Met           bool
}

// SeriesState is the mutable core of the ledger.
type SeriesState struct {
	SaleOpen bool
	Paused   bool

	TotalPrincipalSold        *big.Int
	TotalPrincipalOutstanding *big.Int
	TotalRedeemed             *big.Int
	CollateralLocked          *big.Int
	// InterestOutstanding is the borrower-side interest obligation accrued
	// since instantiation and not yet covered by repayments. Repay applies
	// to this before principal.
	InterestOutstanding *big.Int

	// GlobalInterestIndex is ray-scaled and monotonically non-decreasing,
	// starting at the multiplicative identity.
	GlobalInterestIndex *big.Int
	LastAccrualTS       uint64

	LastPrice  *PricePoint
	LastImpact *ImpactPoint
}

// AccountIndex is the per-holder ledger entry, created lazily on first
// balance-affecting interaction and never deleted.
type AccountIndex struct {
	Address string
	Balance *big.Int
	// Index is the global index value this account last synchronised at.
	Index *big.Int
	// Accrued is interest owed to the holder but not yet claimed.
	Accrued *big.Int
}

// Payment is a value-transfer instruction produced by an engine operation.
// The engine never moves value itself; the host settles the emitted
// instructions together with the state writes, or not at all.
type Payment struct {
	To     string
	Denom  string
	Amount *big.Int
}

// Funds is the payment attached to an incoming invocation.
type Funds struct {
	Denom  string
	Amount *big.Int
}

// RepayReceipt reports how a repayment was split by the interest-first
// waterfall.
type RepayReceipt struct {
	InterestApplied  *big.Int
	PrincipalApplied *big.Int
	Refunded         *big.Int
	Payments         []Payment
}

// LiquidationReceipt reports the outcome of a liquidation.
type LiquidationReceipt struct {
	Repaid   *big.Int
	Seized   *big.Int
	Refunded *big.Int
	Payments []Payment
}

// Clone returns a deep copy of the price point.
func (p *PricePoint) Clone() *PricePoint {
	if p == nil {
		return nil
	}
	clone := &PricePoint{Timestamp: p.Timestamp}
	if p.Price != nil {
		clone.Price = new(big.Int).Set(p.Price)
	}
	return clone
}

// Clone returns a deep copy of the impact point.
func (i *ImpactPoint) Clone() *ImpactPoint {
	if i == nil {
		return nil
	}
	clone := &ImpactPoint{CheckpointTS: i.CheckpointTS, Met: i.Met}
	if i.RetiredTotal != nil {
		clone.RetiredTotal = new(big.Int).Set(i.RetiredTotal)
	}
	if i.TargetRetired != nil {
		clone.TargetRetired = new(big.Int).Set(i.TargetRetired)
	}
	return clone
}

// Clone returns a deep copy of the series state.
func (s *SeriesState) Clone() *SeriesState {
	if s == nil {
		return nil
	}
	clone := &SeriesState{
		SaleOpen:      s.SaleOpen,
		Paused:        s.Paused,
		LastAccrualTS: s.LastAccrualTS,
		LastPrice:     s.LastPrice.Clone(),
		LastImpact:    s.LastImpact.Clone(),
	}
	clone.TotalPrincipalSold = cloneInt(s.TotalPrincipalSold)
	clone.TotalPrincipalOutstanding = cloneInt(s.TotalPrincipalOutstanding)
	clone.TotalRedeemed = cloneInt(s.TotalRedeemed)
	clone.CollateralLocked = cloneInt(s.CollateralLocked)
	clone.InterestOutstanding = cloneInt(s.InterestOutstanding)
	clone.GlobalInterestIndex = cloneInt(s.GlobalInterestIndex)
	return clone
}

// EnsureDefaults populates nil big.Int fields so storage codecs and engine
// arithmetic stay nil-safe.
func (s *SeriesState) EnsureDefaults() {
	if s == nil {
		return
	}
	if s.TotalPrincipalSold == nil {
		s.TotalPrincipalSold = big.NewInt(0)
	}
	if s.TotalPrincipalOutstanding == nil {
		s.TotalPrincipalOutstanding = big.NewInt(0)
	}
	if s.TotalRedeemed == nil {
		s.TotalRedeemed = big.NewInt(0)
	}
	if s.CollateralLocked == nil {
		s.CollateralLocked = big.NewInt(0)
	}
	if s.InterestOutstanding == nil {
		s.InterestOutstanding = big.NewInt(0)
	}
	if s.GlobalInterestIndex == nil || s.GlobalInterestIndex.Sign() == 0 {
		s.GlobalInterestIndex = new(big.Int).Set(ray)
	}
}

// Clone returns a deep copy of the account entry.
func (a *AccountIndex) Clone() *AccountIndex {
	if a == nil {
		return nil
	}
	clone := &AccountIndex{Address: a.Address}
	clone.Balance = cloneInt(a.Balance)
	clone.Index = cloneInt(a.Index)
	clone.Accrued = cloneInt(a.Accrued)
	return clone
}

// Clone returns a deep copy of the config, terms included.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := &Config{
		Admin:          c.Admin,
		ProtocolFeeBps: c.ProtocolFeeBps,
		FeeRecipient:   c.FeeRecipient,
		PriceFeeders:   append([]string(nil), c.PriceFeeders...),
		Terms:          c.Terms.Clone(),
	}
	return clone
}

// Clone returns a deep copy of the terms.
func (t SeriesTerms) Clone() SeriesTerms {
	clone := t
	if t.PrincipalCap != nil {
		clone.PrincipalCap = new(big.Int).Set(t.PrincipalCap)
	}
	clone.Impact.BatchIDs = append([]string(nil), t.Impact.BatchIDs...)
	clone.Impact.Checkpoints = make([]ImpactCheckpoint, len(t.Impact.Checkpoints))
	for i, cp := range t.Impact.Checkpoints {
		clone.Impact.Checkpoints[i] = ImpactCheckpoint{Timestamp: cp.Timestamp}
		if cp.TargetRetired != nil {
			clone.Impact.Checkpoints[i].TargetRetired = new(big.Int).Set(cp.TargetRetired)
		}
	}
	return clone
}

// Validate checks the terms against the series invariants given the current
// time. Violations surface as InvalidConfig errors.
func (t SeriesTerms) Validate(now uint64) error {
	if strings.TrimSpace(t.Borrower) == "" {
		return InvalidConfigError("borrower required")
	}
	if strings.TrimSpace(t.CollateralDenom) == "" || strings.TrimSpace(t.PrincipalDenom) == "" {
		return InvalidConfigError("missing denom")
	}
	if t.CollateralDenom == t.PrincipalDenom {
		return InvalidConfigError("collateral and principal denom must differ")
	}
	if t.MaturityTS <= now {
		return InvalidConfigError("maturity must be in future")
	}
	if t.PrincipalCap != nil && t.PrincipalCap.Sign() < 0 {
		return InvalidConfigError("principal cap must be non-negative")
	}
	if t.InitialCollateralRatioBps < t.LiquidationRatioBps {
		return InvalidConfigError("initial collateral ratio below liquidation ratio")
	}
	if t.LiquidationBonusBps > maxBps {
		return InvalidConfigError("liquidation bonus out of range")
	}
	if !t.Impact.Mode.Valid() {
		return InvalidConfigError("unknown impact mode")
	}
	var prev uint64
	for _, cp := range t.Impact.Checkpoints {
		if cp.Timestamp <= prev {
			return InvalidConfigError("impact checkpoints must be strictly ordered")
		}
		if cp.TargetRetired == nil || cp.TargetRetired.Sign() < 0 {
			return InvalidConfigError("impact checkpoint target must be non-negative")
		}
		prev = cp.Timestamp
	}
	return nil
}

// Validate checks the full configuration.
func (c *Config) Validate(now uint64) error {
	if c == nil {
		return InvalidConfigError("config required")
	}
	if strings.TrimSpace(c.Admin) == "" {
		return InvalidConfigError("admin required")
	}
	if c.ProtocolFeeBps > maxBps {
		return InvalidConfigError("protocol fee out of range")
	}
	if c.ProtocolFeeBps > 0 && strings.TrimSpace(c.FeeRecipient) == "" {
		return InvalidConfigError("fee recipient required")
	}
	return c.Terms.Validate(now)
}

// IsPriceFeeder reports whether addr may push oracle readings.
func (c *Config) IsPriceFeeder(addr string) bool {
	if c == nil {
		return false
	}
	if addr == c.Admin {
		return true
	}
	for _, feeder := range c.PriceFeeders {
		if feeder == addr {
			return true
		}
	}
	return false
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
