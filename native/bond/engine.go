package bond

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"hebledger/core/events"
	"hebledger/core/types"
	nativecommon "hebledger/native/common"
)

const moduleName = "bond"

// engineState is the narrow persistence contract the engine requires. A nil
// result with a nil error means the record does not exist yet.
type engineState interface {
	BondConfig() (*Config, error)
	PutBondConfig(*Config) error
	BondSeries() (*SeriesState, error)
	PutBondSeries(*SeriesState) error
	BondAccount(addr string) (*AccountIndex, error)
	PutBondAccount(*AccountIndex) error
}

// MetricsSink receives the outcome of every mutating engine operation.
type MetricsSink interface {
	Observe(module, operation string, err error, duration time.Duration)
}

type bondEvent struct {
	evt *types.Event
}

func (e bondEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e bondEvent) Event() *types.Event { return e.evt }

// Engine orchestrates the bond-series lifecycle: sale, accrual, repayment,
// redemption, collateralisation and liquidation. Every mutating entry point
// brings the global interest index current before touching balances, and
// persists nothing when any check fails, so an invocation is observed whole
// or not at all.
type Engine struct {
	mu       sync.Mutex
	state    engineState
	emitter  events.Emitter
	oracle   PriceOracle
	registry RetirementRegistry
	pauses   nativecommon.PauseView
	metrics  MetricsSink
	nowFn    func() uint64
}

// NewEngine creates a bond engine with a no-op emitter. Callers wire the
// state backend, oracle and registry before use.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetOracle configures the price feed consulted by UpdateOraclePrice.
func (e *Engine) SetOracle(oracle PriceOracle) { e.oracle = oracle }

// SetRegistry configures the retirement registry consulted by
// CheckpointImpact.
func (e *Engine) SetRegistry(registry RetirementRegistry) { e.registry = registry }

// SetPauses wires the module-level kill switch view.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetMetrics wires the sink that receives per-operation outcomes.
func (e *Engine) SetMetrics(sink MetricsSink) {
	if e == nil {
		return
	}
	e.metrics = sink
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() uint64) {
	if now == nil {
		e.nowFn = func() uint64 { return uint64(time.Now().Unix()) }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter. Passing nil resets to no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(bondEvent{evt: event})
}

func (e *Engine) now() uint64 {
	if e == nil || e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	return e.nowFn()
}

func (e *Engine) observe(operation string, start time.Time, err error) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Observe(moduleName, operation, err, time.Since(start))
}

// Instantiate validates and persists the series configuration together with
// the initial state. It may be called exactly once per series.
func (e *Engine) Instantiate(cfg *Config) (err error) {
	defer func(start time.Time) { e.observe("instantiate", start, err) }(time.Now())
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if err := cfg.Validate(now); err != nil {
		return err
	}
	existing, err := e.state.BondConfig()
	if err != nil {
		return err
	}
	if existing != nil {
		return InvalidConfigError("series already instantiated")
	}

	st := &SeriesState{LastAccrualTS: now}
	st.EnsureDefaults()

	if err := e.state.PutBondConfig(cfg.Clone()); err != nil {
		return err
	}
	if err := e.state.PutBondSeries(st); err != nil {
		return err
	}
	e.emit(NewLifecycleEvent(EventTypeInstantiated, cfg.Admin))
	return nil
}

// DepositCollateral locks payment in the configured collateral asset.
// Borrower only; refused once the series has matured.
func (e *Engine) DepositCollateral(caller string, funds Funds) (err error) {
	defer func(start time.Time) { e.observe("deposit_collateral", start, err) }(time.Now())
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, st, now, err := e.loadAccrued()
	if err != nil {
		return err
	}
	if st.Paused {
		return ErrPaused
	}
	if caller != cfg.Terms.Borrower {
		return ErrUnauthorized
	}
	if now >= cfg.Terms.MaturityTS {
		return ErrMatured
	}
	amount, err := mustPay(funds, cfg.Terms.CollateralDenom)
	if err != nil {
		return err
	}

	st.CollateralLocked = new(big.Int).Add(st.CollateralLocked, amount)
	if err := e.state.PutBondSeries(st); err != nil {
		return err
	}
	e.emit(NewCollateralEvent(EventTypeCollateralDeposited, caller, amount))
	return nil
}

// WithdrawCollateral releases locked collateral back to the borrower while
// keeping the position at or above the initial collateral ratio. With no
// outstanding principal the withdrawal is unconstrained.
func (e *Engine) WithdrawCollateral(caller string, amount *big.Int) (_ *Payment, err error) {
	defer func(start time.Time) { e.observe("withdraw_collateral", start, err) }(time.Now())
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, st, now, err := e.loadAccrued()
	if err != nil {
		return nil, err
	}
	if st.Paused {
		return nil, ErrPaused
	}
	if caller != cfg.Terms.Borrower {
		return nil, ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if amount.Cmp(st.CollateralLocked) > 0 {
		return nil, ErrInsufficientFunds
	}

	remaining := new(big.Int).Sub(st.CollateralLocked, amount)
	if st.TotalPrincipalOutstanding.Sign() > 0 {
		price, err := e.freshPrice(cfg, st, now)
		if err != nil {
			return nil, err
		}
		ratio, ok := CollateralRatioBps(remaining, price, st.TotalPrincipalOutstanding)
		if !ok || ratio.Cmp(new(big.Int).SetUint64(cfg.Terms.InitialCollateralRatioBps)) < 0 {
			return nil, ErrCollateralTooLow
		}
	}

	st.CollateralLocked = remaining
	if err := e.state.PutBondSeries(st); err != nil {
		return nil, err
	}
	e.emit(NewCollateralEvent(EventTypeCollateralWithdrawn, caller, amount))
	return &Payment{To: caller, Denom: cfg.Terms.CollateralDenom, Amount: new(big.Int).Set(amount)}, nil
}

// OpenSale marks the series as purchasable. There is no close operation; the
// sale remains open until maturity.
func (e *Engine) OpenSale(caller string) (err error) {
	defer func(start time.Time) { e.observe("open_sale", start, err) }(time.Now())
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, st, now, err := e.loadAccrued()
	if err != nil {
		return err
	}
	if st.Paused {
		return ErrPaused
	}
	if caller != cfg.Terms.Borrower {
		return ErrUnauthorized
	}
	if now >= cfg.Terms.MaturityTS {
		return ErrMatured
	}

	st.SaleOpen = true
	if err := e.state.PutBondSeries(st); err != nil {
		return err
	}
	e.emit(NewLifecycleEvent(EventTypeSaleOpened, caller))
	return nil
}

// Buy mints bond balance 1:1 with the principal paid and splits the payment
// into a protocol fee and net proceeds for the borrower. The fee and net
// always sum to the payment exactly.
func (e *Engine) Buy(caller string, funds Funds) (_ []Payment, err error) {
	defer func(start time.Time) { e.observe("buy", start, err) }(time.Now())
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, st, now, err := e.loadAccrued()
	if err != nil {
		return nil, err
	}
	if st.Paused {
		return nil, ErrPaused
	}
	if !st.SaleOpen {
		return nil, ErrSaleNotOpen
	}
	if now >= cfg.Terms.MaturityTS {
		return nil, ErrMatured
	}
	paid, err := mustPay(funds, cfg.Terms.PrincipalDenom)
	if err != nil {
		return nil, err
	}
	if cfg.Terms.PrincipalCap != nil && cfg.Terms.PrincipalCap.Sign() > 0 {
		projected := new(big.Int).Add(st.TotalPrincipalSold, paid)
		if projected.Cmp(cfg.Terms.PrincipalCap) > 0 {
			return nil, ErrPrincipalCapExceeded
		}
	}

	acc, err := e.ensureAccount(st, caller)
	if err != nil {
		return nil, err
	}
	acc.Balance = new(big.Int).Add(acc.Balance, paid)

	st.TotalPrincipalSold = new(big.Int).Add(st.TotalPrincipalSold, paid)
	st.TotalPrincipalOutstanding = new(big.Int).Add(st.TotalPrincipalOutstanding, paid)

	fee := bpsShare(paid, cfg.ProtocolFeeBps)
	net := new(big.Int).Sub(paid, fee)

	if err := e.state.PutBondAccount(acc); err != nil {
		return nil, err
	}
	if err := e.state.PutBondSeries(st); err != nil {
		return nil, err
	}

	payments := make([]Payment, 0, 2)
	if fee.Sign() > 0 {
		payments = append(payments, Payment{To: cfg.FeeRecipient, Denom: cfg.Terms.PrincipalDenom, Amount: fee})
	}
	payments = append(payments, Payment{To: cfg.Terms.Borrower, Denom: cfg.Terms.PrincipalDenom, Amount: net})

	e.emit(NewBoughtEvent(caller, paid, fee))
	return payments, nil
}

// Repay applies a borrower payment through the interest-first waterfall: the
// accrued interest obligation is covered before any principal is reduced,
// and any surplus beyond both is refunded.
func (e *Engine) Repay(caller string, funds Funds) (_ *RepayReceipt, err error) {
	defer func(start time.Time) { e.observe("repay", start, err) }(time.Now())
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, st, _, err := e.loadAccrued()
	if err != nil {
		return nil, err
	}
	if st.Paused {
		return nil, ErrPaused
	}
	if caller != cfg.Terms.Borrower {
		return nil, ErrUnauthorized
	}
	paid, err := mustPay(funds, cfg.Terms.PrincipalDenom)
	if err != nil {
		return nil, err
	}

	interest := minInt(paid, st.InterestOutstanding)
	remainder := new(big.Int).Sub(paid, interest)
	principal := minInt(remainder, st.TotalPrincipalOutstanding)
	refund := new(big.Int).Sub(remainder, principal)

	st.InterestOutstanding = new(big.Int).Sub(st.InterestOutstanding, interest)
	st.TotalPrincipalOutstanding = new(big.Int).Sub(st.TotalPrincipalOutstanding, principal)

	if err := e.state.PutBondSeries(st); err != nil {
		return nil, err
	}

	receipt := &RepayReceipt{InterestApplied: interest, PrincipalApplied: principal, Refunded: refund}
	if refund.Sign() > 0 {
		receipt.Payments = append(receipt.Payments, Payment{To: caller, Denom: cfg.Terms.PrincipalDenom, Amount: refund})
	}
	e.emit(NewRepaidEvent(caller, interest, principal))
	return receipt, nil
}

// ClaimInterest pays out the caller's accrued interest in the principal
// asset and resets the accrual to zero.
func (e *Engine) ClaimInterest(caller string) (_ *Payment, err error) {
	defer func(start time.Time) { e.observe("claim_interest", start, err) }(time.Now())
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, st, _, err := e.loadAccrued()
	if err != nil {
		return nil, err
	}
	if st.Paused {
		return nil, ErrPaused
	}

	acc, err := e.ensureAccount(st, caller)
	if err != nil {
		return nil, err
	}
	if acc.Accrued.Sign() == 0 {
		return nil, ErrNothingToClaim
	}
	amount := acc.Accrued
	acc.Accrued = big.NewInt(0)

	if err := e.state.PutBondAccount(acc); err != nil {
		return nil, err
	}
	if err := e.state.PutBondSeries(st); err != nil {
		return nil, err
	}
	e.emit(NewInterestClaimedEvent(caller, amount))
	return &Payment{To: caller, Denom: cfg.Terms.PrincipalDenom, Amount: amount}, nil
}

// RedeemAtMaturity burns bond balance after maturity and pays out principal,
// capped at the remaining outstanding amount.
func (e *Engine) RedeemAtMaturity(caller string, amount *big.Int) (_ *Payment, err error) {
	defer func(start time.Time) { e.observe("redeem", start, err) }(time.Now())
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, st, now, err := e.loadAccrued()
	if err != nil {
		return nil, err
	}
	if st.Paused {
		return nil, ErrPaused
	}
	if now < cfg.Terms.MaturityTS {
		return nil, ErrNotMatured
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInsufficientFunds
	}

	acc, err := e.ensureAccount(st, caller)
	if err != nil {
		return nil, err
	}
	if amount.Cmp(acc.Balance) > 0 {
		return nil, ErrInsufficientFunds
	}

	acc.Balance = new(big.Int).Sub(acc.Balance, amount)
	st.TotalRedeemed = new(big.Int).Add(st.TotalRedeemed, amount)
	pay := minInt(amount, st.TotalPrincipalOutstanding)
	st.TotalPrincipalOutstanding = new(big.Int).Sub(st.TotalPrincipalOutstanding, pay)

	if err := e.state.PutBondAccount(acc); err != nil {
		return nil, err
	}
	if err := e.state.PutBondSeries(st); err != nil {
		return nil, err
	}
	e.emit(NewRedeemedEvent(caller, amount, pay))
	return &Payment{To: caller, Denom: cfg.Terms.PrincipalDenom, Amount: pay}, nil
}

// Liquidate lets a third party repay outstanding principal in exchange for
// collateral priced via the oracle plus the configured bonus. The action is
// gated on a fresh price and on the collateral ratio actually sitting below
// the liquidation threshold; an unknown ratio fails closed.
func (e *Engine) Liquidate(caller string, funds Funds, maxRepay *big.Int) (_ *LiquidationReceipt, err error) {
	defer func(start time.Time) { e.observe("liquidate", start, err) }(time.Now())
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, st, now, err := e.loadAccrued()
	if err != nil {
		return nil, err
	}
	if st.Paused {
		return nil, ErrPaused
	}
	paid, err := mustPay(funds, cfg.Terms.PrincipalDenom)
	if err != nil {
		return nil, err
	}
	if maxRepay == nil || maxRepay.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	price, err := e.freshPrice(cfg, st, now)
	if err != nil {
		return nil, err
	}
	ratio, ok := CollateralRatioBps(st.CollateralLocked, price, st.TotalPrincipalOutstanding)
	if !ok {
		// No outstanding debt: nothing to liquidate.
		return nil, ErrNotLiquidatable
	}
	if ratio.Cmp(new(big.Int).SetUint64(cfg.Terms.LiquidationRatioBps)) >= 0 {
		return nil, ErrNotLiquidatable
	}

	repay := minInt(minInt(paid, maxRepay), st.TotalPrincipalOutstanding)
	if repay.Sign() == 0 {
		return nil, ErrInvalidAmount
	}
	seize := collateralForRepay(repay, price, cfg.Terms.LiquidationBonusBps)
	seize = minInt(seize, st.CollateralLocked)
	refund := new(big.Int).Sub(paid, repay)

	st.TotalPrincipalOutstanding = new(big.Int).Sub(st.TotalPrincipalOutstanding, repay)
	st.CollateralLocked = new(big.Int).Sub(st.CollateralLocked, seize)

	if err := e.state.PutBondSeries(st); err != nil {
		return nil, err
	}

	receipt := &LiquidationReceipt{Repaid: repay, Seized: seize, Refunded: refund}
	receipt.Payments = append(receipt.Payments, Payment{To: caller, Denom: cfg.Terms.CollateralDenom, Amount: seize})
	if refund.Sign() > 0 {
		receipt.Payments = append(receipt.Payments, Payment{To: caller, Denom: cfg.Terms.PrincipalDenom, Amount: refund})
	}
	e.emit(NewLiquidatedEvent(caller, repay, seize))
	return receipt, nil
}

// UpdateOraclePrice consults the configured price feed and records the
// reading. Only the admin or a configured feeder may push prices; stale or
// malformed quotes are rejected. The operation is deliberately not blocked by
// pause so a stuck price can be refreshed before unpausing.
func (e *Engine) UpdateOraclePrice(caller string) (_ *PricePoint, err error) {
	defer func(start time.Time) { e.observe("update_price", start, err) }(time.Now())
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, st, now, err := e.loadAccrued()
	if err != nil {
		return nil, err
	}
	if !cfg.IsPriceFeeder(caller) {
		return nil, ErrUnauthorized
	}
	if e.oracle == nil {
		return nil, fmt.Errorf("bond engine: oracle not configured")
	}

	quote, err := e.oracle.GetRate(cfg.Terms.CollateralDenom, cfg.Terms.PrincipalDenom)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOracleStale, err)
	}
	ts := quote.Timestamp.Unix()
	if ts <= 0 {
		return nil, ErrOracleStale
	}
	age := int64(now) - ts
	if age > 0 && uint64(age) > cfg.Terms.Oracle.MaxPriceAgeSeconds {
		return nil, ErrOracleStale
	}
	price, err := quote.ScaledPrice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOracleStale, err)
	}

	st.LastPrice = &PricePoint{Price: price, Timestamp: uint64(ts)}
	if err := e.state.PutBondSeries(st); err != nil {
		return nil, err
	}
	e.emit(NewPriceUpdatedEvent(price, uint64(ts), quote.Source))
	return st.LastPrice.Clone(), nil
}

// CheckpointImpact evaluates the latest due checkpoint against the
// retirement registry reading and records the outcome. The record is
// overwritten on re-runs, never accumulated, so the evaluation is safe to
// repeat.
func (e *Engine) CheckpointImpact(caller string) (_ *ImpactPoint, err error) {
	defer func(start time.Time) { e.observe("checkpoint_impact", start, err) }(time.Now())
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, st, now, err := e.loadAccrued()
	if err != nil {
		return nil, err
	}
	if st.Paused {
		return nil, ErrPaused
	}
	if e.registry == nil {
		return nil, fmt.Errorf("bond engine: retirement registry not configured")
	}

	cp, due := EvaluateCheckpoints(cfg.Terms.Impact.Checkpoints, now)
	if !due {
		return nil, ErrNoCheckpointDue
	}
	retired, err := e.registry.RetiredTotal(cfg.Terms.Impact.BatchIDs)
	if err != nil {
		return nil, fmt.Errorf("bond engine: retirement registry: %w", err)
	}

	st.LastImpact = EvaluateImpact(cp, retired)
	if err := e.state.PutBondSeries(st); err != nil {
		return nil, err
	}
	e.emit(NewImpactCheckpointedEvent(st.LastImpact))
	return st.LastImpact.Clone(), nil
}

// Pause blocks every value-moving operation. Admin only; reads stay open.
func (e *Engine) Pause(caller string) (err error) {
	defer func(start time.Time) { e.observe("pause", start, err) }(time.Now())
	return e.setPaused(caller, true)
}

// Unpause lifts the pause flag. Admin only.
func (e *Engine) Unpause(caller string) (err error) {
	defer func(start time.Time) { e.observe("unpause", start, err) }(time.Now())
	return e.setPaused(caller, false)
}

func (e *Engine) setPaused(caller string, paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, st, _, err := e.loadAccrued()
	if err != nil {
		return err
	}
	if caller != cfg.Admin {
		return ErrUnauthorized
	}
	st.Paused = paused
	if err := e.state.PutBondSeries(st); err != nil {
		return err
	}
	if paused {
		e.emit(NewLifecycleEvent(EventTypePaused, caller))
	} else {
		e.emit(NewLifecycleEvent(EventTypeUnpaused, caller))
	}
	return nil
}

// Transfer moves bond balance between holders after syncing both accounts.
// Outstanding-principal totals are untouched.
func (e *Engine) Transfer(caller, to string, amount *big.Int) (err error) {
	defer func(start time.Time) { e.observe("transfer", start, err) }(time.Now())
	e.mu.Lock()
	defer e.mu.Unlock()

	_, st, _, err := e.loadAccrued()
	if err != nil {
		return err
	}
	if st.Paused {
		return ErrPaused
	}
	recipient := strings.TrimSpace(to)
	if recipient == "" {
		return InvalidConfigError("recipient required")
	}

	sender, err := e.ensureAccount(st, caller)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 || amount.Cmp(sender.Balance) > 0 {
		return ErrInsufficientFunds
	}

	if recipient == caller {
		// Self-transfer is a sync followed by a no-op move.
		if err := e.state.PutBondAccount(sender); err != nil {
			return err
		}
		return e.state.PutBondSeries(st)
	}

	receiver, err := e.ensureAccount(st, recipient)
	if err != nil {
		return err
	}
	sender.Balance = new(big.Int).Sub(sender.Balance, amount)
	receiver.Balance = new(big.Int).Add(receiver.Balance, amount)

	if err := e.state.PutBondAccount(sender); err != nil {
		return err
	}
	if err := e.state.PutBondAccount(receiver); err != nil {
		return err
	}
	if err := e.state.PutBondSeries(st); err != nil {
		return err
	}
	e.emit(NewTransferredEvent(caller, recipient, amount))
	return nil
}

// --- queries (read-only, never blocked by pause) ---

// Terms returns the series configuration.
func (e *Engine) Terms() (*Config, error) {
	cfg, _, _, err := e.view()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// State returns the series state with accrual projected to the current time.
// Nothing is persisted.
func (e *Engine) State() (*SeriesState, error) {
	_, st, _, err := e.view()
	if err != nil {
		return nil, err
	}
	return st, nil
}

// BalanceOf returns the bond balance held by addr. Unknown holders report
// zero.
func (e *Engine) BalanceOf(addr string) (*big.Int, error) {
	_, _, acc, err := e.viewAccount(addr)
	if err != nil {
		return nil, err
	}
	return acc.Balance, nil
}

// AccruedInterest returns the interest owed to addr, including interest
// earned since the last persisted sync.
func (e *Engine) AccruedInterest(addr string) (*big.Int, error) {
	_, _, acc, err := e.viewAccount(addr)
	if err != nil {
		return nil, err
	}
	return acc.Accrued, nil
}

// CollateralRatio reports the current collateralisation in basis points. The
// boolean is false when the ratio is unknown: no fresh price, or no
// outstanding debt. Callers must treat unknown as failing closed.
func (e *Engine) CollateralRatio() (*big.Int, bool, error) {
	cfg, st, now, err := e.view()
	if err != nil {
		return nil, false, err
	}
	price, err := e.freshPrice(cfg, st, now)
	if err != nil {
		return nil, false, nil
	}
	ratio, ok := CollateralRatioBps(st.CollateralLocked, price, st.TotalPrincipalOutstanding)
	return ratio, ok, nil
}

// PriceStatus returns the last recorded oracle reading, or nil when none
// exists.
func (e *Engine) PriceStatus() (*PricePoint, error) {
	_, st, _, err := e.view()
	if err != nil {
		return nil, err
	}
	return st.LastPrice, nil
}

// ImpactStatus returns the most recent checkpoint outcome, or nil when no
// checkpoint has been evaluated.
func (e *Engine) ImpactStatus() (*ImpactPoint, error) {
	_, st, _, err := e.view()
	if err != nil {
		return nil, err
	}
	return st.LastImpact, nil
}

// --- internals ---

// loadAccrued loads the config and a mutable clone of the series state with
// accrual applied in memory. The caller persists the clone only after all
// checks pass, which keeps failed invocations free of side effects.
func (e *Engine) loadAccrued() (*Config, *SeriesState, uint64, error) {
	if e == nil || e.state == nil {
		return nil, nil, 0, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, 0, err
	}
	cfg, st, now, err := e.load()
	if err != nil {
		return nil, nil, 0, err
	}
	accrue(cfg, st, now)
	return cfg, st, now, nil
}

// view is loadAccrued without the module guard, for read-only projections.
func (e *Engine) view() (*Config, *SeriesState, uint64, error) {
	if e == nil || e.state == nil {
		return nil, nil, 0, errNilState
	}
	cfg, st, now, err := e.load()
	if err != nil {
		return nil, nil, 0, err
	}
	accrue(cfg, st, now)
	return cfg, st, now, nil
}

func (e *Engine) load() (*Config, *SeriesState, uint64, error) {
	cfg, err := e.state.BondConfig()
	if err != nil {
		return nil, nil, 0, err
	}
	if cfg == nil {
		return nil, nil, 0, errNilConfig
	}
	st, err := e.state.BondSeries()
	if err != nil {
		return nil, nil, 0, err
	}
	if st == nil {
		return nil, nil, 0, errNilConfig
	}
	clone := st.Clone()
	clone.EnsureDefaults()
	return cfg.Clone(), clone, e.now(), nil
}

func (e *Engine) viewAccount(addr string) (*Config, *SeriesState, *AccountIndex, error) {
	cfg, st, _, err := e.view()
	if err != nil {
		return nil, nil, nil, err
	}
	acc, err := e.ensureAccount(st, addr)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, st, acc, nil
}

// accrue advances the global index by the elapsed seconds. The effective
// rate includes the penalty while the most recent impact checkpoint is
// missed. The borrower-side interest obligation grows with the aggregate
// holder balance so the repay waterfall has a target to settle against.
func accrue(cfg *Config, st *SeriesState, now uint64) {
	if now <= st.LastAccrualTS {
		return
	}
	dt := now - st.LastAccrualTS
	rate := cfg.Terms.BaseRateAprBps
	if st.LastImpact != nil && !st.LastImpact.Met {
		rate += cfg.Terms.PenaltyRateAprBps
	}
	next := indexGrowth(st.GlobalInterestIndex, dt, rate)
	if next.Cmp(st.GlobalInterestIndex) > 0 {
		held := new(big.Int).Sub(st.TotalPrincipalSold, st.TotalRedeemed)
		st.InterestOutstanding = new(big.Int).Add(st.InterestOutstanding, accruedDelta(held, next, st.GlobalInterestIndex))
	}
	st.GlobalInterestIndex = next
	st.LastAccrualTS = now
}

// ensureAccount loads or lazily creates the holder record and synchronises
// it against the current global index. Syncing twice at the same index adds
// nothing.
func (e *Engine) ensureAccount(st *SeriesState, addr string) (*AccountIndex, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return nil, InvalidConfigError("address required")
	}
	acc, err := e.state.BondAccount(trimmed)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = &AccountIndex{
			Address: trimmed,
			Balance: big.NewInt(0),
			Index:   new(big.Int).Set(st.GlobalInterestIndex),
			Accrued: big.NewInt(0),
		}
		return acc, nil
	}
	clone := acc.Clone()
	delta := accruedDelta(clone.Balance, st.GlobalInterestIndex, clone.Index)
	if delta.Sign() > 0 {
		clone.Accrued = new(big.Int).Add(clone.Accrued, delta)
	}
	clone.Index = new(big.Int).Set(st.GlobalInterestIndex)
	return clone, nil
}

// freshPrice returns the recorded price when it exists and is within the
// configured age window, ErrOracleStale otherwise.
func (e *Engine) freshPrice(cfg *Config, st *SeriesState, now uint64) (*big.Int, error) {
	if st.LastPrice == nil || st.LastPrice.Price == nil || st.LastPrice.Price.Sign() <= 0 {
		return nil, ErrOracleStale
	}
	if now > st.LastPrice.Timestamp {
		if now-st.LastPrice.Timestamp > cfg.Terms.Oracle.MaxPriceAgeSeconds {
			return nil, ErrOracleStale
		}
	}
	return st.LastPrice.Price, nil
}

func mustPay(funds Funds, denom string) (*big.Int, error) {
	if strings.TrimSpace(funds.Denom) != denom {
		return nil, ErrInvalidAsset
	}
	if funds.Amount == nil || funds.Amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	return new(big.Int).Set(funds.Amount), nil
}
