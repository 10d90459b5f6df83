package bond

import (
	"errors"
	"math/big"
	"testing"
	"time"
)

func TestUpdateOraclePriceAuthz(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	fundSeries(t, engine, 0, 0)

	oracle := NewManualOracle()
	if err := oracle.SetDecimal(testCollateral, testPrincipal, "1.0", time.Unix(int64(clock.Now()), 0)); err != nil {
		t.Fatalf("set rate: %v", err)
	}
	engine.SetOracle(oracle)

	if _, err := engine.UpdateOraclePrice(testBuyer); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for stranger, got %v", err)
	}
	if _, err := engine.UpdateOraclePrice(testFeeder); err != nil {
		t.Fatalf("configured feeder must be allowed: %v", err)
	}
	if _, err := engine.UpdateOraclePrice(testAdmin); err != nil {
		t.Fatalf("admin must be allowed: %v", err)
	}
}

func TestUpdateOraclePriceRejectsStaleQuote(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	fundSeries(t, engine, 0, 0)

	oracle := NewManualOracle()
	stale := time.Unix(int64(clock.Now())-7200, 0) // beyond the 3600s window
	if err := oracle.SetDecimal(testCollateral, testPrincipal, "1.0", stale); err != nil {
		t.Fatalf("set rate: %v", err)
	}
	engine.SetOracle(oracle)

	if _, err := engine.UpdateOraclePrice(testAdmin); !errors.Is(err, ErrOracleStale) {
		t.Fatalf("expected ErrOracleStale, got %v", err)
	}
}

func TestUpdateOraclePriceRecordsScaledPrice(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	fundSeries(t, engine, 0, 0)
	pushPrice(t, engine, clock, "0.5")

	point, err := engine.PriceStatus()
	if err != nil {
		t.Fatalf("price status: %v", err)
	}
	if point == nil {
		t.Fatalf("price point missing")
	}
	expected := new(big.Int).Quo(priceScale, big.NewInt(2))
	if point.Price.Cmp(expected) != 0 {
		t.Fatalf("unexpected scaled price: got %s want %s", point.Price, expected)
	}
}

func TestLiquidateRequiresFreshPrice(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	fundSeries(t, engine, 1_000_000, 500_000)

	_, err := engine.Liquidate(testLiquidator, Funds{Denom: testPrincipal, Amount: big.NewInt(100)}, big.NewInt(100))
	if !errors.Is(err, ErrOracleStale) {
		t.Fatalf("expected ErrOracleStale without a price, got %v", err)
	}

	pushPrice(t, engine, clock, "0.5")
	clock.Advance(7200) // let the recorded price age out
	_, err = engine.Liquidate(testLiquidator, Funds{Denom: testPrincipal, Amount: big.NewInt(100)}, big.NewInt(100))
	if !errors.Is(err, ErrOracleStale) {
		t.Fatalf("expected ErrOracleStale for aged price, got %v", err)
	}
}

func TestLiquidateHealthyPositionRejected(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	fundSeries(t, engine, 1_000_000, 500_000)
	pushPrice(t, engine, clock, "1.0")

	// Ratio is 20,000 bps, comfortably above the 12,000 threshold.
	_, err := engine.Liquidate(testLiquidator, Funds{Denom: testPrincipal, Amount: big.NewInt(100)}, big.NewInt(100))
	if !errors.Is(err, ErrNotLiquidatable) {
		t.Fatalf("expected ErrNotLiquidatable, got %v", err)
	}
}

func TestLiquidateNoDebtRejected(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	fundSeries(t, engine, 1_000_000, 0)
	pushPrice(t, engine, clock, "0.5")

	_, err := engine.Liquidate(testLiquidator, Funds{Denom: testPrincipal, Amount: big.NewInt(100)}, big.NewInt(100))
	if !errors.Is(err, ErrNotLiquidatable) {
		t.Fatalf("expected ErrNotLiquidatable with no debt, got %v", err)
	}
}

func TestLiquidateSeizesWithBonus(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	fundSeries(t, engine, 1_000_000, 500_000)
	// At 0.5 the position is worth 10,000 bps of the debt, under the
	// 12,000 bps threshold.
	pushPrice(t, engine, clock, "0.5")

	receipt, err := engine.Liquidate(testLiquidator, Funds{Denom: testPrincipal, Amount: big.NewInt(100_000)}, big.NewInt(100_000))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if receipt.Repaid.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("unexpected repaid amount: %s", receipt.Repaid)
	}
	// 100,000 principal at price 0.5 is 200,000 collateral, plus the 5%
	// bonus.
	if receipt.Seized.Cmp(big.NewInt(210_000)) != 0 {
		t.Fatalf("unexpected seizure: %s", receipt.Seized)
	}
	if receipt.Refunded.Sign() != 0 {
		t.Fatalf("unexpected refund: %s", receipt.Refunded)
	}

	st, err := engine.State()
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if st.TotalPrincipalOutstanding.Cmp(big.NewInt(400_000)) != 0 {
		t.Fatalf("unexpected outstanding: %s", st.TotalPrincipalOutstanding)
	}
	if st.CollateralLocked.Cmp(big.NewInt(790_000)) != 0 {
		t.Fatalf("unexpected locked collateral: %s", st.CollateralLocked)
	}
}

func TestLiquidateRespectsMaxRepayAndRefunds(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	fundSeries(t, engine, 1_000_000, 500_000)
	pushPrice(t, engine, clock, "0.5")

	receipt, err := engine.Liquidate(testLiquidator, Funds{Denom: testPrincipal, Amount: big.NewInt(120_000)}, big.NewInt(100_000))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if receipt.Repaid.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("repay must honour maxRepay: %s", receipt.Repaid)
	}
	if receipt.Refunded.Cmp(big.NewInt(20_000)) != 0 {
		t.Fatalf("unexpected refund: %s", receipt.Refunded)
	}
	if len(receipt.Payments) != 2 {
		t.Fatalf("expected seizure and refund payments, got %d", len(receipt.Payments))
	}
	if receipt.Payments[0].Denom != testCollateral || receipt.Payments[1].Denom != testPrincipal {
		t.Fatalf("unexpected payment denoms: %+v", receipt.Payments)
	}
}

func TestLiquidateSeizureCappedByLocked(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	fundSeries(t, engine, 100_000, 500_000)
	pushPrice(t, engine, clock, "0.5")

	receipt, err := engine.Liquidate(testLiquidator, Funds{Denom: testPrincipal, Amount: big.NewInt(100_000)}, big.NewInt(100_000))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if receipt.Seized.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("seizure must not exceed locked collateral: %s", receipt.Seized)
	}
}

func TestCollateralRatioQuery(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	fundSeries(t, engine, 1_000_000, 500_000)

	// Unknown without a price reading.
	if _, known, err := engine.CollateralRatio(); err != nil || known {
		t.Fatalf("ratio should be unknown without price: known=%v err=%v", known, err)
	}

	pushPrice(t, engine, clock, "0.5")
	ratio, known, err := engine.CollateralRatio()
	if err != nil {
		t.Fatalf("ratio: %v", err)
	}
	if !known {
		t.Fatalf("ratio should be known")
	}
	if ratio.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("unexpected ratio: %s", ratio)
	}
}

func TestWithdrawCollateralHealthGate(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	fundSeries(t, engine, 1_000_000, 500_000)

	// With debt but no price the withdrawal fails closed.
	_, err := engine.WithdrawCollateral(testBorrower, big.NewInt(100_000))
	if !errors.Is(err, ErrOracleStale) {
		t.Fatalf("expected ErrOracleStale, got %v", err)
	}

	pushPrice(t, engine, clock, "1.0")

	// Dropping to 700,000 locked would leave 14,000 bps, under the 15,000
	// initial ratio.
	_, err = engine.WithdrawCollateral(testBorrower, big.NewInt(300_000))
	if !errors.Is(err, ErrCollateralTooLow) {
		t.Fatalf("expected ErrCollateralTooLow, got %v", err)
	}

	payment, err := engine.WithdrawCollateral(testBorrower, big.NewInt(200_000))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if payment.Denom != testCollateral || payment.Amount.Cmp(big.NewInt(200_000)) != 0 {
		t.Fatalf("unexpected withdrawal payment: %+v", payment)
	}
}

func TestWithdrawCollateralUnconstrainedWithoutDebt(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	fundSeries(t, engine, 1_000_000, 0)

	if _, err := engine.WithdrawCollateral(testBorrower, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("withdraw without debt: %v", err)
	}
	_, err := engine.WithdrawCollateral(testBorrower, big.NewInt(1))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds on empty vault, got %v", err)
	}
}

func TestWithdrawCollateralBorrowerOnly(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	fundSeries(t, engine, 1_000_000, 0)

	_, err := engine.WithdrawCollateral(testBuyer, big.NewInt(1))
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
