package bond

import (
	"errors"
	"math/big"
	"testing"
)

func TestAccrualGrowsIndexLinearly(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	fundSeries(t, engine, 0, 500_000)

	clock.Advance(yearSecs)
	st, err := engine.State()
	if err != nil {
		t.Fatalf("state: %v", err)
	}

	// One year at 1000 bps grows the index by exactly one tenth.
	expected := new(big.Int).Add(ray, new(big.Int).Quo(ray, big.NewInt(10)))
	if st.GlobalInterestIndex.Cmp(expected) != 0 {
		t.Fatalf("unexpected index: got %s want %s", st.GlobalInterestIndex, expected)
	}
	if st.InterestOutstanding.Cmp(big.NewInt(50_000)) != 0 {
		t.Fatalf("unexpected interest outstanding: %s", st.InterestOutstanding)
	}
}

func TestQueriesDoNotPersistAccrual(t *testing.T) {
	engine, state, clock := newTestEngine(t)
	fundSeries(t, engine, 0, 500_000)
	persistedTS := state.series.LastAccrualTS

	clock.Advance(yearSecs)
	if _, err := engine.State(); err != nil {
		t.Fatalf("state: %v", err)
	}
	if _, err := engine.AccruedInterest(testBuyer); err != nil {
		t.Fatalf("accrued: %v", err)
	}
	if state.series.LastAccrualTS != persistedTS {
		t.Fatalf("query persisted accrual")
	}
}

func TestAccruedInterestAndClaim(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	fundSeries(t, engine, 0, 500_000)

	clock.Advance(yearSecs)
	accrued, err := engine.AccruedInterest(testBuyer)
	if err != nil {
		t.Fatalf("accrued: %v", err)
	}
	if accrued.Cmp(big.NewInt(50_000)) != 0 {
		t.Fatalf("unexpected accrued interest: %s", accrued)
	}

	payment, err := engine.ClaimInterest(testBuyer)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if payment.To != testBuyer || payment.Denom != testPrincipal {
		t.Fatalf("unexpected payment target: %+v", payment)
	}
	if payment.Amount.Cmp(big.NewInt(50_000)) != 0 {
		t.Fatalf("unexpected claim amount: %s", payment.Amount)
	}

	// Claiming again at the same instant yields nothing.
	if _, err := engine.ClaimInterest(testBuyer); !errors.Is(err, ErrNothingToClaim) {
		t.Fatalf("expected ErrNothingToClaim, got %v", err)
	}
}

func TestHolderSyncIsIdempotent(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	fundSeries(t, engine, 0, 500_000)

	clock.Advance(yearSecs)
	first, err := engine.AccruedInterest(testBuyer)
	if err != nil {
		t.Fatalf("accrued: %v", err)
	}
	second, err := engine.AccruedInterest(testBuyer)
	if err != nil {
		t.Fatalf("accrued: %v", err)
	}
	if first.Cmp(second) != 0 {
		t.Fatalf("repeated sync changed accrual: %s != %s", first, second)
	}
}

func TestRepayWaterfallInterestFirst(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	fundSeries(t, engine, 0, 500_000)
	clock.Advance(yearSecs)

	receipt, err := engine.Repay(testBorrower, Funds{Denom: testPrincipal, Amount: big.NewInt(60_000)})
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if receipt.InterestApplied.Cmp(big.NewInt(50_000)) != 0 {
		t.Fatalf("unexpected interest application: %s", receipt.InterestApplied)
	}
	if receipt.PrincipalApplied.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("unexpected principal application: %s", receipt.PrincipalApplied)
	}
	if receipt.Refunded.Sign() != 0 {
		t.Fatalf("unexpected refund: %s", receipt.Refunded)
	}

	st, err := engine.State()
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if st.InterestOutstanding.Sign() != 0 {
		t.Fatalf("interest should be settled, got %s", st.InterestOutstanding)
	}
	if st.TotalPrincipalOutstanding.Cmp(big.NewInt(490_000)) != 0 {
		t.Fatalf("unexpected outstanding: %s", st.TotalPrincipalOutstanding)
	}
}

func TestRepayRefundsSurplus(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	fundSeries(t, engine, 0, 100_000)

	receipt, err := engine.Repay(testBorrower, Funds{Denom: testPrincipal, Amount: big.NewInt(150_000)})
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if receipt.PrincipalApplied.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("unexpected principal application: %s", receipt.PrincipalApplied)
	}
	if receipt.Refunded.Cmp(big.NewInt(50_000)) != 0 {
		t.Fatalf("unexpected refund: %s", receipt.Refunded)
	}
	if len(receipt.Payments) != 1 || receipt.Payments[0].To != testBorrower {
		t.Fatalf("expected refund payment to borrower, got %+v", receipt.Payments)
	}
}

func TestRepayBorrowerOnly(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	fundSeries(t, engine, 0, 100_000)

	_, err := engine.Repay(testBuyer, Funds{Denom: testPrincipal, Amount: big.NewInt(1)})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestPenaltyRateAppliesAfterMissedCheckpoint(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	fundSeries(t, engine, 0, 500_000)

	registry := NewStaticRegistry()
	registry.SetRetired("C01-001", big.NewInt(1_000)) // below the 10,000 target
	engine.SetRegistry(registry)

	clock.Advance(yearSecs / 2)
	point, err := engine.CheckpointImpact(testBuyer)
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if point.Met {
		t.Fatalf("checkpoint should be missed")
	}

	// From the checkpoint on, the effective rate is base + penalty = 1200 bps.
	before, err := engine.State()
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	clock.Advance(yearSecs)
	after, err := engine.State()
	if err != nil {
		t.Fatalf("state: %v", err)
	}

	growth := new(big.Int).Sub(after.GlobalInterestIndex, before.GlobalInterestIndex)
	expected := new(big.Int).Mul(before.GlobalInterestIndex, big.NewInt(1200))
	expected.Quo(expected, big.NewInt(10_000))
	if growth.Cmp(expected) != 0 {
		t.Fatalf("unexpected penalty growth: got %s want %s", growth, expected)
	}
}

func TestCheckpointMetClearsPenalty(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	fundSeries(t, engine, 0, 500_000)

	registry := NewStaticRegistry()
	registry.SetRetired("C01-001", big.NewInt(20_000))
	engine.SetRegistry(registry)

	clock.Advance(yearSecs / 2)
	point, err := engine.CheckpointImpact(testBuyer)
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if !point.Met {
		t.Fatalf("checkpoint should be met")
	}

	before, _ := engine.State()
	clock.Advance(yearSecs)
	after, _ := engine.State()
	growth := new(big.Int).Sub(after.GlobalInterestIndex, before.GlobalInterestIndex)
	expected := new(big.Int).Mul(before.GlobalInterestIndex, big.NewInt(1000))
	expected.Quo(expected, big.NewInt(10_000))
	if growth.Cmp(expected) != 0 {
		t.Fatalf("met checkpoint must accrue at base rate: got %s want %s", growth, expected)
	}
}

func TestCheckpointNotDue(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	fundSeries(t, engine, 0, 0)
	engine.SetRegistry(NewStaticRegistry())

	if _, err := engine.CheckpointImpact(testBuyer); !errors.Is(err, ErrNoCheckpointDue) {
		t.Fatalf("expected ErrNoCheckpointDue, got %v", err)
	}
}

func TestRedeemAtMaturity(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	fundSeries(t, engine, 0, 500_000)

	if _, err := engine.RedeemAtMaturity(testBuyer, big.NewInt(1)); !errors.Is(err, ErrNotMatured) {
		t.Fatalf("expected ErrNotMatured, got %v", err)
	}

	clock.Set(testStart + 2*yearSecs)
	payment, err := engine.RedeemAtMaturity(testBuyer, big.NewInt(200_000))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if payment.Amount.Cmp(big.NewInt(200_000)) != 0 || payment.Denom != testPrincipal {
		t.Fatalf("unexpected redemption payment: %+v", payment)
	}

	balance, _ := engine.BalanceOf(testBuyer)
	if balance.Cmp(big.NewInt(300_000)) != 0 {
		t.Fatalf("unexpected balance after redeem: %s", balance)
	}
	st, _ := engine.State()
	if st.TotalRedeemed.Cmp(big.NewInt(200_000)) != 0 {
		t.Fatalf("unexpected redeemed total: %s", st.TotalRedeemed)
	}
	if st.TotalPrincipalOutstanding.Cmp(big.NewInt(300_000)) != 0 {
		t.Fatalf("unexpected outstanding after redeem: %s", st.TotalPrincipalOutstanding)
	}

	if _, err := engine.RedeemAtMaturity(testBuyer, big.NewInt(300_001)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected overdraft rejection, got %v", err)
	}
	if _, err := engine.RedeemAtMaturity(testBuyer, big.NewInt(0)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected zero-amount rejection, got %v", err)
	}
}

func TestRedeemPayoutCappedByOutstanding(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	fundSeries(t, engine, 0, 500_000)

	// The borrower retires most of the debt before maturity.
	if _, err := engine.Repay(testBorrower, Funds{Denom: testPrincipal, Amount: big.NewInt(400_000)}); err != nil {
		t.Fatalf("repay: %v", err)
	}

	clock.Set(testStart + 2*yearSecs)
	payment, err := engine.RedeemAtMaturity(testBuyer, big.NewInt(500_000))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if payment.Amount.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("payout must be capped by outstanding: %s", payment.Amount)
	}
}
