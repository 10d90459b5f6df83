package bond

import (
	"math/big"
	"testing"
)

func TestIndexGrowthExactYear(t *testing.T) {
	// One year at 1000 bps adds exactly one tenth of the index.
	got := indexGrowth(ray, secondsPerYear, 1000)
	want := new(big.Int).Add(ray, new(big.Int).Quo(ray, big.NewInt(10)))
	if got.Cmp(want) != 0 {
		t.Fatalf("unexpected growth: got %s want %s", got, want)
	}
}

func TestIndexGrowthZeroInputs(t *testing.T) {
	if got := indexGrowth(ray, 0, 1000); got.Cmp(ray) != 0 {
		t.Fatalf("zero dt must not grow: %s", got)
	}
	if got := indexGrowth(ray, secondsPerYear, 0); got.Cmp(ray) != 0 {
		t.Fatalf("zero rate must not grow: %s", got)
	}
	if got := indexGrowth(nil, secondsPerYear, 1000); got.Cmp(ray) != 0 {
		t.Fatalf("nil index must reset to one ray: %s", got)
	}
}

func TestIndexGrowthRoundsDown(t *testing.T) {
	// One second at 1 bps on a one-ray index: ray / (10000 * secondsPerYear)
	// truncates.
	got := indexGrowth(ray, 1, 1)
	expected := new(big.Int).Quo(ray, new(big.Int).Mul(big.NewInt(10_000), big.NewInt(secondsPerYear)))
	expected.Add(expected, ray)
	if got.Cmp(expected) != 0 {
		t.Fatalf("unexpected truncated growth: got %s want %s", got, expected)
	}
	if got.Cmp(ray) < 0 {
		t.Fatalf("index must never decrease")
	}
}

func TestAccruedDelta(t *testing.T) {
	global := new(big.Int).Add(ray, new(big.Int).Quo(ray, big.NewInt(10)))
	delta := accruedDelta(big.NewInt(500_000), global, ray)
	if delta.Cmp(big.NewInt(50_000)) != 0 {
		t.Fatalf("unexpected delta: %s", delta)
	}
	if d := accruedDelta(big.NewInt(500_000), ray, ray); d.Sign() != 0 {
		t.Fatalf("equal indexes must yield zero, got %s", d)
	}
	if d := accruedDelta(big.NewInt(0), global, ray); d.Sign() != 0 {
		t.Fatalf("zero balance must yield zero, got %s", d)
	}
	if d := accruedDelta(big.NewInt(1), global, ray); d.Sign() != 0 {
		// 1 * 0.1ray / ray truncates to zero.
		t.Fatalf("sub-unit accrual must truncate, got %s", d)
	}
}

func TestBpsShare(t *testing.T) {
	if got := bpsShare(big.NewInt(500_000), 50); got.Cmp(big.NewInt(2_500)) != 0 {
		t.Fatalf("unexpected share: %s", got)
	}
	if got := bpsShare(big.NewInt(99), 50); got.Sign() != 0 {
		t.Fatalf("sub-bps share must truncate to zero, got %s", got)
	}
	if got := bpsShare(big.NewInt(100), 0); got.Sign() != 0 {
		t.Fatalf("zero bps must yield zero, got %s", got)
	}
}

func TestCollateralRatioBps(t *testing.T) {
	halfPrice := new(big.Int).Quo(priceScale, big.NewInt(2))

	ratio, ok := CollateralRatioBps(big.NewInt(1_000_000), halfPrice, big.NewInt(500_000))
	if !ok {
		t.Fatalf("ratio should be computable")
	}
	if ratio.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("unexpected ratio: %s", ratio)
	}

	if _, ok := CollateralRatioBps(big.NewInt(1), nil, big.NewInt(1)); ok {
		t.Fatalf("nil price must be unknown")
	}
	if _, ok := CollateralRatioBps(big.NewInt(1), big.NewInt(0), big.NewInt(1)); ok {
		t.Fatalf("zero price must be unknown")
	}
	if _, ok := CollateralRatioBps(big.NewInt(1), halfPrice, big.NewInt(0)); ok {
		t.Fatalf("zero outstanding must be unknown")
	}

	ratio, ok = CollateralRatioBps(nil, halfPrice, big.NewInt(500_000))
	if !ok || ratio.Sign() != 0 {
		t.Fatalf("nil locked reads as zero collateral: %v %s", ok, ratio)
	}
}

func TestCollateralForRepay(t *testing.T) {
	halfPrice := new(big.Int).Quo(priceScale, big.NewInt(2))

	seize := collateralForRepay(big.NewInt(100_000), halfPrice, 500)
	if seize.Cmp(big.NewInt(210_000)) != 0 {
		t.Fatalf("unexpected seizure: %s", seize)
	}

	seize = collateralForRepay(big.NewInt(100_000), priceScale, 0)
	if seize.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("unit price without bonus must be one-to-one: %s", seize)
	}

	if s := collateralForRepay(big.NewInt(0), halfPrice, 500); s.Sign() != 0 {
		t.Fatalf("zero repay must seize nothing, got %s", s)
	}
	if s := collateralForRepay(big.NewInt(100), nil, 500); s.Sign() != 0 {
		t.Fatalf("missing price must seize nothing, got %s", s)
	}
}

func TestMinInt(t *testing.T) {
	a, b := big.NewInt(3), big.NewInt(7)
	if got := minInt(a, b); got.Cmp(a) != 0 {
		t.Fatalf("unexpected min: %s", got)
	}
	got := minInt(b, a)
	if got.Cmp(a) != 0 {
		t.Fatalf("unexpected min: %s", got)
	}
	got.SetInt64(99)
	if a.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("minInt must copy its result")
	}
}
