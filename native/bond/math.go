package bond

import "math/big"

const (
	maxBps         = uint64(10_000)
	secondsPerYear = 31_536_000
)

var (
	basisPoints = big.NewInt(10_000)
	// ray is the fixed-point scale of the global interest index. The index
	// starts at exactly one ray.
	ray = mustBigInt("1000000000000000000000000000") // 1e27
	// priceScale is the fixed-point scale of oracle prices: principal minor
	// units per collateral unit.
	priceScale = mustBigInt("1000000000000000000") // 1e18
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// indexGrowth advances a ray-scaled interest index by dt seconds of simple
// per-second accrual at aprBps. The division rounds down so the index never
// overstates the protocol's interest liability.
func indexGrowth(index *big.Int, dt uint64, aprBps uint64) *big.Int {
	if index == nil || index.Sign() == 0 {
		return new(big.Int).Set(ray)
	}
	if dt == 0 || aprBps == 0 {
		return new(big.Int).Set(index)
	}
	growth := new(big.Int).Mul(index, new(big.Int).SetUint64(aprBps))
	growth.Mul(growth, new(big.Int).SetUint64(dt))
	growth.Quo(growth, new(big.Int).Mul(basisPoints, big.NewInt(secondsPerYear)))
	return new(big.Int).Add(index, growth)
}

// accruedDelta computes the interest earned by balance between two index
// readings: balance * (globalIndex - accountIndex) / ray, rounded down. The
// result is zero when the indexes match, which makes account syncs
// idempotent.
func accruedDelta(balance, globalIndex, accountIndex *big.Int) *big.Int {
	if balance == nil || balance.Sign() == 0 || globalIndex == nil || accountIndex == nil {
		return big.NewInt(0)
	}
	diff := new(big.Int).Sub(globalIndex, accountIndex)
	if diff.Sign() <= 0 {
		return big.NewInt(0)
	}
	delta := new(big.Int).Mul(balance, diff)
	return delta.Quo(delta, ray)
}

// bpsShare returns amount * bps / 10_000, rounded down.
func bpsShare(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() == 0 || bps == 0 {
		return big.NewInt(0)
	}
	share := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return share.Quo(share, basisPoints)
}

// CollateralRatioBps values the locked collateral at the supplied price and
// expresses it as basis points of outstanding principal. The second return is
// false when no ratio can be computed: missing or non-positive price, or no
// outstanding debt. Callers gating on the ratio must treat that as failing
// closed.
func CollateralRatioBps(locked, price, outstanding *big.Int) (*big.Int, bool) {
	if price == nil || price.Sign() <= 0 {
		return nil, false
	}
	if outstanding == nil || outstanding.Sign() == 0 {
		return nil, false
	}
	if locked == nil {
		locked = big.NewInt(0)
	}
	num := new(big.Int).Mul(locked, price)
	num.Mul(num, basisPoints)
	den := new(big.Int).Mul(priceScale, outstanding)
	return num.Quo(num, den), true
}

// collateralForRepay converts a repaid principal amount into collateral units
// at the supplied price and applies the liquidation bonus. Rounds down.
func collateralForRepay(repay, price *big.Int, bonusBps uint64) *big.Int {
	if repay == nil || repay.Sign() == 0 || price == nil || price.Sign() <= 0 {
		return big.NewInt(0)
	}
	units := new(big.Int).Mul(repay, priceScale)
	units.Quo(units, price)
	withBonus := new(big.Int).Mul(units, new(big.Int).SetUint64(maxBps+bonusBps))
	return withBonus.Quo(withBonus, basisPoints)
}

func minInt(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
