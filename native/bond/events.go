package bond

import (
	"math/big"
	"strconv"

	"hebledger/core/types"
)

const (
	EventTypeInstantiated        = "bond.instantiated"
	EventTypeCollateralDeposited = "bond.collateral_deposited"
	EventTypeCollateralWithdrawn = "bond.collateral_withdrawn"
	EventTypeSaleOpened          = "bond.sale_opened"
	EventTypeBought              = "bond.bought"
	EventTypeRepaid              = "bond.repaid"
	EventTypeInterestClaimed     = "bond.interest_claimed"
	EventTypeRedeemed            = "bond.redeemed"
	EventTypeLiquidated          = "bond.liquidated"
	EventTypePriceUpdated        = "bond.price_updated"
	EventTypeImpactCheckpointed  = "bond.impact_checkpointed"
	EventTypePaused              = "bond.paused"
	EventTypeUnpaused            = "bond.unpaused"
	EventTypeTransferred         = "bond.transferred"
)

func amountAttr(attrs map[string]string, key string, amount *big.Int) {
	if amount != nil {
		attrs[key] = amount.String()
	}
}

func newBondEvent(eventType string, attrs map[string]string) *types.Event {
	return &types.Event{Type: eventType, Attributes: attrs}
}

// NewBoughtEvent returns the canonical payload for a bond purchase.
func NewBoughtEvent(buyer string, paid, fee *big.Int) *types.Event {
	attrs := map[string]string{"buyer": buyer}
	amountAttr(attrs, "paid", paid)
	amountAttr(attrs, "fee", fee)
	return newBondEvent(EventTypeBought, attrs)
}

// NewRepaidEvent returns the payload for a repayment, split by the
// interest-first waterfall.
func NewRepaidEvent(borrower string, interest, principal *big.Int) *types.Event {
	attrs := map[string]string{"borrower": borrower}
	amountAttr(attrs, "interest", interest)
	amountAttr(attrs, "principal", principal)
	return newBondEvent(EventTypeRepaid, attrs)
}

// NewInterestClaimedEvent returns the payload for an interest claim.
func NewInterestClaimedEvent(holder string, amount *big.Int) *types.Event {
	attrs := map[string]string{"holder": holder}
	amountAttr(attrs, "amount", amount)
	return newBondEvent(EventTypeInterestClaimed, attrs)
}

// NewRedeemedEvent returns the payload for a maturity redemption.
func NewRedeemedEvent(holder string, burned, paid *big.Int) *types.Event {
	attrs := map[string]string{"holder": holder}
	amountAttr(attrs, "burned", burned)
	amountAttr(attrs, "paid", paid)
	return newBondEvent(EventTypeRedeemed, attrs)
}

// NewLiquidatedEvent returns the payload for a liquidation.
func NewLiquidatedEvent(liquidator string, repaid, seized *big.Int) *types.Event {
	attrs := map[string]string{"liquidator": liquidator}
	amountAttr(attrs, "repaid", repaid)
	amountAttr(attrs, "seized", seized)
	return newBondEvent(EventTypeLiquidated, attrs)
}

// NewPriceUpdatedEvent returns the payload for an accepted oracle reading.
func NewPriceUpdatedEvent(price *big.Int, ts uint64, source string) *types.Event {
	attrs := map[string]string{
		"timestamp": strconv.FormatUint(ts, 10),
		"source":    source,
	}
	amountAttr(attrs, "price", price)
	return newBondEvent(EventTypePriceUpdated, attrs)
}

// NewImpactCheckpointedEvent returns the payload for a checkpoint
// evaluation.
func NewImpactCheckpointedEvent(point *ImpactPoint) *types.Event {
	if point == nil {
		return nil
	}
	attrs := map[string]string{
		"checkpointTs": strconv.FormatUint(point.CheckpointTS, 10),
		"met":          strconv.FormatBool(point.Met),
	}
	amountAttr(attrs, "retiredTotal", point.RetiredTotal)
	amountAttr(attrs, "targetRetired", point.TargetRetired)
	return newBondEvent(EventTypeImpactCheckpointed, attrs)
}

// NewTransferredEvent returns the payload for a balance transfer.
func NewTransferredEvent(from, to string, amount *big.Int) *types.Event {
	attrs := map[string]string{"from": from, "to": to}
	amountAttr(attrs, "amount", amount)
	return newBondEvent(EventTypeTransferred, attrs)
}

// NewCollateralEvent returns the payload for a collateral deposit or
// withdrawal.
func NewCollateralEvent(eventType, borrower string, amount *big.Int) *types.Event {
	attrs := map[string]string{"borrower": borrower}
	amountAttr(attrs, "amount", amount)
	return newBondEvent(eventType, attrs)
}

// NewLifecycleEvent returns an attribute-light payload for sale opening,
// pausing and instantiation.
func NewLifecycleEvent(eventType, actor string) *types.Event {
	return newBondEvent(eventType, map[string]string{"actor": actor})
}
