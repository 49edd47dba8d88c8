package settlement

import (
	"paysettle/core/events"
	"paysettle/core/types"
)

// Variant selects how a settlement derives its transfer amounts.
type Variant uint8

const (
	VariantDirect Variant = iota + 1
	VariantSplitFee
	VariantSwapMediated
)

func (v Variant) String() string {
	switch v {
	case VariantDirect:
		return "direct"
	case VariantSplitFee:
		return "split_fee"
	case VariantSwapMediated:
		return "swap_mediated"
	default:
		return "unknown"
	}
}

// Payment is one caller-supplied settlement instruction. It lives only for
// the duration of a call and OrderID is never checked for uniqueness.
type Payment struct {
	OrderID      string
	PayInAsset   types.Address
	PayOutAsset  types.Address
	PayInAmount  uint64
	PayOutAmount uint64
	Merchant     types.Address
	// Expiry is the last unix second at which the payment may settle.
	Expiry int64
}

// FeeReceiver is one weighted slot of a split fee.
type FeeReceiver struct {
	Account   types.Address
	WeightBps uint32
}

// FeeReceiverSet always carries all eight slots; unused ones have zero weight.
type FeeReceiverSet [events.FeeReceiverSlots]FeeReceiver

// SwapRoute picks the exchange protocol and pool for a swap-mediated payment.
type SwapRoute struct {
	Protocol string
	Pool     types.Address
}

// TransferAccounts are the balances touched by a direct, split or donation
// settlement. Payer signs for Source; Destination is the merchant's account.
type TransferAccounts struct {
	Payer       types.Address
	Source      types.Address
	Destination types.Address
	Treasury    types.Address
}

// SwapAccounts are the balances touched by a swap-mediated settlement. The
// exchange pays into Output, a payer-owned account of the pay-out asset, and
// both the fee and the payout are drawn from it.
type SwapAccounts struct {
	Payer       types.Address
	Source      types.Address
	Output      types.Address
	Destination types.Address
	Treasury    types.Address
}

// RedeemAccounts identify a treasury withdrawal.
type RedeemAccounts struct {
	Requester   types.Address
	Treasury    types.Address
	Destination types.Address
}

// LegKind labels a transfer leg.
type LegKind uint8

const (
	LegFee LegKind = iota + 1
	LegPayout
	LegRedeem
)

func (k LegKind) String() string {
	switch k {
	case LegFee:
		return "fee"
	case LegPayout:
		return "payout"
	case LegRedeem:
		return "redeem"
	default:
		return "unknown"
	}
}

// Leg is one balance-to-balance transfer.
type Leg struct {
	Kind        LegKind
	Source      types.Address
	Destination types.Address
	Authority   types.Address
	Amount      uint64
}

// Receipt summarises a completed call.
type Receipt struct {
	Variant    Variant
	Donation   bool
	OrderID    string
	Legs       []Leg
	Fee        uint64
	Dust       uint64
	SwapOutput uint64
	Shares     [events.FeeReceiverSlots]events.FeeShare
	Event      events.Typed
}
