package events

import (
	"strconv"
	"strings"

	"paysettle/core/types"
)

const (
	// TypePaymentCompleted is emitted after a direct skim-fee settlement.
	TypePaymentCompleted = "settlement.payment_completed"
	// TypePaymentFeeDistributed is emitted after a split-fee settlement.
	TypePaymentFeeDistributed = "settlement.payment_fee_distributed"
	// TypeSwapPaymentCompleted is emitted after a swap-mediated settlement.
	TypeSwapPaymentCompleted = "settlement.swap_payment_completed"
	// TypeDonationCompleted is emitted for donation settlements on either path.
	TypeDonationCompleted = "settlement.donation_completed"
	// TypeFeesRedeemed is emitted when the owner withdraws from the treasury.
	TypeFeesRedeemed = "settlement.fees_redeemed"
)

// FeeReceiverSlots is the fixed number of receiver slots in a split settlement.
const FeeReceiverSlots = 8

// PaymentSummary carries the fields shared by every settlement event.
type PaymentSummary struct {
	OrderID      string
	PayInAsset   types.Address
	PayOutAsset  types.Address
	PayInAmount  uint64
	PayOutAmount uint64
	FeeCollected uint64
	Merchant     types.Address
	Payer        types.Address
	Source       types.Address
}

func (s PaymentSummary) attributes() map[string]string {
	return map[string]string{
		"orderId":      s.OrderID,
		"payInAsset":   addressString(s.PayInAsset),
		"payOutAsset":  addressString(s.PayOutAsset),
		"payInAmount":  strconv.FormatUint(s.PayInAmount, 10),
		"payOutAmount": strconv.FormatUint(s.PayOutAmount, 10),
		"feeCollected": strconv.FormatUint(s.FeeCollected, 10),
		"merchant":     addressString(s.Merchant),
		"payer":        addressString(s.Payer),
		"source":       addressString(s.Source),
	}
}

// PaymentCompleted records a direct settlement where the fee, if any, went to
// a single treasury balance.
type PaymentCompleted struct {
	PaymentSummary
	Treasury types.Address
}

// EventType satisfies the events.Event interface.
func (PaymentCompleted) EventType() string { return TypePaymentCompleted }

// Event converts the payload into its wire representation.
func (e PaymentCompleted) Event() *types.Event {
	attrs := e.attributes()
	attrs["treasury"] = addressString(e.Treasury)
	return &types.Event{Type: TypePaymentCompleted, Attributes: attrs}
}

// DonationCompleted has the same shape as PaymentCompleted. Pool and Protocol
// are set when the donation went through an exchange.
type DonationCompleted struct {
	PaymentSummary
	Treasury types.Address
	Protocol string
	Pool     types.Address
}

// EventType satisfies the events.Event interface.
func (DonationCompleted) EventType() string { return TypeDonationCompleted }

// Event converts the payload into its wire representation.
func (e DonationCompleted) Event() *types.Event {
	attrs := e.attributes()
	attrs["treasury"] = addressString(e.Treasury)
	if protocol := strings.TrimSpace(e.Protocol); protocol != "" {
		attrs["protocol"] = protocol
		attrs["pool"] = addressString(e.Pool)
	}
	return &types.Event{Type: TypeDonationCompleted, Attributes: attrs}
}

// FeeShare is one receiver's portion of a split fee.
type FeeShare struct {
	Receiver  types.Address
	WeightBps uint32
	Amount    uint64
}

// PaymentFeeDistributed records a split settlement. Slots are kept in the
// caller's order, including zero-weight ones.
type PaymentFeeDistributed struct {
	PaymentSummary
	Receivers [FeeReceiverSlots]FeeShare
	Dust      uint64
}

// EventType satisfies the events.Event interface.
func (PaymentFeeDistributed) EventType() string { return TypePaymentFeeDistributed }

// Event converts the payload into its wire representation.
func (e PaymentFeeDistributed) Event() *types.Event {
	attrs := e.attributes()
	for i, share := range e.Receivers {
		idx := strconv.Itoa(i)
		attrs["receiver"+idx] = addressString(share.Receiver)
		attrs["amount"+idx] = strconv.FormatUint(share.Amount, 10)
	}
	attrs["dust"] = strconv.FormatUint(e.Dust, 10)
	return &types.Event{Type: TypePaymentFeeDistributed, Attributes: attrs}
}

// SwapPaymentCompleted records a settlement whose payout was produced by an
// exchange. SwapOutput is the measured destination balance delta.
type SwapPaymentCompleted struct {
	PaymentSummary
	Treasury   types.Address
	Protocol   string
	Pool       types.Address
	SwapOutput uint64
}

// EventType satisfies the events.Event interface.
func (SwapPaymentCompleted) EventType() string { return TypeSwapPaymentCompleted }

// Event converts the payload into its wire representation.
func (e SwapPaymentCompleted) Event() *types.Event {
	attrs := e.attributes()
	attrs["treasury"] = addressString(e.Treasury)
	attrs["protocol"] = strings.TrimSpace(e.Protocol)
	attrs["pool"] = addressString(e.Pool)
	attrs["swapOutput"] = strconv.FormatUint(e.SwapOutput, 10)
	return &types.Event{Type: TypeSwapPaymentCompleted, Attributes: attrs}
}

// FeesRedeemed records a treasury withdrawal authorised by the owner.
type FeesRedeemed struct {
	Treasury    types.Address
	Destination types.Address
	Requester   types.Address
	Amount      uint64
}

// EventType satisfies the events.Event interface.
func (FeesRedeemed) EventType() string { return TypeFeesRedeemed }

// Event converts the payload into its wire representation.
func (e FeesRedeemed) Event() *types.Event {
	return &types.Event{
		Type: TypeFeesRedeemed,
		Attributes: map[string]string{
			"treasury":    addressString(e.Treasury),
			"destination": addressString(e.Destination),
			"requester":   addressString(e.Requester),
			"amount":      strconv.FormatUint(e.Amount, 10),
		},
	}
}

// Payload returns the wire representation of evt when it exposes one.
func Payload(evt Event) *types.Event {
	typed, ok := evt.(Typed)
	if !ok {
		return nil
	}
	return typed.Event()
}

func addressString(addr types.Address) string {
	if addr.IsZero() {
		return ""
	}
	return addr.String()
}
