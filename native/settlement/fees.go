package settlement

import (
	"fmt"

	"github.com/holiman/uint256"

	"paysettle/core/events"
)

// BasisPointsDenominator is the total weight a fee split must add up to.
const BasisPointsDenominator = 10_000

func checkedSub(a, b uint64) (uint64, error) {
	if a < b {
		return 0, fmt.Errorf("%w: %d - %d", ErrArithmeticUnderflow, a, b)
	}
	return a - b, nil
}

func checkedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, fmt.Errorf("%w: %d + %d", ErrArithmeticOverflow, a, b)
	}
	return sum, nil
}

// SkimFee is the pay-in amount minus the pay-out amount. A payment that pays
// out more than it takes in fails instead of wrapping.
func SkimFee(p Payment) (uint64, error) {
	return checkedSub(p.PayInAmount, p.PayOutAmount)
}

// ValidateWeights requires the eight slot weights to total exactly 10000.
func ValidateWeights(set FeeReceiverSet) error {
	var sum uint64
	for _, slot := range set {
		sum += uint64(slot.WeightBps)
	}
	if sum != BasisPointsDenominator {
		return fmt.Errorf("%w: got %d", ErrInvalidPercentage, sum)
	}
	return nil
}

// SplitFee divides total across the receiver slots by weight, rounding each
// share down. The remainder is returned as dust and is not distributed.
func SplitFee(total uint64, set FeeReceiverSet) ([events.FeeReceiverSlots]events.FeeShare, uint64, error) {
	var shares [events.FeeReceiverSlots]events.FeeShare
	if err := ValidateWeights(set); err != nil {
		return shares, 0, err
	}
	var distributed uint64
	for i, slot := range set {
		shares[i] = events.FeeShare{Receiver: slot.Account, WeightBps: slot.WeightBps}
		if slot.WeightBps == 0 {
			continue
		}
		amount, err := shareOf(total, slot.WeightBps)
		if err != nil {
			return shares, 0, err
		}
		shares[i].Amount = amount
		if distributed, err = checkedAdd(distributed, amount); err != nil {
			return shares, 0, err
		}
	}
	dust, err := checkedSub(total, distributed)
	if err != nil {
		return shares, 0, err
	}
	return shares, dust, nil
}

// shareOf computes floor(total*weight/10000) without intermediate overflow.
func shareOf(total uint64, weightBps uint32) (uint64, error) {
	product := new(uint256.Int).Mul(uint256.NewInt(total), uint256.NewInt(uint64(weightBps)))
	product.Div(product, uint256.NewInt(BasisPointsDenominator))
	if !product.IsUint64() {
		return 0, fmt.Errorf("%w: share of %d at %d bps", ErrArithmeticOverflow, total, weightBps)
	}
	return product.Uint64(), nil
}
