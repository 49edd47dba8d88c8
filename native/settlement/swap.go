package settlement

import (
	"fmt"

	"paysettle/core/types"
	"paysettle/native/exchange"
)

func (e *Engine) balance(addr types.Address) (uint64, error) {
	acct, err := e.state.TokenAccount(addr)
	if err != nil {
		return 0, fmt.Errorf("%w: read %s: %w", ErrExternalCall, addr, err)
	}
	return acct.Amount, nil
}

// planSwap runs the exchange once and measures its output as the change in
// the output balance, since the exchange returns no amount. The measured
// output must cover PayOutAmount; the excess becomes the fee. When it does
// not, the call fails after the swap has already run, so the enclosing
// transaction has to be discarded.
func (e *Engine) planSwap(ix instruction) (*plan, error) {
	ex, ok := e.exchanges[normalizeProtocol(ix.route.Protocol)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, ix.route.Protocol)
	}
	acc := ix.swap

	before, err := e.balance(acc.Output)
	if err != nil {
		return nil, err
	}
	// No pre-trade floor: MinimumOut stays zero and the delta check below is
	// the only slippage protection.
	err = ex.SwapBaseIn(e.state, exchange.Instruction{
		Pool:        ix.route.Pool,
		Source:      acc.Source,
		Destination: acc.Output,
		Owner:       acc.Payer,
		AmountIn:    ix.payment.PayInAmount,
		MinimumOut:  0,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s swap: %w", ErrExternalCall, ex.Protocol(), err)
	}
	after, err := e.balance(acc.Output)
	if err != nil {
		return nil, err
	}

	swapOut, err := checkedSub(after, before)
	if err != nil {
		return nil, fmt.Errorf("swap output: %w", err)
	}
	fee, err := checkedSub(swapOut, ix.payment.PayOutAmount)
	if err != nil {
		return nil, fmt.Errorf("swap under-delivered: %w", err)
	}
	return &plan{
		fee:        fee,
		swapOutput: swapOut,
		legs: orderLegs(
			[]Leg{{Kind: LegFee, Source: acc.Output, Destination: acc.Treasury, Authority: acc.Payer, Amount: fee}},
			Leg{Kind: LegPayout, Source: acc.Output, Destination: acc.Destination, Authority: acc.Payer, Amount: ix.payment.PayOutAmount},
		),
	}, nil
}
