package settlement

import "fmt"

// orderLegs places fee legs ahead of the payout and drops zero-value legs.
func orderLegs(fees []Leg, payout Leg) []Leg {
	legs := make([]Leg, 0, len(fees)+1)
	for _, leg := range fees {
		if leg.Amount > 0 {
			legs = append(legs, leg)
		}
	}
	if payout.Amount > 0 {
		legs = append(legs, payout)
	}
	return legs
}

// execute runs legs in order and stops at the first failure. Legs that
// already ran are not reversed here: the caller's ledger transaction must be
// discarded on error for the call to have no effect.
func (e *Engine) execute(legs []Leg) error {
	for i, leg := range legs {
		if err := e.state.Transfer(leg.Source, leg.Destination, leg.Authority, leg.Amount); err != nil {
			return fmt.Errorf("%w: %s leg %d: %w", ErrExternalCall, leg.Kind, i, err)
		}
	}
	return nil
}
