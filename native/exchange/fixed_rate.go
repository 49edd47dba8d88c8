package exchange

import (
	"fmt"
	"sync"

	"paysettle/core/types"
)

// ProtocolFixedRate names the quoted-rate venue protocol.
const ProtocolFixedRate = "fixed-rate"

// Venue converts at a fixed rate of RateNum quote units per RateDen base
// units, minus SpreadBps of the output.
type Venue struct {
	ID         types.Address
	BaseVault  types.Address
	QuoteVault types.Address
	RateNum    uint64
	RateDen    uint64
	SpreadBps  uint32
}

// FixedRate executes swaps against registered venues.
type FixedRate struct {
	mu     sync.RWMutex
	venues map[types.Address]Venue
}

func NewFixedRate() *FixedRate {
	return &FixedRate{venues: make(map[types.Address]Venue)}
}

func (f *FixedRate) Protocol() string { return ProtocolFixedRate }

func (f *FixedRate) AddVenue(venue Venue) error {
	if venue.ID.IsZero() || venue.BaseVault.IsZero() || venue.QuoteVault.IsZero() || venue.BaseVault == venue.QuoteVault {
		return fmt.Errorf("%w: venue, base and quote vaults must be distinct and set", ErrInvalidPool)
	}
	if venue.RateNum == 0 || venue.RateDen == 0 {
		return fmt.Errorf("%w: rate %d/%d", ErrInvalidPool, venue.RateNum, venue.RateDen)
	}
	if venue.SpreadBps >= bpsDenominator {
		return fmt.Errorf("%w: spread %d bps", ErrInvalidPool, venue.SpreadBps)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.venues[venue.ID]; exists {
		return fmt.Errorf("%w: %s", ErrPoolExists, venue.ID)
	}
	f.venues[venue.ID] = venue
	return nil
}

func (f *FixedRate) Venue(id types.Address) (Venue, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	venue, ok := f.venues[id]
	return venue, ok
}

func (f *FixedRate) VaultAuthority(venue types.Address) types.Address {
	return VaultAuthority(ProtocolFixedRate, venue)
}

// SwapBaseIn sells exactly ix.AmountIn at the venue rate.
func (f *FixedRate) SwapBaseIn(ledger Ledger, ix Instruction) error {
	venue, ok := f.Venue(ix.Pool)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPool, ix.Pool)
	}
	in, out, baseIn, err := direction(ledger, ix, venue.BaseVault, venue.QuoteVault)
	if err != nil {
		return err
	}
	amountOut, ok := venue.convert(ix.AmountIn, baseIn)
	if !ok {
		return ErrInsufficientLiquidity
	}
	return settle(ledger, ix, in, out, f.VaultAuthority(venue.ID), amountOut)
}

func (v Venue) convert(amountIn uint64, baseIn bool) (uint64, bool) {
	var gross uint64
	var ok bool
	if baseIn {
		gross, ok = mulDiv(amountIn, v.RateNum, v.RateDen)
	} else {
		gross, ok = mulDiv(amountIn, v.RateDen, v.RateNum)
	}
	if !ok {
		return 0, false
	}
	return mulDiv(gross, uint64(bpsDenominator-v.SpreadBps), bpsDenominator)
}
