package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"paysettle/config"
	"paysettle/core"
	"paysettle/core/events"
	"paysettle/core/state"
	"paysettle/core/types"
	"paysettle/native/authority"
	"paysettle/native/exchange"
)

// Exchanges are the in-process venues genesis pools are registered on.
type Exchanges struct {
	ConstantProduct *exchange.ConstantProduct
	FixedRate       *exchange.FixedRate
}

// Seed writes the genesis balances and owner in one envelope call. It
// reports false without touching the ledger when the module already has an
// owner, so restarts against an existing data directory are no-ops.
func Seed(ctx context.Context, env *core.Envelope, module types.Address, treasurySeed []byte, gen *config.Genesis) (bool, error) {
	if gen == nil {
		return false, fmt.Errorf("bootstrap: genesis required")
	}
	seeded := false
	_, err := env.Execute(ctx, func(txn *state.Txn, _ events.Emitter) error {
		registry := authority.NewRegistry(txn, module)
		if _, err := registry.Owner(); err == nil {
			return nil
		} else if !errors.Is(err, authority.ErrNotInitialized) {
			return err
		}
		if err := registry.Initialize(gen.Owner); err != nil {
			return err
		}
		treasuryOwner := registry.ModuleSigner(treasurySeed)
		for _, t := range gen.Treasuries {
			if err := open(txn, t.Address, treasuryOwner, t.Asset, t.Balance); err != nil {
				return fmt.Errorf("treasury %s: %w", t.Address, err)
			}
		}
		for _, a := range gen.Accounts {
			if err := open(txn, a.Address, a.Owner, a.Asset, a.Balance); err != nil {
				return fmt.Errorf("account %s: %w", a.Address, err)
			}
		}
		for _, p := range gen.Pools.ConstantProduct {
			owner := exchange.VaultAuthority(exchange.ProtocolConstantProduct, p.ID)
			if err := openVaults(txn, owner, p.Base, p.Quote); err != nil {
				return fmt.Errorf("pool %s: %w", p.ID, err)
			}
		}
		for _, v := range gen.Pools.FixedRate {
			owner := exchange.VaultAuthority(exchange.ProtocolFixedRate, v.ID)
			if err := openVaults(txn, owner, v.Base, v.Quote); err != nil {
				return fmt.Errorf("venue %s: %w", v.ID, err)
			}
		}
		seeded = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("bootstrap: %w", err)
	}
	return seeded, nil
}

// RegisterPools makes the genesis pools routable. Pool definitions live in
// memory, so this runs on every start.
func RegisterPools(gen *config.Genesis, ex Exchanges) error {
	if gen == nil {
		return nil
	}
	for _, p := range gen.Pools.ConstantProduct {
		if ex.ConstantProduct == nil {
			return fmt.Errorf("bootstrap: constant-product exchange not configured")
		}
		if err := ex.ConstantProduct.AddPool(exchange.Pool{
			ID:         p.ID,
			BaseVault:  p.Base.Address,
			QuoteVault: p.Quote.Address,
			FeeBps:     p.FeeBps,
		}); err != nil {
			return err
		}
	}
	for _, v := range gen.Pools.FixedRate {
		if ex.FixedRate == nil {
			return fmt.Errorf("bootstrap: fixed-rate exchange not configured")
		}
		if err := ex.FixedRate.AddVenue(exchange.Venue{
			ID:         v.ID,
			BaseVault:  v.Base.Address,
			QuoteVault: v.Quote.Address,
			RateNum:    v.RateNum,
			RateDen:    v.RateDen,
			SpreadBps:  v.SpreadBps,
		}); err != nil {
			return err
		}
	}
	return nil
}

func open(txn *state.Txn, addr, owner, asset types.Address, balance uint64) error {
	if _, err := txn.OpenAccount(addr, owner, asset); err != nil {
		return err
	}
	if balance == 0 {
		return nil
	}
	return txn.Mint(addr, balance)
}

func openVaults(txn *state.Txn, owner types.Address, base, quote config.GenesisVault) error {
	if err := open(txn, base.Address, owner, base.Asset, base.Reserve); err != nil {
		return err
	}
	return open(txn, quote.Address, owner, quote.Asset, quote.Reserve)
}
