package exchange

import (
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"paysettle/core/types"
)

// ProtocolConstantProduct names the x*y=k pool protocol.
const ProtocolConstantProduct = "constant-product"

// Pool is a two-sided constant-product pool. Reserves are the live balances
// of the vault accounts.
type Pool struct {
	ID         types.Address
	BaseVault  types.Address
	QuoteVault types.Address
	FeeBps     uint32
}

// ConstantProduct executes swaps against registered pools.
type ConstantProduct struct {
	mu    sync.RWMutex
	pools map[types.Address]Pool
}

func NewConstantProduct() *ConstantProduct {
	return &ConstantProduct{pools: make(map[types.Address]Pool)}
}

func (c *ConstantProduct) Protocol() string { return ProtocolConstantProduct }

// AddPool registers a pool.
func (c *ConstantProduct) AddPool(pool Pool) error {
	if pool.ID.IsZero() || pool.BaseVault.IsZero() || pool.QuoteVault.IsZero() || pool.BaseVault == pool.QuoteVault {
		return fmt.Errorf("%w: pool, base and quote vaults must be distinct and set", ErrInvalidPool)
	}
	if pool.FeeBps >= bpsDenominator {
		return fmt.Errorf("%w: fee %d bps", ErrInvalidPool, pool.FeeBps)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.pools[pool.ID]; exists {
		return fmt.Errorf("%w: %s", ErrPoolExists, pool.ID)
	}
	c.pools[pool.ID] = pool
	return nil
}

// Pool returns the registered pool with id.
func (c *ConstantProduct) Pool(id types.Address) (Pool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pool, ok := c.pools[id]
	return pool, ok
}

// VaultAuthority returns the owner of the pool's vaults.
func (c *ConstantProduct) VaultAuthority(pool types.Address) types.Address {
	return VaultAuthority(ProtocolConstantProduct, pool)
}

// Quote returns the output a swap of ix would produce without executing it.
func (c *ConstantProduct) Quote(ledger Ledger, ix Instruction) (uint64, error) {
	pool, ok := c.Pool(ix.Pool)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPool, ix.Pool)
	}
	in, out, _, err := direction(ledger, ix, pool.BaseVault, pool.QuoteVault)
	if err != nil {
		return 0, err
	}
	return constantProductOut(in.Amount, out.Amount, ix.AmountIn, pool.FeeBps), nil
}

// SwapBaseIn sells exactly ix.AmountIn into the pool.
func (c *ConstantProduct) SwapBaseIn(ledger Ledger, ix Instruction) error {
	pool, ok := c.Pool(ix.Pool)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPool, ix.Pool)
	}
	in, out, _, err := direction(ledger, ix, pool.BaseVault, pool.QuoteVault)
	if err != nil {
		return err
	}
	amountOut := constantProductOut(in.Amount, out.Amount, ix.AmountIn, pool.FeeBps)
	return settle(ledger, ix, in, out, c.VaultAuthority(pool.ID), amountOut)
}

// constantProductOut is reserveOut*inNet/(reserveIn+inNet) with the pool fee
// taken from the input first.
func constantProductOut(reserveIn, reserveOut, amountIn uint64, feeBps uint32) uint64 {
	if reserveIn == 0 || reserveOut == 0 {
		return 0
	}
	inNet := new(uint256.Int).Mul(uint256.NewInt(amountIn), uint256.NewInt(uint64(bpsDenominator-feeBps)))
	inNet.Div(inNet, uint256.NewInt(bpsDenominator))
	numerator := new(uint256.Int).Mul(uint256.NewInt(reserveOut), inNet)
	denominator := new(uint256.Int).Add(uint256.NewInt(reserveIn), inNet)
	if denominator.IsZero() {
		return 0
	}
	out := numerator.Div(numerator, denominator)
	if !out.IsUint64() {
		return 0
	}
	return out.Uint64()
}
