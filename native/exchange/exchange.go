package exchange

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"paysettle/core/state"
	"paysettle/core/types"
	"paysettle/native/authority"
)

const bpsDenominator = 10_000

var (
	ErrUnknownPool           = errors.New("exchange: unknown pool")
	ErrPoolExists            = errors.New("exchange: pool already registered")
	ErrInvalidRoute          = errors.New("exchange: accounts do not match pool assets")
	ErrZeroAmount            = errors.New("exchange: amount must be positive")
	ErrInsufficientLiquidity = errors.New("exchange: insufficient liquidity")
	ErrSlippage              = errors.New("exchange: output below minimum")
	ErrInvalidPool           = errors.New("exchange: invalid pool configuration")
)

// Ledger is the slice of the token ledger an exchange needs to settle a swap.
type Ledger interface {
	TokenAccount(addr types.Address) (*state.TokenAccount, error)
	Transfer(from, to, authority types.Address, amount uint64) error
}

// Instruction converts AmountIn from Source into the asset held by
// Destination. Owner signs for Source. The call reports only success or
// failure; callers measure the output on Destination.
type Instruction struct {
	Pool        types.Address
	Source      types.Address
	Destination types.Address
	Owner       types.Address
	AmountIn    uint64
	MinimumOut  uint64
}

// VaultAuthority returns the identity that owns the vaults of pool under the
// named protocol.
func VaultAuthority(protocol string, pool types.Address) types.Address {
	return authority.Derive(pool, []byte(protocol))
}

// direction resolves which vault receives the input and which pays out.
func direction(ledger Ledger, ix Instruction, baseVault, quoteVault types.Address) (in, out *state.TokenAccount, baseIn bool, err error) {
	if ix.AmountIn == 0 {
		return nil, nil, false, ErrZeroAmount
	}
	src, err := ledger.TokenAccount(ix.Source)
	if err != nil {
		return nil, nil, false, err
	}
	dst, err := ledger.TokenAccount(ix.Destination)
	if err != nil {
		return nil, nil, false, err
	}
	base, err := ledger.TokenAccount(baseVault)
	if err != nil {
		return nil, nil, false, fmt.Errorf("exchange: base vault: %w", err)
	}
	quote, err := ledger.TokenAccount(quoteVault)
	if err != nil {
		return nil, nil, false, fmt.Errorf("exchange: quote vault: %w", err)
	}
	switch {
	case src.Asset == base.Asset && dst.Asset == quote.Asset:
		return base, quote, true, nil
	case src.Asset == quote.Asset && dst.Asset == base.Asset:
		return quote, base, false, nil
	default:
		return nil, nil, false, ErrInvalidRoute
	}
}

// settle moves the input into its vault and pays the output from the other.
func settle(ledger Ledger, ix Instruction, in, out *state.TokenAccount, vaultAuthority types.Address, amountOut uint64) error {
	if amountOut == 0 || amountOut > out.Amount {
		return ErrInsufficientLiquidity
	}
	if amountOut < ix.MinimumOut {
		return fmt.Errorf("%w: %d < %d", ErrSlippage, amountOut, ix.MinimumOut)
	}
	if err := ledger.Transfer(ix.Source, in.Address, ix.Owner, ix.AmountIn); err != nil {
		return err
	}
	return ledger.Transfer(out.Address, ix.Destination, vaultAuthority, amountOut)
}

// mulDiv computes floor(a*b/c) with 256-bit intermediates.
func mulDiv(a, b, c uint64) (uint64, bool) {
	if c == 0 {
		return 0, false
	}
	product := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	quotient := product.Div(product, uint256.NewInt(c))
	if !quotient.IsUint64() {
		return 0, false
	}
	return quotient.Uint64(), true
}
