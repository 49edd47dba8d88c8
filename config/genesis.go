package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"paysettle/core/types"
)

// Genesis seeds an empty ledger: the admin owner, module-owned treasury
// accounts, user accounts and exchange pools with their reserves.
type Genesis struct {
	Owner      types.Address     `yaml:"owner"`
	Treasuries []GenesisTreasury `yaml:"treasuries"`
	Accounts   []GenesisAccount  `yaml:"accounts"`
	Pools      GenesisPools      `yaml:"pools"`
}

// GenesisTreasury is an account owned by the module authority.
type GenesisTreasury struct {
	Address types.Address `yaml:"address"`
	Asset   types.Address `yaml:"asset"`
	Balance uint64        `yaml:"balance"`
}

type GenesisAccount struct {
	Address types.Address `yaml:"address"`
	Owner   types.Address `yaml:"owner"`
	Asset   types.Address `yaml:"asset"`
	Balance uint64        `yaml:"balance"`
}

type GenesisPools struct {
	ConstantProduct []GenesisConstantProductPool `yaml:"constant_product"`
	FixedRate       []GenesisFixedRateVenue      `yaml:"fixed_rate"`
}

// GenesisVault opens one side of a pool.
type GenesisVault struct {
	Address types.Address `yaml:"address"`
	Asset   types.Address `yaml:"asset"`
	Reserve uint64        `yaml:"reserve"`
}

type GenesisConstantProductPool struct {
	ID     types.Address `yaml:"id"`
	Base   GenesisVault  `yaml:"base"`
	Quote  GenesisVault  `yaml:"quote"`
	FeeBps uint32        `yaml:"fee_bps"`
}

type GenesisFixedRateVenue struct {
	ID        types.Address `yaml:"id"`
	Base      GenesisVault  `yaml:"base"`
	Quote     GenesisVault  `yaml:"quote"`
	RateNum   uint64        `yaml:"rate_num"`
	RateDen   uint64        `yaml:"rate_den"`
	SpreadBps uint32        `yaml:"spread_bps"`
}

// LoadGenesis reads and validates a YAML genesis file.
func LoadGenesis(path string) (*Genesis, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	return ParseGenesis(raw)
}

// ParseGenesis decodes and validates a YAML genesis document.
func ParseGenesis(raw []byte) (*Genesis, error) {
	var gen Genesis
	if err := yaml.Unmarshal(raw, &gen); err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	if err := gen.validate(); err != nil {
		return nil, err
	}
	return &gen, nil
}

func (g *Genesis) validate() error {
	if g.Owner.IsZero() {
		return fmt.Errorf("genesis: owner required")
	}
	seen := make(map[types.Address]string)
	claim := func(addr types.Address, what string) error {
		if addr.IsZero() {
			return fmt.Errorf("genesis: %s address required", what)
		}
		if prev, ok := seen[addr]; ok {
			return fmt.Errorf("genesis: %s reuses address %s already used by %s", what, addr, prev)
		}
		seen[addr] = what
		return nil
	}
	for i, t := range g.Treasuries {
		if err := claim(t.Address, fmt.Sprintf("treasury[%d]", i)); err != nil {
			return err
		}
		if t.Asset.IsZero() {
			return fmt.Errorf("genesis: treasury[%d] asset required", i)
		}
	}
	for i, a := range g.Accounts {
		if err := claim(a.Address, fmt.Sprintf("account[%d]", i)); err != nil {
			return err
		}
		if a.Owner.IsZero() || a.Asset.IsZero() {
			return fmt.Errorf("genesis: account[%d] owner and asset required", i)
		}
	}
	checkVaults := func(kind string, i int, base, quote GenesisVault) error {
		label := fmt.Sprintf("%s[%d]", kind, i)
		if err := claim(base.Address, label+".base"); err != nil {
			return err
		}
		if err := claim(quote.Address, label+".quote"); err != nil {
			return err
		}
		if base.Asset.IsZero() || quote.Asset.IsZero() || base.Asset == quote.Asset {
			return fmt.Errorf("genesis: %s needs two distinct assets", label)
		}
		return nil
	}
	for i, p := range g.Pools.ConstantProduct {
		if p.ID.IsZero() {
			return fmt.Errorf("genesis: constant_product[%d] id required", i)
		}
		if err := checkVaults("constant_product", i, p.Base, p.Quote); err != nil {
			return err
		}
	}
	for i, v := range g.Pools.FixedRate {
		if v.ID.IsZero() {
			return fmt.Errorf("genesis: fixed_rate[%d] id required", i)
		}
		if v.RateNum == 0 || v.RateDen == 0 {
			return fmt.Errorf("genesis: fixed_rate[%d] rate must be positive", i)
		}
		if err := checkVaults("fixed_rate", i, v.Base, v.Quote); err != nil {
			return err
		}
	}
	return nil
}

// Describe returns a short human summary for startup logs.
func (g *Genesis) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "owner=%s treasuries=%d accounts=%d", g.Owner, len(g.Treasuries), len(g.Accounts))
	fmt.Fprintf(&b, " constant_product=%d fixed_rate=%d", len(g.Pools.ConstantProduct), len(g.Pools.FixedRate))
	return b.String()
}
