package bootstrap

import (
	"context"
	"testing"

	"paysettle/config"
	"paysettle/core"
	"paysettle/core/state"
	"paysettle/core/types"
	"paysettle/native/authority"
	"paysettle/native/exchange"
	"paysettle/storage"
)

func addr(tag string) types.Address { return types.BytesToAddress([]byte(tag)) }

func testGenesis() *config.Genesis {
	return &config.Genesis{
		Owner:      addr("owner"),
		Treasuries: []config.GenesisTreasury{{Address: addr("treasury-usd"), Asset: addr("usd")}},
		Accounts: []config.GenesisAccount{
			{Address: addr("payer-sol"), Owner: addr("payer"), Asset: addr("sol"), Balance: 500},
		},
		Pools: config.GenesisPools{
			ConstantProduct: []config.GenesisConstantProductPool{{
				ID:     addr("pool"),
				Base:   config.GenesisVault{Address: addr("pool-sol"), Asset: addr("sol"), Reserve: 10_000},
				Quote:  config.GenesisVault{Address: addr("pool-usd"), Asset: addr("usd"), Reserve: 20_000},
				FeeBps: 30,
			}},
		},
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	module := addr("module")
	ledger := state.NewLedger(storage.NewMemDB())
	env := core.NewEnvelope(ledger, nil)
	gen := testGenesis()

	seeded, err := Seed(context.Background(), env, module, authority.DefaultSeed, gen)
	if err != nil || !seeded {
		t.Fatalf("first seed: seeded=%v err=%v", seeded, err)
	}

	treasury, err := ledger.TokenAccount(addr("treasury-usd"))
	if err != nil {
		t.Fatalf("treasury: %v", err)
	}
	if treasury.Owner != authority.Derive(module, authority.DefaultSeed) {
		t.Fatalf("treasury not module-owned: %s", treasury.Owner)
	}
	vault, err := ledger.TokenAccount(addr("pool-usd"))
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	if vault.Owner != exchange.VaultAuthority(exchange.ProtocolConstantProduct, addr("pool")) || vault.Amount != 20_000 {
		t.Fatalf("unexpected vault: %+v", vault)
	}
	if bal, _ := ledger.Balance(addr("payer-sol")); bal != 500 {
		t.Fatalf("unexpected payer balance %d", bal)
	}

	seeded, err = Seed(context.Background(), env, module, authority.DefaultSeed, gen)
	if err != nil || seeded {
		t.Fatalf("second seed should be a no-op: seeded=%v err=%v", seeded, err)
	}
	if bal, _ := ledger.Balance(addr("payer-sol")); bal != 500 {
		t.Fatalf("balance minted twice: %d", bal)
	}
}

func TestRegisterPools(t *testing.T) {
	ex := Exchanges{ConstantProduct: exchange.NewConstantProduct(), FixedRate: exchange.NewFixedRate()}
	gen := testGenesis()
	if err := RegisterPools(gen, ex); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, ok := ex.ConstantProduct.Pool(addr("pool")); !ok {
		t.Fatalf("pool not registered")
	}
	if err := RegisterPools(gen, ex); err == nil {
		t.Fatalf("expected duplicate pool to fail")
	}
	if err := RegisterPools(gen, Exchanges{}); err == nil {
		t.Fatalf("expected missing exchange to fail")
	}
}
