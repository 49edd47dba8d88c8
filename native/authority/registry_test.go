package authority

import (
	"errors"
	"testing"

	"paysettle/core/state"
	"paysettle/core/types"
	"paysettle/storage"
)

func id(b byte) types.Address {
	var a types.Address
	a[31] = b
	return a
}

func TestDeriveIsDeterministic(t *testing.T) {
	module := id(1)
	first := Derive(module, DefaultSeed)
	if first != Derive(module, DefaultSeed) {
		t.Fatalf("derivation not deterministic")
	}
	if first == Derive(module, []byte("treasury")) {
		t.Fatalf("different seeds produced the same authority")
	}
	if first == Derive(id(2), DefaultSeed) {
		t.Fatalf("different modules produced the same authority")
	}
	if NewRegistry(nil, module).ModuleSigner(DefaultSeed) != first {
		t.Fatalf("registry signer differs from Derive")
	}
}

func TestRegistryOwnership(t *testing.T) {
	ledger := state.NewLedger(storage.NewMemDB())
	txn := ledger.Begin()
	reg := NewRegistry(txn, id(1))

	if _, err := reg.Owner(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected uninitialized owner, got %v", err)
	}
	if err := reg.Initialize(id(10)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := reg.Initialize(id(11)); !errors.Is(err, ErrAlreadyInitiated) {
		t.Fatalf("expected second initialize to fail, got %v", err)
	}
	if err := reg.CheckOwner(id(10)); err != nil {
		t.Fatalf("check owner: %v", err)
	}
	if err := reg.CheckOwner(id(11)); !errors.Is(err, ErrInvalidOwner) {
		t.Fatalf("expected invalid owner, got %v", err)
	}
	if err := reg.ChangeOwner(id(12), id(11)); !errors.Is(err, ErrInvalidOwner) {
		t.Fatalf("non-owner changed owner: %v", err)
	}
	if err := reg.ChangeOwner(id(12), id(10)); err != nil {
		t.Fatalf("change owner: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	reader := NewRegistry(ledger.Begin(), id(1))
	owner, err := reader.Owner()
	if err != nil || owner != id(12) {
		t.Fatalf("unexpected persisted owner %s: %v", owner, err)
	}
	if _, err := NewRegistry(ledger.Begin(), id(2)).Owner(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("owners leaked across modules: %v", err)
	}
}
