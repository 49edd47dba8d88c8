package settlement

import (
	"testing"

	"paysettle/core/events"
	"paysettle/core/state"
	"paysettle/core/types"
	"paysettle/native/authority"
	"paysettle/native/exchange"
	"paysettle/storage"
)

const testNow int64 = 1_700_000_000

func addr(tag string) types.Address {
	return types.BytesToAddress([]byte(tag))
}

var (
	moduleID = addr("settlement-module")
	usd      = addr("asset-usd")
	sol      = addr("asset-sol")
	payer    = addr("payer")
	merchant = addr("merchant")
	owner    = addr("owner")
)

type fixture struct {
	ledger   *state.Ledger
	txn      *state.Txn
	engine   *Engine
	registry *authority.Registry
	emitted  *events.Buffer

	payerUSD    types.Address
	payerSOL    types.Address
	merchantUSD types.Address
	treasuryUSD types.Address
	receivers   []types.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledger := state.NewLedger(storage.NewMemDB())
	f := &fixture{
		ledger:      ledger,
		payerUSD:    addr("payer-usd"),
		payerSOL:    addr("payer-sol"),
		merchantUSD: addr("merchant-usd"),
		treasuryUSD: addr("treasury-usd"),
	}
	signer := authority.Derive(moduleID, authority.DefaultSeed)

	setup := ledger.Begin()
	f.open(t, setup, f.payerUSD, payer, usd, 1_000)
	f.open(t, setup, f.payerSOL, payer, sol, 1_000)
	f.open(t, setup, f.merchantUSD, merchant, usd, 0)
	f.open(t, setup, f.treasuryUSD, signer, usd, 500)
	for i := 0; i < 3; i++ {
		receiver := addr("receiver-" + string(rune('a'+i)))
		f.open(t, setup, receiver, receiver, usd, 0)
		f.receivers = append(f.receivers, receiver)
	}
	if err := authority.NewRegistry(setup, moduleID).Initialize(owner); err != nil {
		t.Fatalf("initialize owner: %v", err)
	}
	if err := setup.Commit(); err != nil {
		t.Fatalf("commit setup: %v", err)
	}

	f.begin()
	return f
}

// begin opens a fresh transaction and binds a new engine to it.
func (f *fixture) begin() {
	f.txn = f.ledger.Begin()
	f.registry = authority.NewRegistry(f.txn, moduleID)
	f.emitted = &events.Buffer{}
	f.engine = NewEngine()
	f.engine.SetState(f.txn)
	f.engine.SetAuthority(f.registry)
	f.engine.SetEmitter(f.emitted)
	f.engine.SetNowFunc(func() int64 { return testNow })
}

func (f *fixture) open(t *testing.T, txn *state.Txn, a, holder, asset types.Address, amount uint64) {
	t.Helper()
	if _, err := txn.OpenAccount(a, holder, asset); err != nil {
		t.Fatalf("open %s: %v", a, err)
	}
	if amount > 0 {
		if err := txn.Mint(a, amount); err != nil {
			t.Fatalf("mint %s: %v", a, err)
		}
	}
}

func (f *fixture) balance(t *testing.T, a types.Address) uint64 {
	t.Helper()
	amount, err := f.txn.Balance(a)
	if err != nil {
		t.Fatalf("balance %s: %v", a, err)
	}
	return amount
}

func (f *fixture) transferAccounts() TransferAccounts {
	return TransferAccounts{Payer: payer, Source: f.payerUSD, Destination: f.merchantUSD, Treasury: f.treasuryUSD}
}

func (f *fixture) payment(orderID string, payIn, payOut uint64) Payment {
	return Payment{
		OrderID:      orderID,
		PayInAsset:   usd,
		PayOutAsset:  usd,
		PayInAmount:  payIn,
		PayOutAmount: payOut,
		Merchant:     merchant,
		Expiry:       testNow + 60,
	}
}

// recordingLedger counts transfers while delegating to a real transaction.
type recordingLedger struct {
	Ledger
	transfers []Leg
}

func (r *recordingLedger) Transfer(from, to, auth types.Address, amount uint64) error {
	r.transfers = append(r.transfers, Leg{Source: from, Destination: to, Authority: auth, Amount: amount})
	return r.Ledger.Transfer(from, to, auth, amount)
}

// scriptedExchange delivers a fixed amount from its own vault and collects
// the input into a sink, standing in for an external exchange whose result
// is invisible to the caller.
type scriptedExchange struct {
	vault      types.Address
	vaultOwner types.Address
	sink       types.Address
	deliver    uint64
	drain      uint64
	err        error
	calls      int
	lastIx     exchange.Instruction
}

func (s *scriptedExchange) Protocol() string { return "scripted" }

func (s *scriptedExchange) SwapBaseIn(ledger exchange.Ledger, ix exchange.Instruction) error {
	s.calls++
	s.lastIx = ix
	if s.err != nil {
		return s.err
	}
	if err := ledger.Transfer(ix.Source, s.sink, ix.Owner, ix.AmountIn); err != nil {
		return err
	}
	if s.drain > 0 {
		if err := ledger.Transfer(ix.Destination, s.vault, ix.Owner, s.drain); err != nil {
			return err
		}
	}
	if s.deliver == 0 {
		return nil
	}
	return ledger.Transfer(s.vault, ix.Destination, s.vaultOwner, s.deliver)
}
