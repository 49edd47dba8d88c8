package core

import (
	"context"
	"errors"
	"sync"
	"testing"

	"paysettle/core/events"
	"paysettle/core/state"
	"paysettle/core/types"
	"paysettle/native/authority"
	"paysettle/native/settlement"
	"paysettle/storage"
)

const envelopeNow int64 = 1_700_000_000

func envAddr(tag string) types.Address { return types.BytesToAddress([]byte(tag)) }

var (
	envModule   = envAddr("module")
	envUSD      = envAddr("usd")
	envPayer    = envAddr("payer")
	envMerchant = envAddr("merchant")
	payerUSD    = envAddr("payer-usd")
	merchantUSD = envAddr("merchant-usd")
	treasuryUSD = envAddr("treasury-usd")
)

func newEnvelope(t *testing.T, sink events.Emitter) *Envelope {
	t.Helper()
	ledger := state.NewLedger(storage.NewMemDB())
	txn := ledger.Begin()
	signer := authority.Derive(envModule, authority.DefaultSeed)
	for _, acct := range []struct{ addr, owner types.Address }{
		{payerUSD, envPayer}, {merchantUSD, envMerchant}, {treasuryUSD, signer},
	} {
		if _, err := txn.OpenAccount(acct.addr, acct.owner, envUSD); err != nil {
			t.Fatalf("open: %v", err)
		}
	}
	if err := txn.Mint(payerUSD, 1_000); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return NewEnvelope(ledger, sink)
}

func settleCall(payment settlement.Payment, acc settlement.TransferAccounts) Call {
	return func(txn *state.Txn, emitter events.Emitter) error {
		eng := settlement.NewEngine()
		eng.SetNowFunc(func() int64 { return envelopeNow })
		eng = eng.Bind(txn, authority.NewRegistry(txn, envModule), emitter)
		_, err := eng.SettleDirect(payment, acc)
		return err
	}
}

func committed(t *testing.T, env *Envelope, addr types.Address) uint64 {
	t.Helper()
	amount, err := env.Ledger().Balance(addr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return amount
}

func TestEnvelopeCommitsAndReleasesEvents(t *testing.T) {
	sink := &events.Buffer{}
	env := newEnvelope(t, sink)
	payment := settlement.Payment{OrderID: "ok", PayInAmount: 100, PayOutAmount: 90, Merchant: envMerchant, Expiry: envelopeNow}
	acc := settlement.TransferAccounts{Payer: envPayer, Source: payerUSD, Destination: merchantUSD, Treasury: treasuryUSD}

	released, err := env.Execute(context.Background(), settleCall(payment, acc))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(released) != 1 || len(sink.Events()) != 1 {
		t.Fatalf("expected one released event, got %d/%d", len(released), len(sink.Events()))
	}
	if committed(t, env, merchantUSD) != 90 || committed(t, env, treasuryUSD) != 10 || committed(t, env, payerUSD) != 900 {
		t.Fatalf("unexpected committed balances")
	}
}

func TestEnvelopeDiscardsPartialLegs(t *testing.T) {
	sink := &events.Buffer{}
	env := newEnvelope(t, sink)
	payment := settlement.Payment{OrderID: "broken", PayInAmount: 100, PayOutAmount: 90, Merchant: envMerchant, Expiry: envelopeNow}
	// Fee leg succeeds, payout leg targets an account that does not exist.
	acc := settlement.TransferAccounts{Payer: envPayer, Source: payerUSD, Destination: envAddr("missing"), Treasury: treasuryUSD}

	_, err := env.Execute(context.Background(), settleCall(payment, acc))
	if !errors.Is(err, settlement.ErrExternalCall) {
		t.Fatalf("expected external call failure, got %v", err)
	}
	if committed(t, env, treasuryUSD) != 0 || committed(t, env, payerUSD) != 1_000 {
		t.Fatalf("partial legs were committed")
	}
	if len(sink.Events()) != 0 {
		t.Fatalf("failed call released events")
	}
}

func TestEnvelopeRecoversPanics(t *testing.T) {
	env := newEnvelope(t, nil)
	_, err := env.Execute(context.Background(), func(txn *state.Txn, emitter events.Emitter) error {
		if err := txn.Transfer(payerUSD, merchantUSD, envPayer, 5); err != nil {
			return err
		}
		panic("boom")
	})
	if err == nil {
		t.Fatalf("expected panic to surface as error")
	}
	if committed(t, env, merchantUSD) != 0 {
		t.Fatalf("panicking call committed writes")
	}
}

func TestEnvelopeHonoursCancelledContext(t *testing.T) {
	env := newEnvelope(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := env.Execute(ctx, func(*state.Txn, events.Emitter) error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) || calls != 0 {
		t.Fatalf("expected cancelled context to skip the call, got %v (%d calls)", err, calls)
	}
}

func TestEnvelopeSerializesConcurrentCalls(t *testing.T) {
	env := newEnvelope(t, nil)
	payment := settlement.Payment{OrderID: "concurrent", PayInAmount: 10, PayOutAmount: 10, Merchant: envMerchant, Expiry: envelopeNow}
	acc := settlement.TransferAccounts{Payer: envPayer, Source: payerUSD, Destination: merchantUSD, Treasury: treasuryUSD}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.Execute(context.Background(), settleCall(payment, acc)); err != nil {
				t.Errorf("execute: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := committed(t, env, merchantUSD); got != 500 {
		t.Fatalf("lost updates: merchant has %d", got)
	}
}
