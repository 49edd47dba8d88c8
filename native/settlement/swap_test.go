package settlement

import (
	"errors"
	"testing"

	"paysettle/core/events"
	"paysettle/core/types"
	"paysettle/native/exchange"
)

type swapSetup struct {
	*fixture
	scripted *scriptedExchange
	output   types.Address
	payment  Payment
	accounts SwapAccounts
}

// newSwapSetup pays 100 SOL in and expects payOut USD at the merchant. The
// payer's USD output account starts at 100.
func newSwapSetup(t *testing.T, deliver, payOut uint64) *swapSetup {
	t.Helper()
	f := newFixture(t)
	s := &swapSetup{
		fixture: f,
		output:  addr("payer-usd-output"),
		scripted: &scriptedExchange{
			vault:      addr("venue-usd-vault"),
			vaultOwner: addr("venue"),
			sink:       addr("venue-sol-vault"),
			deliver:    deliver,
		},
	}
	f.open(t, f.txn, s.output, payer, usd, 100)
	f.open(t, f.txn, s.scripted.vault, s.scripted.vaultOwner, usd, 10_000)
	f.open(t, f.txn, s.scripted.sink, s.scripted.vaultOwner, sol, 0)
	if err := f.engine.RegisterExchange(s.scripted); err != nil {
		t.Fatalf("register: %v", err)
	}
	s.payment = Payment{
		OrderID:      "swap-order",
		PayInAsset:   sol,
		PayOutAsset:  usd,
		PayInAmount:  100,
		PayOutAmount: payOut,
		Merchant:     merchant,
		Expiry:       testNow + 30,
	}
	s.accounts = SwapAccounts{
		Payer:       payer,
		Source:      f.payerSOL,
		Output:      s.output,
		Destination: f.merchantUSD,
		Treasury:    f.treasuryUSD,
	}
	return s
}

func TestSettleViaSwapUsesBalanceDelta(t *testing.T) {
	s := newSwapSetup(t, 180, 150)
	receipt, err := s.engine.SettleViaSwap(s.payment, SwapRoute{Protocol: "Scripted"}, s.accounts)
	if err != nil {
		t.Fatalf("swap settle: %v", err)
	}
	if receipt.SwapOutput != 180 || receipt.Fee != 30 {
		t.Fatalf("unexpected receipt: output %d fee %d", receipt.SwapOutput, receipt.Fee)
	}
	if s.balance(t, s.merchantUSD) != 150 || s.balance(t, s.treasuryUSD) != 530 {
		t.Fatalf("unexpected merchant/treasury balances")
	}
	// The pre-existing 100 on the output account is untouched.
	if got := s.balance(t, s.output); got != 100 {
		t.Fatalf("output account should return to its starting balance, has %d", got)
	}
	if s.scripted.lastIx.MinimumOut != 0 || s.scripted.lastIx.AmountIn != 100 || s.scripted.lastIx.Owner != payer {
		t.Fatalf("unexpected exchange instruction: %+v", s.scripted.lastIx)
	}
	if receipt.Legs[0].Kind != LegFee || receipt.Legs[0].Source != s.output || receipt.Legs[1].Kind != LegPayout {
		t.Fatalf("fee leg must come first and draw from the output account: %+v", receipt.Legs)
	}
	evt, ok := receipt.Event.(events.SwapPaymentCompleted)
	if !ok || evt.SwapOutput != 180 || evt.Protocol != "scripted" || evt.FeeCollected != 30 {
		t.Fatalf("unexpected event: %#v", receipt.Event)
	}
}

func TestSettleViaSwapUnderDeliveryFailsAfterSwap(t *testing.T) {
	// B0 = 100, B1 = 180, pay_out = 150: the swap produced 80.
	s := newSwapSetup(t, 80, 150)
	rec := &recordingLedger{Ledger: s.txn}
	s.engine.SetState(rec)

	_, err := s.engine.SettleViaSwap(s.payment, SwapRoute{Protocol: "scripted"}, s.accounts)
	if !errors.Is(err, ErrArithmeticUnderflow) {
		t.Fatalf("expected arithmetic error, got %v", err)
	}
	if s.scripted.calls != 1 {
		t.Fatalf("exchange should run exactly once, ran %d times", s.scripted.calls)
	}
	if got := s.balance(t, s.output); got != 180 {
		t.Fatalf("swap should already have happened, output has %d", got)
	}
	// Only the exchange's own transfers ran; no fee or payout leg followed.
	if len(rec.transfers) != 2 {
		t.Fatalf("expected only the two exchange transfers, got %+v", rec.transfers)
	}
	if s.balance(t, s.merchantUSD) != 0 || s.balance(t, s.treasuryUSD) != 500 {
		t.Fatalf("payout or fee leg executed after a failed delta check")
	}
	if len(s.emitted.Events()) != 0 {
		t.Fatalf("failed swap settlement emitted an event")
	}
}

func TestSettleViaSwapShrinkingOutputFails(t *testing.T) {
	// B0 = 100 and the exchange pulls 40 out of the output account, so B1 = 60.
	s := newSwapSetup(t, 0, 10)
	s.scripted.drain = 40
	rec := &recordingLedger{Ledger: s.txn}
	s.engine.SetState(rec)

	_, err := s.engine.SettleViaSwap(s.payment, SwapRoute{Protocol: "scripted"}, s.accounts)
	if !errors.Is(err, ErrArithmeticUnderflow) {
		t.Fatalf("expected arithmetic underflow, got %v", err)
	}
	if got := s.balance(t, s.output); got != 60 {
		t.Fatalf("output account should hold 60 after the swap, has %d", got)
	}
	for _, leg := range rec.transfers {
		if leg.Destination == s.merchantUSD || leg.Destination == s.treasuryUSD {
			t.Fatalf("fee or payout leg ran after a negative swap output: %+v", leg)
		}
	}
	if len(rec.transfers) != 2 {
		t.Fatalf("expected only the exchange transfers, got %+v", rec.transfers)
	}
	if s.balance(t, s.merchantUSD) != 0 || s.balance(t, s.treasuryUSD) != 500 {
		t.Fatalf("merchant or treasury balance changed")
	}
	if len(s.emitted.Events()) != 0 {
		t.Fatalf("failed swap settlement emitted an event")
	}
}

func TestSettleViaSwapExactDeliveryHasNoFeeLeg(t *testing.T) {
	s := newSwapSetup(t, 150, 150)
	receipt, err := s.engine.SettleViaSwap(s.payment, SwapRoute{Protocol: "scripted"}, s.accounts)
	if err != nil {
		t.Fatalf("swap settle: %v", err)
	}
	if len(receipt.Legs) != 1 || receipt.Legs[0].Kind != LegPayout || receipt.Fee != 0 {
		t.Fatalf("expected payout only, got %+v", receipt.Legs)
	}
}

func TestSettleViaSwapExchangeFailure(t *testing.T) {
	s := newSwapSetup(t, 0, 150)
	s.scripted.err = exchange.ErrInsufficientLiquidity
	_, err := s.engine.SettleViaSwap(s.payment, SwapRoute{Protocol: "scripted"}, s.accounts)
	if !errors.Is(err, ErrExternalCall) || !errors.Is(err, exchange.ErrInsufficientLiquidity) {
		t.Fatalf("expected external call failure, got %v", err)
	}
}

func TestSettleViaSwapUnknownProtocol(t *testing.T) {
	s := newSwapSetup(t, 180, 150)
	_, err := s.engine.SettleViaSwap(s.payment, SwapRoute{Protocol: "orderbook"}, s.accounts)
	if !errors.Is(err, ErrUnknownProtocol) {
		t.Fatalf("expected unknown protocol, got %v", err)
	}
	if s.scripted.calls != 0 {
		t.Fatalf("exchange should not be called")
	}
}

func TestSettleDonationViaSwap(t *testing.T) {
	s := newSwapSetup(t, 200, 190)
	receipt, err := s.engine.SettleDonationViaSwap(s.payment, SwapRoute{Protocol: "scripted", Pool: addr("pool")}, s.accounts)
	if err != nil {
		t.Fatalf("donate via swap: %v", err)
	}
	evt, ok := receipt.Event.(events.DonationCompleted)
	if !ok || evt.Pool != addr("pool") || evt.FeeCollected != 10 {
		t.Fatalf("unexpected donation event: %#v", receipt.Event)
	}
}

func TestSettleViaConstantProductPool(t *testing.T) {
	f := newFixture(t)
	amm := exchange.NewConstantProduct()
	poolID := addr("sol-usd-pool")
	baseVault, quoteVault := addr("pool-sol"), addr("pool-usd")
	vaultOwner := amm.VaultAuthority(poolID)
	f.open(t, f.txn, baseVault, vaultOwner, sol, 10_000)
	f.open(t, f.txn, quoteVault, vaultOwner, usd, 200_000)
	output := addr("payer-usd-output")
	f.open(t, f.txn, output, payer, usd, 0)
	if err := amm.AddPool(exchange.Pool{ID: poolID, BaseVault: baseVault, QuoteVault: quoteVault, FeeBps: 30}); err != nil {
		t.Fatalf("add pool: %v", err)
	}
	if err := f.engine.RegisterExchange(amm); err != nil {
		t.Fatalf("register: %v", err)
	}

	accounts := SwapAccounts{Payer: payer, Source: f.payerSOL, Output: output, Destination: f.merchantUSD, Treasury: f.treasuryUSD}
	quoted, err := amm.Quote(f.txn, exchange.Instruction{Pool: poolID, Source: f.payerSOL, Destination: output, Owner: payer, AmountIn: 100})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	p := Payment{OrderID: "amm", PayInAsset: sol, PayOutAsset: usd, PayInAmount: 100, PayOutAmount: quoted - 20, Merchant: merchant, Expiry: testNow}
	receipt, err := f.engine.SettleViaSwap(p, SwapRoute{Protocol: exchange.ProtocolConstantProduct, Pool: poolID}, accounts)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if receipt.SwapOutput != quoted || receipt.Fee != 20 {
		t.Fatalf("unexpected output %d fee %d (quoted %d)", receipt.SwapOutput, receipt.Fee, quoted)
	}
	if f.balance(t, f.payerSOL) != 900 || f.balance(t, f.merchantUSD) != quoted-20 {
		t.Fatalf("unexpected balances after pool swap")
	}
}
