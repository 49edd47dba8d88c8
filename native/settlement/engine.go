package settlement

import (
	"fmt"
	"strings"
	"time"

	"paysettle/core/events"
	"paysettle/core/state"
	"paysettle/core/types"
	"paysettle/native/authority"
	"paysettle/native/exchange"
)

// Ledger is the token-ledger capability the engine consumes.
type Ledger interface {
	TokenAccount(addr types.Address) (*state.TokenAccount, error)
	Transfer(from, to, authority types.Address, amount uint64) error
}

// Exchange is an external conversion module. SwapBaseIn reports only
// success or failure, never the amount produced.
type Exchange interface {
	Protocol() string
	SwapBaseIn(ledger exchange.Ledger, ix exchange.Instruction) error
}

// Authority gates admin paths and signs for module-owned balances.
type Authority interface {
	CheckOwner(id types.Address) error
	ModuleSigner(seed []byte) types.Address
}

// Engine settles payment instructions. The engine holds no state of its own
// between calls; atomicity of the legs it executes comes from the ledger
// transaction it is bound to.
type Engine struct {
	state        Ledger
	authority    Authority
	emitter      events.Emitter
	exchanges    map[string]Exchange
	treasurySeed []byte
	nowFn        func() int64
}

// NewEngine creates an engine with a no-op emitter and the default treasury
// seed.
func NewEngine() *Engine {
	return &Engine{
		emitter:      events.NoopEmitter{},
		exchanges:    make(map[string]Exchange),
		treasurySeed: authority.DefaultSeed,
		nowFn:        func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the ledger the engine transfers against.
func (e *Engine) SetState(state Ledger) { e.state = state }

// SetAuthority configures the ownership collaborator.
func (e *Engine) SetAuthority(auth Authority) { e.authority = auth }

// SetTreasurySeed overrides the seed used to sign for the treasury.
func (e *Engine) SetTreasurySeed(seed []byte) {
	if len(seed) == 0 {
		e.treasurySeed = authority.DefaultSeed
		return
	}
	e.treasurySeed = append([]byte(nil), seed...)
}

// SetNowFunc overrides the clock. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// RegisterExchange makes ex available to swap routes naming its protocol.
func (e *Engine) RegisterExchange(ex Exchange) error {
	if ex == nil {
		return fmt.Errorf("settlement: nil exchange")
	}
	protocol := normalizeProtocol(ex.Protocol())
	if protocol == "" {
		return fmt.Errorf("settlement: exchange protocol name required")
	}
	if _, exists := e.exchanges[protocol]; exists {
		return fmt.Errorf("settlement: exchange %q already registered", protocol)
	}
	e.exchanges[protocol] = ex
	return nil
}

// Bind returns a copy of the engine wired to the given per-call ledger,
// authority and emitter. Registered exchanges are shared.
func (e *Engine) Bind(state Ledger, auth Authority, emitter events.Emitter) *Engine {
	clone := *e
	clone.state = state
	clone.authority = auth
	clone.SetEmitter(emitter)
	return &clone
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func normalizeProtocol(protocol string) string {
	return strings.ToLower(strings.TrimSpace(protocol))
}

// instruction is the variant-tagged form every entry point reduces to.
type instruction struct {
	variant   Variant
	donation  bool
	payment   Payment
	transfer  TransferAccounts
	swap      SwapAccounts
	route     SwapRoute
	receivers FeeReceiverSet
}

// plan is the outcome of the amount-derivation step.
type plan struct {
	legs       []Leg
	fee        uint64
	dust       uint64
	swapOutput uint64
	shares     [events.FeeReceiverSlots]events.FeeShare
}

// SettleDirect pays PayOutAmount to the merchant and skims the remainder to
// the treasury.
func (e *Engine) SettleDirect(p Payment, acc TransferAccounts) (*Receipt, error) {
	return e.settle(instruction{variant: VariantDirect, payment: p, transfer: acc})
}

// SettleWithFeeSplit pays PayOutAmount to the merchant and divides the
// remainder across the weighted receivers.
func (e *Engine) SettleWithFeeSplit(p Payment, acc TransferAccounts, receivers FeeReceiverSet) (*Receipt, error) {
	return e.settle(instruction{variant: VariantSplitFee, payment: p, transfer: acc, receivers: receivers})
}

// SettleViaSwap converts PayInAmount through the routed exchange, then pays
// the merchant and sends whatever the swap produced above PayOutAmount to
// the treasury.
func (e *Engine) SettleViaSwap(p Payment, route SwapRoute, acc SwapAccounts) (*Receipt, error) {
	return e.settle(instruction{variant: VariantSwapMediated, payment: p, swap: acc, route: route})
}

// SettleDonation is SettleDirect reported as a donation.
func (e *Engine) SettleDonation(p Payment, acc TransferAccounts) (*Receipt, error) {
	return e.settle(instruction{variant: VariantDirect, donation: true, payment: p, transfer: acc})
}

// SettleDonationViaSwap is SettleViaSwap reported as a donation.
func (e *Engine) SettleDonationViaSwap(p Payment, route SwapRoute, acc SwapAccounts) (*Receipt, error) {
	return e.settle(instruction{variant: VariantSwapMediated, donation: true, payment: p, swap: acc, route: route})
}

func (e *Engine) settle(ix instruction) (*Receipt, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := CheckExpiry(ix.payment, e.now()); err != nil {
		return nil, err
	}

	var (
		p   *plan
		err error
	)
	switch ix.variant {
	case VariantDirect:
		p, err = e.planDirect(ix)
	case VariantSplitFee:
		p, err = e.planSplit(ix)
	case VariantSwapMediated:
		p, err = e.planSwap(ix)
	default:
		err = fmt.Errorf("settlement: unknown variant %d", ix.variant)
	}
	if err != nil {
		return nil, err
	}
	if err := e.execute(p.legs); err != nil {
		return nil, err
	}

	receipt := &Receipt{
		Variant:    ix.variant,
		Donation:   ix.donation,
		OrderID:    ix.payment.OrderID,
		Legs:       p.legs,
		Fee:        p.fee,
		Dust:       p.dust,
		SwapOutput: p.swapOutput,
		Shares:     p.shares,
	}
	receipt.Event = settlementEvent(ix, p)
	e.emit(receipt.Event)
	return receipt, nil
}

func (e *Engine) planDirect(ix instruction) (*plan, error) {
	fee, err := SkimFee(ix.payment)
	if err != nil {
		return nil, err
	}
	acc := ix.transfer
	return &plan{
		fee: fee,
		legs: orderLegs(
			[]Leg{{Kind: LegFee, Source: acc.Source, Destination: acc.Treasury, Authority: acc.Payer, Amount: fee}},
			Leg{Kind: LegPayout, Source: acc.Source, Destination: acc.Destination, Authority: acc.Payer, Amount: ix.payment.PayOutAmount},
		),
	}, nil
}

func (e *Engine) planSplit(ix instruction) (*plan, error) {
	total, err := SkimFee(ix.payment)
	if err != nil {
		return nil, err
	}
	acc := ix.transfer
	out := &plan{fee: total}
	for i, slot := range ix.receivers {
		out.shares[i] = events.FeeShare{Receiver: slot.Account, WeightBps: slot.WeightBps}
	}
	var feeLegs []Leg
	if total > 0 {
		shares, dust, err := SplitFee(total, ix.receivers)
		if err != nil {
			return nil, err
		}
		out.shares = shares
		out.dust = dust
		for _, share := range shares {
			feeLegs = append(feeLegs, Leg{Kind: LegFee, Source: acc.Source, Destination: share.Receiver, Authority: acc.Payer, Amount: share.Amount})
		}
	}
	out.legs = orderLegs(feeLegs, Leg{Kind: LegPayout, Source: acc.Source, Destination: acc.Destination, Authority: acc.Payer, Amount: ix.payment.PayOutAmount})
	return out, nil
}

// RedeemFees moves amount out of the module-owned treasury. Only the
// registered owner may request it; the module signs for the treasury.
func (e *Engine) RedeemFees(amount uint64, acc RedeemAccounts) (*Receipt, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.authority == nil {
		return nil, errNilAuthority
	}
	if err := e.authority.CheckOwner(acc.Requester); err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, ErrZeroAmount
	}
	signer := e.authority.ModuleSigner(e.treasurySeed)
	legs := []Leg{{Kind: LegRedeem, Source: acc.Treasury, Destination: acc.Destination, Authority: signer, Amount: amount}}
	if err := e.execute(legs); err != nil {
		return nil, err
	}
	evt := events.FeesRedeemed{Treasury: acc.Treasury, Destination: acc.Destination, Requester: acc.Requester, Amount: amount}
	e.emit(evt)
	return &Receipt{Legs: legs, Event: evt}, nil
}
