package events

import (
	"testing"

	"paysettle/core/types"
)

func addr(b byte) types.Address {
	var a types.Address
	a[31] = b
	return a
}

func TestPaymentCompletedEvent(t *testing.T) {
	evt := PaymentCompleted{
		PaymentSummary: PaymentSummary{
			OrderID:      " order-1 ",
			PayInAsset:   addr(1),
			PayOutAsset:  addr(1),
			PayInAmount:  1000,
			PayOutAmount: 990,
			FeeCollected: 10,
			Merchant:     addr(2),
			Payer:        addr(3),
			Source:       addr(4),
		},
		Treasury: addr(5),
	}.Event()
	if evt.Type != TypePaymentCompleted {
		t.Fatalf("unexpected type: %s", evt.Type)
	}
	if evt.Attributes["orderId"] != " order-1 " {
		t.Fatalf("unexpected order id: %q", evt.Attributes["orderId"])
	}
	if evt.Attributes["payInAmount"] != "1000" || evt.Attributes["payOutAmount"] != "990" || evt.Attributes["feeCollected"] != "10" {
		t.Fatalf("unexpected amounts: %+v", evt.Attributes)
	}
	if evt.Attributes["treasury"] != addr(5).String() || evt.Attributes["merchant"] != addr(2).String() {
		t.Fatalf("unexpected identities: %+v", evt.Attributes)
	}
}

func TestPaymentFeeDistributedEventListsAllSlots(t *testing.T) {
	payload := PaymentFeeDistributed{Dust: 1}
	payload.Receivers[0] = FeeShare{Receiver: addr(7), WeightBps: 5000, Amount: 3}
	payload.Receivers[1] = FeeShare{Receiver: addr(8), WeightBps: 5000, Amount: 3}
	evt := payload.Event()
	if evt.Attributes["amount0"] != "3" || evt.Attributes["amount1"] != "3" {
		t.Fatalf("unexpected shares: %+v", evt.Attributes)
	}
	if evt.Attributes["amount7"] != "0" || evt.Attributes["receiver7"] != "" {
		t.Fatalf("expected empty trailing slot: %+v", evt.Attributes)
	}
	if evt.Attributes["dust"] != "1" {
		t.Fatalf("unexpected dust: %s", evt.Attributes["dust"])
	}
}

func TestDonationEventOmitsPoolWithoutProtocol(t *testing.T) {
	evt := DonationCompleted{Treasury: addr(5)}.Event()
	if _, ok := evt.Attributes["pool"]; ok {
		t.Fatalf("pool should be omitted for direct donations")
	}
	evt = DonationCompleted{Protocol: "constant-product", Pool: addr(9)}.Event()
	if evt.Attributes["pool"] != addr(9).String() {
		t.Fatalf("expected pool attribute, got %+v", evt.Attributes)
	}
}

func TestBufferReleaseAndReset(t *testing.T) {
	var buf Buffer
	buf.Emit(FeesRedeemed{Amount: 1})
	buf.Emit(FeesRedeemed{Amount: 2})
	buf.Reset()
	if len(buf.Events()) != 0 {
		t.Fatalf("expected empty buffer after reset")
	}

	buf.Emit(FeesRedeemed{Amount: 3})
	var sink Buffer
	released := buf.Release(Fanout{&sink, NoopEmitter{}})
	if len(released) != 1 || len(sink.Events()) != 1 {
		t.Fatalf("expected one released event, got %d/%d", len(released), len(sink.Events()))
	}
	if len(buf.Events()) != 0 {
		t.Fatalf("release should empty the buffer")
	}
	if payload := Payload(sink.Events()[0]); payload == nil || payload.Attributes["amount"] != "3" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}
