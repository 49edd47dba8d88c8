package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSettlementCollectors(t *testing.T) {
	m := Settlement()
	if m != Settlement() {
		t.Fatalf("expected a single registry")
	}

	before := testutil.ToFloat64(m.settlements.WithLabelValues("split", "ok"))
	m.ObserveSettlement("split", "ok", 5*time.Millisecond)
	if got := testutil.ToFloat64(m.settlements.WithLabelValues("split", "ok")); got != before+1 {
		t.Fatalf("settlements = %v, want %v", got, before+1)
	}

	feeBefore := testutil.ToFloat64(m.feeCollected.WithLabelValues("split"))
	dustBefore := testutil.ToFloat64(m.dust)
	m.AddFee("split", 11, 1)
	if got := testutil.ToFloat64(m.feeCollected.WithLabelValues("split")); got != feeBefore+11 {
		t.Fatalf("fee = %v", got)
	}
	if got := testutil.ToFloat64(m.dust); got != dustBefore+1 {
		t.Fatalf("dust = %v", got)
	}

	unknownBefore := testutil.ToFloat64(m.settlements.WithLabelValues("unknown", "error"))
	m.ObserveSettlement("", "error", time.Millisecond)
	if got := testutil.ToFloat64(m.settlements.WithLabelValues("unknown", "error")); got != unknownBefore+1 {
		t.Fatalf("empty labels should map to unknown")
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *SettlementMetrics
	m.ObserveSettlement("direct", "ok", time.Second)
	m.AddFee("direct", 1, 1)
	m.ObserveSwapOutput("constant-product", 10)
	m.ObserveRedemption()
}
