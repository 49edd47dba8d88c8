package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type SettlementMetrics struct {
	settlements  *prometheus.CounterVec
	feeCollected *prometheus.CounterVec
	dust         prometheus.Counter
	swapOutput   *prometheus.HistogramVec
	latency      *prometheus.HistogramVec
	redemptions  prometheus.Counter
}

var (
	settlementOnce     sync.Once
	settlementRegistry *SettlementMetrics
)

// Settlement returns the process-wide settlement collectors, registering
// them with the default Prometheus registry on first use.
func Settlement() *SettlementMetrics {
	settlementOnce.Do(func() {
		settlementRegistry = &SettlementMetrics{
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "paysettle_settlements_total",
				Help: "Settlement calls by variant and outcome.",
			}, []string{"variant", "outcome"}),
			feeCollected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "paysettle_fee_collected_total",
				Help: "Fee units collected by variant, summed across assets.",
			}, []string{"variant"}),
			dust: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "paysettle_split_dust_total",
				Help: "Rounding remainder left with payers by split settlements.",
			}),
			swapOutput: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "paysettle_swap_output",
				Help:    "Measured exchange output per swap-mediated settlement.",
				Buckets: prometheus.ExponentialBuckets(1, 10, 12),
			}, []string{"protocol"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "paysettle_settlement_duration_seconds",
				Help:    "Wall time of a settlement call including commit.",
				Buckets: prometheus.DefBuckets,
			}, []string{"variant"}),
			redemptions: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "paysettle_fee_redemptions_total",
				Help: "Successful treasury redemptions.",
			}),
		}
		prometheus.MustRegister(
			settlementRegistry.settlements,
			settlementRegistry.feeCollected,
			settlementRegistry.dust,
			settlementRegistry.swapOutput,
			settlementRegistry.latency,
			settlementRegistry.redemptions,
		)
	})
	return settlementRegistry
}

func label(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

// ObserveSettlement records one settlement call. Fee, dust and output are
// only counted for successful calls.
func (m *SettlementMetrics) ObserveSettlement(variant, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	variant = label(variant)
	m.settlements.WithLabelValues(variant, label(outcome)).Inc()
	m.latency.WithLabelValues(variant).Observe(elapsed.Seconds())
}

func (m *SettlementMetrics) AddFee(variant string, fee, dust uint64) {
	if m == nil {
		return
	}
	m.feeCollected.WithLabelValues(label(variant)).Add(float64(fee))
	if dust > 0 {
		m.dust.Add(float64(dust))
	}
}

func (m *SettlementMetrics) ObserveSwapOutput(protocol string, output uint64) {
	if m == nil {
		return
	}
	m.swapOutput.WithLabelValues(label(protocol)).Observe(float64(output))
}

func (m *SettlementMetrics) ObserveRedemption() {
	if m == nil {
		return
	}
	m.redemptions.Inc()
}
