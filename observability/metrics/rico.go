package metrics

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/params"
	"github.com/prometheus/client_golang/prometheus"
)

// SaleMetrics tracks the sale runtime: call outcomes and latency plus gauges
// of the ETH and participant totals after every committed call.
type SaleMetrics struct {
	calls        *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	refunds      *prometheus.CounterVec
	committedETH prometheus.Gauge
	withdrawnETH prometheus.Gauge
	projectETH   prometheus.Gauge
	contributors prometheus.Gauge
	stage        prometheus.Gauge
}

var (
	saleOnce     sync.Once
	saleRegistry *SaleMetrics
)

// Sale returns the lazily-initialised sale metrics registry.
func Sale() *SaleMetrics {
	saleOnce.Do(func() {
		saleRegistry = &SaleMetrics{
			calls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rico",
				Subsystem: "sale",
				Name:      "calls_total",
				Help:      "Count of sale calls segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "rico",
				Subsystem: "sale",
				Name:      "call_duration_seconds",
				Help:      "Latency distribution of sale calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rico",
				Subsystem: "sale",
				Name:      "refunds_total",
				Help:      "Count of ETH refunds segmented by reason.",
			}, []string{"reason"}),
			committedETH: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "rico",
				Subsystem: "sale",
				Name:      "committed_eth",
				Help:      "Committed ETH still held for participants, in ether.",
			}),
			withdrawnETH: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "rico",
				Subsystem: "sale",
				Name:      "participant_withdrawn_eth",
				Help:      "ETH refunded for returned tokens, in ether.",
			}),
			projectETH: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "rico",
				Subsystem: "sale",
				Name:      "project_withdrawn_eth",
				Help:      "ETH withdrawn by the project wallet, in ether.",
			}),
			contributors: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "rico",
				Subsystem: "sale",
				Name:      "contributors",
				Help:      "Number of distinct contributors.",
			}),
			stage: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "rico",
				Subsystem: "sale",
				Name:      "current_stage",
				Help:      "Stage active at the last committed call; -1 outside the sale period.",
			}),
		}
		prometheus.MustRegister(
			saleRegistry.calls,
			saleRegistry.latency,
			saleRegistry.refunds,
			saleRegistry.committedETH,
			saleRegistry.withdrawnETH,
			saleRegistry.projectETH,
			saleRegistry.contributors,
			saleRegistry.stage,
		)
	})
	return saleRegistry
}

// Observe records the outcome and latency of a call.
func (m *SaleMetrics) Observe(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	m.calls.WithLabelValues(operation, outcome(err)).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRefund counts a refund of the given reason.
func (m *SaleMetrics) RecordRefund(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.refunds.WithLabelValues(reason).Inc()
}

// SaleTotals is the subset of the sale counters exported as gauges.
type SaleTotals struct {
	CommittedETH        *big.Int
	WithdrawnETH        *big.Int
	ProjectWithdrawnETH *big.Int
	Contributors        uint64
	Stage               int
}

// RecordTotals updates the gauges.
func (m *SaleMetrics) RecordTotals(t SaleTotals) {
	if m == nil {
		return
	}
	held := new(big.Int).Sub(bigOrZero(t.CommittedETH), bigOrZero(t.WithdrawnETH))
	m.committedETH.Set(weiToEther(held))
	m.withdrawnETH.Set(weiToEther(t.WithdrawnETH))
	m.projectETH.Set(weiToEther(t.ProjectWithdrawnETH))
	m.contributors.Set(float64(t.Contributors))
	m.stage.Set(float64(t.Stage))
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return "error"
}

var weiPerEther = new(big.Float).SetInt64(params.Ether)

func weiToEther(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), weiPerEther).Float64()
	return f
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
