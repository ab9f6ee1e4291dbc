package observability

import (
	"math"
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"creditprotocol/core/events"
)

type ledgerMetrics struct {
	eventsRecorded *prometheus.CounterVec
	blocksSealed   prometheus.Counter
	blockSize      prometheus.Histogram
}

type economyMetrics struct {
	transfers   prometheus.Counter
	burned      prometheus.Counter
	supplyDelta *prometheus.CounterVec
	stakes      *prometheus.CounterVec
	poolDeficit prometheus.Gauge
}

type distributionMetrics struct {
	distributions *prometheus.CounterVec
	amount        *prometheus.CounterVec
}

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *ledgerMetrics

	economyMetricsOnce sync.Once
	economyRegistry    *economyMetrics

	distributionMetricsOnce sync.Once
	distributionRegistry    *distributionMetrics
)

// Ledger returns the lazily-initialised registry tracking ledger activity.
func Ledger() *ledgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &ledgerMetrics{
			eventsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "credit",
				Subsystem: "ledger",
				Name:      "events_total",
				Help:      "Total facts appended to the ledger segmented by event kind.",
			}, []string{"kind"}),
			blocksSealed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "credit",
				Subsystem: "ledger",
				Name:      "blocks_sealed_total",
				Help:      "Total blocks sealed, at threshold or by force.",
			}),
			blockSize: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "credit",
				Subsystem: "ledger",
				Name:      "block_events",
				Help:      "Distribution of events per sealed block.",
				Buckets:   []float64{1, 10, 25, 50, 100, 250},
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.eventsRecorded,
			ledgerRegistry.blocksSealed,
			ledgerRegistry.blockSize,
		)
	})
	return ledgerRegistry
}

// Economy returns the lazily-initialised registry tracking token movement.
func Economy() *economyMetrics {
	economyMetricsOnce.Do(func() {
		economyRegistry = &economyMetrics{
			transfers: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "credit",
				Subsystem: "economy",
				Name:      "transfers_total",
				Help:      "Total settled balance movements.",
			}),
			burned: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "credit",
				Subsystem: "economy",
				Name:      "burned_minor_units_total",
				Help:      "Minor units permanently removed from circulation.",
			}),
			supplyDelta: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "credit",
				Subsystem: "economy",
				Name:      "supply_changes_total",
				Help:      "Supply deltas segmented by reason.",
			}, []string{"reason"}),
			stakes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "credit",
				Subsystem: "economy",
				Name:      "stakes_total",
				Help:      "Stake lifecycle transitions segmented by phase.",
			}, []string{"phase"}),
			poolDeficit: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "credit",
				Subsystem: "economy",
				Name:      "reward_pool_deficit_minor_units",
				Help:      "How far the reward pool has been drawn below zero.",
			}),
		}
		prometheus.MustRegister(
			economyRegistry.transfers,
			economyRegistry.burned,
			economyRegistry.supplyDelta,
			economyRegistry.stakes,
			economyRegistry.poolDeficit,
		)
	})
	return economyRegistry
}

// Distribution returns the lazily-initialised registry tracking revenue splits.
func Distribution() *distributionMetrics {
	distributionMetricsOnce.Do(func() {
		distributionRegistry = &distributionMetrics{
			distributions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "credit",
				Subsystem: "distribution",
				Name:      "records_total",
				Help:      "Completed waterfall distributions segmented by kind.",
			}, []string{"kind"}),
			amount: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "credit",
				Subsystem: "distribution",
				Name:      "distributed_minor_units_total",
				Help:      "Minor units routed through the waterfall segmented by kind.",
			}, []string{"kind"}),
		}
		prometheus.MustRegister(
			distributionRegistry.distributions,
			distributionRegistry.amount,
		)
	})
	return distributionRegistry
}

// Recorder is an events.Emitter that projects engine events onto the
// Prometheus registries. Wire it into the services alongside any other
// emitters via events.MultiEmitter.
type Recorder struct{}

// Emit implements events.Emitter.
func (Recorder) Emit(evt events.Event) {
	switch payload := evt.(type) {
	case events.LedgerEventRecorded:
		Ledger().eventsRecorded.WithLabelValues(payload.Kind).Inc()
	case events.LedgerBlockSealed:
		Ledger().blocksSealed.Inc()
		Ledger().blockSize.Observe(float64(payload.EventCount))
	case events.TokenTransfer:
		Economy().transfers.Inc()
		if payload.Burned != nil && payload.Burned.Sign() > 0 {
			Economy().burned.Add(amountValue(payload.Burned))
		}
	case events.TokenSupply:
		reason := payload.Reason
		if reason == "" {
			reason = "unknown"
		}
		Economy().supplyDelta.WithLabelValues(reason).Inc()
	case events.StakeOpened:
		Economy().stakes.WithLabelValues("opened").Inc()
	case events.StakeClosed:
		Economy().stakes.WithLabelValues("closed").Inc()
	case events.RewardPoolNegative:
		if payload.Balance != nil && payload.Balance.Sign() < 0 {
			deficit := new(big.Int).Neg(payload.Balance)
			Economy().poolDeficit.Set(amountValue(deficit))
		}
	case events.RevenueDistributed:
		Distribution().distributions.WithLabelValues(payload.Kind).Inc()
		Distribution().amount.WithLabelValues(payload.Kind).Add(amountValue(payload.Total))
	}
}

// amountValue renders a minor-unit amount as a float for counters. Amounts
// beyond float precision saturate rather than panic.
func amountValue(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	if math.IsInf(f, 0) {
		return math.MaxFloat64
	}
	return f
}
