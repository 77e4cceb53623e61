// Package metrics exposes ledger counters and gauges to prometheus. All
// methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ledger"

type Metrics struct {
	height           prometheus.Gauge
	blocksCommitted  prometheus.Counter
	blocksImported   prometheus.Counter
	txIncluded       prometheus.Counter
	txRejected       *prometheus.CounterVec
	commitFailures   *prometheus.CounterVec
	proposerRounds   prometheus.Counter
	mempoolSize      prometheus.Gauge
	totalStaked      prometheus.Gauge
	activeValidators prometheus.Gauge
	snapshots        prometheus.Counter
	halted           prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		height: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "height",
			Help: "Height of the last committed block.",
		}),
		blocksCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "blocks_committed_total",
			Help: "Blocks produced and committed by this node.",
		}),
		blocksImported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "blocks_imported_total",
			Help: "Blocks produced elsewhere and imported by this node.",
		}),
		txIncluded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "transactions_included_total",
			Help: "Transactions applied in committed blocks.",
		}),
		txRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "transactions_rejected_total",
			Help: "Transactions dropped at admission, by reason.",
		}, []string{"reason"}),
		commitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "commit_failures_total",
			Help: "Block rounds that did not commit, by reason.",
		}, []string{"reason"}),
		proposerRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "proposer_selections_total",
			Help: "Proposer selections performed.",
		}),
		mempoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "mempool_size",
			Help: "Pending transactions awaiting a block.",
		}),
		totalStaked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "total_staked",
			Help: "Sum of all validator stakes.",
		}),
		activeValidators: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_validators",
			Help: "Validators at or above the minimum stake.",
		}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "snapshots_total",
			Help: "State snapshots created.",
		}),
		halted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "halted",
			Help: "1 once the circuit breaker has tripped.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.height, m.blocksCommitted, m.blocksImported, m.txIncluded, m.txRejected,
		m.commitFailures, m.proposerRounds, m.mempoolSize, m.totalStaked,
		m.activeValidators, m.snapshots, m.halted,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) BlockCommitted(height uint64, txs int) {
	if m == nil {
		return
	}
	m.blocksCommitted.Inc()
	m.txIncluded.Add(float64(txs))
	m.height.Set(float64(height))
}

func (m *Metrics) BlockImported(height uint64, txs int) {
	if m == nil {
		return
	}
	m.blocksImported.Inc()
	m.txIncluded.Add(float64(txs))
	m.height.Set(float64(height))
}

func (m *Metrics) SetHeight(height uint64) {
	if m == nil {
		return
	}
	m.height.Set(float64(height))
}

func (m *Metrics) TxRejected(reason string) {
	if m == nil {
		return
	}
	m.txRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) CommitFailed(reason string) {
	if m == nil {
		return
	}
	m.commitFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) ProposerSelected() {
	if m == nil {
		return
	}
	m.proposerRounds.Inc()
}

func (m *Metrics) SetMempoolSize(n int) {
	if m == nil {
		return
	}
	m.mempoolSize.Set(float64(n))
}

// SetStaking records the staking aggregate. The gauge is approximate above
// 2^53.
func (m *Metrics) SetStaking(total *uint256.Int, validators int) {
	if m == nil {
		return
	}
	f, _ := new(big.Float).SetInt(total.ToBig()).Float64()
	m.totalStaked.Set(f)
	m.activeValidators.Set(float64(validators))
}

func (m *Metrics) SnapshotCreated() {
	if m == nil {
		return
	}
	m.snapshots.Inc()
}

func (m *Metrics) SetHalted(halted bool) {
	if m == nil {
		return
	}
	if halted {
		m.halted.Set(1)
		return
	}
	m.halted.Set(0)
}
