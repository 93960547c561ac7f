// Package telemetry exposes the Prometheus metrics the consensus core
// emits for DKG rounds, certificates, and validator batches, following the
// teacher's metrics/ package conventions.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every counter/gauge this module registers. Callers
// register it once against a prometheus.Registerer of their choosing
// (the registry itself is an external collaborator, per the teacher's own
// metrics package split between definition and registration).
type Metrics struct {
	DkgRoundsStarted   prometheus.Counter
	DkgRoundsFailed    prometheus.Counter
	DkgRoundsFinalized prometheus.Counter

	CertificatesEmitted prometheus.Counter
	PartialSharesSeen   prometheus.Counter

	ValidatorBatchesRun     prometheus.Counter
	ValidatorTxnsAccepted   prometheus.Counter
	ValidatorTxnsRejected   prometheus.Counter

	QuorumFormed *prometheus.CounterVec // labeled by kind (Farmer/Harvester)
}

// New builds a fresh Metrics bundle. It does not register anything; call
// Register to attach it to a prometheus.Registerer.
func New() *Metrics {
	return &Metrics{
		DkgRoundsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "consensus", Subsystem: "dkg", Name: "rounds_started_total",
			Help: "Number of DKG rounds this node has initiated or joined.",
		}),
		DkgRoundsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "consensus", Subsystem: "dkg", Name: "rounds_failed_total",
			Help: "Number of DKG rounds that hit their deadline before reaching Ready.",
		}),
		DkgRoundsFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "consensus", Subsystem: "dkg", Name: "rounds_finalized_total",
			Help: "Number of DKG rounds that produced a key set.",
		}),
		CertificatesEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "consensus", Subsystem: "certify", Name: "certificates_emitted_total",
			Help: "Number of block certificates this node has combined.",
		}),
		PartialSharesSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "consensus", Subsystem: "certify", Name: "partial_shares_seen_total",
			Help: "Number of partial signature shares accepted into the cache.",
		}),
		ValidatorBatchesRun: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "consensus", Subsystem: "validator", Name: "batches_run_total",
			Help: "Number of transaction batches run through the core manager.",
		}),
		ValidatorTxnsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "consensus", Subsystem: "validator", Name: "txns_accepted_total",
			Help: "Number of transactions that passed structural validation.",
		}),
		ValidatorTxnsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "consensus", Subsystem: "validator", Name: "txns_rejected_total",
			Help: "Number of transactions that failed structural validation.",
		}),
		QuorumFormed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consensus", Subsystem: "election", Name: "quorum_formed_total",
			Help: "Number of quorums successfully formed, labeled by kind.",
		}, []string{"kind"}),
	}
}

// Register attaches every metric in m to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.DkgRoundsStarted, m.DkgRoundsFailed, m.DkgRoundsFinalized,
		m.CertificatesEmitted, m.PartialSharesSeen,
		m.ValidatorBatchesRun, m.ValidatorTxnsAccepted, m.ValidatorTxnsRejected,
		m.QuorumFormed,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
