// Package metrics exposes light client and relay counters, partitioned by
// network.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Chain
	TipHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "btclc",
		Subsystem: "chain",
		Name:      "tip_height",
		Help:      "Height of the canonical tip",
	}, []string{"network"})

	HeadersAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "btclc",
		Subsystem: "chain",
		Name:      "headers_accepted_total",
		Help:      "Total headers stored, canonical or not",
	}, []string{"network"})

	BatchesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "btclc",
		Subsystem: "chain",
		Name:      "batches_rejected_total",
		Help:      "Total rejected executions by reason",
	}, []string{"network", "reason"})

	Reorgs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "btclc",
		Subsystem: "chain",
		Name:      "reorgs_total",
		Help:      "Total canonical chain reorganizations",
	}, []string{"network"})

	ReorgDepth = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "btclc",
		Subsystem: "chain",
		Name:      "reorg_depth_blocks",
		Help:      "Number of canonical headers rolled back per reorg",
		Buckets:   []float64{1, 2, 3, 4, 6, 8, 12, 16, 32, 64},
	}, []string{"network"})

	ForksEvicted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "btclc",
		Subsystem: "chain",
		Name:      "forks_evicted_total",
		Help:      "Total fork branches evicted from the reorg window",
	}, []string{"network"})

	// Finality
	EpochTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "btclc",
		Subsystem: "finality",
		Name:      "epoch_transitions_total",
		Help:      "Total epoch status transitions by target status",
	}, []string{"network", "status"})

	LastFinalizedEpoch = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "btclc",
		Subsystem: "finality",
		Name:      "last_finalized_epoch",
		Help:      "Highest finalized epoch number",
	}, []string{"network"})

	AckTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "btclc",
		Subsystem: "finality",
		Name:      "ack_timeouts_total",
		Help:      "Total confirmed epochs that stopped waiting for acknowledgment",
	}, []string{"network"})

	ExecuteLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "btclc",
		Subsystem: "core",
		Name:      "execute_duration_seconds",
		Help:      "Execute processing duration by message type",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"network", "msg"})

	// Relay
	RelayMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "btclc",
		Subsystem: "relay",
		Name:      "messages_total",
		Help:      "Total gossip messages handled by topic and result",
	}, []string{"topic", "result"})

	RelayPeers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "btclc",
		Subsystem: "relay",
		Name:      "peers",
		Help:      "Connected libp2p peers",
	})
)
