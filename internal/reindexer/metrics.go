package reindexer

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Scheduling
	TicksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reindexer_ticks_total",
		Help: "The total number of scheduler ticks by result",
	}, []string{"result"})

	TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "reindexer_tick_duration_seconds",
		Help:    "The duration of scheduler ticks",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	})

	// Leadership
	LeasesAcquired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reindexer_leases_acquired_total",
		Help: "The total number of times this process became leader",
	})

	// Progress
	CheckpointsSaved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reindexer_checkpoints_total",
		Help: "The total number of reindexing state writes",
	}, []string{"type"})

	WorkerOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reindexer_worker_outcomes_total",
		Help: "The total number of worker calls by outcome",
	}, []string{"type", "outcome"})

	TypeState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "reindexer_type_state",
		Help: "1 for the state each document type was last seen in by this process",
	}, []string{"type", "state"})
)

func init() {
	prometheus.MustRegister(TicksTotal)
	prometheus.MustRegister(TickDuration)
	prometheus.MustRegister(LeasesAcquired)
	prometheus.MustRegister(CheckpointsSaved)
	prometheus.MustRegister(WorkerOutcomes)
	prometheus.MustRegister(TypeState)
}

var allStates = []ProgressState{StatePending, StateRunning, StateSuccessful, StateFailed}

func recordTypeState(typ string, state ProgressState) {
	for _, s := range allStates {
		v := 0.0
		if s == state {
			v = 1
		}
		TypeState.WithLabelValues(typ, string(s)).Set(v)
	}
}
