package mutator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all the Prometheus metrics for the mutation engine.
type Metrics struct {
	mutationsTotal   *prometheus.CounterVec
	mutationDuration *prometheus.HistogramVec
	poolRemaining    *prometheus.GaugeVec
}

// NewMetrics creates and registers the metrics for the mutation engine.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		mutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mutator_mutations_total",
			Help: "Total number of mutation attempts, labeled by result.",
		}, []string{"result"}),
		mutationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mutator_mutation_duration_seconds",
			Help:    "Time taken to validate and apply a mutation.",
			Buckets: prometheus.DefBuckets,
		}, []string{}),
		poolRemaining: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mutator_pool_remaining",
			Help: "Number of mintable ids left in a collection's pool.",
		}, []string{"collection"}),
	}
	reg.MustRegister(m.mutationsTotal, m.mutationDuration, m.poolRemaining)
	return m
}
