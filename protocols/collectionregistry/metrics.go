package collectionregistry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics for the collection system.
type Metrics struct {
	operationsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the metrics for the collection system.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collectionregistry_operations_total",
			Help: "Total number of administrative registry operations, labeled by operation and result.",
		}, []string{"op", "result"}),
	}
	reg.MustRegister(m.operationsTotal)
	return m
}

func (m *Metrics) observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operationsTotal.WithLabelValues(op, result).Inc()
}
