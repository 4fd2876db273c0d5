// internal/lookuptable/metrics.go
package lookuptable

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	batches     *prometheus.CounterVec
	keysAdded   prometheus.Counter
	maintenance *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flmarb_lookup_table_extend_batches_total",
			Help: "Extend batches by result",
		}, []string{"result"}),
		keysAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flmarb_lookup_table_keys_added_total",
			Help: "Keys added to lookup tables",
		}),
		maintenance: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flmarb_lookup_table_maintenance_total",
			Help: "Lookup tables processed by maintenance sweeps",
		}, []string{"op", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.batches, m.keysAdded, m.maintenance)
	}
	return m
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
