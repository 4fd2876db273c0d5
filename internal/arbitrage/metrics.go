// internal/arbitrage/metrics.go
package arbitrage

import (
	"github.com/prometheus/client_golang/prometheus"
)

type loopMetrics struct {
	iterations *prometheus.CounterVec
	profit     prometheus.Gauge
}

func newLoopMetrics(reg prometheus.Registerer) *loopMetrics {
	m := &loopMetrics{
		iterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flmarb_arb_iterations_total",
			Help: "Arbitrage loop iterations by outcome",
		}, []string{"outcome"}),
		profit: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flmarb_arb_last_profit_base_units",
			Help: "Sell proceeds minus loan repayment of the last quoted round trip",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.iterations, m.profit)
	}
	return m
}
