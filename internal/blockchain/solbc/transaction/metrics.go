// internal/blockchain/solbc/transaction/metrics.go
package transaction

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	successCounter    prometheus.Counter
	failureCounter    prometheus.Counter
	durationHistogram prometheus.Histogram
	sizeHistogram     prometheus.Histogram
}

// NewMetrics регистрирует метрики в reg; nil – метрики не регистрируются.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	successCounter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flmarb_tx_success_total",
		Help: "Total number of successfully sent transactions",
	})
	failureCounter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flmarb_tx_failure_total",
		Help: "Total number of failed transactions",
	})
	durationHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flmarb_tx_duration_seconds",
		Help:    "Transaction submit duration in seconds",
		Buckets: prometheus.LinearBuckets(0, 0.1, 10),
	})
	sizeHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flmarb_tx_size_bytes",
		Help:    "Serialized transaction size",
		Buckets: prometheus.LinearBuckets(200, 100, 11),
	})

	if reg != nil {
		reg.MustRegister(successCounter, failureCounter, durationHistogram, sizeHistogram)
	}

	return &Metrics{
		successCounter:    successCounter,
		failureCounter:    failureCounter,
		durationHistogram: durationHistogram,
		sizeHistogram:     sizeHistogram,
	}
}

func (tm *Metrics) TrackTransaction(start time.Time) {
	tm.durationHistogram.Observe(time.Since(start).Seconds())
}

func (tm *Metrics) TrackResult(err error) {
	if err != nil {
		tm.failureCounter.Inc()
		return
	}
	tm.successCounter.Inc()
}

func (tm *Metrics) TrackSize(size int) {
	tm.sizeHistogram.Observe(float64(size))
}
