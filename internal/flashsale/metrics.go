package flashsale

import "github.com/prometheus/client_golang/prometheus"

var (
	AllocationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flash_allocation_total",
			Help: "Flash-sale allocation attempts grouped by outcome",
		},
		[]string{"result"},
	)
	AllocationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flash_allocation_duration_ms",
			Help:    "Latency of flash-sale allocation calls in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)
	ReleaseClampTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flash_release_clamped_total",
			Help: "Releases that would have driven the sold counter below zero",
		},
	)
)

func init() {
	prometheus.MustRegister(AllocationTotal, AllocationDuration, ReleaseClampTotal)
}
