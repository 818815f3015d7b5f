package reconcile

import "github.com/prometheus/client_golang/prometheus"

var (
	SweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconcile_reservations_released_total",
			Help: "Expired flash-sale reservations returned to the sellable pool",
		},
	)
	SweepErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconcile_sweep_errors_total",
			Help: "Sweep runs that aborted with an error",
		},
	)
)

func init() {
	prometheus.MustRegister(SweptTotal, SweepErrorsTotal)
}
