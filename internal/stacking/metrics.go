package stacking

import "github.com/prometheus/client_golang/prometheus"

var (
	FallbackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stacking_greedy_fallback_total",
			Help: "Times the resolver exceeded the non-stackable candidate cap and fell back to greedy",
		},
	)
	ResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stacking_resolved_total",
			Help: "Resolved stacking outcomes grouped by strategy",
		},
		[]string{"strategy"},
	)
)

func init() {
	prometheus.MustRegister(FallbackTotal, ResolvedTotal)
}
