package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// QuoteTotal counts quote pipeline runs by outcome.
	QuoteTotal *prometheus.CounterVec
	// QuoteDuration records quote pipeline latency in milliseconds.
	QuoteDuration prometheus.Histogram
	// PromotionSkippedTotal counts candidates dropped before stacking, by stage.
	PromotionSkippedTotal *prometheus.CounterVec
	// ReservationOutcomeTotal tracks flash-sale reservation results.
	ReservationOutcomeTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		QuoteTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_total",
			Help:      "Count of quote pipeline runs by outcome.",
		}, []string{"result"})
		QuoteDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quote_duration_ms",
			Help:      "Quote pipeline latency distribution in milliseconds.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
		})
		PromotionSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_skipped_total",
			Help:      "Count of candidate promotions dropped before stacking, by stage.",
		}, []string{"stage"})
		ReservationOutcomeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_outcome_total",
			Help:      "Count of flash-sale reservation attempts by result.",
		}, []string{"result"})
		reg.MustRegister(QuoteTotal, QuoteDuration, PromotionSkippedTotal, ReservationOutcomeTotal)
	})
}
