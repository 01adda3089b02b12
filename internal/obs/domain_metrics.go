package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// ReservationAttempts counts reservation outcomes by result code.
	ReservationAttempts *prometheus.CounterVec
	// ReservationCommitLatency records atomic commit latency in milliseconds.
	ReservationCommitLatency *prometheus.HistogramVec
	// ReservationConflictRetries counts commits retried after a write conflict.
	ReservationConflictRetries *prometheus.CounterVec
	// PromoValidations counts standalone promo validations.
	PromoValidations *prometheus.CounterVec
	// BookingNotifications counts confirmation deliveries by channel and outcome.
	BookingNotifications *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		ReservationAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_attempts_total",
			Help:      "Count of reservation attempts by outcome.",
		}, []string{"result"})
		ReservationCommitLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reservation_commit_duration_ms",
			Help:      "Latency of the atomic reservation commit in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"backend"})
		ReservationConflictRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_conflict_retries_total",
			Help:      "Number of reservation commits retried after a write conflict.",
		}, []string{"backend"})
		PromoValidations = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promo_validations_total",
			Help:      "Count of promo code validations by outcome.",
		}, []string{"result"})
		BookingNotifications = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_notifications_total",
			Help:      "Count of booking confirmation deliveries.",
		}, []string{"channel", "result"})

		mustRegisterCollector(reg, ReservationAttempts, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ReservationAttempts = v
			}
		})
		mustRegisterCollector(reg, ReservationCommitLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				ReservationCommitLatency = v
			}
		})
		mustRegisterCollector(reg, ReservationConflictRetries, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ReservationConflictRetries = v
			}
		})
		mustRegisterCollector(reg, PromoValidations, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PromoValidations = v
			}
		})
		mustRegisterCollector(reg, BookingNotifications, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				BookingNotifications = v
			}
		})
	})
}

// CountReservation increments the reservation outcome counter if registered.
func CountReservation(result string) {
	if ReservationAttempts != nil {
		ReservationAttempts.WithLabelValues(result).Inc()
	}
}

// ObserveCommit records commit latency for backend if registered.
func ObserveCommit(backend string, ms float64) {
	if ReservationCommitLatency != nil {
		ReservationCommitLatency.WithLabelValues(backend).Observe(ms)
	}
}

// CountConflictRetry increments the conflict retry counter if registered.
func CountConflictRetry(backend string) {
	if ReservationConflictRetries != nil {
		ReservationConflictRetries.WithLabelValues(backend).Inc()
	}
}

// CountPromoValidation increments the promo validation counter if registered.
func CountPromoValidation(valid bool) {
	if PromoValidations == nil {
		return
	}
	result := "invalid"
	if valid {
		result = "valid"
	}
	PromoValidations.WithLabelValues(result).Inc()
}

// CountNotification increments the notification counter if registered.
func CountNotification(channel, result string) {
	if BookingNotifications != nil {
		BookingNotifications.WithLabelValues(channel, result).Inc()
	}
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
