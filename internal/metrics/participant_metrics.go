package metrics

import "github.com/prometheus/client_golang/prometheus"

// ParticipantMetrics содержит метрики участников резервирования.
type ParticipantMetrics struct {
	reservations *prometheus.CounterVec
	restores     *prometheus.CounterVec
}

// NewParticipantMetrics создаёт новый экземпляр метрик участников.
func NewParticipantMetrics() *ParticipantMetrics {
	return newParticipantMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newParticipantMetricsWithRegisterer(registerer prometheus.Registerer) *ParticipantMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &ParticipantMetrics{
		reservations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_participant_reservations_total",
			Help: "Total number of reservation attempts grouped by resource and outcome",
		}, []string{"resource", "outcome"}),
		restores: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_participant_restores_total",
			Help: "Total number of applied compensations grouped by resource",
		}, []string{"resource"}),
	}
}

// RecordReservation увеличивает счётчик исходов резервирования.
func (m *ParticipantMetrics) RecordReservation(resource, outcome string) {
	m.reservations.WithLabelValues(resource, outcome).Inc()
}

// RecordRestore увеличивает счётчик применённых компенсаций.
func (m *ParticipantMetrics) RecordRestore(resource string) {
	m.restores.WithLabelValues(resource).Inc()
}
