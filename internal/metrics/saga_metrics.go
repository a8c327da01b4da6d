package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SagaMetrics содержит метрики координатора checkout-саги.
type SagaMetrics struct {
	// Счётчики исходов
	sagaStarted   prometheus.Counter
	sagaConfirmed prometheus.Counter
	sagaFailed    prometheus.Counter
	sagaExpired   prometheus.Counter

	// Компенсации по типу ресурса
	compensations *prometheus.CounterVec

	// Время от старта саги до терминального статуса
	sagaDuration prometheus.Histogram

	// События, поставленные в outbox, по типу
	outboxEnqueued *prometheus.CounterVec

	// Gauge для незавершённых саг
	activeSagas prometheus.Gauge
}

// NewSagaMetrics создаёт новый экземпляр метрик саги.
func NewSagaMetrics() *SagaMetrics {
	return newSagaMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newSagaMetricsWithRegisterer(registerer prometheus.Registerer) *SagaMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SagaMetrics{
		sagaStarted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_saga_started_total",
			Help: "Total number of checkout sagas started",
		}),
		sagaConfirmed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_saga_confirmed_total",
			Help: "Total number of checkout sagas finished with confirmed order",
		}),
		sagaFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_saga_failed_total",
			Help: "Total number of checkout sagas finished with failed order",
		}),
		sagaExpired: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_saga_expired_total",
			Help: "Total number of checkout sagas failed by deadline worker",
		}),
		compensations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_saga_compensations_total",
			Help: "Total number of compensations emitted grouped by resource",
		}, []string{"resource"}),
		sagaDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "checkout_saga_duration_seconds",
			Help:    "Time from saga start to terminal order status in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		outboxEnqueued: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_saga_outbox_enqueued_total",
			Help: "Total number of events enqueued to the outbox grouped by type",
		}, []string{"event_type"}),
		activeSagas: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "checkout_active_sagas",
			Help: "Number of checkout sagas awaiting a terminal status",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordSagaStarted увеличивает счётчик запущенных саг.
func (m *SagaMetrics) RecordSagaStarted() {
	m.sagaStarted.Inc()
	m.activeSagas.Inc()
}

// RecordSagaConfirmed увеличивает счётчик подтверждённых саг.
func (m *SagaMetrics) RecordSagaConfirmed() {
	m.sagaConfirmed.Inc()
	m.activeSagas.Dec()
}

// RecordSagaFailed увеличивает счётчик провалившихся саг.
func (m *SagaMetrics) RecordSagaFailed() {
	m.sagaFailed.Inc()
	m.activeSagas.Dec()
}

// RecordSagaExpired увеличивает счётчик саг, проваленных по дедлайну.
func (m *SagaMetrics) RecordSagaExpired() {
	m.sagaExpired.Inc()
	m.activeSagas.Dec()
}

// RecordCompensation увеличивает счётчик компенсаций по ресурсу.
func (m *SagaMetrics) RecordCompensation(resource string) {
	m.compensations.WithLabelValues(resource).Inc()
}

// ObserveSagaDuration записывает время жизни саги.
func (m *SagaMetrics) ObserveSagaDuration(duration time.Duration) {
	m.sagaDuration.Observe(duration.Seconds())
}

// RecordOutboxEnqueued увеличивает счётчик событий, поставленных в outbox.
func (m *SagaMetrics) RecordOutboxEnqueued(eventType string) {
	m.outboxEnqueued.WithLabelValues(eventType).Inc()
}
