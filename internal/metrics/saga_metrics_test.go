package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()

	var metric dto.Metric
	if err := counter.Write(&metric); err != nil {
		t.Fatalf("write counter: %v", err)
	}
	return metric.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, gauge prometheus.Gauge) float64 {
	t.Helper()

	var metric dto.Metric
	if err := gauge.Write(&metric); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	return metric.GetGauge().GetValue()
}

func TestSagaMetrics_RecordOutcomes(t *testing.T) {
	t.Parallel()

	m := newSagaMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordSagaStarted()
	m.RecordSagaStarted()
	if got := counterValue(t, m.sagaStarted); got != 2 {
		t.Fatalf("expected 2 started, got %v", got)
	}
	if got := gaugeValue(t, m.activeSagas); got != 2 {
		t.Fatalf("expected 2 active sagas, got %v", got)
	}

	m.RecordSagaConfirmed()
	m.RecordSagaFailed()
	if got := counterValue(t, m.sagaConfirmed); got != 1 {
		t.Fatalf("expected 1 confirmed, got %v", got)
	}
	if got := counterValue(t, m.sagaFailed); got != 1 {
		t.Fatalf("expected 1 failed, got %v", got)
	}
	if got := gaugeValue(t, m.activeSagas); got != 0 {
		t.Fatalf("terminal outcomes must drain active sagas, got %v", got)
	}
}

func TestSagaMetrics_RecordSagaExpired(t *testing.T) {
	t.Parallel()

	m := newSagaMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordSagaStarted()
	m.RecordSagaExpired()
	if got := counterValue(t, m.sagaExpired); got != 1 {
		t.Fatalf("expected 1 expired, got %v", got)
	}
	if got := gaugeValue(t, m.activeSagas); got != 0 {
		t.Fatalf("expired saga must drain active gauge, got %v", got)
	}
}

func TestSagaMetrics_RecordCompensation(t *testing.T) {
	t.Parallel()

	m := newSagaMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordCompensation("stock")
	m.RecordCompensation("stock")
	m.RecordCompensation("balance")

	if got := counterValue(t, m.compensations.WithLabelValues("stock")); got != 2 {
		t.Fatalf("expected 2 stock compensations, got %v", got)
	}
	if got := counterValue(t, m.compensations.WithLabelValues("balance")); got != 1 {
		t.Fatalf("expected 1 balance compensation, got %v", got)
	}
}

func TestSagaMetrics_ObserveSagaDuration(t *testing.T) {
	t.Parallel()

	m := newSagaMetricsWithRegisterer(prometheus.NewRegistry())

	m.ObserveSagaDuration(1500 * time.Millisecond)

	var metric dto.Metric
	if err := m.sagaDuration.Write(&metric); err != nil {
		t.Fatalf("write histogram: %v", err)
	}
	if got := metric.GetHistogram().GetSampleCount(); got != 1 {
		t.Fatalf("expected 1 observation, got %d", got)
	}
	if got := metric.GetHistogram().GetSampleSum(); got != 1.5 {
		t.Fatalf("expected sum 1.5s, got %v", got)
	}
}

func TestSagaMetrics_RecordOutboxEnqueued(t *testing.T) {
	t.Parallel()

	m := newSagaMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordOutboxEnqueued("checkout.started")
	m.RecordOutboxEnqueued("checkout.started")

	if got := counterValue(t, m.outboxEnqueued.WithLabelValues("checkout.started")); got != 2 {
		t.Fatalf("expected 2 enqueued, got %v", got)
	}
}

func TestSagaMetrics_DoubleRegistrationReusesCollectors(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	first := newSagaMetricsWithRegisterer(registry)
	second := newSagaMetricsWithRegisterer(registry)

	first.RecordSagaStarted()
	second.RecordSagaStarted()

	// Повторная регистрация возвращает уже существующие коллекторы.
	if got := counterValue(t, second.sagaStarted); got != 2 {
		t.Fatalf("expected shared counter with value 2, got %v", got)
	}
}

func TestParticipantMetrics(t *testing.T) {
	t.Parallel()

	m := newParticipantMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordReservation("stock", "applied")
	m.RecordReservation("stock", "rejected")
	m.RecordReservation("balance", "applied")
	m.RecordRestore("stock")

	if got := counterValue(t, m.reservations.WithLabelValues("stock", "applied")); got != 1 {
		t.Fatalf("expected 1 applied stock reservation, got %v", got)
	}
	if got := counterValue(t, m.reservations.WithLabelValues("stock", "rejected")); got != 1 {
		t.Fatalf("expected 1 rejected stock reservation, got %v", got)
	}
	if got := counterValue(t, m.restores.WithLabelValues("stock")); got != 1 {
		t.Fatalf("expected 1 stock restore, got %v", got)
	}
}
