package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestNewProcessorMetrics(t *testing.T) {
	metrics := NewProcessorMetricsWithRegisterer(prometheus.NewRegistry())

	if metrics == nil {
		t.Fatal("NewProcessorMetricsWithRegisterer should not return nil")
	}
	if metrics.ordersProcessed == nil {
		t.Error("ordersProcessed counter vec should not be nil")
	}
	if metrics.orderItems == nil {
		t.Error("orderItems histogram should not be nil")
	}
	if metrics.processDuration == nil {
		t.Error("processDuration histogram should not be nil")
	}
	if metrics.stepDuration == nil {
		t.Error("stepDuration histogram vec should not be nil")
	}
	if metrics.inFlight == nil {
		t.Error("inFlight gauge should not be nil")
	}
}

func TestNewProcessorMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := NewProcessorMetricsWithRegisterer(reg)
	second := NewProcessorMetricsWithRegisterer(reg)

	first.RecordStarted()
	first.RecordFinished(ResultConfirmed, time.Millisecond)

	if got := testutil.ToFloat64(second.ordersProcessed.WithLabelValues(ResultConfirmed)); got != 1 {
		t.Fatalf("expected shared counter value 1, got %f", got)
	}
}

func TestRecordStartedAndFinished(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewProcessorMetricsWithRegisterer(reg)

	metrics.RecordStarted()
	metrics.RecordStarted()

	gauge := &dto.Metric{}
	if err := metrics.inFlight.Write(gauge); err != nil {
		t.Fatalf("failed to write gauge: %v", err)
	}
	if gauge.Gauge.GetValue() != 2.0 {
		t.Errorf("expected in-flight 2.0, got %f", gauge.Gauge.GetValue())
	}

	metrics.RecordFinished(ResultConfirmed, 10*time.Millisecond)
	metrics.RecordFinished(ResultPersistFailed, 20*time.Millisecond)

	if got := testutil.ToFloat64(metrics.inFlight); got != 0 {
		t.Errorf("expected in-flight 0, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.ordersProcessed.WithLabelValues(ResultConfirmed)); got != 1 {
		t.Errorf("expected confirmed=1, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.ordersProcessed.WithLabelValues(ResultPersistFailed)); got != 1 {
		t.Errorf("expected persist_failed=1, got %f", got)
	}
	if got := testutil.CollectAndCount(metrics.processDuration); got != 1 {
		t.Errorf("expected one duration series, got %d", got)
	}
}

func TestRecordStepDuration(t *testing.T) {
	metrics := NewProcessorMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordStepDuration("validate", 5*time.Millisecond)
	metrics.RecordStepDuration("save", 15*time.Millisecond)
	metrics.RecordStepDuration("save", 25*time.Millisecond)

	if got := testutil.CollectAndCount(metrics.stepDuration); got != 2 {
		t.Fatalf("expected 2 step series, got %d", got)
	}

	histogram := &dto.Metric{}
	observer := metrics.stepDuration.WithLabelValues("save").(prometheus.Histogram)
	if err := observer.Write(histogram); err != nil {
		t.Fatalf("failed to write histogram: %v", err)
	}
	if histogram.Histogram.GetSampleCount() != 2 {
		t.Errorf("expected 2 save samples, got %d", histogram.Histogram.GetSampleCount())
	}
}

func TestRecordOrderItems(t *testing.T) {
	metrics := NewProcessorMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordOrderItems(3)

	histogram := &dto.Metric{}
	if err := metrics.orderItems.Write(histogram); err != nil {
		t.Fatalf("failed to write histogram: %v", err)
	}
	if histogram.Histogram.GetSampleSum() != 3 {
		t.Errorf("expected sample sum 3, got %f", histogram.Histogram.GetSampleSum())
	}
}
