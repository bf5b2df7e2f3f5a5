package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Значения метки result для orderproc_orders_processed_total.
const (
	ResultConfirmed       = "confirmed"
	ResultInvalidArgument = "invalid_argument"
	ResultRejected        = "rejected"
	ResultPersistFailed   = "persist_failed"
)

// ProcessorMetrics содержит метрики обработки заказов.
type ProcessorMetrics struct {
	// Итог обработки по результату
	ordersProcessed *prometheus.CounterVec
	// Количество позиций в подтверждённых заказах
	orderItems prometheus.Histogram

	// Время выполнения ProcessOrder и отдельных шагов
	processDuration prometheus.Histogram
	stepDuration    *prometheus.HistogramVec

	inFlight prometheus.Gauge
}

// NewProcessorMetrics создаёт метрики в DefaultRegisterer.
func NewProcessorMetrics() *ProcessorMetrics {
	return NewProcessorMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewProcessorMetricsWithRegisterer создаёт метрики в заданном реестре.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewProcessorMetricsWithRegisterer(registerer prometheus.Registerer) *ProcessorMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &ProcessorMetrics{
		ordersProcessed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orderproc_orders_processed_total",
			Help: "Total number of processed order requests grouped by result",
		}, []string{"result"}),
		orderItems: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "orderproc_order_items",
			Help:    "Number of items in confirmed orders",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 50, 100},
		}),
		processDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "orderproc_process_duration_seconds",
			Help:    "Duration of ProcessOrder calls in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "orderproc_step_duration_seconds",
			Help:    "Duration of individual processing steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "orderproc_in_flight_requests",
			Help: "Number of ProcessOrder calls currently in progress",
		}),
	}
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

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordStarted увеличивает число выполняющихся запросов.
func (m *ProcessorMetrics) RecordStarted() {
	m.inFlight.Inc()
}

// RecordFinished фиксирует результат и длительность обработки.
func (m *ProcessorMetrics) RecordFinished(result string, duration time.Duration) {
	m.inFlight.Dec()
	m.ordersProcessed.WithLabelValues(result).Inc()
	m.processDuration.Observe(duration.Seconds())
}

// RecordStepDuration записывает время выполнения шага (validate, save).
func (m *ProcessorMetrics) RecordStepDuration(step string, duration time.Duration) {
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordOrderItems записывает размер подтверждённого заказа.
func (m *ProcessorMetrics) RecordOrderItems(count int) {
	m.orderItems.Observe(float64(count))
}
