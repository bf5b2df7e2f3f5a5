// Package processor оформляет заказы: валидация, сохранение и выдача подтверждения.
package processor

import (
	"context"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderproc/internal/domain"
	"github.com/vladislavdragonenkov/orderproc/internal/metrics"
	"github.com/vladislavdragonenkov/orderproc/internal/service/tracking"
)

const (
	stepValidate = "validate"
	stepSave     = "save"
)

// TrackingGenerator выдаёт номера отслеживания.
type TrackingGenerator interface {
	Next() string
}

// MetricsRecorder принимает метрики процессора.
type MetricsRecorder interface {
	RecordStarted()
	RecordFinished(result string, duration time.Duration)
	RecordStepDuration(step string, duration time.Duration)
	RecordOrderItems(count int)
}

// Processor оформляет заказы. Не хранит изменяемого состояния между вызовами,
// поэтому безопасен для конкурентного использования.
type Processor struct {
	validator domain.Validator
	store     domain.OrderStore
	tracking  TrackingGenerator
	metrics   MetricsRecorder
	logger    *log.Entry
	now       func() time.Time
	newID     func() string
}

// Option настраивает Processor.
type Option func(*Processor)

// WithLogger задаёт logger процессора.
func WithLogger(logger *log.Entry) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithTrackingGenerator подменяет генератор номеров отслеживания.
func WithTrackingGenerator(gen TrackingGenerator) Option {
	return func(p *Processor) {
		p.tracking = gen
	}
}

// WithMetrics включает запись метрик.
func WithMetrics(recorder MetricsRecorder) Option {
	return func(p *Processor) {
		p.metrics = recorder
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		p.now = now
	}
}

// WithIDGenerator подменяет генератор идентификаторов заказов.
func WithIDGenerator(newID func() string) Option {
	return func(p *Processor) {
		p.newID = newID
	}
}

// New создаёт процессор поверх валидатора и хранилища.
func New(validator domain.Validator, store domain.OrderStore, options ...Option) *Processor {
	p := &Processor{
		validator: validator,
		store:     store,
	}
	for _, option := range options {
		option(p)
	}

	if p.logger == nil {
		p.logger = log.WithField("component", "order-processor")
	}
	if p.tracking == nil {
		p.tracking = tracking.NewGenerator()
	}
	if p.metrics == nil {
		p.metrics = noopMetrics{}
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.newID == nil {
		p.newID = uuid.NewString
	}

	return p
}

// ProcessOrder валидирует запрос, сохраняет заказ и возвращает подтверждение.
//
// Ошибки:
//   - domain.ErrRequestRequired, если req == nil;
//   - domain.ErrValidationFailed, если валидатор отклонил запрос (хранилище не вызывается);
//   - ошибка хранилища как есть, без обёртки; она логируется с customer_id.
func (p *Processor) ProcessOrder(ctx context.Context, req *domain.OrderRequest) (*domain.OrderConfirmation, error) {
	started := time.Now()
	p.metrics.RecordStarted()
	result := metrics.ResultPersistFailed
	defer func() {
		p.metrics.RecordFinished(result, time.Since(started))
	}()

	if req == nil {
		result = metrics.ResultInvalidArgument
		return nil, domain.ErrRequestRequired
	}

	p.logger.WithFields(log.Fields{
		"customer_id": req.CustomerID,
		"items":       len(req.Items),
	}).Debug("processing order")

	stepStarted := time.Now()
	valid := p.validator.Validate(ctx, *req)
	p.metrics.RecordStepDuration(stepValidate, time.Since(stepStarted))
	if !valid {
		result = metrics.ResultRejected
		return nil, domain.ErrValidationFailed
	}

	order := domain.NewOrder(p.newID(), *req, p.now())

	stepStarted = time.Now()
	err := p.store.Save(ctx, order)
	p.metrics.RecordStepDuration(stepSave, time.Since(stepStarted))
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"customer_id": req.CustomerID,
			"order_id":    order.ID,
		}).Error("error processing order")
		return nil, err
	}

	confirmation := &domain.OrderConfirmation{
		OrderID:           order.ID,
		TrackingNumber:    p.tracking.Next(),
		EstimatedDelivery: p.now().UTC().Add(domain.DeliveryWindow),
	}

	result = metrics.ResultConfirmed
	p.metrics.RecordOrderItems(len(order.Items))

	return confirmation, nil
}

type noopMetrics struct{}

func (noopMetrics) RecordStarted()                           {}
func (noopMetrics) RecordFinished(string, time.Duration)     {}
func (noopMetrics) RecordStepDuration(string, time.Duration) {}
func (noopMetrics) RecordOrderItems(int)                     {}

var _ MetricsRecorder = (*metrics.ProcessorMetrics)(nil)
