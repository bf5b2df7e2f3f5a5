// Package outbox переносит события order.created из outbox-хранилища в брокер.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderproc/internal/domain"
	"github.com/vladislavdragonenkov/orderproc/internal/metrics"
)

// DeadLetterEventType задаёт тип события для записей DLQ.
const DeadLetterEventType = "outbox.dead_letter"

const (
	defaultPollInterval = time.Second
	defaultBatchSize    = 100
	defaultMaxAttempts  = 3
	defaultRetryDelay   = 50 * time.Millisecond
	maxRetryDelay       = 30 * time.Second
)

// Metrics реализуется metrics.OutboxMetrics.
type Metrics interface {
	RecordPublish(result string)
	RecordBacklog(pending int, oldestAge time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordPublish(string)             {}
func (noopMetrics) RecordBacklog(int, time.Duration) {}

var _ Metrics = (*metrics.OutboxMetrics)(nil)

type settings struct {
	logger       *log.Entry
	metrics      Metrics
	deadLetters  domain.OutboxPublisher
	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	retryDelay   time.Duration
	now          func() time.Time
}

// Option настраивает Worker.
type Option func(*settings)

// WithLogger задаёт логгер воркера. nil оставляет логгер с component=outbox-worker.
func WithLogger(logger *log.Entry) Option {
	return func(s *settings) { s.logger = logger }
}

// WithMetrics подключает метрики публикации и backlog; nil отключает их.
func WithMetrics(m Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

// WithDeadLetters включает DLQ: событие, не доставленное за все попытки,
// публикуется туда в виде DeadLetter.
func WithDeadLetters(publisher domain.OutboxPublisher) Option {
	return func(s *settings) { s.deadLetters = publisher }
}

// WithPolling задаёт период опроса и размер пачки. Неположительные значения оставляют умолчания.
func WithPolling(interval time.Duration, batchSize int) Option {
	return func(s *settings) {
		if interval > 0 {
			s.pollInterval = interval
		}
		if batchSize > 0 {
			s.batchSize = batchSize
		}
	}
}

// WithRetry задаёт число попыток и первую паузу; пауза удваивается до maxRetryDelay.
// baseDelay=0 отключает паузы.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(s *settings) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		s.retryDelay = max(baseDelay, 0)
	}
}

// WithClock подменяет часы для возраста backlog и отметки DLQ.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// Worker периодически забирает pending-события и публикует их.
// Событие закрывается как sent после подтверждения брокера и как failed,
// когда попытки исчерпаны. Отмена ctx оставляет событие pending.
type Worker struct {
	settings
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
}

// NewWorker создаёт воркер над repo и publisher. Без опций он опрашивает outbox
// раз в секунду пачками по 100 событий и делает до 3 попыток с паузой от 50ms.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, opts ...Option) *Worker {
	s := settings{
		metrics:      noopMetrics{},
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
		maxAttempts:  defaultMaxAttempts,
		retryDelay:   defaultRetryDelay,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "outbox-worker")
	}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	if s.now == nil {
		s.now = time.Now
	}

	return &Worker{settings: s, repo: repo, publisher: publisher}
}

// Run обрабатывает outbox сразу и затем каждые pollInterval, пока ctx не отменён.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker has nothing to do: no repository or publisher")
		return
	}

	w.logger.WithFields(log.Fields{
		"poll_interval": w.pollInterval.String(),
		"batch_size":    w.batchSize,
		"max_attempts":  w.maxAttempts,
		"dlq":           w.deadLetters != nil,
	}).Info("outbox worker started")
	defer w.logger.Info("outbox worker stopped")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type delivery int

const (
	delivered delivery = iota
	undeliverable
	interrupted
)

// ProcessOnce публикует одну пачку и возвращает число подтверждённых событий.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	w.reportBacklog()
	defer w.reportBacklog()

	batch, err := w.repo.PullPending(w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return 0
	}

	sent := 0
	for _, event := range batch {
		entry := w.logger.WithFields(log.Fields{
			"outbox_id":  event.ID,
			"order_id":   event.AggregateID,
			"event_type": event.EventType,
		})

		result, publishErr := w.deliver(ctx, event)
		switch result {
		case interrupted:
			return sent
		case undeliverable:
			entry.WithError(publishErr).Error("giving up on outbox message")
			w.metrics.RecordPublish(metrics.OutboxResultFailed)
			w.sendDeadLetter(ctx, entry, event, publishErr)
			if err := w.repo.MarkFailed(event.ID); err != nil {
				entry.WithError(err).Warn("failed to close outbox message as failed")
			}
		case delivered:
			if err := w.repo.MarkSent(event.ID); err != nil {
				entry.WithError(err).Warn("failed to close outbox message as sent")
				continue
			}
			sent++
		}
	}
	return sent
}

// deliver делает до maxAttempts попыток с растущей паузой между ними.
func (w *Worker) deliver(ctx context.Context, event domain.OutboxMessage) (delivery, error) {
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return interrupted, ctx.Err()
		}
		if attempt > 1 && !w.sleep(ctx, w.retryBackoff(attempt-1)) {
			return interrupted, ctx.Err()
		}

		if lastErr = w.publisher.Publish(ctx, event); lastErr == nil {
			w.metrics.RecordPublish(metrics.OutboxResultSent)
			return delivered, nil
		}
		w.metrics.RecordPublish(metrics.OutboxResultRetryError)
	}
	if ctx.Err() != nil {
		return interrupted, ctx.Err()
	}
	return undeliverable, fmt.Errorf("%w after %d attempts: %w", domain.ErrOutboxPublish, w.maxAttempts, lastErr)
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// retryBackoff возвращает паузу после attempt-й неудачи: retryDelay * 2^(attempt-1), не больше maxRetryDelay.
func (w *Worker) retryBackoff(attempt int) time.Duration {
	if w.retryDelay <= 0 || attempt < 1 {
		return 0
	}
	delay := w.retryDelay
	for i := 1; i < attempt && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, maxRetryDelay)
}

func (w *Worker) reportBacklog() {
	stats, err := w.repo.Stats()
	if err != nil {
		w.logger.WithError(err).Warn("failed to read outbox backlog")
		return
	}

	var age time.Duration
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = w.now().Sub(stats.OldestPendingAt)
	}
	w.metrics.RecordBacklog(stats.PendingCount, age)
}

// DeadLetter — payload записи DLQ. Хранит исходное событие целиком, чтобы его можно было переиграть.
type DeadLetter struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt time.Time       `json:"dlq_published_at"`
}

// NewDeadLetter заворачивает событие и ошибку публикации в outbox-сообщение для DLQ.
func NewDeadLetter(event domain.OutboxMessage, publishErr error, at time.Time) (domain.OutboxMessage, error) {
	letter := DeadLetter{
		OutboxID:       event.ID,
		AggregateType:  event.AggregateType,
		AggregateID:    event.AggregateID,
		EventType:      event.EventType,
		Payload:        json.RawMessage(`{}`),
		DLQPublishedAt: at.UTC(),
	}
	if len(event.Payload) > 0 {
		letter.Payload = json.RawMessage(event.Payload)
	}
	if publishErr != nil {
		letter.PublishError = publishErr.Error()
	}

	body, err := json.Marshal(letter)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("encode dead letter for %s: %w", event.ID, err)
	}
	return domain.OutboxMessage{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     DeadLetterEventType,
		Payload:       body,
	}, nil
}

func (w *Worker) sendDeadLetter(ctx context.Context, entry *log.Entry, event domain.OutboxMessage, publishErr error) {
	if w.deadLetters == nil {
		return
	}

	letter, err := NewDeadLetter(event, publishErr, w.now())
	if err == nil {
		err = w.deadLetters.Publish(ctx, letter)
	}
	if err != nil {
		entry.WithError(err).Warn("dead letter was not published")
		w.metrics.RecordPublish(metrics.OutboxResultDLQFailed)
		return
	}
	w.metrics.RecordPublish(metrics.OutboxResultDLQ)
}
