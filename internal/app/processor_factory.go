package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderproc/internal/domain"
	"github.com/vladislavdragonenkov/orderproc/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orderproc/internal/metrics"
	"github.com/vladislavdragonenkov/orderproc/internal/service/outbox"
	"github.com/vladislavdragonenkov/orderproc/internal/service/processor"
	"github.com/vladislavdragonenkov/orderproc/internal/service/validation"
)

// createProcessor собирает процессор заказов со структурной валидацией и метриками.
func createProcessor(store domain.OrderStore, recorder processor.MetricsRecorder, logger *log.Entry) *processor.Processor {
	return processor.New(
		validation.NewBasic(logger.WithField("component", "validator")),
		store,
		processor.WithLogger(logger.WithField("component", "processor")),
		processor.WithMetrics(recorder),
	)
}

// createOutboxWorker возвращает worker, публикующий outbox в Kafka, или nil,
// если публиковать некуда.
func createOutboxWorker(
	cfg Config,
	outboxRepo domain.OutboxRepository,
	producer *kafka.Producer,
	workerMetrics outbox.Metrics,
	logger *log.Entry,
) *outbox.Worker {
	if outboxRepo == nil || producer == nil {
		return nil
	}

	options := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithMetrics(workerMetrics),
		outbox.WithPolling(cfg.OutboxPollInterval, cfg.OutboxBatchSize),
		outbox.WithRetry(cfg.OutboxMaxAttempts, cfg.OutboxRetryDelay),
	}
	if cfg.KafkaDLQTopic != "" {
		dlq := kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic, kafka.WithOriginalTopic(cfg.KafkaTopic))
		options = append(options, outbox.WithDeadLetters(dlq))
	}

	return outbox.NewWorker(outboxRepo, kafka.NewOutboxPublisher(producer, cfg.KafkaTopic), options...)
}

var _ processor.MetricsRecorder = (*metrics.ProcessorMetrics)(nil)
