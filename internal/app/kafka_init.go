package app

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderproc/internal/messaging/kafka"
)

const kafkaClientID = "orderproc"

// connectKafka открывает producer для outbox. Без брокеров возвращает nil, nil:
// заказы принимаются, но события order.created никуда не публикуются.
func connectKafka(cfg Config, logger *log.Entry) (*kafka.Producer, error) {
	brokers := cfg.brokerList()
	if len(brokers) == 0 {
		logger.Debug("kafka brokers are not configured")
		return nil, nil
	}

	entry := logger.WithFields(log.Fields{
		"brokers": strings.Join(brokers, ","),
		"topic":   cfg.KafkaTopic,
	})
	producer, err := kafka.NewProducer(brokers, kafkaClientID, logger.WithField("component", "kafka-producer"))
	if err != nil {
		return nil, fmt.Errorf("kafka %s: %w", strings.Join(brokers, ","), err)
	}

	entry.Info("kafka producer connected")
	return producer, nil
}

func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("kafka producer closed with error")
		return
	}
	logger.Debug("kafka producer closed")
}
