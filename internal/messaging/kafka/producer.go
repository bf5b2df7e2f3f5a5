package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// Record — одно сообщение для Producer.Send. Value сериализуется в JSON.
type Record struct {
	Topic   string
	Key     string
	Value   any
	Headers map[string]string
}

// Producer отправляет записи через синхронный sarama producer и ждёт подтверждения брокера.
type Producer struct {
	sync   sarama.SyncProducer
	logger *log.Entry
	now    func() time.Time
}

// ClientConfig возвращает общую часть конфигурации для клиентов сервиса.
func ClientConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	if clientID != "" {
		cfg.ClientID = clientID
	}
	cfg.Consumer.Return.Errors = true
	return cfg
}

// ProducerConfig настраивает idempotent producer: одно событие order.created
// не должно задвоиться при повторах sarama.
func ProducerConfig(clientID string) *sarama.Config {
	cfg := ClientConfig(clientID)
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// NewProducer подключается к brokers с ProducerConfig.
func NewProducer(brokers []string, clientID string, logger *log.Entry) (*Producer, error) {
	sync, err := sarama.NewSyncProducer(brokers, ProducerConfig(clientID))
	if err != nil {
		return nil, fmt.Errorf("connect kafka producer: %w", err)
	}
	return NewProducerFromSync(sync, logger), nil
}

// NewProducerFromSync оборачивает готовый SyncProducer (в тестах это sarama mocks).
func NewProducerFromSync(sync sarama.SyncProducer, logger *log.Entry) *Producer {
	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}
	return &Producer{sync: sync, logger: logger, now: time.Now}
}

// Send отправляет запись. Уже отменённый ctx не доходит до брокера.
func (p *Producer) Send(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := p.buildMessage(rec)
	if err != nil {
		return err
	}

	entry := p.logger.WithFields(log.Fields{"topic": rec.Topic, "key": rec.Key})
	partition, offset, err := p.sync.SendMessage(msg)
	if err != nil {
		entry.WithError(err).Error("kafka rejected message")
		return fmt.Errorf("send to %s: %w", rec.Topic, err)
	}

	entry.WithFields(log.Fields{"partition": partition, "offset": offset}).Debug("kafka message acknowledged")
	return nil
}

func (p *Producer) buildMessage(rec Record) (*sarama.ProducerMessage, error) {
	value, err := json.Marshal(rec.Value)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", rec.Topic, err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     rec.Topic,
		Key:       sarama.StringEncoder(rec.Key),
		Value:     sarama.ByteEncoder(value),
		Timestamp: p.now(),
	}
	for _, name := range slices.Sorted(maps.Keys(rec.Headers)) {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(name), Value: []byte(rec.Headers[name])})
	}
	return msg, nil
}

func (p *Producer) Close() error {
	if p == nil || p.sync == nil {
		return nil
	}
	if err := p.sync.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
