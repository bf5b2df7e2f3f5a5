// Command dlq-reprocess переигрывает события order.created из DLQ обратно в topic заказов.
// По умолчанию работает в dry-run и только печатает кандидатов.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderproc/internal/domain"
	"github.com/vladislavdragonenkov/orderproc/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orderproc/internal/service/outbox"
)

const (
	clientID           = "orderproc-dlq-reprocess"
	envKafkaBrokers    = "KAFKA_BROKERS"
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

var (
	errNotDeadLetter   = errors.New("record is not an outbox dead letter")
	errPayloadMismatch = errors.New("order.created payload does not match its order")
)

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	orderID     string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

type offsetClient interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

// saramaConsumer сужает sarama.PartitionConsumer до partitionConsumer.
type saramaConsumer struct {
	sarama.Consumer
}

func (c saramaConsumer) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	return c.Consumer.ConsumePartition(topic, partition, offset)
}

// replayStats считает записи DLQ. В dry-run ничего не публикуется,
// подходящие записи попадают в candidates, а не в replayed.
type replayStats struct {
	scanned    int
	replayed   int
	candidates int
	skipped    int
	filtered   int
}

func (s *replayStats) add(other replayStats) {
	s.scanned += other.scanned
	s.replayed += other.replayed
	s.candidates += other.candidates
	s.skipped += other.skipped
	s.filtered += other.filtered
}

// replayer читает DLQ по партициям от старых записей к новым (или только хвост
// при fromNewest) и публикует восстановленные события через publisher.
// publisher равен nil в dry-run.
type replayer struct {
	cfg       config
	offsets   offsetClient
	consumer  partitionConsumerSource
	publisher domain.OutboxPublisher
	logger    *log.Entry
	closeFn   func() error
}

func (r *replayer) Close() {
	if r.closeFn != nil {
		_ = r.closeFn()
	}
	if r.consumer != nil {
		_ = r.consumer.Close()
	}
	if r.offsets != nil {
		_ = r.offsets.Close()
	}
}

var newReplayer = func(cfg config) (*replayer, error) {
	client, err := sarama.NewClient(cfg.brokers, kafka.ClientConfig(clientID))
	if err != nil {
		return nil, fmt.Errorf("connect kafka: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("create dlq consumer: %w", err)
	}

	r := &replayer{
		cfg:      cfg,
		offsets:  client,
		consumer: saramaConsumer{consumer},
		logger:   log.WithField("component", "dlq-reprocess"),
	}
	if !cfg.execute {
		return r, nil
	}

	producer, err := kafka.NewProducer(cfg.brokers, clientID, r.logger)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("create replay producer: %w", err)
	}
	r.publisher = kafka.NewOutboxPublisher(producer, cfg.targetTopic)
	r.closeFn = producer.Close
	return r, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fail("load .env: %v", err)
	}

	cfg, err := readConfig()
	if err != nil {
		fail("%v", err)
	}
	if err := run(context.Background(), cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readConfig() (config, error) {
	var (
		cfg     config
		brokers string
	)
	flag.StringVar(&brokers, "brokers", "", "comma-separated Kafka brokers (fallback: "+envKafkaBrokers+")")
	flag.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ topic to read")
	flag.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicOrderEvents, "topic to replay order events into")
	flag.StringVar(&cfg.orderID, "order-id", "", "replay only dead letters of this order")
	flag.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max DLQ records to scan")
	flag.BoolVar(&cfg.execute, "execute", false, "publish events; without it only candidates are logged")
	flag.BoolVar(&cfg.fromNewest, "from-newest", false, "scan only the newest records of every partition")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this long without records")
	flag.Parse()

	if strings.TrimSpace(brokers) == "" {
		brokers = os.Getenv(envKafkaBrokers)
	}
	cfg.brokers = parseBrokers(brokers)
	cfg.orderID = strings.TrimSpace(cfg.orderID)

	switch {
	case len(cfg.brokers) == 0:
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or %s)", envKafkaBrokers)
	case strings.TrimSpace(cfg.sourceTopic) == "":
		return config{}, errors.New("source-topic is required")
	case strings.TrimSpace(cfg.targetTopic) == "":
		return config{}, errors.New("target-topic is required")
	case cfg.limit <= 0:
		return config{}, errors.New("limit must be > 0")
	case cfg.idleTimeout <= 0:
		return config{}, errors.New("idle-timeout must be > 0")
	}
	return cfg, nil
}

func parseBrokers(raw string) []string {
	var brokers []string
	for _, part := range strings.Split(raw, ",") {
		if broker := strings.TrimSpace(part); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func run(ctx context.Context, cfg config) error {
	r, err := newReplayer(cfg)
	if err != nil {
		return err
	}
	defer r.Close()

	_, err = r.Run(ctx)
	return err
}

// Run обходит партиции по возрастанию номера, пока не просканирует cfg.limit записей.
func (r *replayer) Run(ctx context.Context) (replayStats, error) {
	var total replayStats
	if r.offsets == nil || r.consumer == nil {
		return total, errors.New("kafka client and consumer are required")
	}
	if r.cfg.execute && r.publisher == nil {
		return total, errors.New("publisher is required in execute mode")
	}

	r.logger.WithFields(log.Fields{
		"source_topic": r.cfg.sourceTopic,
		"target_topic": r.cfg.targetTopic,
		"order_id":     r.cfg.orderID,
		"limit":        r.cfg.limit,
		"execute":      r.cfg.execute,
	}).Info("dlq replay started")

	partitions, err := r.offsets.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("partitions of %s: %w", r.cfg.sourceTopic, err)
	}
	slices.Sort(partitions)

	for _, partition := range partitions {
		budget := r.cfg.limit - total.scanned
		if budget <= 0 {
			break
		}
		stats, err := r.drain(ctx, partition, budget)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}

	r.logger.WithFields(log.Fields{
		"execute":    r.cfg.execute,
		"scanned":    total.scanned,
		"replayed":   total.replayed,
		"candidates": total.candidates,
		"skipped":    total.skipped,
		"filtered":   total.filtered,
	}).Info("dlq replay finished")
	return total, nil
}

// window возвращает [start, end) для чтения партиции; start == end значит читать нечего.
func (r *replayer) window(partition int32, budget int) (int64, int64, error) {
	oldest, err := r.offsets.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	end, err := r.offsets.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	if end <= oldest {
		return end, end, nil
	}
	if r.cfg.fromNewest {
		return max(end-int64(budget), oldest), end, nil
	}
	return oldest, end, nil
}

func (r *replayer) drain(ctx context.Context, partition int32, budget int) (replayStats, error) {
	var stats replayStats

	start, end, err := r.window(partition, budget)
	if err != nil || start == end {
		return stats, err
	}

	pc, err := r.consumer.ConsumePartition(r.cfg.sourceTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	for stats.scanned < budget {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			return stats, nil
		case cerr := <-pc.Errors():
			if cerr != nil {
				return stats, fmt.Errorf("partition %d: %w", partition, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= end {
				return stats, nil
			}
			idle.Reset(r.cfg.idleTimeout)
			stats.scanned++

			if err := r.handle(ctx, msg, &stats); err != nil {
				return stats, err
			}
			if msg.Offset+1 >= end {
				return stats, nil
			}
		}
	}
	return stats, nil
}

// handle разбирает одну запись. Ошибкой завершается только сбой публикации;
// нечитаемые записи пропускаются.
func (r *replayer) handle(ctx context.Context, msg *sarama.ConsumerMessage, stats *replayStats) error {
	entry := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	event, err := decodeDeadLetter(msg.Value)
	if err != nil {
		stats.skipped++
		entry.WithError(err).Warn("skipping dlq record")
		return nil
	}
	if r.cfg.orderID != "" && event.AggregateID != r.cfg.orderID {
		stats.filtered++
		return nil
	}

	entry = entry.WithFields(log.Fields{"outbox_id": event.ID, "order_id": event.AggregateID})
	if !r.cfg.execute {
		stats.candidates++
		entry.WithField("target_topic", r.cfg.targetTopic).Info("dlq replay candidate")
		return nil
	}
	if err := r.publisher.Publish(ctx, event); err != nil {
		return fmt.Errorf("replay %s: %w", event.ID, err)
	}
	stats.replayed++
	entry.Debug("event replayed")
	return nil
}

// decodeDeadLetter достаёт исходное событие из записи DLQ: Envelope с типом
// outbox.DeadLetterEventType, в payload которого лежит outbox.DeadLetter.
func decodeDeadLetter(value []byte) (domain.OutboxMessage, error) {
	var envelope kafka.Envelope
	if err := json.Unmarshal(value, &envelope); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.EventType != outbox.DeadLetterEventType {
		return domain.OutboxMessage{}, fmt.Errorf("%w: event type %q", errNotDeadLetter, envelope.EventType)
	}

	var dead outbox.DeadLetter
	if err := json.Unmarshal(envelope.Payload, &dead); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("decode dead letter: %w", err)
	}
	if dead.OutboxID == "" || dead.AggregateID == "" || dead.EventType == "" {
		return domain.OutboxMessage{}, fmt.Errorf("%w: identifiers are missing", errNotDeadLetter)
	}
	if len(dead.Payload) == 0 {
		return domain.OutboxMessage{}, fmt.Errorf("dead letter %s has no original payload", dead.OutboxID)
	}

	if dead.EventType == domain.EventTypeOrderCreated {
		var payload domain.OrderCreatedPayload
		if err := json.Unmarshal(dead.Payload, &payload); err != nil {
			return domain.OutboxMessage{}, fmt.Errorf("decode order.created payload: %w", err)
		}
		if payload.OrderID != dead.AggregateID {
			return domain.OutboxMessage{}, fmt.Errorf("%w: %q vs %q", errPayloadMismatch, payload.OrderID, dead.AggregateID)
		}
	}

	return domain.OutboxMessage{
		ID:            dead.OutboxID,
		AggregateType: dead.AggregateType,
		AggregateID:   dead.AggregateID,
		EventType:     dead.EventType,
		Payload:       dead.Payload,
	}, nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
