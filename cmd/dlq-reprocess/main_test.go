package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderproc/internal/domain"
	"github.com/vladislavdragonenkov/orderproc/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orderproc/internal/service/outbox"
)

func TestParseBrokers(t *testing.T) {
	require.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, parseBrokers(" broker-1:9092, ,broker-2:9092 "))
	require.Empty(t, parseBrokers(" , "))
}

func TestDecodeDeadLetter(t *testing.T) {
	event, err := decodeDeadLetter(deadLetterRecord(t, 0, "outbox-1", "order-1").Value)
	require.NoError(t, err)
	require.Equal(t, "outbox-1", event.ID)
	require.Equal(t, "order-1", event.AggregateID)
	require.Equal(t, domain.EventTypeOrderCreated, event.EventType)
	require.Equal(t, domain.AggregateTypeOrder, event.AggregateType)

	var payload domain.OrderCreatedPayload
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	require.Equal(t, "order-1", payload.OrderID)
	require.Equal(t, int64(2), payload.TotalQuantity)
}

func TestDecodeDeadLetter_Rejects(t *testing.T) {
	envelopeOf := func(eventType string, payload string) []byte {
		value, err := json.Marshal(kafka.Envelope{ID: "outbox-1", EventType: eventType, Payload: json.RawMessage(payload)})
		require.NoError(t, err)
		return value
	}

	cases := map[string]struct {
		value []byte
		want  error
	}{
		"not json":                {value: []byte("garbage")},
		"regular order event":     {value: envelopeOf(domain.EventTypeOrderCreated, `{"order_id":"order-1"}`), want: errNotDeadLetter},
		"dead letter without ids": {value: envelopeOf(outbox.DeadLetterEventType, `{"publish_error":"timeout"}`), want: errNotDeadLetter},
		"dead letter without payload": {value: envelopeOf(outbox.DeadLetterEventType,
			`{"outbox_id":"outbox-1","aggregate_id":"order-1","event_type":"order.created"}`)},
		"payload of another order": {value: envelopeOf(outbox.DeadLetterEventType,
			`{"outbox_id":"outbox-1","aggregate_id":"order-1","event_type":"order.created","payload":{"order_id":"order-2"}}`), want: errPayloadMismatch},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := decodeDeadLetter(tc.value)
			require.Error(t, err)
			if tc.want != nil {
				require.ErrorIs(t, err, tc.want)
			}
		})
	}
}

func TestReadConfig_FromFlags(t *testing.T) {
	withFlagArgs(t, []string{
		"-brokers=broker-1:9092,broker-2:9092",
		"-source-topic=orderproc.dlq",
		"-target-topic=orderproc.order.events",
		"-order-id= order-42 ",
		"-limit=10",
		"-execute=true",
		"-from-newest=true",
		"-idle-timeout=3s",
	}, func() {
		cfg, err := readConfig()
		require.NoError(t, err)
		require.Len(t, cfg.brokers, 2)
		require.Equal(t, "order-42", cfg.orderID)
		require.Equal(t, 10, cfg.limit)
		require.True(t, cfg.execute)
		require.True(t, cfg.fromNewest)
		require.Equal(t, 3*time.Second, cfg.idleTimeout)
	})
}

func TestReadConfig_ValidationErrors(t *testing.T) {
	t.Setenv(envKafkaBrokers, "")

	cases := []struct {
		args []string
		want string
	}{
		{args: []string{"-brokers="}, want: "kafka brokers are required"},
		{args: []string{"-brokers=broker:9092", "-source-topic="}, want: "source-topic is required"},
		{args: []string{"-brokers=broker:9092", "-target-topic= "}, want: "target-topic is required"},
		{args: []string{"-brokers=broker:9092", "-limit=0"}, want: "limit must be > 0"},
		{args: []string{"-brokers=broker:9092", "-idle-timeout=0s"}, want: "idle-timeout must be > 0"},
	}

	for _, tc := range cases {
		withFlagArgs(t, tc.args, func() {
			_, err := readConfig()
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func TestReadConfig_BrokersFromEnv(t *testing.T) {
	t.Setenv(envKafkaBrokers, "env-broker:9092")

	withFlagArgs(t, nil, func() {
		cfg, err := readConfig()
		require.NoError(t, err)
		require.Equal(t, []string{"env-broker:9092"}, cfg.brokers)
		require.Equal(t, kafka.TopicDeadLetterQueue, cfg.sourceTopic)
		require.Equal(t, kafka.TopicOrderEvents, cfg.targetTopic)
		require.False(t, cfg.execute)
	})
}

func TestReplayer_DryRunCountsCandidates(t *testing.T) {
	r := testReplayer(false,
		&stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}},
		&stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer(deadLetterRecord(t, 0, "outbox-1", "order-1"), &sarama.ConsumerMessage{Offset: 1, Value: []byte("garbage")}),
		}},
	)

	logger, hook := logtest.NewNullLogger()
	r.logger = logger.WithField("component", "dlq-reprocess")

	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, replayStats{scanned: 2, candidates: 1, skipped: 1}, stats)

	summary := hook.LastEntry()
	require.NotNil(t, summary)
	require.Equal(t, "dlq replay finished", summary.Message)
	require.Equal(t, 0, summary.Data["replayed"])
	require.Equal(t, 1, summary.Data["candidates"])
}

func TestReplayer_ExecutePublishesOriginalEvent(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := kafka.NewProducerFromSync(mockProducer, log.WithField("test", "dlq-reprocess"))
	t.Cleanup(func() { _ = producer.Close() })

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != kafka.TopicOrderEvents {
			return fmt.Errorf("replay must go to %s, got %s", kafka.TopicOrderEvents, msg.Topic)
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var envelope kafka.Envelope
		if err := json.Unmarshal(value, &envelope); err != nil {
			return err
		}
		if envelope.ID != "outbox-1" || envelope.AggregateID != "order-1" || envelope.EventType != domain.EventTypeOrderCreated {
			return fmt.Errorf("unexpected envelope: %+v", envelope)
		}
		return nil
	})

	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer(deadLetterRecord(t, 5, "outbox-1", "order-1")),
	}}
	r := testReplayer(true, &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 5, newest: 6}}}, consumer)
	r.publisher = kafka.NewOutboxPublisher(producer, kafka.TopicOrderEvents)

	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, replayStats{scanned: 1, replayed: 1}, stats)
	require.Equal(t, []consumeCall{{partition: 0, offset: 5}}, consumer.calls)
}

func TestReplayer_OrderFilter(t *testing.T) {
	publisher := &recordingPublisher{}
	r := testReplayer(true,
		&stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 3}}},
		&stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer(
				deadLetterRecord(t, 0, "outbox-1", "order-1"),
				deadLetterRecord(t, 1, "outbox-2", "order-2"),
				deadLetterRecord(t, 2, "outbox-3", "order-1"),
			),
		}},
	)
	r.cfg.orderID = "order-1"
	r.publisher = publisher

	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, replayStats{scanned: 3, replayed: 2, filtered: 1}, stats)
	require.Equal(t, []string{"outbox-1", "outbox-3"}, publisher.ids)
}

func TestReplayer_WindowFromNewest(t *testing.T) {
	r := testReplayer(false, &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 10, newest: 100}, 1: {oldest: 98, newest: 100}}}, nil)
	r.cfg.fromNewest = true

	start, end, err := r.window(0, 5)
	require.NoError(t, err)
	require.Equal(t, int64(95), start)
	require.Equal(t, int64(100), end)

	start, _, err = r.window(1, 5)
	require.NoError(t, err)
	require.Equal(t, int64(98), start, "window must not start before the oldest offset")

	r.cfg.fromNewest = false
	start, _, err = r.window(0, 5)
	require.NoError(t, err)
	require.Equal(t, int64(10), start)
}

func TestReplayer_Errors(t *testing.T) {
	offsets := func() *stubOffsetClient {
		return &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 1}}}
	}

	t.Run("offset lookup", func(t *testing.T) {
		r := testReplayer(false, &stubOffsetClient{partitions: []int32{0}, offsetErr: map[int32]error{0: errors.New("offset failed")}}, &stubPartitionConsumerSource{})
		_, err := r.Run(context.Background())
		require.ErrorContains(t, err, "offset failed")
	})

	t.Run("consume", func(t *testing.T) {
		r := testReplayer(false, offsets(), &stubPartitionConsumerSource{consumeErr: errors.New("consume failed")})
		_, err := r.Run(context.Background())
		require.ErrorContains(t, err, "consume failed")
	})

	t.Run("publish", func(t *testing.T) {
		r := testReplayer(true, offsets(), &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer(deadLetterRecord(t, 0, "outbox-1", "order-1")),
		}})
		r.publisher = &recordingPublisher{err: errors.New("broker down")}
		_, err := r.Run(context.Background())
		require.ErrorContains(t, err, "broker down")
	})

	t.Run("empty partition is skipped", func(t *testing.T) {
		consumer := &stubPartitionConsumerSource{}
		r := testReplayer(false, &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 3, newest: 3}}}, consumer)
		stats, err := r.Run(context.Background())
		require.NoError(t, err)
		require.Zero(t, stats.scanned)
		require.Empty(t, consumer.calls)
	})

	t.Run("missing dependencies", func(t *testing.T) {
		_, err := (&replayer{cfg: testConfig(false), logger: testLogger()}).Run(context.Background())
		require.Error(t, err)

		r := testReplayer(true, offsets(), &stubPartitionConsumerSource{})
		_, err = r.Run(context.Background())
		require.ErrorContains(t, err, "publisher is required")
	})
}

func TestReplayer_IdleTimeoutAndCancel(t *testing.T) {
	open := &stubPartitionConsumer{messages: make(chan *sarama.ConsumerMessage)}
	r := testReplayer(false,
		&stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 10}}},
		&stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: open}},
	)
	r.cfg.idleTimeout = 20 * time.Millisecond

	_, err := r.drain(context.Background(), 0, 5)
	require.NoError(t, err, "idle partition must end without error")
	require.True(t, open.closed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.cfg.idleTimeout = time.Minute
	_, err = r.drain(ctx, 0, 5)
	require.ErrorIs(t, err, context.Canceled)
}

func TestReplayer_LimitSpansPartitionsInOrder(t *testing.T) {
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer(deadLetterRecord(t, 0, "outbox-1", "order-1")),
		1: closedPartitionConsumer(deadLetterRecord(t, 0, "outbox-2", "order-2")),
	}}
	r := testReplayer(false, &stubOffsetClient{
		partitions: []int32{1, 0},
		offsets:    map[int32]offsetRange{0: {oldest: 0, newest: 1}, 1: {oldest: 0, newest: 1}},
	}, consumer)
	r.cfg.limit = 1

	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.scanned)
	require.Equal(t, []consumeCall{{partition: 0, offset: 0}}, consumer.calls)
}

func TestRun_ClosesReplayer(t *testing.T) {
	client := &stubOffsetClient{}
	consumer := &stubPartitionConsumerSource{}

	prev := newReplayer
	t.Cleanup(func() { newReplayer = prev })
	newReplayer = func(cfg config) (*replayer, error) {
		return testReplayer(cfg.execute, client, consumer), nil
	}

	require.NoError(t, run(context.Background(), testConfig(false)))
	require.True(t, client.closed)
	require.True(t, consumer.closed)

	newReplayer = func(config) (*replayer, error) { return nil, errors.New("kafka unavailable") }
	require.Error(t, run(context.Background(), testConfig(false)))
}

func TestFailExits(t *testing.T) {
	if os.Getenv("DLQ_TEST_FAIL_EXIT") == "1" {
		fail("forced failure %d", 42)
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "DLQ_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	require.NotZero(t, exitErr.ExitCode())
}

func testLogger() *log.Entry {
	return log.WithField("test", "dlq-reprocess")
}

func testConfig(execute bool) config {
	return config{
		brokers:     []string{"broker:9092"},
		sourceTopic: kafka.TopicDeadLetterQueue,
		targetTopic: kafka.TopicOrderEvents,
		limit:       10,
		execute:     execute,
		idleTimeout: time.Second,
	}
}

func testReplayer(execute bool, offsets offsetClient, consumer partitionConsumerSource) *replayer {
	return &replayer{cfg: testConfig(execute), offsets: offsets, consumer: consumer, logger: testLogger()}
}

// deadLetterRecord собирает запись DLQ так же, как её пишет outbox worker.
func deadLetterRecord(t *testing.T, offset int64, outboxID, orderID string) *sarama.ConsumerMessage {
	t.Helper()

	order := domain.Order{
		ID:         orderID,
		CustomerID: "customer-1",
		Items:      []domain.OrderItem{{ProductID: "product-1", Quantity: 2}},
		OrderDate:  time.Now().UTC(),
	}
	event, err := domain.NewOrderCreatedMessage(order)
	require.NoError(t, err)
	event.ID = outboxID

	letter, err := outbox.NewDeadLetter(event, errors.New("kafka timeout"), time.Now())
	require.NoError(t, err)

	value, err := json.Marshal(kafka.NewEnvelope(letter, time.Now()))
	require.NoError(t, err)

	return &sarama.ConsumerMessage{Offset: offset, Value: value}
}

func withFlagArgs(t *testing.T, args []string, fn func()) {
	t.Helper()

	oldArgs, oldCommandLine := os.Args, flag.CommandLine
	defer func() {
		os.Args, flag.CommandLine = oldArgs, oldCommandLine
	}()

	os.Args = append([]string{"dlq-reprocess"}, args...)
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fn()
}

type recordingPublisher struct {
	err error
	ids []string
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.OutboxMessage) error {
	if p.err != nil {
		return p.err
	}
	p.ids = append(p.ids, event.ID)
	return nil
}

type offsetRange struct {
	oldest int64
	newest int64
}

type stubOffsetClient struct {
	partitions []int32
	offsets    map[int32]offsetRange
	offsetErr  map[int32]error
	closed     bool
}

func (s *stubOffsetClient) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if err, ok := s.offsetErr[partition]; ok {
		return 0, err
	}
	r := s.offsets[partition]
	switch marker {
	case sarama.OffsetOldest:
		return r.oldest, nil
	case sarama.OffsetNewest:
		return r.newest, nil
	default:
		return 0, fmt.Errorf("unsupported marker %d", marker)
	}
}

func (s *stubOffsetClient) Partitions(string) ([]int32, error) {
	return append([]int32(nil), s.partitions...), nil
}

func (s *stubOffsetClient) Close() error {
	s.closed = true
	return nil
}

type consumeCall struct {
	partition int32
	offset    int64
}

type stubPartitionConsumerSource struct {
	consumers  map[int32]partitionConsumer
	consumeErr error
	calls      []consumeCall
	closed     bool
}

func (s *stubPartitionConsumerSource) ConsumePartition(_ string, partition int32, offset int64) (partitionConsumer, error) {
	s.calls = append(s.calls, consumeCall{partition: partition, offset: offset})
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	pc, ok := s.consumers[partition]
	if !ok {
		return nil, fmt.Errorf("partition %d not configured", partition)
	}
	return pc, nil
}

func (s *stubPartitionConsumerSource) Close() error {
	s.closed = true
	return nil
}

type stubPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	closed   bool
}

func (s *stubPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *stubPartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return nil }
func (s *stubPartitionConsumer) Close() error {
	s.closed = true
	return nil
}

func closedPartitionConsumer(messages ...*sarama.ConsumerMessage) *stubPartitionConsumer {
	ch := make(chan *sarama.ConsumerMessage, len(messages))
	for _, msg := range messages {
		ch <- msg
	}
	close(ch)
	return &stubPartitionConsumer{messages: ch}
}
