package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/vladislavdragonenkov/orderproc/internal/domain"
	"github.com/vladislavdragonenkov/orderproc/internal/metrics"
	"github.com/vladislavdragonenkov/orderproc/internal/storage/memory"
)

func orderCreatedMessage(id, orderID string) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            id,
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   orderID,
		EventType:     domain.EventTypeOrderCreated,
		Payload:       []byte(`{"order_id":"` + orderID + `"}`),
	}
}

func TestWorker_ProcessOnce_MarkSent(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{orderCreatedMessage("msg-1", "order-1")}}
	publisher := &stubPublisher{}

	worker := NewWorker(repo, publisher, WithRetry(3, 0))

	if sent := worker.ProcessOnce(context.Background()); sent != 1 {
		t.Fatalf("expected 1 sent message, got %d", sent)
	}
	if got := repo.sent(); len(got) != 1 || got[0] != "msg-1" {
		t.Fatalf("unexpected sent marks: %v", got)
	}
	if got := repo.failed(); len(got) != 0 {
		t.Fatalf("expected 0 failed marks, got %v", got)
	}
	if got := publisher.calls(); got != 1 {
		t.Fatalf("expected 1 publish call, got %d", got)
	}
}

func TestWorker_ProcessOnce_MarkFailedAndDLQAfterRetries(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{orderCreatedMessage("msg-2", "order-2")}}
	publisher := &stubPublisher{err: errors.New("broker unavailable")}
	dlqPublisher := &stubPublisher{}
	recorder := &recordingMetrics{}

	worker := NewWorker(
		repo,
		publisher,
		WithDeadLetters(dlqPublisher),
		WithMetrics(recorder),
		WithRetry(3, 0),
	)

	if sent := worker.ProcessOnce(context.Background()); sent != 0 {
		t.Fatalf("expected 0 sent messages, got %d", sent)
	}
	if got := publisher.calls(); got != 3 {
		t.Fatalf("expected 3 publish attempts, got %d", got)
	}
	if got := repo.failed(); len(got) != 1 || got[0] != "msg-2" {
		t.Fatalf("unexpected failed marks: %v", got)
	}
	if got := dlqPublisher.calls(); got != 1 {
		t.Fatalf("expected 1 DLQ publish, got %d", got)
	}

	dead := dlqPublisher.last()
	if dead.EventType != DeadLetterEventType || dead.AggregateID != "order-2" {
		t.Fatalf("unexpected dlq message: %+v", dead)
	}
	var letter DeadLetter
	if err := json.Unmarshal(dead.Payload, &letter); err != nil {
		t.Fatalf("decode dead letter: %v", err)
	}
	if letter.OutboxID != "msg-2" || letter.AggregateID != "order-2" {
		t.Fatalf("unexpected dead letter: %+v", letter)
	}
	if !strings.Contains(letter.PublishError, "broker unavailable") || letter.EventType != domain.EventTypeOrderCreated {
		t.Fatalf("dead letter must keep original event and error: %+v", letter)
	}

	if got := recorder.count(metrics.OutboxResultRetryError); got != 3 {
		t.Fatalf("expected 3 retry errors, got %d", got)
	}
	if got := recorder.count(metrics.OutboxResultFailed); got != 1 {
		t.Fatalf("expected 1 failed result, got %d", got)
	}
	if got := recorder.count(metrics.OutboxResultDLQ); got != 1 {
		t.Fatalf("expected 1 dlq result, got %d", got)
	}
}

func TestWorker_ProcessOnce_SuccessAfterRetry(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{orderCreatedMessage("msg-3", "order-3")}}
	publisher := &stubPublisher{
		sequenceErrors: []error{errors.New("attempt 1"), errors.New("attempt 2"), nil},
	}

	worker := NewWorker(repo, publisher, WithRetry(3, 0))
	worker.ProcessOnce(context.Background())

	if got := publisher.calls(); got != 3 {
		t.Fatalf("expected 3 publish attempts, got %d", got)
	}
	if got := repo.sent(); len(got) != 1 {
		t.Fatalf("expected 1 sent mark, got %v", got)
	}
	if got := repo.failed(); len(got) != 0 {
		t.Fatalf("expected 0 failed marks, got %v", got)
	}
}

func TestWorker_ProcessOnce_CanceledDuringBackoffKeepsPending(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{orderCreatedMessage("msg-4", "order-4")}}
	ctx, cancel := context.WithCancel(context.Background())
	publisher := &stubPublisher{
		err:    errors.New("broker unavailable"),
		onCall: cancel,
	}

	worker := NewWorker(repo, publisher, WithRetry(3, time.Hour))
	worker.ProcessOnce(ctx)

	if got := publisher.calls(); got != 1 {
		t.Fatalf("expected single attempt before cancel, got %d", got)
	}
	if got := repo.failed(); len(got) != 0 {
		t.Fatalf("canceled publish must not mark failed, got %v", got)
	}
	if got := repo.sent(); len(got) != 0 {
		t.Fatalf("canceled publish must not mark sent, got %v", got)
	}
}

func TestWorker_ProcessOnce_PullErrorIsLogged(t *testing.T) {
	t.Parallel()

	logger, hook := logtest.NewNullLogger()
	repo := &stubOutboxRepo{pullErr: errors.New("db down")}

	worker := NewWorker(repo, &stubPublisher{}, WithLogger(log.NewEntry(logger)))
	if sent := worker.ProcessOnce(context.Background()); sent != 0 {
		t.Fatalf("expected 0 sent, got %d", sent)
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Message != "failed to pull pending outbox messages" {
		t.Fatalf("expected pull failure log, got %+v", entry)
	}
}

func TestWorker_BacklogMetricsUseClock(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	repo := &stubOutboxRepo{
		pending:       []domain.OutboxMessage{orderCreatedMessage("msg-5", "order-5")},
		oldestPending: now.Add(-30 * time.Second),
	}
	recorder := &recordingMetrics{}

	worker := NewWorker(repo, &stubPublisher{err: errors.New("down")},
		WithMetrics(recorder),
		WithClock(func() time.Time { return now }),
		WithRetry(1, 0),
	)
	worker.ProcessOnce(context.Background())

	if recorder.firstAge != 30*time.Second {
		t.Fatalf("expected oldest age 30s, got %s", recorder.firstAge)
	}
}

func TestWorker_RetryBackoff(t *testing.T) {
	t.Parallel()

	worker := NewWorker(nil, nil, WithRetry(0, 10*time.Millisecond))
	cases := map[int]time.Duration{
		1: 10 * time.Millisecond,
		2: 20 * time.Millisecond,
		3: 40 * time.Millisecond,
	}
	for attempt, want := range cases {
		if got := worker.retryBackoff(attempt); got != want {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, want, got)
		}
	}
	if got := worker.retryBackoff(64); got != maxRetryDelay {
		t.Fatalf("backoff must be capped at %s, got %s", maxRetryDelay, got)
	}

	if got := NewWorker(nil, nil, WithRetry(0, 0)).retryBackoff(5); got != 0 {
		t.Fatalf("zero base delay must disable backoff, got %s", got)
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{orderCreatedMessage("msg-6", "order-6")}}
	publisher := &stubPublisher{}
	worker := NewWorker(repo, publisher, WithPolling(5*time.Millisecond, 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for publisher.calls() == 0 {
		select {
		case <-deadline:
			t.Fatal("worker did not publish in time")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestWorker_RunDisabledWithoutPublisher(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	go func() {
		NewWorker(&stubOutboxRepo{}, nil).Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker without publisher must return immediately")
	}
}

// Полный путь: заказ сохраняется в in-memory хранилище, воркер публикует order.created.
func TestWorker_DeliversOrderCreatedFromMemoryStore(t *testing.T) {
	t.Parallel()

	outboxRepo := memory.NewOutboxRepository()
	orders := memory.NewOrderRepository(outboxRepo)
	order := domain.Order{
		ID:         "order-7",
		CustomerID: "customer-7",
		Items:      []domain.OrderItem{{ProductID: "product-1", Quantity: 3}},
		OrderDate:  time.Now().UTC(),
	}
	if err := orders.Save(context.Background(), order); err != nil {
		t.Fatalf("save order: %v", err)
	}

	publisher := &stubPublisher{}
	worker := NewWorker(outboxRepo, publisher,
		WithMetrics(metrics.NewOutboxMetricsWithRegisterer(prometheus.NewRegistry())),
	)

	if sent := worker.ProcessOnce(context.Background()); sent != 1 {
		t.Fatalf("expected 1 sent message, got %d", sent)
	}
	published := publisher.last()
	if published.AggregateID != order.ID || published.EventType != domain.EventTypeOrderCreated {
		t.Fatalf("unexpected published message: %+v", published)
	}

	var payload domain.OrderCreatedPayload
	if err := json.Unmarshal(published.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.CustomerID != order.CustomerID || payload.TotalQuantity != 3 {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	stats, err := outboxRepo.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PendingCount != 0 {
		t.Fatalf("expected empty backlog, got %d", stats.PendingCount)
	}
}

type stubOutboxRepo struct {
	mu            sync.Mutex
	pending       []domain.OutboxMessage
	oldestPending time.Time
	pullErr       error
	sentIDs       []string
	failedIDs     []string
}

func (s *stubOutboxRepo) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	return msg, nil
}

func (s *stubOutboxRepo) PullPending(limit int) ([]domain.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pullErr != nil {
		return nil, s.pullErr
	}
	if limit <= 0 || limit >= len(s.pending) {
		return append([]domain.OutboxMessage(nil), s.pending...), nil
	}
	return append([]domain.OutboxMessage(nil), s.pending[:limit]...), nil
}

func (s *stubOutboxRepo) Stats() (domain.OutboxStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := domain.OutboxStats{PendingCount: len(s.pending)}
	if len(s.pending) > 0 {
		stats.OldestPendingAt = s.oldestPending
		if stats.OldestPendingAt.IsZero() {
			stats.OldestPendingAt = time.Now().UTC().Add(-time.Second)
		}
	}
	return stats, nil
}

func (s *stubOutboxRepo) MarkSent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentIDs = append(s.sentIDs, id)
	return nil
}

func (s *stubOutboxRepo) MarkFailed(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedIDs = append(s.failedIDs, id)
	return nil
}

func (s *stubOutboxRepo) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sentIDs...)
}

func (s *stubOutboxRepo) failed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.failedIDs...)
}

type stubPublisher struct {
	mu             sync.Mutex
	err            error
	sequenceErrors []error
	onCall         func()
	callCount      int
	lastEvent      domain.OutboxMessage
}

func (s *stubPublisher) Publish(_ context.Context, event domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++
	s.lastEvent = event
	if s.onCall != nil {
		s.onCall()
	}
	if len(s.sequenceErrors) > 0 {
		err := s.sequenceErrors[0]
		s.sequenceErrors = s.sequenceErrors[1:]
		return err
	}

	return s.err
}

func (s *stubPublisher) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

func (s *stubPublisher) last() domain.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEvent
}

type recordingMetrics struct {
	mu       sync.Mutex
	results  map[string]int
	firstAge time.Duration
	backlogs int
}

func (r *recordingMetrics) RecordPublish(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.results == nil {
		r.results = make(map[string]int)
	}
	r.results[result]++
}

func (r *recordingMetrics) RecordBacklog(_ int, oldestAge time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.backlogs == 0 {
		r.firstAge = oldestAge
	}
	r.backlogs++
}

func (r *recordingMetrics) count(result string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.results[result]
}

func TestNewDeadLetter(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 5, 2, 8, 0, 0, 0, time.FixedZone("MSK", 3*3600))
	event := orderCreatedMessage("msg-8", "order-8")
	event.Payload = nil

	msg, err := NewDeadLetter(event, errors.New("timeout"), at)
	if err != nil {
		t.Fatalf("NewDeadLetter: %v", err)
	}
	if msg.ID != "msg-8" || msg.EventType != DeadLetterEventType {
		t.Fatalf("unexpected dlq message: %+v", msg)
	}

	var letter DeadLetter
	if err := json.Unmarshal(msg.Payload, &letter); err != nil {
		t.Fatalf("decode dead letter: %v", err)
	}
	if string(letter.Payload) != `{}` || letter.PublishError != "timeout" {
		t.Fatalf("unexpected dead letter: %+v", letter)
	}
	if !letter.DLQPublishedAt.Equal(at) || letter.DLQPublishedAt.Location() != time.UTC {
		t.Fatalf("dlq time must be UTC, got %s", letter.DLQPublishedAt)
	}
}

func TestWorker_DeadLetterPublishFailureIsCounted(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{orderCreatedMessage("msg-9", "order-9")}}
	recorder := &recordingMetrics{}
	worker := NewWorker(repo, &stubPublisher{err: errors.New("down")},
		WithDeadLetters(&stubPublisher{err: errors.New("dlq down")}),
		WithMetrics(recorder),
		WithRetry(1, 0),
	)

	worker.ProcessOnce(context.Background())

	if got := recorder.count(metrics.OutboxResultDLQFailed); got != 1 {
		t.Fatalf("expected 1 dlq_failed result, got %d", got)
	}
	if got := repo.failed(); len(got) != 1 {
		t.Fatalf("message must still be closed as failed, got %v", got)
	}
}

func TestNewWorker_Defaults(t *testing.T) {
	worker := NewWorker(nil, nil, WithLogger(nil), WithMetrics(nil), WithClock(nil), WithPolling(0, -1))

	if worker.logger == nil || worker.logger.Data["component"] != "outbox-worker" {
		t.Fatalf("expected default component logger, got %+v", worker.logger)
	}
	if _, ok := worker.metrics.(noopMetrics); !ok {
		t.Fatalf("expected noop metrics, got %T", worker.metrics)
	}
	if worker.now == nil {
		t.Fatal("expected default clock")
	}
	if worker.pollInterval != time.Second || worker.batchSize != 100 {
		t.Fatalf("unexpected polling defaults: %s / %d", worker.pollInterval, worker.batchSize)
	}
	if worker.maxAttempts != 3 || worker.retryDelay != 50*time.Millisecond {
		t.Fatalf("unexpected retry defaults: %d / %s", worker.maxAttempts, worker.retryDelay)
	}

	logger, _ := logtest.NewNullLogger()
	entry := logger.WithField("component", "custom")
	worker = NewWorker(nil, nil, WithLogger(entry), WithRetry(5, -time.Second))
	if worker.logger != entry {
		t.Fatal("expected custom logger")
	}
	if worker.maxAttempts != 5 || worker.retryDelay != 0 {
		t.Fatalf("unexpected retry settings: %d / %s", worker.maxAttempts, worker.retryDelay)
	}
}
