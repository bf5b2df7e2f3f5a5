package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orderproc/internal/domain"
)

const defaultPullLimit = 100

type outboxStatus string

const (
	outboxPending outboxStatus = "pending"
	outboxSent    outboxStatus = "sent"
	outboxFailed  outboxStatus = "failed"
)

const (
	insertOutboxQuery = `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, payload,
			status, attempt_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)`

	pullPendingQuery = `
		SELECT id, aggregate_type, aggregate_id, event_type, payload
		FROM outbox_messages
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT $2`

	pendingStatsQuery = `
		SELECT COUNT(*), MIN(created_at)
		FROM outbox_messages
		WHERE status = $1`

	// published_at заполняется только для отправленных событий.
	finishOutboxQuery = `
		UPDATE outbox_messages
		SET status = $2,
		    attempt_count = attempt_count + 1,
		    updated_at = $3,
		    published_at = CASE WHEN $2 = 'sent' THEN $3 ELSE published_at END
		WHERE id = $1 AND status = 'pending'`
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// OutboxRepository хранит события order.created до публикации в Kafka.
// Строки пишутся в транзакции OrderRepository.Save; worker только читает и закрывает их.
type OutboxRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewOutboxRepository создаёт outbox поверх того же подключения, что и заказы.
func NewOutboxRepository(store *Store) *OutboxRepository {
	return &OutboxRepository{db: store.DB(), now: time.Now}
}

// Enqueue добавляет событие вне транзакции заказа: нужен для повторной постановки и тестов.
func (r *OutboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	ctx, cancel := withTimeout(context.Background())
	defer cancel()

	return enqueueOutbox(ctx, r.db, msg, r.now())
}

func enqueueOutbox(ctx context.Context, db execer, msg domain.OutboxMessage, now time.Time) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	payload := msg.Payload
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}

	if _, err := db.ExecContext(ctx, insertOutboxQuery,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, payload,
		string(outboxPending), now.UTC(),
	); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue %s for %s: %w", msg.EventType, msg.AggregateID, err)
	}

	return msg, nil
}

// PullPending возвращает до limit ожидающих событий, старые первыми.
func (r *OutboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	ctx, cancel := withTimeout(context.Background())
	defer cancel()

	if limit <= 0 {
		limit = defaultPullLimit
	}

	rows, err := r.db.QueryContext(ctx, pullPendingQuery, string(outboxPending), limit)
	if err != nil {
		return nil, fmt.Errorf("pull pending outbox messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.OutboxMessage
	for rows.Next() {
		var msg domain.OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}

	return messages, nil
}

// Stats считает backlog для метрик и health-проверки.
func (r *OutboxRepository) Stats() (domain.OutboxStats, error) {
	ctx, cancel := withTimeout(context.Background())
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx, pendingStatsQuery, string(outboxPending)).Scan(&stats.PendingCount, &oldest); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}

	return stats, nil
}

func (r *OutboxRepository) MarkSent(id string) error {
	return r.finish(id, outboxSent)
}

func (r *OutboxRepository) MarkFailed(id string) error {
	return r.finish(id, outboxFailed)
}

// finish закрывает pending-событие. Уже закрытое или неизвестное событие даёт ErrOutboxPublish.
func (r *OutboxRepository) finish(id string, status outboxStatus) error {
	ctx, cancel := withTimeout(context.Background())
	defer cancel()

	res, err := r.db.ExecContext(ctx, finishOutboxQuery, id, string(status), r.now().UTC())
	if err != nil {
		return fmt.Errorf("mark outbox %s as %s: %w", id, status, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for outbox %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: outbox %s is not pending", domain.ErrOutboxPublish, id)
	}

	return nil
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
