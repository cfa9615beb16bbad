package whatsapp

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Queue item states.
const (
	QueuePending = "pending"
	QueueSent    = "sent"
	QueueFailed  = "failed"
)

// maxDeliveryAttempts bounds retries; an item that keeps failing is parked
// as failed instead of being drained forever.
const maxDeliveryAttempts = 5

// QueueItem is one outbound message awaiting (re)delivery.
type QueueItem struct {
	ID        uuid.UUID  `json:"id"`
	To        string     `json:"to"`
	Body      string     `json:"body"`
	Status    string     `json:"status"`
	Attempts  int        `json:"attempts"`
	LastError string     `json:"last_error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
}

type queueQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// QueueStore persists outbound retry bookkeeping. It is a convenience, not
// a delivery guarantee: nothing drains it automatically.
type QueueStore struct {
	pool queueQuerier
}

func NewQueueStore(pool *pgxpool.Pool) *QueueStore {
	if pool == nil {
		panic("whatsapp: pgx pool required")
	}
	return &QueueStore{pool: pool}
}

func newQueueStoreWithQuerier(q queueQuerier) *QueueStore {
	if q == nil {
		panic("whatsapp: querier required")
	}
	return &QueueStore{pool: q}
}

// Enqueue records a pending outbound message and returns its id.
func (s *QueueStore) Enqueue(ctx context.Context, to, body, lastError string) (uuid.UUID, error) {
	id := uuid.New()
	query := `
		INSERT INTO outbound_queue (id, recipient, body, status, last_error)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := s.pool.Exec(ctx, query, id, to, body, QueuePending, lastError); err != nil {
		return uuid.Nil, fmt.Errorf("whatsapp: enqueue: %w", err)
	}
	return id, nil
}

// FetchPending returns pending items oldest-first.
func (s *QueueStore) FetchPending(ctx context.Context, limit int) ([]QueueItem, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, recipient, body, status, attempts, last_error, created_at, sent_at
		FROM outbound_queue
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: fetch pending: %w", err)
	}
	defer rows.Close()

	var out []QueueItem
	for rows.Next() {
		var item QueueItem
		if err := rows.Scan(&item.ID, &item.To, &item.Body, &item.Status, &item.Attempts, &item.LastError, &item.CreatedAt, &item.SentAt); err != nil {
			return nil, fmt.Errorf("whatsapp: scan queue item: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// MarkSent stamps an item as delivered.
func (s *QueueStore) MarkSent(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE outbound_queue SET status = 'sent', sent_at = now(), last_error = '' WHERE id = $1`
	if _, err := s.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("whatsapp: mark sent: %w", err)
	}
	return nil
}

// MarkFailed records the most recent delivery error. The item stays pending
// until it has burned maxDeliveryAttempts, then it is parked as failed.
func (s *QueueStore) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	query := `
		UPDATE outbound_queue
		SET attempts = attempts + 1,
		    last_error = $2,
		    status = CASE WHEN attempts + 1 >= $3 THEN 'failed' ELSE status END
		WHERE id = $1
	`
	if _, err := s.pool.Exec(ctx, query, id, lastError, maxDeliveryAttempts); err != nil {
		return fmt.Errorf("whatsapp: mark failed: %w", err)
	}
	return nil
}
