// Package audit keeps an append-only record of every raw inbound HTTP
// delivery, plus synthetic entries for messages the system sends, so the
// full exchange history can be inspected later.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Direction distinguishes received deliveries from synthetic entries
// written after an outbound send.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Entry is one audit row. Entries are append-only and never mutated.
type Entry struct {
	ID          uuid.UUID       `json:"id"`
	Method      string          `json:"method"`
	Path        string          `json:"path"`
	Headers     json.RawMessage `json:"headers,omitempty"`
	Query       json.RawMessage `json:"query,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
	RawBody     string          `json:"raw_body,omitempty"`
	IP          string          `json:"ip,omitempty"`
	UserAgent   string          `json:"user_agent,omitempty"`
	IsCallEvent bool            `json:"is_call_event"`
	CallID      string          `json:"call_id,omitempty"`
	EventType   string          `json:"event_type,omitempty"`
	PhoneNumber string          `json:"phone_number,omitempty"`
	Direction   string          `json:"direction"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Filter narrows List results.
type Filter struct {
	CallOnly bool
	Path     string
	Limit    int
	Offset   int
}

// Querier matches both pgxpool.Pool and pgxmock.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists audit entries in Postgres.
type Store struct {
	pool Querier
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("audit: pgx pool required")
	}
	return &Store{pool: pool}
}

func newStoreWithQuerier(q Querier) *Store {
	if q == nil {
		panic("audit: querier required")
	}
	return &Store{pool: q}
}

// Append writes one entry and returns its id. Entries default to inbound.
func (s *Store) Append(ctx context.Context, entry Entry) (uuid.UUID, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Direction == "" {
		entry.Direction = DirectionInbound
	}
	query := `
		INSERT INTO webhook_requests (
			id, method, path, headers, query, body, raw_body, ip_address,
			user_agent, is_call_event, call_id, event_type, phone_number, direction
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`
	_, err := s.pool.Exec(ctx, query,
		entry.ID, entry.Method, entry.Path, entry.Headers, entry.Query, entry.Body,
		entry.RawBody, entry.IP, entry.UserAgent, entry.IsCallEvent,
		entry.CallID, entry.EventType, entry.PhoneNumber, entry.Direction,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("audit: append entry: %w", err)
	}
	return entry.ID, nil
}

// List returns entries newest-first.
func (s *Store) List(ctx context.Context, filter Filter) ([]Entry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, method, path, headers, query, body, raw_body, ip_address,
		       user_agent, is_call_event, call_id, event_type, phone_number,
		       direction, created_at
		FROM webhook_requests
		WHERE ($1::bool = false OR is_call_event)
		  AND ($2::text = '' OR path = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := s.pool.Query(ctx, query, filter.CallOnly, filter.Path, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("audit: list entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.ID, &e.Method, &e.Path, &e.Headers, &e.Query, &e.Body, &e.RawBody,
			&e.IP, &e.UserAgent, &e.IsCallEvent, &e.CallID, &e.EventType,
			&e.PhoneNumber, &e.Direction, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
