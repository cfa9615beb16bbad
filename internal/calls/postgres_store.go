package calls

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/enercall/webhook-relay/internal/phone"
)

// Querier is the subset of pgxpool.Pool the store needs; it also matches
// pgxmock for tests.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists call records in Postgres.
type PostgresStore struct {
	pool Querier
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("calls: pgx pool required")
	}
	return &PostgresStore{pool: pool}
}

func newPostgresStoreWithQuerier(q Querier) *PostgresStore {
	if q == nil {
		panic("calls: querier required")
	}
	return &PostgresStore{pool: q}
}

var _ Store = (*PostgresStore)(nil)

const recordColumns = `
	id, webhook_id, call_id, event_type, phone_number, phone_number_from,
	status, duration, direction, agent_name, customer_name, recording_url,
	transcript, call_result, call_outcome, company_name, ateco_code,
	interest_confirmed, bill_received, annual_consumption_kwh, should_send,
	reason, raw_payload, created_at, updated_at`

// Insert upserts a record keyed by webhook_id. The database trigger derives
// a sparse row from the audit insert before this call runs, so a conflict
// enriches that row with the full extraction and adopts its id. A row that
// was already reconciled keeps its bill_received flag.
func (s *PostgresStore) Insert(ctx context.Context, rec *Record) (*Record, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	query := `
		INSERT INTO call_records (
			id, webhook_id, call_id, event_type, phone_number, phone_number_from,
			status, duration, direction, agent_name, customer_name, recording_url,
			transcript, call_result, call_outcome, company_name, ateco_code,
			interest_confirmed, bill_received, annual_consumption_kwh, should_send,
			reason, raw_payload
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
		ON CONFLICT (webhook_id) DO UPDATE SET
			call_id = EXCLUDED.call_id,
			event_type = EXCLUDED.event_type,
			phone_number = EXCLUDED.phone_number,
			phone_number_from = EXCLUDED.phone_number_from,
			status = EXCLUDED.status,
			duration = EXCLUDED.duration,
			direction = EXCLUDED.direction,
			agent_name = EXCLUDED.agent_name,
			customer_name = EXCLUDED.customer_name,
			recording_url = EXCLUDED.recording_url,
			transcript = EXCLUDED.transcript,
			call_result = EXCLUDED.call_result,
			call_outcome = EXCLUDED.call_outcome,
			company_name = EXCLUDED.company_name,
			ateco_code = EXCLUDED.ateco_code,
			interest_confirmed = EXCLUDED.interest_confirmed,
			bill_received = COALESCE(call_records.bill_received, EXCLUDED.bill_received),
			annual_consumption_kwh = EXCLUDED.annual_consumption_kwh,
			should_send = EXCLUDED.should_send,
			reason = EXCLUDED.reason,
			raw_payload = EXCLUDED.raw_payload,
			updated_at = now()
		RETURNING id, bill_received, created_at, updated_at
	`
	err := s.pool.QueryRow(ctx, query,
		rec.ID, rec.WebhookID, rec.CallID, rec.EventType, rec.PhoneNumber, rec.PhoneNumberFrom,
		rec.Status, rec.Duration, rec.Direction, rec.AgentName, rec.CustomerName, rec.RecordingURL,
		rec.Transcript, rec.CallResult, rec.CallOutcome, rec.CompanyName, rec.AtecoCode,
		rec.InterestConfirmed, rec.BillReceived, rec.AnnualConsumptionKWh, rec.ShouldSend,
		rec.Reason, rec.RawPayload,
	).Scan(&rec.ID, &rec.BillReceived, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("calls: insert record: %w", err)
	}
	return rec, nil
}

// FindByComparisonKey pulls candidate rows whose digit-only phone number is
// suffix-related to the key, then refines the match in Go so the asymmetric
// rule lives in exactly one place.
func (s *PostgresStore) FindByComparisonKey(ctx context.Context, key string) ([]Record, error) {
	if key == "" {
		return nil, nil
	}
	query := `SELECT` + recordColumns + `
		FROM call_records
		WHERE regexp_replace(phone_number, '\D', '', 'g') LIKE '%' || $1
		   OR $1 LIKE '%' || regexp_replace(phone_number, '\D', '', 'g')
		ORDER BY created_at DESC
	`
	rows, err := s.pool.Query(ctx, query, key)
	if err != nil {
		return nil, fmt.Errorf("calls: find by comparison key: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("calls: scan record: %w", err)
		}
		if phone.Matches(rec.PhoneNumber, key) {
			out = append(out, *rec)
		}
	}
	return out, rows.Err()
}

// UpdateBillReceived flips the flag on the given rows. Updating rows that
// already carry the value is a harmless no-op.
func (s *PostgresStore) UpdateBillReceived(ctx context.Context, ids []uuid.UUID, value bool) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := `
		UPDATE call_records
		SET bill_received = $1, updated_at = now()
		WHERE id = ANY($2)
	`
	ct, err := s.pool.Exec(ctx, query, value, ids)
	if err != nil {
		return 0, fmt.Errorf("calls: update bill received: %w", err)
	}
	return ct.RowsAffected(), nil
}

// List returns records newest-first.
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT` + recordColumns + `
		FROM call_records
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("calls: list records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("calls: scan record: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// GetByCallID returns the most recent record for the external call id.
func (s *PostgresStore) GetByCallID(ctx context.Context, callID string) (*Record, error) {
	query := `SELECT` + recordColumns + `
		FROM call_records
		WHERE call_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, callID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("calls: get by call id: %w", err)
	}
	return rec, nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID, &rec.WebhookID, &rec.CallID, &rec.EventType, &rec.PhoneNumber, &rec.PhoneNumberFrom,
		&rec.Status, &rec.Duration, &rec.Direction, &rec.AgentName, &rec.CustomerName, &rec.RecordingURL,
		&rec.Transcript, &rec.CallResult, &rec.CallOutcome, &rec.CompanyName, &rec.AtecoCode,
		&rec.InterestConfirmed, &rec.BillReceived, &rec.AnnualConsumptionKWh, &rec.ShouldSend,
		&rec.Reason, &rec.RawPayload, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
