package calls

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned by lookups that match no record.
var ErrNotFound = errors.New("calls: record not found")

// Store persists call records. Insert must behave as a dedup guard: the
// backing table carries a uniqueness constraint on webhook_id because both
// the application and a database-side trigger may derive the same row from
// one webhook delivery, and duplicate webhook deliveries replay the same
// insert. A uniqueness conflict is therefore not an error; the
// implementation resolves it to the pre-existing row, enriching that row
// with the incoming extraction where the backend supports it.
type Store interface {
	// Insert creates a record. When the webhook_id uniqueness constraint
	// fires the existing row wins its id and any reconciliation state; the
	// returned record reflects the merge.
	Insert(ctx context.Context, rec *Record) (*Record, error)

	// FindByComparisonKey returns every record whose stored phone number
	// matches the given comparison key under the suffix rule, not just the
	// first.
	FindByComparisonKey(ctx context.Context, key string) ([]Record, error)

	// UpdateBillReceived sets bill_received on the given ids. Zero rows
	// affected is a valid outcome, never an error.
	UpdateBillReceived(ctx context.Context, ids []uuid.UUID, value bool) (int64, error)

	// List returns records ordered by creation time descending.
	List(ctx context.Context, limit, offset int) ([]Record, error)

	// GetByCallID returns the most recent record for an external call id.
	GetByCallID(ctx context.Context, callID string) (*Record, error)
}
