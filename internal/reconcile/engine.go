// Package reconcile links inbound gateway messages to previously stored
// call records and flips their bill-received state.
package reconcile

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/enercall/webhook-relay/internal/calls"
	"github.com/enercall/webhook-relay/internal/phone"
	"github.com/enercall/webhook-relay/pkg/logging"
)

var tracer = otel.Tracer("relay.internal.reconcile")

// Inbound is the slice of a gateway message the engine acts on.
type Inbound struct {
	// From is the sender's normalized phone number.
	From string
	// IsOutbound marks a gateway echo of a message this system sent.
	IsOutbound bool
	// Kind is the message content type, used only for logging.
	Kind string
}

// Result reports what one reconciliation pass did.
type Result struct {
	Matched int
	Updated int64
}

// Engine matches an inbound message's sender to stored call records.
type Engine struct {
	store  calls.Store
	logger *logging.Logger
}

func NewEngine(store calls.Store, logger *logging.Logger) *Engine {
	if store == nil {
		panic("reconcile: calls store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{store: store, logger: logger}
}

// MatchAndUpdate marks every call record for the message's sender as having
// received a reply. Any inbound content counts: the business signal is "the
// contact sent something back", so text, image, document and voice messages
// are all treated the same. Zero matches is a normal outcome. The operation
// is idempotent under duplicate delivery: re-marking true rows affects
// nothing observable.
func (e *Engine) MatchAndUpdate(ctx context.Context, msg Inbound) (Result, error) {
	ctx, span := tracer.Start(ctx, "reconcile.match_and_update")
	defer span.End()

	if msg.IsOutbound {
		// Echo of a message this system sent; never reconciled as a reply.
		return Result{}, nil
	}

	key := phone.ComparisonKey(phone.Normalize(msg.From))
	if key == "" {
		return Result{}, nil
	}
	span.SetAttributes(attribute.String("relay.comparison_key", key))

	matched, err := e.store.FindByComparisonKey(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("reconcile: find call records: %w", err)
	}
	if len(matched) == 0 {
		e.logger.Debug("inbound message matched no call records", "from", msg.From)
		return Result{}, nil
	}

	ids := make([]uuid.UUID, 0, len(matched))
	for _, rec := range matched {
		ids = append(ids, rec.ID)
	}
	updated, err := e.store.UpdateBillReceived(ctx, ids, true)
	if err != nil {
		return Result{Matched: len(matched)}, fmt.Errorf("reconcile: update bill received: %w", err)
	}

	e.logger.Info("reconciled inbound message",
		"from", msg.From,
		"matched", len(matched),
		"updated", updated,
		"kind", msg.Kind,
	)
	return Result{Matched: len(matched), Updated: updated}, nil
}
