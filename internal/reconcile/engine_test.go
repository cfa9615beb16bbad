package reconcile

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/enercall/webhook-relay/internal/calls"
	"github.com/enercall/webhook-relay/internal/phone"
)

// spyStore counts update calls on top of the in-memory store.
type spyStore struct {
	*calls.MemoryStore
	updateCalls int
}

func (s *spyStore) UpdateBillReceived(ctx context.Context, ids []uuid.UUID, value bool) (int64, error) {
	s.updateCalls++
	return s.MemoryStore.UpdateBillReceived(ctx, ids, value)
}

func inboundFrom(raw string) Inbound {
	return Inbound{
		From: phone.Normalize(phone.StripTransportSuffix(raw)),
		Kind: "text",
	}
}

func TestMatchAndUpdateFlipsMatchedRecord(t *testing.T) {
	store := &spyStore{MemoryStore: calls.NewMemoryStore()}
	engine := NewEngine(store, nil)
	ctx := context.Background()

	if _, err := store.Insert(ctx, &calls.Record{WebhookID: uuid.New(), CallID: "ct-1", PhoneNumber: "3331234567"}); err != nil {
		t.Fatal(err)
	}

	res, err := engine.MatchAndUpdate(ctx, inboundFrom("+393331234567"))
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if res.Matched != 1 || res.Updated != 1 {
		t.Fatalf("expected 1 matched / 1 updated, got %+v", res)
	}

	got, err := store.GetByCallID(ctx, "ct-1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.BillIsReceived() {
		t.Error("expected bill_received true on matched record")
	}
}

func TestMatchAndUpdateNormalizesRawSender(t *testing.T) {
	store := &spyStore{MemoryStore: calls.NewMemoryStore()}
	engine := NewEngine(store, nil)
	ctx := context.Background()

	if _, err := store.Insert(ctx, &calls.Record{WebhookID: uuid.New(), CallID: "ct-2", PhoneNumber: "393331234567"}); err != nil {
		t.Fatal(err)
	}

	// Caller passed the sender through without normalizing first.
	res, err := engine.MatchAndUpdate(ctx, Inbound{From: "+39 333 123 4567", Kind: "text"})
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if res.Matched != 1 || res.Updated != 1 {
		t.Fatalf("expected raw sender to match after normalization, got %+v", res)
	}
}

func TestMatchAndUpdateOutboundEchoIsNoOp(t *testing.T) {
	store := &spyStore{MemoryStore: calls.NewMemoryStore()}
	engine := NewEngine(store, nil)
	ctx := context.Background()

	if _, err := store.Insert(ctx, &calls.Record{WebhookID: uuid.New(), CallID: "ct-1", PhoneNumber: "3331234567"}); err != nil {
		t.Fatal(err)
	}

	msg := inboundFrom("3331234567")
	msg.IsOutbound = true

	res, err := engine.MatchAndUpdate(ctx, msg)
	if err != nil {
		t.Fatalf("outbound echo should not error: %v", err)
	}
	if res.Matched != 0 || res.Updated != 0 {
		t.Fatalf("expected no-op for outbound echo, got %+v", res)
	}
	if store.updateCalls != 0 {
		t.Errorf("expected zero update calls, got %d", store.updateCalls)
	}
}

func TestMatchAndUpdateNoMatchIsNormal(t *testing.T) {
	store := &spyStore{MemoryStore: calls.NewMemoryStore()}
	engine := NewEngine(store, nil)

	res, err := engine.MatchAndUpdate(context.Background(), inboundFrom("3209793492"))
	if err != nil {
		t.Fatalf("no-match must not be an error: %v", err)
	}
	if res.Matched != 0 {
		t.Fatalf("expected zero matches, got %+v", res)
	}
}

func TestMatchAndUpdateIdempotentRedelivery(t *testing.T) {
	store := &spyStore{MemoryStore: calls.NewMemoryStore()}
	engine := NewEngine(store, nil)
	ctx := context.Background()

	if _, err := store.Insert(ctx, &calls.Record{WebhookID: uuid.New(), CallID: "ct-1", PhoneNumber: "3331234567"}); err != nil {
		t.Fatal(err)
	}

	msg := inboundFrom("393331234567@s.whatsapp.net")
	if _, err := engine.MatchAndUpdate(ctx, msg); err != nil {
		t.Fatal(err)
	}
	res, err := engine.MatchAndUpdate(ctx, msg)
	if err != nil {
		t.Fatalf("redelivery must not error: %v", err)
	}
	if res.Matched != 1 {
		t.Fatalf("expected the record to still match, got %+v", res)
	}

	got, err := store.GetByCallID(ctx, "ct-1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.BillIsReceived() {
		t.Error("bill_received must remain true after redelivery")
	}
}

func TestMatchAndUpdateNonTextContentCounts(t *testing.T) {
	store := &spyStore{MemoryStore: calls.NewMemoryStore()}
	engine := NewEngine(store, nil)
	ctx := context.Background()

	if _, err := store.Insert(ctx, &calls.Record{WebhookID: uuid.New(), CallID: "ct-1", PhoneNumber: "3331234567"}); err != nil {
		t.Fatal(err)
	}

	msg := inboundFrom("3331234567")
	msg.Kind = "image"

	res, err := engine.MatchAndUpdate(ctx, msg)
	if err != nil {
		t.Fatal(err)
	}
	if res.Updated != 1 {
		t.Fatalf("an image message must count as a reply, got %+v", res)
	}
}

func TestMatchAndUpdateEmptyPhoneMatchesNothing(t *testing.T) {
	store := &spyStore{MemoryStore: calls.NewMemoryStore()}
	engine := NewEngine(store, nil)

	res, err := engine.MatchAndUpdate(context.Background(), Inbound{From: phone.Normalize("garbage")})
	if err != nil || res.Matched != 0 {
		t.Fatalf("unparseable sender must be a clean no-op, got %+v err=%v", res, err)
	}
}
