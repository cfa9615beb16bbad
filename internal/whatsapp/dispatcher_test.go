package whatsapp

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v3"

	"github.com/enercall/webhook-relay/internal/audit"
)

type fakeSender struct {
	resp  *SendResponse
	err   error
	calls []struct{ to, body string }
}

func (f *fakeSender) SendText(_ context.Context, to, body string) (*SendResponse, error) {
	f.calls = append(f.calls, struct{ to, body string }{to, body})
	return f.resp, f.err
}

type fakeHistory struct {
	entries []audit.Entry
}

func (f *fakeHistory) Append(_ context.Context, entry audit.Entry) (uuid.UUID, error) {
	f.entries = append(f.entries, entry)
	return uuid.New(), nil
}

func TestDispatcherSendSuccessRecordsOutbound(t *testing.T) {
	sender := &fakeSender{resp: &SendResponse{StatusCode: http.StatusOK, Endpoint: "/messages/text"}}
	history := &fakeHistory{}
	d := NewDispatcher(DispatcherConfig{Client: sender, History: history})

	res := d.Send(context.Background(), "333 123 4567", "ciao")
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if len(sender.calls) != 1 || sender.calls[0].to != "393331234567" {
		t.Errorf("expected normalized recipient, got %+v", sender.calls)
	}
	if len(history.entries) != 1 {
		t.Fatalf("expected one outbound audit entry, got %d", len(history.entries))
	}
	entry := history.entries[0]
	if entry.Direction != audit.DirectionOutbound || entry.Path != "/outbound/whatsapp" {
		t.Errorf("unexpected audit entry: %+v", entry)
	}
	if entry.PhoneNumber != "393331234567" {
		t.Errorf("expected normalized phone on audit entry, got %q", entry.PhoneNumber)
	}
}

func TestDispatcherSendRejected(t *testing.T) {
	sender := &fakeSender{resp: &SendResponse{StatusCode: http.StatusUnauthorized, Endpoint: "/messages/text"}}
	history := &fakeHistory{}
	d := NewDispatcher(DispatcherConfig{Client: sender, History: history})

	res := d.Send(context.Background(), "393331234567", "ciao")
	if res.Success {
		t.Fatal("expected rejection")
	}
	if res.Status != http.StatusUnauthorized {
		t.Errorf("expected provider status in result, got %d", res.Status)
	}
	if res.Error == "" {
		t.Error("expected error message in result")
	}
	if len(history.entries) != 0 {
		t.Error("rejected sends must not record an outbound entry")
	}
}

func TestDispatcherSendTransportFailureEnqueues(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec("INSERT INTO outbound_queue").
		WithArgs(pgxmock.AnyArg(), "393331234567", "ciao", QueuePending, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	sender := &fakeSender{err: errors.New("connection refused")}
	d := NewDispatcher(DispatcherConfig{Client: sender, Queue: newQueueStoreWithQuerier(mock)})

	res := d.Send(context.Background(), "393331234567", "ciao")
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Error == "" {
		t.Error("expected error message in result")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDispatcherSendUnusableNumber(t *testing.T) {
	sender := &fakeSender{resp: &SendResponse{StatusCode: http.StatusOK}}
	d := NewDispatcher(DispatcherConfig{Client: sender})

	res := d.Send(context.Background(), "not a number", "ciao")
	if res.Success {
		t.Fatal("expected failure")
	}
	if len(sender.calls) != 0 {
		t.Error("no send attempt should be made without a usable number")
	}
}

func TestDispatcherDrain(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	okID := uuid.New()
	badID := uuid.New()
	now := time.Now().UTC()
	rows := pgxmock.NewRows([]string{"id", "recipient", "body", "status", "attempts", "last_error", "created_at", "sent_at"}).
		AddRow(okID, "393331234567", "ciao", QueuePending, 1, "timeout", now, (*time.Time)(nil)).
		AddRow(badID, "393337654321", "ciao", QueuePending, 1, "timeout", now, (*time.Time)(nil))

	mock.ExpectQuery("SELECT (.+) FROM outbound_queue").
		WithArgs(50).
		WillReturnRows(rows)
	mock.ExpectExec("UPDATE outbound_queue SET status = 'sent'").
		WithArgs(okID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE outbound_queue(.|\n)+SET attempts = attempts \+ 1`).
		WithArgs(badID, pgxmock.AnyArg(), maxDeliveryAttempts).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	sender := &flakySender{failFor: "393337654321"}
	d := NewDispatcher(DispatcherConfig{Client: sender, Queue: newQueueStoreWithQuerier(mock)})

	sent, failed, err := d.Drain(context.Background(), 0)
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if sent != 1 || failed != 1 {
		t.Errorf("expected sent=1 failed=1, got sent=%d failed=%d", sent, failed)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDispatcherDrainWithoutQueue(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{Client: &fakeSender{}})
	if _, _, err := d.Drain(context.Background(), 10); err == nil {
		t.Fatal("expected error without a queue")
	}
}

type flakySender struct {
	failFor string
}

func (f *flakySender) SendText(_ context.Context, to, _ string) (*SendResponse, error) {
	if to == f.failFor {
		return nil, errors.New("connection refused")
	}
	return &SendResponse{StatusCode: http.StatusOK}, nil
}
