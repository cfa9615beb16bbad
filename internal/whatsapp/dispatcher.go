package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/enercall/webhook-relay/internal/audit"
	"github.com/enercall/webhook-relay/internal/observability/metrics"
	"github.com/enercall/webhook-relay/internal/phone"
	"github.com/enercall/webhook-relay/pkg/logging"
)

var dispatchTracer = otel.Tracer("relay.internal.whatsapp.dispatch")

// Result is what a send attempt produced. A Dispatcher never panics or
// returns a Go error to its caller: failures ride inside the Result so the
// caller's own bookkeeping (an already-saved call record, a webhook ack)
// is never aborted by a provider problem.
type Result struct {
	Success          bool            `json:"success"`
	Status           int             `json:"status,omitempty"`
	Endpoint         string          `json:"endpoint,omitempty"`
	ProviderResponse json.RawMessage `json:"provider_response,omitempty"`
	Error            string          `json:"error,omitempty"`
}

type historyAppender interface {
	Append(ctx context.Context, entry audit.Entry) (uuid.UUID, error)
}

// Dispatcher sends the canned follow-up message and records the outcome.
type Dispatcher struct {
	client  Sender
	history historyAppender
	queue   *QueueStore
	logger  *logging.Logger
	metrics *metrics.WebhookMetrics
}

// DispatcherConfig wires the dispatcher's collaborators. History, Queue and
// Metrics are optional.
type DispatcherConfig struct {
	Client  Sender
	History historyAppender
	Queue   *QueueStore
	Logger  *logging.Logger
	Metrics *metrics.WebhookMetrics
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Client == nil {
		panic("whatsapp: sender required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Dispatcher{
		client:  cfg.Client,
		history: cfg.History,
		queue:   cfg.Queue,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// Send normalizes the number and attempts delivery. On success a synthetic
// outbound audit entry is recorded so sent and received messages interleave
// in the history views; on failure the message lands on the retry queue
// when one is configured.
func (d *Dispatcher) Send(ctx context.Context, phoneNumber, message string) Result {
	ctx, span := dispatchTracer.Start(ctx, "whatsapp.dispatch.send",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	to := phone.Normalize(phoneNumber)
	if to == "" {
		return d.failure(ctx, phoneNumber, message, errors.New("whatsapp: no usable phone number"), false)
	}
	span.SetAttributes(attribute.String("relay.to", to))

	resp, err := d.client.SendText(ctx, to, message)
	if err != nil {
		span.RecordError(err)
		return d.failure(ctx, to, message, err, true)
	}
	if !resp.OK() {
		err := fmt.Errorf("whatsapp: provider rejected send: status %d", resp.StatusCode)
		span.RecordError(err)
		d.logger.Warn("whatsapp send rejected",
			"to", to,
			"status", resp.StatusCode,
			"endpoint", resp.Endpoint,
		)
		d.metrics.ObserveDispatch("rejected")
		return Result{
			Status:           resp.StatusCode,
			Endpoint:         resp.Endpoint,
			ProviderResponse: resp.Body,
			Error:            err.Error(),
		}
	}

	d.logger.Info("whatsapp message sent", "to", to, "endpoint", resp.Endpoint)
	d.metrics.ObserveDispatch("sent")
	d.recordOutbound(ctx, to, message)

	return Result{
		Success:          true,
		Status:           resp.StatusCode,
		Endpoint:         resp.Endpoint,
		ProviderResponse: resp.Body,
	}
}

// Drain retries pending queue items once each. Items that go through are
// marked sent; the rest keep their pending status with the latest error.
func (d *Dispatcher) Drain(ctx context.Context, limit int) (sent, failed int, err error) {
	if d.queue == nil {
		return 0, 0, errors.New("whatsapp: no outbound queue configured")
	}
	items, err := d.queue.FetchPending(ctx, limit)
	if err != nil {
		return 0, 0, err
	}
	for _, item := range items {
		resp, sendErr := d.client.SendText(ctx, item.To, item.Body)
		if sendErr == nil && resp.OK() {
			if markErr := d.queue.MarkSent(ctx, item.ID); markErr != nil {
				d.logger.Error("failed to mark queue item sent", "error", markErr, "id", item.ID)
			}
			d.recordOutbound(ctx, item.To, item.Body)
			sent++
			continue
		}
		reason := "provider rejected send"
		if sendErr != nil {
			reason = sendErr.Error()
		}
		if markErr := d.queue.MarkFailed(ctx, item.ID, reason); markErr != nil {
			d.logger.Error("failed to record queue item error", "error", markErr, "id", item.ID)
		}
		failed++
	}
	return sent, failed, nil
}

func (d *Dispatcher) failure(ctx context.Context, to, message string, cause error, enqueue bool) Result {
	d.logger.Error("whatsapp send failed", "to", to, "error", cause)
	d.metrics.ObserveDispatch("failed")
	if enqueue && d.queue != nil {
		if _, qErr := d.queue.Enqueue(ctx, to, message, cause.Error()); qErr != nil {
			d.logger.Error("failed to enqueue outbound message", "error", qErr, "to", to)
		}
	}
	return Result{Error: cause.Error()}
}

// recordOutbound appends the synthetic audit entry for a sent message.
// Audit failures are logged, never propagated.
func (d *Dispatcher) recordOutbound(ctx context.Context, to, message string) {
	if d.history == nil {
		return
	}
	body, _ := json.Marshal(map[string]string{"to": to, "body": message})
	if _, err := d.history.Append(ctx, audit.Entry{
		Method:      "POST",
		Path:        "/outbound/whatsapp",
		Body:        body,
		PhoneNumber: to,
		Direction:   audit.DirectionOutbound,
	}); err != nil {
		d.logger.Error("failed to record outbound audit entry", "error", err, "to", to)
	}
}
