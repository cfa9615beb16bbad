package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/enercall/webhook-relay/internal/audit"
	"github.com/enercall/webhook-relay/internal/calls"
	"github.com/enercall/webhook-relay/internal/events"
	"github.com/enercall/webhook-relay/internal/observability/metrics"
	"github.com/enercall/webhook-relay/internal/reconcile"
	"github.com/enercall/webhook-relay/internal/whatsapp"
	"github.com/enercall/webhook-relay/pkg/logging"
)

var handlerTracer = otel.Tracer("relay.internal.webhook")

// maxBodyBytes bounds inbound webhook bodies.
const maxBodyBytes = 1 << 20

type reconciler interface {
	MatchAndUpdate(ctx context.Context, msg reconcile.Inbound) (reconcile.Result, error)
}

type dispatcher interface {
	Send(ctx context.Context, phoneNumber, message string) whatsapp.Result
	Drain(ctx context.Context, limit int) (sent, failed int, err error)
}

type auditLog interface {
	Append(ctx context.Context, entry audit.Entry) (uuid.UUID, error)
	List(ctx context.Context, filter audit.Filter) ([]audit.Entry, error)
}

// Handler hosts the webhook sinks and the read endpoints around them.
// Collaborators other than Calls are optional: a missing audit log, recorder,
// tracker or metrics sink degrades that feature without failing requests.
type Handler struct {
	calls      calls.Store
	reconciler reconciler
	dispatcher dispatcher
	audit      auditLog
	recorder   audit.Recorder
	tracker    events.Tracker
	metrics    *metrics.WebhookMetrics
	logger     *logging.Logger

	webhookSecret   string
	followupMessage string
}

// HandlerConfig wires the handler's collaborators.
type HandlerConfig struct {
	Calls           calls.Store
	Reconciler      reconciler
	Dispatcher      dispatcher
	Audit           auditLog
	Recorder        audit.Recorder
	Tracker         events.Tracker
	Metrics         *metrics.WebhookMetrics
	Logger          *logging.Logger
	WebhookSecret   string
	FollowupMessage string
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Calls == nil {
		panic("webhook: calls store required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Handler{
		calls:           cfg.Calls,
		reconciler:      cfg.Reconciler,
		dispatcher:      cfg.Dispatcher,
		audit:           cfg.Audit,
		recorder:        cfg.Recorder,
		tracker:         cfg.Tracker,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
		webhookSecret:   cfg.WebhookSecret,
		followupMessage: cfg.FollowupMessage,
	}
}

// HandleCallWebhook handles POST /webhook and POST /webhook/cloudtalk.
// The dialer treats any non-2xx as a delivery failure and retries, so the
// response is a 200 ack even when persistence or dispatch fails internally;
// only an unreadable body earns a 400.
func (h *Handler) HandleCallWebhook(w http.ResponseWriter, r *http.Request) {
	ctx, span := handlerTracer.Start(r.Context(), "webhook.call.receive",
		trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	start := time.Now()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	rec := ClassifyCall(r.URL.Path, r.Header, body)
	webhookID := h.appendAudit(ctx, r, body, rec)

	if rec == nil {
		h.logger.Info("unclassified delivery on call sink", "path", r.URL.Path)
		h.metrics.ObserveInbound("call", "ignored")
		h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "ignored": true})
		return
	}
	span.SetAttributes(attribute.String("relay.call_id", rec.CallID))

	// The audit row id doubles as the dedup key: a database-side trigger
	// derives a sparse call record from the audit row first, and the store's
	// upsert enriches it through the webhook_id uniqueness constraint.
	rec.WebhookID = webhookID

	if _, err := h.calls.Insert(ctx, rec); err != nil {
		// Dispatch still runs off the in-memory extraction.
		h.logger.Error("failed to save call record", "error", err, "call_id", rec.CallID)
		h.metrics.ObserveInbound("call", "store_error")
	} else {
		h.metrics.ObserveInbound("call", "saved")
	}

	response := map[string]any{
		"success": true,
		"call_id": rec.CallID,
	}
	if rec.PhoneNumber != "" && h.dispatcher != nil {
		result := h.dispatcher.Send(ctx, rec.PhoneNumber, h.followupMessage)
		response["message_sent"] = result.Success
		if !result.Success {
			h.logger.Warn("follow-up dispatch failed",
				"call_id", rec.CallID,
				"error", result.Error,
			)
		}
	}

	h.metrics.ObserveLatency("call", time.Since(start).Seconds())
	h.writeJSON(w, http.StatusOK, response)
}

// HandleWhatsAppWebhook handles POST /api/whatsapp-webhook. A configured
// shared secret must arrive in the X-Webhook-Secret header or a "secret"
// body field; everything else about the pipeline absorbs errors and acks.
func (h *Handler) HandleWhatsAppWebhook(w http.ResponseWriter, r *http.Request) {
	ctx, span := handlerTracer.Start(r.Context(), "webhook.whatsapp.receive",
		trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	start := time.Now()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	if !h.secretOK(r, body) {
		h.logger.Warn("whatsapp webhook secret mismatch", "remote", r.RemoteAddr)
		h.metrics.ObserveInbound("message", "unauthorized")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	msg := ClassifyMessage(body)
	h.appendAudit(ctx, r, body, nil)

	if msg == nil {
		h.metrics.ObserveInbound("message", "ignored")
		h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "ignored": true})
		return
	}

	if msg.EventID != "" && h.tracker != nil {
		seen, err := h.tracker.AlreadyProcessed(ctx, "whatsapp", msg.EventID)
		if err != nil {
			h.logger.Error("event dedup check failed", "error", err, "event_id", msg.EventID)
		} else if seen {
			h.metrics.ObserveInbound("message", "duplicate")
			h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "duplicate": true})
			return
		}
	}

	response := map[string]any{"success": true}
	handled := true
	if h.reconciler != nil {
		result, err := h.reconciler.MatchAndUpdate(ctx, reconcile.Inbound{
			From:       msg.NormalizedPhone,
			IsOutbound: msg.IsOutbound,
			Kind:       string(msg.Kind),
		})
		if err != nil {
			handled = false
			h.logger.Error("reconcile failed", "error", err, "from", msg.NormalizedPhone)
			h.metrics.ObserveInbound("message", "reconcile_error")
		} else {
			response["matched"] = result.Matched
			response["updated"] = result.Updated
			h.metrics.ObserveInbound("message", "processed")
		}
	}

	// The event id is consumed only after handling succeeded, so the
	// gateway's redelivery can retry a failed reconciliation. Reconciling
	// the same message twice is harmless.
	if handled && msg.EventID != "" && h.tracker != nil {
		if _, err := h.tracker.MarkProcessed(ctx, "whatsapp", msg.EventID); err != nil {
			h.logger.Error("event dedup mark failed", "error", err, "event_id", msg.EventID)
		}
	}

	h.metrics.ObserveLatency("message", time.Since(start).Seconds())
	h.writeJSON(w, http.StatusOK, response)
}

type sendMessageRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
}

// HandleSendMessage handles POST /api/send-message. A provider failure is
// still a 200 carrying success:false, matching how the webhook sinks absorb
// downstream errors.
func (h *Handler) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	if h.dispatcher == nil {
		http.Error(w, "outbound messaging not configured", http.StatusServiceUnavailable)
		return
	}
	var req sendMessageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.PhoneNumber == "" || req.Message == "" {
		http.Error(w, "phoneNumber and message are required", http.StatusBadRequest)
		return
	}

	result := h.dispatcher.Send(r.Context(), req.PhoneNumber, req.Message)
	h.writeJSON(w, http.StatusOK, result)
}

// HandleDrainQueue handles POST /api/outbound-queue/drain.
func (h *Handler) HandleDrainQueue(w http.ResponseWriter, r *http.Request) {
	if h.dispatcher == nil {
		http.Error(w, "outbound messaging not configured", http.StatusServiceUnavailable)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	sent, failed, err := h.dispatcher.Drain(r.Context(), limit)
	if err != nil {
		h.logger.Error("queue drain failed", "error", err)
		http.Error(w, "drain failed", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"sent": sent, "failed": failed})
}

// HandleRecentRequests handles GET /api/requests.
func (h *Handler) HandleRecentRequests(w http.ResponseWriter, r *http.Request) {
	if h.recorder == nil {
		h.writeJSON(w, http.StatusOK, []audit.Entry{})
		return
	}
	h.writeJSON(w, http.StatusOK, h.recorder.Recent())
}

// HandleListWebhooks handles GET /api/webhooks and GET /api/call-webhooks.
func (h *Handler) HandleListWebhooks(callOnly bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.audit == nil {
			http.Error(w, "audit storage not configured", http.StatusServiceUnavailable)
			return
		}
		limit, offset := paging(r)
		filter := audit.Filter{
			CallOnly: callOnly || r.URL.Query().Get("call_only") == "true",
			Path:     r.URL.Query().Get("path"),
			Limit:    limit,
			Offset:   offset,
		}
		entries, err := h.audit.List(r.Context(), filter)
		if err != nil {
			h.logger.Error("failed to list webhook history", "error", err)
			http.Error(w, "failed to list webhooks", http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []audit.Entry{}
		}
		h.writeJSON(w, http.StatusOK, entries)
	}
}

// HandleListCalls handles GET /api/calls.
func (h *Handler) HandleListCalls(w http.ResponseWriter, r *http.Request) {
	limit, offset := paging(r)
	records, err := h.calls.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("failed to list call records", "error", err)
		http.Error(w, "failed to list calls", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []calls.Record{}
	}
	h.writeJSON(w, http.StatusOK, records)
}

// HandleGetCall handles GET /api/calls/{callID}.
func (h *Handler) HandleGetCall(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	if callID == "" {
		http.Error(w, "callID required", http.StatusBadRequest)
		return
	}
	rec, err := h.calls.GetByCallID(r.Context(), callID)
	if errors.Is(err, calls.ErrNotFound) {
		http.Error(w, "call not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to load call record", "error", err, "call_id", callID)
		http.Error(w, "failed to load call", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// secretOK validates the shared webhook secret. Gateways differ in where
// they can put it, so both the header and a top-level body field count.
func (h *Handler) secretOK(r *http.Request, body []byte) bool {
	if h.webhookSecret == "" {
		return true
	}
	if r.Header.Get("X-Webhook-Secret") == h.webhookSecret {
		return true
	}
	var probe struct {
		Secret string `json:"secret"`
	}
	if err := json.Unmarshal(body, &probe); err == nil && probe.Secret == h.webhookSecret {
		return true
	}
	return false
}

// appendAudit writes the persistent audit row for one delivery and returns
// its id. The entry carries the extracted call fields when classification
// produced a record. Failures are logged, never surfaced: auditing must not
// break the ack, and the id stays usable as a correlation key either way.
func (h *Handler) appendAudit(ctx context.Context, r *http.Request, body []byte, rec *calls.Record) uuid.UUID {
	entry := audit.Entry{
		ID:        uuid.New(),
		Method:    r.Method,
		Path:      r.URL.Path,
		RawBody:   string(body),
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
		Direction: audit.DirectionInbound,
	}
	if json.Valid(body) {
		entry.Body = json.RawMessage(body)
	}
	if rec != nil {
		entry.IsCallEvent = true
		entry.CallID = rec.CallID
		entry.EventType = rec.EventType
		entry.PhoneNumber = rec.PhoneNumber
	}
	if h.audit == nil {
		return entry.ID
	}
	if _, err := h.audit.Append(ctx, entry); err != nil {
		h.logger.Error("failed to append audit entry", "error", err, "path", r.URL.Path)
	}
	return entry.ID
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func paging(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
