// Package webhook classifies inbound HTTP deliveries from the call-center
// platform and the WhatsApp gateway, and hosts the HTTP handlers for both
// sinks.
package webhook

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/enercall/webhook-relay/internal/calls"
	"github.com/enercall/webhook-relay/internal/phone"
)

// callMarker appears in the dialer's webhook paths and user agent.
const callMarker = "cloudtalk"

// MessageKind describes the content type of an inbound gateway message.
type MessageKind string

const (
	MessageText     MessageKind = "text"
	MessageImage    MessageKind = "image"
	MessageDocument MessageKind = "document"
	MessageAudio    MessageKind = "audio"
	MessageVideo    MessageKind = "video"
	MessageUnknown  MessageKind = "unknown"
)

// InboundMessage is the normalized form of a message-gateway delivery.
type InboundMessage struct {
	FromRaw         string
	NormalizedPhone string
	Text            string
	Kind            MessageKind
	IsOutbound      bool
	EventID         string
	ReceivedAt      time.Time
}

// Classified is the outcome of classifying one delivery. At most one of
// Call and Message is set; both nil means the payload was not recognized.
type Classified struct {
	Call    *calls.Record
	Message *InboundMessage
}

func (c Classified) IsCall() bool    { return c.Call != nil }
func (c Classified) IsMessage() bool { return c.Message != nil }

// Classify inspects one inbound delivery. It never fails: malformed or
// unrecognized bodies classify as neither call nor message. The two known
// gateway message shapes are structural and therefore win over the dialer's
// fuzzier marker-based detection; each sink handler can also run its own
// category check directly via ClassifyCall or ClassifyMessage.
func Classify(path string, header http.Header, body []byte) Classified {
	payload := decodeObject(body)

	if msg := classifyMessage(payload); msg != nil {
		return Classified{Message: msg}
	}
	if rec := classifyCall(path, header, payload, body); rec != nil {
		return Classified{Call: rec}
	}
	return Classified{}
}

// ClassifyCall runs only the call-event detection for the call sink.
func ClassifyCall(path string, header http.Header, body []byte) *calls.Record {
	return classifyCall(path, header, decodeObject(body), body)
}

// ClassifyMessage runs only the message-event detection for the gateway sink.
func ClassifyMessage(body []byte) *InboundMessage {
	return classifyMessage(decodeObject(body))
}

func decodeObject(body []byte) map[string]any {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}
	return payload
}

// unwrapData resolves one level of nesting under a "data" wrapper key.
func unwrapData(payload map[string]any) map[string]any {
	if inner, ok := payload["data"].(map[string]any); ok {
		return inner
	}
	return payload
}

func classifyCall(path string, header http.Header, payload map[string]any, raw []byte) *calls.Record {
	marked := strings.Contains(path, callMarker) ||
		strings.Contains(path, "webhook") ||
		strings.Contains(strings.ToLower(header.Get("User-Agent")), callMarker)

	if payload == nil {
		return nil
	}
	body := unwrapData(payload)

	if !marked && !hasCallFields(body) {
		return nil
	}

	rec := &calls.Record{
		CallID:               firstString(body, "call_id", "callId", "id"),
		EventType:            firstString(body, "event_type", "eventType", "type"),
		PhoneNumber:          firstString(body, "caller_number", "phone_number", "phoneNumber", "to", "number"),
		PhoneNumberFrom:      firstString(body, "phone_number_from", "phoneNumberFrom", "from"),
		Status:               firstString(body, "status", "call_status"),
		Duration:             firstInt(body, "duration", "call_duration"),
		Direction:            firstString(body, "direction", "call_direction"),
		AgentName:            firstString(body, "agent_name", "agentName"),
		CustomerName:         firstString(body, "customer_name", "customerName", "contact_name", "contactName"),
		RecordingURL:         firstString(body, "recording_url", "recordingUrl", "recording"),
		Transcript:           firstString(body, "transcript", "transcription", "text"),
		CallResult:           firstString(body, "call_result", "callResult", "result"),
		CallOutcome:          firstString(body, "call_outcome", "callOutcome", "outcome"),
		CompanyName:          firstString(body, "company_name", "companyName"),
		AtecoCode:            firstString(body, "ateco_code", "atecoCode"),
		InterestConfirmed:    firstBool(body, "interest_confirmed", "interestConfirmed"),
		BillReceived:         firstBool(body, "electricity_bill_received", "electricityBillReceived"),
		AnnualConsumptionKWh: firstString(body, "annual_consumption_kwh", "annualConsumptionKwh", "consumption"),
		ShouldSend:           firstBool(body, "should_send", "shouldSend"),
		Reason:               firstString(body, "reason", "message"),
		RawPayload:           json.RawMessage(raw),
	}
	return rec
}

// hasCallFields reports whether any of the known call-event field names is
// present, under either snake_case or camelCase spelling.
func hasCallFields(body map[string]any) bool {
	for _, key := range []string{
		"call_id", "callId",
		"call_result", "callResult",
		"phone_number", "phoneNumber",
		"event_type", "eventType",
	} {
		if _, ok := body[key]; ok {
			return true
		}
	}
	return false
}

func classifyMessage(payload map[string]any) *InboundMessage {
	if payload == nil {
		return nil
	}
	body := unwrapData(payload)

	// Gateway revisions disagree on whether "messages" is an object or a
	// one-element array.
	switch msg := body["messages"].(type) {
	case map[string]any:
		return parseStructuredMessage(msg)
	case []any:
		if len(msg) > 0 {
			if first, ok := msg[0].(map[string]any); ok {
				return parseStructuredMessage(first)
			}
		}
		return nil
	}
	return parseLegacyMessage(body)
}

// parseStructuredMessage handles the gateway's channel-API shape: a
// "messages" object with a "key" sub-object carrying fromMe and the sender
// identifier.
func parseStructuredMessage(msg map[string]any) *InboundMessage {
	key, _ := msg["key"].(map[string]any)
	if key == nil {
		return nil
	}

	fromRaw := firstString(key, "senderPn", "cleanedSenderPn", "remoteJid")
	if fromRaw == "" {
		fromRaw = firstString(msg, "from")
	}

	out := &InboundMessage{
		FromRaw:    fromRaw,
		EventID:    firstString(key, "id"),
		ReceivedAt: time.Now().UTC(),
	}
	if fromMe := firstBool(key, "fromMe"); fromMe != nil {
		out.IsOutbound = *fromMe
	}
	if out.EventID == "" {
		out.EventID = firstString(msg, "id")
	}

	out.Text = firstString(msg, "messageBody")
	out.Kind = MessageText
	if content, ok := msg["message"].(map[string]any); ok {
		if out.Text == "" {
			out.Text = firstString(content, "conversation")
		}
		if out.Text == "" {
			if ext, ok := content["extendedTextMessage"].(map[string]any); ok {
				out.Text = firstString(ext, "text")
			}
		}
		switch {
		case hasKey(content, "imageMessage"):
			out.Kind = MessageImage
		case hasKey(content, "documentMessage"):
			out.Kind = MessageDocument
		case hasKey(content, "audioMessage"):
			out.Kind = MessageAudio
		case hasKey(content, "videoMessage"):
			out.Kind = MessageVideo
		case out.Text == "":
			out.Kind = MessageUnknown
		}
	} else if out.Text == "" {
		out.Kind = MessageUnknown
	}

	out.NormalizedPhone = phone.Normalize(phone.StripTransportSuffix(out.FromRaw))
	return out
}

// parseLegacyMessage handles the flat shape older gateway revisions used.
func parseLegacyMessage(body map[string]any) *InboundMessage {
	fromRaw := firstString(body, "from", "phone_number", "number")
	text := firstString(body, "body", "text")
	fromMe := firstBool(body, "from_me", "fromMe")
	if fromRaw == "" || (text == "" && fromMe == nil) {
		return nil
	}

	out := &InboundMessage{
		FromRaw:    fromRaw,
		Text:       text,
		Kind:       MessageText,
		EventID:    firstString(body, "id", "message_id", "messageId"),
		ReceivedAt: time.Now().UTC(),
	}
	if fromMe != nil {
		out.IsOutbound = *fromMe
	}
	if text == "" {
		out.Kind = MessageUnknown
	}
	out.NormalizedPhone = phone.Normalize(phone.StripTransportSuffix(fromRaw))
	return out
}

func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

// firstString returns the first present, non-empty string among the
// candidate keys. Numeric values are rendered as strings since the dialer
// is inconsistent about quoting ids.
func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			if t != "" {
				return t
			}
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(t)
		}
	}
	return ""
}

// firstBool returns a pointer so absent and false stay distinguishable.
func firstBool(m map[string]any, keys ...string) *bool {
	for _, key := range keys {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case bool:
			b := t
			return &b
		case string:
			if parsed, err := strconv.ParseBool(t); err == nil {
				return &parsed
			}
		}
	}
	return nil
}

func firstInt(m map[string]any, keys ...string) int {
	for _, key := range keys {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case float64:
			return int(t)
		case string:
			if parsed, err := strconv.Atoi(t); err == nil {
				return parsed
			}
		}
	}
	return 0
}
