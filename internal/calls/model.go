package calls

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Record is one outbound-call interaction with a contact, derived from a
// call-center webhook delivery.
type Record struct {
	ID        uuid.UUID `json:"id"`
	WebhookID uuid.UUID `json:"webhook_id"`

	CallID          string `json:"call_id,omitempty"`
	EventType       string `json:"event_type,omitempty"`
	PhoneNumber     string `json:"phone_number,omitempty"`
	PhoneNumberFrom string `json:"phone_number_from,omitempty"`
	Status          string `json:"status,omitempty"`
	Duration        int    `json:"duration,omitempty"`
	Direction       string `json:"direction,omitempty"`
	AgentName       string `json:"agent_name,omitempty"`
	CustomerName    string `json:"customer_name,omitempty"`
	RecordingURL    string `json:"recording_url,omitempty"`
	Transcript      string `json:"transcript,omitempty"`
	CallResult      string `json:"call_result,omitempty"`
	CallOutcome     string `json:"call_outcome,omitempty"`

	// Fields extracted by the dialer's AI agent.
	CompanyName          string `json:"company_name,omitempty"`
	AtecoCode            string `json:"ateco_code,omitempty"`
	InterestConfirmed    *bool  `json:"interest_confirmed,omitempty"`
	BillReceived         *bool  `json:"bill_received,omitempty"`
	AnnualConsumptionKWh string `json:"annual_consumption_kwh,omitempty"`

	// ShouldSend is the dialer's advisory flag. It is stored for reference
	// but deliberately ignored when deciding whether to dispatch the
	// follow-up message: a non-empty phone number is the only trigger.
	ShouldSend *bool  `json:"should_send,omitempty"`
	Reason     string `json:"reason,omitempty"`

	RawPayload json.RawMessage `json:"raw_payload,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BillIsReceived treats the tri-state flag's unset and false states as
// equivalent: the contact has not sent anything back yet.
func (r *Record) BillIsReceived() bool {
	return r.BillReceived != nil && *r.BillReceived
}
