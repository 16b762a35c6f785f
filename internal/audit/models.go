package audit

import "time"

// Event is one received webhook, stored verbatim with what became of it.
//
// Events are append-only. Payloads that failed to parse are kept here so they can be
// replayed or inspected later.
type Event struct {
	ID     string `json:"id" db:"id"`
	Source Source `json:"source" db:"source"`
	// Kind is the webhook flavour, e.g. "status", "answer", "post_call_transcription".
	Kind string `json:"kind" db:"kind"`

	// Identifier is the raw call identifier the webhook carried, if any.
	Identifier string `json:"identifier,omitempty" db:"identifier"`
	// CallID is the resolved internal id; 0 when resolution failed.
	CallID int64 `json:"call_id,omitempty" db:"call_id"`

	Outcome Outcome `json:"outcome" db:"outcome"`
	Message string  `json:"message,omitempty" db:"message"`
	Payload string  `json:"payload,omitempty" db:"payload"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Source string

const (
	SourceTwilio     Source = "twilio"
	SourceVoiceAgent Source = "voice_agent"
	SourceMedia      Source = "media"
)

type Outcome string

const (
	OutcomeApplied     Outcome = "applied"
	OutcomeIgnored     Outcome = "ignored"
	OutcomeUnknownCall Outcome = "unknown_call"
	OutcomeMalformed   Outcome = "malformed"
	OutcomeRejected    Outcome = "rejected"
	OutcomeError       Outcome = "error"
)
