package calls

import "time"

// Call represents one outbound survey call.
//
// ID is assigned by the engine at creation and is the primary key everywhere internally.
// Provider-specific identifiers (Twilio CallSid, agent conversation id) are kept as
// separate columns so lookups can come in from either namespace.
type Call struct {
	ID          int64   `json:"call_id" db:"id"`
	PhoneNumber string  `json:"phone_number" db:"phone_number"`
	Backend     Backend `json:"backend" db:"backend"`

	// ProviderRef is assigned by the telephony/voice-agent backend once dialing starts.
	ProviderRef string `json:"provider_ref,omitempty" db:"provider_ref"`
	// ConversationRef is the voice-agent conversation id. Distinct namespace from ProviderRef.
	ConversationRef string `json:"conversation_ref,omitempty" db:"conversation_ref"`

	Status Status `json:"status" db:"status"`

	StartedAt       *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	DurationSeconds *int       `json:"duration_seconds,omitempty" db:"duration_seconds"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusCreated    Status = "created"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Backend names the channel that drives a call.
type Backend string

const (
	BackendTwilio      Backend = "twilio"
	BackendVoiceAgent  Backend = "voice_agent"
	BackendAgentStream Backend = "agent_stream"
	BackendDemo        Backend = "demo"
)

type SlotState string

const (
	SlotPending  SlotState = "pending"
	SlotAsked    SlotState = "asked"
	SlotResolved SlotState = "resolved"
)

// QuestionSlot is one question bound to a call. Sequence is 0-based and contiguous.
type QuestionSlot struct {
	CallID   int64      `json:"call_id" db:"call_id"`
	Sequence int        `json:"sequence" db:"sequence"`
	Text     string     `json:"text" db:"question_text"`
	State    SlotState  `json:"state" db:"state"`
	AskedAt  *time.Time `json:"asked_at,omitempty" db:"asked_at"`
}

type Answer string

const (
	AnswerYes     Answer = "yes"
	AnswerNo      Answer = "no"
	AnswerUnclear Answer = "unclear"
	AnswerTimeout Answer = "timeout"
)

// AnswerRecord is the resolved response to one slot.
// At most one exists per (CallID, Sequence); later arrivals overwrite.
type AnswerRecord struct {
	CallID              int64     `json:"call_id" db:"call_id"`
	Sequence            int       `json:"sequence" db:"sequence"`
	Answer              Answer    `json:"answer" db:"answer"`
	Confidence          float64   `json:"confidence" db:"confidence"`
	RawResponse         string    `json:"raw_response" db:"raw_response"`
	ResponseTimeSeconds float64   `json:"response_time_seconds" db:"response_time_seconds"`
	RecordedAt          time.Time `json:"recorded_at" db:"recorded_at"`
}

// Detail is a call together with its question slots, as read back from storage.
type Detail struct {
	Call      Call           `json:"call"`
	Questions []QuestionSlot `json:"questions"`
}
