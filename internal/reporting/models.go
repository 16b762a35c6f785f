package reporting

import (
	"time"

	"survey-caller/internal/calls"
)

// TimeRange selects calls created in [From, To). Zero bounds are open.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type CallsSummaryRequest struct {
	Range TimeRange `json:"range"`
}

type CallsSummary struct {
	Range TimeRange `json:"range"`

	TotalCalls      int `json:"total_calls"`
	CompletedCalls  int `json:"completed_calls"`
	FailedCalls     int `json:"failed_calls"`
	InProgressCalls int `json:"in_progress_calls"`
	PendingCalls    int `json:"pending_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	// Answers tallies every recorded answer across the calls in range.
	Answers AnswerCounts `json:"answers"`
}

// Results is the per-call results document.
type Results struct {
	CallID          int64         `json:"call_id"`
	PhoneNumber     string        `json:"phone_number"`
	CallSid         string        `json:"call_sid"`
	ConversationRef string        `json:"conversation_id,omitempty"`
	Backend         calls.Backend `json:"backend"`
	Status          calls.Status  `json:"status"`
	StartedAt       *time.Time    `json:"started_at"`
	EndedAt         *time.Time    `json:"ended_at"`
	DurationSeconds int           `json:"duration_seconds"`
	Timestamp       time.Time     `json:"timestamp"`

	Questions []QuestionResult `json:"questions"`
	Summary   ResultsSummary   `json:"summary"`
}

// QuestionResult is one question and its answer. Answer is empty until one is recorded.
type QuestionResult struct {
	QuestionNumber      int          `json:"question_number"`
	Question            string       `json:"question"`
	Answer              calls.Answer `json:"answer"`
	Confidence          *float64     `json:"confidence"`
	RawResponse         string       `json:"raw_response"`
	ResponseTimeSeconds float64      `json:"response_time_seconds"`
}

type ResultsSummary struct {
	TotalQuestions int `json:"total_questions"`
	Answered       int `json:"answered"`
	AnswerCounts
}

type AnswerCounts struct {
	YesCount     int `json:"yes_count"`
	NoCount      int `json:"no_count"`
	UnclearCount int `json:"unclear_count"`
	TimeoutCount int `json:"timeout_count"`
}

func (a *AnswerCounts) add(ans calls.Answer) {
	switch ans {
	case calls.AnswerYes:
		a.YesCount++
	case calls.AnswerNo:
		a.NoCount++
	case calls.AnswerTimeout:
		a.TimeoutCount++
	default:
		a.UnclearCount++
	}
}
