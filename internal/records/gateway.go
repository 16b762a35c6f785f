package records

import (
	"context"
	"errors"
	"time"

	"survey-caller/internal/calls"
)

var (
	ErrNotFound        = errors.New("records: not found")
	ErrInvalidArgument = errors.New("records: invalid argument")
)

// StatusUpdate carries the lifecycle columns written on every status change.
// Empty refs and nil timestamps leave the stored values untouched.
type StatusUpdate struct {
	CallID          int64
	Status          calls.Status
	ProviderRef     string
	ConversationRef string
	StartedAt       *time.Time
	At              time.Time
}

// ListFilter selects calls created in [From, To).
type ListFilter struct {
	From   time.Time
	To     time.Time
	Status calls.Status
	Limit  int
}

// Gateway is the durable record of calls and answers.
//
// Every method is fallible and the call flow treats every failure as non-fatal:
// callers log and continue with cached state.
type Gateway interface {
	CreateCall(ctx context.Context, call calls.Call, slots []calls.QuestionSlot) error
	UpdateStatus(ctx context.Context, u StatusUpdate) error
	UpsertAnswer(ctx context.Context, a calls.AnswerRecord) error
	CompleteCall(ctx context.Context, call calls.Call) error
	GetCall(ctx context.Context, id int64) (calls.Detail, error)
	GetAnswers(ctx context.Context, callID int64) ([]calls.AnswerRecord, error)

	// FindCallByReference matches either the provider or the conversation reference.
	FindCallByReference(ctx context.Context, ref string) (int64, error)
	ListCalls(ctx context.Context, f ListFilter) ([]calls.Call, error)
	// LastCallID returns the highest stored id, 0 when empty.
	LastCallID(ctx context.Context) (int64, error)
}
