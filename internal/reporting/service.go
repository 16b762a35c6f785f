package reporting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"survey-caller/internal/calls"
	"survey-caller/internal/records"
)

var (
	ErrInvalidRequest = errors.New("reporting: invalid request")
	ErrNotFound       = errors.New("reporting: call not found")
)

// Repository is the read side of the durable record.
type Repository interface {
	ListCalls(ctx context.Context, f records.ListFilter) ([]calls.Call, error)
	GetCall(ctx context.Context, id int64) (calls.Detail, error)
	GetAnswers(ctx context.Context, callID int64) ([]calls.AnswerRecord, error)
}

// LiveSource serves the working state of calls still held by the call engine.
type LiveSource interface {
	Snapshot(ctx context.Context, id int64) (calls.State, error)
}

type Service struct {
	repo Repository
	live LiveSource
	now  func() time.Time
}

// NewService builds the reporting service. live may be nil.
func NewService(repo Repository, live LiveSource) *Service {
	return &Service{repo: repo, live: live, now: time.Now}
}

// Results builds the results document of one call. Live state wins over the durable
// record so answers are visible before the store catches up.
func (s *Service) Results(ctx context.Context, id int64) (Results, error) {
	if id <= 0 {
		return Results{}, ErrInvalidRequest
	}
	if s.live != nil {
		if st, err := s.live.Snapshot(ctx, id); err == nil {
			return s.build(st.Call, st.Slots, answerList(st.Answers)), nil
		}
	}
	if s.repo == nil {
		return Results{}, ErrNotFound
	}

	d, err := s.repo.GetCall(ctx, id)
	if errors.Is(err, records.ErrNotFound) {
		return Results{}, ErrNotFound
	}
	if err != nil {
		return Results{}, fmt.Errorf("load call %d: %w", id, err)
	}
	answers, err := s.repo.GetAnswers(ctx, id)
	if err != nil {
		return Results{}, fmt.Errorf("load answers %d: %w", id, err)
	}
	return s.build(d.Call, d.Questions, answers), nil
}

func (s *Service) build(c calls.Call, slots []calls.QuestionSlot, answers []calls.AnswerRecord) Results {
	out := Results{
		CallID:          c.ID,
		PhoneNumber:     c.PhoneNumber,
		CallSid:         c.ProviderRef,
		ConversationRef: c.ConversationRef,
		Backend:         c.Backend,
		Status:          c.Status,
		StartedAt:       c.StartedAt,
		EndedAt:         c.EndedAt,
		Timestamp:       s.now().UTC(),
		Questions:       make([]QuestionResult, 0, len(slots)),
	}
	if c.DurationSeconds != nil {
		out.DurationSeconds = *c.DurationSeconds
	}

	bySeq := make(map[int]calls.AnswerRecord, len(answers))
	for _, a := range answers {
		bySeq[a.Sequence] = a
	}
	for _, slot := range slots {
		q := QuestionResult{QuestionNumber: slot.Sequence + 1, Question: slot.Text}
		if a, ok := bySeq[slot.Sequence]; ok {
			conf := a.Confidence
			q.Answer = a.Answer
			q.Confidence = &conf
			q.RawResponse = a.RawResponse
			q.ResponseTimeSeconds = a.ResponseTimeSeconds
			out.Summary.Answered++
			out.Summary.add(a.Answer)
		}
		out.Questions = append(out.Questions, q)
	}
	out.Summary.TotalQuestions = len(slots)
	return out
}

// CallsSummary aggregates the calls created in the requested range.
func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	r := req.Range
	if !r.From.IsZero() && !r.To.IsZero() && !r.To.After(r.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCalls(ctx, records.ListFilter{From: r.From, To: r.To})
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{Range: r}
	ended := 0
	for _, c := range rows {
		out.TotalCalls++
		switch c.Status {
		case calls.StatusCompleted:
			out.CompletedCalls++
		case calls.StatusFailed:
			out.FailedCalls++
		case calls.StatusInProgress:
			out.InProgressCalls++
		default:
			out.PendingCalls++
		}
		if c.DurationSeconds != nil {
			out.TotalDurationSeconds += *c.DurationSeconds
			ended++
		}

		answers, err := s.repo.GetAnswers(ctx, c.ID)
		if err != nil {
			return CallsSummary{}, fmt.Errorf("load answers %d: %w", c.ID, err)
		}
		for _, a := range answers {
			out.Answers.add(a.Answer)
		}
	}
	if ended > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / ended
	}
	return out, nil
}

func answerList(m map[int]calls.AnswerRecord) []calls.AnswerRecord {
	out := make([]calls.AnswerRecord, 0, len(m))
	for _, a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}
