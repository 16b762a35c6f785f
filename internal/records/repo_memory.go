package records

import (
	"context"
	"sort"
	"sync"

	"survey-caller/internal/calls"
)

// MemoryRepo is an in-memory Gateway for tests and for running without Postgres.
type MemoryRepo struct {
	mu      sync.Mutex
	calls   map[int64]calls.Call
	slots   map[int64][]calls.QuestionSlot
	answers map[int64]map[int]calls.AnswerRecord
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		calls:   map[int64]calls.Call{},
		slots:   map[int64][]calls.QuestionSlot{},
		answers: map[int64]map[int]calls.AnswerRecord{},
	}
}

func (r *MemoryRepo) CreateCall(_ context.Context, call calls.Call, slots []calls.QuestionSlot) error {
	if call.ID <= 0 {
		return ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[call.ID] = call
	r.slots[call.ID] = append([]calls.QuestionSlot(nil), slots...)
	return nil
}

func (r *MemoryRepo) UpdateStatus(_ context.Context, u StatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[u.CallID]
	if !ok {
		return ErrNotFound
	}
	c.Status = u.Status
	if u.ProviderRef != "" {
		c.ProviderRef = u.ProviderRef
	}
	if u.ConversationRef != "" {
		c.ConversationRef = u.ConversationRef
	}
	if u.StartedAt != nil && c.StartedAt == nil {
		t := *u.StartedAt
		c.StartedAt = &t
	}
	c.UpdatedAt = u.At
	r.calls[u.CallID] = c
	return nil
}

func (r *MemoryRepo) UpsertAnswer(_ context.Context, a calls.AnswerRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[a.CallID]; !ok {
		return ErrNotFound
	}
	m := r.answers[a.CallID]
	if m == nil {
		m = map[int]calls.AnswerRecord{}
		r.answers[a.CallID] = m
	}
	m[a.Sequence] = a
	for i := range r.slots[a.CallID] {
		if r.slots[a.CallID][i].Sequence == a.Sequence {
			r.slots[a.CallID][i].State = calls.SlotResolved
		}
	}
	return nil
}

func (r *MemoryRepo) CompleteCall(_ context.Context, call calls.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[call.ID]
	if !ok {
		return ErrNotFound
	}
	c.Status = call.Status
	c.EndedAt = call.EndedAt
	c.DurationSeconds = call.DurationSeconds
	if c.StartedAt == nil {
		c.StartedAt = call.StartedAt
	}
	c.UpdatedAt = call.UpdatedAt
	r.calls[call.ID] = c
	return nil
}

func (r *MemoryRepo) GetCall(_ context.Context, id int64) (calls.Detail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return calls.Detail{}, ErrNotFound
	}
	return calls.Detail{Call: c, Questions: append([]calls.QuestionSlot(nil), r.slots[id]...)}, nil
}

func (r *MemoryRepo) GetAnswers(_ context.Context, callID int64) ([]calls.AnswerRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calls.AnswerRecord, 0, len(r.answers[callID]))
	for _, a := range r.answers[callID] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (r *MemoryRepo) FindCallByReference(_ context.Context, ref string) (int64, error) {
	if ref == "" {
		return 0, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.calls {
		if c.ProviderRef == ref || c.ConversationRef == ref {
			return id, nil
		}
	}
	return 0, ErrNotFound
}

func (r *MemoryRepo) ListCalls(_ context.Context, f ListFilter) ([]calls.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calls.Call, 0)
	for _, c := range r.calls {
		if !f.From.IsZero() && c.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !c.CreatedAt.Before(f.To) {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *MemoryRepo) LastCallID(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var last int64
	for id := range r.calls {
		if id > last {
			last = id
		}
	}
	return last, nil
}
