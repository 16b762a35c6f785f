package callflow

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"survey-caller/internal/calls"
	"survey-caller/internal/dispatch"
	"survey-caller/internal/questions"
)

type StartRequest struct {
	PhoneNumber string
	Questions   []string
	// Backend defaults to the engine's default backend when empty.
	Backend calls.Backend
}

var phonePattern = regexp.MustCompile(`^\+[0-9]{7,15}$`)

// NormalizePhone strips common separators and requires a leading + with 7 to 15 digits.
func NormalizePhone(raw string) (string, error) {
	p := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "").Replace(strings.TrimSpace(raw))
	if !phonePattern.MatchString(p) {
		return "", ErrInvalidPhone
	}
	return p, nil
}

// Start validates the request, creates the call and dispatches it.
//
// Validation errors leave no state behind. A dispatch failure (including the dispatch
// timeout) leaves the call failed and is returned wrapped in ErrDispatch together with
// the failed state.
func (e *Engine) Start(ctx context.Context, req StartRequest) (calls.State, error) {
	phone, err := NormalizePhone(req.PhoneNumber)
	if err != nil {
		return calls.State{}, err
	}
	qs := questions.Normalize(req.Questions)
	if len(qs) == 0 {
		return calls.State{}, ErrNoQuestions
	}
	backend := req.Backend
	if backend == "" {
		backend = e.defaultBackend
	}
	d, ok := e.dispatchers.Get(backend)
	if !ok {
		return calls.State{}, fmt.Errorf("%w: %s", ErrUnknownBackend, backend)
	}

	now := e.now()
	st := calls.NewState(calls.Call{
		ID:          e.ids.Next(),
		PhoneNumber: phone,
		Backend:     backend,
		Status:      calls.StatusCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, qs)
	st.ContextText = questions.RenderContext(qs)

	unlock := e.locks.lock(st.Call.ID)
	defer unlock()

	log := e.log.With("call_id", st.Call.ID, "backend", backend)
	e.save(ctx, st)
	if e.records != nil {
		if err := e.records.CreateCall(ctx, st.Call, st.Slots); err != nil {
			log.Warn("durable create failed", "err", err)
		}
	}

	if err := e.acquireCapacity(ctx, &st); err != nil {
		return e.failStart(ctx, st, err)
	}

	dctx, cancel := context.WithTimeout(ctx, e.dispatchTimeout)
	res, err := d.StartCall(dctx, dispatch.Request{
		CallID:      st.Call.ID,
		PhoneNumber: phone,
		Questions:   qs,
		ContextText: st.ContextText,
	})
	cancel()
	if err != nil {
		return e.failStart(ctx, st, err)
	}

	st.Call.ProviderRef = res.ProviderRef
	st.Call.ConversationRef = res.ConversationRef
	st.SessionArtifact = res.SessionArtifact
	st.Call.Status = calls.StatusRinging
	st.Call.UpdatedAt = e.now()
	e.save(ctx, st)
	e.persistStatus(ctx, st)

	log.Info("call dispatched", "provider_ref", res.ProviderRef, "conversation_ref", res.ConversationRef, "questions", len(qs))
	return st, nil
}

func (e *Engine) acquireCapacity(ctx context.Context, st *calls.State) error {
	if e.limiter == nil {
		return nil
	}
	ok, err := e.limiter.Acquire(ctx, st.Call.Backend)
	if err != nil {
		// An unreachable limiter does not block calls.
		e.log.Warn("capacity check failed", "call_id", st.Call.ID, "err", err)
		return nil
	}
	if !ok {
		return dispatch.ErrNoCapacity
	}
	st.CapacityHeld = true
	return nil
}

func (e *Engine) failStart(ctx context.Context, st calls.State, cause error) (calls.State, error) {
	e.finish(ctx, &st, calls.StatusFailed, nil)
	e.save(ctx, st)
	e.persistCompletion(ctx, st)
	e.log.Error("call dispatch failed", "call_id", st.Call.ID, "backend", st.Call.Backend, "err", cause)
	return st, fmt.Errorf("%w: %w", ErrDispatch, cause)
}
