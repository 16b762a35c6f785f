package callflow

import (
	"context"
	"strings"

	"survey-caller/internal/calls"
	"survey-caller/internal/classifier"
)

type AskEvent struct {
	Identifier string
	// Sequence is the question the caller thinks is current. Informational only.
	Sequence *int
}

// Prompt is what the IVR should say next.
type Prompt struct {
	CallID   int64
	Sequence int
	Total    int
	Text     string
	// Greeting is set on the first question.
	Greeting bool
	// Terminal means there is nothing left to ask; the call is over. Sequence < Total
	// on a terminal prompt means the call ended before the survey did.
	Terminal bool
	// Failed is set when the call already failed.
	Failed bool
}

// AskCurrentQuestion returns the prompt for the current question pointer.
//
// Repeated fetches return the same prompt. Fetching a prompt means the callee picked up,
// so a created or ringing call moves to in_progress. When every question has been passed
// the call is completed and the terminal prompt returned. A call that already ended
// always gets the terminal prompt.
func (e *Engine) AskCurrentQuestion(ctx context.Context, ev AskEvent) (Prompt, error) {
	id, err := e.resolve(ctx, ev.Identifier)
	if err != nil {
		return Prompt{}, err
	}

	unlock := e.locks.lock(id)
	defer unlock()

	st, err := e.load(ctx, id)
	if err != nil {
		return Prompt{}, err
	}
	total := len(st.Slots)
	p := Prompt{CallID: id, Sequence: st.Pointer, Total: total}

	if st.Call.Status.IsTerminal() {
		// Nothing is asked on an ended call, even with questions left.
		p.Terminal, p.Failed = true, st.Call.Status == calls.StatusFailed
		if st.Done() {
			p.Sequence = total
		}
		return p, nil
	}
	if ev.Sequence != nil && *ev.Sequence != st.Pointer {
		e.log.Debug("ask sequence differs from pointer", "call_id", id, "sequence", *ev.Sequence, "pointer", st.Pointer)
	}

	now := e.now()
	answered := false
	if calls.CanTransition(st.Call.Status, calls.StatusInProgress) {
		st.Call.Status = calls.StatusInProgress
		if st.Call.StartedAt == nil {
			t := now
			st.Call.StartedAt = &t
		}
		st.Call.UpdatedAt = now
		answered = true
	}

	if st.Done() {
		p.Sequence = total
		p.Terminal = true
		if !st.Call.Status.IsTerminal() {
			e.finish(ctx, &st, calls.StatusCompleted, nil)
			e.save(ctx, st)
			e.persistCompletion(ctx, st)
			e.log.Info("survey completed", "call_id", id, "answers", len(st.Answers), "duration_seconds", st.Call.DurationSeconds)
		}
		return p, nil
	}

	slot := &st.Slots[st.Pointer]
	p.Text = slot.Text
	p.Greeting = st.Pointer == 0
	if slot.State == calls.SlotPending || slot.State == "" {
		slot.State = calls.SlotAsked
		t := now
		slot.AskedAt = &t
		e.save(ctx, st)
	} else if answered {
		e.save(ctx, st)
	}
	if answered {
		e.persistStatus(ctx, st)
	}
	return p, nil
}

type AnswerEvent struct {
	Identifier string
	// Sequence defaults to the current pointer when nil.
	Sequence           *int
	FreeText           string
	Digits             string
	ProviderConfidence *float64
}

// RecordAnswer classifies one response and upserts it.
//
// No input at all records a timeout. The pointer only advances when the answer is for
// the current question, so retries and late duplicates never skip a question.
func (e *Engine) RecordAnswer(ctx context.Context, ev AnswerEvent) (calls.AnswerRecord, error) {
	id, err := e.resolve(ctx, ev.Identifier)
	if err != nil {
		return calls.AnswerRecord{}, err
	}

	unlock := e.locks.lock(id)
	defer unlock()

	st, err := e.load(ctx, id)
	if err != nil {
		return calls.AnswerRecord{}, err
	}

	seq := st.Pointer
	if ev.Sequence != nil {
		seq = *ev.Sequence
	}
	if seq < 0 || seq >= len(st.Slots) {
		return calls.AnswerRecord{}, ErrSlotOutOfRange
	}

	now := e.now()
	rec := calls.AnswerRecord{CallID: id, Sequence: seq, RecordedAt: now}
	text, digits := strings.TrimSpace(ev.FreeText), strings.TrimSpace(ev.Digits)
	switch {
	case text != "":
		rec.Answer, rec.Confidence = classifier.ClassifySpeech(text, ev.ProviderConfidence)
		rec.RawResponse = ev.FreeText
	case digits != "":
		rec.Answer, rec.Confidence = classifier.FromDigits(digits)
		rec.RawResponse = digits
	default:
		rec.Answer, rec.Confidence = calls.AnswerTimeout, 0
	}

	slot := &st.Slots[seq]
	if slot.AskedAt != nil {
		if d := now.Sub(*slot.AskedAt).Seconds(); d > 0 {
			rec.ResponseTimeSeconds = d
		}
	}
	slot.State = calls.SlotResolved
	st.Answers[seq] = rec
	if seq == st.Pointer {
		st.Pointer++
	}
	st.Call.UpdatedAt = now

	saveErr := e.store(ctx, st)
	e.persistAnswer(ctx, rec)
	if saveErr != nil {
		return rec, saveErr
	}
	e.log.Info("answer recorded", "call_id", id, "sequence", seq, "answer", rec.Answer, "confidence", rec.Confidence)
	return rec, nil
}
